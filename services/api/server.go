package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "1.0.0"

// NewRouter builds the gin engine with all routes mounted.
func NewRouter(s *Service) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	r.MaxMultipartMemory = s.cfg.Server.MaxUploadBytes
	s.SetupRoutes(r)
	return r
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktestRequest)
		api.GET("/backtest", s.handleListJobs)
		api.GET("/backtest/:job_id", s.handleGetBacktestResult)
		api.DELETE("/backtest/:job_id", s.handleDeleteBacktest)
		api.GET("/backtest/:job_id/stream", s.handleStream)
		api.GET("/health", s.handleHealthCheck)
	}
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func abortWithError(c *gin.Context, err error) {
	apiErr := AsAPIError(err)
	c.AbortWithStatusJSON(apiErr.HTTPStatus(), gin.H{"error": apiErr})
}

func (s *Service) handleBacktestRequest(c *gin.Context) {
	if limit := s.cfg.Server.MaxUploadBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	req := s.NewRequest()
	if err := c.ShouldBindJSON(req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": ErrInvalidData.WithDetails(err)})
			return
		}
		abortWithError(c, ErrInvalidParams.WithDetails(err))
		return
	}

	summary, err := s.Run(c.Request.Context(), req)
	if err != nil {
		s.logger.Warn("Backtest request failed", zap.Error(err))
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Service) handleGetBacktestResult(c *gin.Context) {
	job, err := s.Job(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Service) handleDeleteBacktest(c *gin.Context) {
	if err := s.DeleteJob(c.Request.Context(), c.Param("job_id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Service) handleListJobs(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		abortWithError(c, ErrInvalidParams.WithDetails(errors.New("limit must be a non-negative integer")))
		return
	}
	jobs, err := s.Jobs(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Service) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   version,
	})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamMessage is one websocket frame of a job stream
type StreamMessage struct {
	Type  string `json:"type"` // "trade" or "summary"
	Index int    `json:"index,omitempty"`
	Data  any    `json:"data"`
}

// handleStream replays a stored job's trades one message each, then the summary.
func (s *Service) handleStream(c *gin.Context) {
	job, err := s.Job(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("Failed to upgrade websocket", zap.Error(err))
		return
	}
	defer ws.Close()

	send := func(m StreamMessage) bool {
		ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteJSON(m); err != nil {
			s.logger.Debug("Websocket client gone", zap.String("job_id", job.ID), zap.Error(err))
			return false
		}
		return true
	}

	if job.Result != nil {
		for i, t := range job.Result.Trades {
			if !send(StreamMessage{Type: "trade", Index: i + 1, Data: t}) {
				return
			}
		}
		if !send(StreamMessage{Type: "summary", Data: job.Result.Stats}) {
			return
		}
	} else if !send(StreamMessage{Type: "summary", Data: gin.H{"status": job.Status, "error": job.Error}}) {
		return
	}
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(time.Second))
}
