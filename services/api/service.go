// Package api runs backtests on request, stores them and serves them over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"atr-meanrev-backtest/services/config"
	"atr-meanrev-backtest/services/engine"
	"atr-meanrev-backtest/services/jobstore"
	"atr-meanrev-backtest/services/marketdata"
	"atr-meanrev-backtest/strategies"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// RunRequest starts one backtest. Exactly one of CSV and Path is set. Params and Settings
// fields left out keep the server defaults.
type RunRequest struct {
	CSV      string                 `json:"csv" validate:"required_without=Path,excluded_with=Path"`
	Path     string                 `json:"path"`
	Resample string                 `json:"resample"`
	Params   *config.StrategyConfig `json:"params" validate:"required"`
	Settings *config.BacktestConfig `json:"settings" validate:"required"`
}

// RunSummary is the compact answer to a run request
type RunSummary struct {
	JobID  string          `json:"job_id"`
	Status jobstore.Status `json:"status"`
	Bars   int             `json:"bars"`
	Stats  engine.Stats    `json:"summary"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type Service struct {
	cfg     config.Config
	store   *jobstore.Store
	metrics *Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(cfg config.Config, store *jobstore.Store, metrics *Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Service{cfg: cfg, store: store, metrics: metrics, logger: logger, now: time.Now}
}

// NewRequest returns a request pre-filled with the server defaults, ready for decoding.
func (s *Service) NewRequest() *RunRequest {
	p, b := s.cfg.Strategy, s.cfg.Backtest
	return &RunRequest{Params: &p, Settings: &b}
}

// Run executes the request synchronously and stores the job. Validation and data errors
// are returned without storing anything; failures during the replay are stored as failed jobs.
func (s *Service) Run(ctx context.Context, req *RunRequest) (*RunSummary, error) {
	started := s.now()
	if err := validate.Struct(req); err != nil {
		return nil, ErrInvalidParams.WithDetails(err)
	}
	params, err := req.Params.Params()
	if err != nil {
		return nil, ErrInvalidParams.WithDetails(err)
	}
	settings := req.Settings.Settings()
	if err := settings.Validate(); err != nil {
		return nil, ErrInvalidParams.WithDetails(err)
	}

	src, origin, err := s.source(req)
	if err != nil {
		return nil, err
	}
	if s.cfg.Server.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Server.RunTimeout)
		defer cancel()
	}

	bars, err := src.Load(ctx)
	if err != nil {
		s.metrics.observeRun("invalid", s.now().Sub(started).Seconds(), 0, 0)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout.WithDetails(err)
		}
		return nil, ErrInvalidData.WithDetails(err)
	}

	job := &jobstore.Job{ID: jobstore.NewID(), CreatedAt: started.UTC(), Source: origin}
	logger := s.logger.With(zap.String("job_id", job.ID))
	logger.Info("Starting backtest", zap.String("source", origin), zap.Int("bars", len(bars)))

	bt, err := engine.NewBacktest(params, settings, logger)
	if err != nil {
		return nil, ErrInvalidParams.WithDetails(err)
	}
	res, runErr := bt.Run(ctx, bars)
	job.FinishedAt = s.now().UTC()
	elapsed := job.FinishedAt.Sub(started).Seconds()

	if runErr != nil {
		job.Status, job.Error = jobstore.StatusFailed, runErr.Error()
		s.metrics.observeRun(string(jobstore.StatusFailed), elapsed, len(bars), 0)
		if err := s.store.Put(ctx, job); err != nil {
			logger.Error("Failed to store job", zap.Error(err))
		}
		if errors.Is(runErr, context.DeadlineExceeded) {
			return nil, ErrTimeout.WithDetails(runErr)
		}
		return nil, ErrExecutionFailed.WithDetails(runErr)
	}

	job.Status, job.Result = jobstore.StatusCompleted, res
	s.metrics.observeRun(string(jobstore.StatusCompleted), elapsed, len(bars), len(res.Trades))
	if err := s.store.Put(context.WithoutCancel(ctx), job); err != nil {
		return nil, ErrExecutionFailed.WithDetails(fmt.Errorf("store result: %w", err))
	}

	logger.Info("Backtest stored",
		zap.Int("trades", len(res.Trades)),
		zap.Float64("return_pct", res.Stats.ReturnPct),
		zap.Duration("elapsed", job.FinishedAt.Sub(started)),
	)
	return &RunSummary{JobID: job.ID, Status: job.Status, Bars: len(bars), Stats: res.Stats}, nil
}

func (s *Service) source(req *RunRequest) (marketdata.Source, string, error) {
	var tf time.Duration
	if req.Resample != "" {
		var err error
		if tf, err = strategies.ParseTimeframe(req.Resample); err != nil {
			return nil, "", ErrInvalidParams.WithDetails(err)
		}
	}

	if req.CSV != "" {
		bars, err := strategies.ParseCSV(strings.NewReader(req.CSV))
		if err != nil {
			return nil, "", ErrInvalidData.WithDetails(err)
		}
		return marketdata.Prepared{Source: marketdata.StaticSource(bars), Timeframe: tf}, "upload", nil
	}

	path, err := s.resolvePath(req.Path)
	if err != nil {
		return nil, "", err
	}
	return marketdata.Prepared{Source: marketdata.CSVSource{Path: path}, Timeframe: tf}, req.Path, nil
}

// resolvePath confines server-side files to the configured data directory.
func (s *Service) resolvePath(p string) (string, error) {
	root := s.cfg.Server.DataDir
	if root == "" {
		return "", ErrInvalidParams.WithDetails(errors.New("server-side paths are disabled"))
	}
	full := filepath.Join(root, filepath.Clean("/"+p))
	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidParams.WithDetails(fmt.Errorf("path %q outside data directory", p))
	}
	return full, nil
}

// Job loads a stored job.
func (s *Service) Job(ctx context.Context, id string) (*jobstore.Job, error) {
	job, err := s.store.Get(ctx, id)
	if errors.Is(err, jobstore.ErrJobNotFound) {
		return nil, ErrJobNotFound.WithDetails(err)
	}
	if err != nil {
		return nil, ErrExecutionFailed.WithDetails(err)
	}
	return job, nil
}

// DeleteJob removes a stored job.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	err := s.store.Delete(ctx, id)
	if errors.Is(err, jobstore.ErrJobNotFound) {
		return ErrJobNotFound.WithDetails(err)
	}
	if err != nil {
		return ErrExecutionFailed.WithDetails(err)
	}
	s.logger.Info("Deleted job", zap.String("job_id", id))
	return nil
}

func (s *Service) Jobs(ctx context.Context, limit int) ([]jobstore.Job, error) {
	jobs, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, ErrExecutionFailed.WithDetails(err)
	}
	return jobs, nil
}

func (s *Service) Logger() *zap.Logger { return s.logger }
