// Package rpc exposes backtests as the gRPC service meanrev.BacktestService.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"atr-meanrev-backtest/services/api"
	"atr-meanrev-backtest/services/jobstore"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "meanrev.BacktestService"

// RunBacktestRequest mirrors the HTTP request body. Params and Settings are partial
// objects merged over the server defaults.
type RunBacktestRequest struct {
	CSV      string          `json:"csv,omitempty"`
	Path     string          `json:"path,omitempty"`
	Resample string          `json:"resample,omitempty"`
	Params   json.RawMessage `json:"params,omitempty"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

type RunBacktestResponse = api.RunSummary

type GetResultRequest struct {
	JobID string `json:"job_id"`
}

type GetResultResponse struct {
	Job *jobstore.Job `json:"job"`
}

type BacktestServer interface {
	RunBacktest(context.Context, *RunBacktestRequest) (*RunBacktestResponse, error)
	GetResult(context.Context, *GetResultRequest) (*GetResultResponse, error)
}

// Server implements BacktestServer on top of the shared backtest service
type Server struct {
	svc    *api.Service
	logger *zap.Logger
}

func NewServer(svc *api.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, logger: logger}
}

func (s *Server) RunBacktest(ctx context.Context, in *RunBacktestRequest) (*RunBacktestResponse, error) {
	req := s.svc.NewRequest()
	req.CSV, req.Path, req.Resample = in.CSV, in.Path, in.Resample
	if len(in.Params) > 0 {
		if err := json.Unmarshal(in.Params, req.Params); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "params: %v", err)
		}
	}
	if len(in.Settings) > 0 {
		if err := json.Unmarshal(in.Settings, req.Settings); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "settings: %v", err)
		}
	}
	sum, err := s.svc.Run(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return sum, nil
}

func (s *Server) GetResult(ctx context.Context, in *GetResultRequest) (*GetResultResponse, error) {
	if in.JobID == "" {
		return nil, status.Error(codes.InvalidArgument, "job_id is required")
	}
	job, err := s.svc.Job(ctx, in.JobID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetResultResponse{Job: job}, nil
}

func toStatus(err error) error {
	e := api.AsAPIError(err)
	code := codes.Internal
	switch {
	case errors.Is(e, api.ErrInvalidParams), errors.Is(e, api.ErrInvalidData):
		code = codes.InvalidArgument
	case errors.Is(e, api.ErrJobNotFound), errors.Is(e, api.ErrDataNotFound):
		code = codes.NotFound
	case errors.Is(e, api.ErrTimeout):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, e.Error())
}

// Register adds the service to a grpc.Server.
func Register(s *grpc.Server, srv BacktestServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RunBacktest", Handler: runBacktestHandler},
		{MethodName: "GetResult", Handler: getResultHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "meanrev/backtest",
}

func runBacktestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunBacktestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServer).RunBacktest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/RunBacktest"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServer).RunBacktest(ctx, req.(*RunBacktestRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getResultHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetResultRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BacktestServer).GetResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/GetResult"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BacktestServer).GetResult(ctx, req.(*GetResultRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// LoggingInterceptor logs each unary call with its duration and status code.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("gRPC call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(start)),
		)
		return resp, err
	}
}

// Client calls a remote BacktestService
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

func (c *Client) RunBacktest(ctx context.Context, in *RunBacktestRequest, opts ...grpc.CallOption) (*RunBacktestResponse, error) {
	out := new(RunBacktestResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/RunBacktest", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetResult(ctx context.Context, in *GetResultRequest, opts ...grpc.CallOption) (*GetResultResponse, error) {
	out := new(GetResultResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/GetResult", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
