package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"testing"

	"atr-meanrev-backtest/services/api"
	"atr-meanrev-backtest/services/config"
	"atr-meanrev-backtest/services/jobstore"
	"atr-meanrev-backtest/strategies"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func tradeCSV(t *testing.T) string {
	t.Helper()
	bar := func(i int, o, h, l, c float64) strategies.Bar {
		return strategies.Bar{
			Timestamp: 1_704_067_200_000 + int64(i)*900_000,
			Open:      decimal.NewFromFloat(o),
			High:      decimal.NewFromFloat(h),
			Low:       decimal.NewFromFloat(l),
			Close:     decimal.NewFromFloat(c),
		}
	}
	var bars []strategies.Bar
	for i := 0; i < 19; i++ {
		bars = append(bars, bar(i, 100, 101, 99, 100))
	}
	bars = append(bars, bar(19, 98, 99, 96, 98.5), bar(20, 99, 102, 98, 101))
	var buf bytes.Buffer
	require.NoError(t, strategies.WriteBarsCSV(&buf, bars))
	return buf.String()
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	store, err := jobstore.Open("", nil)
	require.NoError(t, err)
	svc := api.NewService(config.Default(), store, nil, nil)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(svc.Logger())))
	Register(srv, NewServer(svc, nil))
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
		store.Close()
	})
	return NewClient(conn)
}

func TestRunAndGet(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	resp, err := c.RunBacktest(ctx, &RunBacktestRequest{
		CSV:    tradeCSV(t),
		Params: json.RawMessage(`{"tp_multiplier": 1.5}`),
	})
	require.NoError(t, err)
	assert.Equal(t, jobstore.StatusCompleted, resp.Status)
	assert.Equal(t, 1, resp.Stats.Trades)

	got, err := c.GetResult(ctx, &GetResultRequest{JobID: resp.JobID})
	require.NoError(t, err)
	require.NotNil(t, got.Job.Result)
	assert.Len(t, got.Job.Result.Trades, 1)
}

func TestStatusCodes(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.RunBacktest(ctx, &RunBacktestRequest{CSV: "datetime,open\n"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.RunBacktest(ctx, &RunBacktestRequest{CSV: tradeCSV(t), Params: json.RawMessage(`{"kc_period": "x"}`)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.GetResult(ctx, &GetResultRequest{JobID: jobstore.NewID()})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.GetResult(ctx, &GetResultRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestToStatus(t *testing.T) {
	assert.Equal(t, codes.DeadlineExceeded, status.Code(toStatus(api.ErrTimeout)))
	assert.Equal(t, codes.Internal, status.Code(toStatus(assert.AnError)))
}
