// Package influx loads OHLCV bars stored as InfluxDB points with open/high/low/close/volume
// fields and a ticker tag.
package influx

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"atr-meanrev-backtest/strategies"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// records iterates a Flux result; *api.QueryTableResult satisfies it.
type records interface {
	Next() bool
	Record() *query.FluxRecord
	Err() error
	Close() error
}

type queryFunc func(ctx context.Context, flux string) (records, error)

type Source struct {
	cfg    Config
	ticker string
	start  time.Time
	end    time.Time
	query  queryFunc
	close  func()
	logger *zap.Logger
}

var safeName = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// NewSource creates a client for cfg.URL. Zero start means the last 10 years; zero end
// means now.
func NewSource(cfg Config, ticker string, start, end time.Time, logger *zap.Logger) (*Source, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	queryAPI := client.QueryAPI(cfg.Org)
	s, err := newSource(cfg, ticker, start, end, func(ctx context.Context, flux string) (records, error) {
		return queryAPI.Query(ctx, flux)
	}, logger)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.close = client.Close
	return s, nil
}

func newSource(cfg Config, ticker string, start, end time.Time, q queryFunc, logger *zap.Logger) (*Source, error) {
	for name, v := range map[string]string{"bucket": cfg.Bucket, "measurement": cfg.Measurement, "ticker": ticker} {
		if !safeName.MatchString(v) {
			return nil, fmt.Errorf("influx: invalid %s %q", name, v)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, ticker: ticker, start: start, end: end, query: q, close: func() {}, logger: logger}, nil
}

func (s *Source) flux() string {
	start := s.start
	if start.IsZero() {
		start = time.Now().UTC().AddDate(-10, 0, 0)
	}
	stop := "now()"
	if !s.end.IsZero() {
		stop = s.end.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> filter(fn: (r) => r.ticker == "%s")
		  |> pivot(rowKey:["_time"], columnKey: ["_field"], valueColumn: "_value")
		  |> sort(columns: ["_time"], desc: false)
	`, s.cfg.Bucket, start.UTC().Format(time.RFC3339), stop, s.cfg.Measurement, s.ticker)
}

func (s *Source) Load(ctx context.Context) ([]strategies.Bar, error) {
	result, err := s.query(ctx, s.flux())
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer result.Close()

	var bars []strategies.Bar
	for result.Next() {
		rec := result.Record()
		bar, ok := barFromRecord(rec)
		if !ok {
			s.logger.Debug("Skipping incomplete point", zap.Time("time", rec.Time()))
			continue
		}
		bars = append(bars, bar)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("influx results: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("ticker %s: %w", s.ticker, strategies.ErrNoBars)
	}

	s.logger.Info("Loaded bars from InfluxDB", zap.String("ticker", s.ticker), zap.Int("bars", len(bars)))
	return bars, nil
}

func (s *Source) Close() { s.close() }

func barFromRecord(rec *query.FluxRecord) (strategies.Bar, bool) {
	var vals [4]float64
	for i, key := range [4]string{"open", "high", "low", "close"} {
		v, ok := rec.ValueByKey(key).(float64)
		if !ok || v <= 0 {
			return strategies.Bar{}, false
		}
		vals[i] = v
	}
	vol, _ := rec.ValueByKey("volume").(float64)
	if vol < 0 {
		vol = 0
	}
	return strategies.Bar{
		Timestamp: rec.Time().UnixMilli(),
		Open:      decimal.NewFromFloat(vals[0]),
		High:      decimal.NewFromFloat(vals[1]),
		Low:       decimal.NewFromFloat(vals[2]),
		Close:     decimal.NewFromFloat(vals[3]),
		Volume:    decimal.NewFromFloat(vol),
	}, true
}
