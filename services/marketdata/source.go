// Package marketdata selects and loads the bar series a backtest runs on.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"atr-meanrev-backtest/services/arrowpipeline"
	"atr-meanrev-backtest/services/clickhouse"
	"atr-meanrev-backtest/services/config"
	"atr-meanrev-backtest/services/influx"
	"atr-meanrev-backtest/strategies"

	"go.uber.org/zap"
)

// Source produces bars in strictly increasing timestamp order
type Source interface {
	Load(ctx context.Context) ([]strategies.Bar, error)
}

var ErrUnsupportedSource = errors.New("unsupported data source")

// CSVSource reads an exported OHLCV file
type CSVSource struct {
	Path   string
	Logger *zap.Logger
}

func (s CSVSource) Load(ctx context.Context) ([]strategies.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bars, err := strategies.LoadCSV(s.Path)
	if err != nil {
		return nil, err
	}
	if s.Logger != nil {
		s.Logger.Info("Loaded CSV",
			zap.String("path", s.Path),
			zap.Int("bars", len(bars)),
			zap.Time("first", bars[0].Time()),
			zap.Time("last", bars[len(bars)-1].Time()),
		)
	}
	return bars, nil
}

// StaticSource serves bars already in memory, e.g. an uploaded CSV
type StaticSource []strategies.Bar

func (s StaticSource) Load(context.Context) ([]strategies.Bar, error) {
	if len(s) == 0 {
		return nil, strategies.ErrNoBars
	}
	return []strategies.Bar(s), nil
}

// Closer is implemented by sources holding a network client
type Closer interface {
	Close()
}

// New builds the source named by cfg.Source. The caller closes it when it implements Closer.
func New(ctx context.Context, cfg config.DataConfig, symbol string, logger *zap.Logger) (Source, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start, end, err := cfg.Window()
	if err != nil {
		return nil, err
	}

	var src Source
	switch cfg.Source {
	case "", "csv":
		src = CSVSource{Path: cfg.Path, Logger: logger}
	case "arrow":
		src = arrowpipeline.FileSource{Path: cfg.Path, Pipeline: arrowpipeline.NewPipeline(arrowpipeline.Config{}, logger)}
	case "clickhouse":
		chCfg := clickhouse.Config{
			Addr:     cfg.ClickHouse.Addr,
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
			Table:    cfg.ClickHouse.Table,
		}
		client, err := clickhouse.Open(ctx, chCfg)
		if err != nil {
			return nil, err
		}
		chSrc, err := clickhouse.NewSource(client, chCfg, symbol, cfg.ClickHouse.Interval, start, end, logger)
		if err != nil {
			client.Close()
			return nil, err
		}
		src = closingSource{Source: chSrc, close: func() { client.Close() }}
	case "influx":
		src, err = influx.NewSource(influx.Config{
			URL:         cfg.Influx.URL,
			Token:       cfg.Influx.Token,
			Org:         cfg.Influx.Org,
			Bucket:      cfg.Influx.Bucket,
			Measurement: cfg.Influx.Measurement,
		}, symbol, start, end, logger)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSource, cfg.Source)
	}

	var tf time.Duration
	if cfg.Resample != "" {
		if tf, err = strategies.ParseTimeframe(cfg.Resample); err != nil {
			return nil, err
		}
	}
	return Prepared{Source: src, Start: start, End: end, Timeframe: tf}, nil
}

type closingSource struct {
	Source
	close func()
}

func (c closingSource) Close() { c.close() }

// Prepared wraps a source with a time window and optional resampling
type Prepared struct {
	Source
	Start     time.Time // inclusive, zero for unbounded
	End       time.Time // exclusive, zero for unbounded
	Timeframe time.Duration
}

func (p Prepared) Load(ctx context.Context) ([]strategies.Bar, error) {
	bars, err := p.Source.Load(ctx)
	if err != nil {
		return nil, err
	}
	bars = Window(bars, p.Start, p.End)
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars in window: %w", strategies.ErrNoBars)
	}
	if p.Timeframe > 0 {
		if bars, err = strategies.Resample(bars, p.Timeframe); err != nil {
			return nil, fmt.Errorf("resample: %w", err)
		}
	}
	return bars, nil
}

func (p Prepared) Close() {
	if c, ok := p.Source.(Closer); ok {
		c.Close()
	}
}

// Window keeps bars with start <= ts < end. Bars must be sorted.
func Window(bars []strategies.Bar, start, end time.Time) []strategies.Bar {
	lo, hi := 0, len(bars)
	if !start.IsZero() {
		ms := start.UnixMilli()
		for lo < hi && bars[lo].Timestamp < ms {
			lo++
		}
	}
	if !end.IsZero() {
		ms := end.UnixMilli()
		for hi > lo && bars[hi-1].Timestamp >= ms {
			hi--
		}
	}
	return bars[lo:hi]
}
