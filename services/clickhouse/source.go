package clickhouse

import (
	"context"
	"fmt"
	"time"

	"atr-meanrev-backtest/strategies"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Source loads one symbol/interval series ordered by open time
type Source struct {
	conn     Conn
	database string
	table    string
	symbol   string
	interval string
	start    time.Time
	end      time.Time
	logger   *zap.Logger
}

func NewSource(conn Conn, cfg Config, symbol, interval string, start, end time.Time, logger *zap.Logger) (*Source, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		conn:     conn,
		database: cfg.Database,
		table:    cfg.Table,
		symbol:   symbol,
		interval: interval,
		start:    start,
		end:      end,
		logger:   logger,
	}, nil
}

func (s *Source) query() (string, []any) {
	q := fmt.Sprintf(`SELECT open_time_ms, open, high, low, close, volume
		FROM %s.%s FINAL
		WHERE symbol = ? AND interval = ? AND open_time_ms >= ? AND open_time_ms < ?
		ORDER BY open_time_ms`, s.database, s.table)

	from := uint64(0)
	if !s.start.IsZero() {
		from = uint64(s.start.UnixMilli())
	}
	to := uint64(1<<63 - 1)
	if !s.end.IsZero() {
		to = uint64(s.end.UnixMilli())
	}
	return q, []any{s.symbol, s.interval, from, to}
}

func (s *Source) Load(ctx context.Context) ([]strategies.Bar, error) {
	q, args := s.query()
	rows, err := s.conn.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query bars: %s", ExplainError(err))
	}
	defer rows.Close()

	var bars []strategies.Bar
	for rows.Next() {
		var openMs uint64
		var open, high, low, closep, volume float64
		if err := rows.Scan(&openMs, &open, &high, &low, &closep, &volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, strategies.Bar{
			Timestamp: int64(openMs),
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(high),
			Low:       decimal.NewFromFloat(low),
			Close:     decimal.NewFromFloat(closep),
			Volume:    decimal.NewFromFloat(volume),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s %s: %w", s.symbol, s.interval, strategies.ErrNoBars)
	}

	s.logger.Info("Loaded bars from ClickHouse",
		zap.String("symbol", s.symbol),
		zap.String("interval", s.interval),
		zap.Int("bars", len(bars)),
	)
	return bars, nil
}
