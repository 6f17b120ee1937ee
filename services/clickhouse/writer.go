package clickhouse

import (
	"context"
	"fmt"
	"time"

	"atr-meanrev-backtest/strategies"

	"go.uber.org/zap"
)

const defaultBatchSize = 50_000

// Writer inserts bars into the klines table. Rows are versioned so re-importing the
// same file replaces rather than duplicates (ReplacingMergeTree).
type Writer struct {
	conn      Conn
	database  string
	table     string
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

func NewWriter(conn Conn, cfg Config, batchSize int, logger *zap.Logger) (*Writer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		conn:      conn,
		database:  cfg.Database,
		table:     cfg.Table,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// EnsureSchema creates the database and table when missing.
func (w *Writer) EnsureSchema(ctx context.Context) error {
	if err := w.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", w.database)); err != nil {
		return fmt.Errorf("create database: %s", ExplainError(err))
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			symbol String,
			interval LowCardinality(String),
			open_time_ms UInt64,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			ingested_at DateTime64(3),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, interval, open_time_ms)
		SETTINGS index_granularity = 8192
	`, w.database, w.table)
	if err := w.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table: %s", ExplainError(err))
	}
	return nil
}

// WriteBars inserts bars in batches and returns the number of rows sent.
func (w *Writer) WriteBars(ctx context.Context, symbol, interval string, bars []strategies.Bar) (int, error) {
	insert := fmt.Sprintf("INSERT INTO %s.%s SETTINGS insert_deduplicate=1", w.database, w.table)
	now := w.now().UTC()
	ver := uint64(now.UnixNano())

	sent := 0
	for lo := 0; lo < len(bars); lo += w.batchSize {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		hi := min(lo+w.batchSize, len(bars))

		batch, err := w.conn.PrepareBatch(ctx, insert)
		if err != nil {
			return sent, fmt.Errorf("prepare batch: %s", ExplainError(err))
		}
		for _, b := range bars[lo:hi] {
			if err := batch.Append(
				symbol, interval,
				uint64(b.Timestamp),
				b.Open.InexactFloat64(), b.High.InexactFloat64(), b.Low.InexactFloat64(), b.Close.InexactFloat64(),
				b.Volume.InexactFloat64(),
				now,
				ver,
			); err != nil {
				batch.Abort()
				return sent, fmt.Errorf("batch append: %w", err)
			}
		}
		if err := batch.Send(); err != nil {
			return sent, fmt.Errorf("batch send: %s", ExplainError(err))
		}
		sent += hi - lo
		w.logger.Debug("Sent batch", zap.Int("rows", hi-lo), zap.Int("total", sent))
	}

	w.logger.Info("Installed bars",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("rows", sent),
	)
	return sent, nil
}

// Derive aggregates the src interval of symbol into dst buckets inside ClickHouse.
// Buckets are aligned to the epoch, like strategies.Resample. Re-running replaces rows.
func (w *Writer) Derive(ctx context.Context, symbol, src, dst string, tf time.Duration) error {
	minutes := int(tf / time.Minute)
	if minutes <= 0 || tf%time.Minute != 0 {
		return fmt.Errorf("derive %s: timeframe must be a whole number of minutes", dst)
	}
	q := fmt.Sprintf(`
		INSERT INTO %[1]s.%[2]s SETTINGS insert_deduplicate=1
		SELECT
			symbol,
			? AS interval,
			toUInt64(toUnixTimestamp(start_ts) * 1000) AS open_time_ms,
			argMin(open, src_ms)  AS open,
			max(high)             AS high,
			min(low)              AS low,
			argMax(close, src_ms) AS close,
			sum(volume)           AS volume,
			now64(3)              AS ingested_at,
			toUInt64(toUnixTimestamp64Nano(now64(9))) AS version
		FROM (
			SELECT
				symbol,
				open_time_ms AS src_ms,
				open, high, low, close, volume,
				toStartOfInterval(toDateTime(intDiv(open_time_ms, 1000), 'UTC'), INTERVAL %[3]d MINUTE) AS start_ts
			FROM %[1]s.%[2]s FINAL
			WHERE symbol = ? AND interval = ?
		)
		GROUP BY symbol, start_ts
	`, w.database, w.table, minutes)

	w.logger.Info("Deriving interval",
		zap.String("symbol", symbol),
		zap.String("from", src),
		zap.String("to", dst),
	)
	if err := w.conn.Exec(ctx, q, dst, symbol, src); err != nil {
		return fmt.Errorf("derive %s: %s", dst, ExplainError(err))
	}
	return nil
}
