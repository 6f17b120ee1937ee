// Package arrowpipeline encodes bars and indicator traces as Apache Arrow IPC streams
package arrowpipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"atr-meanrev-backtest/strategies"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds Arrow pipeline configuration
type Config struct {
	BatchSize int `yaml:"batch_size"` // rows per record batch
}

// Pipeline converts between Go bar slices and Arrow record batches
type Pipeline struct {
	config     Config
	memoryPool memory.Allocator
	logger     *zap.Logger
}

var (
	BarSchema = arrow.NewSchema([]arrow.Field{
		{Name: "symbol", Type: arrow.BinaryTypes.String},
		{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
		{Name: "open", Type: arrow.PrimitiveTypes.Float64},
		{Name: "high", Type: arrow.PrimitiveTypes.Float64},
		{Name: "low", Type: arrow.PrimitiveTypes.Float64},
		{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	}, nil)

	TraceSchema = arrow.NewSchema([]arrow.Field{
		{Name: "timestamp", Type: arrow.PrimitiveTypes.Int64},
		{Name: "open", Type: arrow.PrimitiveTypes.Float64},
		{Name: "high", Type: arrow.PrimitiveTypes.Float64},
		{Name: "low", Type: arrow.PrimitiveTypes.Float64},
		{Name: "close", Type: arrow.PrimitiveTypes.Float64},
		{Name: "sma", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "atr", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "upper", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "lower", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "signal", Type: arrow.BinaryTypes.String},
		{Name: "state", Type: arrow.BinaryTypes.String},
	}, nil)
)

var ErrSchemaMismatch = errors.New("arrow schema mismatch")

// NewPipeline creates a new Arrow pipeline
func NewPipeline(config Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 64 * 1024
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:     config,
		memoryPool: memory.NewGoAllocator(),
		logger:     logger,
	}
}

// WriteBars serializes bars as an IPC stream, BatchSize rows per record.
func (p *Pipeline) WriteBars(w io.Writer, symbol string, bars []strategies.Bar) error {
	if len(bars) == 0 {
		return strategies.ErrNoBars
	}
	writer := ipc.NewWriter(w, ipc.WithSchema(BarSchema), ipc.WithAllocator(p.memoryPool))
	b := array.NewRecordBuilder(p.memoryPool, BarSchema)
	defer b.Release()

	for lo := 0; lo < len(bars); lo += p.config.BatchSize {
		hi := min(lo+p.config.BatchSize, len(bars))
		for _, bar := range bars[lo:hi] {
			b.Field(0).(*array.StringBuilder).Append(symbol)
			b.Field(1).(*array.Int64Builder).Append(bar.Timestamp)
			b.Field(2).(*array.Float64Builder).Append(bar.Open.InexactFloat64())
			b.Field(3).(*array.Float64Builder).Append(bar.High.InexactFloat64())
			b.Field(4).(*array.Float64Builder).Append(bar.Low.InexactFloat64())
			b.Field(5).(*array.Float64Builder).Append(bar.Close.InexactFloat64())
			b.Field(6).(*array.Float64Builder).Append(bar.Volume.InexactFloat64())
		}
		if err := p.writeRecord(writer, b); err != nil {
			writer.Close()
			return err
		}
		p.logger.Debug("Wrote Arrow bar batch", zap.Int("rows", hi-lo))
	}
	return writer.Close()
}

// WriteTrace serializes the per-bar indicator trace. Indicators are null until warm.
func (p *Pipeline) WriteTrace(w io.Writer, trace []strategies.IndicatorTraceEntry) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(TraceSchema), ipc.WithAllocator(p.memoryPool))
	b := array.NewRecordBuilder(p.memoryPool, TraceSchema)
	defer b.Release()

	for lo := 0; lo < len(trace); lo += p.config.BatchSize {
		hi := min(lo+p.config.BatchSize, len(trace))
		for _, e := range trace[lo:hi] {
			b.Field(0).(*array.Int64Builder).Append(e.Timestamp)
			b.Field(1).(*array.Float64Builder).Append(e.Open.InexactFloat64())
			b.Field(2).(*array.Float64Builder).Append(e.High.InexactFloat64())
			b.Field(3).(*array.Float64Builder).Append(e.Low.InexactFloat64())
			b.Field(4).(*array.Float64Builder).Append(e.Close.InexactFloat64())
			warm := e.ATR > 0
			for i, v := range [4]float64{e.SMA, e.ATR, e.Upper, e.Lower} {
				fb := b.Field(5 + i).(*array.Float64Builder)
				if warm {
					fb.Append(v)
				} else {
					fb.AppendNull()
				}
			}
			b.Field(9).(*array.StringBuilder).Append(e.Signal)
			b.Field(10).(*array.StringBuilder).Append(e.State)
		}
		if err := p.writeRecord(writer, b); err != nil {
			writer.Close()
			return err
		}
	}
	return writer.Close()
}

func (p *Pipeline) writeRecord(writer *ipc.Writer, b *array.RecordBuilder) error {
	record := b.NewRecord()
	defer record.Release()
	if err := writer.Write(record); err != nil {
		return fmt.Errorf("failed to write Arrow record: %w", err)
	}
	return nil
}

// ReadBars decodes a stream written by WriteBars and returns the symbol and bars.
func (p *Pipeline) ReadBars(r io.Reader) (string, []strategies.Bar, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return "", nil, fmt.Errorf("open Arrow stream: %w", err)
	}
	defer reader.Release()
	if !reader.Schema().Equal(BarSchema) {
		return "", nil, fmt.Errorf("%w: %s", ErrSchemaMismatch, reader.Schema())
	}

	var symbol string
	var bars []strategies.Bar
	for reader.Next() {
		rec := reader.Record()
		syms := rec.Column(0).(*array.String)
		ts := rec.Column(1).(*array.Int64)
		cols := [5]*array.Float64{}
		for i := range cols {
			cols[i] = rec.Column(2 + i).(*array.Float64)
		}
		for i := 0; i < int(rec.NumRows()); i++ {
			if symbol == "" {
				symbol = syms.Value(i)
			}
			bars = append(bars, strategies.Bar{
				Timestamp: ts.Value(i),
				Open:      decimal.NewFromFloat(cols[0].Value(i)),
				High:      decimal.NewFromFloat(cols[1].Value(i)),
				Low:       decimal.NewFromFloat(cols[2].Value(i)),
				Close:     decimal.NewFromFloat(cols[3].Value(i)),
				Volume:    decimal.NewFromFloat(cols[4].Value(i)),
			})
		}
	}
	if err := reader.Err(); err != nil {
		return "", nil, fmt.Errorf("read Arrow stream: %w", err)
	}
	if len(bars) == 0 {
		return "", nil, strategies.ErrNoBars
	}
	return symbol, bars, nil
}

// ExportBars writes bars to an Arrow stream file.
func (p *Pipeline) ExportBars(filename, symbol string, bars []strategies.Bar) error {
	return writeFile(filename, func(w io.Writer) error { return p.WriteBars(w, symbol, bars) })
}

// ExportTrace writes the indicator trace to an Arrow stream file.
func (p *Pipeline) ExportTrace(filename string, trace []strategies.IndicatorTraceEntry) error {
	return writeFile(filename, func(w io.Writer) error { return p.WriteTrace(w, trace) })
}

func writeFile(filename string, fn func(io.Writer) error) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// FileSource loads bars from an Arrow stream file.
type FileSource struct {
	Path     string
	Pipeline *Pipeline
}

func (s FileSource) Load(ctx context.Context) ([]strategies.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	p := s.Pipeline
	if p == nil {
		p = NewPipeline(Config{}, nil)
	}
	symbol, bars, err := p.ReadBars(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Path, err)
	}
	p.logger.Info("Loaded bars from Arrow file",
		zap.String("path", s.Path),
		zap.String("symbol", symbol),
		zap.Int("bars", len(bars)),
	)
	return bars, nil
}
