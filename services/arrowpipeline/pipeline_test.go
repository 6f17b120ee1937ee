package arrowpipeline

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"atr-meanrev-backtest/strategies"

	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBars(n int) []strategies.Bar {
	bars := make([]strategies.Bar, n)
	for i := range bars {
		px := decimal.NewFromFloat(2050.25).Add(decimal.NewFromInt(int64(i)))
		bars[i] = strategies.Bar{
			Timestamp: 1704067200000 + int64(i)*900_000,
			Open:      px,
			High:      px.Add(decimal.NewFromFloat(1.5)),
			Low:       px.Sub(decimal.NewFromFloat(0.75)),
			Close:     px.Add(decimal.NewFromFloat(0.5)),
			Volume:    decimal.NewFromInt(int64(100 + i)),
		}
	}
	return bars
}

func TestBarsRoundTrip(t *testing.T) {
	p := NewPipeline(Config{BatchSize: 3}, nil)
	bars := sampleBars(7)

	var buf bytes.Buffer
	require.NoError(t, p.WriteBars(&buf, "XAUUSD", bars))

	symbol, got, err := p.ReadBars(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "XAUUSD", symbol)
	require.Len(t, got, len(bars))
	for i := range bars {
		assert.Equal(t, bars[i].Timestamp, got[i].Timestamp)
		assert.True(t, bars[i].High.Equal(got[i].High), "high %d: %s != %s", i, bars[i].High, got[i].High)
		assert.True(t, bars[i].Close.Equal(got[i].Close))
		assert.True(t, bars[i].Volume.Equal(got[i].Volume))
	}
}

func TestWriteBars_Empty(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, NewPipeline(Config{}, nil).WriteBars(&buf, "XAUUSD", nil), strategies.ErrNoBars)
}

func TestReadBars_RejectsTrace(t *testing.T) {
	p := NewPipeline(Config{}, nil)
	var buf bytes.Buffer
	require.NoError(t, p.WriteTrace(&buf, []strategies.IndicatorTraceEntry{{Timestamp: 1, Signal: "NONE", State: "flat"}}))
	_, _, err := p.ReadBars(&buf)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestWriteTrace_NullsBeforeWarm(t *testing.T) {
	p := NewPipeline(Config{}, nil)
	trace := []strategies.IndicatorTraceEntry{
		{Timestamp: 1, Close: decimal.NewFromInt(100), Signal: "NONE", State: "flat"},
		{Timestamp: 2, Close: decimal.NewFromInt(99), SMA: 100, ATR: 2, Upper: 103, Lower: 97, Signal: "LONG", State: "long"},
	}
	var buf bytes.Buffer
	require.NoError(t, p.WriteTrace(&buf, trace))

	r, err := ipc.NewReader(&buf)
	require.NoError(t, err)
	defer r.Release()
	require.True(t, r.Next())
	rec := r.Record()
	assert.EqualValues(t, 2, rec.NumRows())

	atr := rec.Column(6).(*array.Float64)
	assert.True(t, atr.IsNull(0))
	assert.Equal(t, 2.0, atr.Value(1))
	assert.Equal(t, "LONG", rec.Column(9).(*array.String).Value(1))
	assert.Equal(t, "long", rec.Column(10).(*array.String).Value(1))
}

func TestFileSource(t *testing.T) {
	p := NewPipeline(Config{}, nil)
	path := filepath.Join(t.TempDir(), "bars.arrow")
	require.NoError(t, p.ExportBars(path, "XAUUSD", sampleBars(4)))

	bars, err := FileSource{Path: path}.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, bars, 4)

	_, err = FileSource{Path: filepath.Join(t.TempDir(), "missing.arrow")}.Load(context.Background())
	assert.Error(t, err)
}
