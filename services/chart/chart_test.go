package chart

import (
	"bytes"
	"testing"

	"atr-meanrev-backtest/services/engine"
	"atr-meanrev-backtest/strategies"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResult() *engine.Result {
	res := &engine.Result{Symbol: "XAUUSD"}
	for i := 0; i < 30; i++ {
		ts := int64(1704067200000 + i*900_000)
		e := strategies.IndicatorTraceEntry{
			Timestamp: ts,
			Open:      decimal.NewFromInt(2000),
			High:      decimal.NewFromInt(2003),
			Low:       decimal.NewFromInt(1998),
			Close:     decimal.NewFromInt(2001),
			Signal:    "NONE",
			State:     "flat",
		}
		if i >= 19 {
			e.SMA, e.ATR, e.Upper, e.Lower = 2000, 4, 2006, 1994
		}
		res.Trace = append(res.Trace, e)
		res.Equity = append(res.Equity, engine.EquityPoint{Timestamp: ts, Equity: decimal.NewFromInt(100000)})
	}
	res.Trades = []strategies.Trade{{
		Side:       strategies.SideLong,
		EntryTime:  res.Trace[20].Timestamp,
		ExitTime:   res.Trace[22].Timestamp,
		EntryPrice: decimal.NewFromInt(2001),
		ExitPrice:  decimal.NewFromInt(2007),
		ExitReason: strategies.ExitTakeProfit,
	}}
	return res
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, testResult(), Options{}))
	html := buf.String()
	assert.Contains(t, html, "XAUUSD Keltner mean reversion")
	assert.Contains(t, html, "Upper band")
	assert.Contains(t, html, "Long entry")
	assert.Contains(t, html, "Equity")
}

func TestRender_MaxBars(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, testResult(), Options{Title: "tail", MaxBars: 5}))
	assert.NotContains(t, buf.String(), "2024-01-01 00:00")
	assert.Contains(t, buf.String(), "tail")
}

func TestRender_NeedsTrace(t *testing.T) {
	var buf bytes.Buffer
	assert.ErrorIs(t, Render(&buf, &engine.Result{Symbol: "XAUUSD"}, Options{}), ErrNoTrace)
}
