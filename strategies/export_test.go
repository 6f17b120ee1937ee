package strategies

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrades() []Trade {
	return []Trade{
		{Side: SideLong, EntryTime: testBaseMs, ExitTime: testBaseMs + 3_600_000, EntryPrice: d(1825), ExitPrice: d(1832.5),
			Size: d(40), PnL: d(300), ExitReason: ExitTakeProfit, BarsHeld: 4},
		{Side: SideShort, EntryTime: testBaseMs + 7_200_000, ExitTime: testBaseMs + 10_800_000, EntryPrice: d(1840), ExitPrice: d(1845),
			Size: d(40), PnL: d(-200), ExitReason: ExitStopLoss, BarsHeld: 4},
		{Side: SideLong, EntryTime: testBaseMs + 14_400_000, ExitTime: testBaseMs + 18_000_000, EntryPrice: d(1830), ExitPrice: d(1826),
			Size: d(40), PnL: d(-160), ExitReason: ExitStopLoss, BarsHeld: 4},
	}
}

func TestSummarizeTrades(t *testing.T) {
	s := SummarizeTrades(sampleTrades())
	assert.Equal(t, 3, s.TotalTrades)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.True(t, s.NetPnl.Equal(d(-60)))
	assert.True(t, s.ProfitFactor.Equal(d(300).Div(d(360))))
	assert.True(t, s.AvgHoldingTimeHours.Equal(d(1)))
	assert.Equal(t, 1, s.MaxConsecutiveTP)
	assert.Equal(t, 2, s.MaxConsecutiveSL)
	assert.True(t, s.Expectancy.LessThan(d(0)))

	assert.Equal(t, TradeSummary{}, SummarizeTrades(nil))
}

func TestWriteTradesCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, "XAUUSD", sampleTrades()))

	r := csv.NewReader(strings.NewReader(buf.String()))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, "type", rows[0][0])
	assert.Equal(t, "Long", rows[1][0])
	assert.Equal(t, "2024-01-01T00:00:00.000Z", rows[1][1])
	assert.Equal(t, "take_profit", rows[1][5])
	assert.Equal(t, "XAUUSD", rows[1][10])
	assert.Contains(t, buf.String(), "# Summary")
	assert.Contains(t, buf.String(), "total_trades,3")
}

func TestWriteIndicatorTraceCSV(t *testing.T) {
	traces := []IndicatorTraceEntry{{
		Timestamp: testBaseMs, Open: d(1), High: d(2), Low: d(0.5), Close: d(1.5),
		SMA: 1.25, ATR: 0.5, Upper: 2, Lower: 0.5, Signal: "NONE", State: "flat",
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteIndicatorTraceCSV(&buf, traces))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "1704067200000,1,2,0.5,1.5,1.250000,0.500000,2.000000,0.500000,NONE,flat", lines[1])
}
