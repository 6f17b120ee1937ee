package strategies

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseMs = int64(1_704_067_200_000) // 2024-01-01T00:00:00Z

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func mkBar(i int, o, h, l, c float64) Bar {
	return Bar{
		Timestamp: testBaseMs + int64(i)*15*60*1000,
		Open:      d(o),
		High:      d(h),
		Low:       d(l),
		Close:     d(c),
		Volume:    d(1),
	}
}

// flatBars returns n bars with close 100 and a true range of 2.
func flatBars(n int) []Bar {
	bars := make([]Bar, n)
	for i := range bars {
		bars[i] = mkBar(i, 100, 101, 99, 100)
	}
	return bars
}

func newTestGenerator(t *testing.T, p Params, equity float64) *Generator {
	t.Helper()
	g, err := NewGenerator(p, FixedAccount(d(equity)), nil)
	require.NoError(t, err)
	return g
}

func feed(g *Generator, bars []Bar) []Signal {
	out := make([]Signal, 0, len(bars))
	for _, b := range bars {
		out = append(out, g.Update(b))
	}
	return out
}

func TestGenerator_NoEntryDuringWarmup(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)

	// A long setup on the 19th bar cannot fire because the SMA window is not full.
	bars := append(flatBars(18), mkBar(18, 98, 99, 90, 98.5))
	for i, sig := range feed(g, bars) {
		assert.Equal(t, SignalNone, sig.Kind, "bar %d", i)
		assert.Equal(t, SkipWarmup, sig.Skip, "bar %d", i)
		assert.False(t, sig.Indicators.Ready)
	}
	assert.Equal(t, StateFlat, g.State())
}

func TestGenerator_LongEntry(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)
	sigs := feed(g, append(flatBars(19), mkBar(19, 98, 99, 96, 98.5)))

	sig := sigs[19]
	require.Equal(t, SignalLong, sig.Kind)
	require.True(t, sig.Indicators.Ready)
	assert.Equal(t, StateLongOpen, sig.State)
	assert.True(t, sig.EntryPrice.Equal(d(98.5)))

	atr := d(sig.Indicators.ATR)
	assert.True(t, sig.StopLoss.Equal(d(98.5).Sub(atr)))
	assert.True(t, sig.TakeProfit.Equal(d(98.5).Add(atr.Mul(d(1.5)))))

	// 10000 × 0.02 / ATR(≈2.142857) ≈ 93.3, floored
	assert.True(t, sig.Size.Equal(decimal.NewFromInt(93)), "size %s", sig.Size)

	pos, ok := g.Position()
	require.True(t, ok)
	assert.Equal(t, SideLong, pos.Side)
	assert.Equal(t, 19, pos.EntryBarIndex)
}

func TestGenerator_ShortEntry(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)
	sigs := feed(g, append(flatBars(19), mkBar(19, 102, 104, 101, 101.5)))

	sig := sigs[19]
	require.Equal(t, SignalShort, sig.Kind)
	assert.Equal(t, StateShortOpen, g.State())
	assert.True(t, sig.StopLoss.GreaterThan(sig.EntryPrice))
	assert.True(t, sig.TakeProfit.LessThan(sig.EntryPrice))
}

func TestGenerator_NoEntryWithoutReversalCandle(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)
	// Low pokes below the band but the candle closes bearish.
	sigs := feed(g, append(flatBars(19), mkBar(19, 98.5, 99, 96, 98)))
	assert.Equal(t, SignalNone, sigs[19].Kind)
	assert.Equal(t, StateFlat, g.State())
}

func TestGenerator_NoNewEntryWhileOpen(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)
	bars := append(flatBars(19), mkBar(19, 98, 99, 96, 98.5))
	// Still a long setup, but above the stop and below the target.
	bars = append(bars, mkBar(20, 98, 99, 96.5, 98.6))
	sigs := feed(g, bars)

	require.Equal(t, SignalLong, sigs[19].Kind)
	assert.Equal(t, SignalNone, sigs[20].Kind)
	assert.Equal(t, StateLongOpen, sigs[20].State)
	assert.Less(t, sigs[20].Indicators.Lower, 96.6)
}

func TestGenerator_StopWinsSameBarTie(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)
	bars := append(flatBars(19), mkBar(19, 98, 99, 96, 98.5))
	// Doji, so the bar is not itself an entry setup.
	bars = append(bars, mkBar(20, 99, 110, 90, 99))
	sigs := feed(g, bars)

	exit := sigs[20]
	require.Equal(t, SignalExit, exit.Kind)
	assert.Equal(t, ExitStopLoss, exit.ExitReason)
	require.NotNil(t, exit.Closed)
	assert.True(t, exit.ExitPrice.Equal(exit.Closed.StopLoss))
	assert.Equal(t, StateFlat, g.State())
}

func TestGenerator_TakeProfitExit(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)
	bars := append(flatBars(19), mkBar(19, 98, 99, 96, 98.5))
	bars = append(bars, mkBar(20, 99, 102, 98, 101))
	sigs := feed(g, bars)

	exit := sigs[20]
	require.Equal(t, SignalExit, exit.Kind)
	assert.Equal(t, ExitTakeProfit, exit.ExitReason)
	assert.True(t, exit.ExitPrice.Equal(exit.Closed.TakeProfit))
}

func TestGenerator_GapThroughStopFillsAtOpen(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)
	bars := append(flatBars(19), mkBar(19, 98, 99, 96, 98.5))
	bars = append(bars, mkBar(20, 95, 96, 94, 95))
	sigs := feed(g, bars)

	exit := sigs[20]
	require.Equal(t, SignalExit, exit.Kind)
	assert.Equal(t, ExitStopLoss, exit.ExitReason)
	assert.True(t, exit.ExitPrice.Equal(d(95)))
}

func TestGenerator_ReentersOnExitBar(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)
	bars := append(flatBars(19), mkBar(19, 98, 99, 96, 98.5))
	// Hits the stop and is itself a long setup.
	bars = append(bars, mkBar(20, 96.2, 97.5, 90, 97))
	sigs := feed(g, bars)

	sig := sigs[20]
	require.True(t, sig.Exited())
	assert.Equal(t, ExitStopLoss, sig.ExitReason)
	assert.Equal(t, 19, sig.Closed.EntryBarIndex)

	require.Equal(t, SignalLong, sig.Kind)
	assert.True(t, sig.Filled)
	assert.True(t, sig.EntryPrice.Equal(d(97)))
	assert.Equal(t, StateLongOpen, sig.State)

	pos, ok := g.Position()
	require.True(t, ok)
	assert.Equal(t, 20, pos.EntryBarIndex)
}

// recordingLedger books fills with a fixed equity and can refuse entries.
type recordingLedger struct {
	equity decimal.Decimal
	refuse bool
	events []string
}

func (l *recordingLedger) Equity() decimal.Decimal { return l.equity }

func (l *recordingLedger) Opened(pos Position) bool {
	if l.refuse {
		l.events = append(l.events, "refused")
		return false
	}
	l.events = append(l.events, "open "+string(pos.Side))
	return true
}

func (l *recordingLedger) Closed(pos Position, price decimal.Decimal, reason ExitReason, _ int64, _ int) {
	l.equity = l.equity.Add(price.Sub(pos.EntryPrice).Mul(pos.Size))
	l.events = append(l.events, "close "+string(reason))
}

func TestGenerator_LedgerBooksExitBeforeReentry(t *testing.T) {
	ledger := &recordingLedger{equity: d(10000)}
	g, err := NewGenerator(DefaultParams(), ledger, nil)
	require.NoError(t, err)

	bars := append(flatBars(19), mkBar(19, 98, 99, 96, 98.5), mkBar(20, 96.2, 97.5, 90, 97))
	sigs := feed(g, bars)

	assert.Equal(t, []string{"open long", "close stop_loss", "open long"}, ledger.events)

	// The re-entry is sized on the equity left after the stop.
	atr := d(sigs[20].Indicators.ATR)
	want, err := SizePosition(ledger.equity, d(97), d(97).Sub(atr), d(0.02))
	require.NoError(t, err)
	assert.True(t, sigs[20].Size.Equal(want.Floor()), "size %s want %s", sigs[20].Size, want.Floor())
}

func TestGenerator_LedgerRefusesEntry(t *testing.T) {
	ledger := &recordingLedger{equity: d(10000), refuse: true}
	g, err := NewGenerator(DefaultParams(), ledger, nil)
	require.NoError(t, err)

	sigs := feed(g, append(flatBars(19), mkBar(19, 98, 99, 96, 98.5)))
	assert.Equal(t, SignalNone, sigs[19].Kind)
	assert.Equal(t, SkipRejected, sigs[19].Skip)
	assert.False(t, sigs[19].Filled)
	assert.Equal(t, StateFlat, g.State())
	assert.Equal(t, []string{"refused"}, ledger.events)
}

// fixedBands reports a ready channel with constant values.
type fixedBands struct{ st IndicatorState }

func (f fixedBands) Add(Bar) IndicatorState { return f.st }

func TestGenerator_DegenerateATRSkipsEntry(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)
	g.channel = fixedBands{st: IndicatorState{SMA: 100, Upper: 100, Lower: 100, Ready: true}}

	sig := g.Update(mkBar(0, 98, 99, 96, 98.5))
	assert.Equal(t, SignalNone, sig.Kind)
	assert.Equal(t, SkipDegenerateATR, sig.Skip)
	assert.Equal(t, StateFlat, g.State())
}

func TestGenerator_ZeroEquitySkipsEntry(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 0)
	sigs := feed(g, append(flatBars(19), mkBar(19, 98, 99, 96, 98.5)))
	assert.Equal(t, SignalNone, sigs[19].Kind)
	assert.Equal(t, SkipZeroSize, sigs[19].Skip)
	assert.Equal(t, StateFlat, g.State())
}

func TestGenerator_NextOpenEntry(t *testing.T) {
	p := DefaultParams()
	p.EntryMode = EntryModeNextBarOpen
	g := newTestGenerator(t, p, 10000)

	bars := append(flatBars(19), mkBar(19, 98, 99, 96, 98.5))
	bars = append(bars, mkBar(20, 98.7, 99.5, 98.2, 99))
	sigs := feed(g, bars)

	require.Equal(t, SignalLong, sigs[19].Kind)
	assert.True(t, sigs[19].Pending)
	assert.Equal(t, StateFlat, sigs[19].State)

	fill := sigs[20]
	assert.Equal(t, SignalLong, fill.Kind)
	assert.False(t, fill.Pending)
	assert.Equal(t, StateLongOpen, fill.State)
	assert.True(t, fill.EntryPrice.Equal(d(98.7)))

	pos, ok := g.Position()
	require.True(t, ok)
	assert.Equal(t, 20, pos.EntryBarIndex)
	assert.True(t, pos.StopLoss.Equal(sigs[19].StopLoss))
}

func TestGenerator_CloseAtEndOfData(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)
	bars := append(flatBars(19), mkBar(19, 98, 99, 96, 98.5))
	last := mkBar(20, 98.5, 99, 98, 98.8)
	bars = append(bars, last)
	feed(g, bars)

	sig, ok := g.Close(last, ExitEndOfData)
	require.True(t, ok)
	assert.Equal(t, SignalExit, sig.Kind)
	assert.Equal(t, ExitEndOfData, sig.ExitReason)
	assert.True(t, sig.ExitPrice.Equal(d(98.8)))

	_, ok = g.Close(last, ExitEndOfData)
	assert.False(t, ok)
}

func TestGenerator_Deterministic(t *testing.T) {
	bars := randomWalk(500, 42)
	run := func() []Signal {
		g := newTestGenerator(t, DefaultParams(), 10000)
		return feed(g, bars)
	}
	first, second := run(), run()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Kind, second[i].Kind, "bar %d", i)
		assert.True(t, first[i].Size.Equal(second[i].Size), "bar %d", i)
		assert.True(t, first[i].ExitPrice.Equal(second[i].ExitPrice), "bar %d", i)
	}
}

func TestGenerator_StateNeverBothSides(t *testing.T) {
	g := newTestGenerator(t, DefaultParams(), 10000)
	entries := 0
	for _, sig := range feed(g, randomWalk(2000, 7)) {
		if sig.Kind == SignalLong || sig.Kind == SignalShort {
			entries++
			assert.NotEqual(t, StateFlat, sig.State)
		}
		if sig.Kind == SignalExit {
			assert.Equal(t, StateFlat, sig.State)
		}
	}
	assert.Positive(t, entries)
}

func TestSizePosition(t *testing.T) {
	size, err := SizePosition(d(10000), d(1825), d(1820), d(0.02))
	require.NoError(t, err)
	assert.True(t, size.Equal(d(40)), "size %s", size)

	size, err = SizePosition(d(10000), d(1825), d(1825), d(0.02))
	assert.ErrorIs(t, err, ErrDegenerateRisk)
	assert.True(t, size.IsZero())
}

func TestExitLevels(t *testing.T) {
	sl, tp := ExitLevels(SideLong, d(1825), d(5), DefaultParams())
	assert.True(t, sl.Equal(d(1820)), "sl %s", sl)
	assert.True(t, tp.Equal(d(1832.5)), "tp %s", tp)

	sl, tp = ExitLevels(SideShort, d(1825), d(5), DefaultParams())
	assert.True(t, sl.Equal(d(1830)))
	assert.True(t, tp.Equal(d(1817.5)))
}

func TestParams_Validate(t *testing.T) {
	require.NoError(t, DefaultParams().Validate())

	p := DefaultParams()
	p.KcPeriod = 0
	assert.Error(t, p.Validate())

	p = DefaultParams()
	p.RiskPerTrade = d(1.5)
	assert.Error(t, p.Validate())

	_, err := NewGenerator(p, nil, nil)
	assert.Error(t, err)
}

func TestParseEntryMode(t *testing.T) {
	m, err := ParseEntryMode("next-open")
	require.NoError(t, err)
	assert.Equal(t, EntryModeNextBarOpen, m)

	m, err = ParseEntryMode("")
	require.NoError(t, err)
	assert.Equal(t, EntryModeSignalClose, m)

	_, err = ParseEntryMode("market")
	assert.Error(t, err)
}

func randomWalk(n int, seed int64) []Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]Bar, n)
	price := 1900.0
	for i := range bars {
		open := price
		close := open + rng.NormFloat64()*3
		high := max(open, close) + rng.Float64()*4
		low := min(open, close) - rng.Float64()*4
		bars[i] = mkBar(i, round2(open), round2(high), round2(low), round2(close))
		price = close
	}
	return bars
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
