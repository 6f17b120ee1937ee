package engine

import (
	"context"
	"fmt"

	"atr-meanrev-backtest/strategies"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Settings are the account-level backtest inputs
type Settings struct {
	Cash        decimal.Decimal `json:"cash"`
	Commission  decimal.Decimal `json:"commission"`
	Symbol      string          `json:"symbol"`
	RecordTrace bool            `json:"-"`
}

func DefaultSettings() Settings {
	return Settings{
		Cash:       decimal.NewFromInt(100_000),
		Commission: decimal.NewFromFloat(0.002),
		Symbol:     "XAUUSD",
	}
}

func (s Settings) Validate() error {
	if s.Cash.Sign() <= 0 {
		return fmt.Errorf("cash must be positive: %s", s.Cash)
	}
	if s.Commission.Sign() < 0 || s.Commission.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission must be in [0,1): %s", s.Commission)
	}
	return nil
}

// EquityPoint is the marked-to-market equity after a bar
type EquityPoint struct {
	Timestamp   int64           `json:"ts"`
	Equity      decimal.Decimal `json:"equity"`
	DrawdownPct float64         `json:"drawdown_pct"`
}

// Result is everything a single backtest produces
type Result struct {
	Symbol   string                           `json:"symbol"`
	Params   strategies.Params                `json:"params"`
	Settings Settings                         `json:"settings"`
	Bars     int                              `json:"bars"`
	Trades   []strategies.Trade               `json:"trades"`
	Equity   []EquityPoint                    `json:"equity,omitempty"`
	Stats    Stats                            `json:"stats"`
	Events   []Event                          `json:"events,omitempty"`
	Trace    []strategies.IndicatorTraceEntry `json:"-"`
}

// Backtest replays bars through the signal generator with cash and commission accounting.
// A Backtest holds no per-run state and may be reused.
type Backtest struct {
	params   strategies.Params
	settings Settings
	fees     FeeModel
	logger   *zap.Logger
}

func NewBacktest(p strategies.Params, s Settings, logger *zap.Logger) (*Backtest, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtest{
		params:   p,
		settings: s,
		fees:     FixedFeeModel{Rate: s.Commission},
		logger:   logger,
	}, nil
}

type openPosition struct {
	strategies.Position
	entryFee decimal.Decimal
}

// replay is the mutable state of one run. It is the generator's Account and Ledger.
type replay struct {
	bt  *Backtest
	log EventLog

	cash      decimal.Decimal
	lastClose decimal.Decimal
	peak      decimal.Decimal
	pos       *openPosition

	trades   []strategies.Trade
	equity   []EquityPoint
	trace    []strategies.IndicatorTraceEntry
	exposure int
	counters skipCounters
}

type skipCounters struct {
	rejected      int
	degenerateATR int
	zeroSize      int
}

// Equity is cash plus the open position marked at the last close.
func (r *replay) Equity() decimal.Decimal {
	if r.pos == nil {
		return r.cash
	}
	return r.cash.Add(unrealized(r.pos.Position, r.lastClose))
}

func unrealized(p strategies.Position, mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(p.EntryPrice)
	if p.Side == strategies.SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}

// Run replays bars in order. Bars must be strictly increasing in time.
func (b *Backtest) Run(ctx context.Context, bars []strategies.Bar) (*Result, error) {
	if len(bars) == 0 {
		return nil, strategies.ErrNoBars
	}

	if warmup := b.params.WarmupBars(); len(bars) < warmup {
		b.logger.Warn("Not enough bars for a signal",
			zap.Int("bars", len(bars)),
			zap.Int("warmup", warmup),
		)
	}

	r := &replay{bt: b, cash: b.settings.Cash, peak: b.settings.Cash}
	gen, err := strategies.NewGenerator(b.params, r, b.logger.Named("signals"))
	if err != nil {
		return nil, err
	}
	r.equity = make([]EquityPoint, 0, len(bars))
	if b.settings.RecordTrace {
		r.trace = make([]strategies.IndicatorTraceEntry, 0, len(bars))
	}

	for i, bar := range bars {
		if i&4095 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if i > 0 && bar.Timestamp <= bars[i-1].Timestamp {
			return nil, fmt.Errorf("bar %d: timestamp %d not after %d", i, bar.Timestamp, bars[i-1].Timestamp)
		}

		heldBefore := r.pos != nil
		sig := gen.Update(bar)

		switch sig.Skip {
		case strategies.SkipDegenerateATR:
			r.counters.degenerateATR++
			r.log.Append(Event{Ts: bar.Timestamp, Type: EventDegenerateATR, Symbol: b.settings.Symbol})
		case strategies.SkipZeroSize:
			r.counters.zeroSize++
		}

		if heldBefore || sig.Exited() || r.pos != nil {
			r.exposure++
		}
		r.mark(bar)
		if r.trace != nil {
			r.trace = append(r.trace, traceEntry(bar, sig))
		}
	}

	last := bars[len(bars)-1]
	if _, ok := gen.Close(last, strategies.ExitEndOfData); ok {
		r.equity = r.equity[:len(r.equity)-1]
		r.mark(last)
	}

	res := &Result{
		Symbol:   b.settings.Symbol,
		Params:   b.params,
		Settings: b.settings,
		Bars:     len(bars),
		Trades:   r.trades,
		Equity:   r.equity,
		Events:   r.log.Events,
		Trace:    r.trace,
	}
	res.Stats = computeStats(bars, r.trades, r.equity, b.settings.Cash, r.exposure, r.counters)

	b.logger.Info("Backtest completed",
		zap.String("symbol", b.settings.Symbol),
		zap.Int("bars", len(bars)),
		zap.Int("trades", len(r.trades)),
		zap.Int("rejected", r.counters.rejected),
		zap.String("final_equity", res.Stats.EquityFinal.StringFixed(2)),
		zap.Float64("return_pct", res.Stats.ReturnPct),
	)
	return res, nil
}

// Opened books a new position, or rejects it when equity cannot cover notional plus fees.
func (r *replay) Opened(pos strategies.Position) bool {
	notional := pos.EntryPrice.Mul(pos.Size)
	fee := r.bt.fees.Compute(pos.EntryPrice, pos.Size)
	if notional.Add(fee).GreaterThan(r.Equity()) {
		r.counters.rejected++
		r.log.Append(Event{
			Ts:     pos.EntryTime,
			Type:   EventRejected,
			Symbol: r.bt.settings.Symbol,
			Details: map[string]string{
				"side":     string(pos.Side),
				"notional": notional.StringFixed(2),
				"equity":   r.Equity().StringFixed(2),
			},
		})
		r.bt.logger.Debug("Entry rejected: insufficient equity",
			zap.String("side", string(pos.Side)),
			zap.String("notional", notional.StringFixed(2)),
			zap.String("equity", r.Equity().StringFixed(2)),
		)
		return false
	}

	r.cash = r.cash.Sub(fee)
	r.pos = &openPosition{Position: pos, entryFee: fee}
	r.log.Append(Event{
		Ts:     pos.EntryTime,
		Type:   EventEntry,
		Symbol: r.bt.settings.Symbol,
		Details: map[string]string{
			"side":  string(pos.Side),
			"price": pos.EntryPrice.String(),
			"size":  pos.Size.String(),
			"sl":    pos.StopLoss.String(),
			"tp":    pos.TakeProfit.String(),
		},
	})
	return true
}

// Closed books the exit of the open position.
func (r *replay) Closed(_ strategies.Position, price decimal.Decimal, reason strategies.ExitReason, ts int64, barIndex int) {
	pos := r.pos
	if pos == nil {
		return
	}
	r.pos = nil

	exitFee := r.bt.fees.Compute(price, pos.Size)
	gross := unrealized(pos.Position, price)
	r.cash = r.cash.Add(gross).Sub(exitFee)

	commission := pos.entryFee.Add(exitFee)
	pnl := gross.Sub(commission)
	pnlPct := decimal.Zero
	if notional := pos.EntryPrice.Mul(pos.Size); !notional.IsZero() {
		pnlPct = pnl.Div(notional).Mul(decimal.NewFromInt(100))
	}

	r.trades = append(r.trades, strategies.Trade{
		Side:       pos.Side,
		EntryTime:  pos.EntryTime,
		ExitTime:   ts,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Size:       pos.Size,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		AtrAtEntry: pos.AtrAtEntry,
		Commission: commission,
		PnL:        pnl,
		PnLPct:     pnlPct,
		ExitReason: reason,
		BarsHeld:   barIndex - pos.EntryBarIndex,
	})

	evType := EventEndOfData
	switch reason {
	case strategies.ExitStopLoss:
		evType = EventStopHit
	case strategies.ExitTakeProfit:
		evType = EventTakeProfitHit
	}
	r.log.Append(Event{
		Ts:     ts,
		Type:   evType,
		Symbol: r.bt.settings.Symbol,
		Details: map[string]string{
			"price": price.String(),
			"pnl":   pnl.StringFixed(2),
		},
	})
}

func (r *replay) mark(bar strategies.Bar) {
	r.lastClose = bar.Close
	eq := r.Equity()
	if eq.GreaterThan(r.peak) {
		r.peak = eq
	}
	dd := 0.0
	if r.peak.Sign() > 0 {
		dd = r.peak.Sub(eq).Div(r.peak).InexactFloat64() * 100
	}
	r.equity = append(r.equity, EquityPoint{Timestamp: bar.Timestamp, Equity: eq, DrawdownPct: dd})
}

func traceEntry(bar strategies.Bar, sig strategies.Signal) strategies.IndicatorTraceEntry {
	label := sig.Kind.String()
	if sig.Pending {
		label += "_PENDING"
	}
	if sig.Exited() && sig.Kind != strategies.SignalExit {
		label = "EXIT+" + label
	}
	if sig.Skip != strategies.SkipNone && sig.Skip != strategies.SkipWarmup {
		label = "SKIP_" + string(sig.Skip)
	}
	return strategies.IndicatorTraceEntry{
		Timestamp: bar.Timestamp,
		Open:      bar.Open,
		High:      bar.High,
		Low:       bar.Low,
		Close:     bar.Close,
		SMA:       sig.Indicators.SMA,
		ATR:       sig.Indicators.ATR,
		Upper:     sig.Indicators.Upper,
		Lower:     sig.Indicators.Lower,
		Signal:    label,
		State:     sig.State.String(),
	}
}
