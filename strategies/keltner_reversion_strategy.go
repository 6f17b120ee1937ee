// Keltner/ATR mean-reversion signal generator.
//
// Entries fade a poke outside the Keltner Channel (SMA ± k×ATR) when the bar closes as a
// reversal candle. Exits are ATR-based stop-loss / take-profit levels fixed at entry.

package strategies

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EntryMode defines when to enter trades
type EntryMode int

const (
	EntryModeSignalClose EntryMode = iota // Enter on signal bar's close (default)
	EntryModeNextBarOpen                  // Enter on next bar's open
)

func (m EntryMode) String() string {
	if m == EntryModeNextBarOpen {
		return "next-open"
	}
	return "signal-close"
}

func (m EntryMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *EntryMode) UnmarshalText(b []byte) error {
	v, err := ParseEntryMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// ParseEntryMode accepts "signal-close" or "next-open".
func ParseEntryMode(s string) (EntryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "signal-close":
		return EntryModeSignalClose, nil
	case "next-open":
		return EntryModeNextBarOpen, nil
	}
	return EntryModeSignalClose, fmt.Errorf("unknown entry mode %q", s)
}

// Params is the immutable strategy configuration.
type Params struct {
	KcPeriod     int             `json:"kc_period"`
	KcMultiplier float64         `json:"kc_multiplier"`
	AtrPeriod    int             `json:"atr_period"`
	RiskPerTrade decimal.Decimal `json:"risk_per_trade"`
	TpMultiplier decimal.Decimal `json:"tp_multiplier"`
	SlMultiplier decimal.Decimal `json:"sl_multiplier"`
	EntryMode    EntryMode       `json:"entry_mode"`
	// WholeUnits floors sizes to whole units with a minimum of one.
	WholeUnits bool `json:"whole_units"`
}

func DefaultParams() Params {
	return Params{
		KcPeriod:     20,
		KcMultiplier: 1.5,
		AtrPeriod:    14,
		RiskPerTrade: decimal.NewFromFloat(0.02),
		TpMultiplier: decimal.NewFromFloat(1.5),
		SlMultiplier: decimal.NewFromFloat(1.0),
		EntryMode:    EntryModeSignalClose,
		WholeUnits:   true,
	}
}

func (p Params) Validate() error {
	if p.KcPeriod < 1 || p.AtrPeriod < 1 {
		return fmt.Errorf("periods must be positive: kc=%d atr=%d", p.KcPeriod, p.AtrPeriod)
	}
	if p.KcMultiplier <= 0 {
		return fmt.Errorf("kc multiplier must be positive: %v", p.KcMultiplier)
	}
	if p.RiskPerTrade.Sign() <= 0 || p.RiskPerTrade.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("risk per trade must be in (0,1]: %s", p.RiskPerTrade)
	}
	if p.TpMultiplier.Sign() <= 0 || p.SlMultiplier.Sign() <= 0 {
		return fmt.Errorf("tp/sl multipliers must be positive: tp=%s sl=%s", p.TpMultiplier, p.SlMultiplier)
	}
	return nil
}

// WarmupBars is the lookback before the first signal can fire.
func (p Params) WarmupBars() int {
	if p.KcPeriod > p.AtrPeriod {
		return p.KcPeriod
	}
	return p.AtrPeriod
}

// ErrDegenerateRisk is returned when the stop sits on the entry price.
var ErrDegenerateRisk = errors.New("entry price equals stop price")

// SizePosition returns units = equity × riskFraction / |entry − stop|.
func SizePosition(equity, entry, stop, riskFraction decimal.Decimal) (decimal.Decimal, error) {
	dist := entry.Sub(stop).Abs()
	if dist.IsZero() {
		return decimal.Zero, ErrDegenerateRisk
	}
	if equity.Sign() <= 0 || riskFraction.Sign() <= 0 {
		return decimal.Zero, nil
	}
	return equity.Mul(riskFraction).Div(dist), nil
}

// ExitLevels returns stop-loss and take-profit for an entry given the ATR.
func ExitLevels(side Side, entry, atr decimal.Decimal, p Params) (stopLoss, takeProfit decimal.Decimal) {
	slDist := atr.Mul(p.SlMultiplier)
	tpDist := atr.Mul(p.TpMultiplier)
	if side == SideShort {
		return entry.Add(slDist), entry.Sub(tpDist)
	}
	return entry.Sub(slDist), entry.Add(tpDist)
}

// Account supplies the equity used for risk sizing.
type Account interface {
	Equity() decimal.Decimal
}

// Ledger is an optional Account extension that books fills as the generator makes them.
// An exit is booked before a same-bar entry is sized, so the entry sees post-exit equity.
// Opened returning false rejects the entry and the slot stays flat.
type Ledger interface {
	Opened(pos Position) bool
	Closed(pos Position, price decimal.Decimal, reason ExitReason, ts int64, barIndex int)
}

// FixedAccount is an Account with constant equity.
type FixedAccount decimal.Decimal

func (a FixedAccount) Equity() decimal.Decimal { return decimal.Decimal(a) }

type pendingEntry struct {
	side       Side
	signalBar  int
	stopLoss   decimal.Decimal
	takeProfit decimal.Decimal
	size       decimal.Decimal
	atr        decimal.Decimal
}

// Generator turns a bar stream into entry/exit signals. It owns the single position slot
// and is not safe for concurrent use.
type Generator struct {
	params  Params
	account Account
	ledger  Ledger
	logger  *zap.Logger

	channel    bands
	state      PositionState
	position   *Position
	pending    *pendingEntry
	indicators IndicatorState
	barIndex   int
}

// NewGenerator validates params. A nil account sizes against zero equity, so every entry
// is skipped; a nil logger disables logging.
func NewGenerator(p Params, account Account, logger *zap.Logger) (*Generator, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if account == nil {
		account = FixedAccount(decimal.Zero)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ledger, _ := account.(Ledger)
	return &Generator{
		params:  p,
		account: account,
		ledger:  ledger,
		logger:  logger,
		channel: NewKeltnerChannel(p.KcPeriod, p.AtrPeriod, p.KcMultiplier),
		state:   StateFlat,
	}, nil
}

func (g *Generator) Params() Params { return g.params }
func (g *Generator) State() PositionState { return g.state }
func (g *Generator) Indicators() IndicatorState { return g.indicators }

func (g *Generator) Position() (Position, bool) {
	if g.position == nil {
		return Position{}, false
	}
	return *g.position, true
}

// Update processes the next bar. Callers feed bars in timestamp order.
//
// Stops and targets are resolved before entries, so one bar can close a position and open
// the next one. Such a signal carries the exit fields with Kind set to the new entry.
func (g *Generator) Update(bar Bar) Signal {
	idx := g.barIndex
	g.barIndex++

	g.indicators = g.channel.Add(bar)
	sig := Signal{Kind: SignalNone, BarIndex: idx, Timestamp: bar.Timestamp, Indicators: g.indicators}

	if g.pending != nil {
		if pos, ok := g.fillPending(bar, idx); ok {
			sig.Kind = g.entryKind()
			sig.Filled = true
			sig.EntryPrice = pos.EntryPrice
			sig.StopLoss = pos.StopLoss
			sig.TakeProfit = pos.TakeProfit
			sig.Size = pos.Size
		} else {
			sig.Skip = SkipRejected
		}
	}

	if g.position != nil {
		// Signal-close entries are filled at the close, so the entry bar itself is skipped.
		if g.params.EntryMode == EntryModeNextBarOpen || g.position.EntryBarIndex < idx {
			if reason, price, hit := ResolveExit(bar, *g.position); hit {
				sig = g.exit(sig, price, reason)
			}
		}
		if g.position != nil {
			sig.State = g.state
			return sig
		}
	}

	if !g.indicators.Ready {
		if sig.Kind == SignalNone {
			sig.Skip = SkipWarmup
		}
		sig.State = g.state
		return sig
	}

	side, ok := g.entrySetup(bar)
	if !ok {
		sig.State = g.state
		return sig
	}
	return g.enter(sig, bar, idx, side)
}

// Close force-closes any open position at the bar close. Pending entries are dropped.
func (g *Generator) Close(bar Bar, reason ExitReason) (Signal, bool) {
	g.pending = nil
	if g.position == nil {
		return Signal{}, false
	}
	sig := Signal{BarIndex: g.barIndex - 1, Timestamp: bar.Timestamp, Indicators: g.indicators}
	return g.exit(sig, bar.Close, reason), true
}

// entrySetup checks for a channel poke plus a reversal candle.
func (g *Generator) entrySetup(bar Bar) (Side, bool) {
	low := bar.Low.InexactFloat64()
	high := bar.High.InexactFloat64()
	if low < g.indicators.Lower && bar.Close.GreaterThan(bar.Open) {
		return SideLong, true
	}
	if high > g.indicators.Upper && bar.Close.LessThan(bar.Open) {
		return SideShort, true
	}
	return "", false
}

func (g *Generator) enter(sig Signal, bar Bar, idx int, side Side) Signal {
	sig.State = g.state
	atr := decimal.NewFromFloat(g.indicators.ATR)
	// A reversal candle has a positive body, so ATR is positive once the channel is ready.
	// This guards channels fed by flat or malformed bars.
	if atr.Sign() <= 0 {
		g.logger.Warn("Skipping entry: degenerate ATR",
			zap.Int("bar", idx),
			zap.String("side", string(side)),
			zap.Float64("atr", g.indicators.ATR),
		)
		sig.Skip = SkipDegenerateATR
		return sig
	}

	entry := bar.Close
	sl, tp := ExitLevels(side, entry, atr, g.params)

	size, err := SizePosition(g.account.Equity(), entry, sl, g.params.RiskPerTrade)
	if err != nil {
		g.logger.Warn("Skipping entry: position sizing failed",
			zap.Int("bar", idx),
			zap.String("side", string(side)),
			zap.Error(err),
		)
		sig.Skip = SkipDegenerateATR
		return sig
	}
	if g.params.WholeUnits && size.Sign() > 0 {
		size = size.Floor()
		if size.IsZero() {
			size = decimal.NewFromInt(1)
		}
	}
	if size.Sign() <= 0 {
		sig.Skip = SkipZeroSize
		return sig
	}

	kind := SignalShort
	if side == SideLong {
		kind = SignalLong
	}

	if g.params.EntryMode == EntryModeNextBarOpen {
		g.pending = &pendingEntry{side: side, signalBar: idx, stopLoss: sl, takeProfit: tp, size: size, atr: atr}
		sig.Kind = kind
		sig.EntryPrice, sig.StopLoss, sig.TakeProfit, sig.Size = entry, sl, tp, size
		sig.Pending = true
		g.logger.Debug("Entry scheduled for next open",
			zap.Int("bar", idx),
			zap.String("side", string(side)),
			zap.String("reference", entry.StringFixed(2)),
		)
		return sig
	}

	if _, ok := g.open(side, bar.Timestamp, entry, sl, tp, size, atr, idx); !ok {
		sig.Skip = SkipRejected
		return sig
	}
	sig.Kind = kind
	sig.EntryPrice, sig.StopLoss, sig.TakeProfit, sig.Size = entry, sl, tp, size
	sig.Filled = true
	sig.State = g.state
	return sig
}

func (g *Generator) fillPending(bar Bar, idx int) (Position, bool) {
	p := g.pending
	g.pending = nil
	return g.open(p.side, bar.Timestamp, bar.Open, p.stopLoss, p.takeProfit, p.size, p.atr, idx)
}

func (g *Generator) open(side Side, ts int64, entry, sl, tp, size, atr decimal.Decimal, idx int) (Position, bool) {
	pos := Position{
		Side:          side,
		EntryTime:     ts,
		EntryPrice:    entry,
		StopLoss:      sl,
		TakeProfit:    tp,
		Size:          size,
		AtrAtEntry:    atr,
		EntryBarIndex: idx,
	}
	if g.ledger != nil && !g.ledger.Opened(pos) {
		g.logger.Info("Entry rejected by account",
			zap.String("side", string(side)),
			zap.Int("bar", idx),
		)
		return Position{}, false
	}
	g.position = &pos
	if side == SideLong {
		g.state = StateLongOpen
	} else {
		g.state = StateShortOpen
	}
	g.logger.Info("Opened position",
		zap.String("side", string(side)),
		zap.Int("bar", idx),
		zap.String("entry", entry.StringFixed(2)),
		zap.String("sl", sl.StringFixed(2)),
		zap.String("tp", tp.StringFixed(2)),
		zap.String("size", size.String()),
		zap.String("atr", atr.StringFixed(2)),
	)
	return pos, true
}

func (g *Generator) exit(sig Signal, price decimal.Decimal, reason ExitReason) Signal {
	closed := *g.position
	g.position = nil
	g.state = StateFlat

	sig.Kind = SignalExit
	sig.ExitPrice = price
	sig.ExitReason = reason
	sig.Closed = &closed
	sig.State = g.state
	if g.ledger != nil {
		g.ledger.Closed(closed, price, reason, sig.Timestamp, sig.BarIndex)
	}

	g.logger.Info("Closed position",
		zap.String("side", string(closed.Side)),
		zap.Int("bar", sig.BarIndex),
		zap.String("exit", price.StringFixed(2)),
		zap.String("reason", string(reason)),
	)
	return sig
}

func (g *Generator) entryKind() SignalKind {
	switch g.state {
	case StateLongOpen:
		return SignalLong
	case StateShortOpen:
		return SignalShort
	}
	return SignalNone
}
