package strategies

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents OHLCV data
type Bar struct {
	Timestamp int64 // unix ms, UTC
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Time returns the bar open time in UTC
func (b Bar) Time() time.Time {
	return time.UnixMilli(b.Timestamp).UTC()
}

// Side is the direction of a position
type Side string

const (
	SideLong  Side = "Long"
	SideShort Side = "Short"
)

// PositionState is the state of the single position slot
type PositionState int

const (
	StateFlat PositionState = iota
	StateLongOpen
	StateShortOpen
)

func (s PositionState) String() string {
	switch s {
	case StateLongOpen:
		return "long"
	case StateShortOpen:
		return "short"
	default:
		return "flat"
	}
}

// ExitReason explains why a position was closed
type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitEndOfData  ExitReason = "end_of_data"
)

// SignalKind is what the generator decided for a bar
type SignalKind int

const (
	SignalNone SignalKind = iota
	SignalLong
	SignalShort
	SignalExit
)

func (k SignalKind) String() string {
	switch k {
	case SignalLong:
		return "LONG"
	case SignalShort:
		return "SHORT"
	case SignalExit:
		return "EXIT"
	default:
		return "NONE"
	}
}

// SkipReason explains why an otherwise valid setup did not produce an entry
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipWarmup        SkipReason = "in_warmup"
	SkipDegenerateATR SkipReason = "degenerate_atr"
	SkipZeroSize      SkipReason = "zero_size"
	SkipRejected      SkipReason = "rejected" // the Ledger refused the fill
)

// IndicatorState holds the causal indicator values after a bar
type IndicatorState struct {
	SMA   float64
	ATR   float64
	Upper float64
	Lower float64
	Ready bool
}

// Position is the open position, at most one at a time
type Position struct {
	Side          Side
	EntryTime     int64
	EntryPrice    decimal.Decimal
	StopLoss      decimal.Decimal
	TakeProfit    decimal.Decimal
	Size          decimal.Decimal
	AtrAtEntry    decimal.Decimal
	EntryBarIndex int
}

// Signal is the result of Generator.Update for one bar
type Signal struct {
	Kind       SignalKind
	BarIndex   int
	Timestamp  int64
	Indicators IndicatorState
	State      PositionState // state after the bar was processed

	// Entry fields (SignalLong / SignalShort) describe the latest entry on the bar
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	Size       decimal.Decimal
	Pending    bool // next-open mode: filled on the following bar
	Filled     bool // a position was opened on this bar

	// Exit fields are set whenever a position closed on the bar, including when Kind is a
	// same-bar re-entry
	ExitPrice  decimal.Decimal
	ExitReason ExitReason
	Closed     *Position

	Skip SkipReason
}

// Trade represents a completed trade
type Trade struct {
	Side       Side            `json:"side"`
	EntryTime  int64           `json:"entry_time"`
	ExitTime   int64           `json:"exit_time"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	Size       decimal.Decimal `json:"size"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	AtrAtEntry decimal.Decimal `json:"atr_at_entry"`
	Commission decimal.Decimal `json:"commission"`
	PnL        decimal.Decimal `json:"pnl"`
	PnLPct     decimal.Decimal `json:"pnl_pct"`
	ExitReason ExitReason      `json:"exit_reason"`
	BarsHeld   int             `json:"bars_held"`
}

// Duration is the holding time of the trade
func (t Trade) Duration() time.Duration {
	return time.Duration(t.ExitTime-t.EntryTime) * time.Millisecond
}

// IndicatorTraceEntry logs every candle's indicator values
type IndicatorTraceEntry struct {
	Timestamp int64           `json:"ts"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	SMA       float64         `json:"sma"`
	ATR       float64         `json:"atr"`
	Upper     float64         `json:"upper"`
	Lower     float64         `json:"lower"`
	Signal    string          `json:"signal"`
	State     string          `json:"state"` // "flat", "long", "short"
}

// Exited reports whether a position closed on this bar.
func (s Signal) Exited() bool { return s.Closed != nil }
