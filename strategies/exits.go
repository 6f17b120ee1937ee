package strategies

import "github.com/shopspring/decimal"

// FirstTouchResult indicates which protective level a bar touched
type FirstTouchResult int

const (
	TouchNone FirstTouchResult = iota
	TouchTP
	TouchSL
)

// ResolveFirstTouchLong checks stop and target for a long. When both lie inside the bar's
// range the stop is assumed to have been hit first.
func ResolveFirstTouchLong(bar Bar, tp, sl decimal.Decimal) FirstTouchResult {
	if bar.Low.LessThanOrEqual(sl) {
		return TouchSL
	}
	if bar.High.GreaterThanOrEqual(tp) {
		return TouchTP
	}
	return TouchNone
}

// ResolveFirstTouchShort mirrors the long logic for shorts
func ResolveFirstTouchShort(bar Bar, tp, sl decimal.Decimal) FirstTouchResult {
	if bar.High.GreaterThanOrEqual(sl) {
		return TouchSL
	}
	if bar.Low.LessThanOrEqual(tp) {
		return TouchTP
	}
	return TouchNone
}

// FillPriceStop is the fill for a triggered protective stop. A bar that opens beyond the
// stop fills at the open.
func FillPriceStop(side Side, stop decimal.Decimal, bar Bar) decimal.Decimal {
	if side == SideLong {
		if bar.Open.LessThanOrEqual(stop) {
			return bar.Open
		}
		return stop
	}
	if bar.Open.GreaterThanOrEqual(stop) {
		return bar.Open
	}
	return stop
}

// FillPriceTarget is the fill for a touched take-profit. Opening through the target fills
// at the (better) open.
func FillPriceTarget(side Side, target decimal.Decimal, bar Bar) decimal.Decimal {
	if side == SideLong {
		if bar.Open.GreaterThanOrEqual(target) {
			return bar.Open
		}
		return target
	}
	if bar.Open.LessThanOrEqual(target) {
		return bar.Open
	}
	return target
}

// ResolveExit returns the exit reason and fill price if the bar closes pos.
func ResolveExit(bar Bar, pos Position) (ExitReason, decimal.Decimal, bool) {
	var touch FirstTouchResult
	if pos.Side == SideLong {
		touch = ResolveFirstTouchLong(bar, pos.TakeProfit, pos.StopLoss)
	} else {
		touch = ResolveFirstTouchShort(bar, pos.TakeProfit, pos.StopLoss)
	}
	switch touch {
	case TouchSL:
		return ExitStopLoss, FillPriceStop(pos.Side, pos.StopLoss, bar), true
	case TouchTP:
		return ExitTakeProfit, FillPriceTarget(pos.Side, pos.TakeProfit, bar), true
	}
	return "", decimal.Zero, false
}
