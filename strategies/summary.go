package strategies

import "github.com/shopspring/decimal"

// TradeSummary represents trade-level summary statistics
type TradeSummary struct {
	TotalTrades         int
	Wins                int
	Losses              int
	WinRate             decimal.Decimal // percent
	NetPnl              decimal.Decimal
	GrossProfit         decimal.Decimal
	GrossLoss           decimal.Decimal
	AvgWin              decimal.Decimal
	AvgLoss             decimal.Decimal
	Expectancy          decimal.Decimal // per trade, in account currency
	ProfitFactor        decimal.Decimal
	AvgHoldingTimeHours decimal.Decimal
	MaxConsecutiveTP    int
	MaxConsecutiveSL    int
}

var hundred = decimal.NewFromInt(100)

// SummarizeTrades calculates trade summary statistics. A trade with zero PnL counts as a loss.
func SummarizeTrades(trades []Trade) TradeSummary {
	if len(trades) == 0 {
		return TradeSummary{}
	}

	var sum TradeSummary
	var totalHoldingTime int64
	var tpStreak, slStreak int

	for _, trade := range trades {
		sum.NetPnl = sum.NetPnl.Add(trade.PnL)
		if trade.PnL.GreaterThan(decimal.Zero) {
			sum.Wins++
			sum.GrossProfit = sum.GrossProfit.Add(trade.PnL)
		} else {
			sum.Losses++
			sum.GrossLoss = sum.GrossLoss.Add(trade.PnL.Abs())
		}
		totalHoldingTime += trade.ExitTime - trade.EntryTime

		switch trade.ExitReason {
		case ExitTakeProfit:
			tpStreak++
			slStreak = 0
		case ExitStopLoss:
			slStreak++
			tpStreak = 0
		default:
			tpStreak, slStreak = 0, 0
		}
		if tpStreak > sum.MaxConsecutiveTP {
			sum.MaxConsecutiveTP = tpStreak
		}
		if slStreak > sum.MaxConsecutiveSL {
			sum.MaxConsecutiveSL = slStreak
		}
	}

	n := decimal.NewFromInt(int64(len(trades)))
	sum.TotalTrades = len(trades)
	sum.WinRate = decimal.NewFromInt(int64(sum.Wins)).Div(n).Mul(hundred)
	if sum.Wins > 0 {
		sum.AvgWin = sum.GrossProfit.Div(decimal.NewFromInt(int64(sum.Wins)))
	}
	if sum.Losses > 0 {
		sum.AvgLoss = sum.GrossLoss.Div(decimal.NewFromInt(int64(sum.Losses)))
	}
	winFrac := sum.WinRate.Div(hundred)
	sum.Expectancy = winFrac.Mul(sum.AvgWin).Sub(decimal.NewFromInt(1).Sub(winFrac).Mul(sum.AvgLoss))
	if sum.GrossLoss.GreaterThan(decimal.Zero) {
		sum.ProfitFactor = sum.GrossProfit.Div(sum.GrossLoss)
	}
	sum.AvgHoldingTimeHours = decimal.NewFromInt(totalHoldingTime).Div(n).Div(decimal.NewFromInt(3_600_000))
	return sum
}
