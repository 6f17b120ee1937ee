package engine

import (
	"math"
	"time"

	"atr-meanrev-backtest/strategies"

	"github.com/shopspring/decimal"
)

// Stats is the end-of-run performance summary
type Stats struct {
	Start              time.Time       `json:"start"`
	End                time.Time       `json:"end"`
	Duration           time.Duration   `json:"duration_ns"`
	ExposureTimePct    float64         `json:"exposure_time_pct"`
	EquityFinal        decimal.Decimal `json:"equity_final"`
	EquityPeak         decimal.Decimal `json:"equity_peak"`
	ReturnPct          float64         `json:"return_pct"`
	BuyHoldReturnPct   float64         `json:"buy_hold_return_pct"`
	MaxDrawdownPct     float64         `json:"max_drawdown_pct"`
	SharpeRatio        float64         `json:"sharpe_ratio"`
	AnnualizationDays  int             `json:"annualization_days"`
	Trades             int             `json:"trades"`
	WinRatePct         float64         `json:"win_rate_pct"`
	BestTradePct       float64         `json:"best_trade_pct"`
	WorstTradePct      float64         `json:"worst_trade_pct"`
	AvgTradePct        float64         `json:"avg_trade_pct"`
	AvgTradeDuration   time.Duration   `json:"avg_trade_duration_ns"`
	MaxTradeDuration   time.Duration   `json:"max_trade_duration_ns"`
	ProfitFactor       float64         `json:"profit_factor"` // 0 when there are no losing trades
	NoLosingTrades     bool            `json:"no_losing_trades"`
	ExpectancyPct      float64         `json:"expectancy_pct"`
	Commissions        decimal.Decimal `json:"commissions"`
	RejectedEntries    int             `json:"rejected_entries"`
	DegenerateATRSkips int             `json:"degenerate_atr_skips"`
	ZeroSizeSkips      int             `json:"zero_size_skips"`
	MaxConsecutiveTP   int             `json:"max_consecutive_tp"`
	MaxConsecutiveSL   int             `json:"max_consecutive_sl"`
}

// SignedMaxDrawdownPct is the max drawdown as printed in reports: zero or negative.
func (s Stats) SignedMaxDrawdownPct() float64 {
	if s.MaxDrawdownPct == 0 {
		return 0
	}
	return -s.MaxDrawdownPct
}

func computeStats(bars []strategies.Bar, trades []strategies.Trade, equity []EquityPoint, initialCash decimal.Decimal, exposure int, c skipCounters) Stats {
	first, last := bars[0], bars[len(bars)-1]
	st := Stats{
		Start:              first.Time(),
		End:                last.Time(),
		Duration:           last.Time().Sub(first.Time()),
		ExposureTimePct:    float64(exposure) / float64(len(bars)) * 100,
		Trades:             len(trades),
		RejectedEntries:    c.rejected,
		DegenerateATRSkips: c.degenerateATR,
		ZeroSizeSkips:      c.zeroSize,
	}

	if first.Close.Sign() > 0 {
		st.BuyHoldReturnPct = last.Close.Sub(first.Close).Div(first.Close).InexactFloat64() * 100
	}

	if len(equity) > 0 {
		st.EquityFinal = equity[len(equity)-1].Equity
		st.EquityPeak = st.EquityFinal
		for _, p := range equity {
			if p.Equity.GreaterThan(st.EquityPeak) {
				st.EquityPeak = p.Equity
			}
			if p.DrawdownPct > st.MaxDrawdownPct {
				st.MaxDrawdownPct = p.DrawdownPct
			}
		}
		if initialCash.Sign() > 0 {
			st.ReturnPct = st.EquityFinal.Sub(initialCash).Div(initialCash).InexactFloat64() * 100
		}
		st.SharpeRatio, st.AnnualizationDays = SharpeRatio(equity)
	}

	if len(trades) == 0 {
		return st
	}

	summary := strategies.SummarizeTrades(trades)
	st.WinRatePct = summary.WinRate.InexactFloat64()
	st.MaxConsecutiveTP = summary.MaxConsecutiveTP
	st.MaxConsecutiveSL = summary.MaxConsecutiveSL
	if summary.GrossLoss.Sign() > 0 {
		st.ProfitFactor = summary.GrossProfit.Div(summary.GrossLoss).InexactFloat64()
	}
	st.NoLosingTrades = summary.Losses == 0

	rets := make([]float64, len(trades))
	var total time.Duration
	logSum := 0.0
	for i, t := range trades {
		r := t.PnLPct.InexactFloat64()
		rets[i] = r
		if i == 0 || r > st.BestTradePct {
			st.BestTradePct = r
		}
		if i == 0 || r < st.WorstTradePct {
			st.WorstTradePct = r
		}
		logSum += math.Log1p(r / 100)
		d := t.Duration()
		total += d
		if d > st.MaxTradeDuration {
			st.MaxTradeDuration = d
		}
		st.Commissions = st.Commissions.Add(t.Commission)
	}
	n := float64(len(trades))
	// geometric mean of per-trade returns
	st.AvgTradePct = (math.Exp(logSum/n) - 1) * 100
	st.AvgTradeDuration = total / time.Duration(len(trades))

	var winSum, lossSum float64
	var wins, losses int
	for _, r := range rets {
		if r > 0 {
			winSum += r
			wins++
		} else {
			lossSum += r
			losses++
		}
	}
	var avgWin, avgLoss float64
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}
	winRate := float64(wins) / n
	st.ExpectancyPct = winRate*avgWin + (1-winRate)*avgLoss
	return st
}

// SharpeRatio annualises the mean/stddev of daily equity returns. Daily equity is the last
// mark of each UTC day. The factor is √365 when the data contains weekend bars, else √252.
// It returns 0 with fewer than two daily returns or zero variance.
func SharpeRatio(equity []EquityPoint) (float64, int) {
	ann := 252
	var days []float64
	lastDay := int64(math.MinInt64)
	for _, p := range equity {
		t := time.UnixMilli(p.Timestamp).UTC()
		if wd := t.Weekday(); wd == time.Saturday || wd == time.Sunday {
			ann = 365
		}
		day := p.Timestamp / 86_400_000
		if p.Timestamp < 0 && p.Timestamp%86_400_000 != 0 {
			day--
		}
		v := p.Equity.InexactFloat64()
		if day == lastDay {
			days[len(days)-1] = v
			continue
		}
		days = append(days, v)
		lastDay = day
	}

	rets := make([]float64, 0, len(days))
	for i := 1; i < len(days); i++ {
		if days[i-1] == 0 {
			continue
		}
		rets = append(rets, days[i]/days[i-1]-1)
	}
	if len(rets) < 2 {
		return 0, ann
	}
	m := mean(rets)
	v := variance(rets, m)
	if v <= 0 {
		return 0, ann
	}
	return m / math.Sqrt(v) * math.Sqrt(float64(ann)), ann
}

func mean(a []float64) float64 {
	if len(a) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range a {
		s += x
	}
	return s / float64(len(a))
}

// variance is the sample variance (n-1).
func variance(a []float64, m float64) float64 {
	if len(a) <= 1 {
		return 0
	}
	s := 0.0
	for _, x := range a {
		d := x - m
		s += d * d
	}
	return s / float64(len(a)-1)
}
