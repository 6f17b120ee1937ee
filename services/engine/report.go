package engine

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

var rule = strings.Repeat("=", 80)

// WriteReport writes the plain-text results file: the full statistics block followed by
// the strategy analysis.
func WriteReport(w io.Writer, res *Result) error {
	bw := bufio.NewWriter(w)
	st := res.Stats

	fmt.Fprintf(bw, "%s ATR Mean Reversion Backtest Results\n", res.Symbol)
	fmt.Fprintf(bw, "%s\n\n", rule)

	row := func(label, format string, args ...any) {
		fmt.Fprintf(bw, "%-28s %s\n", label, fmt.Sprintf(format, args...))
	}
	row("Start", "%s", st.Start.Format("2006-01-02 15:04:05"))
	row("End", "%s", st.End.Format("2006-01-02 15:04:05"))
	row("Duration", "%s", formatDuration(st.Duration))
	row("Exposure Time [%]", "%.2f", st.ExposureTimePct)
	row("Equity Final [$]", "%s", st.EquityFinal.StringFixed(2))
	row("Equity Peak [$]", "%s", st.EquityPeak.StringFixed(2))
	row("Return [%]", "%.2f", st.ReturnPct)
	row("Buy & Hold Return [%]", "%.2f", st.BuyHoldReturnPct)
	row("Max. Drawdown [%]", "%.2f", st.SignedMaxDrawdownPct())
	row("Sharpe Ratio", "%.2f", st.SharpeRatio)
	row("# Trades", "%d", st.Trades)
	row("Win Rate [%]", "%.2f", st.WinRatePct)
	row("Best Trade [%]", "%.2f", st.BestTradePct)
	row("Worst Trade [%]", "%.2f", st.WorstTradePct)
	row("Avg. Trade [%]", "%.2f", st.AvgTradePct)
	row("Avg. Trade Duration", "%s", formatDuration(st.AvgTradeDuration))
	row("Max. Trade Duration", "%s", formatDuration(st.MaxTradeDuration))
	row("Profit Factor", "%s", profitFactor(st))
	row("Expectancy [%]", "%.2f", st.ExpectancyPct)
	row("Commissions [$]", "%s", st.Commissions.StringFixed(2))
	row("Rejected Entries", "%d", st.RejectedEntries)
	row("Degenerate ATR Skips", "%d", st.DegenerateATRSkips)
	row("Max Consecutive TP", "%d", st.MaxConsecutiveTP)
	row("Max Consecutive SL", "%d", st.MaxConsecutiveSL)

	fmt.Fprintf(bw, "\n%s\nSTRATEGY ANALYSIS\n%s\n", rule, rule)
	p := res.Params
	fmt.Fprintf(bw, "Parameters: kc_period=%d kc_multiplier=%g atr_period=%d risk=%s tp=%s sl=%s entry=%s\n",
		p.KcPeriod, p.KcMultiplier, p.AtrPeriod, p.RiskPerTrade, p.TpMultiplier, p.SlMultiplier, p.EntryMode)
	if st.Trades > 0 {
		fmt.Fprintf(bw, "Average Return per Trade: %.3f%%\n", st.ReturnPct/float64(st.Trades))
		fmt.Fprintf(bw, "Profit Factor: %s\n", profitFactor(st))
		fmt.Fprintf(bw, "Expectancy: %.2f%%\n", st.ExpectancyPct)
	} else {
		fmt.Fprintln(bw, "No trades generated - strategy parameters may need adjustment")
	}
	return bw.Flush()
}

// ExportReport writes the report to filename.
func ExportReport(filename string, res *Result) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteReport(f, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// formatDuration renders "N days HH:MM:SS".
func formatDuration(d time.Duration) string {
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	return fmt.Sprintf("%d days %02d:%02d:%02d", days, h, m, int(d/time.Second))
}

func profitFactor(st Stats) string {
	if st.Trades > 0 && st.NoLosingTrades {
		return "inf"
	}
	return fmt.Sprintf("%.2f", st.ProfitFactor)
}
