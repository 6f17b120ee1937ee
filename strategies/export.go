package strategies

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

const exportTimeLayout = "2006-01-02T15:04:05.000Z"

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(exportTimeLayout)
}

// WriteTradesCSV writes one row per trade followed by a "# Summary" block.
func WriteTradesCSV(w io.Writer, symbol string, trades []Trade) error {
	writer := csv.NewWriter(w)

	header := []string{
		"type", "entry_time_utc", "entry_price", "exit_time_utc", "exit_price",
		"exit_reason", "qty", "fees", "pnl", "pnl_pct", "symbol",
		"tp_price", "sl_price", "bars_held", "atr_at_entry",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, trade := range trades {
		record := []string{
			string(trade.Side),
			formatMs(trade.EntryTime),
			trade.EntryPrice.String(),
			formatMs(trade.ExitTime),
			trade.ExitPrice.String(),
			string(trade.ExitReason),
			trade.Size.String(),
			trade.Commission.StringFixed(2),
			trade.PnL.StringFixed(2),
			trade.PnLPct.StringFixed(4),
			symbol,
			trade.TakeProfit.String(),
			trade.StopLoss.String(),
			strconv.Itoa(trade.BarsHeld),
			trade.AtrAtEntry.StringFixed(4),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	summary := SummarizeTrades(trades)
	rows := [][]string{
		{""},
		{"# Summary"},
		{"total_trades", strconv.Itoa(summary.TotalTrades)},
		{"wins", strconv.Itoa(summary.Wins)},
		{"losses", strconv.Itoa(summary.Losses)},
		{"win_rate", summary.WinRate.StringFixed(2)},
		{"net_pnl", summary.NetPnl.StringFixed(2)},
		{"avg_win", summary.AvgWin.StringFixed(2)},
		{"avg_loss", summary.AvgLoss.StringFixed(2)},
		{"expectancy", summary.Expectancy.StringFixed(2)},
		{"profit_factor", summary.ProfitFactor.StringFixed(4)},
		{"avg_holding_time_hours", summary.AvgHoldingTimeHours.StringFixed(2)},
	}
	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// ExportTradesCSV writes trades to filename.
func ExportTradesCSV(filename, symbol string, trades []Trade) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()
	return WriteTradesCSV(file, symbol, trades)
}

// WriteIndicatorTraceCSV writes the per-bar indicator values.
func WriteIndicatorTraceCSV(w io.Writer, traces []IndicatorTraceEntry) error {
	writer := csv.NewWriter(w)

	header := []string{
		"timestamp_ms", "open", "high", "low", "close",
		"sma", "atr", "upper", "lower", "signal", "state",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, trace := range traces {
		record := []string{
			strconv.FormatInt(trace.Timestamp, 10),
			trace.Open.String(),
			trace.High.String(),
			trace.Low.String(),
			trace.Close.String(),
			fmt.Sprintf("%.6f", trace.SMA),
			fmt.Sprintf("%.6f", trace.ATR),
			fmt.Sprintf("%.6f", trace.Upper),
			fmt.Sprintf("%.6f", trace.Lower),
			trace.Signal,
			trace.State,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ExportIndicatorTraceCSV writes the indicator trace to filename.
func ExportIndicatorTraceCSV(filename string, traces []IndicatorTraceEntry) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()
	return WriteIndicatorTraceCSV(file, traces)
}

// WriteBarsCSV writes bars in the loader's format, used by the resampler.
func WriteBarsCSV(w io.Writer, bars []Bar) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, b := range bars {
		record := []string{
			strconv.FormatInt(b.Timestamp, 10),
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			b.Volume.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
