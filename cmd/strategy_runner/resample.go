package main

import (
	"bufio"
	"fmt"
	"os"

	"atr-meanrev-backtest/services/arrowpipeline"
	"atr-meanrev-backtest/strategies"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newResampleCmd() *cobra.Command {
	var in, out, tf, symbol string
	var arrowOut bool
	cmd := &cobra.Command{
		Use:   "resample",
		Short: "Aggregate a bar CSV to a coarser timeframe",
		Example: "  strategy_runner resample --in XAU_5m.csv --out XAU_15m.csv --tf 15m\n" +
			"  strategy_runner resample --in XAU_5m.csv --out XAU_1h.arrow --tf 1h --arrow",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			dur, err := strategies.ParseTimeframe(tf)
			if err != nil {
				return err
			}
			bars, err := strategies.LoadCSV(in)
			if err != nil {
				return err
			}
			agg, err := strategies.Resample(bars, dur)
			if err != nil {
				return err
			}

			if arrowOut {
				p := arrowpipeline.NewPipeline(arrowpipeline.Config{}, logger)
				if err := p.ExportBars(out, symbol, agg); err != nil {
					return err
				}
			} else if err := writeBarsFile(out, agg); err != nil {
				return err
			}
			logger.Info("Resampled",
				zap.String("in", in),
				zap.String("out", out),
				zap.Int("bars_in", len(bars)),
				zap.Int("bars_out", len(agg)),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bars (%s) to %s\n", len(agg), tf, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "Input CSV")
	cmd.Flags().StringVar(&out, "out", "", "Output path")
	cmd.Flags().StringVar(&tf, "tf", "15m", "Target timeframe (e.g. 15m, 1h, 1d)")
	cmd.Flags().StringVar(&symbol, "symbol", "XAUUSD", "Symbol stored in Arrow output")
	cmd.Flags().BoolVar(&arrowOut, "arrow", false, "Write an Arrow IPC file instead of CSV")
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("out")
	return cmd
}

func writeBarsFile(path string, bars []strategies.Bar) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := strategies.WriteBarsCSV(w, bars); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
