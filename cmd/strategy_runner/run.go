package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"atr-meanrev-backtest/services/arrowpipeline"
	"atr-meanrev-backtest/services/chart"
	"atr-meanrev-backtest/services/config"
	"atr-meanrev-backtest/services/engine"
	"atr-meanrev-backtest/services/marketdata"
	"atr-meanrev-backtest/strategies"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd() *cobra.Command {
	var (
		flags   strategyFlags
		out     config.OutputConfig
		noChart bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one backtest and write results, trades and chart files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if err := flags.apply(cmd.Flags(), cfg); err != nil {
				return err
			}
			mergeOutput(cmd, &cfg.Output, out)
			if noChart {
				cfg.Output.ChartFile = ""
			}
			return runBacktest(cmd, cfg, logger)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVarP(&out.Dir, "out-dir", "o", "", "Directory for output files")
	cmd.Flags().StringVar(&out.ResultsFile, "results", "", "Results text file name")
	cmd.Flags().StringVar(&out.TradesFile, "trades", "", "Trades CSV file name")
	cmd.Flags().StringVar(&out.TraceFile, "trace", "", "Indicator trace CSV file name")
	cmd.Flags().StringVar(&out.ArrowFile, "trace-arrow", "", "Indicator trace Arrow file name")
	cmd.Flags().StringVar(&out.ChartFile, "chart", "", "HTML chart file name")
	cmd.Flags().StringVar(&out.JSONFile, "json", "", "Full JSON result file name")
	cmd.Flags().BoolVar(&noChart, "no-chart", false, "Skip the HTML chart")
	return cmd
}

func mergeOutput(cmd *cobra.Command, dst *config.OutputConfig, src config.OutputConfig) {
	fs := cmd.Flags()
	pairs := []struct {
		flag string
		dst  *string
		src  string
	}{
		{"out-dir", &dst.Dir, src.Dir},
		{"results", &dst.ResultsFile, src.ResultsFile},
		{"trades", &dst.TradesFile, src.TradesFile},
		{"trace", &dst.TraceFile, src.TraceFile},
		{"trace-arrow", &dst.ArrowFile, src.ArrowFile},
		{"chart", &dst.ChartFile, src.ChartFile},
		{"json", &dst.JSONFile, src.JSONFile},
	}
	for _, p := range pairs {
		if fs.Changed(p.flag) {
			*p.dst = p.src
		}
	}
}

func loadBars(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) ([]strategies.Bar, error) {
	src, err := marketdata.New(cmd.Context(), cfg.Data, cfg.Backtest.Symbol, logger)
	if err != nil {
		return nil, err
	}
	if c, ok := src.(marketdata.Closer); ok {
		defer c.Close()
	}
	return src.Load(cmd.Context())
}

func runBacktest(cmd *cobra.Command, cfg *config.Config, logger *zap.Logger) error {
	params, err := cfg.Strategy.Params()
	if err != nil {
		return err
	}
	settings := cfg.Backtest.Settings()
	o := cfg.Output
	settings.RecordTrace = o.TraceFile != "" || o.ArrowFile != "" || o.ChartFile != ""

	bars, err := loadBars(cmd, cfg, logger)
	if err != nil {
		return fmt.Errorf("load bars: %w", err)
	}

	bt, err := engine.NewBacktest(params, settings, logger)
	if err != nil {
		return err
	}
	res, err := bt.Run(cmd.Context(), bars)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return err
	}
	path := func(name string) string { return filepath.Join(o.Dir, name) }

	if o.ResultsFile != "" {
		if err := engine.ExportReport(path(o.ResultsFile), res); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
	}
	if o.TradesFile != "" {
		if err := strategies.ExportTradesCSV(path(o.TradesFile), res.Symbol, res.Trades); err != nil {
			return fmt.Errorf("write trades: %w", err)
		}
	}
	if o.TraceFile != "" {
		if err := strategies.ExportIndicatorTraceCSV(path(o.TraceFile), res.Trace); err != nil {
			return fmt.Errorf("write trace: %w", err)
		}
	}
	if o.ArrowFile != "" {
		p := arrowpipeline.NewPipeline(arrowpipeline.Config{}, logger)
		if err := p.ExportTrace(path(o.ArrowFile), res.Trace); err != nil {
			return fmt.Errorf("write arrow trace: %w", err)
		}
	}
	if o.JSONFile != "" {
		if err := writeJSON(path(o.JSONFile), res); err != nil {
			return fmt.Errorf("write json: %w", err)
		}
	}
	if o.ChartFile != "" {
		if err := chart.Export(path(o.ChartFile), res, chart.Options{MaxBars: 5000}); err != nil {
			logger.Warn("Chart generation skipped", zap.Error(err))
		}
	}

	printKeyMetrics(cmd.OutOrStdout(), res)
	return nil
}

func writeJSON(filename string, v any) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printKeyMetrics(w io.Writer, res *engine.Result) {
	st := res.Stats
	fmt.Fprintf(w, "=== %s Keltner Mean Reversion ===\n", res.Symbol)
	fmt.Fprintf(w, "Period:             %s to %s UTC\n", st.Start.Format("2006-01-02 15:04"), st.End.Format("2006-01-02 15:04"))
	fmt.Fprintf(w, "Bars:               %d\n", res.Bars)
	fmt.Fprintf(w, "Total Return:       %.2f%%\n", st.ReturnPct)
	fmt.Fprintf(w, "Sharpe Ratio:       %.2f\n", st.SharpeRatio)
	fmt.Fprintf(w, "Max Drawdown:       %.2f%%\n", st.SignedMaxDrawdownPct())
	fmt.Fprintf(w, "Win Rate:           %.2f%%\n", st.WinRatePct)
	fmt.Fprintf(w, "Total Trades:       %d\n", st.Trades)
	fmt.Fprintf(w, "Avg Trade Duration: %s\n", st.AvgTradeDuration)
	fmt.Fprintf(w, "Best Trade:         %.2f%%\n", st.BestTradePct)
	fmt.Fprintf(w, "Worst Trade:        %.2f%%\n", st.WorstTradePct)
	if st.Trades == 0 {
		fmt.Fprintln(w, "No trades generated - strategy parameters may need adjustment")
	}
}
