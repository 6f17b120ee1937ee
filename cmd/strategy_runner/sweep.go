package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"atr-meanrev-backtest/services/engine"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	var (
		flags      strategyFlags
		kcPeriods  []int
		atrPeriods []int
		kcMults    []float64
		tpMults    []float64
		slMults    []float64
		metric     string
		workers    int
		top        int
		outCSV     string
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Backtest a grid of parameters and rank the results",
		Example: `  strategy_runner sweep -d XAU_15m_data.csv --grid-kc-mult 1,1.5,2 --grid-tp-mult 1,1.5,2 --metric sharpe
  strategy_runner sweep --source clickhouse --grid-sl-mult 0.5,1 --top 5`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if err := flags.apply(cmd.Flags(), cfg); err != nil {
				return err
			}
			m, err := engine.ParseMetric(metric)
			if err != nil {
				return err
			}
			base, err := cfg.Strategy.Params()
			if err != nil {
				return err
			}

			bars, err := loadBars(cmd, cfg, logger)
			if err != nil {
				return fmt.Errorf("load bars: %w", err)
			}

			grid := engine.SweepGrid{
				KcPeriods:     kcPeriods,
				KcMultipliers: kcMults,
				AtrPeriods:    atrPeriods,
				TpMultipliers: toDecimals(tpMults),
				SlMultipliers: toDecimals(slMults),
			}
			results, err := engine.Sweep(cmd.Context(), bars, base, grid, cfg.Backtest.Settings(),
				engine.SweepOptions{Metric: m, Workers: workers}, logger)
			if err != nil {
				return err
			}

			shown := results
			if top > 0 && len(shown) > top {
				shown = shown[:top]
			}
			if err := printSweep(cmd.OutOrStdout(), shown); err != nil {
				return err
			}
			if outCSV != "" {
				f, err := os.Create(outCSV)
				if err != nil {
					return err
				}
				if err := writeSweepCSV(f, results); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			}
			return nil
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().IntSliceVar(&kcPeriods, "grid-kc-period", nil, "Channel SMA periods to try")
	cmd.Flags().IntSliceVar(&atrPeriods, "grid-atr-period", nil, "ATR periods to try")
	cmd.Flags().Float64SliceVar(&kcMults, "grid-kc-mult", nil, "Channel multipliers to try")
	cmd.Flags().Float64SliceVar(&tpMults, "grid-tp-mult", nil, "Take-profit multipliers to try")
	cmd.Flags().Float64SliceVar(&slMults, "grid-sl-mult", nil, "Stop-loss multipliers to try")
	cmd.Flags().StringVar(&metric, "metric", "sharpe", "Ranking metric: sharpe, return, win_rate, profit_factor")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent backtests (default GOMAXPROCS)")
	cmd.Flags().IntVar(&top, "top", 10, "Rows to print; 0 prints all")
	cmd.Flags().StringVar(&outCSV, "out", "", "Write every ranked result to this CSV")
	return cmd
}

func toDecimals(vs []float64) []decimal.Decimal {
	if len(vs) == 0 {
		return nil
	}
	out := make([]decimal.Decimal, len(vs))
	for i, v := range vs {
		out[i] = decimal.NewFromFloat(v)
	}
	return out
}

func printSweep(w io.Writer, results []engine.SweepResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "rank\tkc_period\tkc_mult\tatr_period\ttp_mult\tsl_mult\ttrades\twin%\treturn%\tsharpe\tmax_dd%\tscore\t")
	for _, r := range results {
		p, s := r.Params, r.Stats
		fmt.Fprintf(tw, "%d\t%d\t%g\t%d\t%s\t%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%s\t\n",
			r.Rank, p.KcPeriod, p.KcMultiplier, p.AtrPeriod, p.TpMultiplier, p.SlMultiplier,
			s.Trades, s.WinRatePct, s.ReturnPct, s.SharpeRatio, s.SignedMaxDrawdownPct(), score(r))
	}
	return tw.Flush()
}

func writeSweepCSV(w io.Writer, results []engine.SweepResult) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"rank", "kc_period", "kc_multiplier", "atr_period", "tp_multiplier", "sl_multiplier",
		"trades", "win_rate_pct", "return_pct", "sharpe_ratio", "max_drawdown_pct", "profit_factor", "score"})
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 4, 64) }
	for _, r := range results {
		p, s := r.Params, r.Stats
		cw.Write([]string{
			strconv.Itoa(r.Rank), strconv.Itoa(p.KcPeriod), f(p.KcMultiplier), strconv.Itoa(p.AtrPeriod),
			p.TpMultiplier.String(), p.SlMultiplier.String(),
			strconv.Itoa(s.Trades), f(s.WinRatePct), f(s.ReturnPct), f(s.SharpeRatio), f(s.MaxDrawdownPct),
			f(s.ProfitFactor), score(r),
		})
	}
	cw.Flush()
	return cw.Error()
}

func score(r engine.SweepResult) string {
	if r.Unbounded {
		return "inf"
	}
	return strconv.FormatFloat(r.Score, 'f', 4, 64)
}
