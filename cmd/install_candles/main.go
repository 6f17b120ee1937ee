// Command install_candles loads a bar CSV into the ClickHouse klines table.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atr-meanrev-backtest/services/clickhouse"
	"atr-meanrev-backtest/services/config"
	"atr-meanrev-backtest/strategies"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRootCmd() *cobra.Command {
	var (
		configPath, csvPath, symbol, interval string
		derive                                []string
		batchSize                             int
	)
	cmd := &cobra.Command{
		Use:           "install_candles",
		Short:         "Install bars from a CSV file into ClickHouse",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := config.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if symbol == "" {
				symbol = cfg.Backtest.Symbol
			}
			if !cmd.Flags().Changed("interval") {
				interval = cfg.Data.ClickHouse.Interval
			}

			bars, err := strategies.LoadCSV(csvPath)
			if err != nil {
				return err
			}
			if tf, err := strategies.ParseTimeframe(interval); err == nil {
				if cad := strategies.DetectCadence(bars); cad != tf.Milliseconds() {
					logger.Warn("CSV cadence does not match interval label",
						zap.Duration("cadence", time.Duration(cad)*time.Millisecond),
						zap.String("interval", interval),
					)
				}
			}

			ch := cfg.Data.ClickHouse
			chCfg := clickhouse.Config{
				Addr:     ch.Addr,
				Database: ch.Database,
				Username: ch.Username,
				Password: ch.Password,
				Table:    ch.Table,
			}
			client, err := clickhouse.Open(cmd.Context(), chCfg)
			if err != nil {
				return err
			}
			defer client.Close()

			w, err := clickhouse.NewWriter(client, chCfg, batchSize, logger)
			if err != nil {
				return err
			}
			if err := w.EnsureSchema(cmd.Context()); err != nil {
				return err
			}
			n, err := w.WriteBars(cmd.Context(), symbol, interval, bars)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Installed %d %s bars for %s into %s.%s\n", n, interval, symbol, ch.Database, ch.Table)

			for _, dst := range derive {
				tf, err := strategies.ParseTimeframe(dst)
				if err != nil {
					return err
				}
				if err := w.Derive(cmd.Context(), symbol, interval, dst, tf); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Derived %s from %s\n", dst, interval)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	cmd.Flags().StringVar(&csvPath, "csv", "", "Bar CSV to install")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Symbol column value (default backtest.symbol)")
	cmd.Flags().StringVar(&interval, "interval", "15m", "Interval column value (default data.clickhouse.interval)")
	cmd.Flags().StringSliceVar(&derive, "derive", nil, "Also aggregate the installed bars into these intervals (e.g. 1h,4h)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 50_000, "Rows per insert batch")
	cmd.MarkFlagRequired("csv")
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
