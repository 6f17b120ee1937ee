package main

import (
	"atr-meanrev-backtest/services/config"

	"github.com/spf13/pflag"
)

// strategyFlags binds CLI overrides for the strategy, backtest and data sections.
// Only flags the user actually set replace config values.
type strategyFlags struct {
	data, source, resample, start, end string
	symbol, entryMode                  string
	kcPeriod, atrPeriod                int
	kcMult, risk, tp, sl               float64
	cash, commission                   float64
	fractional                         bool
}

func (f *strategyFlags) register(fs *pflag.FlagSet) {
	fs.StringVarP(&f.data, "data", "d", "", "Input file for csv/arrow sources")
	fs.StringVar(&f.source, "source", "", "Data source: csv, arrow, clickhouse, influx")
	fs.StringVar(&f.resample, "resample", "", "Aggregate bars to this timeframe first (e.g. 1h)")
	fs.StringVar(&f.start, "from", "", "Start of the bar window (inclusive)")
	fs.StringVar(&f.end, "to", "", "End of the bar window (exclusive)")
	fs.StringVar(&f.symbol, "symbol", "", "Instrument symbol")
	fs.StringVar(&f.entryMode, "entry-mode", "", "signal-close or next-open")
	fs.IntVar(&f.kcPeriod, "kc-period", 0, "SMA period of the channel midline")
	fs.IntVar(&f.atrPeriod, "atr-period", 0, "ATR period")
	fs.Float64Var(&f.kcMult, "kc-mult", 0, "Channel width in ATRs")
	fs.Float64Var(&f.risk, "risk", 0, "Fraction of equity risked per trade")
	fs.Float64Var(&f.tp, "tp-mult", 0, "Take-profit distance in ATRs")
	fs.Float64Var(&f.sl, "sl-mult", 0, "Stop-loss distance in ATRs")
	fs.Float64Var(&f.cash, "cash", 0, "Starting cash")
	fs.Float64Var(&f.commission, "commission", 0, "Commission rate per side")
	fs.BoolVar(&f.fractional, "fractional", false, "Allow fractional position sizes")
}

func (f *strategyFlags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("data", func() { cfg.Data.Path = f.data })
	set("source", func() { cfg.Data.Source = f.source })
	set("resample", func() { cfg.Data.Resample = f.resample })
	set("from", func() { cfg.Data.Start = f.start })
	set("to", func() { cfg.Data.End = f.end })
	set("symbol", func() { cfg.Backtest.Symbol = f.symbol })
	set("entry-mode", func() { cfg.Strategy.EntryMode = f.entryMode })
	set("kc-period", func() { cfg.Strategy.KcPeriod = f.kcPeriod })
	set("atr-period", func() { cfg.Strategy.AtrPeriod = f.atrPeriod })
	set("kc-mult", func() { cfg.Strategy.KcMultiplier = f.kcMult })
	set("risk", func() { cfg.Strategy.RiskPerTrade = f.risk })
	set("tp-mult", func() { cfg.Strategy.TpMultiplier = f.tp })
	set("sl-mult", func() { cfg.Strategy.SlMultiplier = f.sl })
	set("cash", func() { cfg.Backtest.Cash = f.cash })
	set("commission", func() { cfg.Backtest.Commission = f.commission })
	set("fractional", func() { cfg.Strategy.WholeUnits = !f.fractional })
	return cfg.Validate()
}
