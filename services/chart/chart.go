// Package chart renders a backtest as a standalone HTML page
package chart

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"atr-meanrev-backtest/services/engine"
	"atr-meanrev-backtest/strategies"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

var ErrNoTrace = errors.New("chart needs an indicator trace")

type Options struct {
	Title   string
	MaxBars int // keep only the most recent bars; <= 0 keeps all
}

const empty = "-" // echarts gap marker

// Render writes candles with SMA and Keltner bands, trade markers and the equity curve.
func Render(w io.Writer, res *engine.Result, o Options) error {
	trace := res.Trace
	if len(trace) == 0 {
		return ErrNoTrace
	}
	equity := res.Equity
	if o.MaxBars > 0 && len(trace) > o.MaxBars {
		trace = trace[len(trace)-o.MaxBars:]
		if len(equity) > o.MaxBars {
			equity = equity[len(equity)-o.MaxBars:]
		}
	}
	if o.Title == "" {
		o.Title = fmt.Sprintf("%s Keltner mean reversion", res.Symbol)
	}

	index := make(map[int64]int, len(trace))
	x := make([]string, len(trace))
	candles := make([]opts.KlineData, len(trace))
	sma := make([]opts.LineData, len(trace))
	upper := make([]opts.LineData, len(trace))
	lower := make([]opts.LineData, len(trace))
	for i, e := range trace {
		index[e.Timestamp] = i
		x[i] = time.UnixMilli(e.Timestamp).UTC().Format("2006-01-02 15:04")
		candles[i] = opts.KlineData{Value: [4]float64{
			e.Open.InexactFloat64(), e.Close.InexactFloat64(), e.Low.InexactFloat64(), e.High.InexactFloat64(),
		}}
		if e.ATR > 0 {
			sma[i] = opts.LineData{Value: e.SMA}
			upper[i] = opts.LineData{Value: e.Upper}
			lower[i] = opts.LineData{Value: e.Lower}
		} else {
			sma[i], upper[i], lower[i] = opts.LineData{Value: empty}, opts.LineData{Value: empty}, opts.LineData{Value: empty}
		}
	}

	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: o.Title}),
		charts.WithInitializationOpts(opts.Initialization{PageTitle: o.Title, Width: "1400px", Height: "650px"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", Start: 80, End: 100}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "inside", Start: 80, End: 100}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Top: "30px"}),
	)
	kline.SetXAxis(x).AddSeries(res.Symbol, candles)

	bands := charts.NewLine()
	bands.SetXAxis(x).
		AddSeries("SMA", sma, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#5470c6"})).
		AddSeries("Upper band", upper, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#91cc75"})).
		AddSeries("Lower band", lower, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#91cc75"}))

	markers := charts.NewScatter()
	markers.SetXAxis(x)
	for _, m := range tradeMarkers(res.Trades, index, len(trace)) {
		markers.AddSeries(m.name, m.points, charts.WithItemStyleOpts(opts.ItemStyle{Color: m.color}))
	}
	kline.Overlap(bands, markers)

	eq := charts.NewLine()
	eq.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Equity"}),
		charts.WithInitializationOpts(opts.Initialization{Width: "1400px", Height: "300px"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
		charts.WithTooltipOpts(opts.Tooltip{Trigger: "axis"}),
	)
	ex := make([]string, len(equity))
	ey := make([]opts.LineData, len(equity))
	for i, p := range equity {
		ex[i] = time.UnixMilli(p.Timestamp).UTC().Format("2006-01-02 15:04")
		ey[i] = opts.LineData{Value: p.Equity.InexactFloat64()}
	}
	eq.SetXAxis(ex).AddSeries("Equity", ey)

	page := components.NewPage()
	page.PageTitle = o.Title
	page.AddCharts(kline, eq)
	return page.Render(w)
}

type markerSeries struct {
	name   string
	color  string
	points []opts.ScatterData
}

func tradeMarkers(trades []strategies.Trade, index map[int64]int, n int) []markerSeries {
	series := []markerSeries{
		{name: "Long entry", color: "#26a69a"},
		{name: "Short entry", color: "#ef5350"},
		{name: "Take profit", color: "#1e88e5"},
		{name: "Stop loss", color: "#ff9800"},
	}
	for i := range series {
		series[i].points = make([]opts.ScatterData, n)
		for j := range series[i].points {
			series[i].points[j] = opts.ScatterData{Value: empty}
		}
	}
	put := func(s int, ts int64, price float64, symbol string) {
		if i, ok := index[ts]; ok {
			series[s].points[i] = opts.ScatterData{Value: price, Symbol: symbol, SymbolSize: 12}
		}
	}
	for _, t := range trades {
		if t.Side == strategies.SideLong {
			put(0, t.EntryTime, t.EntryPrice.InexactFloat64(), "triangle")
		} else {
			put(1, t.EntryTime, t.EntryPrice.InexactFloat64(), "triangle")
		}
		switch t.ExitReason {
		case strategies.ExitTakeProfit:
			put(2, t.ExitTime, t.ExitPrice.InexactFloat64(), "diamond")
		case strategies.ExitStopLoss:
			put(3, t.ExitTime, t.ExitPrice.InexactFloat64(), "diamond")
		}
	}
	return series
}

// Export renders to filename.
func Export(filename string, res *engine.Result, o Options) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := Render(f, res, o); err != nil {
		f.Close()
		return fmt.Errorf("render chart: %w", err)
	}
	return f.Close()
}
