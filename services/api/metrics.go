package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	bars     prometheus.Counter
	trades   prometheus.Counter
}

// NewMetrics registers the backtest collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meanrev_backtest_runs_total",
			Help: "Backtest runs by outcome",
		}, []string{"status"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "meanrev_backtest_duration_seconds",
			Help:    "Wall time of a backtest run including data loading",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14), // 5ms to ~40s
		}),
		bars: f.NewCounter(prometheus.CounterOpts{
			Name: "meanrev_backtest_bars_total",
			Help: "Bars replayed across all runs",
		}),
		trades: f.NewCounter(prometheus.CounterOpts{
			Name: "meanrev_backtest_trades_total",
			Help: "Trades closed across all runs",
		}),
	}
}

func (m *Metrics) observeRun(status string, seconds float64, bars, trades int) {
	m.runs.WithLabelValues(status).Inc()
	m.duration.Observe(seconds)
	m.bars.Add(float64(bars))
	m.trades.Add(float64(trades))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
