package engine

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"

	"atr-meanrev-backtest/strategies"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Metric selects how sweep results are ranked
type Metric string

const (
	MetricSharpe       Metric = "sharpe"
	MetricReturn       Metric = "return"
	MetricWinRate      Metric = "win_rate"
	MetricProfitFactor Metric = "profit_factor"
)

func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.ToLower(strings.TrimSpace(s))); m {
	case MetricSharpe, MetricReturn, MetricWinRate, MetricProfitFactor:
		return m, nil
	case "":
		return MetricSharpe, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

func (m Metric) value(s Stats) float64 {
	switch m {
	case MetricReturn:
		return s.ReturnPct
	case MetricWinRate:
		return s.WinRatePct
	case MetricProfitFactor:
		return s.ProfitFactor
	}
	return s.SharpeRatio
}

// SweepGrid lists candidate values per parameter. Empty lists keep the base value.
type SweepGrid struct {
	KcPeriods     []int             `json:"kc_periods"`
	KcMultipliers []float64         `json:"kc_multipliers"`
	AtrPeriods    []int             `json:"atr_periods"`
	TpMultipliers []decimal.Decimal `json:"tp_multipliers"`
	SlMultipliers []decimal.Decimal `json:"sl_multipliers"`
}

// Combinations expands the grid around base in a fixed order.
func (g SweepGrid) Combinations(base strategies.Params) []strategies.Params {
	kcPeriods := orDefault(g.KcPeriods, base.KcPeriod)
	kcMults := orDefault(g.KcMultipliers, base.KcMultiplier)
	atrPeriods := orDefault(g.AtrPeriods, base.AtrPeriod)
	tpMults := orDefault(g.TpMultipliers, base.TpMultiplier)
	slMults := orDefault(g.SlMultipliers, base.SlMultiplier)

	out := make([]strategies.Params, 0, len(kcPeriods)*len(kcMults)*len(atrPeriods)*len(tpMults)*len(slMults))
	for _, kp := range kcPeriods {
		for _, km := range kcMults {
			for _, ap := range atrPeriods {
				for _, tp := range tpMults {
					for _, sl := range slMults {
						p := base
						p.KcPeriod, p.KcMultiplier, p.AtrPeriod = kp, km, ap
						p.TpMultiplier, p.SlMultiplier = tp, sl
						out = append(out, p)
					}
				}
			}
		}
	}
	return out
}

func orDefault[T any](vals []T, def T) []T {
	if len(vals) == 0 {
		return []T{def}
	}
	return vals
}

// SweepResult is one grid point's outcome
type SweepResult struct {
	Rank   int               `json:"rank"`
	Params strategies.Params `json:"params"`
	Stats  Stats             `json:"stats"`
	Score  float64           `json:"score"`
	// Unbounded marks a profit-factor score with no losing trades. It ranks above every
	// finite score.
	Unbounded bool `json:"unbounded,omitempty"`
}

// SweepOptions controls a parameter sweep
type SweepOptions struct {
	Metric  Metric
	Workers int // <= 0 uses GOMAXPROCS
}

// Sweep backtests every grid combination concurrently and returns them best-first.
// Each backtest runs on one goroutine; the first error cancels the rest.
func Sweep(ctx context.Context, bars []strategies.Bar, base strategies.Params, grid SweepGrid, settings Settings, opts SweepOptions, logger *zap.Logger) ([]SweepResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Metric == "" {
		opts.Metric = MetricSharpe
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	combos := grid.Combinations(base)
	for i, p := range combos {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("combination %d: %w", i, err)
		}
	}
	settings.RecordTrace = false

	results := make([]SweepResult, len(combos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	logger.Info("Starting parameter sweep",
		zap.Int("combinations", len(combos)),
		zap.Int("workers", workers),
		zap.String("metric", string(opts.Metric)),
	)

	for i, p := range combos {
		i, p := i, p
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			bt, err := NewBacktest(p, settings, zap.NewNop())
			if err != nil {
				return err
			}
			res, err := bt.Run(gctx, bars)
			if err != nil {
				return fmt.Errorf("combination %d: %w", i, err)
			}
			results[i] = SweepResult{
				Params:    p,
				Stats:     res.Stats,
				Score:     opts.Metric.value(res.Stats),
				Unbounded: opts.Metric == MetricProfitFactor && res.Stats.NoLosingTrades,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rankResults(results)
	if len(results) > 0 {
		logger.Info("Sweep completed",
			zap.Int("combinations", len(results)),
			zap.Float64("best_score", results[0].Score),
		)
	}
	return results, nil
}

// rankResults orders best-first. Unbounded results lead, ordered by return.
func rankResults(results []SweepResult) {
	sort.SliceStable(results, func(a, b int) bool {
		ra, rb := results[a], results[b]
		if ra.Unbounded != rb.Unbounded {
			return ra.Unbounded
		}
		if ra.Unbounded {
			return ra.Stats.ReturnPct > rb.Stats.ReturnPct
		}
		return ra.Score > rb.Score
	})
	for i := range results {
		results[i].Rank = i + 1
	}
}
