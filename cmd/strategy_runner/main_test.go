package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"atr-meanrev-backtest/services/arrowpipeline"
	"atr-meanrev-backtest/strategies"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTradeCSV(t *testing.T, dir string) string {
	t.Helper()
	bar := func(i int, o, h, l, c float64) strategies.Bar {
		return strategies.Bar{
			Timestamp: 1_704_067_200_000 + int64(i)*300_000,
			Open:      decimal.NewFromFloat(o),
			High:      decimal.NewFromFloat(h),
			Low:       decimal.NewFromFloat(l),
			Close:     decimal.NewFromFloat(c),
			Volume:    decimal.NewFromInt(5),
		}
	}
	var bars []strategies.Bar
	for i := 0; i < 19; i++ {
		bars = append(bars, bar(i, 100, 101, 99, 100))
	}
	bars = append(bars, bar(19, 98, 99, 96, 98.5), bar(20, 99, 102, 98, 101))
	var buf bytes.Buffer
	require.NoError(t, strategies.WriteBarsCSV(&buf, bars))
	path := filepath.Join(dir, "bars.csv")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	data := writeTradeCSV(t, dir)
	outDir := filepath.Join(dir, "out")

	out, err := execute(t, "run", "--log-level", "error", "-d", data, "-o", outDir,
		"--trace", "trace.csv", "--trace-arrow", "trace.arrow", "--json", "result.json")
	require.NoError(t, err)
	assert.Contains(t, out, "Total Trades:       1")

	for _, name := range []string{"xauusd_atr_backtest_results.txt", "xauusd_atr_trades.csv", "trace.csv", "trace.arrow", "result.json", "xauusd_atr_backtest.html"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}
	results, err := os.ReadFile(filepath.Join(outDir, "xauusd_atr_backtest_results.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(results), "Average Return per Trade")
}

func TestSweepCommand(t *testing.T) {
	dir := t.TempDir()
	data := writeTradeCSV(t, dir)
	csvOut := filepath.Join(dir, "sweep.csv")

	out, err := execute(t, "sweep", "--log-level", "error", "-d", data,
		"--grid-tp-mult", "1,1.5", "--grid-sl-mult", "0.5,1", "--metric", "return", "--out", csvOut)
	require.NoError(t, err)
	assert.Contains(t, out, "rank")

	b, err := os.ReadFile(csvOut)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.Len(t, lines, 5)
}

func TestResampleCommand(t *testing.T) {
	dir := t.TempDir()
	data := writeTradeCSV(t, dir)
	out := filepath.Join(dir, "bars_15m.arrow")

	_, err := execute(t, "resample", "--log-level", "error", "--in", data, "--out", out, "--tf", "15m", "--arrow")
	require.NoError(t, err)

	bars, err := arrowpipeline.FileSource{Path: out}.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, bars, 7)
	assert.Equal(t, "15", bars[0].Volume.String())
}
