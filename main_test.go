package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTrader/internal/domain"
	"autoTrader/internal/utils"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("MARKETS_FILE", filepath.Join(dir, "markets.yaml"))
	t.Setenv("LOG_LEVEL", "error")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCommand_Subcommands(t *testing.T) {
	var names []string
	for _, c := range newRootCommand().Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "once", "schedule", "fetch", "backtest"}, names)
}

func TestTradingCommandsNeedCredentials(t *testing.T) {
	isolate(t)
	for _, cmd := range []string{"run", "once"} {
		_, err := execute(t, cmd)
		require.Error(t, err, cmd)
		assert.Contains(t, err.Error(), "BINANCE_API_KEY", cmd)
	}
}

func TestScheduleCommand(t *testing.T) {
	isolate(t)

	out, err := execute(t, "schedule", "--days", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "PRE_OPEN")
	assert.Contains(t, out, "SETTLEMENT")
	assert.NotContains(t, out, "INTRADAY")
	assert.Contains(t, out, "intraday triggers")

	_, err = execute(t, "schedule", "--days", "0")
	assert.Error(t, err)
}

func TestBacktestCommand(t *testing.T) {
	dir := isolate(t)
	t.Setenv("KLINE_INTERVAL", "1h")

	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.PriceBar, 300)
	for i := range bars {
		c := 100.0 + float64(i%40)
		if (i/40)%2 == 1 {
			c = 140 - float64(i%40)
		}
		bars[i] = domain.PriceBar{
			Instrument: "BTCUSDT", Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 10,
		}
	}
	path := filepath.Join(dir, "bars.csv")
	require.NoError(t, utils.WritePriceBarsToCSV(bars, path))

	out, err := execute(t, "backtest", "--csv", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Bars")
	assert.Contains(t, out, "300")
	assert.Contains(t, out, "Final equity")

	_, err = execute(t, "backtest", "--csv", filepath.Join(dir, "missing.csv"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestPrintCycle(t *testing.T) {
	cmd := newOnceCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)

	printCycle(cmd, domain.CycleResult{
		Market: "US", Instrument: "ETHUSDT", Status: domain.CycleCompleted,
		Signal:    domain.Signal{Direction: domain.DirectionBuy, Strength: 0.8},
		Outcome:   &domain.OrderOutcome{Status: domain.StatusFilled, FilledQuantity: 2, FilledPrice: 101.5},
		Duplicate: true,
	})
	printCycle(cmd, domain.CycleResult{
		Market: "KR", Instrument: "BTCUSDT", Status: domain.CycleCompleted,
		Signal:       domain.Signal{Direction: domain.DirectionSell, Strength: 1},
		RejectReason: "trade count",
	})

	lines := out.String()
	assert.Contains(t, lines, "FILLED 2 @ 101.5 (duplicate)")
	assert.Contains(t, lines, "rejected: trade count")
}
