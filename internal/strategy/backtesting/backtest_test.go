package backtesting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTrader/internal/domain"
	"autoTrader/internal/risk"
	"autoTrader/internal/strategy"
	"autoTrader/internal/strategy/strategies"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func dailyBars(closes []float64) []domain.PriceBar {
	start := time.Date(2026, 1, 5, 6, 30, 0, 0, time.UTC)
	bars := make([]domain.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = domain.PriceBar{
			Instrument: "X", Timestamp: start.Add(time.Duration(i) * 24 * time.Hour),
			Open: c, High: c, Low: c, Close: c, Volume: 1000,
		}
	}
	return bars
}

func setup(t *testing.T) (*strategy.Engine, BacktestConfig) {
	t.Helper()
	logger := &mockLogger{}
	engine, err := strategy.NewEngine(strategy.Config{}, logger)
	require.NoError(t, err)
	return engine, BacktestConfig{
		Instrument:   "X",
		Market:       "KR",
		InitialFunds: 10000,
		Risk:         risk.DefaultRiskConfig(),
		Logger:       logger,
	}
}

func TestBacktest(t *testing.T) {
	engine, cfg := setup(t)
	set, err := strategies.Build([]string{strategies.NameMACross}, strategies.DefaultParams())
	require.NoError(t, err)

	var closes []float64
	for i := 0; i < 20; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 130, 130, 130, 130, 130, 130, 90, 90, 90)

	result, err := Backtest(context.Background(), engine, set, dailyBars(closes), cfg)
	require.NoError(t, err)

	require.Len(t, result.Trades, 2)
	entry, exit := result.Trades[0], result.Trades[1]
	assert.Equal(t, domain.Buy, entry.Side)
	assert.Equal(t, 19.0, entry.Quantity) // 2500 / 130 rounded down
	assert.Equal(t, 130.0, entry.Price)
	assert.Equal(t, strategies.NameMACross, entry.StrategyID)

	assert.Equal(t, domain.Sell, exit.Side)
	assert.Equal(t, risk.StrategyRiskExit, exit.StrategyID)
	assert.InDelta(t, -760.0, exit.RealizedPnL, 1e-6)

	assert.Equal(t, 1, result.ForcedExits)
	assert.True(t, result.OpenPosition.IsFlat())
	assert.InDelta(t, 9240.0, result.FinalEquity, 1e-6)
	assert.Equal(t, 1, result.Performance.LosingTrades)
	assert.Equal(t, len(closes)-20, result.Bars)
}

func TestBacktest_Errors(t *testing.T) {
	engine, cfg := setup(t)
	set, err := strategies.Build([]string{strategies.NameMACross}, strategies.DefaultParams())
	require.NoError(t, err)

	_, err = Backtest(context.Background(), engine, set, dailyBars([]float64{1, 2, 3}), cfg)
	assert.Error(t, err, "insufficient data points")

	cfg.InitialFunds = 0
	_, err = Backtest(context.Background(), engine, set, dailyBars(make([]float64, 30)), cfg)
	assert.Error(t, err)
}

func TestCalculateSharpeRatio(t *testing.T) {
	tests := []struct {
		name          string
		returns       []float64
		expectedRatio float64
	}{
		{name: "Positive returns", returns: []float64{0.1, 0.2, 0.15}, expectedRatio: 3.0},
		{name: "Negative returns", returns: []float64{-0.1, -0.2, -0.15}, expectedRatio: -3.0},
		{name: "Mixed returns", returns: []float64{-0.1, 0.2, 0.0}, expectedRatio: 0.218218},
		{name: "Single return", returns: []float64{0.1}, expectedRatio: 0},
		{name: "Empty returns", returns: []float64{}, expectedRatio: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ratio := calculateSharpeRatio(tt.returns)
			if ratio-tt.expectedRatio > 0.0001 || ratio-tt.expectedRatio < -0.0001 {
				t.Errorf("Expected Sharpe ratio %f, got %f", tt.expectedRatio, ratio)
			}
		})
	}
}
