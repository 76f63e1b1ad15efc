package optimization

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTrader/internal/domain"
	"autoTrader/internal/risk"
	"autoTrader/internal/strategy"
	"autoTrader/internal/strategy/analytics"
	"autoTrader/internal/strategy/backtesting"
	"autoTrader/internal/strategy/strategies"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// waveBars oscillates so moving averages cross repeatedly.
func waveBars(n int) []domain.PriceBar {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.PriceBar, n)
	for i := range bars {
		c := 100 + 10*math.Sin(float64(i)/6)
		bars[i] = domain.PriceBar{
			Instrument: "X", Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open: c, High: c, Low: c, Close: c, Volume: 1000,
		}
	}
	return bars
}

func newOptimizer(t *testing.T, ranges []ParameterRange) *Optimizer {
	t.Helper()
	logger := &mockLogger{}
	engine, err := strategy.NewEngine(strategy.Config{}, logger)
	require.NoError(t, err)
	rc := risk.DefaultRiskConfig()
	rc.MaxDailyTrades = 1000
	o, err := NewOptimizer(OptimizerConfig{
		ParameterRanges: ranges,
		Strategies:      []string{strategies.NameMACross},
		Base:            strategies.DefaultParams(),
		Backtest: backtesting.BacktestConfig{
			Instrument: "X", Market: "US", InitialFunds: 10000, Risk: rc, Logger: logger,
		},
		Parallelism: 2,
	}, engine)
	require.NoError(t, err)
	return o
}

func TestOptimizer(t *testing.T) {
	o := newOptimizer(t, []ParameterRange{
		{Name: "MAShort", Min: 3, Max: 5, Step: 1},
		{Name: "MALong", Min: 10, Max: 20, Step: 10},
	})

	results, err := o.Optimize(context.Background(), waveBars(200))
	require.NoError(t, err)
	require.Len(t, results, 6)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.NotNil(t, results[0].Metrics)
	assert.Contains(t, results[0].Parameters, "MAShort")
}

func TestOptimizer_InvalidCombinationsSkipped(t *testing.T) {
	o := newOptimizer(t, []ParameterRange{
		{Name: "MAShort", Min: 5, Max: 15, Step: 5},
		{Name: "MALong", Min: 10, Max: 10, Step: 1},
	})

	results, err := o.Optimize(context.Background(), waveBars(100))
	require.NoError(t, err)
	assert.Len(t, results, 1, "only 5/10 is a valid crossover")
}

func TestOptimizer_Canceled(t *testing.T) {
	o := newOptimizer(t, []ParameterRange{{Name: "MAShort", Min: 3, Max: 5, Step: 1}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Optimize(ctx, waveBars(100))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOptimizer_Validation(t *testing.T) {
	engine, err := strategy.NewEngine(strategy.Config{}, &mockLogger{})
	require.NoError(t, err)

	_, err = NewOptimizer(OptimizerConfig{}, engine)
	assert.Error(t, err)
	_, err = NewOptimizer(OptimizerConfig{ParameterRanges: []ParameterRange{{Name: "Leverage", Min: 1, Max: 2, Step: 1}}}, engine)
	assert.Error(t, err)
	_, err = NewOptimizer(OptimizerConfig{ParameterRanges: []ParameterRange{{Name: "MAShort", Min: 5, Max: 2, Step: 1}}}, engine)
	assert.Error(t, err)
	_, err = NewOptimizer(OptimizerConfig{ParameterRanges: []ParameterRange{{Name: "MAShort", Min: 1, Max: 2, Step: 1}}}, nil)
	assert.Error(t, err)
}

func TestGenerateParameterCombinations(t *testing.T) {
	o := &Optimizer{config: OptimizerConfig{ParameterRanges: []ParameterRange{
		{Name: "MAShort", Min: 3, Max: 7, Step: 2},
		{Name: "BBStdDev", Min: 1.5, Max: 2.5, Step: 0.5},
	}}}

	combos := o.generateParameterCombinations()
	require.Len(t, combos, 9)
	assert.Equal(t, map[string]float64{"MAShort": 3, "BBStdDev": 1.5}, combos[0])
	assert.Equal(t, map[string]float64{"MAShort": 7, "BBStdDev": 2.5}, combos[8])
}

func TestParseRanges(t *testing.T) {
	ranges, err := ParseRanges("MAShort=3:10:1, RSIOversold=20:35:5")
	require.NoError(t, err)
	assert.Equal(t, []ParameterRange{
		{Name: "MAShort", Min: 3, Max: 10, Step: 1},
		{Name: "RSIOversold", Min: 20, Max: 35, Step: 5},
	}, ranges)

	for _, bad := range []string{"MAShort", "MAShort=3:10", "MAShort=a:b:c"} {
		_, err := ParseRanges(bad)
		assert.Error(t, err, bad)
	}
}

func TestDefaultScoreFunction(t *testing.T) {
	assert.Zero(t, DefaultScoreFunction(nil))
	assert.Zero(t, DefaultScoreFunction(&analytics.PerformanceMetrics{}))

	good := DefaultScoreFunction(&analytics.PerformanceMetrics{ClosedTrades: 10, WinRate: 0.6, ProfitFactor: 2, MaxDrawdown: 0.1})
	bad := DefaultScoreFunction(&analytics.PerformanceMetrics{ClosedTrades: 10, WinRate: 0.3, ProfitFactor: 0.5, MaxDrawdown: 0.4})
	assert.Greater(t, good, bad)
	assert.InDelta(t, 0.24+0.2+0.27, good, 1e-9)
}
