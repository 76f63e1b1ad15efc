package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
	"autoTrader/internal/strategy/strategies"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	debugMsgs []string
	warnMsgs  []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var start = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func dailyBars(instrument string, closes ...float64) []domain.PriceBar {
	bars := make([]domain.PriceBar, len(closes))
	for i, c := range closes {
		bars[i] = domain.PriceBar{
			Instrument: instrument,
			Timestamp:  start.Add(time.Duration(i) * 24 * time.Hour),
			Open:       c, High: c, Low: c, Close: c, Volume: 1000,
		}
	}
	return bars
}

func goldenCross() []float64 {
	closes := make([]float64, 0, 21)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100)
	}
	return append(closes, 130)
}

func newTestEngine(t *testing.T, maxGap time.Duration) (*Engine, *mockLogger) {
	t.Helper()
	log := &mockLogger{}
	e, err := NewEngine(Config{MaxGap: maxGap}, log)
	require.NoError(t, err)
	return e, log
}

func TestNewEngine(t *testing.T) {
	_, err := NewEngine(Config{}, nil)
	assert.Error(t, err)

	_, err = NewEngine(Config{MaxGap: -time.Second}, &mockLogger{})
	assert.Error(t, err)
}

func TestEngine_SingleStrategy(t *testing.T) {
	e, _ := newTestEngine(t, 0)
	set, err := strategies.Build([]string{strategies.NameMACross}, strategies.DefaultParams())
	require.NoError(t, err)

	sig := e.Evaluate(context.Background(), "X", dailyBars("X", goldenCross()...), set)
	assert.Equal(t, domain.DirectionBuy, sig.Direction)
	assert.Equal(t, strategies.NameMACross, sig.StrategyID)
	assert.Equal(t, "X", sig.Instrument)
}

func TestEngine_CompositeForManyStrategies(t *testing.T) {
	e, _ := newTestEngine(t, 0)
	// MACD lacks history here and abstains.
	set, err := strategies.Build([]string{strategies.NameMACross, strategies.NameMACD}, strategies.DefaultParams())
	require.NoError(t, err)

	sig := e.Evaluate(context.Background(), "X", dailyBars("X", goldenCross()...), set)
	assert.Equal(t, strategies.NameComposite, sig.StrategyID)
	assert.Equal(t, domain.DirectionBuy, sig.Direction)
}

func TestEngine_Deterministic(t *testing.T) {
	e, _ := newTestEngine(t, 0)
	set, err := strategies.Build(strategies.Names(), strategies.DefaultParams())
	require.NoError(t, err)

	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64((i*7)%11) - float64(i%3)
	}
	history := dailyBars("X", closes...)

	first := e.Evaluate(context.Background(), "X", history, set)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.Evaluate(context.Background(), "X", history, set))
	}
}

func TestEngine_DataQuality(t *testing.T) {
	set, err := strategies.Build([]string{strategies.NameMACross}, strategies.DefaultParams())
	require.NoError(t, err)

	tests := []struct {
		name    string
		maxGap  time.Duration
		history func() []domain.PriceBar
	}{
		{
			name: "non-monotonic timestamps",
			history: func() []domain.PriceBar {
				bars := dailyBars("X", goldenCross()...)
				bars[10].Timestamp = bars[9].Timestamp
				return bars
			},
		},
		{
			name:   "gap above tolerance",
			maxGap: 4 * 24 * time.Hour,
			history: func() []domain.PriceBar {
				bars := dailyBars("X", goldenCross()...)
				for i := 15; i < len(bars); i++ {
					bars[i].Timestamp = bars[i].Timestamp.Add(10 * 24 * time.Hour)
				}
				return bars
			},
		},
		{
			name: "foreign instrument",
			history: func() []domain.PriceBar {
				bars := dailyBars("X", goldenCross()...)
				bars[3].Instrument = "Y"
				return bars
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, log := newTestEngine(t, tt.maxGap)
			sig := e.Evaluate(context.Background(), "X", tt.history(), set)
			assert.Equal(t, domain.DirectionHold, sig.Direction)
			assert.Contains(t, sig.Rationale, "data quality")
			assert.Len(t, log.warnMsgs, 1)
		})
	}
}

func TestEngine_EmptySet(t *testing.T) {
	e, _ := newTestEngine(t, 0)
	sig := e.Evaluate(context.Background(), "X", dailyBars("X", 1, 2), []ports.Strategy{})
	assert.Equal(t, domain.DirectionHold, sig.Direction)
}

func TestValidateHistory(t *testing.T) {
	assert.NoError(t, ValidateHistory("X", nil, time.Hour))
	assert.NoError(t, ValidateHistory("X", dailyBars("X", 1, 2, 3), 24*time.Hour))
	err := ValidateHistory("X", dailyBars("X", 1, 2, 3), time.Hour)
	assert.ErrorIs(t, err, ports.ErrDataQuality)
}

func TestRequiredDataPoints(t *testing.T) {
	set, err := strategies.Build([]string{strategies.NameMACross, strategies.NameMACD}, strategies.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, 35, RequiredDataPoints(set))
}
