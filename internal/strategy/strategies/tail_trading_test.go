package strategies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTrader/internal/domain"
)

// quietBars are n flat 15-minute candles around 100 that show no pattern.
func quietBars(n int, every time.Duration) []domain.PriceBar {
	bars := make([]domain.PriceBar, n)
	for i := range bars {
		bars[i] = domain.PriceBar{
			Instrument: "X", Timestamp: testStart.Add(time.Duration(i) * every),
			Open: 100, High: 100.5, Low: 99.5, Close: 100, Volume: 1000,
		}
	}
	return bars
}

func hammer(bars []domain.PriceBar, every time.Duration) []domain.PriceBar {
	at := bars[len(bars)-1].Timestamp.Add(every)
	return append(bars, domain.PriceBar{Instrument: "X", Timestamp: at, Open: 99, High: 100, Low: 97, Close: 99.8, Volume: 3000})
}

func TestTailTrading_LowerTailBuys(t *testing.T) {
	s, err := NewTailTrading(2, 1.5, 0.6, 30*time.Minute)
	require.NoError(t, err)

	sig := s.Analyze(hammer(quietBars(9, 15*time.Minute), 15*time.Minute))
	assert.Equal(t, domain.DirectionBuy, sig.Direction, sig.Rationale)
	assert.Equal(t, NameTail, sig.StrategyID)
	assert.InDelta(t, 0.7917, sig.Strength, 1e-3)
	assert.Contains(t, sig.Rationale, "lower tail")

	assert.Equal(t, domain.DirectionHold, s.Analyze(quietBars(10, 15*time.Minute)).Direction)
}

func TestTailTrading_UpperTailSells(t *testing.T) {
	s, err := NewTailTrading(2, 1.5, 0.6, 0)
	require.NoError(t, err)

	bars := quietBars(9, 15*time.Minute)
	bars = append(bars, domain.PriceBar{
		Instrument: "X", Timestamp: bars[8].Timestamp.Add(15 * time.Minute),
		Open: 100, High: 102, Low: 99, Close: 99.2, Volume: 1500,
	})
	sig := s.Analyze(bars)
	assert.Equal(t, domain.DirectionSell, sig.Direction, sig.Rationale)
	assert.GreaterOrEqual(t, sig.Strength, 0.3)
}

func TestTailTrading_NeedsVolumeSpike(t *testing.T) {
	s, err := NewTailTrading(2, 1.5, 0.6, 0)
	require.NoError(t, err)

	bars := hammer(quietBars(9, 15*time.Minute), 15*time.Minute)
	bars[len(bars)-1].Volume = 1000
	assert.Equal(t, domain.DirectionHold, s.Analyze(bars).Direction)
}

func TestTailTrading_CooldownInBarTime(t *testing.T) {
	s, err := NewTailTrading(2, 1.5, 0.6, 30*time.Minute)
	require.NoError(t, err)

	fast := hammer(hammer(quietBars(8, 15*time.Minute), 15*time.Minute), 15*time.Minute)
	sig := s.Analyze(fast)
	assert.Equal(t, domain.DirectionHold, sig.Direction)
	assert.Contains(t, sig.Rationale, "cooling down")

	slow := hammer(hammer(quietBars(8, time.Hour), time.Hour), time.Hour)
	assert.Equal(t, domain.DirectionBuy, s.Analyze(slow).Direction, "the earlier tail is outside the cooldown")

	// same history, same answer
	assert.Equal(t, s.Analyze(fast), s.Analyze(fast))
}

func TestNewTailTrading_Invalid(t *testing.T) {
	_, err := NewTailTrading(0, 1.5, 0.6, 0)
	assert.Error(t, err)
	_, err = NewTailTrading(2, 1.5, 1.2, 0)
	assert.Error(t, err)
	_, err = NewTailTrading(2, 1.5, 0.6, -time.Minute)
	assert.Error(t, err)
}
