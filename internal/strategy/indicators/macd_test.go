package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTrader/internal/domain"
)

func TestMACD_AlignedAndConsistent(t *testing.T) {
	values := make([]float64, 40)
	for i := range values {
		values[i] = 100 + math.Sin(float64(i)/3)*5
	}

	m, err := MACD(values, 12, 26, 9)
	require.NoError(t, err)
	require.Len(t, m.Signal, 40-26-9+2)
	assert.Len(t, m.Line, len(m.Signal))
	assert.Len(t, m.Histogram, len(m.Signal))

	fast, err := EMA(values, 12)
	require.NoError(t, err)
	slow, err := EMA(values, 26)
	require.NoError(t, err)
	assert.InDelta(t, fast-slow, m.Line[len(m.Line)-1], 1e-9)
	for i := range m.Histogram {
		assert.InDelta(t, m.Line[i]-m.Signal[i], m.Histogram[i], 1e-12)
	}
}

func TestMACD_Errors(t *testing.T) {
	_, err := MACD(make([]float64, 30), 12, 26, 9)
	assert.ErrorIs(t, err, ErrInsufficientData)

	_, err = MACD(make([]float64, 60), 26, 12, 9)
	assert.Error(t, err)
}

func TestBollinger(t *testing.T) {
	b, err := Bollinger([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8, 2)
	require.NoError(t, err)
	require.Len(t, b.Middle, 1)
	assert.InDelta(t, 5.0, b.Middle[0], 1e-9)
	assert.InDelta(t, 9.0, b.Upper[0], 1e-9) // population sd is 2
	assert.InDelta(t, 1.0, b.Lower[0], 1e-9)

	assert.InDelta(t, 0.5, PercentB(5, 1, 9), 1e-9)
	assert.Equal(t, 0.5, PercentB(5, 5, 5))
}

func TestATR(t *testing.T) {
	now := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	bars := []domain.PriceBar{
		{Timestamp: now, High: 11, Low: 9, Close: 10},
		{Timestamp: now.Add(24 * time.Hour), High: 12, Low: 10, Close: 11},
		{Timestamp: now.Add(48 * time.Hour), High: 13, Low: 11, Close: 12},
	}
	atr, err := ATR(bars, 2)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, atr, 1e-9)

	_, err = ATR(bars[:2], 2)
	assert.ErrorIs(t, err, ErrInsufficientData)
}
