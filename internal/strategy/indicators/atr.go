package indicators

import (
	"math"

	"autoTrader/internal/domain"
)

// ATR computes the Average True Range of bars using Wilder's smoothing.
func ATR(bars []domain.PriceBar, period int) (float64, error) {
	if err := validPeriod("ATR", period); err != nil {
		return 0, err
	}
	if len(bars) < period+1 {
		return 0, insufficient("ATR", period+1, len(bars))
	}

	trueRanges := make([]float64, len(bars))
	// First TR is just the high-low range
	trueRanges[0] = bars[0].High - bars[0].Low
	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		trueRanges[i] = math.Max(bars[i].High-bars[i].Low,
			math.Max(math.Abs(bars[i].High-prevClose), math.Abs(bars[i].Low-prevClose)))
	}

	atr := 0.0
	for i := 0; i < period; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(period)

	for i := period; i < len(bars); i++ {
		atr = (atr*float64(period-1) + trueRanges[i]) / float64(period)
	}
	return atr, nil
}
