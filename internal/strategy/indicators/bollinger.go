package indicators

import "math"

// BollingerSeries holds aligned band values ending at the last input value.
type BollingerSeries struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

// Bollinger computes bands of k population standard deviations around the
// period SMA.
func Bollinger(values []float64, period int, k float64) (BollingerSeries, error) {
	middle, err := SMASeries(values, period)
	if err != nil {
		return BollingerSeries{}, err
	}
	upper := make([]float64, len(middle))
	lower := make([]float64, len(middle))
	for j, mean := range middle {
		variance := 0.0
		for _, v := range values[j : j+period] {
			variance += (v - mean) * (v - mean)
		}
		sd := math.Sqrt(variance / float64(period))
		upper[j] = mean + k*sd
		lower[j] = mean - k*sd
	}
	return BollingerSeries{Upper: upper, Middle: middle, Lower: lower}, nil
}

// PercentB returns where price sits within the band: 0 at the lower band,
// 1 at the upper band. A collapsed band returns 0.5.
func PercentB(price, lower, upper float64) float64 {
	width := upper - lower
	if width <= 0 {
		return 0.5
	}
	return (price - lower) / width
}
