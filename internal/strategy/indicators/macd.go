package indicators

import "fmt"

// MACDSeries holds aligned MACD line, signal line and histogram values.
// All three slices have the same length and end at the last input value.
type MACDSeries struct {
	Line      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the MACD line (fast EMA minus slow EMA), its signal EMA and
// the histogram. At least slow+signal-1 values are required.
func MACD(values []float64, fast, slow, signal int) (MACDSeries, error) {
	if err := validPeriod("MACD", fast); err != nil {
		return MACDSeries{}, err
	}
	if fast >= slow {
		return MACDSeries{}, fmt.Errorf("MACD: fast period %d must be less than slow period %d", fast, slow)
	}
	need := slow + signal - 1
	if len(values) < need {
		return MACDSeries{}, insufficient("MACD", need, len(values))
	}

	fastEMA, err := EMASeries(values, fast)
	if err != nil {
		return MACDSeries{}, err
	}
	slowEMA, err := EMASeries(values, slow)
	if err != nil {
		return MACDSeries{}, err
	}

	offset := slow - fast
	line := make([]float64, len(slowEMA))
	for i := range slowEMA {
		line[i] = fastEMA[i+offset] - slowEMA[i]
	}

	sig, err := EMASeries(line, signal)
	if err != nil {
		return MACDSeries{}, err
	}
	line = line[len(line)-len(sig):]
	hist := make([]float64, len(sig))
	for i := range sig {
		hist[i] = line[i] - sig[i]
	}
	return MACDSeries{Line: line, Signal: sig, Histogram: hist}, nil
}
