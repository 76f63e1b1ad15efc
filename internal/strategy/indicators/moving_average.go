package indicators

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	series, err := SMASeries(values[max(0, len(values)-period):], period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// SMASeries returns the rolling simple moving average. Element j covers
// values[j : j+period], so the result has len(values)-period+1 elements.
func SMASeries(values []float64, period int) ([]float64, error) {
	if err := validPeriod("SMA", period); err != nil {
		return nil, err
	}
	if len(values) < period {
		return nil, insufficient("SMA", period, len(values))
	}

	out := make([]float64, 0, len(values)-period+1)
	total := 0.0
	for i := 0; i < period; i++ {
		total += values[i]
	}
	out = append(out, total/float64(period))
	for i := period; i < len(values); i++ {
		total += values[i] - values[i-period]
		out = append(out, total/float64(period))
	}
	return out, nil
}

// EMA returns the exponential moving average of values, seeded with the SMA
// of the first period values.
func EMA(values []float64, period int) (float64, error) {
	series, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// EMASeries returns the EMA for every index from period-1 onward, so the
// result has len(values)-period+1 elements.
func EMASeries(values []float64, period int) ([]float64, error) {
	if err := validPeriod("EMA", period); err != nil {
		return nil, err
	}
	if len(values) < period {
		return nil, insufficient("EMA", period, len(values))
	}

	multiplier := 2.0 / float64(period+1)
	seed := 0.0
	for i := 0; i < period; i++ {
		seed += values[i]
	}
	ema := seed / float64(period)

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out = append(out, ema)
	}
	return out, nil
}
