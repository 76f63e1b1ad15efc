package indicators

// RSI computes the Relative Strength Index of the last value using Wilder's
// smoothing method.
func RSI(values []float64, period int) (float64, error) {
	series, err := RSISeries(values, period)
	if err != nil {
		return 0, err
	}
	return series[len(series)-1], nil
}

// RSISeries returns the RSI at every index from period onward, so the result
// has len(values)-period elements.
func RSISeries(values []float64, period int) ([]float64, error) {
	if err := validPeriod("RSI", period); err != nil {
		return nil, err
	}
	if len(values) <= period {
		return nil, insufficient("RSI", period+1, len(values))
	}

	changes := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		changes = append(changes, values[i]-values[i-1])
	}

	var avgGain, avgLoss float64
	for i := 0; i < period; i++ {
		if changes[i] > 0 {
			avgGain += changes[i]
		} else {
			avgLoss -= changes[i]
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	out := make([]float64, 0, len(values)-period)
	out = append(out, rsiValue(avgGain, avgLoss))

	p := float64(period)
	for i := period; i < len(changes); i++ {
		if changes[i] > 0 {
			avgGain = (avgGain*(p-1) + changes[i]) / p
			avgLoss = (avgLoss * (p - 1)) / p
		} else {
			avgGain = (avgGain * (p - 1)) / p
			avgLoss = (avgLoss*(p-1) - changes[i]) / p
		}
		out = append(out, rsiValue(avgGain, avgLoss))
	}
	return out, nil
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50 // Neutral if no change
		}
		return 100
	}
	rsi := 100 - (100 / (1 + avgGain/avgLoss))
	if rsi > 100 {
		return 100
	} else if rsi < 0 {
		return 0
	}
	return rsi
}
