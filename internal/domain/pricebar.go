package domain

import "time"

// PriceBar represents a single OHLCV bar for one instrument.
type PriceBar struct {
	Instrument string    // Instrument symbol (e.g., "005930", "AAPL")
	Timestamp  time.Time // Start time of the bar interval
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

// Closes extracts the close prices of bars in order.
func Closes(bars []PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// MarketSnapshot is the last bar of a refreshed history, stored during pre-open.
type MarketSnapshot struct {
	Market string
	Bar    PriceBar
}
