package ports

import "autoTrader/internal/domain"

// Strategy defines the interface for trading strategies.
// Analyze must be a pure function of its input.
type Strategy interface {
	// Name identifies the strategy in signals and weights.
	Name() string

	// RequiredDataPoints returns the minimum number of bars needed for a non-HOLD signal.
	RequiredDataPoints() int

	// Analyze returns exactly one signal for the last bar of history.
	Analyze(history []domain.PriceBar) domain.Signal
}
