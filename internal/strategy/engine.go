// Package strategy evaluates configured strategies against price history.
package strategy

import (
	"context"
	"fmt"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
	"autoTrader/internal/strategy/strategies"
)

// Config holds parameters for the strategy engine.
type Config struct {
	// Weights are the composite confidences per strategy name.
	Weights map[string]float64
	// MaxGap is the largest allowed distance between consecutive bars.
	// Zero disables the gap check.
	MaxGap time.Duration
}

// Engine turns a price history into exactly one Signal per evaluation.
type Engine struct {
	cfg    Config
	logger ports.Logger
}

// NewEngine creates a new Engine instance.
func NewEngine(cfg Config, logger ports.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for strategy engine")
	}
	if cfg.MaxGap < 0 {
		return nil, fmt.Errorf("max gap must not be negative")
	}
	if cfg.Weights == nil {
		cfg.Weights = strategies.DefaultWeights()
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Evaluate runs set against history. A single strategy is analysed
// directly; several are combined by a Composite vote. Malformed history
// yields HOLD with a data quality rationale. The result depends only on the
// inputs.
func (e *Engine) Evaluate(ctx context.Context, instrument string, history []domain.PriceBar, set []ports.Strategy) domain.Signal {
	name := setName(set)
	var at time.Time
	if len(history) > 0 {
		at = history[len(history)-1].Timestamp
	}

	if len(set) == 0 {
		return domain.Hold(instrument, name, at, "no strategies configured")
	}
	if err := ValidateHistory(instrument, history, e.cfg.MaxGap); err != nil {
		e.logger.Warn(ctx, "Price history rejected", map[string]interface{}{
			"instrument": instrument, "bars": len(history), "error": err.Error(),
		})
		return domain.Hold(instrument, name, at, "data quality: "+err.Error())
	}

	var strat ports.Strategy = set[0]
	if len(set) > 1 {
		composite, err := strategies.NewComposite(set, e.cfg.Weights)
		if err != nil {
			return domain.Hold(instrument, name, at, err.Error())
		}
		strat = composite
	}

	sig := strat.Analyze(history)
	e.logger.Debug(ctx, "Strategy evaluated", map[string]interface{}{
		"instrument": instrument,
		"strategy":   sig.StrategyID,
		"direction":  sig.Direction,
		"strength":   sig.Strength,
		"rationale":  sig.Rationale,
	})
	return sig
}

// RequiredDataPoints returns the number of bars the set needs.
func RequiredDataPoints(set []ports.Strategy) int {
	need := 0
	for _, s := range set {
		need = max(need, s.RequiredDataPoints())
	}
	return need
}

// ValidateHistory checks that every bar belongs to instrument, timestamps
// strictly increase and no gap exceeds maxGap (when positive).
func ValidateHistory(instrument string, history []domain.PriceBar, maxGap time.Duration) error {
	for i, bar := range history {
		if bar.Instrument != instrument {
			return fmt.Errorf("bar %d belongs to %q, expected %q: %w", i, bar.Instrument, instrument, ports.ErrDataQuality)
		}
		if i == 0 {
			continue
		}
		prev := history[i-1].Timestamp
		if !bar.Timestamp.After(prev) {
			return fmt.Errorf("non-monotonic timestamp at bar %d (%s after %s): %w",
				i, bar.Timestamp.Format(time.RFC3339), prev.Format(time.RFC3339), ports.ErrDataQuality)
		}
		if maxGap > 0 && bar.Timestamp.Sub(prev) > maxGap {
			return fmt.Errorf("gap of %s at bar %d exceeds tolerance %s: %w",
				bar.Timestamp.Sub(prev), i, maxGap, ports.ErrDataQuality)
		}
	}
	return nil
}

func setName(set []ports.Strategy) string {
	if len(set) == 1 {
		return set[0].Name()
	}
	return strategies.NameComposite
}
