package strategies

import (
	"fmt"

	"autoTrader/internal/domain"
	"autoTrader/internal/strategy/indicators"
)

// RSIThreshold buys when RSI crosses below the oversold level and sells when
// it crosses above the overbought level.
type RSIThreshold struct {
	period     int
	oversold   float64
	overbought float64
}

// NewRSIThreshold creates an RSI threshold strategy.
func NewRSIThreshold(period int, oversold, overbought float64) (*RSIThreshold, error) {
	if period <= 0 {
		return nil, fmt.Errorf("RSI period must be positive")
	}
	if oversold <= 0 || overbought >= 100 || oversold >= overbought {
		return nil, fmt.Errorf("invalid RSI thresholds (oversold %.1f, overbought %.1f)", oversold, overbought)
	}
	return &RSIThreshold{period: period, oversold: oversold, overbought: overbought}, nil
}

// Name returns the name of the strategy
func (s *RSIThreshold) Name() string { return NameRSI }

// RequiredDataPoints is period+1 for the first RSI value plus one bar for
// the previous value.
func (s *RSIThreshold) RequiredDataPoints() int { return s.period + 2 }

// Analyze implements ports.Strategy.
func (s *RSIThreshold) Analyze(history []domain.PriceBar) domain.Signal {
	if len(history) < s.RequiredDataPoints() {
		return insufficientData(s.Name(), history, s.RequiredDataPoints())
	}
	inst, at := lastBar(history)

	series, err := indicators.RSISeries(domain.Closes(history), s.period)
	if err != nil {
		return domain.Hold(inst, s.Name(), at, err.Error())
	}
	curr, prev := series[len(series)-1], series[len(series)-2]
	detail := fmt.Sprintf("RSI %.2f -> %.2f", prev, curr)

	switch {
	case prev >= s.oversold && curr < s.oversold:
		strength := clamp(0.3+(s.oversold-curr)/s.oversold, 0.3, 1)
		return domain.Signal{Instrument: inst, StrategyID: s.Name(), Direction: domain.DirectionBuy,
			Strength: strength, GeneratedAt: at, Rationale: "crossed below oversold (" + detail + ")"}
	case prev <= s.overbought && curr > s.overbought:
		strength := clamp(0.3+(curr-s.overbought)/(100-s.overbought), 0.3, 1)
		return domain.Signal{Instrument: inst, StrategyID: s.Name(), Direction: domain.DirectionSell,
			Strength: strength, GeneratedAt: at, Rationale: "crossed above overbought (" + detail + ")"}
	default:
		return domain.Hold(inst, s.Name(), at, "no threshold crossing ("+detail+")")
	}
}
