package strategies

import (
	"fmt"
	"math"

	"autoTrader/internal/domain"
	"autoTrader/internal/strategy/indicators"
)

// MACDCrossover buys when the MACD line crosses above its signal line and
// sells on the reverse.
type MACDCrossover struct {
	fast   int
	slow   int
	signal int
}

// NewMACDCrossover creates a MACD crossover strategy.
func NewMACDCrossover(fast, slow, signal int) (*MACDCrossover, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return nil, fmt.Errorf("MACD periods must be positive")
	}
	if fast >= slow {
		return nil, fmt.Errorf("MACD fast period (%d) must be less than slow period (%d)", fast, slow)
	}
	return &MACDCrossover{fast: fast, slow: slow, signal: signal}, nil
}

// Name returns the name of the strategy
func (s *MACDCrossover) Name() string { return NameMACD }

// RequiredDataPoints yields two aligned signal-line values.
func (s *MACDCrossover) RequiredDataPoints() int { return s.slow + s.signal }

// Analyze implements ports.Strategy.
func (s *MACDCrossover) Analyze(history []domain.PriceBar) domain.Signal {
	if len(history) < s.RequiredDataPoints() {
		return insufficientData(s.Name(), history, s.RequiredDataPoints())
	}
	inst, at := lastBar(history)

	m, err := indicators.MACD(domain.Closes(history), s.fast, s.slow, s.signal)
	if err != nil {
		return domain.Hold(inst, s.Name(), at, err.Error())
	}
	n := len(m.Line)
	currLine, prevLine := m.Line[n-1], m.Line[n-2]
	currSig, prevSig := m.Signal[n-1], m.Signal[n-2]
	hist := m.Histogram[n-1]

	strength := clamp(math.Abs(hist)/(math.Abs(currSig)+1e-10), 0.3, 1)
	detail := fmt.Sprintf("MACD=%.4f signal=%.4f hist=%.4f", currLine, currSig, hist)

	switch {
	case prevLine <= prevSig && currLine > currSig:
		return domain.Signal{Instrument: inst, StrategyID: s.Name(), Direction: domain.DirectionBuy,
			Strength: strength, GeneratedAt: at, Rationale: "bullish crossover (" + detail + ")"}
	case prevLine >= prevSig && currLine < currSig:
		return domain.Signal{Instrument: inst, StrategyID: s.Name(), Direction: domain.DirectionSell,
			Strength: strength, GeneratedAt: at, Rationale: "bearish crossover (" + detail + ")"}
	default:
		return domain.Hold(inst, s.Name(), at, "no crossover ("+detail+")")
	}
}
