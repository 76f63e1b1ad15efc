package strategies

import (
	"fmt"
	"math"

	"autoTrader/internal/domain"
	"autoTrader/internal/strategy/indicators"
)

// MACrossover signals a golden cross (BUY) or dead cross (SELL) of a short
// and a long simple moving average between the last two bars.
type MACrossover struct {
	short int
	long  int
}

// NewMACrossover creates a moving-average crossover strategy.
func NewMACrossover(short, long int) (*MACrossover, error) {
	if short <= 0 || long <= 0 {
		return nil, fmt.Errorf("moving average periods must be positive")
	}
	if short >= long {
		return nil, fmt.Errorf("short MA period (%d) must be less than long MA period (%d)", short, long)
	}
	return &MACrossover{short: short, long: long}, nil
}

// Name returns the name of the strategy
func (s *MACrossover) Name() string { return NameMACross }

// RequiredDataPoints needs one extra bar to compare consecutive averages.
func (s *MACrossover) RequiredDataPoints() int { return s.long + 1 }

// Analyze implements ports.Strategy.
func (s *MACrossover) Analyze(history []domain.PriceBar) domain.Signal {
	if len(history) < s.RequiredDataPoints() {
		return insufficientData(s.Name(), history, s.RequiredDataPoints())
	}
	inst, at := lastBar(history)
	closes := domain.Closes(history)

	shortMA, err := indicators.SMASeries(closes, s.short)
	if err != nil {
		return domain.Hold(inst, s.Name(), at, err.Error())
	}
	longMA, err := indicators.SMASeries(closes, s.long)
	if err != nil {
		return domain.Hold(inst, s.Name(), at, err.Error())
	}

	currShort, prevShort := shortMA[len(shortMA)-1], shortMA[len(shortMA)-2]
	currLong, prevLong := longMA[len(longMA)-1], longMA[len(longMA)-2]

	gapPct := 0.0
	if currLong != 0 {
		gapPct = (currShort - currLong) / currLong * 100
	}
	strength := math.Min(math.Abs(gapPct)/2, 1)
	detail := fmt.Sprintf("MA%d=%.4f MA%d=%.4f gap=%.2f%%", s.short, currShort, s.long, currLong, gapPct)

	switch {
	case prevShort <= prevLong && currShort > currLong:
		return domain.Signal{Instrument: inst, StrategyID: s.Name(), Direction: domain.DirectionBuy,
			Strength: strength, GeneratedAt: at, Rationale: "golden cross (" + detail + ")"}
	case prevShort >= prevLong && currShort < currLong:
		return domain.Signal{Instrument: inst, StrategyID: s.Name(), Direction: domain.DirectionSell,
			Strength: strength, GeneratedAt: at, Rationale: "dead cross (" + detail + ")"}
	default:
		return domain.Hold(inst, s.Name(), at, "no crossover ("+detail+")")
	}
}
