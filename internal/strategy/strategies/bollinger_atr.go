package strategies

import (
	"fmt"
	"math"

	"autoTrader/internal/domain"
	"autoTrader/internal/strategy/indicators"
)

const volumeWindow = 20

// BollingerATR trades band re-entries confirmed by volume, and scales the
// signal strength down when ATR reports high volatility.
type BollingerATR struct {
	period    int
	stdDev    float64
	atrPeriod int
}

// NewBollingerATR creates a Bollinger band + ATR strategy.
func NewBollingerATR(period int, stdDev float64, atrPeriod int) (*BollingerATR, error) {
	if period <= 1 || atrPeriod <= 0 {
		return nil, fmt.Errorf("bollinger period must be > 1 and ATR period positive")
	}
	if stdDev <= 0 {
		return nil, fmt.Errorf("bollinger standard deviation multiplier must be positive")
	}
	return &BollingerATR{period: period, stdDev: stdDev, atrPeriod: atrPeriod}, nil
}

// Name returns the name of the strategy
func (s *BollingerATR) Name() string { return NameBollingerATR }

// RequiredDataPoints returns the minimum number of bars needed.
func (s *BollingerATR) RequiredDataPoints() int {
	return max(s.period+5, s.atrPeriod+1, volumeWindow)
}

// Analyze implements ports.Strategy.
func (s *BollingerATR) Analyze(history []domain.PriceBar) domain.Signal {
	if len(history) < s.RequiredDataPoints() {
		return insufficientData(s.Name(), history, s.RequiredDataPoints())
	}
	inst, at := lastBar(history)
	closes := domain.Closes(history)

	bands, err := indicators.Bollinger(closes, s.period, s.stdDev)
	if err != nil {
		return domain.Hold(inst, s.Name(), at, err.Error())
	}
	atr, err := indicators.ATR(history, s.atrPeriod)
	if err != nil {
		return domain.Hold(inst, s.Name(), at, err.Error())
	}

	n := len(bands.Middle)
	price, prevPrice := closes[len(closes)-1], closes[len(closes)-2]
	pos := indicators.PercentB(price, bands.Lower[n-1], bands.Upper[n-1])
	prevPos := indicators.PercentB(prevPrice, bands.Lower[n-2], bands.Upper[n-2])
	atrPct := 0.0
	if price != 0 {
		atrPct = atr / price * 100
	}
	volRatio := volumeRatio(history)
	detail := fmt.Sprintf("%%B=%.2f ATR=%.2f%% vol=%.1fx", pos, atrPct, volRatio)

	buy := func(reason string) domain.Signal {
		return domain.Signal{Instrument: inst, StrategyID: s.Name(), Direction: domain.DirectionBuy,
			Strength: buyStrength(pos, volRatio, atrPct), GeneratedAt: at, Rationale: reason + " (" + detail + ")"}
	}
	sell := func(reason string, strength float64) domain.Signal {
		return domain.Signal{Instrument: inst, StrategyID: s.Name(), Direction: domain.DirectionSell,
			Strength: strength, GeneratedAt: at, Rationale: reason + " (" + detail + ")"}
	}

	switch {
	case pos < 0.2 && prevPos <= 0:
		return buy("rebound from lower band")
	case pos < 0.15 && volRatio > 1.2:
		return buy("near lower band on rising volume")
	case pos > 0.8 && prevPos >= 1.0:
		return sell("rejected at upper band", sellStrength(pos, volRatio, atrPct))
	case pos > 0.85 && volRatio < 0.7:
		return sell("near upper band on fading volume", sellStrength(pos, volRatio, atrPct))
	case price < bands.Middle[n-1] && prevPrice >= bands.Middle[n-2]:
		return sell("broke below middle band", 0.3)
	default:
		return domain.Hold(inst, s.Name(), at, "inside bands ("+detail+")")
	}
}

// volumeRatio compares the last bar's volume with the trailing window mean.
func volumeRatio(history []domain.PriceBar) float64 {
	window := history[len(history)-volumeWindow:]
	total := 0.0
	for _, b := range window {
		total += b.Volume
	}
	mean := total / float64(len(window))
	if mean == 0 {
		return 1
	}
	return history[len(history)-1].Volume / mean
}

func buyStrength(pos, volRatio, atrPct float64) float64 {
	posScore := math.Max(0, 1-pos*5)
	volScore := volRatio * 0.5
	if volRatio > 1 {
		volScore = math.Min(1, volRatio/2)
	}
	volatilityPenalty := math.Max(0, 1-atrPct/5)
	return clamp(posScore*0.4+volScore*0.3+volatilityPenalty*0.3, 0.1, 1)
}

func sellStrength(pos, volRatio, atrPct float64) float64 {
	posScore := math.Max(0, (pos-0.8)*5)
	volScore := 0.3
	if volRatio < 1 {
		volScore = math.Min(1, 1/math.Max(volRatio, 0.3))
	}
	volatilityBonus := math.Min(1, atrPct/3)
	return clamp(posScore*0.4+volScore*0.3+volatilityBonus*0.3, 0.1, 1)
}
