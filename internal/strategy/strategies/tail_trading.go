package strategies

import (
	"fmt"
	"math"
	"time"

	"autoTrader/internal/domain"
)

const tailVolumeWindow = 10

// TailTrading trades long candle wicks. A long lower wick that closes near
// the high on a volume spike after a dip is a BUY; a long upper wick that
// closes near the low on above-average volume is a SELL. After a pattern
// fires the instrument is left alone for the cooldown, measured in bar time
// so the result depends on the history only.
type TailTrading struct {
	tailRatio   float64
	volumeRatio float64
	recovery    float64
	cooldown    time.Duration
}

// NewTailTrading creates a wick pattern strategy.
func NewTailTrading(tailRatio, volumeRatio, recovery float64, cooldown time.Duration) (*TailTrading, error) {
	if tailRatio <= 0 || volumeRatio <= 0 {
		return nil, fmt.Errorf("tail and volume ratios must be positive")
	}
	if recovery <= 0 || recovery > 1 {
		return nil, fmt.Errorf("recovery must be within (0,1]")
	}
	if cooldown < 0 {
		return nil, fmt.Errorf("cooldown must not be negative")
	}
	return &TailTrading{tailRatio: tailRatio, volumeRatio: volumeRatio, recovery: recovery, cooldown: cooldown}, nil
}

// Name returns the name of the strategy
func (s *TailTrading) Name() string { return NameTail }

// RequiredDataPoints returns the minimum number of bars needed.
func (s *TailTrading) RequiredDataPoints() int { return 3 }

// Analyze implements ports.Strategy.
func (s *TailTrading) Analyze(history []domain.PriceBar) domain.Signal {
	if len(history) < s.RequiredDataPoints() {
		return insufficientData(s.Name(), history, s.RequiredDataPoints())
	}
	inst, at := lastBar(history)
	last := len(history) - 1

	sig, ok := s.detect(history, last)
	if !ok {
		return domain.Hold(inst, s.Name(), at, "no tail pattern")
	}
	for i := last - 1; i >= 2 && at.Sub(history[i].Timestamp) < s.cooldown; i-- {
		if _, fired := s.detect(history, i); fired {
			return domain.Hold(inst, s.Name(), at,
				fmt.Sprintf("cooling down after tail at %s", history[i].Timestamp.Format(time.RFC3339)))
		}
	}
	return sig
}

// detect looks for a wick pattern on bar i using only bars up to i.
func (s *TailTrading) detect(history []domain.PriceBar, i int) (domain.Signal, bool) {
	bar, prev := history[i], history[i-1]
	rng := bar.High - bar.Low
	if rng <= 0 {
		return domain.Signal{}, false
	}
	window := history[max(0, i+1-tailVolumeWindow) : i+1]
	var total float64
	for _, b := range window {
		total += b.Volume
	}
	volAvg := total / float64(len(window))
	volRatio := 0.0
	if volAvg > 0 {
		volRatio = bar.Volume / volAvg
	}

	// doji candles get a floor body so the ratios stay finite
	body := math.Max(math.Abs(bar.Close-bar.Open), rng*0.01)
	lowerWick := math.Min(bar.Open, bar.Close) - bar.Low
	upperWick := bar.High - math.Max(bar.Open, bar.Close)
	closePos := (bar.Close - bar.Low) / rng
	volScore := func(threshold float64) float64 {
		if volAvg <= 0 {
			return 0.5
		}
		return math.Min(volRatio/threshold, 2) / 2
	}
	signal := func(dir domain.Direction, strength float64, pattern string) domain.Signal {
		return domain.Signal{
			Instrument:  bar.Instrument,
			StrategyID:  s.Name(),
			Direction:   dir,
			Strength:    clamp(strength, 0.3, 1),
			GeneratedAt: bar.Timestamp,
			Rationale: fmt.Sprintf("%s: close %.4f low %.4f lower wick %.4f upper wick %.4f body %.4f volume %.1fx",
				pattern, bar.Close, bar.Low, lowerWick, upperWick, body, volRatio),
		}
	}

	switch {
	case lowerWick >= body*s.tailRatio &&
		closePos >= s.recovery &&
		(volAvg <= 0 || volRatio >= s.volumeRatio) &&
		(prev.Close <= 0 || bar.Low < prev.Close*0.997):
		tailScore := math.Min(lowerWick/body/s.tailRatio, 2) / 2
		recoveryScore := math.Min(closePos/s.recovery, 1.5) / 1.5
		return signal(domain.DirectionBuy, tailScore*0.4+volScore(s.volumeRatio)*0.35+recoveryScore*0.25, "lower tail rebound"), true
	case upperWick >= body*s.tailRatio &&
		closePos <= 0.4 &&
		(volAvg <= 0 || volRatio >= 1):
		tailScore := math.Min(upperWick/body/s.tailRatio, 2) / 2
		return signal(domain.DirectionSell, tailScore*0.5+volScore(1)*0.5, "upper tail rejection"), true
	}
	return domain.Signal{}, false
}
