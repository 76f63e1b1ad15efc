// Package strategies contains the built-in signal strategies and the
// registry that builds them from configured names.
package strategies

import (
	"fmt"
	"sort"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

// Registered strategy names.
const (
	NameMACross      = "MA_CROSS"
	NameRSI          = "RSI"
	NameMACD         = "MACD"
	NameBollingerATR = "BB_ATR"
	NameTail         = "TAIL"
	NameComposite    = "COMPOSITE"
)

// Params holds the parameters of every built-in strategy.
type Params struct {
	MAShort int
	MALong  int

	RSIPeriod     int
	RSIOversold   float64
	RSIOverbought float64

	MACDFast   int
	MACDSlow   int
	MACDSignal int

	BBPeriod  int
	BBStdDev  float64
	ATRPeriod int

	TailRatio       float64 // wick length over body
	TailVolumeRatio float64 // bar volume over the trailing mean
	TailRecovery    float64 // close position within the bar range, 0..1
	TailCooldown    time.Duration
}

// DefaultParams returns the standard parameter set.
func DefaultParams() Params {
	return Params{
		MAShort:       5,
		MALong:        20,
		RSIPeriod:     14,
		RSIOversold:   30,
		RSIOverbought: 70,
		MACDFast:      12,
		MACDSlow:      26,
		MACDSignal:    9,
		BBPeriod:      20,
		BBStdDev:      2.0,
		ATRPeriod:     14,

		TailRatio:       2.0,
		TailVolumeRatio: 1.5,
		TailRecovery:    0.6,
		TailCooldown:    30 * time.Minute,
	}
}

// DefaultWeights are the composite confidences per strategy.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		NameMACross:      1.0,
		NameRSI:          1.0,
		NameMACD:         1.0,
		NameBollingerATR: 1.5,
		NameTail:         1.0,
	}
}

// Factory builds one strategy from params.
type Factory func(p Params) (ports.Strategy, error)

var registry = map[string]Factory{
	NameMACross: func(p Params) (ports.Strategy, error) {
		return NewMACrossover(p.MAShort, p.MALong)
	},
	NameRSI: func(p Params) (ports.Strategy, error) {
		return NewRSIThreshold(p.RSIPeriod, p.RSIOversold, p.RSIOverbought)
	},
	NameMACD: func(p Params) (ports.Strategy, error) {
		return NewMACDCrossover(p.MACDFast, p.MACDSlow, p.MACDSignal)
	},
	NameBollingerATR: func(p Params) (ports.Strategy, error) {
		return NewBollingerATR(p.BBPeriod, p.BBStdDev, p.ATRPeriod)
	},
	NameTail: func(p Params) (ports.Strategy, error) {
		return NewTailTrading(p.TailRatio, p.TailVolumeRatio, p.TailRecovery, p.TailCooldown)
	},
}

// Names lists the registered strategy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Build constructs the strategies named in names, in the given order.
func Build(names []string, p Params) ([]ports.Strategy, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one strategy name is required")
	}
	out := make([]ports.Strategy, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		factory, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown strategy %q (known: %v)", name, Names())
		}
		if seen[name] {
			return nil, fmt.Errorf("strategy %q listed twice", name)
		}
		seen[name] = true
		s, err := factory(p)
		if err != nil {
			return nil, fmt.Errorf("failed to build strategy %s: %w", name, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// lastBar returns the instrument and timestamp a signal for history refers to.
func lastBar(history []domain.PriceBar) (string, time.Time) {
	if len(history) == 0 {
		return "", time.Time{}
	}
	last := history[len(history)-1]
	return last.Instrument, last.Timestamp
}

func insufficientData(name string, history []domain.PriceBar, need int) domain.Signal {
	inst, at := lastBar(history)
	return domain.Hold(inst, name, at, fmt.Sprintf("insufficient data: need %d bars, got %d", need, len(history)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
