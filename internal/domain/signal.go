package domain

import "time"

// Signal is a strategy's directional recommendation for one instrument at one
// point in time. Signals are values; a correction is a new Signal.
type Signal struct {
	Instrument  string
	StrategyID  string
	Direction   Direction
	Strength    float64 // 0..1
	GeneratedAt time.Time
	Rationale   string
}

// Hold builds a HOLD signal with the given rationale.
func Hold(instrument, strategyID string, at time.Time, rationale string) Signal {
	return Signal{
		Instrument:  instrument,
		StrategyID:  strategyID,
		Direction:   DirectionHold,
		GeneratedAt: at,
		Rationale:   rationale,
	}
}

// IsActionable reports whether the signal asks for an order.
func (s Signal) IsActionable() bool {
	return s.Direction == DirectionBuy || s.Direction == DirectionSell
}
