package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the held quantity of one instrument. Quantity is signed:
// positive is long, negative is short, zero is flat.
type Position struct {
	Instrument  string
	Quantity    float64
	AverageCost float64
	OpenedAt    time.Time
	LastUpdated time.Time
}

// IsFlat reports whether no quantity is held.
func (p Position) IsFlat() bool {
	return p.Quantity == 0
}

// UnrealizedPct returns the unrealized return in percent at price, signed from
// the holder's point of view. A flat position or zero cost returns 0.
func (p Position) UnrealizedPct(price float64) float64 {
	if p.IsFlat() || p.AverageCost == 0 {
		return 0
	}
	pct := (price - p.AverageCost) / p.AverageCost * 100
	if p.Quantity < 0 {
		return -pct
	}
	return pct
}

// ApplyFill returns the position after a fill of qty at price, together with
// the P&L realized by the part of the fill that reduced the position.
// Adding to a position updates the weighted average cost; crossing through
// zero opens the remainder at the fill price.
func (p Position) ApplyFill(side OrderSide, qty, price float64, at time.Time) (Position, float64) {
	if qty <= 0 {
		return p, 0
	}
	cur := decimal.NewFromFloat(p.Quantity)
	avg := decimal.NewFromFloat(p.AverageCost)
	fillQty := decimal.NewFromFloat(qty)
	fillPx := decimal.NewFromFloat(price)
	if side == Sell {
		fillQty = fillQty.Neg()
	}

	next := p
	next.LastUpdated = at
	realized := decimal.Zero
	newQty := cur.Add(fillQty)

	switch {
	case cur.IsZero() || cur.Sign() == fillQty.Sign():
		// opening or adding
		total := cur.Abs().Add(fillQty.Abs())
		cost := cur.Abs().Mul(avg).Add(fillQty.Abs().Mul(fillPx))
		next.AverageCost = cost.Div(total).InexactFloat64()
		if cur.IsZero() {
			next.OpenedAt = at
		}
	default:
		// reducing, closing or flipping
		closed := decimal.Min(cur.Abs(), fillQty.Abs())
		perUnit := fillPx.Sub(avg)
		if cur.Sign() < 0 {
			perUnit = perUnit.Neg()
		}
		realized = perUnit.Mul(closed)
		switch {
		case newQty.IsZero():
			next.AverageCost = 0
			next.OpenedAt = time.Time{}
		case newQty.Sign() != cur.Sign():
			next.AverageCost = fillPx.InexactFloat64()
			next.OpenedAt = at
		}
	}
	next.Quantity = newQty.InexactFloat64()
	return next, realized.InexactFloat64()
}
