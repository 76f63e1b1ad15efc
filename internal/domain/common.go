package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Direction is the recommendation carried by a Signal.
type Direction string

const (
	DirectionBuy  Direction = "BUY"
	DirectionSell Direction = "SELL"
	DirectionHold Direction = "HOLD"
)

// Side maps an actionable direction to the order side that implements it.
// HOLD has no side and reports false.
func (d Direction) Side() (OrderSide, bool) {
	switch d {
	case DirectionBuy:
		return Buy, true
	case DirectionSell:
		return Sell, true
	default:
		return "", false
	}
}

// OrderType is the execution style requested from the broker.
type OrderType string

const OrderTypeMarket OrderType = "MARKET"

// OrderStatus is the terminal status of one order submission.
type OrderStatus string

const (
	StatusFilled   OrderStatus = "FILLED"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusRejected OrderStatus = "REJECTED"
	StatusTimeout  OrderStatus = "TIMEOUT"
)

// IsFill reports whether the status moved shares.
func (s OrderStatus) IsFill() bool {
	return s == StatusFilled || s == StatusPartial
}
