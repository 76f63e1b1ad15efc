package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// clientReferenceSpace namespaces client references so they never collide
// with other name-based UUIDs.
var clientReferenceSpace = uuid.MustParse("6f1d4a8e-2b7c-5e90-9a3d-1c4b7e2f8a60")

// NewClientReference derives the idempotency key of an order from the
// instrument, the strategy and the cycle timestamp. Identical inputs always
// give the same key.
func NewClientReference(instrument, strategyID string, cycleAt time.Time) string {
	name := fmt.Sprintf("%s|%s|%d", instrument, strategyID, cycleAt.UTC().Unix())
	return uuid.NewSHA1(clientReferenceSpace, []byte(name)).String()
}

// OrderRequest is an approved signal turned into a brokerage order.
type OrderRequest struct {
	Instrument        string
	Market            string
	Side              OrderSide
	Quantity          float64
	OrderType         OrderType
	ClientReference   string
	OriginatingSignal Signal
}

// OrderOutcome is the result of submitting one OrderRequest.
type OrderOutcome struct {
	ClientReference string
	Instrument      string
	Side            OrderSide
	Status          OrderStatus
	FilledQuantity  float64
	FilledPrice     float64
	ErrorDetail     string
	Attempts        int
	RecordedAt      time.Time
}

// Balance is an account snapshot returned by the broker.
type Balance struct {
	Cash       float64 // immediately usable for new orders
	TotalValue float64 // cash plus marked positions
	Currency   string
}
