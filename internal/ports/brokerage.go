package ports

import (
	"context"

	"autoTrader/internal/domain"
)

// MarketData serves ordered price history.
type MarketData interface {
	// GetPriceHistory returns up to lookback bars ending at the latest bar,
	// oldest first. Fails with ErrDataUnavailable when the instrument or range
	// cannot be served.
	GetPriceHistory(ctx context.Context, instrument string, lookback int) ([]domain.PriceBar, error)
}

// Brokerage places orders and reports account state.
// Failures wrap ErrAuthExpired, ErrTransport, ErrTimeout or ErrBrokerRejected.
type Brokerage interface {
	// SubmitOrder sends one order. The client reference is passed to the
	// broker so a repeated submission is recognised on its side too.
	SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error)
	// GetPosition returns the broker's view of a position; flat when none.
	GetPosition(ctx context.Context, instrument string) (domain.Position, error)
	// GetAccountBalance returns the current balance snapshot.
	GetAccountBalance(ctx context.Context) (domain.Balance, error)
}
