// Package throttle wraps brokerage and market data adapters with a shared
// token-bucket limiter so every venue call stays under the API quota.
package throttle

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

// Venue is what a brokerage adapter usually provides: data and orders.
type Venue interface {
	ports.MarketData
	ports.Brokerage
}

// Limited implements ports.MarketData and ports.Brokerage by waiting on the
// limiter before delegating.
type Limited struct {
	next    Venue
	limiter *rate.Limiter
}

// New limits next to perSecond calls with the given burst. A non-positive
// perSecond disables limiting.
func New(next Venue, perSecond float64, burst int) *Limited {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (l *Limited) wait(ctx context.Context, op string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit wait failed: %w: %w", op, ports.ErrRateLimited, err)
	}
	return nil
}

// GetPriceHistory waits for a token, then fetches history.
func (l *Limited) GetPriceHistory(ctx context.Context, instrument string, lookback int) ([]domain.PriceBar, error) {
	if err := l.wait(ctx, "GetPriceHistory"); err != nil {
		return nil, err
	}
	return l.next.GetPriceHistory(ctx, instrument, lookback)
}

// SubmitOrder waits for a token, then submits.
func (l *Limited) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	if err := l.wait(ctx, "SubmitOrder"); err != nil {
		return domain.OrderOutcome{}, err
	}
	return l.next.SubmitOrder(ctx, req)
}

// GetPosition waits for a token, then queries the position.
func (l *Limited) GetPosition(ctx context.Context, instrument string) (domain.Position, error) {
	if err := l.wait(ctx, "GetPosition"); err != nil {
		return domain.Position{}, err
	}
	return l.next.GetPosition(ctx, instrument)
}

// GetAccountBalance waits for a token, then queries the balance.
func (l *Limited) GetAccountBalance(ctx context.Context) (domain.Balance, error) {
	if err := l.wait(ctx, "GetAccountBalance"); err != nil {
		return domain.Balance{}, err
	}
	return l.next.GetAccountBalance(ctx)
}
