package ports

import (
	"context"

	"autoTrader/internal/domain"
)

// Notifier delivers events fire-and-forget. Implementations must never block
// the caller and swallow (and log) their own delivery failures.
type Notifier interface {
	Notify(ctx context.Context, event domain.Event)
}
