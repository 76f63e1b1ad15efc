package ports

import (
	"context"
	"time"

	"autoTrader/internal/domain"
)

// TradeRepository stores fills and order outcomes.
type TradeRepository interface {
	// AppendTrade saves a trade record; an empty ID is assigned.
	AppendTrade(ctx context.Context, trade domain.TradeRecord) error
	// AppendOutcome saves or replaces the outcome for its client reference.
	AppendOutcome(ctx context.Context, outcome domain.OrderOutcome) error
	// FindOutcome returns the outcome recorded for clientRef.
	// Returns nil, nil if none was recorded.
	FindOutcome(ctx context.Context, clientRef string) (*domain.OrderOutcome, error)
	// TradesBetween returns trades executed in [from, to), oldest first.
	TradesBetween(ctx context.Context, from, to time.Time) ([]domain.TradeRecord, error)
}

// SignalRepository stores signals and market snapshots.
type SignalRepository interface {
	AppendSignal(ctx context.Context, sig domain.Signal) error
	AppendMarketSnapshot(ctx context.Context, snap domain.MarketSnapshot) error
	// PurgeBefore deletes signals, snapshots and rejected order outcomes
	// older than cutoff and returns how many rows went.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SummaryRepository stores daily settlement summaries together with their
// per-strategy results.
type SummaryRepository interface {
	SaveDailySummary(ctx context.Context, summary domain.DailySummary) error
}

// Persistence is the full persistence capability used by the daemon.
type Persistence interface {
	TradeRepository
	SignalRepository
	SummaryRepository
	Close() error
}
