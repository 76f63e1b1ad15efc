package domain

import "time"

// TradeRecord is the persisted record of one confirmed fill.
type TradeRecord struct {
	ID              string // ULID assigned by the repository when empty
	ClientReference string
	Market          string
	Instrument      string
	Side            OrderSide
	Quantity        float64
	Price           float64
	RealizedPnL     float64 // P&L realized by this fill; 0 for opening fills
	StrategyID      string
	ExecutedAt      time.Time
}

// DailySummary is the per-market settlement report for one trading day.
type DailySummary struct {
	Market       string
	Date         string // YYYY-MM-DD in the portfolio time zone
	Trades       int
	Wins         int
	Losses       int
	RealizedPnL  float64
	WinRate      float64
	ProfitFactor float64
	CreatedAt    time.Time
	Strategies   []StrategyResult // one entry per strategy that filled, by StrategyID
}

// StrategyResult is one strategy's share of a daily summary.
type StrategyResult struct {
	StrategyID  string
	Trades      int
	Wins        int
	Losses      int
	RealizedPnL float64
}
