package domain

import "time"

// RiskState is the trading-day state of the risk manager.
type RiskState string

const (
	RiskActive RiskState = "ACTIVE"
	RiskHalted RiskState = "HALTED"
)

// RiskBudget is the day-scoped record of remaining trading capacity.
type RiskBudget struct {
	Date                string // YYYY-MM-DD in the portfolio time zone
	MaxDailyTrades      int
	TradesUsed          int
	MaxPortfolioLossPct float64
	RealizedLossPct     float64
	RealizedPnL         float64
	OpeningEquity       float64
}

// DayKey formats t as the budget date in loc.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
