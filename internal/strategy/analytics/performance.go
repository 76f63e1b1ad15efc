package analytics

import (
	"math"
	"sort"
	"time"

	"autoTrader/internal/domain"
)

// PerformanceMetrics summarizes a sequence of fills. Only fills that realized
// P&L (reducing or closing a position) count as wins or losses.
type PerformanceMetrics struct {
	// Basic Metrics
	TotalFills    int
	ClosedTrades  int
	WinningTrades int
	LosingTrades  int
	WinRate       float64
	RealizedPnL   float64
	GrossProfit   float64
	GrossLoss     float64 // positive
	ProfitFactor  float64
	AverageWin    float64
	AverageLoss   float64 // negative
	MaxDrawdown   float64 // fraction of peak equity
	FinalBalance  float64

	// Advanced Metrics
	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	Expectancy           float64
	ByInstrument         map[string]float64
	EquityCurve          []EquityPoint
}

// EquityPoint represents a point on the equity curve
type EquityPoint struct {
	Time     time.Time
	Value    float64
	Drawdown float64
}

// AnalyzePerformance calculates performance metrics from trades, starting
// from initialBalance. trades is not modified.
func AnalyzePerformance(trades []domain.TradeRecord, initialBalance float64) *PerformanceMetrics {
	metrics := &PerformanceMetrics{
		FinalBalance: initialBalance,
		ByInstrument: make(map[string]float64),
		EquityCurve:  make([]EquityPoint, 0),
	}
	if len(trades) == 0 {
		return metrics
	}

	ordered := append([]domain.TradeRecord(nil), trades...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
	})

	currentBalance := initialBalance
	peakBalance := initialBalance
	var consecutiveWins, consecutiveLosses int

	for _, trade := range ordered {
		metrics.TotalFills++
		if trade.RealizedPnL == 0 {
			continue
		}
		metrics.ClosedTrades++
		pnl := trade.RealizedPnL
		if pnl > 0 {
			metrics.WinningTrades++
			metrics.GrossProfit += pnl
			consecutiveWins++
			consecutiveLosses = 0
		} else {
			metrics.LosingTrades++
			metrics.GrossLoss -= pnl
			consecutiveLosses++
			consecutiveWins = 0
		}
		metrics.MaxConsecutiveWins = max(metrics.MaxConsecutiveWins, consecutiveWins)
		metrics.MaxConsecutiveLosses = max(metrics.MaxConsecutiveLosses, consecutiveLosses)

		currentBalance += pnl
		metrics.RealizedPnL += pnl
		metrics.ByInstrument[trade.Instrument] += pnl

		peakBalance = math.Max(peakBalance, currentBalance)
		drawdown := 0.0
		if peakBalance > 0 {
			drawdown = (peakBalance - currentBalance) / peakBalance
		}
		metrics.MaxDrawdown = math.Max(metrics.MaxDrawdown, drawdown)
		metrics.EquityCurve = append(metrics.EquityCurve, EquityPoint{
			Time:     trade.ExecutedAt,
			Value:    currentBalance,
			Drawdown: drawdown,
		})
	}
	metrics.FinalBalance = currentBalance

	if metrics.ClosedTrades > 0 {
		metrics.WinRate = float64(metrics.WinningTrades) / float64(metrics.ClosedTrades)
		if metrics.WinningTrades > 0 {
			metrics.AverageWin = metrics.GrossProfit / float64(metrics.WinningTrades)
		}
		if metrics.LosingTrades > 0 {
			metrics.AverageLoss = -metrics.GrossLoss / float64(metrics.LosingTrades)
		}
		metrics.Expectancy = metrics.WinRate*metrics.AverageWin + (1-metrics.WinRate)*metrics.AverageLoss
	}
	switch {
	case metrics.GrossLoss > 0:
		metrics.ProfitFactor = metrics.GrossProfit / metrics.GrossLoss
	case metrics.GrossProfit > 0:
		metrics.ProfitFactor = math.Inf(1)
	}
	return metrics
}

// DailySummary condenses one market's trades of one day into the settlement
// report.
func DailySummary(market, date string, trades []domain.TradeRecord, at time.Time) domain.DailySummary {
	var own []domain.TradeRecord
	byStrategy := make(map[string][]domain.TradeRecord)
	for _, t := range trades {
		if t.Market == market {
			own = append(own, t)
			byStrategy[t.StrategyID] = append(byStrategy[t.StrategyID], t)
		}
	}
	m := AnalyzePerformance(own, 0)

	results := make([]domain.StrategyResult, 0, len(byStrategy))
	for id, ts := range byStrategy {
		sm := AnalyzePerformance(ts, 0)
		results = append(results, domain.StrategyResult{
			StrategyID:  id,
			Trades:      sm.TotalFills,
			Wins:        sm.WinningTrades,
			Losses:      sm.LosingTrades,
			RealizedPnL: sm.RealizedPnL,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].StrategyID < results[j].StrategyID })

	pf := m.ProfitFactor
	if math.IsInf(pf, 1) {
		pf = 0 // not representable in storage; no losses that day
	}
	return domain.DailySummary{
		Market:       market,
		Date:         date,
		Trades:       m.TotalFills,
		Wins:         m.WinningTrades,
		Losses:       m.LosingTrades,
		RealizedPnL:  m.RealizedPnL,
		WinRate:      m.WinRate,
		ProfitFactor: pf,
		CreatedAt:    at,
		Strategies:   results,
	}
}

// InstrumentReturn is the realized P&L of one instrument.
type InstrumentReturn struct {
	Instrument string
	PnL        float64
}

// GetInstrumentReturns returns realized P&L per instrument, best first.
func (m *PerformanceMetrics) GetInstrumentReturns() []InstrumentReturn {
	returns := make([]InstrumentReturn, 0, len(m.ByInstrument))
	for inst, pnl := range m.ByInstrument {
		returns = append(returns, InstrumentReturn{Instrument: inst, PnL: pnl})
	}
	sort.Slice(returns, func(i, j int) bool {
		if returns[i].PnL != returns[j].PnL {
			return returns[i].PnL > returns[j].PnL
		}
		return returns[i].Instrument < returns[j].Instrument
	})
	return returns
}
