// Package backtesting replays the live decision pipeline over recorded price
// history. Fills are simulated at the bar close; results are indicative.
package backtesting

import (
	"context"
	"fmt"
	"math"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
	"autoTrader/internal/risk"
	"autoTrader/internal/strategy"
	"autoTrader/internal/strategy/analytics"
)

// BacktestConfig holds configuration for backtesting
type BacktestConfig struct {
	Instrument   string
	Market       string
	InitialFunds float64
	Risk         risk.RiskConfig
	Logger       ports.Logger
}

// BacktestResult holds the results of a backtest
type BacktestResult struct {
	Bars          int
	Signals       int
	Rejected      int
	ForcedExits   int
	FinalEquity   float64
	OpenPosition  domain.Position
	SharpeRatio   float64
	Performance   *analytics.PerformanceMetrics
	Trades        []domain.TradeRecord
	RejectReasons map[string]int
}

// Backtest feeds bars one at a time through the engine and a fresh risk
// manager, exactly as the live cycle would.
func Backtest(ctx context.Context, engine *strategy.Engine, set []ports.Strategy, bars []domain.PriceBar, config BacktestConfig) (*BacktestResult, error) {
	need := strategy.RequiredDataPoints(set)
	if len(bars) < need {
		return nil, fmt.Errorf("not enough data points for strategy: need %d, got %d", need, len(bars))
	}
	if config.InitialFunds <= 0 {
		return nil, fmt.Errorf("initial funds must be positive")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("logger is required for backtest")
	}

	rm, err := risk.NewRiskManager(config.Risk, config.Logger, bars[0].Timestamp)
	if err != nil {
		return nil, err
	}
	rm.SetOpeningEquity(ctx, config.InitialFunds)

	result := &BacktestResult{RejectReasons: make(map[string]int)}
	cash := config.InitialFunds
	inst := config.Instrument

	for i := need - 1; i < len(bars); i++ {
		bar := bars[i]
		price := bar.Close
		equity := cash + rm.Position(inst).Quantity*price
		if rm.RolloverAt(ctx, bar.Timestamp) {
			rm.SetOpeningEquity(ctx, equity)
		}
		result.Bars++

		sig, forced := rm.CheckExit(inst, price, bar.Timestamp)
		if !forced {
			sig = engine.Evaluate(ctx, inst, bars[:i+1], set)
		}
		if !sig.IsActionable() {
			continue
		}
		result.Signals++
		if forced {
			result.ForcedExits++
		}

		qty := rm.SizeOrder(sig, price, domain.Balance{Cash: cash, TotalValue: equity})
		decision := rm.Approve(ctx, sig, risk.Proposal{Quantity: qty, Price: price, PortfolioValue: equity})
		if !decision.Approved {
			result.Rejected++
			result.RejectReasons[decision.Reason]++
			continue
		}

		side, _ := sig.Direction.Side()
		_, realized := rm.ApplyFill(ctx, inst, side, qty, price, bar.Timestamp)
		if side == domain.Buy {
			cash -= qty * price
		} else {
			cash += qty * price
		}
		result.Trades = append(result.Trades, domain.TradeRecord{
			ClientReference: domain.NewClientReference(inst, sig.StrategyID, bar.Timestamp),
			Market:          config.Market,
			Instrument:      inst,
			Side:            side,
			Quantity:        qty,
			Price:           price,
			RealizedPnL:     realized,
			StrategyID:      sig.StrategyID,
			ExecutedAt:      bar.Timestamp,
		})
	}

	last := bars[len(bars)-1].Close
	result.OpenPosition = rm.Position(inst)
	result.FinalEquity = cash + result.OpenPosition.Quantity*last
	result.Performance = analytics.AnalyzePerformance(result.Trades, config.InitialFunds)
	result.SharpeRatio = calculateSharpeRatio(tradeReturns(result.Performance.EquityCurve, config.InitialFunds))
	return result, nil
}

// tradeReturns turns consecutive equity points into fractional returns.
func tradeReturns(curve []analytics.EquityPoint, initial float64) []float64 {
	returns := make([]float64, 0, len(curve))
	prev := initial
	for _, p := range curve {
		if prev != 0 {
			returns = append(returns, p.Value/prev-1)
		}
		prev = p.Value
	}
	return returns
}

// calculateSharpeRatio calculates the Sharpe ratio for a series of returns
func calculateSharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stdDev := math.Sqrt(variance)

	// risk-free rate of 0
	if stdDev == 0 {
		return 0
	}
	return mean / stdDev
}
