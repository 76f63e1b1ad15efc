// Package optimization sweeps strategy parameters through the backtester.
package optimization

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"autoTrader/internal/domain"
	"autoTrader/internal/strategy"
	"autoTrader/internal/strategy/analytics"
	"autoTrader/internal/strategy/backtesting"
	"autoTrader/internal/strategy/strategies"
)

// ParameterRange defines a range for a parameter to optimize
type ParameterRange struct {
	Name string // a strategies.Params field, e.g. "MAShort"
	Min  float64
	Max  float64
	Step float64
}

// OptimizationResult holds the results of a parameter optimization
type OptimizationResult struct {
	Parameters map[string]float64
	Metrics    *analytics.PerformanceMetrics
	Score      float64
}

// OptimizerConfig holds configuration for the optimizer
type OptimizerConfig struct {
	ParameterRanges []ParameterRange
	Strategies      []string
	Base            strategies.Params
	Backtest        backtesting.BacktestConfig
	ScoreFunction   func(*analytics.PerformanceMetrics) float64
	Parallelism     int
}

// Optimizer implements strategy parameter optimization
type Optimizer struct {
	config OptimizerConfig
	engine *strategy.Engine
}

// NewOptimizer creates a new optimizer instance
func NewOptimizer(config OptimizerConfig, engine *strategy.Engine) (*Optimizer, error) {
	if engine == nil {
		return nil, fmt.Errorf("strategy engine is required for optimizer")
	}
	if len(config.ParameterRanges) == 0 {
		return nil, fmt.Errorf("at least one parameter range is required")
	}
	for _, r := range config.ParameterRanges {
		if _, ok := paramSetters[r.Name]; !ok {
			return nil, fmt.Errorf("unknown parameter %q", r.Name)
		}
		if r.Step <= 0 || r.Max < r.Min {
			return nil, fmt.Errorf("parameter %s: invalid range %g..%g step %g", r.Name, r.Min, r.Max, r.Step)
		}
	}
	if config.ScoreFunction == nil {
		config.ScoreFunction = DefaultScoreFunction
	}
	if config.Parallelism <= 0 {
		config.Parallelism = runtime.NumCPU()
	}
	return &Optimizer{config: config, engine: engine}, nil
}

// Optimize backtests every parameter combination over bars and returns the
// results best first. Combinations that do not form valid strategies are
// skipped.
func (o *Optimizer) Optimize(ctx context.Context, bars []domain.PriceBar) ([]OptimizationResult, error) {
	combinations := o.generateParameterCombinations()

	var (
		mu      sync.Mutex
		results = make([]OptimizationResult, 0, len(combinations))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Parallelism)
	for _, params := range combinations {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := o.config.Base
			for name, v := range params {
				paramSetters[name](&p, v)
			}
			set, err := strategies.Build(o.config.Strategies, p)
			if err != nil {
				return nil
			}
			res, err := backtesting.Backtest(gctx, o.engine, set, bars, o.config.Backtest)
			if err != nil {
				return nil
			}
			mu.Lock()
			results = append(results, OptimizationResult{
				Parameters: params,
				Metrics:    res.Performance,
				Score:      o.config.ScoreFunction(res.Performance),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortResultsByScore(results)
	return results, nil
}

// generateParameterCombinations generates all possible parameter combinations
func (o *Optimizer) generateParameterCombinations() []map[string]float64 {
	var combinations []map[string]float64
	currentCombination := make(map[string]float64)

	var generate func(int)
	generate = func(paramIndex int) {
		if paramIndex == len(o.config.ParameterRanges) {
			combination := make(map[string]float64, len(currentCombination))
			for k, v := range currentCombination {
				combination[k] = v
			}
			combinations = append(combinations, combination)
			return
		}

		param := o.config.ParameterRanges[paramIndex]
		for i := 0; ; i++ {
			value := param.Min + float64(i)*param.Step
			if value > param.Max+param.Step/2 {
				break
			}
			if intParams[param.Name] {
				value = math.Round(value)
			}
			currentCombination[param.Name] = value
			generate(paramIndex + 1)
		}
	}
	generate(0)
	return combinations
}

// sortResultsByScore sorts optimization results by score in descending order
func sortResultsByScore(results []OptimizationResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// DefaultScoreFunction favours win rate and profit factor, penalises drawdown
// and requires closed trades to score at all.
func DefaultScoreFunction(metrics *analytics.PerformanceMetrics) float64 {
	if metrics == nil || metrics.ClosedTrades == 0 {
		return 0
	}
	score := 0.0
	score += metrics.WinRate * 0.4
	score += math.Min(metrics.ProfitFactor, 3) / 3 * 0.3
	score += (1 - metrics.MaxDrawdown) * 0.3
	return score
}

// ParseRanges parses "MAShort=3:10:1,MALong=15:40:5" into ranges.
func ParseRanges(s string) ([]ParameterRange, error) {
	var out []ParameterRange
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, spec, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("range %q: expected NAME=MIN:MAX:STEP", part)
		}
		bounds := strings.Split(spec, ":")
		if len(bounds) != 3 {
			return nil, fmt.Errorf("range %q: expected MIN:MAX:STEP", part)
		}
		var vals [3]float64
		for i, b := range bounds {
			v, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
			if err != nil {
				return nil, fmt.Errorf("range %q: %w", part, err)
			}
			vals[i] = v
		}
		out = append(out, ParameterRange{Name: strings.TrimSpace(name), Min: vals[0], Max: vals[1], Step: vals[2]})
	}
	return out, nil
}

var intParams = map[string]bool{
	"MAShort": true, "MALong": true, "RSIPeriod": true,
	"MACDFast": true, "MACDSlow": true, "MACDSignal": true,
	"BBPeriod": true, "ATRPeriod": true,
}

var paramSetters = map[string]func(*strategies.Params, float64){
	"MAShort":       func(p *strategies.Params, v float64) { p.MAShort = int(v) },
	"MALong":        func(p *strategies.Params, v float64) { p.MALong = int(v) },
	"RSIPeriod":     func(p *strategies.Params, v float64) { p.RSIPeriod = int(v) },
	"RSIOversold":   func(p *strategies.Params, v float64) { p.RSIOversold = v },
	"RSIOverbought": func(p *strategies.Params, v float64) { p.RSIOverbought = v },
	"MACDFast":      func(p *strategies.Params, v float64) { p.MACDFast = int(v) },
	"MACDSlow":      func(p *strategies.Params, v float64) { p.MACDSlow = int(v) },
	"MACDSignal":    func(p *strategies.Params, v float64) { p.MACDSignal = int(v) },
	"BBPeriod":      func(p *strategies.Params, v float64) { p.BBPeriod = int(v) },
	"BBStdDev":      func(p *strategies.Params, v float64) { p.BBStdDev = v },
	"ATRPeriod":     func(p *strategies.Params, v float64) { p.ATRPeriod = int(v) },
	"TailRatio":     func(p *strategies.Params, v float64) { p.TailRatio = v },
	"TailRecovery":  func(p *strategies.Params, v float64) { p.TailRecovery = v },
}
