package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/execution"
	"autoTrader/internal/metrics"
	"autoTrader/internal/ports"
	"autoTrader/internal/risk"
	"autoTrader/internal/strategy"
	"autoTrader/internal/strategy/analytics"
)

const (
	// ReasonWeakSignal is reported when a signal is below the minimum strength.
	ReasonWeakSignal = "signal below minimum strength"
	// DefaultLookback is the number of bars fetched when none is configured.
	DefaultLookback = 200
)

// Config holds parameters for the trading service.
type Config struct {
	Strategies        []ports.Strategy
	Lookback          int     // bars fetched per cycle; raised to what the strategies need
	MinSignalStrength float64 // entries weaker than this are not traded; forced exits always are
	CallTimeout       time.Duration
	Location          *time.Location // portfolio time zone, for the settled day
	Retention         time.Duration  // signals, snapshots and rejected outcomes older than this are purged at settlement; 0 keeps all
	Logger            ports.Logger
	Metrics           *metrics.Metrics // optional
	Now               func() time.Time // optional clock
}

// TradingService runs the trading pipeline behind the scheduler: fetch,
// exit check, strategy, risk and execution for one instrument per cycle,
// plus the pre-open and settlement jobs of each market.
type TradingService struct {
	cfg      Config
	logger   ports.Logger
	data     ports.MarketData
	broker   ports.Brokerage
	store    ports.Persistence
	risk     *risk.RiskManager
	engine   *strategy.Engine
	executor *execution.Executor
	notifier ports.Notifier

	mu         sync.Mutex
	equityDate string // budget date the opening equity was taken for
}

// NewTradingService creates a new application service instance.
func NewTradingService(
	cfg Config,
	data ports.MarketData,
	broker ports.Brokerage,
	store ports.Persistence,
	riskMgr *risk.RiskManager,
	engine *strategy.Engine,
	executor *execution.Executor,
	notifier ports.Notifier,
) (*TradingService, error) {
	if cfg.Logger == nil || data == nil || broker == nil || store == nil || riskMgr == nil ||
		engine == nil || executor == nil || notifier == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if len(cfg.Strategies) == 0 {
		return nil, fmt.Errorf("at least one strategy must be configured")
	}
	if cfg.MinSignalStrength < 0 || cfg.MinSignalStrength > 1 {
		return nil, fmt.Errorf("minimum signal strength must be between 0 and 1")
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if need := strategy.RequiredDataPoints(cfg.Strategies); cfg.Lookback < need {
		cfg.Lookback = need
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &TradingService{
		cfg:      cfg,
		logger:   cfg.Logger,
		data:     data,
		broker:   broker,
		store:    store,
		risk:     riskMgr,
		engine:   engine,
		executor: executor,
		notifier: notifier,
	}, nil
}

// Cycle runs one decision pass for instrument. A requested shutdown (ctx
// done) stops the cycle before the order stage; once an order is being
// submitted it runs to completion. Each external call is bounded by the call
// timeout rather than by ctx.
func (s *TradingService) Cycle(ctx context.Context, market, instrument string, at time.Time) (domain.CycleResult, error) {
	res := domain.CycleResult{Market: market, Instrument: instrument, At: at}
	stage := context.WithoutCancel(ctx)
	fields := map[string]interface{}{"market": market, "instrument": instrument}

	history, err := s.fetch(stage, instrument)
	if err != nil {
		return res, err
	}
	price := history[len(history)-1].Close

	sig, forced := s.risk.CheckExit(instrument, price, at)
	if !forced {
		sig = s.engine.Evaluate(stage, instrument, history, s.cfg.Strategies)
	}
	res.Signal = sig
	s.cfg.Metrics.Signal(sig.StrategyID, string(sig.Direction))
	if err := s.store.AppendSignal(stage, sig); err != nil {
		// audit trail only; trading continues
		s.logger.Error(ctx, err, "Failed to persist signal", fields)
	}
	if !sig.IsActionable() {
		s.logger.Debug(ctx, "No action this cycle", map[string]interface{}{
			"market": market, "instrument": instrument, "rationale": sig.Rationale,
		})
		return res, nil
	}
	fields["direction"] = sig.Direction
	fields["strategy"] = sig.StrategyID
	fields["strength"] = sig.Strength

	if !forced && sig.Strength < s.cfg.MinSignalStrength {
		res.RejectReason = ReasonWeakSignal
		s.logger.Info(ctx, "Signal below minimum strength, not traded", fields)
		s.notifier.Notify(ctx, domain.Event{
			Kind:       domain.EventSignal,
			Level:      domain.LevelInfo,
			Market:     market,
			Instrument: instrument,
			Title:      fmt.Sprintf("Weak %s signal on %s skipped", sig.Direction, instrument),
			Message:    sig.Rationale,
			Fields: map[string]string{
				"strategy":    sig.StrategyID,
				"strength":    fmt.Sprintf("%.2f", sig.Strength),
				"minStrength": fmt.Sprintf("%.2f", s.cfg.MinSignalStrength),
			},
			At: s.cfg.Now(),
		})
		return res, nil
	}

	if ctx.Err() != nil {
		res.Status = domain.CycleShutdown
		s.logger.Info(ctx, "Shutdown requested, cycle stopped before order stage", fields)
		return res, nil
	}

	ref := domain.NewClientReference(instrument, sig.StrategyID, at)
	if prior, err := s.executor.Lookup(stage, ref); err != nil {
		return res, fmt.Errorf("%w: lookup %s: %w", ports.ErrInvariant, ref, err)
	} else if prior != nil && (prior.Status.IsFill() || prior.Status == domain.StatusRejected) {
		// this tick already produced its order; do not spend risk budget again
		res.Approved = true
		res.Duplicate = true
		res.Outcome = prior
		s.logger.Debug(ctx, "Cycle already executed for this tick", fields)
		return res, nil
	}

	balance, err := s.balance(stage)
	if err != nil {
		return res, err
	}
	if s.risk.Budget().OpeningEquity <= 0 {
		s.adoptOpeningEquity(stage, balance)
	}
	qty := s.risk.SizeOrder(sig, price, balance)
	decision := s.risk.Approve(stage, sig, risk.Proposal{Quantity: qty, Price: price, PortfolioValue: balance.TotalValue})
	s.publishRiskState()
	if !decision.Approved {
		res.RejectReason = decision.Reason
		s.cfg.Metrics.RiskRejected(string(decision.Check))
		s.notifier.Notify(ctx, domain.Event{
			Kind:       domain.EventRiskRejected,
			Level:      domain.LevelWarning,
			Market:     market,
			Instrument: instrument,
			Title:      fmt.Sprintf("Risk rejected %s %s", sig.Direction, instrument),
			Message:    decision.Reason,
			Fields: map[string]string{
				"strategy": sig.StrategyID,
				"quantity": fmt.Sprintf("%g", qty),
				"check":    string(decision.Check),
			},
			At: s.cfg.Now(),
		})
		return res, nil
	}
	res.Approved = true

	side, _ := sig.Direction.Side()
	req := domain.OrderRequest{
		Instrument:        instrument,
		Market:            market,
		Side:              side,
		Quantity:          qty,
		OrderType:         domain.OrderTypeMarket,
		ClientReference:   ref,
		OriginatingSignal: sig,
	}
	result, err := s.executor.Submit(stage, req)
	if err != nil {
		return res, err
	}
	res.Outcome = &result.Outcome
	res.Duplicate = result.Duplicate
	return res, nil
}

// PreOpen refreshes history, stores the latest bar as a snapshot, syncs each
// position from the broker and takes the opening equity for the day's loss
// measure. An expired authentication aborts at once; other per-instrument
// failures are collected and the remaining instruments still run.
func (s *TradingService) PreOpen(ctx context.Context, market string, instruments []string, at time.Time) error {
	var errs []error
	for _, inst := range instruments {
		if err := s.prepare(ctx, market, inst); err != nil {
			if errors.Is(err, ports.ErrAuthExpired) {
				return err
			}
			s.logger.Error(ctx, err, "Pre-open preparation failed", map[string]interface{}{"market": market, "instrument": inst})
			errs = append(errs, fmt.Errorf("%s: %w", inst, err))
		}
	}

	balance, err := s.balance(ctx)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	s.adoptOpeningEquity(ctx, balance)

	s.notifier.Notify(ctx, domain.Event{
		Kind:    domain.EventSystem,
		Level:   domain.LevelInfo,
		Market:  market,
		Title:   "Pre-open ready",
		Message: fmt.Sprintf("%d/%d instruments prepared", len(instruments)-len(errs), len(instruments)),
		Fields: map[string]string{
			"cash":   fmt.Sprintf("%.2f", balance.Cash),
			"equity": fmt.Sprintf("%.2f", balance.TotalValue),
		},
		At: s.cfg.Now(),
	})
	return errors.Join(errs...)
}

func (s *TradingService) prepare(ctx context.Context, market, instrument string) error {
	history, err := s.fetch(ctx, instrument)
	if err != nil {
		return err
	}
	snap := domain.MarketSnapshot{Market: market, Bar: history[len(history)-1]}
	if err := s.store.AppendMarketSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return s.syncPosition(ctx, instrument)
}

func (s *TradingService) syncPosition(ctx context.Context, instrument string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	pos, err := s.broker.GetPosition(callCtx, instrument)
	if err != nil {
		return fmt.Errorf("position: %w", err)
	}
	pos.Instrument = instrument
	s.risk.SyncPosition(pos)
	return nil
}

// adoptOpeningEquity takes the day's opening equity from bal unless one was
// already taken for the current risk day. Profit or loss realized earlier in
// the day is backed out, so a start after the open still measures against
// the morning's value.
func (s *TradingService) adoptOpeningEquity(ctx context.Context, bal domain.Balance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	budget := s.risk.Budget()
	if s.equityDate == budget.Date {
		return
	}
	equity := bal.TotalValue - budget.RealizedPnL
	if equity <= 0 {
		s.logger.Warn(ctx, "Opening equity not recorded", map[string]interface{}{"date": budget.Date, "totalValue": bal.TotalValue, "pnl": budget.RealizedPnL})
		return
	}
	s.equityDate = budget.Date
	s.risk.SetOpeningEquity(ctx, equity)
	s.publishRiskState()
	s.logger.Info(ctx, "Opening equity recorded", map[string]interface{}{"date": budget.Date, "equity": equity})
}

// RestoreBudget rebuilds the risk budget of the day holding at from the
// stored trades: each client reference counts as one used trade and the
// realized P&L is summed. It runs once at startup so a restart mid-day keeps
// the day's limits.
func (s *TradingService) RestoreBudget(ctx context.Context, at time.Time) (domain.RiskBudget, error) {
	s.Rollover(ctx, at)
	trades, err := s.portfolioTrades(ctx, at)
	if err != nil {
		return domain.RiskBudget{}, err
	}
	orders := make(map[string]bool, len(trades))
	var pnl float64
	for _, t := range trades {
		orders[t.ClientReference] = true
		pnl += t.RealizedPnL
	}
	budget := s.risk.Restore(ctx, len(orders), pnl)
	s.publishRiskState()
	return budget, nil
}

// SyncPortfolio loads the broker's position of every instrument and takes
// the opening equity when none was taken today. An expired authentication
// aborts at once; other failures are collected.
func (s *TradingService) SyncPortfolio(ctx context.Context, instruments []string) error {
	var errs []error
	for _, inst := range instruments {
		if err := s.syncPosition(ctx, inst); err != nil {
			if errors.Is(err, ports.ErrAuthExpired) {
				return err
			}
			errs = append(errs, fmt.Errorf("%s: %w", inst, err))
		}
	}
	balance, err := s.balance(ctx)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	s.adoptOpeningEquity(ctx, balance)
	s.logger.Info(ctx, "Portfolio synced", map[string]interface{}{
		"instruments":   len(instruments),
		"openPositions": len(s.risk.Positions()),
		"totalValue":    balance.TotalValue,
	})
	return errors.Join(errs...)
}

// Settle summarizes market's trades of the session day, settles the
// portfolio's realized P&L for the risk day and reports both.
func (s *TradingService) Settle(ctx context.Context, market string, instruments []string, at time.Time) error {
	now := s.cfg.Now()

	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	trades, err := s.store.TradesBetween(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return fmt.Errorf("load trades: %w", err)
	}
	summary := analytics.DailySummary(market, dayStart.Format("2006-01-02"), trades, now)

	portfolioPnL, err := s.portfolioPnL(ctx, at)
	if err != nil {
		return err
	}
	budget := s.risk.Settle(ctx, portfolioPnL)
	if budget.OpeningEquity <= 0 {
		if bal, err := s.balance(ctx); err == nil {
			s.adoptOpeningEquity(ctx, bal)
			budget = s.risk.Budget()
		}
	}
	s.publishRiskState()

	if err := s.store.SaveDailySummary(ctx, summary); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	if s.cfg.Retention > 0 {
		if _, err := s.store.PurgeBefore(ctx, now.Add(-s.cfg.Retention)); err != nil {
			s.logger.Error(ctx, err, "Purging old rows failed", map[string]interface{}{"retention": s.cfg.Retention.String()})
		}
	}
	s.logger.Info(ctx, "Market settled", map[string]interface{}{
		"market": market, "date": summary.Date, "trades": summary.Trades,
		"pnl": summary.RealizedPnL, "portfolioLossPct": budget.RealizedLossPct,
	})

	level := domain.LevelInfo
	if s.risk.State() == domain.RiskHalted {
		level = domain.LevelWarning
	}
	s.notifier.Notify(ctx, domain.Event{
		Kind:    domain.EventDailySummary,
		Level:   level,
		Market:  market,
		Title:   fmt.Sprintf("Daily summary %s", summary.Date),
		Message: fmt.Sprintf("realized P&L %.2f over %d fills", summary.RealizedPnL, summary.Trades),
		Fields: map[string]string{
			"wins":          fmt.Sprintf("%d", summary.Wins),
			"losses":        fmt.Sprintf("%d", summary.Losses),
			"winRate":       fmt.Sprintf("%.1f%%", summary.WinRate*100),
			"profitFactor":  fmt.Sprintf("%.2f", summary.ProfitFactor),
			"tradesUsed":    fmt.Sprintf("%d/%d", budget.TradesUsed, budget.MaxDailyTrades),
			"portfolioLoss": fmt.Sprintf("%.2f%%", budget.RealizedLossPct),
			"riskState":     string(s.risk.State()),
			"openPositions": fmt.Sprintf("%d", len(s.risk.Positions())),
			"strategies":    strategyBreakdown(summary.Strategies),
		},
		At: now,
	})
	return nil
}

// strategyBreakdown renders per-strategy results as "RSI 2 fills +30.00; MACD ...".
func strategyBreakdown(results []domain.StrategyResult) string {
	if len(results) == 0 {
		return "none"
	}
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("%s %d fills %+.2f", r.StrategyID, r.Trades, r.RealizedPnL)
	}
	return strings.Join(parts, "; ")
}

// portfolioTrades loads the trades of every market over the risk day
// holding at.
func (s *TradingService) portfolioTrades(ctx context.Context, at time.Time) ([]domain.TradeRecord, error) {
	local := at.In(s.cfg.Location)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.cfg.Location)
	trades, err := s.store.TradesBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("load portfolio trades: %w", err)
	}
	return trades, nil
}

// portfolioPnL sums realized P&L of every market over the risk day holding at.
func (s *TradingService) portfolioPnL(ctx context.Context, at time.Time) (float64, error) {
	trades, err := s.portfolioTrades(ctx, at)
	if err != nil {
		return 0, err
	}
	var pnl float64
	for _, t := range trades {
		pnl += t.RealizedPnL
	}
	return pnl, nil
}

// Rollover moves the risk budget to the trading day of at.
func (s *TradingService) Rollover(ctx context.Context, at time.Time) bool {
	rolled := s.risk.RolloverAt(ctx, at)
	if rolled {
		s.publishRiskState()
	}
	return rolled
}

// fetch loads and checks price history for instrument.
func (s *TradingService) fetch(ctx context.Context, instrument string) ([]domain.PriceBar, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	history, err := s.data.GetPriceHistory(callCtx, instrument, s.cfg.Lookback)
	if err != nil {
		return nil, fmt.Errorf("price history %s: %w", instrument, err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("price history %s: %w", instrument, ports.ErrDataUnavailable)
	}
	return history, nil
}

func (s *TradingService) balance(ctx context.Context) (domain.Balance, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	b, err := s.broker.GetAccountBalance(callCtx)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("account balance: %w", err)
	}
	return b, nil
}

func (s *TradingService) publishRiskState() {
	b := s.risk.Budget()
	s.cfg.Metrics.RiskState(b.TradesUsed, s.risk.State() == domain.RiskHalted)
}
