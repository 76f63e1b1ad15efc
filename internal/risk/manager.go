package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

// StrategyRiskExit is the strategy id of signals synthesized by CheckExit.
const StrategyRiskExit = "RISK_EXIT"

// Rejection reasons reported in Decision.Reason.
const (
	ReasonDailyLossHalt    = "daily loss halt"
	ReasonNoAction         = "signal is not actionable"
	ReasonEmptyOrder       = "order quantity is zero"
	ReasonShortDisabled    = "short selling disabled"
	ReasonMaxPosition      = "max position size exceeded"
	ReasonCapitalCap       = "capital cap exceeded"
	ReasonUnknownPortfolio = "portfolio value unknown"
	ReasonTradeLimit       = "daily trade limit reached"
	ReasonUnknownEquity    = "opening equity unknown"
)

// Check identifies which rule produced a Decision.
type Check string

const (
	CheckNone       Check = ""
	CheckHalted     Check = "HALTED"
	CheckDirection  Check = "DIRECTION"
	CheckCapital    Check = "CAPITAL"
	CheckTradeCount Check = "TRADE_COUNT"
	CheckLoss       Check = "DAILY_LOSS"
)

// InstrumentLimits overrides portfolio defaults for one instrument.
type InstrumentLimits struct {
	MaxPositionQty float64 // 0 falls back to RiskConfig.DefaultMaxPositionQty
	AllowShort     bool
}

// RiskConfig holds configuration for risk management
type RiskConfig struct {
	MaxDailyTrades        int
	MaxPortfolioLossPct   float64 // percent of opening equity, e.g. 3 for 3%
	MaxPositionRatio      float64 // fraction of portfolio value per order
	StopLossPct           float64 // percent, e.g. 5 for 5%
	TakeProfitPct         float64 // percent
	CashBuffer            float64 // fraction of cash usable for a BUY
	LotSize               float64
	DefaultMaxPositionQty float64 // 0 means unlimited
	Instruments           map[string]InstrumentLimits
	Location              *time.Location // trading-day time zone of the portfolio
}

// DefaultRiskConfig returns the limits used when nothing is configured.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxDailyTrades:      20,
		MaxPortfolioLossPct: 3,
		MaxPositionRatio:    0.25,
		StopLossPct:         5,
		TakeProfitPct:       10,
		CashBuffer:          0.95,
		LotSize:             1,
		Location:            time.UTC,
	}
}

func (c RiskConfig) limits(instrument string) InstrumentLimits {
	l := c.Instruments[instrument]
	if l.MaxPositionQty == 0 {
		l.MaxPositionQty = c.DefaultMaxPositionQty
	}
	return l
}

func (c RiskConfig) validate() error {
	switch {
	case c.MaxDailyTrades < 0:
		return fmt.Errorf("max daily trades must not be negative")
	case c.MaxPortfolioLossPct < 0:
		return fmt.Errorf("max portfolio loss must not be negative")
	case c.MaxPositionRatio < 0 || c.MaxPositionRatio > 1:
		return fmt.Errorf("max position ratio must be within [0,1]")
	case c.StopLossPct < 0 || c.TakeProfitPct < 0:
		return fmt.Errorf("stop-loss and take-profit must not be negative")
	case c.CashBuffer <= 0 || c.CashBuffer > 1:
		return fmt.Errorf("cash buffer must be within (0,1]")
	case c.LotSize <= 0:
		return fmt.Errorf("lot size must be positive")
	}
	return nil
}

// Proposal is the order a signal would become if approved.
type Proposal struct {
	Quantity       float64
	Price          float64
	PortfolioValue float64
}

// Decision is the verdict on one signal.
type Decision struct {
	Approved bool
	Reason   string
	Check    Check
	// Halt is set when the decision breached the daily loss cap.
	Halt bool
}

func approve() Decision { return Decision{Approved: true} }

func reject(check Check, reason string) Decision {
	return Decision{Check: check, Reason: reason}
}

// Evaluate applies the risk checks in order and stops at the first
// rejection. It reads its inputs only; the caller owns any state change.
func Evaluate(cfg RiskConfig, state domain.RiskState, sig domain.Signal, pos domain.Position, budget domain.RiskBudget, p Proposal) Decision {
	if state == domain.RiskHalted {
		return reject(CheckHalted, ReasonDailyLossHalt)
	}

	side, ok := sig.Direction.Side()
	if !ok {
		return reject(CheckDirection, ReasonNoAction)
	}
	if p.Quantity <= 0 {
		return reject(CheckDirection, ReasonEmptyOrder)
	}

	limits := cfg.limits(sig.Instrument)
	after := pos.Quantity + p.Quantity
	if side == domain.Sell {
		after = pos.Quantity - p.Quantity
	}
	switch {
	case side == domain.Sell && after < 0 && !limits.AllowShort:
		return reject(CheckDirection, ReasonShortDisabled)
	case side == domain.Buy && limits.MaxPositionQty > 0 && after > limits.MaxPositionQty:
		return reject(CheckDirection, ReasonMaxPosition)
	case side == domain.Sell && limits.MaxPositionQty > 0 && -after > limits.MaxPositionQty:
		return reject(CheckDirection, ReasonMaxPosition)
	}

	opening := increasesExposure(pos.Quantity, after)
	if opening && cfg.MaxPositionRatio > 0 {
		if p.PortfolioValue <= 0 {
			return reject(CheckCapital, ReasonUnknownPortfolio)
		}
		if p.Quantity*p.Price > cfg.MaxPositionRatio*p.PortfolioValue {
			return reject(CheckCapital, ReasonCapitalCap)
		}
	}

	if budget.TradesUsed >= budget.MaxDailyTrades {
		return reject(CheckTradeCount, ReasonTradeLimit)
	}

	if lossBreached(budget) {
		d := reject(CheckLoss, ReasonDailyLossHalt)
		d.Halt = true
		return d
	}
	// without an opening equity the loss cap cannot be measured; only
	// orders that reduce exposure may pass
	if opening && budget.MaxPortfolioLossPct > 0 && budget.OpeningEquity <= 0 {
		return reject(CheckLoss, ReasonUnknownEquity)
	}
	return approve()
}

func increasesExposure(before, after float64) bool {
	if before == 0 {
		return after != 0
	}
	if (before > 0) != (after > 0) {
		return after != 0
	}
	return abs(after) > abs(before)
}

func lossBreached(b domain.RiskBudget) bool {
	return b.MaxPortfolioLossPct > 0 && b.RealizedLossPct >= b.MaxPortfolioLossPct
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

type book struct {
	mu  sync.Mutex
	pos domain.Position
}

// RiskManager owns the portfolio risk budget and the position view. The
// budget and state are guarded by one portfolio lock; each instrument's
// position has its own lock.
type RiskManager struct {
	config RiskConfig
	logger ports.Logger

	mu     sync.Mutex
	state  domain.RiskState
	budget domain.RiskBudget

	booksMu sync.Mutex
	books   map[string]*book
}

// NewRiskManager creates a new risk manager instance for the trading day
// containing now.
func NewRiskManager(config RiskConfig, logger ports.Logger, now time.Time) (*RiskManager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for risk manager")
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid risk config: %w", err)
	}
	r := &RiskManager{
		config: config,
		logger: logger,
		state:  domain.RiskActive,
		books:  make(map[string]*book),
	}
	r.budget = r.freshBudget(domain.DayKey(now, config.Location), 0)
	return r, nil
}

func (r *RiskManager) freshBudget(date string, openingEquity float64) domain.RiskBudget {
	return domain.RiskBudget{
		Date:                date,
		MaxDailyTrades:      r.config.MaxDailyTrades,
		MaxPortfolioLossPct: r.config.MaxPortfolioLossPct,
		OpeningEquity:       openingEquity,
	}
}

func (r *RiskManager) book(instrument string) *book {
	r.booksMu.Lock()
	defer r.booksMu.Unlock()
	b, ok := r.books[instrument]
	if !ok {
		b = &book{pos: domain.Position{Instrument: instrument}}
		r.books[instrument] = b
	}
	return b
}

// Approve evaluates sig against the current position and budget. An approval
// consumes one trade from the daily budget; a loss-cap breach moves the
// manager to HALTED for the rest of the day.
func (r *RiskManager) Approve(ctx context.Context, sig domain.Signal, p Proposal) Decision {
	pos := r.Position(sig.Instrument)

	r.mu.Lock()
	d := Evaluate(r.config, r.state, sig, pos, r.budget, p)
	if d.Approved {
		r.budget.TradesUsed++
	}
	if d.Halt {
		r.haltLocked(ctx, "loss cap breached at approval")
	}
	used := r.budget.TradesUsed
	r.mu.Unlock()

	fields := map[string]interface{}{
		"instrument": sig.Instrument,
		"direction":  sig.Direction,
		"quantity":   p.Quantity,
		"tradesUsed": used,
	}
	if d.Approved {
		r.logger.Debug(ctx, "Signal approved", fields)
	} else {
		fields["reason"] = d.Reason
		fields["check"] = d.Check
		r.logger.Info(ctx, "Signal rejected by risk manager", fields)
	}
	return d
}

func (r *RiskManager) haltLocked(ctx context.Context, why string) {
	if r.state == domain.RiskHalted {
		return
	}
	r.state = domain.RiskHalted
	r.logger.Warn(ctx, "Risk manager halted for the trading day", map[string]interface{}{
		"date":            r.budget.Date,
		"realizedLossPct": r.budget.RealizedLossPct,
		"maxLossPct":      r.budget.MaxPortfolioLossPct,
		"cause":           why,
	})
}

// CheckExit returns a forced exit signal when the position in instrument has
// moved beyond the stop-loss or take-profit threshold at price.
func (r *RiskManager) CheckExit(instrument string, price float64, at time.Time) (domain.Signal, bool) {
	pos := r.Position(instrument)
	if pos.IsFlat() {
		return domain.Signal{}, false
	}
	pct := pos.UnrealizedPct(price)

	var rationale string
	switch {
	case r.config.StopLossPct > 0 && pct <= -r.config.StopLossPct:
		rationale = fmt.Sprintf("stop-loss: unrealized %.2f%% at %.4f (threshold -%.2f%%)", pct, price, r.config.StopLossPct)
	case r.config.TakeProfitPct > 0 && pct >= r.config.TakeProfitPct:
		rationale = fmt.Sprintf("take-profit: unrealized %.2f%% at %.4f (threshold %.2f%%)", pct, price, r.config.TakeProfitPct)
	default:
		return domain.Signal{}, false
	}

	dir := domain.DirectionSell
	if pos.Quantity < 0 {
		dir = domain.DirectionBuy
	}
	return domain.Signal{
		Instrument:  instrument,
		StrategyID:  StrategyRiskExit,
		Direction:   dir,
		Strength:    1,
		GeneratedAt: at,
		Rationale:   rationale,
	}, true
}

// StopLossPrice returns the price at which a position opened at entryPrice
// would be force-closed at a loss.
func (r *RiskManager) StopLossPrice(entryPrice float64, isLong bool) float64 {
	if isLong {
		return entryPrice * (1 - r.config.StopLossPct/100)
	}
	return entryPrice * (1 + r.config.StopLossPct/100)
}

// TakeProfitPrice returns the price at which a position opened at entryPrice
// would be force-closed at a gain.
func (r *RiskManager) TakeProfitPrice(entryPrice float64, isLong bool) float64 {
	if isLong {
		return entryPrice * (1 + r.config.TakeProfitPct/100)
	}
	return entryPrice * (1 - r.config.TakeProfitPct/100)
}

// SizeOrder returns the quantity an order for sig should carry. Reducing
// orders close the held quantity; opening orders invest the smaller of the
// position ratio of total value and the buffered cash, rounded down to the
// lot size.
func (r *RiskManager) SizeOrder(sig domain.Signal, price float64, bal domain.Balance) float64 {
	side, ok := sig.Direction.Side()
	if !ok || price <= 0 {
		return 0
	}
	pos := r.Position(sig.Instrument)
	switch {
	case side == domain.Sell && pos.Quantity > 0:
		return pos.Quantity
	case side == domain.Buy && pos.Quantity < 0:
		return -pos.Quantity
	case side == domain.Sell && !r.config.limits(sig.Instrument).AllowShort:
		return 0
	}

	budget := min(r.config.MaxPositionRatio*bal.TotalValue, r.config.CashBuffer*bal.Cash)
	if budget <= 0 {
		return 0
	}
	lot := decimal.NewFromFloat(r.config.LotSize)
	qty := decimal.NewFromFloat(budget).Div(decimal.NewFromFloat(price)).Div(lot).Floor().Mul(lot)
	return qty.InexactFloat64()
}

// ApplyFill updates the position of instrument with a confirmed fill and adds
// the realized P&L to the daily budget.
func (r *RiskManager) ApplyFill(ctx context.Context, instrument string, side domain.OrderSide, qty, price float64, at time.Time) (domain.Position, float64) {
	b := r.book(instrument)
	b.mu.Lock()
	next, realized := b.pos.ApplyFill(side, qty, price, at)
	next.Instrument = instrument
	b.pos = next
	b.mu.Unlock()

	if realized != 0 {
		r.mu.Lock()
		r.budget.RealizedPnL += realized
		r.refreshLossLocked()
		if lossBreached(r.budget) {
			r.haltLocked(ctx, "loss cap breached by fill")
		}
		r.mu.Unlock()
	}
	return next, realized
}

func (r *RiskManager) refreshLossLocked() {
	r.budget.RealizedLossPct = 0
	if r.budget.RealizedPnL < 0 && r.budget.OpeningEquity > 0 {
		r.budget.RealizedLossPct = -r.budget.RealizedPnL / r.budget.OpeningEquity * 100
	}
}

// SyncPosition replaces the local view of one position with the broker's.
func (r *RiskManager) SyncPosition(pos domain.Position) {
	b := r.book(pos.Instrument)
	b.mu.Lock()
	b.pos = pos
	b.mu.Unlock()
}

// SetOpeningEquity records the equity the daily loss percentage is measured
// against. A loss already realized today is checked against the cap at once.
func (r *RiskManager) SetOpeningEquity(ctx context.Context, equity float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budget.OpeningEquity = equity
	r.refreshLossLocked()
	if lossBreached(r.budget) {
		r.haltLocked(ctx, "loss cap breached when opening equity was set")
	}
}

// Restore loads the day's trade count and realized P&L after a restart. It
// never lowers the count already used and halts when the restored loss
// breaches the cap.
func (r *RiskManager) Restore(ctx context.Context, tradesUsed int, realizedPnL float64) domain.RiskBudget {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budget.TradesUsed = max(r.budget.TradesUsed, tradesUsed)
	r.budget.RealizedPnL = realizedPnL
	r.refreshLossLocked()
	r.logger.Info(ctx, "Risk budget restored", map[string]interface{}{
		"date":          r.budget.Date,
		"tradesUsed":    r.budget.TradesUsed,
		"pnl":           r.budget.RealizedPnL,
		"openingEquity": r.budget.OpeningEquity,
	})
	if lossBreached(r.budget) {
		r.haltLocked(ctx, "loss cap breached before restart")
	}
	return r.budget
}

// Settle replaces the day's realized P&L with the settled figure and halts
// when the loss cap is breached.
func (r *RiskManager) Settle(ctx context.Context, realizedPnL float64) domain.RiskBudget {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budget.RealizedPnL = realizedPnL
	r.refreshLossLocked()
	if lossBreached(r.budget) {
		r.haltLocked(ctx, "loss cap breached at settlement")
	}
	return r.budget
}

// Rollover starts a new trading day: the budget is reset and the manager
// returns to ACTIVE. It reports false when date is the current day.
func (r *RiskManager) Rollover(ctx context.Context, date string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if date == r.budget.Date {
		return false
	}
	prev := r.budget
	r.budget = r.freshBudget(date, prev.OpeningEquity)
	r.state = domain.RiskActive
	r.logger.Info(ctx, "Risk budget rolled over", map[string]interface{}{
		"from":       prev.Date,
		"to":         date,
		"tradesUsed": prev.TradesUsed,
		"pnl":        prev.RealizedPnL,
	})
	return true
}

// RolloverAt rolls over to the trading day containing t.
func (r *RiskManager) RolloverAt(ctx context.Context, t time.Time) bool {
	return r.Rollover(ctx, domain.DayKey(t, r.config.Location))
}

// Budget returns a copy of the current risk budget.
func (r *RiskManager) Budget() domain.RiskBudget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.budget
}

// State returns ACTIVE or HALTED.
func (r *RiskManager) State() domain.RiskState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Position returns a copy of the tracked position of instrument.
func (r *RiskManager) Position(instrument string) domain.Position {
	b := r.book(instrument)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pos
}

// Positions returns copies of all non-flat positions.
func (r *RiskManager) Positions() []domain.Position {
	r.booksMu.Lock()
	books := make([]*book, 0, len(r.books))
	for _, b := range r.books {
		books = append(books, b)
	}
	r.booksMu.Unlock()

	out := make([]domain.Position, 0, len(books))
	for _, b := range books {
		b.mu.Lock()
		if !b.pos.IsFlat() {
			out = append(out, b.pos)
		}
		b.mu.Unlock()
	}
	return out
}
