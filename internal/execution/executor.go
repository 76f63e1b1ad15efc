// Package execution turns approved orders into broker submissions with
// idempotent retry and records what happened.
package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"autoTrader/internal/domain"
	"autoTrader/internal/metrics"
	"autoTrader/internal/ports"
)

// PositionBook receives confirmed fills and knows the exit levels of the
// resulting position.
type PositionBook interface {
	ApplyFill(ctx context.Context, instrument string, side domain.OrderSide, qty, price float64, at time.Time) (domain.Position, float64)
	StopLossPrice(entryPrice float64, isLong bool) float64
	TakeProfitPrice(entryPrice float64, isLong bool) float64
}

// Config holds parameters for the order executor.
type Config struct {
	MaxRetries  int           // retries after the first attempt
	BaseDelay   time.Duration // first backoff delay, doubled per retry
	CallTimeout time.Duration // per broker call
	Logger      ports.Logger
	Metrics     *metrics.Metrics // optional
	Now         func() time.Time // optional clock
}

// DefaultConfig returns 3 retries backing off 1s, 2s, 4s with a 5s call
// timeout.
func DefaultConfig(logger ports.Logger) Config {
	return Config{MaxRetries: 3, BaseDelay: time.Second, CallTimeout: 5 * time.Second, Logger: logger}
}

// Result is the outcome of one Submit together with how it was reached.
type Result struct {
	Outcome   domain.OrderOutcome
	Attempts  int  // broker calls made; 0 for a duplicate
	Duplicate bool // answered from the recorded outcome
	Position  domain.Position
}

// Executor submits orders to the broker.
type Executor struct {
	cfg      Config
	broker   ports.Brokerage
	store    ports.TradeRepository
	book     PositionBook
	notifier ports.Notifier
	pipeline failsafe.Executor[domain.OrderOutcome]
}

// NewExecutor creates a new Executor instance.
func NewExecutor(cfg Config, broker ports.Brokerage, store ports.TradeRepository, book PositionBook, notifier ports.Notifier) (*Executor, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for order executor")
	}
	if broker == nil || store == nil || book == nil || notifier == nil {
		return nil, fmt.Errorf("missing required dependencies for order executor")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}
	if cfg.BaseDelay <= 0 || cfg.CallTimeout <= 0 {
		return nil, fmt.Errorf("base delay and call timeout must be positive")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	builder := retrypolicy.NewBuilder[domain.OrderOutcome]().
		HandleIf(func(_ domain.OrderOutcome, err error) bool {
			return ports.IsTransient(err)
		}).
		WithMaxRetries(cfg.MaxRetries)
	if cfg.MaxRetries > 1 {
		builder = builder.WithBackoff(cfg.BaseDelay, cfg.BaseDelay<<(cfg.MaxRetries-1))
	} else {
		builder = builder.WithDelay(cfg.BaseDelay)
	}

	return &Executor{
		cfg:      cfg,
		broker:   broker,
		store:    store,
		book:     book,
		notifier: notifier,
		pipeline: failsafe.With[domain.OrderOutcome](builder.Build()),
	}, nil
}

// Lookup returns the recorded outcome for clientRef, or nil.
func (e *Executor) Lookup(ctx context.Context, clientRef string) (*domain.OrderOutcome, error) {
	return e.store.FindOutcome(ctx, clientRef)
}

// Submit sends req unless its client reference already produced a fill or a
// broker rejection. Transport failures are retried with backoff and end in a
// TIMEOUT outcome; broker rejections end in REJECTED. Both are returned with
// a nil error. An expired authentication and persistence failures are
// returned as errors.
//
// Broker calls are detached from ctx cancellation so a shutdown never cuts an
// order off mid-submission; each call is bounded by CallTimeout instead.
func (e *Executor) Submit(ctx context.Context, req domain.OrderRequest) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}
	logFields := map[string]interface{}{
		"clientRef":  req.ClientReference,
		"instrument": req.Instrument,
		"side":       req.Side,
		"quantity":   req.Quantity,
	}

	existing, err := e.store.FindOutcome(ctx, req.ClientReference)
	if err != nil {
		return Result{}, fmt.Errorf("%w: lookup outcome %s: %w", ports.ErrInvariant, req.ClientReference, err)
	}
	if existing != nil && (existing.Status.IsFill() || existing.Status == domain.StatusRejected) {
		logFields["status"] = existing.Status
		e.cfg.Logger.Debug(ctx, "Duplicate order suppressed", logFields)
		e.cfg.Metrics.Duplicate()
		return Result{Outcome: *existing, Duplicate: true}, nil
	}

	outcome, attempts, callErr := e.send(ctx, req)
	logFields["attempts"] = attempts

	if errors.Is(callErr, ports.ErrAuthExpired) {
		e.cfg.Logger.Error(ctx, callErr, "Broker authentication expired", logFields)
		return Result{Attempts: attempts}, fmt.Errorf("submit %s: %w", req.ClientReference, callErr)
	}

	switch {
	case callErr == nil:
	case ports.IsTransient(callErr):
		outcome = e.terminal(req, domain.StatusTimeout, callErr)
	default:
		outcome = e.terminal(req, domain.StatusRejected, callErr)
	}
	outcome.Attempts = attempts
	e.cfg.Metrics.Order(string(outcome.Status), attempts)

	res := Result{Outcome: outcome, Attempts: attempts}
	if err := e.record(ctx, req, &res); err != nil {
		e.cfg.Logger.Error(ctx, err, "Failed to record order outcome", logFields)
		return res, err
	}

	logFields["status"] = outcome.Status
	logFields["filledQty"] = outcome.FilledQuantity
	logFields["filledPrice"] = outcome.FilledPrice
	switch outcome.Status {
	case domain.StatusTimeout:
		logFields["error"] = outcome.ErrorDetail
		e.cfg.Logger.Warn(ctx, "Order timed out after retries", logFields)
	case domain.StatusRejected:
		logFields["error"] = outcome.ErrorDetail
		e.cfg.Logger.Warn(ctx, "Order rejected by broker", logFields)
	default:
		e.cfg.Logger.Info(ctx, "Order filled", logFields)
	}
	e.notify(ctx, req, res)
	return res, nil
}

func validate(req domain.OrderRequest) error {
	switch {
	case req.ClientReference == "":
		return fmt.Errorf("%w: order without client reference", ports.ErrInvalidRequest)
	case req.Instrument == "":
		return fmt.Errorf("%w: order without instrument", ports.ErrInvalidRequest)
	case req.Quantity <= 0:
		return fmt.Errorf("%w: order quantity %.8f", ports.ErrInvalidRequest, req.Quantity)
	case req.Side != domain.Buy && req.Side != domain.Sell:
		return fmt.Errorf("%w: order side %q", ports.ErrInvalidRequest, req.Side)
	}
	return nil
}

// send runs the broker call through the retry pipeline and reports the last
// attempt's result.
func (e *Executor) send(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, int, error) {
	detached := context.WithoutCancel(ctx)
	var (
		attempts int
		last     domain.OrderOutcome
		lastErr  error
	)
	_, err := e.pipeline.GetWithExecution(func(exec failsafe.Execution[domain.OrderOutcome]) (domain.OrderOutcome, error) {
		attempts = exec.Attempts()
		if attempts > 1 {
			e.cfg.Logger.Debug(ctx, "Retrying order submission", map[string]interface{}{
				"clientRef": req.ClientReference, "attempt": attempts, "error": fmt.Sprint(lastErr),
			})
		}
		last, lastErr = e.call(detached, req)
		return last, lastErr
	})
	if lastErr == nil && err != nil {
		lastErr = err
	}
	return last, attempts, lastErr
}

func (e *Executor) call(ctx context.Context, req domain.OrderRequest) (domain.OrderOutcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	out, err := e.broker.SubmitOrder(callCtx, req)
	switch {
	case err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ports.ErrTimeout):
		return out, fmt.Errorf("%w: %w", ports.ErrTimeout, err)
	case err != nil:
		return out, err
	case out.Status == domain.StatusTimeout:
		return out, fmt.Errorf("broker reported timeout: %w", ports.ErrTimeout)
	case out.Status == domain.StatusRejected:
		return out, fmt.Errorf("%w: %s", ports.ErrBrokerRejected, out.ErrorDetail)
	}
	if out.ClientReference == "" {
		out.ClientReference = req.ClientReference
	}
	if out.Instrument == "" {
		out.Instrument = req.Instrument
	}
	if out.Side == "" {
		out.Side = req.Side
	}
	if out.RecordedAt.IsZero() {
		out.RecordedAt = e.cfg.Now()
	}
	return out, nil
}

func (e *Executor) terminal(req domain.OrderRequest, status domain.OrderStatus, err error) domain.OrderOutcome {
	return domain.OrderOutcome{
		ClientReference: req.ClientReference,
		Instrument:      req.Instrument,
		Side:            req.Side,
		Status:          status,
		ErrorDetail:     err.Error(),
		RecordedAt:      e.cfg.Now(),
	}
}

// record applies a fill to the position book, then persists the outcome and
// the trade record.
func (e *Executor) record(ctx context.Context, req domain.OrderRequest, res *Result) error {
	out := res.Outcome
	filled := out.Status.IsFill() && out.FilledQuantity > 0

	var realized float64
	if filled {
		res.Position, realized = e.book.ApplyFill(ctx, req.Instrument, req.Side, out.FilledQuantity, out.FilledPrice, out.RecordedAt)
	}

	if err := e.store.AppendOutcome(ctx, out); err != nil {
		return fmt.Errorf("%w: record outcome %s: %w", ports.ErrInvariant, out.ClientReference, err)
	}
	if !filled {
		return nil
	}
	trade := domain.TradeRecord{
		ClientReference: out.ClientReference,
		Market:          req.Market,
		Instrument:      req.Instrument,
		Side:            req.Side,
		Quantity:        out.FilledQuantity,
		Price:           out.FilledPrice,
		RealizedPnL:     realized,
		StrategyID:      req.OriginatingSignal.StrategyID,
		ExecutedAt:      out.RecordedAt,
	}
	if err := e.store.AppendTrade(ctx, trade); err != nil {
		return fmt.Errorf("%w: record trade %s: %w", ports.ErrInvariant, out.ClientReference, err)
	}
	return nil
}

func (e *Executor) notify(ctx context.Context, req domain.OrderRequest, res Result) {
	out := res.Outcome
	ev := domain.Event{
		Market:     req.Market,
		Instrument: req.Instrument,
		At:         out.RecordedAt,
		Fields: map[string]string{
			"side":     string(req.Side),
			"quantity": fmt.Sprintf("%g", req.Quantity),
			"strategy": req.OriginatingSignal.StrategyID,
			"attempts": fmt.Sprintf("%d", res.Attempts),
		},
	}
	switch out.Status {
	case domain.StatusFilled, domain.StatusPartial:
		ev.Kind, ev.Level = domain.EventOrderFilled, domain.LevelInfo
		ev.Title = fmt.Sprintf("%s %s %s", out.Status, req.Side, req.Instrument)
		ev.Message = fmt.Sprintf("%g @ %g, position %g @ %g",
			out.FilledQuantity, out.FilledPrice, res.Position.Quantity, res.Position.AverageCost)
		if pos := res.Position; !pos.IsFlat() {
			long := pos.Quantity > 0
			ev.Fields["stopLoss"] = fmt.Sprintf("%.4f", e.book.StopLossPrice(pos.AverageCost, long))
			ev.Fields["takeProfit"] = fmt.Sprintf("%.4f", e.book.TakeProfitPrice(pos.AverageCost, long))
		}
	case domain.StatusRejected:
		ev.Kind, ev.Level = domain.EventOrderRejected, domain.LevelWarning
		ev.Title = fmt.Sprintf("Order rejected: %s %s", req.Side, req.Instrument)
		ev.Message = out.ErrorDetail
	default:
		ev.Kind, ev.Level = domain.EventOrderTimeout, domain.LevelError
		ev.Title = fmt.Sprintf("Order timed out: %s %s", req.Side, req.Instrument)
		ev.Message = out.ErrorDetail
	}
	e.notifier.Notify(ctx, ev)
}
