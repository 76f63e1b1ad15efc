package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond"

	"autoTrader/internal/domain"
	"autoTrader/internal/metrics"
	"autoTrader/internal/ports"
)

// Pipeline performs the work behind each job kind.
type Pipeline interface {
	// PreOpen refreshes history and account state before the session.
	PreOpen(ctx context.Context, market string, instruments []string, at time.Time) error
	// Cycle runs fetch, strategy, risk and execution for one instrument.
	Cycle(ctx context.Context, market, instrument string, at time.Time) (domain.CycleResult, error)
	// Settle computes and reports the day's result for market.
	Settle(ctx context.Context, market string, instruments []string, at time.Time) error
	// Rollover moves the shared risk budget to the trading day of at and
	// reports whether the day changed.
	Rollover(ctx context.Context, at time.Time) bool
}

// Config holds parameters for the coordinator.
type Config struct {
	Markets      []MarketRules
	TickInterval time.Duration
	// CatchUp bounds how far back missed jobs are replayed after a stall.
	CatchUp    time.Duration
	MaxWorkers int
	QueueSize  int
	Logger     ports.Logger
	Metrics    *metrics.Metrics // optional
	Now        func() time.Time // optional clock
}

// Coordinator turns calendar triggers into cycles. At most one cycle per
// instrument is in flight; a trigger that finds its instrument busy is
// dropped.
type Coordinator struct {
	cfg      Config
	pipeline Pipeline
	notifier ports.Notifier
	markets  map[string]MarketRules
	pool     *pond.WorkerPool
	wg       sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
	paused   map[string]bool
	stopping bool
	lastTick time.Time

	stop     chan struct{}
	stopOnce sync.Once
	waitOnce sync.Once
}

// NewCoordinator creates a new Coordinator instance.
func NewCoordinator(cfg Config, pipeline Pipeline, notifier ports.Notifier) (*Coordinator, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for coordinator")
	}
	if pipeline == nil || notifier == nil {
		return nil, fmt.Errorf("missing required dependencies for coordinator")
	}
	markets := make(map[string]MarketRules, len(cfg.Markets))
	for _, m := range cfg.Markets {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := markets[m.Name]; dup {
			return nil, fmt.Errorf("market %s configured twice", m.Name)
		}
		markets[m.Name] = m
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 10 * time.Second
	}
	if cfg.CatchUp <= 0 {
		cfg.CatchUp = 5 * time.Minute
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Coordinator{
		cfg:      cfg,
		pipeline: pipeline,
		notifier: notifier,
		markets:  markets,
		inFlight: make(map[string]struct{}),
		paused:   make(map[string]bool),
		stop:     make(chan struct{}),
	}
	c.pool = pond.New(
		cfg.MaxWorkers,
		cfg.QueueSize,
		pond.MinWorkers(1),
		pond.IdleTimeout(time.Minute),
		pond.Strategy(pond.Balanced()),
		pond.PanicHandler(func(p interface{}) {
			cfg.Logger.Error(context.Background(), fmt.Errorf("panic: %v", p), "Worker pool panic recovered")
		}),
	)
	return c, nil
}

// Run ticks until ctx is done or shutdown is requested, then waits for
// in-flight cycles.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	c.cfg.Logger.Info(ctx, "Coordinator started", map[string]interface{}{
		"markets": len(c.markets), "tick": c.cfg.TickInterval.String(),
	})
	c.Tick(ctx, c.cfg.Now())
	for {
		select {
		case <-ctx.Done():
			c.RequestShutdown()
			c.Wait()
			return nil
		case <-c.stop:
			c.Wait()
			return nil
		case <-ticker.C:
			c.Tick(ctx, c.cfg.Now())
		}
	}
}

// Tick dispatches every job due since the previous tick. The first tick
// only records the time.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) []Job {
	c.mu.Lock()
	from := c.lastTick
	c.lastTick = now
	c.mu.Unlock()

	if c.pipeline.Rollover(ctx, now) {
		c.cfg.Logger.Info(ctx, "Trading day rolled over", map[string]interface{}{"at": now})
	}
	if from.IsZero() {
		return nil
	}
	if earliest := now.Add(-c.cfg.CatchUp); from.Before(earliest) {
		c.cfg.Logger.Warn(ctx, "Skipping jobs missed during a stall", map[string]interface{}{
			"from": from, "to": earliest,
		})
		from = earliest
	}

	jobs := DueBetween(from, now, c.cfg.Markets)
	for _, job := range jobs {
		c.Dispatch(ctx, job)
	}
	return jobs
}

// Dispatch starts the work for one job without waiting for it.
func (c *Coordinator) Dispatch(ctx context.Context, job Job) {
	rules, ok := c.markets[job.Market]
	if !ok {
		c.cfg.Logger.Warn(ctx, "Job for unknown market ignored", map[string]interface{}{"market": job.Market})
		return
	}
	c.cfg.Logger.Debug(ctx, "Job due", map[string]interface{}{"market": job.Market, "kind": job.Kind, "at": job.At})

	switch job.Kind {
	case JobIntraday:
		for _, inst := range rules.Instruments {
			c.TriggerCycle(ctx, job.Market, inst, job.At)
		}
	case JobPreOpen:
		c.submitMarketJob(ctx, job, func(ctx context.Context) error {
			if err := c.pipeline.PreOpen(ctx, job.Market, rules.Instruments, job.At); err != nil {
				return err
			}
			c.Resume(ctx, job.Market)
			return nil
		})
	case JobSettlement:
		c.submitMarketJob(ctx, job, func(ctx context.Context) error {
			return c.pipeline.Settle(ctx, job.Market, rules.Instruments, job.At)
		})
	}
}

func (c *Coordinator) submitMarketJob(ctx context.Context, job Job, fn func(context.Context) error) {
	key := job.Market + "#" + string(job.Kind)
	if !c.acquire(key) {
		c.cfg.Logger.Warn(ctx, "Market job still running, trigger dropped", map[string]interface{}{
			"market": job.Market, "kind": job.Kind,
		})
		return
	}
	task := func() {
		defer c.release(key)
		if c.isStopping() {
			c.cfg.Logger.Info(ctx, "Shutdown requested, queued market job skipped", map[string]interface{}{
				"market": job.Market, "kind": job.Kind,
			})
			return
		}
		err := c.guard(func() error { return fn(context.WithoutCancel(ctx)) })
		if err == nil {
			return
		}
		c.handleFailure(ctx, job.Market, "", err)
	}
	if !c.submit(task) {
		c.release(key)
	}
}

// TriggerCycle schedules one instrument cycle on the worker pool. It reports
// false when the trigger was dropped.
func (c *Coordinator) TriggerCycle(ctx context.Context, market, instrument string, at time.Time) bool {
	if status, ok := c.admit(ctx, market, instrument); !ok {
		if status == domain.CycleDropped {
			c.cfg.Metrics.TriggerDropped(market)
		}
		return false
	}
	task := func() {
		defer c.release(instrument)
		// the task may have waited in the queue past a shutdown request
		if c.isStopping() {
			c.cfg.Logger.Info(ctx, "Shutdown requested, queued cycle skipped", map[string]interface{}{
				"market": market, "instrument": instrument,
			})
			c.cfg.Metrics.CycleFinished(market, string(domain.CycleShutdown), 0)
			return
		}
		c.execute(ctx, market, instrument, at)
	}
	if !c.submit(task) {
		c.release(instrument)
		c.cfg.Logger.Warn(ctx, "Worker queue full, trigger dropped", map[string]interface{}{
			"market": market, "instrument": instrument,
		})
		c.cfg.Metrics.TriggerDropped(market)
		return false
	}
	return true
}

// RunCycle runs one cycle for instrument synchronously, under the same
// serialization and shutdown rules as scheduled cycles.
func (c *Coordinator) RunCycle(ctx context.Context, market, instrument string) domain.CycleResult {
	at := c.cfg.Now()
	if status, ok := c.admit(ctx, market, instrument); !ok {
		if status == domain.CycleDropped {
			c.cfg.Metrics.TriggerDropped(market)
		}
		return domain.CycleResult{Market: market, Instrument: instrument, At: at, Status: status}
	}
	c.wg.Add(1)
	defer c.wg.Done()
	defer c.release(instrument)
	return c.execute(ctx, market, instrument, at)
}

// RunAll runs one cycle for every instrument of market on the pool and
// waits for all of them.
func (c *Coordinator) RunAll(ctx context.Context, market string) []domain.CycleResult {
	rules, ok := c.markets[market]
	if !ok {
		return nil
	}
	if c.isStopping() {
		return nil
	}
	results := make([]domain.CycleResult, len(rules.Instruments))
	group := c.pool.Group()
	for i, inst := range rules.Instruments {
		group.Submit(func() {
			results[i] = c.RunCycle(ctx, market, inst)
		})
	}
	group.Wait()
	return results
}

func (c *Coordinator) admit(ctx context.Context, market, instrument string) (domain.CycleStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fields := map[string]interface{}{"market": market, "instrument": instrument}
	switch {
	case c.stopping:
		c.cfg.Logger.Debug(ctx, "Shutdown requested, cycle not started", fields)
		return domain.CycleShutdown, false
	case c.paused[market]:
		c.cfg.Logger.Info(ctx, "Market paused, cycle skipped", fields)
		return domain.CyclePaused, false
	}
	if _, busy := c.inFlight[instrument]; busy {
		c.cfg.Logger.Warn(ctx, "Previous cycle still in flight, trigger dropped", fields)
		return domain.CycleDropped, false
	}
	c.inFlight[instrument] = struct{}{}
	return "", true
}

func (c *Coordinator) acquire(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return false
	}
	if _, busy := c.inFlight[key]; busy {
		return false
	}
	c.inFlight[key] = struct{}{}
	return true
}

func (c *Coordinator) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, key)
}

// submit hands task to the pool unless shutdown has begun.
func (c *Coordinator) submit(task func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		return false
	}
	return c.pool.TrySubmit(task)
}

// execute runs one cycle and converts every failure into a result.
func (c *Coordinator) execute(ctx context.Context, market, instrument string, at time.Time) domain.CycleResult {
	start := time.Now()
	var res domain.CycleResult
	err := c.guard(func() error {
		var err error
		res, err = c.pipeline.Cycle(ctx, market, instrument, at)
		return err
	})
	res.Market, res.Instrument, res.At = market, instrument, at
	res.Duration = time.Since(start)

	if err != nil {
		res.Status = domain.CycleFailed
		res.Err = err
		c.handleFailure(ctx, market, instrument, err)
	} else if res.Status == "" {
		res.Status = domain.CycleCompleted
	}
	c.cfg.Metrics.CycleFinished(market, string(res.Status), res.Duration.Seconds())
	return res
}

// guard converts a panic in fn into an error.
func (c *Coordinator) guard(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", ports.ErrInvariant, p)
		}
	}()
	return fn()
}

func (c *Coordinator) handleFailure(ctx context.Context, market, instrument string, err error) {
	fields := map[string]interface{}{"market": market, "instrument": instrument}
	if errors.Is(err, ports.ErrAuthExpired) {
		c.Pause(ctx, market, err)
		return
	}
	c.cfg.Logger.Error(ctx, err, "Cycle failed", fields)
	c.notifier.Notify(ctx, domain.Event{
		Kind:       domain.EventCycleFailed,
		Level:      domain.LevelError,
		Market:     market,
		Instrument: instrument,
		Title:      "Cycle failed",
		Message:    err.Error(),
		At:         c.cfg.Now(),
	})
}

// Pause stops new cycles for market until Resume or the next successful
// pre-open.
func (c *Coordinator) Pause(ctx context.Context, market string, cause error) {
	c.mu.Lock()
	already := c.paused[market]
	c.paused[market] = true
	c.mu.Unlock()
	if already {
		return
	}
	c.cfg.Metrics.MarketPaused(market, true)
	c.cfg.Logger.Error(ctx, cause, "Market paused: manual intervention required", map[string]interface{}{"market": market})
	c.notifier.Notify(ctx, domain.Event{
		Kind:    domain.EventAuthExpired,
		Level:   domain.LevelCritical,
		Market:  market,
		Title:   "Broker authentication expired",
		Message: fmt.Sprintf("cycles for %s are paused: %v", market, cause),
		At:      c.cfg.Now(),
	})
}

// Resume lifts a pause on market.
func (c *Coordinator) Resume(ctx context.Context, market string) {
	c.mu.Lock()
	was := c.paused[market]
	delete(c.paused, market)
	c.mu.Unlock()
	if was {
		c.cfg.Metrics.MarketPaused(market, false)
		c.cfg.Logger.Info(ctx, "Market resumed", map[string]interface{}{"market": market})
	}
}

func (c *Coordinator) isStopping() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopping
}

// Paused reports whether market is paused.
func (c *Coordinator) Paused(market string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused[market]
}

// RequestShutdown stops new cycles from starting, including those still
// queued for a worker. Cycles already running are left to finish; Wait
// blocks until they have.
func (c *Coordinator) RequestShutdown() {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.stop) })
}

// Wait blocks until every in-flight cycle has finished and releases the
// worker pool.
func (c *Coordinator) Wait() {
	c.waitOnce.Do(func() {
		c.mu.Lock()
		c.stopping = true
		c.mu.Unlock()
		c.pool.StopAndWait()
	})
	c.wg.Wait()
}
