package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	mu    sync.Mutex
	warns []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warns = append(m.warns, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func (m *mockLogger) Warns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warns...)
}

type mockNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *mockNotifier) Notify(ctx context.Context, ev domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *mockNotifier) Kinds() []domain.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EventKind, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Kind
	}
	return out
}

// mockPipeline records calls; per-instrument behaviour comes from cycleFn.
type mockPipeline struct {
	mu        sync.Mutex
	cycles    map[string]int
	preOpens  int
	settles   int
	rollovers int
	preOpenFn func() error
	cycleFn   func(ctx context.Context, market, instrument string) (domain.CycleResult, error)
}

func newMockPipeline() *mockPipeline {
	return &mockPipeline{cycles: make(map[string]int)}
}

func (m *mockPipeline) PreOpen(ctx context.Context, market string, instruments []string, at time.Time) error {
	m.mu.Lock()
	m.preOpens++
	fn := m.preOpenFn
	m.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return nil
}

func (m *mockPipeline) Cycle(ctx context.Context, market, instrument string, at time.Time) (domain.CycleResult, error) {
	m.mu.Lock()
	m.cycles[instrument]++
	fn := m.cycleFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, market, instrument)
	}
	return domain.CycleResult{}, nil
}

func (m *mockPipeline) Settle(ctx context.Context, market string, instruments []string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settles++
	return nil
}

func (m *mockPipeline) Rollover(ctx context.Context, at time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollovers++
	return false
}

func (m *mockPipeline) Cycles(instrument string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles[instrument]
}

type harness struct {
	coord    *Coordinator
	pipeline *mockPipeline
	notifier *mockNotifier
	logger   *mockLogger
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithWorkers(t, 4)
}

func newHarnessWithWorkers(t *testing.T, workers int) *harness {
	t.Helper()
	markets, err := DefaultMarkets([]string{"A", "B", "C"}, []string{"Z"})
	require.NoError(t, err)
	h := &harness{pipeline: newMockPipeline(), notifier: &mockNotifier{}, logger: &mockLogger{}}
	h.coord, err = NewCoordinator(Config{Markets: markets, Logger: h.logger, MaxWorkers: workers, CatchUp: 30 * time.Minute}, h.pipeline, h.notifier)
	require.NoError(t, err)
	t.Cleanup(h.coord.Wait)
	return h
}

func TestNewCoordinator(t *testing.T) {
	_, err := NewCoordinator(Config{}, newMockPipeline(), &mockNotifier{})
	assert.Error(t, err)

	markets, err := DefaultMarkets([]string{"A"}, []string{"Z"})
	require.NoError(t, err)
	_, err = NewCoordinator(Config{Markets: append(markets, markets[0]), Logger: &mockLogger{}}, newMockPipeline(), &mockNotifier{})
	assert.Error(t, err, "duplicate market")
}

func TestCoordinator_OverlappingTriggerIsDropped(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.pipeline.cycleFn = func(ctx context.Context, market, instrument string) (domain.CycleResult, error) {
		close(started)
		<-release // slow brokerage call
		return domain.CycleResult{}, nil
	}
	ctx := context.Background()
	at := time.Date(2026, 3, 9, 14, 0, 0, 0, time.UTC)

	require.True(t, h.coord.TriggerCycle(ctx, "US", "Z", at))
	<-started
	assert.False(t, h.coord.TriggerCycle(ctx, "US", "Z", at.Add(15*time.Minute)))
	res := h.coord.RunCycle(ctx, "US", "Z")
	assert.Equal(t, domain.CycleDropped, res.Status)

	close(release)
	h.coord.Wait()
	assert.Equal(t, 1, h.pipeline.Cycles("Z"))
	assert.Contains(t, h.logger.Warns(), "Previous cycle still in flight, trigger dropped")
}

func TestCoordinator_InstrumentFreedAfterCycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	assert.Equal(t, domain.CycleCompleted, h.coord.RunCycle(ctx, "US", "Z").Status)
	assert.Equal(t, domain.CycleCompleted, h.coord.RunCycle(ctx, "US", "Z").Status)
	assert.Equal(t, 2, h.pipeline.Cycles("Z"))
}

func TestCoordinator_FailureIsolation(t *testing.T) {
	h := newHarness(t)
	h.pipeline.cycleFn = func(ctx context.Context, market, instrument string) (domain.CycleResult, error) {
		switch instrument {
		case "A":
			panic("corrupt state")
		case "B":
			return domain.CycleResult{}, fmt.Errorf("history: %w", ports.ErrDataUnavailable)
		}
		return domain.CycleResult{Approved: true}, nil
	}

	results := h.coord.RunAll(context.Background(), "KR")
	require.Len(t, results, 3)

	byInst := make(map[string]domain.CycleResult)
	for _, r := range results {
		byInst[r.Instrument] = r
	}
	assert.Equal(t, domain.CycleFailed, byInst["A"].Status)
	assert.ErrorIs(t, byInst["A"].Err, ports.ErrInvariant)
	assert.Equal(t, domain.CycleFailed, byInst["B"].Status)
	assert.ErrorIs(t, byInst["B"].Err, ports.ErrDataUnavailable)
	assert.Equal(t, domain.CycleCompleted, byInst["C"].Status)

	kinds := h.notifier.Kinds()
	assert.Len(t, kinds, 2)
	assert.Subset(t, []domain.EventKind{domain.EventCycleFailed}, kinds)
}

func TestCoordinator_AuthExpiredPausesOnlyThatMarket(t *testing.T) {
	h := newHarness(t)
	h.pipeline.cycleFn = func(ctx context.Context, market, instrument string) (domain.CycleResult, error) {
		if market == "KR" {
			return domain.CycleResult{}, fmt.Errorf("submit: %w", ports.ErrAuthExpired)
		}
		return domain.CycleResult{}, nil
	}
	ctx := context.Background()

	assert.Equal(t, domain.CycleFailed, h.coord.RunCycle(ctx, "KR", "A").Status)
	assert.True(t, h.coord.Paused("KR"))
	assert.Equal(t, []domain.EventKind{domain.EventAuthExpired}, h.notifier.Kinds())

	assert.Equal(t, domain.CyclePaused, h.coord.RunCycle(ctx, "KR", "B").Status)
	assert.Equal(t, domain.CycleCompleted, h.coord.RunCycle(ctx, "US", "Z").Status)
	assert.Zero(t, h.pipeline.Cycles("B"))

	// a successful pre-open resumes the market
	h.coord.Dispatch(ctx, Job{Market: "KR", Kind: JobPreOpen, At: time.Now()})
	assert.Eventually(t, func() bool { return !h.coord.Paused("KR") }, time.Second, 5*time.Millisecond)
}

func TestCoordinator_FailedPreOpenKeepsPause(t *testing.T) {
	h := newHarness(t)
	h.pipeline.preOpenFn = func() error { return fmt.Errorf("balance: %w", ports.ErrAuthExpired) }
	ctx := context.Background()

	h.coord.Dispatch(ctx, Job{Market: "KR", Kind: JobPreOpen, At: time.Now()})
	assert.Eventually(t, func() bool { return h.coord.Paused("KR") }, time.Second, 5*time.Millisecond)

	h.coord.Resume(ctx, "KR")
	assert.False(t, h.coord.Paused("KR"))
}

func TestCoordinator_Shutdown(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	release := make(chan struct{})
	h.pipeline.cycleFn = func(ctx context.Context, market, instrument string) (domain.CycleResult, error) {
		close(started)
		<-release
		return domain.CycleResult{}, nil
	}
	ctx := context.Background()

	require.True(t, h.coord.TriggerCycle(ctx, "US", "Z", time.Now()))
	<-started
	h.coord.RequestShutdown()

	assert.False(t, h.coord.TriggerCycle(ctx, "KR", "A", time.Now()))
	assert.Equal(t, domain.CycleShutdown, h.coord.RunCycle(ctx, "KR", "B").Status)

	done := make(chan struct{})
	go func() {
		h.coord.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Wait returned before the in-flight cycle finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-done
	assert.Equal(t, 1, h.pipeline.Cycles("Z"))
	assert.Zero(t, h.pipeline.Cycles("A"))
}

func TestCoordinator_QueuedCycleSkippedAfterShutdown(t *testing.T) {
	h := newHarnessWithWorkers(t, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	h.pipeline.cycleFn = func(ctx context.Context, market, instrument string) (domain.CycleResult, error) {
		if instrument == "A" {
			close(started)
			<-release
		}
		return domain.CycleResult{}, nil
	}
	ctx := context.Background()
	at := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

	require.True(t, h.coord.TriggerCycle(ctx, "KR", "A", at))
	<-started
	require.True(t, h.coord.TriggerCycle(ctx, "KR", "B", at), "queued behind A on the only worker")
	h.coord.RequestShutdown()
	close(release)
	h.coord.Wait()

	assert.Equal(t, 1, h.pipeline.Cycles("A"))
	assert.Zero(t, h.pipeline.Cycles("B"), "a queued cycle must not run after shutdown")
}

func TestCoordinator_QueuedMarketJobSkippedAfterShutdown(t *testing.T) {
	h := newHarnessWithWorkers(t, 1)
	started := make(chan struct{})
	release := make(chan struct{})
	h.pipeline.cycleFn = func(ctx context.Context, market, instrument string) (domain.CycleResult, error) {
		close(started)
		<-release
		return domain.CycleResult{}, nil
	}
	ctx := context.Background()

	require.True(t, h.coord.TriggerCycle(ctx, "US", "Z", time.Now()))
	<-started
	h.coord.Dispatch(ctx, Job{Market: "KR", Kind: JobSettlement, At: time.Now()})
	h.coord.RequestShutdown()
	close(release)
	h.coord.Wait()

	h.pipeline.mu.Lock()
	defer h.pipeline.mu.Unlock()
	assert.Zero(t, h.pipeline.settles)
}

func TestCoordinator_TickDispatchesDueJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seoul := h.coord.markets["KR"].Location

	first := time.Date(2026, 3, 2, 8, 49, 50, 0, seoul)
	assert.Empty(t, h.coord.Tick(ctx, first))

	jobs := h.coord.Tick(ctx, first.Add(10*time.Minute+20*time.Second)) // covers 08:50 and 09:00
	require.Len(t, jobs, 2)
	assert.Equal(t, JobPreOpen, jobs[0].Kind)
	assert.Equal(t, JobIntraday, jobs[1].Kind)

	h.coord.Wait()
	assert.Equal(t, 1, h.pipeline.preOpens)
	for _, inst := range []string{"A", "B", "C"} {
		assert.Equal(t, 1, h.pipeline.Cycles(inst))
	}
	assert.Zero(t, h.pipeline.Cycles("Z"))
	assert.Equal(t, 2, h.pipeline.rollovers)
}

func TestCoordinator_TickBoundsCatchUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seoul := h.coord.markets["KR"].Location

	h.coord.Tick(ctx, time.Date(2026, 3, 2, 8, 0, 0, 0, seoul))
	jobs := h.coord.Tick(ctx, time.Date(2026, 3, 2, 12, 1, 0, 0, seoul))
	require.Len(t, jobs, 2)
	assert.Equal(t, "11:45", jobs[0].At.In(seoul).Format("15:04"))
	assert.Equal(t, "12:00", jobs[1].At.In(seoul).Format("15:04"))
}

func TestCoordinator_RunStopsOnContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal(errors.New("Run did not return after cancel"))
	}
}
