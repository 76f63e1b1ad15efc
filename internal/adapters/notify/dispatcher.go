// Package notify delivers domain events to operator channels without ever
// blocking the trading path.
package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"autoTrader/internal/domain"
	"autoTrader/internal/ports"
)

// Channel delivers one event to one destination.
type Channel interface {
	Send(ctx context.Context, ev domain.Event) error
	Name() string
}

// Config tunes the dispatcher.
type Config struct {
	QueueSize   int           // events buffered before new ones are dropped
	SendTimeout time.Duration // per channel per event
	Logger      ports.Logger
	Now         func() time.Time
}

// Dispatcher implements ports.Notifier. Notify enqueues and returns; a single
// worker fans each event out to every channel.
type Dispatcher struct {
	channels []Channel
	queue    chan domain.Event
	timeout  time.Duration
	logger   ports.Logger
	now      func() time.Time

	mu      sync.RWMutex // guards closed against sends on a closed queue
	closed  bool
	dropped atomic.Int64
	done    chan struct{}
}

// NewDispatcher starts the delivery worker.
func NewDispatcher(cfg Config, channels ...Channel) (*Dispatcher, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for notification dispatcher")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	d := &Dispatcher{
		channels: channels,
		queue:    make(chan domain.Event, cfg.QueueSize),
		timeout:  cfg.SendTimeout,
		logger:   cfg.Logger,
		now:      cfg.Now,
		done:     make(chan struct{}),
	}
	for _, ch := range channels {
		cfg.Logger.Info(context.Background(), "Added notification channel", map[string]interface{}{"name": ch.Name()})
	}
	go d.run()
	return d, nil
}

// Notify queues ev for delivery. When the queue is full the event is dropped
// and logged; the caller is never blocked.
func (d *Dispatcher) Notify(ctx context.Context, ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = d.now()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- ev:
	default:
		d.dropped.Add(1)
		d.logger.Warn(ctx, "Notification queue full, event dropped", map[string]interface{}{"kind": ev.Kind, "title": ev.Title})
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (d *Dispatcher) Dropped() int {
	return int(d.dropped.Load())
}

// Close stops accepting events and waits until queued ones are delivered or
// ctx ends.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification drain interrupted: %w", ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.queue {
		for _, ch := range d.channels {
			d.deliver(ch, ev)
		}
	}
}

func (d *Dispatcher) deliver(ch Channel, ev domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := ch.Send(ctx, ev); err != nil {
		d.logger.Error(ctx, err, "Failed to send notification", map[string]interface{}{"channel": ch.Name(), "kind": ev.Kind})
	}
}
