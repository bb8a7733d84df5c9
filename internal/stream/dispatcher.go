// Package stream provides serialized distribution of feed events to caches.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/broker"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{BufferSize: 1000}
}

// TickApplier consumes market ticks.
type TickApplier interface {
	ApplyTick(tick models.Tick)
}

// OrderApplier consumes order updates.
type OrderApplier interface {
	ApplyOrderUpdate(update models.OrderUpdate)
}

// event is the internal sum type carried on the apply queue.
type event struct {
	tick   *models.Tick
	update *models.OrderUpdate
}

// Dispatcher funnels ticks and order updates from the feed into a single
// apply goroutine. Every applier therefore observes mutations one at a
// time and in arrival order; no cache needs its own locking against the
// feed.
type Dispatcher struct {
	config DispatcherConfig
	feed   broker.Feed
	logger zerolog.Logger

	events chan event
	done   chan struct{}

	tickAppliers  []TickApplier
	orderAppliers []OrderApplier

	started bool

	eventsReceived uint64
	eventsApplied  uint64
	eventsDropped  uint64

	mu        sync.RWMutex
	metricsMu sync.Mutex
}

// NewDispatcher creates a dispatcher with the default configuration.
func NewDispatcher(feed broker.Feed, logger zerolog.Logger) *Dispatcher {
	return NewDispatcherWithConfig(feed, logger, DefaultDispatcherConfig())
}

// NewDispatcherWithConfig creates a dispatcher with a custom configuration.
func NewDispatcherWithConfig(feed broker.Feed, logger zerolog.Logger, config DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		config: config,
		feed:   feed,
		logger: logger,
		events: make(chan event, config.BufferSize),
		done:   make(chan struct{}),
	}
}

// RegisterTickApplier adds a tick consumer. Must be called before Start.
func (d *Dispatcher) RegisterTickApplier(a TickApplier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tickAppliers = append(d.tickAppliers, a)
}

// RegisterOrderApplier adds an order update consumer. Must be called before Start.
func (d *Dispatcher) RegisterOrderApplier(a OrderApplier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orderAppliers = append(d.orderAppliers, a)
}

// Start wires the feed handlers and begins the apply loop.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	go d.applyLoop(ctx)

	if d.feed != nil {
		d.feed.OnTick(d.PublishTick)
		d.feed.OnOrderUpdate(d.PublishOrderUpdate)
		d.feed.OnError(func(err error) {
			d.logger.Error().Err(err).Msg("feed error")
		})
	}

	return nil
}

// Stop stops the apply loop.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return
	}
	close(d.done)
	d.started = false
}

// PublishTick enqueues a tick. Non-blocking: if the queue is full the
// tick is dropped, a later tick supersedes it anyway.
func (d *Dispatcher) PublishTick(tick models.Tick) {
	d.publish(event{tick: &tick})
}

// PublishOrderUpdate enqueues an order update. Non-blocking like ticks;
// a dropped update is recovered by order book reconciliation.
func (d *Dispatcher) PublishOrderUpdate(update models.OrderUpdate) {
	d.publish(event{update: &update})
}

func (d *Dispatcher) publish(ev event) {
	d.metricsMu.Lock()
	d.eventsReceived++
	d.metricsMu.Unlock()

	select {
	case d.events <- ev:
	default:
		d.metricsMu.Lock()
		d.eventsDropped++
		d.metricsMu.Unlock()
		d.logger.Warn().Msg("event queue full, dropping event")
	}
}

// applyLoop drains the queue and applies events in order.
func (d *Dispatcher) applyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case ev := <-d.events:
			d.apply(ev)
		}
	}
}

func (d *Dispatcher) apply(ev event) {
	d.mu.RLock()
	tickAppliers := d.tickAppliers
	orderAppliers := d.orderAppliers
	d.mu.RUnlock()

	switch {
	case ev.tick != nil:
		for _, a := range tickAppliers {
			a.ApplyTick(*ev.tick)
		}
	case ev.update != nil:
		for _, a := range orderAppliers {
			a.ApplyOrderUpdate(*ev.update)
		}
	}

	d.metricsMu.Lock()
	d.eventsApplied++
	d.metricsMu.Unlock()
}

// Drain applies all currently queued events synchronously. Intended for
// tests and shutdown flushes; must not run concurrently with applyLoop.
func (d *Dispatcher) Drain() {
	for {
		select {
		case ev := <-d.events:
			d.apply(ev)
		default:
			return
		}
	}
}

// DispatcherMetrics contains queue counters.
type DispatcherMetrics struct {
	Received uint64
	Applied  uint64
	Dropped  uint64
}

// Metrics returns a snapshot of the queue counters.
func (d *Dispatcher) Metrics() DispatcherMetrics {
	d.metricsMu.Lock()
	defer d.metricsMu.Unlock()
	return DispatcherMetrics{
		Received: d.eventsReceived,
		Applied:  d.eventsApplied,
		Dropped:  d.eventsDropped,
	}
}

// WaitIdle blocks until every received event has been applied or dropped,
// or the timeout elapses. Test helper.
func (d *Dispatcher) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		m := d.Metrics()
		if m.Applied+m.Dropped >= m.Received && len(d.events) == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}
