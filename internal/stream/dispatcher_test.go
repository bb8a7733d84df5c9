package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/broker"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// recordingApplier counts overlapping invocations to verify that the
// dispatcher never applies two events concurrently.
type recordingApplier struct {
	mu       sync.Mutex
	inFlight int
	overlap  bool
	ticks    []models.Tick
	updates  []models.OrderUpdate
}

func (r *recordingApplier) enter() {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > 1 {
		r.overlap = true
	}
	r.mu.Unlock()
}

func (r *recordingApplier) exit() {
	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()
}

func (r *recordingApplier) ApplyTick(tick models.Tick) {
	r.enter()
	time.Sleep(50 * time.Microsecond)
	r.mu.Lock()
	r.ticks = append(r.ticks, tick)
	r.mu.Unlock()
	r.exit()
}

func (r *recordingApplier) ApplyOrderUpdate(update models.OrderUpdate) {
	r.enter()
	r.mu.Lock()
	r.updates = append(r.updates, update)
	r.mu.Unlock()
	r.exit()
}

func TestDispatcherSerializesApplies(t *testing.T) {
	d := NewDispatcher(nil, zerolog.Nop())
	applier := &recordingApplier{}
	d.RegisterTickApplier(applier)
	d.RegisterOrderApplier(applier)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	id := models.InstrumentID{Segment: models.NSECash, Token: "11536"}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if g%2 == 0 {
					d.PublishTick(models.Tick{Instrument: id, Quote: models.Quote{LTP: float64(i)}})
				} else {
					d.PublishOrderUpdate(models.OrderUpdate{LocalID: "x", Status: models.OrderOpen})
				}
			}
		}(g)
	}
	wg.Wait()

	require.True(t, d.WaitIdle(5*time.Second))

	applier.mu.Lock()
	defer applier.mu.Unlock()
	assert.False(t, applier.overlap, "appliers must never run concurrently")
	assert.Equal(t, 200, len(applier.ticks))
	assert.Equal(t, 200, len(applier.updates))
}

func TestDispatcherPreservesArrivalOrder(t *testing.T) {
	d := NewDispatcher(nil, zerolog.Nop())
	applier := &recordingApplier{}
	d.RegisterTickApplier(applier)

	id := models.InstrumentID{Segment: models.NSECash, Token: "11536"}
	for i := 0; i < 100; i++ {
		d.PublishTick(models.Tick{Instrument: id, Quote: models.Quote{LTP: float64(i)}})
	}
	d.Drain()

	require.Len(t, applier.ticks, 100)
	for i, tick := range applier.ticks {
		assert.Equal(t, float64(i), tick.Quote.LTP)
	}
}

func TestDispatcherDropsWhenQueueFull(t *testing.T) {
	d := NewDispatcherWithConfig(nil, zerolog.Nop(), DispatcherConfig{BufferSize: 10})

	id := models.InstrumentID{Segment: models.NSECash, Token: "11536"}
	for i := 0; i < 25; i++ {
		d.PublishTick(models.Tick{Instrument: id})
	}

	m := d.Metrics()
	assert.Equal(t, uint64(25), m.Received)
	assert.Equal(t, uint64(15), m.Dropped)
}

func TestDispatcherWiresFeedHandlers(t *testing.T) {
	feed := broker.NewPaperFeed()
	d := NewDispatcher(feed, zerolog.Nop())
	applier := &recordingApplier{}
	d.RegisterTickApplier(applier)
	d.RegisterOrderApplier(applier)

	require.NoError(t, d.Start(context.Background()))
	defer d.Stop()

	id := models.InstrumentID{Segment: models.NSECash, Token: "11536"}
	require.NoError(t, feed.Connect(context.Background()))
	require.NoError(t, feed.Subscribe([]models.InstrumentID{id}))

	feed.PushTick(models.Tick{Instrument: id, Quote: models.Quote{LTP: 2450, Timestamp: time.Now()}})
	feed.PushOrderUpdate(models.OrderUpdate{LocalID: "local-1", Status: models.OrderFilled})

	require.True(t, d.WaitIdle(5*time.Second))

	applier.mu.Lock()
	defer applier.mu.Unlock()
	require.Len(t, applier.ticks, 1)
	require.Len(t, applier.updates, 1)
	assert.Equal(t, 2450.0, applier.ticks[0].Quote.LTP)
	assert.Equal(t, "local-1", applier.updates[0].LocalID)
}
