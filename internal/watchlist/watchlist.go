// Package watchlist maintains the tracked-instrument cache and its quotes.
package watchlist

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/broker"
	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/logging"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/pkg/utils"
)

// Store is the persistence surface the cache needs.
type Store interface {
	SaveWatchlist(entries []models.Instrument) error
	LoadWatchlist() ([]models.Instrument, error)
}

// Entry is a watchlist row: the instrument plus its latest quote.
type Entry struct {
	Instrument models.Instrument
	Quote      models.Quote
	HasQuote   bool
}

// Observer is notified synchronously after a quote merge.
type Observer func(id models.InstrumentID, quote models.Quote)

// Cache holds the watchlist in insertion order and merges incoming
// quotes with a last-timestamp-wins rule: a quote older than or equal
// in timestamp to the cached one never overwrites it.
//
// ApplyTick is called from the dispatcher's single apply goroutine.
// The internal mutex only guards against concurrent reads from other
// goroutines; mutation order is already serialized upstream.
type Cache struct {
	feed   broker.Feed
	broker broker.Broker
	store  Store
	logger zerolog.Logger

	order   []models.InstrumentID
	entries map[models.InstrumentID]*Entry
	refs    map[models.InstrumentID]int

	observers []Observer
	mu        sync.RWMutex
}

// NewCache creates an empty watchlist cache. Store and broker may be nil
// for tests and paper mode without persistence.
func NewCache(feed broker.Feed, b broker.Broker, st Store, logger zerolog.Logger) *Cache {
	return &Cache{
		feed:    feed,
		broker:  b,
		store:   st,
		logger:  logger,
		entries: make(map[models.InstrumentID]*Entry),
		refs:    make(map[models.InstrumentID]int),
	}
}

// OnQuote registers an observer for quote merges.
func (c *Cache) OnQuote(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// Add appends an instrument to the watchlist. Duplicate adds, keyed by
// segment and token, are ignored. A one-shot snapshot quote is fetched
// so the row is not blank until the first tick.
func (c *Cache) Add(ctx context.Context, inst models.Instrument) error {
	c.mu.Lock()
	if _, ok := c.entries[inst.ID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.entries[inst.ID] = &Entry{Instrument: inst}
	c.order = append(c.order, inst.ID)
	c.mu.Unlock()

	logger := logging.WithSymbol(c.logger, inst.TradingSymbol)
	if err := c.Retain(inst.ID); err != nil {
		logger.Warn().Err(err).Msg("feed subscribe failed, will retry on reconnect")
	}

	c.snapshot(ctx, inst.ID)
	c.persist()

	logger.Info().Str("segment", string(inst.ID.Segment)).Msg("watchlist add")
	return nil
}

// Remove deletes an instrument from the watchlist.
func (c *Cache) Remove(id models.InstrumentID) error {
	c.mu.Lock()
	entry, ok := c.entries[id]
	if !ok {
		c.mu.Unlock()
		return apperrors.Wrapf(apperrors.ErrDataNotFound, "instrument %s not in watchlist", id)
	}
	delete(c.entries, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	if err := c.Release(id); err != nil {
		c.logger.Warn().Err(err).Msg("feed unsubscribe failed")
	}

	c.persist()

	c.logger.Info().Str("symbol", entry.Instrument.TradingSymbol).Msg("watchlist remove")
	return nil
}

// Retain increments the subscription refcount, subscribing on the feed
// when the count rises from zero. Components outside the watchlist
// (live position P&L) share feed subscriptions through this.
func (c *Cache) Retain(id models.InstrumentID) error {
	c.mu.Lock()
	c.refs[id]++
	first := c.refs[id] == 1
	c.mu.Unlock()

	if first && c.feed != nil {
		return c.feed.Subscribe([]models.InstrumentID{id})
	}
	return nil
}

// Release decrements the subscription refcount, unsubscribing when it
// reaches zero.
func (c *Cache) Release(id models.InstrumentID) error {
	c.mu.Lock()
	if c.refs[id] == 0 {
		c.mu.Unlock()
		return nil
	}
	c.refs[id]--
	last := c.refs[id] == 0
	if last {
		delete(c.refs, id)
	}
	c.mu.Unlock()

	if last && c.feed != nil {
		return c.feed.Unsubscribe([]models.InstrumentID{id})
	}
	return nil
}

// ApplyTick merges a tick into the cache. Stale ticks, those whose
// timestamp does not advance past the cached quote's, are dropped so a
// displayed price never regresses.
func (c *Cache) ApplyTick(tick models.Tick) {
	c.mu.Lock()
	entry, ok := c.entries[tick.Instrument]
	if !ok {
		c.mu.Unlock()
		return
	}
	if entry.HasQuote && !tick.Quote.Timestamp.After(entry.Quote.Timestamp) {
		c.mu.Unlock()
		return
	}
	entry.Quote = tick.Quote
	entry.HasQuote = true
	observers := c.observers
	c.mu.Unlock()

	for _, fn := range observers {
		fn(tick.Instrument, tick.Quote)
	}
}

// Entries returns the watchlist rows in insertion order.
func (c *Cache) Entries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.entries[id])
	}
	return out
}

// Entry returns the watchlist entry for an instrument.
func (c *Cache) Entry(id models.InstrumentID) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Quote returns the cached quote for an instrument.
func (c *Cache) Quote(id models.InstrumentID) (models.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[id]
	if !ok || !entry.HasQuote {
		return models.Quote{}, false
	}
	return entry.Quote, true
}

// Contains reports whether an instrument is on the watchlist.
func (c *Cache) Contains(id models.InstrumentID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// Restore loads the persisted watchlist and resubscribes everything.
// Called once after login.
func (c *Cache) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	saved, err := c.store.LoadWatchlist()
	if err != nil {
		return apperrors.Wrap(err, "loading persisted watchlist")
	}
	for _, inst := range saved {
		if err := c.Add(ctx, inst); err != nil {
			return err
		}
	}
	return nil
}

// Resubscribe replays the full subscription set on the feed. Called
// after login; the feed itself replays on reconnect.
func (c *Cache) Resubscribe() error {
	c.mu.RLock()
	ids := make([]models.InstrumentID, 0, len(c.refs))
	for id := range c.refs {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	if len(ids) == 0 || c.feed == nil {
		return nil
	}
	return c.feed.Subscribe(ids)
}

// snapshot fetches a one-shot quote for a newly added instrument and
// merges it through the same staleness rule as ticks.
func (c *Cache) snapshot(ctx context.Context, id models.InstrumentID) {
	if c.broker == nil {
		return
	}
	var quotes map[models.InstrumentID]models.Quote
	err := utils.Retry(ctx, utils.DefaultRetryConfig(), func() error {
		var err error
		quotes, err = c.broker.GetQuotes(ctx, []models.InstrumentID{id})
		return err
	})
	if err != nil {
		c.logger.Debug().Err(err).Msg("snapshot quote fetch failed")
		return
	}
	if q, ok := quotes[id]; ok {
		c.ApplyTick(models.Tick{Instrument: id, Quote: q})
	}
}

func (c *Cache) persist() {
	if c.store == nil {
		return
	}
	c.mu.RLock()
	instruments := make([]models.Instrument, 0, len(c.order))
	for _, id := range c.order {
		instruments = append(instruments, c.entries[id].Instrument)
	}
	c.mu.RUnlock()

	if err := c.store.SaveWatchlist(instruments); err != nil {
		c.logger.Error().Err(err).Msg("persisting watchlist failed")
	}
}
