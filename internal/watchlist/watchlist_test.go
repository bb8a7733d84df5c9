package watchlist

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/broker"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

type memStore struct {
	saved []models.Instrument
}

func (m *memStore) SaveWatchlist(entries []models.Instrument) error {
	m.saved = append([]models.Instrument(nil), entries...)
	return nil
}

func (m *memStore) LoadWatchlist() ([]models.Instrument, error) {
	return m.saved, nil
}

func equity(token, symbol string) models.Instrument {
	return models.Instrument{
		ID:            models.InstrumentID{Segment: models.NSECash, Token: token},
		TradingSymbol: symbol,
		LotSize:       1,
	}
}

func newTestCache(t *testing.T) (*Cache, *broker.PaperFeed, *memStore) {
	t.Helper()
	feed := broker.NewPaperFeed()
	require.NoError(t, feed.Connect(context.Background()))
	st := &memStore{}
	return NewCache(feed, nil, st, zerolog.Nop()), feed, st
}

func TestAddPreservesInsertionOrder(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, equity("2885", "RELIANCE-EQ")))
	require.NoError(t, c.Add(ctx, equity("11536", "TCS-EQ")))
	require.NoError(t, c.Add(ctx, equity("1594", "INFY-EQ")))

	entries := c.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "RELIANCE-EQ", entries[0].Instrument.TradingSymbol)
	assert.Equal(t, "TCS-EQ", entries[1].Instrument.TradingSymbol)
	assert.Equal(t, "INFY-EQ", entries[2].Instrument.TradingSymbol)
}

func TestAddDedupesBySegmentAndToken(t *testing.T) {
	c, feed, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, equity("2885", "RELIANCE-EQ")))
	require.NoError(t, c.Add(ctx, equity("2885", "RELIANCE-EQ")))

	assert.Len(t, c.Entries(), 1)
	assert.Len(t, feed.Subscriptions(), 1)
}

func TestAddSubscribesRemoveUnsubscribes(t *testing.T) {
	c, feed, _ := newTestCache(t)
	ctx := context.Background()

	inst := equity("2885", "RELIANCE-EQ")
	require.NoError(t, c.Add(ctx, inst))
	assert.Len(t, feed.Subscriptions(), 1)

	require.NoError(t, c.Remove(inst.ID))
	assert.Empty(t, feed.Subscriptions())
	assert.Empty(t, c.Entries())
}

func TestRemoveMissingReturnsError(t *testing.T) {
	c, _, _ := newTestCache(t)
	err := c.Remove(models.InstrumentID{Segment: models.NSECash, Token: "999"})
	require.Error(t, err)
}

func TestRefcountSharesSubscription(t *testing.T) {
	c, feed, _ := newTestCache(t)
	ctx := context.Background()

	inst := equity("2885", "RELIANCE-EQ")
	require.NoError(t, c.Add(ctx, inst))

	// Second consumer retains the same instrument
	require.NoError(t, c.Retain(inst.ID))
	assert.Len(t, feed.Subscriptions(), 1)

	// Watchlist removal must not drop the feed while another consumer holds it
	require.NoError(t, c.Remove(inst.ID))
	assert.Len(t, feed.Subscriptions(), 1)

	require.NoError(t, c.Release(inst.ID))
	assert.Empty(t, feed.Subscriptions())
}

func TestApplyTickMergesAndNotifies(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	inst := equity("2885", "RELIANCE-EQ")
	require.NoError(t, c.Add(ctx, inst))

	var notified []models.Quote
	c.OnQuote(func(id models.InstrumentID, q models.Quote) {
		assert.Equal(t, inst.ID, id)
		notified = append(notified, q)
	})

	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c.ApplyTick(models.Tick{Instrument: inst.ID, Quote: models.Quote{LTP: 2450, Timestamp: ts}})

	q, ok := c.Quote(inst.ID)
	require.True(t, ok)
	assert.Equal(t, 2450.0, q.LTP)
	require.Len(t, notified, 1)
}

func TestApplyTickDropsStaleQuotes(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	inst := equity("2885", "RELIANCE-EQ")
	require.NoError(t, c.Add(ctx, inst))

	ts := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	c.ApplyTick(models.Tick{Instrument: inst.ID, Quote: models.Quote{LTP: 2450, Timestamp: ts}})

	// Older and equal timestamps never overwrite
	c.ApplyTick(models.Tick{Instrument: inst.ID, Quote: models.Quote{LTP: 2400, Timestamp: ts.Add(-time.Second)}})
	c.ApplyTick(models.Tick{Instrument: inst.ID, Quote: models.Quote{LTP: 2400, Timestamp: ts}})

	q, _ := c.Quote(inst.ID)
	assert.Equal(t, 2450.0, q.LTP)

	// Newer timestamp wins
	c.ApplyTick(models.Tick{Instrument: inst.ID, Quote: models.Quote{LTP: 2460, Timestamp: ts.Add(time.Second)}})
	q, _ = c.Quote(inst.ID)
	assert.Equal(t, 2460.0, q.LTP)
}

func TestApplyTickIgnoresUntrackedInstrument(t *testing.T) {
	c, _, _ := newTestCache(t)

	var count int
	c.OnQuote(func(models.InstrumentID, models.Quote) { count++ })

	c.ApplyTick(models.Tick{
		Instrument: models.InstrumentID{Segment: models.NSECash, Token: "999"},
		Quote:      models.Quote{LTP: 1, Timestamp: time.Now()},
	})
	assert.Zero(t, count)
}

func TestSnapshotQuoteOnAdd(t *testing.T) {
	feed := broker.NewPaperFeed()
	require.NoError(t, feed.Connect(context.Background()))
	pb := broker.NewPaperBroker(0)

	inst := equity("2885", "RELIANCE-EQ")
	pb.SetPrice(inst.ID, 2450)

	c := NewCache(feed, pb, nil, zerolog.Nop())
	require.NoError(t, c.Add(context.Background(), inst))

	q, ok := c.Quote(inst.ID)
	require.True(t, ok)
	assert.Equal(t, 2450.0, q.LTP)
}

func TestPersistAndRestore(t *testing.T) {
	c, _, st := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Add(ctx, equity("2885", "RELIANCE-EQ")))
	require.NoError(t, c.Add(ctx, equity("11536", "TCS-EQ")))
	require.Len(t, st.saved, 2)

	// Fresh cache restores entries and resubscribes
	feed2 := broker.NewPaperFeed()
	require.NoError(t, feed2.Connect(ctx))
	c2 := NewCache(feed2, nil, st, zerolog.Nop())
	require.NoError(t, c2.Restore(ctx))

	entries := c2.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "RELIANCE-EQ", entries[0].Instrument.TradingSymbol)
	assert.Len(t, feed2.Subscriptions(), 2)
}
