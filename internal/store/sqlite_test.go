package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func equity(token, symbol string) models.Instrument {
	return models.Instrument{
		ID:            models.InstrumentID{Segment: models.NSECash, Token: token},
		TradingSymbol: symbol,
		LotSize:       1,
		TickSize:      0.05,
	}
}

func TestWatchlistRoundTripPreservesOrder(t *testing.T) {
	s := newTestStore(t)

	option := models.Instrument{
		ID:            models.InstrumentID{Segment: models.NSEFO, Token: "53179"},
		TradingSymbol: "NIFTY26MAR24500CE",
		Name:          "NIFTY",
		LotSize:       75,
		TickSize:      0.05,
		Option: &models.OptionMeta{
			Expiry: time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC),
			Strike: 24500,
			Type:   models.OptionCall,
		},
	}
	entries := []models.Instrument{
		equity("2885", "RELIANCE-EQ"),
		option,
		equity("11536", "TCS-EQ"),
	}

	require.NoError(t, s.SaveWatchlist(entries))

	loaded, err := s.LoadWatchlist()
	require.NoError(t, err)
	require.Len(t, loaded, 3)

	assert.Equal(t, "RELIANCE-EQ", loaded[0].TradingSymbol)
	assert.Equal(t, "NIFTY26MAR24500CE", loaded[1].TradingSymbol)
	assert.Equal(t, "TCS-EQ", loaded[2].TradingSymbol)

	require.NotNil(t, loaded[1].Option)
	assert.Equal(t, 24500.0, loaded[1].Option.Strike)
	assert.Equal(t, models.OptionCall, loaded[1].Option.Type)
	assert.Equal(t, 75, loaded[1].LotSize)
}

func TestSaveWatchlistReplacesPrevious(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveWatchlist([]models.Instrument{equity("2885", "RELIANCE-EQ")}))
	require.NoError(t, s.SaveWatchlist([]models.Instrument{equity("11536", "TCS-EQ")}))

	loaded, err := s.LoadWatchlist()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "TCS-EQ", loaded[0].TradingSymbol)
}

func TestInstrumentCachePerSegment(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveInstruments(models.NSECash, []models.Instrument{
		equity("2885", "RELIANCE-EQ"),
		equity("11536", "TCS-EQ"),
	}))
	require.NoError(t, s.SaveInstruments(models.BSECash, []models.Instrument{
		{ID: models.InstrumentID{Segment: models.BSECash, Token: "500325"}, TradingSymbol: "RELIANCE", LotSize: 1},
	}))

	nse, err := s.LoadInstruments(models.NSECash)
	require.NoError(t, err)
	assert.Len(t, nse, 2)

	bse, err := s.LoadInstruments(models.BSECash)
	require.NoError(t, err)
	assert.Len(t, bse, 1)

	// Reload replaces, not appends
	require.NoError(t, s.SaveInstruments(models.NSECash, []models.Instrument{equity("2885", "RELIANCE-EQ")}))
	nse, err = s.LoadInstruments(models.NSECash)
	require.NoError(t, err)
	assert.Len(t, nse, 1)
}

func TestOrderJournalUpsert(t *testing.T) {
	s := newTestStore(t)

	inst := equity("2885", "RELIANCE-EQ")
	placed := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	order := &models.Order{
		LocalID:    "local-1",
		Instrument: &inst,
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeLimit,
		Product:    models.ProductCNC,
		Quantity:   10,
		Price:      2450,
		Validity:   "DAY",
		Status:     models.OrderPending,
		PlacedAt:   placed,
		UpdatedAt:  placed,
	}
	require.NoError(t, s.UpsertOrder(order))

	order.BrokerID = "26030200001"
	order.Status = models.OrderFilled
	order.FilledQty = 10
	order.AvgFillPrice = 2449.5
	order.UpdatedAt = placed.Add(2 * time.Second)
	require.NoError(t, s.UpsertOrder(order))

	orders, err := s.LoadOrders(placed.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, orders, 1)

	got := orders[0]
	assert.Equal(t, "local-1", got.LocalID)
	assert.Equal(t, "26030200001", got.BrokerID)
	assert.Equal(t, models.OrderFilled, got.Status)
	assert.Equal(t, 10, got.FilledQty)
	assert.Equal(t, 2449.5, got.AvgFillPrice)
}

func TestLoadOrdersSinceFilters(t *testing.T) {
	s := newTestStore(t)

	inst := equity("2885", "RELIANCE-EQ")
	old := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	for i, ts := range []time.Time{old, recent} {
		require.NoError(t, s.UpsertOrder(&models.Order{
			LocalID:    []string{"old", "recent"}[i],
			Instrument: &inst,
			Side:       models.OrderSideBuy,
			Type:       models.OrderTypeMarket,
			Product:    models.ProductCNC,
			Quantity:   1,
			Status:     models.OrderFilled,
			PlacedAt:   ts,
			UpdatedAt:  ts,
		}))
	}

	orders, err := s.LoadOrders(recent.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "recent", orders[0].LocalID)
}
