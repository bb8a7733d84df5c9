package orders

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/broker"
	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

func equity(token, symbol string) *models.Instrument {
	return &models.Instrument{
		ID:            models.InstrumentID{Segment: models.NSECash, Token: token},
		TradingSymbol: symbol,
		LotSize:       1,
	}
}

func niftyOption() *models.Instrument {
	return &models.Instrument{
		ID:            models.InstrumentID{Segment: models.NSEFO, Token: "53179"},
		TradingSymbol: "NIFTY26MAR24500CE",
		LotSize:       75,
		Option: &models.OptionMeta{
			Expiry: time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC),
			Strike: 24500,
			Type:   models.OptionCall,
		},
	}
}

func newTestGateway(t *testing.T) (*Gateway, *broker.PaperBroker) {
	t.Helper()
	pb := broker.NewPaperBroker(10000000)
	g := NewGateway(pb, nil, nil, zerolog.Nop())
	// Deliver the paper broker's synthetic updates the way the
	// dispatcher would
	pb.OnOrderUpdate(g.ApplyOrderUpdate)
	return g, pb
}

func TestPlaceOrderValidation(t *testing.T) {
	g, _ := newTestGateway(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec models.OrderSpec
	}{
		{
			name: "missing instrument",
			spec: models.OrderSpec{Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Product: models.ProductCNC, Quantity: 1},
		},
		{
			name: "zero quantity",
			spec: models.OrderSpec{Instrument: equity("2885", "RELIANCE-EQ"), Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Product: models.ProductCNC},
		},
		{
			name: "limit without price",
			spec: models.OrderSpec{Instrument: equity("2885", "RELIANCE-EQ"), Side: models.OrderSideBuy, Type: models.OrderTypeLimit, Product: models.ProductCNC, Quantity: 1},
		},
		{
			name: "stop-loss without trigger",
			spec: models.OrderSpec{Instrument: equity("2885", "RELIANCE-EQ"), Side: models.OrderSideSell, Type: models.OrderTypeStopLossM, Product: models.ProductMIS, Quantity: 1},
		},
		{
			name: "unknown product",
			spec: models.OrderSpec{Instrument: equity("2885", "RELIANCE-EQ"), Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Product: "WEIRD", Quantity: 1},
		},
		{
			name: "fo quantity off lot",
			spec: models.OrderSpec{Instrument: niftyOption(), Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Product: models.ProductNRML, Quantity: 70},
		},
		{
			name: "cnc on derivatives",
			spec: models.OrderSpec{Instrument: niftyOption(), Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Product: models.ProductCNC, Quantity: 75},
		},
		{
			name: "nrml on cash",
			spec: models.OrderSpec{Instrument: equity("2885", "RELIANCE-EQ"), Side: models.OrderSideBuy, Type: models.OrderTypeMarket, Product: models.ProductNRML, Quantity: 1},
		},
		{
			name: "cover order with stop-loss type",
			spec: models.OrderSpec{Instrument: equity("2885", "RELIANCE-EQ"), Side: models.OrderSideBuy, Type: models.OrderTypeStopLoss, Product: models.ProductCO, Quantity: 1, Price: 2400, TriggerPrice: 2390},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.PlaceOrder(ctx, tt.spec)
			require.Error(t, err)
			assert.True(t, apperrors.Is(err, apperrors.ErrInvalidOrderSpec))
		})
	}

	// Nothing reached the book
	assert.Empty(t, g.Orders())
}

func TestPlaceOrderLotAlignedAccepted(t *testing.T) {
	g, pb := newTestGateway(t)
	pb.SetPrice(models.InstrumentID{Segment: models.NSEFO, Token: "NIFTY26MAR24500CE"}, 120)

	order, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Instrument: niftyOption(),
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeMarket,
		Product:    models.ProductNRML,
		Quantity:   150, // two lots
	})
	require.NoError(t, err)
	assert.NotEmpty(t, order.LocalID)
	assert.NotEmpty(t, order.BrokerID)
}

func TestPlaceOrderLifecycle(t *testing.T) {
	g, pb := newTestGateway(t)
	pb.SetPrice(models.InstrumentID{Segment: models.NSECash, Token: "RELIANCE-EQ"}, 2450)

	var changes []models.Order
	g.OnOrderChange(func(o models.Order) { changes = append(changes, o) })

	order, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Instrument: equity("2885", "RELIANCE-EQ"),
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeMarket,
		Product:    models.ProductCNC,
		Quantity:   10,
	})
	require.NoError(t, err)

	got, err := g.Get(order.LocalID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, got.Status)
	assert.Equal(t, 10, got.FilledQty)
	assert.Equal(t, 2450.0, got.AvgFillPrice)
	require.NotEmpty(t, changes)
	assert.Equal(t, models.OrderFilled, changes[len(changes)-1].Status)
}

func TestApplyOrderUpdateCorrelation(t *testing.T) {
	g := NewGateway(broker.NewPaperBroker(0), nil, nil, zerolog.Nop())

	order, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Instrument: equity("2885", "RELIANCE-EQ"),
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeLimit,
		Product:    models.ProductCNC,
		Quantity:   5,
		Price:      2400,
	})
	require.NoError(t, err)

	// Correlate by broker id even when local id is absent
	g.ApplyOrderUpdate(models.OrderUpdate{
		BrokerID:  order.BrokerID,
		Status:    models.OrderOpen,
		Timestamp: time.Now(),
	})

	got, err := g.Get(order.LocalID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderOpen, got.Status)

	// Correlate by local id when broker id is absent
	g.ApplyOrderUpdate(models.OrderUpdate{
		LocalID:      order.LocalID,
		Status:       models.OrderPartiallyFilled,
		FilledQty:    2,
		AvgFillPrice: 2400,
		Timestamp:    time.Now(),
	})

	got, err = g.Get(order.LocalID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPartiallyFilled, got.Status)
	assert.Equal(t, 2, got.FilledQty)
}

// restingBroker leaves orders open instead of filling them, standing in
// for an exchange that has accepted but not executed.
type restingBroker struct {
	*broker.PaperBroker
	modified []broker.OrderRequest
}

func (r *restingBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (*broker.OrderResult, error) {
	return &broker.OrderResult{BrokerID: "REST1", Status: "open"}, nil
}

func (r *restingBroker) ModifyOrder(ctx context.Context, brokerID string, req broker.OrderRequest) error {
	r.modified = append(r.modified, req)
	return nil
}

func TestModifyOrderKeepsUnchangedFields(t *testing.T) {
	rb := &restingBroker{PaperBroker: broker.NewPaperBroker(0)}
	g := NewGateway(rb, nil, nil, zerolog.Nop())
	ctx := context.Background()

	order, err := g.PlaceOrder(ctx, models.OrderSpec{
		Instrument: equity("2885", "RELIANCE-EQ"),
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeLimit,
		Product:    models.ProductCNC,
		Quantity:   10,
		Price:      2400,
	})
	require.NoError(t, err)

	// A price-only amend: zero quantity and trigger keep the current values
	require.NoError(t, g.ModifyOrder(ctx, order.LocalID, 2410, 0, 0))

	require.Len(t, rb.modified, 1)
	assert.Equal(t, 10, rb.modified[0].Quantity)
	assert.Equal(t, 2410.0, rb.modified[0].Price)

	got, err := g.Get(order.LocalID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Quantity)
	assert.Equal(t, 2410.0, got.Price)

	// A quantity-only amend carries the price forward
	require.NoError(t, g.ModifyOrder(ctx, order.LocalID, 0, 0, 20))

	got, err = g.Get(order.LocalID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.Quantity)
	assert.Equal(t, 2410.0, got.Price)
}

func TestTerminalOrdersFrozen(t *testing.T) {
	g, pb := newTestGateway(t)
	pb.SetPrice(models.InstrumentID{Segment: models.NSECash, Token: "RELIANCE-EQ"}, 2450)

	order, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Instrument: equity("2885", "RELIANCE-EQ"),
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeMarket,
		Product:    models.ProductCNC,
		Quantity:   1,
	})
	require.NoError(t, err)

	got, err := g.Get(order.LocalID)
	require.NoError(t, err)
	require.True(t, got.Status.IsTerminal())

	// Conflicting and duplicate updates after the terminal state are dropped
	g.ApplyOrderUpdate(models.OrderUpdate{LocalID: order.LocalID, Status: models.OrderCancelled, Timestamp: time.Now()})
	g.ApplyOrderUpdate(models.OrderUpdate{LocalID: order.LocalID, Status: models.OrderFilled, FilledQty: 99, Timestamp: time.Now()})

	got, err = g.Get(order.LocalID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, got.Status)
	assert.Equal(t, 1, got.FilledQty)
}

func TestCancelTerminalOrderRejected(t *testing.T) {
	g, pb := newTestGateway(t)
	pb.SetPrice(models.InstrumentID{Segment: models.NSECash, Token: "RELIANCE-EQ"}, 2450)

	order, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Instrument: equity("2885", "RELIANCE-EQ"),
		Side:       models.OrderSideBuy,
		Type:       models.OrderTypeMarket,
		Product:    models.ProductCNC,
		Quantity:   1,
	})
	require.NoError(t, err)

	err = g.CancelOrder(context.Background(), order.LocalID)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrOrderNotCancellable))
}

func TestCancelUnknownOrder(t *testing.T) {
	g, _ := newTestGateway(t)
	err := g.CancelOrder(context.Background(), "nope")
	assert.True(t, apperrors.Is(err, apperrors.ErrOrderNotFound))
}

func TestReconcileAdoptsExternalOrders(t *testing.T) {
	pb := broker.NewPaperBroker(10000000)
	pb.SetPrice(models.InstrumentID{Segment: models.NSECash, Token: "TCS-EQ"}, 4100)

	// Order placed outside the gateway
	_, err := pb.PlaceOrder(context.Background(), broker.OrderRequest{
		Segment:       models.NSECash,
		TradingSymbol: "TCS-EQ",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Product:       models.ProductCNC,
		Quantity:      2,
	})
	require.NoError(t, err)

	g := NewGateway(pb, nil, nil, zerolog.Nop())
	require.NoError(t, g.Reconcile(context.Background()))

	book := g.Orders()
	require.Len(t, book, 1)
	assert.Equal(t, "TCS-EQ", book[0].Instrument.TradingSymbol)
	assert.Equal(t, models.OrderFilled, book[0].Status)

	// Reconciling again does not duplicate
	require.NoError(t, g.Reconcile(context.Background()))
	assert.Len(t, g.Orders(), 1)
}

func TestPositionsDeriveVWAPAndPnL(t *testing.T) {
	pb := broker.NewPaperBroker(10000000)
	ltp := map[models.InstrumentID]models.Quote{
		{Segment: models.NSECash, Token: "RELIANCE-EQ"}: {LTP: 2500},
	}
	quotes := func(id models.InstrumentID) (models.Quote, bool) {
		q, ok := ltp[id]
		return q, ok
	}
	g := NewGateway(pb, nil, quotes, zerolog.Nop())
	ctx := context.Background()

	pb.SetPrice(models.InstrumentID{Segment: models.NSECash, Token: "RELIANCE-EQ"}, 2400)
	for _, qty := range []int{10, 10} {
		_, err := pb.PlaceOrder(ctx, broker.OrderRequest{
			Segment:       models.NSECash,
			TradingSymbol: "RELIANCE-EQ",
			Side:          models.OrderSideBuy,
			Type:          models.OrderTypeMarket,
			Product:       models.ProductCNC,
			Quantity:      qty,
		})
		require.NoError(t, err)
	}

	views, err := g.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)

	pos := views[0].Position
	assert.Equal(t, 20, pos.NetQty)
	assert.Equal(t, 2400.0, pos.AvgPrice)

	// (sellValue - buyValue) + netQty*ltp = (0 - 48000) + 20*2500 = 2000
	assert.True(t, views[0].HasLTP)
	assert.Equal(t, 2000.0, views[0].PnL)
}

func TestExitPositionFlattens(t *testing.T) {
	g, pb := newTestGateway(t)
	ctx := context.Background()

	id := models.InstrumentID{Segment: models.NSECash, Token: "RELIANCE-EQ"}
	pb.SetPrice(id, 2400)
	_, err := pb.PlaceOrder(ctx, broker.OrderRequest{
		Segment:       models.NSECash,
		TradingSymbol: "RELIANCE-EQ",
		Side:          models.OrderSideBuy,
		Type:          models.OrderTypeMarket,
		Product:       models.ProductCNC,
		Quantity:      10,
	})
	require.NoError(t, err)

	require.NoError(t, g.CloseAll(ctx))

	views, err := g.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Zero(t, views[0].Position.NetQty)

	// Flat book: CloseAll again places nothing
	before := len(g.Orders())
	require.NoError(t, g.CloseAll(ctx))
	assert.Equal(t, before, len(g.Orders()))
}
