package orders

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/broker"
	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/logging"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// Journal persists order state transitions.
type Journal interface {
	UpsertOrder(order *models.Order) error
}

// QuoteSource supplies the latest price for P&L computation.
type QuoteSource func(id models.InstrumentID) (models.Quote, bool)

// Gateway submits orders and keeps the local order book consistent with
// the broker's. Submission is never retried: a transport failure leaves
// the order pending and reconciliation against the broker order book
// decides its fate. Updates are applied through ApplyOrderUpdate from the
// dispatcher's single apply goroutine.
type Gateway struct {
	broker  broker.Broker
	journal Journal
	quotes  QuoteSource
	logger  zerolog.Logger

	orders   map[string]*models.Order // keyed by local id
	byBroker map[string]string        // broker id -> local id
	sequence []string

	observers []func(models.Order)
	mu        sync.RWMutex
}

// NewGateway creates an order gateway. Journal and quote source may be nil.
func NewGateway(b broker.Broker, journal Journal, quotes QuoteSource, logger zerolog.Logger) *Gateway {
	return &Gateway{
		broker:   b,
		journal:  journal,
		quotes:   quotes,
		logger:   logger,
		orders:   make(map[string]*models.Order),
		byBroker: make(map[string]string),
	}
}

// OnOrderChange registers an observer invoked after every accepted
// state change.
func (g *Gateway) OnOrderChange(fn func(models.Order)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, fn)
}

// PlaceOrder validates and submits an order. The returned order carries
// the locally assigned id; the fill outcome arrives asynchronously.
func (g *Gateway) PlaceOrder(ctx context.Context, spec models.OrderSpec) (*models.Order, error) {
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}

	now := time.Now()
	order := &models.Order{
		LocalID:      uuid.NewString(),
		Instrument:   spec.Instrument,
		Side:         spec.Side,
		Type:         spec.Type,
		Product:      spec.Product,
		Quantity:     spec.Quantity,
		Price:        spec.Price,
		TriggerPrice: spec.TriggerPrice,
		Validity:     spec.Validity,
		Status:       models.OrderPending,
		PlacedAt:     now,
		UpdatedAt:    now,
	}

	g.mu.Lock()
	g.orders[order.LocalID] = order
	g.sequence = append(g.sequence, order.LocalID)
	g.mu.Unlock()
	g.persist(order)

	result, err := g.broker.PlaceOrder(ctx, broker.OrderRequest{
		Segment:       spec.Instrument.ID.Segment,
		TradingSymbol: spec.Instrument.TradingSymbol,
		Side:          spec.Side,
		Type:          spec.Type,
		Product:       spec.Product,
		Quantity:      spec.Quantity,
		Price:         spec.Price,
		TriggerPrice:  spec.TriggerPrice,
		Validity:      spec.Validity,
		AMO:           spec.AMO,
		LocalID:       order.LocalID,
	})
	if err != nil {
		// No retry. The order may or may not have reached the broker;
		// reconciliation settles it either way.
		orderLogger := logging.WithOrderID(g.logger, order.LocalID)
		orderLogger.Error().Err(err).
			Str("symbol", spec.Instrument.TradingSymbol).Msg("order submit failed")
		cp := g.snapshotLocked(order.LocalID)
		return cp, apperrors.NewOrderError(order.LocalID, spec.Instrument.TradingSymbol, "place", err.Error(), apperrors.ErrSubmitFailed)
	}

	g.mu.Lock()
	order.BrokerID = result.BrokerID
	g.byBroker[result.BrokerID] = order.LocalID
	g.mu.Unlock()
	g.persist(order)

	orderLogger := logging.WithOrderID(g.logger, order.LocalID)
	orderLogger.Info().
		Str("broker_id", result.BrokerID).
		Str("symbol", spec.Instrument.TradingSymbol).
		Str("side", string(spec.Side)).
		Int("qty", spec.Quantity).
		Msg("order submitted")

	return g.snapshotLocked(order.LocalID), nil
}

// ModifyOrder amends price, trigger and quantity on an open order.
func (g *Gateway) ModifyOrder(ctx context.Context, localID string, price, triggerPrice float64, quantity int) error {
	g.mu.RLock()
	order, ok := g.orders[localID]
	if !ok {
		g.mu.RUnlock()
		return apperrors.ErrOrderNotFound
	}
	if !order.Status.Cancellable() {
		g.mu.RUnlock()
		return apperrors.NewOrderError(localID, order.Instrument.TradingSymbol, "modify", "order is not open", apperrors.ErrOrderNotCancellable)
	}

	// Zero means "keep current": carry the order's value forward so a
	// price-only or quantity-only amend still validates.
	if quantity == 0 {
		quantity = order.Quantity
	}
	if price == 0 {
		price = order.Price
	}
	if triggerPrice == 0 {
		triggerPrice = order.TriggerPrice
	}

	spec := models.OrderSpec{
		Instrument:   order.Instrument,
		Side:         order.Side,
		Type:         order.Type,
		Product:      order.Product,
		Quantity:     quantity,
		Price:        price,
		TriggerPrice: triggerPrice,
		Validity:     order.Validity,
	}
	brokerID := order.BrokerID
	g.mu.RUnlock()

	if err := validateSpec(&spec); err != nil {
		return err
	}
	if brokerID == "" {
		return apperrors.NewOrderError(localID, spec.Instrument.TradingSymbol, "modify", "order has no broker id yet", apperrors.ErrInvalidState)
	}

	err := g.broker.ModifyOrder(ctx, brokerID, broker.OrderRequest{
		Segment:       spec.Instrument.ID.Segment,
		TradingSymbol: spec.Instrument.TradingSymbol,
		Side:          spec.Side,
		Type:          spec.Type,
		Product:       spec.Product,
		Quantity:      quantity,
		Price:         price,
		TriggerPrice:  triggerPrice,
		Validity:      spec.Validity,
		LocalID:       localID,
	})
	if err != nil {
		return apperrors.NewOrderError(localID, spec.Instrument.TradingSymbol, "modify", err.Error(), err)
	}

	g.mu.Lock()
	order.Price = price
	order.TriggerPrice = triggerPrice
	order.Quantity = quantity
	order.UpdatedAt = time.Now()
	g.mu.Unlock()
	g.persist(order)

	g.logger.Info().Str("local_id", localID).Msg("order modified")
	return nil
}

// CancelOrder cancels an open order.
func (g *Gateway) CancelOrder(ctx context.Context, localID string) error {
	g.mu.RLock()
	order, ok := g.orders[localID]
	if !ok {
		g.mu.RUnlock()
		return apperrors.ErrOrderNotFound
	}
	if !order.Status.Cancellable() {
		g.mu.RUnlock()
		return apperrors.NewOrderError(localID, order.Instrument.TradingSymbol, "cancel", "order already terminal", apperrors.ErrOrderNotCancellable)
	}
	brokerID := order.BrokerID
	symbol := order.Instrument.TradingSymbol
	g.mu.RUnlock()

	if brokerID == "" {
		return apperrors.NewOrderError(localID, symbol, "cancel", "order has no broker id yet", apperrors.ErrInvalidState)
	}

	if err := g.broker.CancelOrder(ctx, brokerID); err != nil {
		return apperrors.NewOrderError(localID, symbol, "cancel", err.Error(), err)
	}

	g.logger.Info().Str("local_id", localID).Msg("cancel requested")
	return nil
}

// ApplyOrderUpdate merges an asynchronous update into the local book.
// Correlation prefers the broker id and falls back to the local id.
// Terminal orders are frozen: any further update is logged and dropped.
func (g *Gateway) ApplyOrderUpdate(update models.OrderUpdate) {
	g.mu.Lock()

	localID := ""
	if update.BrokerID != "" {
		localID = g.byBroker[update.BrokerID]
	}
	if localID == "" {
		localID = update.LocalID
	}

	order, ok := g.orders[localID]
	if !ok {
		g.mu.Unlock()
		g.logger.Warn().
			Str("broker_id", update.BrokerID).
			Str("status", string(update.Status)).
			Msg("update for unknown order")
		return
	}

	if order.Status.IsTerminal() {
		g.mu.Unlock()
		if update.Status != order.Status {
			g.logger.Warn().
				Str("local_id", order.LocalID).
				Str("have", string(order.Status)).
				Str("got", string(update.Status)).
				Msg("update for terminal order dropped")
		}
		return
	}

	if update.BrokerID != "" && order.BrokerID == "" {
		order.BrokerID = update.BrokerID
		g.byBroker[update.BrokerID] = order.LocalID
	}
	order.Status = update.Status
	if update.FilledQty > order.FilledQty {
		order.FilledQty = update.FilledQty
	}
	if update.AvgFillPrice > 0 {
		order.AvgFillPrice = update.AvgFillPrice
	}
	if update.Reason != "" {
		order.Reason = update.Reason
	}
	if !update.Timestamp.IsZero() {
		order.UpdatedAt = update.Timestamp
	} else {
		order.UpdatedAt = time.Now()
	}

	snapshot := *order
	observers := g.observers
	g.mu.Unlock()

	g.persist(&snapshot)
	logging.LogOrder(g.logger, snapshot.LocalID, snapshot.Instrument.TradingSymbol,
		string(snapshot.Side), string(snapshot.Status))

	for _, fn := range observers {
		fn(snapshot)
	}
}

// Reconcile pulls the broker order book and merges every entry. Run
// after login and after feed gaps; applying a report twice is harmless.
func (g *Gateway) Reconcile(ctx context.Context) error {
	reports, err := g.broker.GetOrderBook(ctx)
	if err != nil {
		return apperrors.Wrap(err, "fetching order book")
	}

	for _, report := range reports {
		g.mu.RLock()
		_, known := g.byBroker[report.BrokerID]
		if !known && report.LocalID != "" {
			_, known = g.orders[report.LocalID]
		}
		g.mu.RUnlock()

		if !known {
			g.adopt(report)
			continue
		}

		g.ApplyOrderUpdate(models.OrderUpdate{
			LocalID:      report.LocalID,
			BrokerID:     report.BrokerID,
			Status:       report.Status,
			FilledQty:    report.FilledQty,
			AvgFillPrice: report.AvgFillPrice,
			Reason:       report.Reason,
			Timestamp:    report.UpdatedAt,
		})
	}
	return nil
}

// adopt registers an order placed outside this process so the book
// reflects everything the broker knows about.
func (g *Gateway) adopt(report broker.OrderReport) {
	localID := report.LocalID
	if localID == "" {
		localID = uuid.NewString()
	}

	order := &models.Order{
		LocalID:  localID,
		BrokerID: report.BrokerID,
		Instrument: &models.Instrument{
			ID:            models.InstrumentID{Segment: report.Segment, Token: report.TradingSymbol},
			TradingSymbol: report.TradingSymbol,
		},
		Side:         report.Side,
		Type:         report.Type,
		Product:      report.Product,
		Quantity:     report.Quantity,
		Price:        report.Price,
		TriggerPrice: report.TriggerPrice,
		Status:       report.Status,
		FilledQty:    report.FilledQty,
		AvgFillPrice: report.AvgFillPrice,
		Reason:       report.Reason,
		PlacedAt:     report.UpdatedAt,
		UpdatedAt:    report.UpdatedAt,
	}

	g.mu.Lock()
	g.orders[localID] = order
	g.byBroker[report.BrokerID] = localID
	g.sequence = append(g.sequence, localID)
	g.mu.Unlock()
	g.persist(order)

	g.logger.Info().Str("broker_id", report.BrokerID).Str("symbol", report.TradingSymbol).Msg("adopted external order")
}

// Orders returns the local book in placement order.
func (g *Gateway) Orders() []models.Order {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]models.Order, 0, len(g.sequence))
	for _, id := range g.sequence {
		out = append(out, *g.orders[id])
	}
	return out
}

// Get returns one order by local id.
func (g *Gateway) Get(localID string) (*models.Order, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	order, ok := g.orders[localID]
	if !ok {
		return nil, apperrors.ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (g *Gateway) snapshotLocked(localID string) *models.Order {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cp := *g.orders[localID]
	return &cp
}

func (g *Gateway) persist(order *models.Order) {
	if g.journal == nil {
		return
	}
	if err := g.journal.UpsertOrder(order); err != nil {
		g.logger.Error().Err(err).Str("local_id", order.LocalID).Msg("journaling order failed")
	}
}
