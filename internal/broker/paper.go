package broker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/mydkumarj/Kotak-Algo-Dashboard/internal/errors"
	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// PaperBroker implements the Broker interface for paper trading simulation.
// Orders fill immediately at the cached price; limit orders fill at their
// limit price. All state is in memory.
type PaperBroker struct {
	cash       float64
	orders     map[string]*OrderReport
	orderSeq   []string
	positions  map[string]*PositionReport
	priceCache map[models.InstrumentID]float64

	orderCounter int
	updateHook   func(models.OrderUpdate)

	mu sync.RWMutex
}

// NewPaperBroker creates a new paper trading broker.
func NewPaperBroker(initialCash float64) *PaperBroker {
	if initialCash == 0 {
		initialCash = 1000000 // 10 lakhs default
	}
	return &PaperBroker{
		cash:       initialCash,
		orders:     make(map[string]*OrderReport),
		positions:  make(map[string]*PositionReport),
		priceCache: make(map[models.InstrumentID]float64),
	}
}

// SetPrice seeds the simulated price for an instrument.
func (p *PaperBroker) SetPrice(id models.InstrumentID, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceCache[id] = price
}

// OnOrderUpdate registers a hook invoked with the synthetic fill update
// produced by each placement.
func (p *PaperBroker) OnOrderUpdate(hook func(models.OrderUpdate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateHook = hook
}

// TOTPLogin is a no-op for paper trading.
func (p *PaperBroker) TOTPLogin(ctx context.Context, mobile, ucc, totpCode string) (*ViewToken, error) {
	return &ViewToken{Token: "paper-view", SID: "paper"}, nil
}

// TOTPValidate is a no-op for paper trading.
func (p *PaperBroker) TOTPValidate(ctx context.Context, view *ViewToken, mpin string) (*SessionTokens, error) {
	return &SessionTokens{SessionToken: "paper-session", SID: "paper", IssuedAt: time.Now()}, nil
}

// Logout is a no-op for paper trading.
func (p *PaperBroker) Logout(ctx context.Context) error { return nil }

// IsAuthenticated always returns true for paper trading.
func (p *PaperBroker) IsAuthenticated() bool { return true }

// GetQuotes returns quotes from the seeded price cache.
func (p *PaperBroker) GetQuotes(ctx context.Context, ids []models.InstrumentID) (map[models.InstrumentID]models.Quote, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[models.InstrumentID]models.Quote, len(ids))
	for _, id := range ids {
		if price, ok := p.priceCache[id]; ok {
			out[id] = models.Quote{LTP: price, Timestamp: time.Now()}
		}
	}
	return out, nil
}

// ScripMaster is unavailable in paper mode; resolvers use a persisted cache.
func (p *PaperBroker) ScripMaster(ctx context.Context, segment models.ExchangeSegment) (io.ReadCloser, error) {
	return nil, apperrors.ErrDataNotFound
}

// PlaceOrder simulates order placement with an immediate fill.
func (p *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	p.mu.Lock()

	p.orderCounter++
	brokerID := fmt.Sprintf("PAPER%d%04d", time.Now().Unix(), p.orderCounter)

	id := models.InstrumentID{Segment: req.Segment, Token: req.TradingSymbol}
	price := p.priceCache[id]
	if req.Type == models.OrderTypeLimit || price == 0 {
		price = req.Price
	}

	status := models.OrderFilled
	reason := ""
	cost := price * float64(req.Quantity)
	if req.Side == models.OrderSideBuy && cost > p.cash {
		status = models.OrderRejected
		reason = "insufficient funds"
	}

	now := time.Now()
	report := &OrderReport{
		BrokerID:      brokerID,
		LocalID:       req.LocalID,
		TradingSymbol: req.TradingSymbol,
		Segment:       req.Segment,
		Side:          req.Side,
		Type:          req.Type,
		Product:       req.Product,
		Quantity:      req.Quantity,
		Price:         req.Price,
		TriggerPrice:  req.TriggerPrice,
		Status:        status,
		UpdatedAt:     now,
	}
	if status == models.OrderFilled {
		report.FilledQty = req.Quantity
		report.AvgFillPrice = price
		p.applyFill(req, price)
	} else {
		report.Reason = reason
	}
	p.orders[brokerID] = report
	p.orderSeq = append(p.orderSeq, brokerID)
	hook := p.updateHook
	p.mu.Unlock()

	if hook != nil {
		hook(models.OrderUpdate{
			LocalID:      req.LocalID,
			BrokerID:     brokerID,
			Status:       status,
			FilledQty:    report.FilledQty,
			AvgFillPrice: report.AvgFillPrice,
			Reason:       reason,
			Timestamp:    now,
		})
	}

	return &OrderResult{BrokerID: brokerID, Status: string(status)}, nil
}

func (p *PaperBroker) applyFill(req OrderRequest, price float64) {
	key := string(req.Segment) + ":" + req.TradingSymbol + ":" + string(req.Product)
	pos, ok := p.positions[key]
	if !ok {
		pos = &PositionReport{
			TradingSymbol: req.TradingSymbol,
			Segment:       req.Segment,
			Token:         req.TradingSymbol,
			Product:       req.Product,
			Multiplier:    1,
			LotSize:       1,
		}
		p.positions[key] = pos
	}

	value := price * float64(req.Quantity)
	if req.Side == models.OrderSideBuy {
		pos.FlatBuyQty += req.Quantity
		pos.BuyValue += value
		p.cash -= value
	} else {
		pos.FlatSellQty += req.Quantity
		pos.SellValue += value
		p.cash += value
	}
}

// ModifyOrder amends a pending simulated order.
func (p *PaperBroker) ModifyOrder(ctx context.Context, brokerID string, req OrderRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	report, ok := p.orders[brokerID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if report.Status.IsTerminal() {
		return apperrors.ErrOrderNotCancellable
	}
	report.Price = req.Price
	report.TriggerPrice = req.TriggerPrice
	report.Quantity = req.Quantity
	report.UpdatedAt = time.Now()
	return nil
}

// CancelOrder cancels a pending simulated order.
func (p *PaperBroker) CancelOrder(ctx context.Context, brokerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	report, ok := p.orders[brokerID]
	if !ok {
		return apperrors.ErrOrderNotFound
	}
	if report.Status.IsTerminal() {
		return apperrors.ErrOrderNotCancellable
	}
	report.Status = models.OrderCancelled
	report.UpdatedAt = time.Now()
	return nil
}

// GetOrderBook returns simulated orders in placement order.
func (p *PaperBroker) GetOrderBook(ctx context.Context) ([]OrderReport, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]OrderReport, 0, len(p.orderSeq))
	for _, id := range p.orderSeq {
		out = append(out, *p.orders[id])
	}
	return out, nil
}

// GetPositions returns simulated positions.
func (p *PaperBroker) GetPositions(ctx context.Context) ([]PositionReport, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]PositionReport, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// GetLimits returns simulated fund limits.
func (p *PaperBroker) GetLimits(ctx context.Context) (map[string]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return map[string]string{
		"Net":             strconv.FormatFloat(p.cash, 'f', 2, 64),
		"CollateralValue": "0.00",
		"MarginUsed":      "0.00",
	}, nil
}

// PaperFeed implements the Feed interface for simulation and tests.
// Ticks and order updates are injected via PushTick and PushOrderUpdate.
type PaperFeed struct {
	desired  map[models.InstrumentID]struct{}
	lastSeen map[models.InstrumentID]time.Time

	onTick        func(models.Tick)
	onOrderUpdate func(models.OrderUpdate)
	onError       func(error)
	onConnect     func()
	onDisconnect  func()

	connected bool
	mu        sync.RWMutex
}

// NewPaperFeed creates a new simulated feed.
func NewPaperFeed() *PaperFeed {
	return &PaperFeed{
		desired:  make(map[models.InstrumentID]struct{}),
		lastSeen: make(map[models.InstrumentID]time.Time),
	}
}

// Connect marks the feed connected.
func (f *PaperFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	handler := f.onConnect
	f.mu.Unlock()

	if handler != nil {
		handler()
	}
	return nil
}

// Disconnect marks the feed disconnected.
func (f *PaperFeed) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	handler := f.onDisconnect
	f.mu.Unlock()

	if handler != nil {
		handler()
	}
	return nil
}

// Subscribe adds instruments to the subscription set.
func (f *PaperFeed) Subscribe(ids []models.InstrumentID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.desired[id] = struct{}{}
	}
	return nil
}

// Unsubscribe removes instruments from the subscription set.
func (f *PaperFeed) Unsubscribe(ids []models.InstrumentID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.desired, id)
		delete(f.lastSeen, id)
	}
	return nil
}

// Subscriptions returns a snapshot of the subscription set.
func (f *PaperFeed) Subscriptions() []models.InstrumentID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.InstrumentID, 0, len(f.desired))
	for id := range f.desired {
		out = append(out, id)
	}
	return out
}

// IsConnected returns whether the feed is connected.
func (f *PaperFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// OnTick sets the tick handler.
func (f *PaperFeed) OnTick(handler func(models.Tick)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTick = handler
}

// OnOrderUpdate sets the order update handler.
func (f *PaperFeed) OnOrderUpdate(handler func(models.OrderUpdate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onOrderUpdate = handler
}

// OnError sets the error handler.
func (f *PaperFeed) OnError(handler func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = handler
}

// OnConnect sets the connect handler.
func (f *PaperFeed) OnConnect(handler func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = handler
}

// OnDisconnect sets the disconnect handler.
func (f *PaperFeed) OnDisconnect(handler func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = handler
}

// PushTick injects a tick. Ticks for unsubscribed instruments and exact
// duplicates (same instrument and timestamp) are dropped, matching the
// live feed behaviour.
func (f *PaperFeed) PushTick(tick models.Tick) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return
	}
	if _, ok := f.desired[tick.Instrument]; !ok {
		f.mu.Unlock()
		return
	}
	if last, ok := f.lastSeen[tick.Instrument]; ok && tick.Quote.Timestamp.Equal(last) {
		f.mu.Unlock()
		return
	}
	f.lastSeen[tick.Instrument] = tick.Quote.Timestamp
	handler := f.onTick
	f.mu.Unlock()

	if handler != nil {
		handler(tick)
	}
}

// PushOrderUpdate injects an order update.
func (f *PaperFeed) PushOrderUpdate(update models.OrderUpdate) {
	f.mu.RLock()
	connected := f.connected
	handler := f.onOrderUpdate
	f.mu.RUnlock()

	if connected && handler != nil {
		handler(update)
	}
}

var (
	_ Broker = (*PaperBroker)(nil)
	_ Feed   = (*PaperFeed)(nil)
)
