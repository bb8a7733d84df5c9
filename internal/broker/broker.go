// Package broker provides brokerage integration interfaces and implementations.
package broker

import (
	"context"
	"io"
	"time"

	"github.com/mydkumarj/Kotak-Algo-Dashboard/internal/models"
)

// Broker defines the interface for brokerage REST operations.
type Broker interface {
	// Authentication (two-step: TOTP then MPIN)
	TOTPLogin(ctx context.Context, mobile, ucc, totpCode string) (*ViewToken, error)
	TOTPValidate(ctx context.Context, view *ViewToken, mpin string) (*SessionTokens, error)
	Logout(ctx context.Context) error
	IsAuthenticated() bool

	// Market Data
	GetQuotes(ctx context.Context, ids []models.InstrumentID) (map[models.InstrumentID]models.Quote, error)
	ScripMaster(ctx context.Context, segment models.ExchangeSegment) (io.ReadCloser, error)

	// Orders
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	ModifyOrder(ctx context.Context, brokerID string, req OrderRequest) error
	CancelOrder(ctx context.Context, brokerID string) error
	GetOrderBook(ctx context.Context) ([]OrderReport, error)

	// Positions & Account
	GetPositions(ctx context.Context) ([]PositionReport, error)
	GetLimits(ctx context.Context) (map[string]string, error)
}

// Feed defines the interface for the real-time push feed.
type Feed interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Subscribe(ids []models.InstrumentID) error
	Unsubscribe(ids []models.InstrumentID) error
	Subscriptions() []models.InstrumentID
	IsConnected() bool

	OnTick(handler func(models.Tick))
	OnOrderUpdate(handler func(models.OrderUpdate))
	OnError(handler func(error))
	OnConnect(handler func())
	OnDisconnect(handler func())
}

// ViewToken is the intermediate token issued after TOTP verification.
type ViewToken struct {
	Token string
	SID   string
}

// SessionTokens are the final tokens issued after MPIN validation.
type SessionTokens struct {
	SessionToken string
	SID          string
	ServerID     string
	IssuedAt     time.Time
}

// OrderRequest carries the wire-level fields for order placement and modification.
type OrderRequest struct {
	Segment       models.ExchangeSegment
	TradingSymbol string
	Side          models.OrderSide
	Type          models.OrderType
	Product       models.ProductType
	Quantity      int
	Price         float64
	TriggerPrice  float64
	Validity      string
	AMO           bool
	LocalID       string // echoed back in reports for correlation
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	BrokerID string
	Status   string
	Message  string
}

// OrderReport is a single order book entry as reported by the broker.
type OrderReport struct {
	BrokerID      string
	LocalID       string
	TradingSymbol string
	Segment       models.ExchangeSegment
	Side          models.OrderSide
	Type          models.OrderType
	Product       models.ProductType
	Quantity      int
	Price         float64
	TriggerPrice  float64
	Status        models.OrderStatus
	FilledQty     int
	AvgFillPrice  float64
	Reason        string
	UpdatedAt     time.Time
}

// PositionReport is a raw position row: flat plus carry-forward quantities
// and traded values, before net quantity and P&L derivation.
type PositionReport struct {
	TradingSymbol string
	Segment       models.ExchangeSegment
	Token         string
	Product       models.ProductType
	FlatBuyQty    int
	FlatSellQty   int
	CFBuyQty      int
	CFSellQty     int
	BuyValue      float64
	SellValue     float64
	CFBuyValue    float64
	CFSellValue   float64
	Multiplier    float64
	LotSize       int
}

// NetQty returns the signed net quantity including carry-forward legs.
func (p PositionReport) NetQty() int {
	return (p.FlatBuyQty + p.CFBuyQty) - (p.FlatSellQty + p.CFSellQty)
}

// TotalBuyValue returns buy value including carry-forward.
func (p PositionReport) TotalBuyValue() float64 {
	return p.BuyValue + p.CFBuyValue
}

// TotalSellValue returns sell value including carry-forward.
func (p PositionReport) TotalSellValue() float64 {
	return p.SellValue + p.CFSellValue
}
