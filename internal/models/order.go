package models

import "time"

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of an order.
type OrderType string

const (
	OrderTypeLimit     OrderType = "LIMIT"
	OrderTypeMarket    OrderType = "MARKET"
	OrderTypeStopLoss  OrderType = "SL"
	OrderTypeStopLossM OrderType = "SL-M"
)

// ProductType represents the brokerage margin/settlement category.
type ProductType string

const (
	ProductNRML ProductType = "NRML"
	ProductMIS  ProductType = "MIS"
	ProductCNC  ProductType = "CNC"
	ProductCO   ProductType = "CO"
	ProductBO   ProductType = "BO"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderOpen            OrderStatus = "OPEN"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderFilled          OrderStatus = "FILLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the status is final. Terminal orders are
// immutable; any later update for them is an anomaly.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderRejected, OrderCancelled:
		return true
	}
	return false
}

// Cancellable reports whether an order in this status may still be
// cancelled or modified.
func (s OrderStatus) Cancellable() bool {
	switch s {
	case OrderPending, OrderOpen, OrderPartiallyFilled:
		return true
	}
	return false
}

// OrderSpec is the caller-supplied description of an order to submit.
type OrderSpec struct {
	Instrument   *Instrument
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	Price        float64
	TriggerPrice float64
	Validity     string // DAY, IOC; defaults to DAY
	AMO          bool
}

// Order is a tracked order. LocalID is assigned at submit time; BrokerID
// arrives asynchronously with the first acknowledgement.
type Order struct {
	LocalID      string
	BrokerID     string
	Instrument   *Instrument
	Side         OrderSide
	Type         OrderType
	Product      ProductType
	Quantity     int
	Price        float64
	TriggerPrice float64
	Validity     string
	Status       OrderStatus
	FilledQty    int
	AvgFillPrice float64
	Reason       string // broker-supplied rejection/cancel reason
	PlacedAt     time.Time
	UpdatedAt    time.Time
}

// OrderUpdate is an asynchronous order event, arriving either on the push
// feed or as a direct submit/cancel response. BrokerID may be empty on the
// earliest updates; LocalID may be empty on feed-pushed ones.
type OrderUpdate struct {
	LocalID      string
	BrokerID     string
	Status       OrderStatus
	FilledQty    int
	AvgFillPrice float64
	Reason       string
	Timestamp    time.Time
}

// Position is the net projection of filled orders for one instrument.
// Unrealized P&L is derived from the live quote on read and never stored.
type Position struct {
	Instrument *Instrument
	NetQty     int
	AvgPrice   float64
	BuyValue   float64
	SellValue  float64
}

// PnL computes the position's total P&L against the given last price.
// Realized leg is (sell value - buy value); open leg marks net quantity
// to the last traded price.
func (p *Position) PnL(ltp float64) float64 {
	return (p.SellValue - p.BuyValue) + float64(p.NetQty)*ltp
}
