// Package domain contains core business entities and value objects.
package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents the direction of an order (buy or sell).
type OrderSide string

const (
	// OrderSideBuy indicates a buy order.
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell indicates a sell order.
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of order execution.
type OrderType string

const (
	// OrderTypeLimit is a limit order that executes at the specified price or better.
	OrderTypeLimit OrderType = "LIMIT"
	// OrderTypeMarket is a market order that executes immediately at the best available price.
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus represents the current state of an order as reported by the exchange.
type OrderStatus string

const (
	// OrderStatusNew indicates the order has been accepted but not yet filled.
	OrderStatusNew OrderStatus = "NEW"
	// OrderStatusPartiallyFilled indicates part of the order quantity has been executed.
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	// OrderStatusFilled indicates the order has been completely filled.
	OrderStatusFilled OrderStatus = "FILLED"
	// OrderStatusCanceled indicates the order was cancelled before being filled.
	OrderStatusCanceled OrderStatus = "CANCELED"
	// OrderStatusRejected indicates the exchange refused the order.
	OrderStatusRejected OrderStatus = "REJECTED"
	// OrderStatusExpired indicates the order expired before being filled.
	OrderStatusExpired OrderStatus = "EXPIRED"
)

// Order is an immutable snapshot of an exchange order at a point in time.
// Two orders are equal iff all fields match; use Equal for comparison since
// decimal fields must be compared by value, not representation.
//
// Timestamps are Unix milliseconds, matching the exchange wire format.
// ClientOrderID, TimeInForce and CumQuoteQty are incidental exchange extras:
// they are carried when present but their absence is not an error.
type Order struct {
	// Symbol is the traded pair identifier (e.g., "ETHUSDT").
	Symbol string `json:"symbol"`
	// OrderID is the unique identifier assigned by the exchange.
	OrderID int64 `json:"orderId"`
	// ClientOrderID is the client-chosen identifier sent with the order.
	ClientOrderID string `json:"clientOrderId,omitempty"`
	// Side indicates whether this is a buy or sell order.
	Side OrderSide `json:"side"`
	// Type indicates limit or market order.
	Type OrderType `json:"type"`
	// Status is the current state of the order.
	Status OrderStatus `json:"status"`
	// Price is the limit price.
	Price decimal.Decimal `json:"price"`
	// OrigQty is the originally requested quantity in base asset.
	OrigQty decimal.Decimal `json:"origQty"`
	// ExecutedQty is the quantity filled so far in base asset.
	ExecutedQty decimal.Decimal `json:"executedQty"`
	// CumQuoteQty is the cumulative filled value in quote asset.
	CumQuoteQty decimal.Decimal `json:"cummulativeQuoteQty"`
	// TimeInForce is the order lifetime policy (e.g., "GTC").
	TimeInForce string `json:"timeInForce,omitempty"`
	// Time is the order creation timestamp in Unix milliseconds.
	Time int64 `json:"time"`
	// UpdateTime is the last update timestamp in Unix milliseconds.
	UpdateTime int64 `json:"updateTime"`
}

// CreatedAt returns the order creation time.
func (o Order) CreatedAt() time.Time {
	return time.UnixMilli(o.Time)
}

// IsFilled reports whether the exchange has fully executed the order.
func (o Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}

// Equal reports whether two orders match on every field.
func (o Order) Equal(other Order) bool {
	return o.Symbol == other.Symbol &&
		o.OrderID == other.OrderID &&
		o.ClientOrderID == other.ClientOrderID &&
		o.Side == other.Side &&
		o.Type == other.Type &&
		o.Status == other.Status &&
		o.Price.Equal(other.Price) &&
		o.OrigQty.Equal(other.OrigQty) &&
		o.ExecutedQty.Equal(other.ExecutedQty) &&
		o.CumQuoteQty.Equal(other.CumQuoteQty) &&
		o.TimeInForce == other.TimeInForce &&
		o.Time == other.Time &&
		o.UpdateTime == other.UpdateTime
}

// Info returns a single-line human-readable summary of the order,
// used in logs and notification bodies.
func (o Order) Info() string {
	date := "N/A"
	if o.Time != 0 {
		date = time.UnixMilli(o.Time).Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf("| %s-Order | %d | %s | %s | %s | %s | Price: %s | Quantity: %s | Calculated value in quote (price*quantity): %s",
		o.Type, o.OrderID, date, o.Status, o.Side, o.Symbol,
		o.Price, o.OrigQty, o.Price.Mul(o.OrigQty))
}
