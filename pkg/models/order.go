package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopMarket OrderType = "stop_market"
	OrderTypeTP         OrderType = "take_profit"
)

type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "new"
	OrderStatusPlaced          OrderStatus = "placed"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusCanceled        OrderStatus = "canceled"
)

// IsOpen reports whether an order with this status is still resting on the book.
func (s OrderStatus) IsOpen() bool {
	return s == OrderStatusNew || s == OrderStatusPlaced || s == OrderStatusPartiallyFilled
}

type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
	TimeInForceGTX TimeInForce = "GTX"
)

type Order struct {
	ClientOrderID   string
	ExchangeOrderID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Symbol          string
	Side            OrderSide
	Type            OrderType
	TimeInForce     TimeInForce
	Status          OrderStatus

	Size  decimal.Decimal
	Price decimal.Decimal

	// StopPrice and ClosePosition are set on protective stop-market orders.
	StopPrice     decimal.Decimal
	ClosePosition bool
	ReduceOnly    bool

	FilledSize   decimal.Decimal
	AveragePrice decimal.Decimal
}

// OrderUpdate is a private-stream report of an order state change.
// LastFilledSize and LastFilledPrice describe the increment of the most
// recent execution, Commission its fee.
type OrderUpdate struct {
	ClientOrderID   string
	ExchangeOrderID string
	UpdatedAt       time.Time
	Status          OrderStatus
	Side            OrderSide
	Symbol          string

	FilledSize      decimal.Decimal
	AveragePrice    decimal.Decimal
	LastFilledSize  decimal.Decimal
	LastFilledPrice decimal.Decimal
	Commission      decimal.Decimal
}

// Fill is an immutable execution record appended to the ledger history.
// JSON tags match the persisted state file format.
type Fill struct {
	Side      OrderSide       `json:"side"`
	Price     decimal.Decimal `json:"precio"`
	Quantity  decimal.Decimal `json:"cantidad"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp time.Time       `json:"timestamp"`
}
