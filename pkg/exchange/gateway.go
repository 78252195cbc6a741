// Package exchange defines the gateway contract the bot trades through.
// Two implementations exist: binance (live) and sim (dry runs). The core
// never branches on which one it holds.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"gridbot/pkg/models"
)

// OpenOrder mirrors an order resting on the exchange. Read-only here;
// the exchange owns it.
type OpenOrder struct {
	OrderID       string
	ClientOrderID string
	Side          models.OrderSide
	Type          models.OrderType
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Status        models.OrderStatus
	ReduceOnly    bool
	ClosePosition bool
	StopPrice     decimal.Decimal
}

// Result reports the outcome of an order action. Rejections come back as
// Err inside a Result rather than an error return: a rejected level is a
// normal outcome the reconciler logs and retries on the next pass.
type Result struct {
	OrderID       string
	ClientOrderID string
	Status        models.OrderStatus
	Err           error
}

func (r Result) OK() bool {
	return r.Err == nil && r.Status != models.OrderStatusRejected
}

// PositionSnapshot is the exchange's authoritative view of the position.
type PositionSnapshot struct {
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
}

// OrderIntent is the unit submitted to the gateway.
type OrderIntent struct {
	Side       models.OrderSide
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	ReduceOnly bool
	ClientID   string
}

// Gateway is the exchange surface the bot depends on. Transport and
// authentication live behind it.
type Gateway interface {
	GetOpenOrders(ctx context.Context) ([]OpenOrder, error)
	PlaceLimitOrder(ctx context.Context, intent OrderIntent) Result
	PlaceStopMarketClosePosition(ctx context.Context, stopPrice decimal.Decimal) Result
	CancelOrder(ctx context.Context, orderID string) Result
	CancelAllOrders(ctx context.Context) Result
	GetAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetPositionSnapshot(ctx context.Context, symbol string) (PositionSnapshot, error)
	GetSymbolPrice(ctx context.Context, symbol string) (decimal.Decimal, error)

	// RoundPrice and RoundQty snap values to the instrument's filters.
	RoundPrice(price decimal.Decimal) decimal.Decimal
	RoundQty(qty decimal.Decimal) decimal.Decimal
}

// SessionTokener is implemented by gateways whose private stream needs a
// session token with acquire/keepalive/release semantics.
type SessionTokener interface {
	GetListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, key string) error
	CloseListenKey(ctx context.Context, key string) error
}
