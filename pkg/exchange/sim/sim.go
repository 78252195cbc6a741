// Package sim is the dry-run gateway: orders rest in memory and never
// touch an exchange. It implements the same contract as the live gateway
// so the bot cannot tell the difference.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridbot/pkg/exchange"
	"gridbot/pkg/models"
)

type Gateway struct {
	symbol  string
	balance decimal.Decimal
	price   decimal.Decimal

	tickSize decimal.Decimal
	stepSize decimal.Decimal
	minQty   decimal.Decimal

	// The book keeps full order records; the exchange-facing view in
	// GetOpenOrders is derived from them.
	orders map[string]models.Order
	pos    exchange.PositionSnapshot

	mux sync.Mutex
	log *zap.Logger
}

func New(symbol string, balance decimal.Decimal, log *zap.Logger) *Gateway {
	return &Gateway{
		symbol:   symbol,
		balance:  balance,
		tickSize: decimal.RequireFromString("0.01"),
		stepSize: decimal.RequireFromString("0.001"),
		minQty:   decimal.RequireFromString("0.001"),
		orders:   make(map[string]models.Order),
		log:      log,
	}
}

// SetPrice seeds the simulated mark price used by the fallback price query.
func (g *Gateway) SetPrice(p decimal.Decimal) {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.price = p
}

// SetPosition seeds the simulated exchange position, e.g. to exercise
// startup adoption.
func (g *Gateway) SetPosition(qty, entry decimal.Decimal) {
	g.mux.Lock()
	defer g.mux.Unlock()
	g.pos = exchange.PositionSnapshot{Quantity: qty, EntryPrice: entry}
}

func (g *Gateway) GetOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	g.mux.Lock()
	defer g.mux.Unlock()

	orders := make([]exchange.OpenOrder, 0, len(g.orders))
	for _, o := range g.orders {
		orders = append(orders, exchange.OpenOrder{
			OrderID:       o.ExchangeOrderID,
			ClientOrderID: o.ClientOrderID,
			Side:          o.Side,
			Type:          o.Type,
			Price:         o.Price,
			Quantity:      o.Size,
			Status:        o.Status,
			ReduceOnly:    o.ReduceOnly,
			ClosePosition: o.ClosePosition,
			StopPrice:     o.StopPrice,
		})
	}
	return orders, nil
}

func (g *Gateway) PlaceLimitOrder(ctx context.Context, intent exchange.OrderIntent) exchange.Result {
	price := g.RoundPrice(intent.Price)
	qty := g.RoundQty(intent.Quantity)
	if !price.IsPositive() || !qty.IsPositive() {
		return exchange.Result{Err: fmt.Errorf("sim: price or quantity resolves to zero")}
	}

	now := time.Now().UTC()
	id := uuid.New().String()
	g.mux.Lock()
	g.orders[id] = models.Order{
		ClientOrderID:   intent.ClientID,
		ExchangeOrderID: id,
		CreatedAt:       now,
		UpdatedAt:       now,
		Symbol:          g.symbol,
		Side:            intent.Side,
		Type:            models.OrderTypeLimit,
		TimeInForce:     models.TimeInForceGTC,
		Status:          models.OrderStatusPlaced,
		Size:            qty,
		Price:           price,
		ReduceOnly:      intent.ReduceOnly,
	}
	g.mux.Unlock()

	g.log.Debug("sim order placed",
		zap.String("order_id", id),
		zap.String("side", string(intent.Side)),
		zap.String("price", price.String()),
		zap.String("qty", qty.String()))

	return exchange.Result{OrderID: id, ClientOrderID: intent.ClientID, Status: models.OrderStatusPlaced}
}

func (g *Gateway) PlaceStopMarketClosePosition(ctx context.Context, stopPrice decimal.Decimal) exchange.Result {
	stop := g.RoundPrice(stopPrice)
	if !stop.IsPositive() {
		return exchange.Result{Err: fmt.Errorf("sim: stop price resolves to zero")}
	}

	now := time.Now().UTC()
	id := uuid.New().String()
	g.mux.Lock()
	g.orders[id] = models.Order{
		ExchangeOrderID: id,
		CreatedAt:       now,
		UpdatedAt:       now,
		Symbol:          g.symbol,
		Side:            models.OrderSideSell,
		Type:            models.OrderTypeStopMarket,
		Status:          models.OrderStatusPlaced,
		ClosePosition:   true,
		StopPrice:       stop,
	}
	g.mux.Unlock()

	return exchange.Result{OrderID: id, Status: models.OrderStatusPlaced}
}

func (g *Gateway) CancelOrder(ctx context.Context, orderID string) exchange.Result {
	g.mux.Lock()
	defer g.mux.Unlock()

	if _, ok := g.orders[orderID]; !ok {
		return exchange.Result{OrderID: orderID, Err: fmt.Errorf("sim: unknown order %s", orderID)}
	}
	delete(g.orders, orderID)
	return exchange.Result{OrderID: orderID, Status: models.OrderStatusCanceled}
}

func (g *Gateway) CancelAllOrders(ctx context.Context) exchange.Result {
	g.mux.Lock()
	defer g.mux.Unlock()

	g.orders = make(map[string]models.Order)
	return exchange.Result{Status: models.OrderStatusCanceled}
}

func (g *Gateway) GetAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	g.mux.Lock()
	defer g.mux.Unlock()
	return g.balance, nil
}

func (g *Gateway) GetPositionSnapshot(ctx context.Context, symbol string) (exchange.PositionSnapshot, error) {
	g.mux.Lock()
	defer g.mux.Unlock()
	return g.pos, nil
}

func (g *Gateway) GetSymbolPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	g.mux.Lock()
	defer g.mux.Unlock()

	if !g.price.IsPositive() {
		return decimal.Zero, fmt.Errorf("sim: no price seeded")
	}
	return g.price, nil
}

func (g *Gateway) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Div(g.tickSize).Round(0).Mul(g.tickSize)
}

func (g *Gateway) RoundQty(qty decimal.Decimal) decimal.Decimal {
	q := qty.Div(g.stepSize).Floor().Mul(g.stepSize)
	if q.LessThan(g.minQty) {
		q = g.minQty
	}
	return q
}
