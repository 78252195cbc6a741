package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridbot/pkg/exchange"
	"gridbot/pkg/models"
)

type placeOrderResp struct {
	ClientOrderID   string `json:"clientOrderId"`
	Symbol          string `json:"symbol"`
	Side            string `json:"side"`
	Type            string `json:"type"`
	Quantity        string `json:"origQty"`
	Price           string `json:"price"`
	ReduceOnly      bool   `json:"reduceOnly"`
	ClosePosition   bool   `json:"closePosition"`
	StopPrice       string `json:"stopPrice"`
	Status          string `json:"status"`
	ExchangeOrderID int64  `json:"orderId"`
	UpdateTime      int64  `json:"updateTime"`
}

// PlaceLimitOrder submits a GTC limit order. Exchange rejection comes back
// inside the Result, not as a fault.
func (api *API) PlaceLimitOrder(ctx context.Context, intent exchange.OrderIntent) exchange.Result {
	price := api.RoundPrice(intent.Price)
	qty := api.RoundQty(intent.Quantity)
	if !price.IsPositive() || !qty.IsPositive() {
		return exchange.Result{Err: fmt.Errorf("binance.PlaceLimitOrder: price or quantity resolves to zero")}
	}

	values := url.Values{}
	values.Add("symbol", symbolToExchange(api.symbol))
	values.Add("side", sideToExchange(intent.Side))
	values.Add("type", "LIMIT")
	values.Add("quantity", qty.String())
	values.Add("price", price.String())
	values.Add("timeInForce", string(models.TimeInForceGTC))
	if intent.ReduceOnly {
		values.Add("reduceOnly", "true")
	}
	if intent.ClientID != "" {
		values.Add("newClientOrderId", intent.ClientID)
	}

	b, err := api.signedCall(ctx, "POST", "/fapi/v1/order", values.Encode())
	if err != nil {
		return exchange.Result{ClientOrderID: intent.ClientID, Status: models.OrderStatusRejected, Err: err}
	}

	return api.orderResult(b, intent.ClientID)
}

// PlaceStopMarketClosePosition places the protective stop. closePosition
// orders carry no quantity; the exchange flattens whatever is held.
func (api *API) PlaceStopMarketClosePosition(ctx context.Context, stopPrice decimal.Decimal) exchange.Result {
	stop := api.RoundPrice(stopPrice)
	if !stop.IsPositive() {
		return exchange.Result{Err: fmt.Errorf("binance.PlaceStopMarketClosePosition: stop price resolves to zero")}
	}

	values := url.Values{}
	values.Add("symbol", symbolToExchange(api.symbol))
	values.Add("side", "SELL")
	values.Add("type", "STOP_MARKET")
	values.Add("stopPrice", stop.String())
	values.Add("closePosition", "true")

	b, err := api.signedCall(ctx, "POST", "/fapi/v1/order", values.Encode())
	if err != nil {
		return exchange.Result{Status: models.OrderStatusRejected, Err: err}
	}

	return api.orderResult(b, "")
}

func (api *API) CancelOrder(ctx context.Context, orderID string) exchange.Result {
	values := url.Values{}
	values.Add("symbol", symbolToExchange(api.symbol))
	values.Add("orderId", orderID)

	b, err := api.signedCall(ctx, "DELETE", "/fapi/v1/order", values.Encode())
	if err != nil {
		return exchange.Result{OrderID: orderID, Err: err}
	}

	return api.orderResult(b, "")
}

func (api *API) CancelAllOrders(ctx context.Context) exchange.Result {
	values := url.Values{}
	values.Add("symbol", symbolToExchange(api.symbol))

	if _, err := api.signedCall(ctx, "DELETE", "/fapi/v1/allOpenOrders", values.Encode()); err != nil {
		return exchange.Result{Err: err}
	}

	return exchange.Result{Status: models.OrderStatusCanceled}
}

func (api *API) orderResult(body []byte, clientID string) exchange.Result {
	var respData placeOrderResp
	if err := json.Unmarshal(body, &respData); err != nil {
		return exchange.Result{ClientOrderID: clientID, Err: fmt.Errorf("binance: failed to unmarshal order response: %w", err)}
	}

	res := exchange.Result{
		OrderID:       strconv.FormatInt(respData.ExchangeOrderID, 10),
		ClientOrderID: respData.ClientOrderID,
		Status:        orderStatusFromExchange(respData.Status),
	}
	if res.ClientOrderID == "" {
		res.ClientOrderID = clientID
	}

	api.log.Debug("order action acknowledged",
		zap.String("order_id", res.OrderID),
		zap.String("status", string(res.Status)))

	return res
}

type openOrderResp struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	Status        string `json:"status"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	StopPrice     string `json:"stopPrice"`
}

func (api *API) GetOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	values := url.Values{}
	values.Add("symbol", symbolToExchange(api.symbol))

	b, err := api.signedCall(ctx, "GET", "/fapi/v1/openOrders", values.Encode())
	if err != nil {
		return nil, fmt.Errorf("binance.GetOpenOrders: %w", err)
	}

	var raw []openOrderResp
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("binance.GetOpenOrders failed to unmarshal response: %w", err)
	}

	orders := make([]exchange.OpenOrder, 0, len(raw))
	for _, o := range raw {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			api.log.Warn("skipping open order with bad price",
				zap.Int64("order_id", o.OrderID), zap.String("price", o.Price))
			continue
		}
		qty, _ := decimal.NewFromString(o.OrigQty)
		stop := decimal.Zero
		if o.StopPrice != "" {
			stop, _ = decimal.NewFromString(o.StopPrice)
		}

		orders = append(orders, exchange.OpenOrder{
			OrderID:       strconv.FormatInt(o.OrderID, 10),
			ClientOrderID: o.ClientOrderID,
			Side:          sideFromExchange(o.Side),
			Type:          orderTypeFromExchange(o.Type),
			Price:         price,
			Quantity:      qty,
			Status:        orderStatusFromExchange(o.Status),
			ReduceOnly:    o.ReduceOnly,
			ClosePosition: o.ClosePosition,
			StopPrice:     stop,
		})
	}

	return orders, nil
}
