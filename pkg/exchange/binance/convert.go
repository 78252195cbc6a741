package binance

import (
	"strings"
	"time"

	"gridbot/pkg/models"
)

func timestampToTime(ms int64) time.Time {
	return time.Unix(0, ms*1000*1000).UTC()
}

func symbolToExchange(symbol string) string {
	return strings.ToUpper(symbol)
}

func symbolFromExchange(exchangeSymbol string) string {
	return strings.ToLower(exchangeSymbol)
}

var statusFromEx = map[string]models.OrderStatus{
	"NEW":              models.OrderStatusPlaced,
	"PARTIALLY_FILLED": models.OrderStatusPartiallyFilled,
	"FILLED":           models.OrderStatusFilled,
	"CANCELED":         models.OrderStatusCanceled,
	"EXPIRED":          models.OrderStatusCanceled,
	"REJECTED":         models.OrderStatusRejected,
}

func orderStatusFromExchange(status string) models.OrderStatus {
	return statusFromEx[status]
}

var typeFromEx = map[string]models.OrderType{
	"MARKET":      models.OrderTypeMarket,
	"LIMIT":       models.OrderTypeLimit,
	"STOP":        models.OrderTypeStopMarket,
	"STOP_MARKET": models.OrderTypeStopMarket,
	"TAKE_PROFIT": models.OrderTypeTP,
}

func orderTypeFromExchange(tp string) models.OrderType {
	return typeFromEx[tp]
}

func sideFromExchange(side string) models.OrderSide {
	if strings.EqualFold(side, "SELL") {
		return models.OrderSideSell
	}
	return models.OrderSideBuy
}

func sideToExchange(side models.OrderSide) string {
	return strings.ToUpper(string(side))
}
