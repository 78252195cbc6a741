package binance

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/pkg/models"
)

// StreamURL builds the websocket endpoint for a logical subscription.
// The user stream address is the listen key itself.
func StreamURL(wsBaseURL, symbol string, kind models.StreamKind, listenKey string) string {
	s := strings.ToLower(symbol)
	switch kind {
	case models.StreamTrade:
		return fmt.Sprintf("%s/ws/%s@trade", wsBaseURL, s)
	case models.StreamDepth:
		return fmt.Sprintf("%s/ws/%s@depth@100ms", wsBaseURL, s)
	case models.StreamTicker:
		return fmt.Sprintf("%s/ws/%s@miniTicker", wsBaseURL, s)
	case models.StreamUser:
		return fmt.Sprintf("%s/ws/%s", wsBaseURL, listenKey)
	}
	return wsBaseURL
}

type tradeEvent struct {
	Symbol    string          `json:"s"`
	Price     decimal.Decimal `json:"p"`
	Quantity  decimal.Decimal `json:"q"`
	TradeTime int64           `json:"T"`
	Maker     bool            `json:"m"`
}

type depthEvent struct {
	Symbol    string      `json:"s"`
	EventTime int64       `json:"E"`
	Bids      [][2]string `json:"b"`
}

type miniTickerEvent struct {
	Symbol     string          `json:"s"`
	ClosePrice decimal.Decimal `json:"c"`
}

// DecodeMarketMessage turns one raw market-stream frame into a typed
// message. A decode failure is scoped to the single frame.
func DecodeMarketMessage(kind models.StreamKind, raw []byte) (models.ExchangeMessage, error) {
	switch kind {
	case models.StreamTrade:
		var ev tradeEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return models.ExchangeMessage{}, fmt.Errorf("binance: bad trade frame: %w", err)
		}
		if !ev.Price.IsPositive() {
			return models.ExchangeMessage{}, fmt.Errorf("binance: trade frame without price")
		}
		return models.ExchangeMessage{
			Exchange:  Name,
			Symbol:    symbolFromExchange(ev.Symbol),
			Timestamp: timestampToTime(ev.TradeTime),
			MsgType:   models.MsgTypeTrade,
			Payload: models.Trade{
				Price:     ev.Price,
				Quantity:  ev.Quantity,
				Timestamp: timestampToTime(ev.TradeTime),
				Sell:      ev.Maker,
			},
		}, nil

	case models.StreamDepth:
		var ev depthEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return models.ExchangeMessage{}, fmt.Errorf("binance: bad depth frame: %w", err)
		}
		bids := make([]models.PriceLevel, 0, len(ev.Bids))
		for _, b := range ev.Bids {
			price, errP := decimal.NewFromString(b[0])
			size, errS := decimal.NewFromString(b[1])
			if errP != nil || errS != nil {
				continue
			}
			bids = append(bids, models.PriceLevel{Price: price, Size: size})
		}
		return models.ExchangeMessage{
			Exchange:  Name,
			Symbol:    symbolFromExchange(ev.Symbol),
			Timestamp: timestampToTime(ev.EventTime),
			MsgType:   models.MsgTypeDepth,
			Payload: models.DepthSnapshot{
				Bids:      bids,
				Timestamp: timestampToTime(ev.EventTime),
			},
		}, nil

	case models.StreamTicker:
		var ev miniTickerEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return models.ExchangeMessage{}, fmt.Errorf("binance: bad miniTicker frame: %w", err)
		}
		if !ev.ClosePrice.IsPositive() {
			return models.ExchangeMessage{}, fmt.Errorf("binance: miniTicker frame without close price")
		}
		return models.ExchangeMessage{
			Exchange:  Name,
			Symbol:    symbolFromExchange(ev.Symbol),
			Timestamp: time.Now().UTC(),
			MsgType:   models.MsgTypeMiniTicker,
			Payload:   models.MiniTicker{ClosePrice: ev.ClosePrice},
		}, nil
	}

	return models.ExchangeMessage{}, fmt.Errorf("binance: unknown market stream kind %q", kind)
}

type userEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol          string          `json:"s"`
		ClientOrderID   string          `json:"c"`
		Side            string          `json:"S"`
		Status          string          `json:"X"`
		OrderID         int64           `json:"i"`
		AveragePrice    decimal.Decimal `json:"ap"`
		LastFilledPrice decimal.Decimal `json:"L"`
		LastFilledQty   decimal.Decimal `json:"l"`
		FilledQty       decimal.Decimal `json:"z"`
		Commission      decimal.Decimal `json:"n"`
	} `json:"o"`
	Account struct {
		Balances []struct {
			Asset   string          `json:"a"`
			Balance decimal.Decimal `json:"wb"`
		} `json:"B"`
		Positions []struct {
			Symbol     string          `json:"s"`
			Amount     decimal.Decimal `json:"pa"`
			EntryPrice decimal.Decimal `json:"ep"`
		} `json:"P"`
	} `json:"a"`
}

// DecodeUserMessage turns one raw user-stream frame into typed messages.
// ACCOUNT_UPDATE fans out into one message per balance and position entry;
// event types the bot does not consume decode to an empty slice.
func DecodeUserMessage(raw []byte) ([]models.ExchangeMessage, error) {
	var ev userEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("binance: bad user frame: %w", err)
	}

	ts := timestampToTime(ev.EventTime)

	switch ev.EventType {
	case "ORDER_TRADE_UPDATE":
		o := ev.Order
		return []models.ExchangeMessage{{
			Exchange:  Name,
			Symbol:    symbolFromExchange(o.Symbol),
			Timestamp: ts,
			MsgType:   models.MsgTypeOrderStatus,
			Payload: models.OrderUpdate{
				ClientOrderID:   o.ClientOrderID,
				ExchangeOrderID: fmt.Sprintf("%d", o.OrderID),
				UpdatedAt:       ts,
				Status:          orderStatusFromExchange(o.Status),
				Side:            sideFromExchange(o.Side),
				Symbol:          symbolFromExchange(o.Symbol),
				FilledSize:      o.FilledQty,
				AveragePrice:    o.AveragePrice,
				LastFilledSize:  o.LastFilledQty,
				LastFilledPrice: o.LastFilledPrice,
				Commission:      o.Commission,
			},
		}}, nil

	case "ACCOUNT_UPDATE":
		var msgs []models.ExchangeMessage
		for _, b := range ev.Account.Balances {
			msgs = append(msgs, models.ExchangeMessage{
				Exchange:  Name,
				Timestamp: ts,
				MsgType:   models.MsgTypeBalanceUpdate,
				Payload: models.BalanceUpdate{
					Asset:   strings.ToLower(b.Asset),
					Balance: b.Balance,
				},
			})
		}
		for _, p := range ev.Account.Positions {
			msgs = append(msgs, models.ExchangeMessage{
				Exchange:  Name,
				Symbol:    symbolFromExchange(p.Symbol),
				Timestamp: ts,
				MsgType:   models.MsgTypePositionUpdate,
				Payload: models.PositionUpdate{
					Symbol:     symbolFromExchange(p.Symbol),
					Amount:     p.Amount,
					EntryPrice: p.EntryPrice,
				},
			})
		}
		return msgs, nil
	}

	return nil, nil
}
