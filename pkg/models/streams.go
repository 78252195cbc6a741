package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type MsgType uint8

const (
	MsgTypeTrade MsgType = iota
	MsgTypeDepth
	MsgTypeMiniTicker
	MsgTypeOrderStatus
	MsgTypeBalanceUpdate
	MsgTypePositionUpdate
)

// StreamKind identifies a logical market/account subscription.
type StreamKind string

const (
	StreamTrade  StreamKind = "trade"
	StreamDepth  StreamKind = "depth"
	StreamTicker StreamKind = "ticker"
	StreamUser   StreamKind = "user"
)

type ExchangeMessage struct {
	Exchange  string
	Symbol    string
	Timestamp time.Time
	MsgType   MsgType
	Payload   any
}

type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Trade is a single public aggressor trade. Sell is true when the buyer
// was the market maker, i.e. the aggressor sold.
type Trade struct {
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Timestamp time.Time
	Sell      bool
}

// DepthSnapshot carries the bid side of the book, best bid first.
type DepthSnapshot struct {
	Bids      []PriceLevel
	Timestamp time.Time
}

// MiniTicker carries the rolling-window close price.
type MiniTicker struct {
	ClosePrice decimal.Decimal
}

type BalanceUpdate struct {
	Asset   string
	Balance decimal.Decimal
}

type PositionUpdate struct {
	Symbol     string
	Amount     decimal.Decimal
	EntryPrice decimal.Decimal
}
