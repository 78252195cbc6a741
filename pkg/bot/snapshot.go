package bot

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/pkg/models"
)

// OrderSummary is the open-order view exposed in snapshots.
type OrderSummary struct {
	OrderID    string           `json:"order_id"`
	Side       models.OrderSide `json:"side"`
	Price      decimal.Decimal  `json:"price"`
	Quantity   decimal.Decimal  `json:"quantity"`
	ReduceOnly bool             `json:"reduce_only"`
}

// Snapshot is a point-in-time view of the bot for journaling and
// inspection.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Version   string    `json:"version"`

	Signal    string          `json:"signal"`
	LastPrice decimal.Decimal `json:"last_price"`

	PositionQty decimal.Decimal `json:"position_qty"`
	AverageCost decimal.Decimal `json:"average_cost"`
	Fees        decimal.Decimal `json:"fees"`
	Balance     decimal.Decimal `json:"balance"`

	// StreamPositionQty and StreamEntryPrice are the exchange's own view
	// as last reported on the private stream, next to the ledger view.
	StreamPositionQty decimal.Decimal `json:"stream_position_qty"`
	StreamEntryPrice  decimal.Decimal `json:"stream_entry_price"`

	OpenOrders    []OrderSummary  `json:"open_orders"`
	TakeProfitIDs []string        `json:"take_profit_ids"`
	StopLossID    string          `json:"stop_loss_id"`
	StopLossPrice decimal.Decimal `json:"stop_loss_price"`
}

// Snapshot assembles the current view. Open orders come from the
// gateway; a query failure leaves the slice empty rather than failing
// the snapshot.
func (b *Bot) Snapshot(ctx context.Context) Snapshot {
	b.mu.Lock()
	sig := b.lastSignal.Kind.String()
	price := b.lastPrice
	b.mu.Unlock()

	state := b.led.Snapshot()
	pos := b.acc.GetPosition(b.cfg.Symbol)

	snap := Snapshot{
		Timestamp:         b.now(),
		Symbol:            b.cfg.Symbol,
		Version:           Version,
		Signal:            sig,
		LastPrice:         price,
		PositionQty:       state.Quantity,
		AverageCost:       b.led.AverageCost(),
		Fees:              state.Fees,
		Balance:           b.acc.GetBalance(b.cfg.Asset).Balance,
		StreamPositionQty: pos.Amount,
		StreamEntryPrice:  pos.EntryPrice,
		TakeProfitIDs:     state.TPOrders,
		StopLossID:        state.SLOrderID,
	}

	open, err := b.gw.GetOpenOrders(ctx)
	if err != nil {
		b.log.Debug("open orders unavailable for snapshot")
		return snap
	}
	for _, o := range open {
		snap.OpenOrders = append(snap.OpenOrders, OrderSummary{
			OrderID:    o.OrderID,
			Side:       o.Side,
			Price:      o.Price,
			Quantity:   o.Quantity,
			ReduceOnly: o.ReduceOnly,
		})
		if o.Type == models.OrderTypeStopMarket && o.ClosePosition {
			snap.StopLossPrice = o.StopPrice
		}
	}
	return snap
}

func (b *Bot) recordSnapshot(ctx context.Context) {
	if b.journal == nil {
		return
	}
	if err := b.journal.Record(ctx, b.Snapshot(ctx)); err != nil {
		b.log.Warn("failed to journal snapshot")
	}
}
