// Package ledger is the authoritative local record of net position,
// weighted average entry cost and accumulated fees. Only confirmed fills
// mutate it, and every mutation is persisted before it returns.
package ledger

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridbot/pkg/models"
)

// resetEpsilon: below this quantity the position is treated as closed and
// the ledger resets hard. Fee residue is discarded as noise, not
// reconciled into a P&L close-out.
var resetEpsilon = decimal.RequireFromString("0.001")

type Ledger struct {
	state State
	store *Store
	log   *zap.Logger

	mux sync.Mutex
}

// Open loads the persisted state (default when none exists) and returns
// a ready ledger.
func Open(store *Store, log *zap.Logger) (*Ledger, error) {
	state, err := store.Load()
	if err != nil {
		return nil, err
	}

	return &Ledger{state: state, store: store, log: log}, nil
}

// RecordFill applies a confirmed fill. Buys grow quantity and cost basis;
// sells shed cost at the current average, clamped at zero. A sell that
// drops the quantity below epsilon resets the ledger to flat atomically.
func (l *Ledger) RecordFill(side models.OrderSide, price, qty, fee decimal.Decimal) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	fill := models.Fill{
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Fee:       fee,
		Timestamp: time.Now().UTC(),
	}

	if side == models.OrderSideBuy {
		l.state.Quantity = l.state.Quantity.Add(qty)
		l.state.CostBasis = l.state.CostBasis.Add(price.Mul(qty))
		l.state.Fees = l.state.Fees.Add(fee)
		l.state.GridFills = append(l.state.GridFills, GridFill{Price: price, Quantity: qty})
		l.state.Fills = append(l.state.Fills, fill)
		return l.store.Save(l.state)
	}

	avg := l.averageCostLocked()
	l.state.CostBasis = l.state.CostBasis.Sub(avg.Mul(qty))
	if l.state.CostBasis.IsNegative() {
		l.state.CostBasis = decimal.Zero
	}
	l.state.Quantity = l.state.Quantity.Sub(qty)
	if l.state.Quantity.IsNegative() {
		l.state.Quantity = decimal.Zero
	}
	l.state.Fees = l.state.Fees.Add(fee)
	l.state.Fills = append(l.state.Fills, fill)

	if l.state.Quantity.LessThan(resetEpsilon) {
		l.log.Info("position closed, resetting ledger",
			zap.String("residual_qty", l.state.Quantity.String()))
		l.state = defaultState()
	}

	return l.store.Save(l.state)
}

// AdoptPosition overwrites the ledger with the exchange's authoritative
// snapshot. Fill history is cleared; the exchange wins on mismatch.
func (l *Ledger) AdoptPosition(qty, entryPrice decimal.Decimal) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	l.state = defaultState()
	l.state.Quantity = qty
	l.state.CostBasis = qty.Mul(entryPrice)
	return l.store.Save(l.state)
}

// TrackProtectiveOrders mirrors the ids of active TP orders and the SL
// order into the persisted state.
func (l *Ledger) TrackProtectiveOrders(tpOrders []string, slOrderID string) error {
	l.mux.Lock()
	defer l.mux.Unlock()

	l.state.TPOrders = append([]string{}, tpOrders...)
	l.state.SLOrderID = slOrderID
	return l.store.Save(l.state)
}

func (l *Ledger) AverageCost() decimal.Decimal {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.averageCostLocked()
}

func (l *Ledger) averageCostLocked() decimal.Decimal {
	if !l.state.Quantity.IsPositive() {
		return decimal.Zero
	}
	return l.state.CostBasis.Div(l.state.Quantity)
}

func (l *Ledger) Quantity() decimal.Decimal {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.state.Quantity
}

func (l *Ledger) Fees() decimal.Decimal {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.state.Fees
}

// Flat reports whether the position is closed (quantity below epsilon).
func (l *Ledger) Flat() bool {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.state.Quantity.LessThan(resetEpsilon)
}

// Snapshot returns a copy of the persisted state for observability.
func (l *Ledger) Snapshot() State {
	l.mux.Lock()
	defer l.mux.Unlock()

	out := l.state
	out.GridFills = append([]GridFill{}, l.state.GridFills...)
	out.Fills = append([]models.Fill{}, l.state.Fills...)
	out.TPOrders = append([]string{}, l.state.TPOrders...)
	return out
}
