// Package orders makes live resting orders match the desired grid with
// minimal churn and keeps the protective TP/SL orders present.
package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridbot/pkg/exchange"
	"gridbot/pkg/metrics"
	"gridbot/pkg/models"
)

// tpMarkup is the fixed take-profit target over average cost.
var tpMarkup = decimal.RequireFromString("1.003")

// Tolerances for matching live orders against targets.
type Tolerances struct {
	// GridPrice is absolute, in quote currency units.
	GridPrice decimal.Decimal
	// TPOffset and SLPrice are relative to the target.
	TPOffset decimal.Decimal
	SLPrice  decimal.Decimal
}

func DefaultTolerances() Tolerances {
	return Tolerances{
		GridPrice: decimal.RequireFromString("0.5"),
		TPOffset:  decimal.RequireFromString("0.0002"),
		SLPrice:   decimal.RequireFromString("0.002"),
	}
}

type Reconciler struct {
	gw  exchange.Gateway
	tol Tolerances
	log *zap.Logger

	nowMillis func() int64
}

func NewReconciler(gw exchange.Gateway, tol Tolerances, log *zap.Logger) *Reconciler {
	return &Reconciler{
		gw:  gw,
		tol: tol,
		log: log,
		nowMillis: func() int64 {
			return time.Now().UnixMilli()
		},
	}
}

// GridResult reports what a reconcile pass did.
type GridResult struct {
	Created   int
	Cancelled int
	Kept      int
}

// ReconcileGrid diffs desired buy levels against live open buys. A live
// buy within the price tolerance of a desired level is kept; unmatched
// live buys are cancelled and unmatched levels created. A rejection of
// one level never aborts the rest of the pass.
func (r *Reconciler) ReconcileGrid(ctx context.Context, desired []decimal.Decimal, qtyPerLevel decimal.Decimal) (GridResult, error) {
	open, err := r.gw.GetOpenOrders(ctx)
	if err != nil {
		return GridResult{}, fmt.Errorf("orders: failed to fetch open orders: %w", err)
	}

	var buys []exchange.OpenOrder
	for _, o := range open {
		if o.Side == models.OrderSideBuy && o.Type == models.OrderTypeLimit {
			buys = append(buys, o)
		}
	}

	matched := make(map[string]bool, len(buys))
	var toCreate []struct {
		index int
		price decimal.Decimal
	}

	for i, level := range desired {
		found := false
		for _, o := range buys {
			if matched[o.OrderID] || !o.Status.IsOpen() {
				continue
			}
			if o.Price.Sub(level).Abs().LessThanOrEqual(r.tol.GridPrice) {
				matched[o.OrderID] = true
				found = true
				break
			}
		}
		if !found {
			toCreate = append(toCreate, struct {
				index int
				price decimal.Decimal
			}{i, level})
		}
	}

	res := GridResult{Kept: len(matched)}

	for _, o := range buys {
		if matched[o.OrderID] {
			continue
		}
		if cancel := r.gw.CancelOrder(ctx, o.OrderID); cancel.Err != nil {
			r.log.Warn("failed to cancel stale grid order",
				zap.String("order_id", o.OrderID),
				zap.String("price", o.Price.String()),
				zap.Error(cancel.Err))
			continue
		}
		res.Cancelled++
	}

	for _, c := range toCreate {
		result := r.PlaceGridBuy(ctx, c.price, qtyPerLevel, c.index)
		if result.Err != nil {
			r.log.Warn("failed to place grid order",
				zap.String("price", c.price.String()),
				zap.Error(result.Err))
			continue
		}
		res.Created++
	}

	metrics.GridOrders.WithLabelValues("created").Add(float64(res.Created))
	metrics.GridOrders.WithLabelValues("cancelled").Add(float64(res.Cancelled))
	metrics.GridOrders.WithLabelValues("kept").Add(float64(res.Kept))

	return res, nil
}

// PlaceGridBuy submits one grid level. The client id carries the level
// index and a millisecond timestamp; close to idempotent, not guaranteed.
func (r *Reconciler) PlaceGridBuy(ctx context.Context, price, qty decimal.Decimal, index int) exchange.Result {
	if !price.IsPositive() || !qty.IsPositive() {
		return exchange.Result{Err: fmt.Errorf("orders: grid buy price or quantity resolves to zero")}
	}

	return r.gw.PlaceLimitOrder(ctx, exchange.OrderIntent{
		Side:     models.OrderSideBuy,
		Price:    price,
		Quantity: qty,
		ClientID: fmt.Sprintf("GRID_BUY_%d_%d", index, r.nowMillis()),
	})
}

// EnsureTakeProfit keeps a reduce-only sell at avgCost*1.003. If one
// already rests within the offset of the target nothing is placed; TPs
// left behind by an older average are not cancelled, which can leave
// duplicates outstanding. That over-protection is accepted behavior.
func (r *Reconciler) EnsureTakeProfit(ctx context.Context, avgCost, qty decimal.Decimal, open []exchange.OpenOrder) exchange.Result {
	if !avgCost.IsPositive() || !qty.IsPositive() {
		return exchange.Result{}
	}

	target := r.gw.RoundPrice(avgCost.Mul(tpMarkup))
	if !target.GreaterThan(avgCost) {
		return exchange.Result{}
	}

	for _, o := range open {
		if o.Side != models.OrderSideSell || !o.ReduceOnly || !o.Price.IsPositive() {
			continue
		}
		if o.Price.Sub(target).Abs().Div(target).LessThanOrEqual(r.tol.TPOffset) {
			return exchange.Result{OrderID: o.OrderID, Status: o.Status}
		}
	}

	return r.gw.PlaceLimitOrder(ctx, exchange.OrderIntent{
		Side:       models.OrderSideSell,
		Price:      target,
		Quantity:   qty,
		ReduceOnly: true,
		ClientID:   fmt.Sprintf("TP_AUTO_TP_%d", r.nowMillis()),
	})
}

// EnsureStopLoss keeps exactly one close-position stop near the target.
// A live stop within the relative tolerance is kept; otherwise existing
// stops are cancelled and a fresh one placed.
func (r *Reconciler) EnsureStopLoss(ctx context.Context, stopPrice decimal.Decimal) exchange.Result {
	if !stopPrice.IsPositive() {
		return exchange.Result{Err: fmt.Errorf("orders: stop price resolves to zero")}
	}

	target := r.gw.RoundPrice(stopPrice)

	open, err := r.gw.GetOpenOrders(ctx)
	if err != nil {
		return exchange.Result{Err: fmt.Errorf("orders: failed to fetch open orders: %w", err)}
	}

	for _, o := range open {
		if o.Type != models.OrderTypeStopMarket || !o.ClosePosition {
			continue
		}
		if o.StopPrice.IsPositive() &&
			o.StopPrice.Sub(target).Abs().Div(target).LessThanOrEqual(r.tol.SLPrice) {
			return exchange.Result{OrderID: o.OrderID, Status: o.Status}
		}
		if cancel := r.gw.CancelOrder(ctx, o.OrderID); cancel.Err != nil {
			r.log.Warn("failed to cancel drifted stop loss",
				zap.String("order_id", o.OrderID), zap.Error(cancel.Err))
		}
	}

	return r.gw.PlaceStopMarketClosePosition(ctx, target)
}
