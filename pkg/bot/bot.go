// Package bot drives the control loop: it consumes stream events,
// keeps the ledger in sync with fills, decides when the grid is rebuilt
// and keeps the position protected.
package bot

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridbot/pkg/config"
	"gridbot/pkg/exchange"
	"gridbot/pkg/grid"
	"gridbot/pkg/ledger"
	"gridbot/pkg/metrics"
	"gridbot/pkg/models"
	"gridbot/pkg/orders"
	"gridbot/pkg/signal"
)

const Version = "v1"

var (
	// sunkGridFactor: no fresh grid while price sits >5% under the last
	// grid's reference price.
	sunkGridFactor = decimal.RequireFromString("0.95")
	// exitDrift: post-exit rebalance triggers past 0.15% from the last
	// realized TP price.
	exitDrift = decimal.RequireFromString("0.0015")

	priceRefreshInterval = 30 * time.Second
	cancelSettleDelay    = 500 * time.Millisecond
	postExitInterval     = 5 * time.Minute
)

// Recorder persists observability snapshots. Nil-able collaborator.
type Recorder interface {
	Record(ctx context.Context, snap Snapshot) error
}

type Bot struct {
	cfg config.Config
	gw  exchange.Gateway
	rec *orders.Reconciler
	led *ledger.Ledger
	det *signal.Detector
	acc *models.Account

	journal Recorder
	log     *zap.Logger

	// All handler state below is guarded by mu: stream transport is
	// concurrent but ledger/grid-reference mutations are serialized.
	mu             sync.Mutex
	lastSignal     signal.Signal
	lastPrice      decimal.Decimal
	lastGridPrice  decimal.Decimal
	lastRebalance  time.Time
	lastPriceFetch time.Time
	lastTPPrice    decimal.Decimal

	settle func(context.Context)
	now    func() time.Time
}

func New(
	cfg config.Config,
	gw exchange.Gateway,
	rec *orders.Reconciler,
	led *ledger.Ledger,
	det *signal.Detector,
	journal Recorder,
	log *zap.Logger,
) *Bot {
	return &Bot{
		cfg:     cfg,
		gw:      gw,
		rec:     rec,
		led:     led,
		det:     det,
		acc:     models.NewAccount(cfg.Symbol),
		journal: journal,
		log:     log,
		settle: func(ctx context.Context) {
			select {
			case <-time.After(cancelSettleDelay):
			case <-ctx.Done():
			}
		},
		now: time.Now,
	}
}

// Run reconciles startup state, starts the post-exit checker and then
// consumes messages until the channel closes or ctx is cancelled.
func (b *Bot) Run(ctx context.Context, ch <-chan models.ExchangeMessage) {
	b.ProtectExistingPosition(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.postExitLoop(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case msg, ok := <-ch:
			if !ok {
				wg.Wait()
				return
			}
			b.handle(ctx, msg)
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg models.ExchangeMessage) {
	switch msg.MsgType {
	case models.MsgTypeTrade:
		b.onTrade(ctx, msg.Payload.(models.Trade))
	case models.MsgTypeDepth:
		b.onDepth(ctx, msg.Payload.(models.DepthSnapshot))
	case models.MsgTypeMiniTicker:
		b.onTicker(ctx, msg.Payload.(models.MiniTicker))
	case models.MsgTypeOrderStatus:
		b.onOrderUpdate(ctx, msg.Payload.(models.OrderUpdate))
	case models.MsgTypeBalanceUpdate:
		upd := msg.Payload.(models.BalanceUpdate)
		b.acc.UpdateBalance(upd.Asset, upd.Balance, msg.Timestamp)
	case models.MsgTypePositionUpdate:
		upd := msg.Payload.(models.PositionUpdate)
		b.acc.UpdatePosition(upd.Symbol, upd.Amount, upd.EntryPrice, msg.Timestamp)
	}
}

func (b *Bot) onTrade(ctx context.Context, trade models.Trade) {
	b.mu.Lock()
	if trade.Price.IsPositive() {
		b.lastPrice = trade.Price
		b.observePrice(trade.Price)
	}
	if sig := b.det.OnTrade(trade); sig.Kind == signal.Dump {
		b.lastSignal = sig
		b.log.Info("dump detected, widening grid spacing")
	}
	b.mu.Unlock()

	b.maybeRebalance(ctx)
}

func (b *Bot) onDepth(ctx context.Context, snapshot models.DepthSnapshot) {
	// Depth never updates lastPrice: an anomalous bid must not sink
	// the grid reference.
	b.mu.Lock()
	if sig := b.det.OnDepth(snapshot); sig.Kind == signal.Support {
		b.lastSignal = sig
		b.log.Info("support detected, tightening grid spacing",
			zap.String("price", sig.Price.String()),
			zap.String("volume", sig.Volume.String()))
	}
	b.mu.Unlock()

	b.maybeRebalance(ctx)
}

func (b *Bot) onTicker(ctx context.Context, ticker models.MiniTicker) {
	b.mu.Lock()
	if ticker.ClosePrice.IsPositive() {
		b.lastPrice = ticker.ClosePrice
		b.observePrice(ticker.ClosePrice)
	}
	b.mu.Unlock()

	b.maybeRebalance(ctx)
}

func (b *Bot) observePrice(p decimal.Decimal) {
	metrics.LastPrice.Set(p.InexactFloat64())
}

// onOrderUpdate applies confirmed fills to the ledger in arrival order
// and immediately re-runs protective maintenance.
func (b *Bot) onOrderUpdate(ctx context.Context, upd models.OrderUpdate) {
	if !upd.LastFilledSize.IsPositive() {
		return
	}
	if upd.Status != models.OrderStatusPartiallyFilled && upd.Status != models.OrderStatusFilled {
		return
	}

	price := upd.AveragePrice
	if !price.IsPositive() {
		price = upd.LastFilledPrice
	}

	if err := b.led.RecordFill(upd.Side, price, upd.LastFilledSize, upd.Commission); err != nil {
		b.log.Error("failed to persist fill", zap.Error(err))
	}
	metrics.Fills.WithLabelValues(string(upd.Side)).Inc()
	b.updatePositionGauges()

	b.log.Info("fill applied",
		zap.String("side", string(upd.Side)),
		zap.String("price", price.String()),
		zap.String("qty", upd.LastFilledSize.String()),
		zap.String("avg_cost", b.led.AverageCost().String()))

	b.maintainProtection(ctx)

	if upd.Side == models.OrderSideSell && b.led.Flat() {
		b.mu.Lock()
		b.lastTPPrice = price
		b.mu.Unlock()
	}
}

func (b *Bot) updatePositionGauges() {
	metrics.PositionQty.Set(b.led.Quantity().InexactFloat64())
	metrics.AverageCost.Set(b.led.AverageCost().InexactFloat64())
}

// maybeRebalance runs the gates and, when due, rebuilds the grid:
// cancel everything, let cancellation settle, place the fresh ladder.
func (b *Bot) maybeRebalance(ctx context.Context) {
	b.mu.Lock()

	if !b.lastPrice.IsPositive() {
		b.refreshPriceLocked(ctx)
		b.mu.Unlock()
		return
	}

	interval := time.Duration(b.cfg.Grid.RebalanceSeconds) * time.Second
	if b.now().Sub(b.lastRebalance) < interval {
		b.mu.Unlock()
		return
	}

	if b.lastGridPrice.IsPositive() && b.lastPrice.LessThan(b.lastGridPrice.Mul(sunkGridFactor)) {
		b.log.Warn("price sits far below the previous grid, skipping rebalance",
			zap.String("last_price", b.lastPrice.String()),
			zap.String("grid_price", b.lastGridPrice.String()))
		b.mu.Unlock()
		return
	}

	lastPrice := b.lastPrice
	sig := b.lastSignal
	b.lastRebalance = b.now()
	b.mu.Unlock()

	avgCost := b.led.AverageCost()
	levels := grid.Plan(lastPrice, sig, b.cfg.GridParams(), avgCost)

	available, err := b.gw.GetAvailableBalance(ctx, b.cfg.Asset)
	if err != nil {
		b.log.Warn("balance query failed, applying conservative level cap", zap.Error(err))
	}
	levels = grid.CapByMargin(levels, available, decimal.NewFromFloat(b.cfg.Grid.OrderSizeUSDT), err != nil)

	if len(levels) == 0 {
		b.log.Info("no grid levels to place")
		return
	}

	b.mu.Lock()
	b.lastGridPrice = lastPrice
	b.mu.Unlock()

	b.log.Info("rebalancing grid",
		zap.String("last_price", lastPrice.String()),
		zap.String("signal", sig.Kind.String()),
		zap.Int("levels", len(levels)))

	if res := b.gw.CancelAllOrders(ctx); res.Err != nil {
		b.log.Warn("cancel all failed", zap.Error(res.Err))
	}
	b.settle(ctx)

	qty := b.orderQty(lastPrice)
	if !qty.IsPositive() {
		b.log.Warn("per-level quantity resolves to zero, skipping placement")
		return
	}

	result, err := b.rec.ReconcileGrid(ctx, levels, qty)
	if err != nil {
		b.log.Warn("grid reconcile failed", zap.Error(err))
		return
	}
	metrics.Rebalances.Inc()

	b.log.Info("grid reconciled",
		zap.Int("created", result.Created),
		zap.Int("cancelled", result.Cancelled),
		zap.Int("kept", result.Kept))

	b.maintainProtection(ctx)
	b.recordSnapshot(ctx)
}

// refreshPriceLocked falls back to the REST ticker when no stream price
// is known, at most once per refresh interval. Caller holds mu.
func (b *Bot) refreshPriceLocked(ctx context.Context) {
	if b.now().Sub(b.lastPriceFetch) < priceRefreshInterval {
		return
	}
	b.lastPriceFetch = b.now()

	price, err := b.gw.GetSymbolPrice(ctx, b.cfg.Symbol)
	if err != nil {
		b.log.Warn("fallback price query failed", zap.Error(err))
		return
	}
	b.lastPrice = price
	b.log.Info("price refreshed via REST", zap.String("price", price.String()))
}

func (b *Bot) orderQty(price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	notional := decimal.NewFromFloat(b.cfg.Grid.OrderSizeUSDT).
		Mul(decimal.NewFromInt(int64(b.cfg.Leverage)))
	return b.gw.RoundQty(notional.Div(price))
}

// maintainProtection re-establishes TP and SL for the current position.
// Nothing to do when flat.
func (b *Bot) maintainProtection(ctx context.Context) {
	qty := b.led.Quantity()
	avg := b.led.AverageCost()
	if !qty.IsPositive() || !avg.IsPositive() {
		return
	}

	open, err := b.gw.GetOpenOrders(ctx)
	if err != nil {
		b.log.Warn("open orders query failed, skipping protection pass", zap.Error(err))
		return
	}

	tpRes := b.rec.EnsureTakeProfit(ctx, avg, qty, open)
	if tpRes.Err != nil {
		b.log.Warn("take profit maintenance failed", zap.Error(tpRes.Err))
	}

	stopPrice := avg.Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(b.cfg.Protect.StopLossPct)))
	slRes := b.rec.EnsureStopLoss(ctx, stopPrice)
	if slRes.Err != nil {
		b.log.Warn("stop loss maintenance failed", zap.Error(slRes.Err))
	}

	tpIDs := make([]string, 0, 2)
	for _, o := range open {
		if o.Side == models.OrderSideSell && o.ReduceOnly {
			tpIDs = append(tpIDs, o.OrderID)
		}
	}
	if tpRes.OrderID != "" {
		tpIDs = append(tpIDs, tpRes.OrderID)
	}
	if err := b.led.TrackProtectiveOrders(dedupe(tpIDs), slRes.OrderID); err != nil {
		b.log.Warn("failed to persist protective order ids", zap.Error(err))
	}

	b.recordSnapshot(ctx)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// ProtectExistingPosition adopts whatever position the exchange reports
// at startup and re-establishes missing protective orders. The exchange
// wins over the persisted ledger on mismatch.
func (b *Bot) ProtectExistingPosition(ctx context.Context) {
	snap, err := b.gw.GetPositionSnapshot(ctx, b.cfg.Symbol)
	if err != nil {
		b.log.Warn("position snapshot query failed at startup", zap.Error(err))
		return
	}

	qty := snap.Quantity.Abs()
	if !qty.IsPositive() {
		b.log.Info("no open position at startup")
		return
	}

	b.log.Info("existing position detected at startup",
		zap.String("qty", qty.String()),
		zap.String("entry", snap.EntryPrice.String()))

	if err := b.led.AdoptPosition(qty, snap.EntryPrice); err != nil {
		b.log.Error("failed to adopt exchange position", zap.Error(err))
	}
	b.updatePositionGauges()

	b.maintainProtection(ctx)
}

// postExitLoop wakes every five minutes; when flat and the price
// drifted away from the last realized TP, it forces a rebalance to
// capture the re-entry.
func (b *Bot) postExitLoop(ctx context.Context) {
	ticker := time.NewTicker(postExitInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.checkPostExit(ctx)
		}
	}
}

func (b *Bot) checkPostExit(ctx context.Context) {
	b.mu.Lock()
	tpPrice := b.lastTPPrice
	price := b.lastPrice
	b.mu.Unlock()

	if !tpPrice.IsPositive() || !price.IsPositive() || !b.led.Flat() {
		return
	}

	drift := price.Sub(tpPrice).Abs().Div(tpPrice)
	if drift.LessThanOrEqual(exitDrift) {
		return
	}

	b.log.Info("price drifted from last take profit, forcing rebalance",
		zap.String("drift", drift.String()))

	b.mu.Lock()
	b.lastRebalance = time.Time{}
	b.lastTPPrice = decimal.Zero
	b.mu.Unlock()

	b.maybeRebalance(ctx)
}
