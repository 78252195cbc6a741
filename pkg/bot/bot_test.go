package bot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridbot/pkg/config"
	"gridbot/pkg/exchange"
	"gridbot/pkg/ledger"
	"gridbot/pkg/models"
	"gridbot/pkg/orders"
	"gridbot/pkg/signal"
)

type fakeGateway struct {
	open      []exchange.OpenOrder
	position  exchange.PositionSnapshot
	balance   decimal.Decimal
	restPrice decimal.Decimal

	placed     []exchange.OrderIntent
	stops      []decimal.Decimal
	cancelAlls int
	priceCalls int
}

func (f *fakeGateway) GetOpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	return f.open, nil
}

func (f *fakeGateway) PlaceLimitOrder(ctx context.Context, intent exchange.OrderIntent) exchange.Result {
	f.placed = append(f.placed, intent)
	return exchange.Result{OrderID: "ORD", ClientOrderID: intent.ClientID, Status: models.OrderStatusNew}
}

func (f *fakeGateway) PlaceStopMarketClosePosition(ctx context.Context, stopPrice decimal.Decimal) exchange.Result {
	f.stops = append(f.stops, stopPrice)
	return exchange.Result{OrderID: "SL", Status: models.OrderStatusNew}
}

func (f *fakeGateway) CancelOrder(ctx context.Context, orderID string) exchange.Result {
	return exchange.Result{OrderID: orderID, Status: models.OrderStatusCanceled}
}

func (f *fakeGateway) CancelAllOrders(ctx context.Context) exchange.Result {
	f.cancelAlls++
	f.open = nil
	return exchange.Result{}
}

func (f *fakeGateway) GetAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeGateway) GetPositionSnapshot(ctx context.Context, symbol string) (exchange.PositionSnapshot, error) {
	return f.position, nil
}

func (f *fakeGateway) GetSymbolPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	f.priceCalls++
	return f.restPrice, nil
}

func (f *fakeGateway) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(2)
}

func (f *fakeGateway) RoundQty(qty decimal.Decimal) decimal.Decimal {
	return qty.RoundDown(3)
}

func newTestBot(t *testing.T, gw *fakeGateway) *Bot {
	t.Helper()

	cfg := config.Default()
	log := zap.NewNop()

	store := ledger.NewStore(filepath.Join(t.TempDir(), "state.json"))
	led, err := ledger.Open(store, log)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}

	rec := orders.NewReconciler(gw, orders.DefaultTolerances(), log)
	b := New(cfg, gw, rec, led, signal.NewDetector(), nil, log)
	b.settle = func(context.Context) {}
	return b
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestStartupAdoptsExchangePosition(t *testing.T) {
	gw := &fakeGateway{
		position: exchange.PositionSnapshot{Quantity: d("2"), EntryPrice: d("1990")},
		balance:  d("1000"),
	}
	b := newTestBot(t, gw)

	b.ProtectExistingPosition(context.Background())

	if !b.led.Quantity().Equal(d("2")) {
		t.Fatalf("ledger quantity = %s, want 2", b.led.Quantity())
	}
	if !b.led.AverageCost().Equal(d("1990")) {
		t.Fatalf("average cost = %s, want 1990", b.led.AverageCost())
	}

	var sawTP bool
	for _, p := range gw.placed {
		if p.Side == models.OrderSideSell && p.ReduceOnly {
			sawTP = true
			want := d("1990").Mul(d("1.003")).Round(2)
			if !p.Price.Equal(want) {
				t.Errorf("take profit price = %s, want %s", p.Price, want)
			}
		}
	}
	if !sawTP {
		t.Error("expected a take profit to be placed for the adopted position")
	}
	if len(gw.stops) != 1 {
		t.Fatalf("stop orders placed = %d, want 1", len(gw.stops))
	}
	wantStop := d("1990").Mul(d("1").Sub(d("0.039"))).Round(2)
	if !gw.stops[0].Equal(wantStop) {
		t.Errorf("stop price = %s, want %s", gw.stops[0], wantStop)
	}
}

func TestStartupFlatIsNoOp(t *testing.T) {
	gw := &fakeGateway{balance: d("1000")}
	b := newTestBot(t, gw)

	b.ProtectExistingPosition(context.Background())

	if len(gw.placed) != 0 || len(gw.stops) != 0 {
		t.Fatalf("no orders expected when flat, got %d limits %d stops", len(gw.placed), len(gw.stops))
	}
}

func TestTickerTriggersRebalance(t *testing.T) {
	gw := &fakeGateway{balance: d("1000")}
	b := newTestBot(t, gw)

	b.handle(context.Background(), models.ExchangeMessage{
		MsgType: models.MsgTypeMiniTicker,
		Payload: models.MiniTicker{ClosePrice: d("2000")},
	})

	if gw.cancelAlls != 1 {
		t.Fatalf("cancel-all calls = %d, want 1", gw.cancelAlls)
	}
	if len(gw.placed) == 0 {
		t.Fatal("expected grid buys to be placed")
	}
	for _, p := range gw.placed {
		if p.Side != models.OrderSideBuy {
			t.Errorf("unexpected %s order in fresh grid", p.Side)
		}
		if !p.Price.LessThan(d("2000")) {
			t.Errorf("grid level %s not below last price", p.Price)
		}
	}

	// qty = orderSize * leverage / price, rounded down to step.
	wantQty := d("10").Mul(d("10")).Div(d("2000")).RoundDown(3)
	if !gw.placed[0].Quantity.Equal(wantQty) {
		t.Errorf("per level qty = %s, want %s", gw.placed[0].Quantity, wantQty)
	}
}

func TestRebalanceCadenceGate(t *testing.T) {
	gw := &fakeGateway{balance: d("1000")}
	b := newTestBot(t, gw)

	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }

	msg := models.ExchangeMessage{
		MsgType: models.MsgTypeMiniTicker,
		Payload: models.MiniTicker{ClosePrice: d("2000")},
	}

	b.handle(context.Background(), msg)
	b.handle(context.Background(), msg)
	if gw.cancelAlls != 1 {
		t.Fatalf("cancel-all calls = %d, want 1 inside the cadence window", gw.cancelAlls)
	}

	now = now.Add(181 * time.Second)
	b.handle(context.Background(), msg)
	if gw.cancelAlls != 2 {
		t.Fatalf("cancel-all calls = %d, want 2 after the interval elapsed", gw.cancelAlls)
	}
}

func TestSunkGridGate(t *testing.T) {
	gw := &fakeGateway{balance: d("1000")}
	b := newTestBot(t, gw)

	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }

	b.handle(context.Background(), models.ExchangeMessage{
		MsgType: models.MsgTypeMiniTicker,
		Payload: models.MiniTicker{ClosePrice: d("2000")},
	})
	if gw.cancelAlls != 1 {
		t.Fatalf("initial rebalance did not run")
	}

	// More than 5% below the previous grid reference: hold off.
	now = now.Add(200 * time.Second)
	b.handle(context.Background(), models.ExchangeMessage{
		MsgType: models.MsgTypeMiniTicker,
		Payload: models.MiniTicker{ClosePrice: d("1880")},
	})
	if gw.cancelAlls != 1 {
		t.Fatalf("rebalance ran despite the sunk grid gate")
	}

	// Back within range.
	now = now.Add(200 * time.Second)
	b.handle(context.Background(), models.ExchangeMessage{
		MsgType: models.MsgTypeMiniTicker,
		Payload: models.MiniTicker{ClosePrice: d("1950")},
	})
	if gw.cancelAlls != 2 {
		t.Fatalf("rebalance did not resume once price recovered")
	}
}

func TestFillUpdatesLedgerAndProtection(t *testing.T) {
	gw := &fakeGateway{balance: d("1000")}
	b := newTestBot(t, gw)

	b.handle(context.Background(), models.ExchangeMessage{
		MsgType: models.MsgTypeOrderStatus,
		Payload: models.OrderUpdate{
			Status:          models.OrderStatusFilled,
			Side:            models.OrderSideBuy,
			AveragePrice:    d("2000"),
			LastFilledSize:  d("0.05"),
			LastFilledPrice: d("2000"),
			Commission:      d("0.02"),
		},
	})

	if !b.led.Quantity().Equal(d("0.05")) {
		t.Fatalf("ledger quantity = %s, want 0.05", b.led.Quantity())
	}
	if !b.led.AverageCost().Equal(d("2000")) {
		t.Fatalf("average cost = %s, want 2000", b.led.AverageCost())
	}

	var sawTP bool
	for _, p := range gw.placed {
		if p.Side == models.OrderSideSell && p.ReduceOnly {
			sawTP = true
		}
	}
	if !sawTP {
		t.Error("buy fill did not trigger take profit placement")
	}
	if len(gw.stops) != 1 {
		t.Errorf("stop orders placed = %d, want 1", len(gw.stops))
	}
}

func TestNonFillUpdatesIgnored(t *testing.T) {
	gw := &fakeGateway{balance: d("1000")}
	b := newTestBot(t, gw)

	b.handle(context.Background(), models.ExchangeMessage{
		MsgType: models.MsgTypeOrderStatus,
		Payload: models.OrderUpdate{
			Status: models.OrderStatusNew,
			Side:   models.OrderSideBuy,
		},
	})

	if !b.led.Flat() {
		t.Fatal("NEW update must not touch the ledger")
	}
}

func TestSellToFlatArmsPostExitChecker(t *testing.T) {
	gw := &fakeGateway{balance: d("1000")}
	b := newTestBot(t, gw)

	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }

	buy := models.OrderUpdate{
		Status:          models.OrderStatusFilled,
		Side:            models.OrderSideBuy,
		AveragePrice:    d("2000"),
		LastFilledSize:  d("0.05"),
		LastFilledPrice: d("2000"),
	}
	sell := buy
	sell.Side = models.OrderSideSell
	sell.AveragePrice = d("2006")
	sell.LastFilledPrice = d("2006")

	ctx := context.Background()
	b.handle(ctx, models.ExchangeMessage{MsgType: models.MsgTypeOrderStatus, Payload: buy})
	b.handle(ctx, models.ExchangeMessage{MsgType: models.MsgTypeOrderStatus, Payload: sell})

	if !b.led.Flat() {
		t.Fatal("position should be flat after the full exit")
	}
	if !b.lastTPPrice.Equal(d("2006")) {
		t.Fatalf("exit price marker = %s, want 2006", b.lastTPPrice)
	}

	// Within 0.15% of the exit: no forced rebalance.
	b.mu.Lock()
	b.lastPrice = d("2007")
	b.mu.Unlock()
	cancelsBefore := gw.cancelAlls
	b.checkPostExit(ctx)
	if gw.cancelAlls != cancelsBefore {
		t.Fatal("post-exit checker fired inside the drift tolerance")
	}

	// Drifted past 0.15%: force a rebalance and clear the marker.
	now = now.Add(time.Minute)
	b.mu.Lock()
	b.lastPrice = d("2020")
	b.mu.Unlock()
	b.checkPostExit(ctx)
	if gw.cancelAlls != cancelsBefore+1 {
		t.Fatal("post-exit checker did not force a rebalance")
	}
	if b.lastTPPrice.IsPositive() {
		t.Fatal("exit marker should be cleared after the forced rebalance")
	}
}

func TestPriceFallbackIsRateLimited(t *testing.T) {
	gw := &fakeGateway{balance: d("1000"), restPrice: d("2000")}
	b := newTestBot(t, gw)

	now := time.Unix(1700000000, 0)
	b.now = func() time.Time { return now }

	ctx := context.Background()

	// No stream price yet: first pass falls back to REST.
	b.mu.Lock()
	b.lastPrice = decimal.Zero
	b.refreshPriceLocked(ctx)
	b.lastPrice = decimal.Zero
	b.refreshPriceLocked(ctx)
	b.mu.Unlock()
	if gw.priceCalls != 1 {
		t.Fatalf("REST price calls = %d, want 1 inside the refresh window", gw.priceCalls)
	}

	now = now.Add(31 * time.Second)
	b.mu.Lock()
	b.lastPrice = decimal.Zero
	b.refreshPriceLocked(ctx)
	b.mu.Unlock()
	if gw.priceCalls != 2 {
		t.Fatalf("REST price calls = %d, want 2 after the window elapsed", gw.priceCalls)
	}
}

func TestSnapshotReflectsState(t *testing.T) {
	gw := &fakeGateway{
		balance: d("1000"),
		open: []exchange.OpenOrder{
			{OrderID: "1", Side: models.OrderSideBuy, Price: d("1990"), Quantity: d("0.05"), Status: models.OrderStatusNew},
		},
	}
	b := newTestBot(t, gw)

	b.mu.Lock()
	b.lastPrice = d("2000")
	b.mu.Unlock()

	b.handle(context.Background(), models.ExchangeMessage{
		MsgType:   models.MsgTypePositionUpdate,
		Timestamp: time.Unix(1700000000, 0),
		Payload:   models.PositionUpdate{Symbol: b.cfg.Symbol, Amount: d("0.05"), EntryPrice: d("1990")},
	})
	b.handle(context.Background(), models.ExchangeMessage{
		MsgType:   models.MsgTypeBalanceUpdate,
		Timestamp: time.Unix(1700000000, 0),
		Payload:   models.BalanceUpdate{Asset: b.cfg.Asset, Balance: d("950")},
	})

	snap := b.Snapshot(context.Background())
	if snap.Symbol != b.cfg.Symbol {
		t.Errorf("snapshot symbol = %q, want %q", snap.Symbol, b.cfg.Symbol)
	}
	if snap.Version != Version {
		t.Errorf("snapshot version = %q, want %q", snap.Version, Version)
	}
	if !snap.LastPrice.Equal(d("2000")) {
		t.Errorf("snapshot last price = %s, want 2000", snap.LastPrice)
	}
	if snap.Signal != "none" {
		t.Errorf("snapshot signal = %q, want none", snap.Signal)
	}
	if len(snap.OpenOrders) != 1 || snap.OpenOrders[0].OrderID != "1" {
		t.Errorf("snapshot open orders = %+v", snap.OpenOrders)
	}
	if !snap.StreamPositionQty.Equal(d("0.05")) || !snap.StreamEntryPrice.Equal(d("1990")) {
		t.Errorf("stream position = %s @ %s, want 0.05 @ 1990",
			snap.StreamPositionQty, snap.StreamEntryPrice)
	}
	if !snap.Balance.Equal(d("950")) {
		t.Errorf("balance = %s, want 950", snap.Balance)
	}
}
