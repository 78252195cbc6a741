package sim

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gridbot/pkg/exchange"
	"gridbot/pkg/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestGateway() *Gateway {
	return New("ethusdt", d("1000"), zap.NewNop())
}

func TestPlaceLimitOrderRestsOnBook(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	res := g.PlaceLimitOrder(ctx, exchange.OrderIntent{
		Side:     models.OrderSideBuy,
		Price:    d("1996.004"),
		Quantity: d("0.0519"),
		ClientID: "GRID_BUY_0_1700000000000",
	})
	if !res.OK() {
		t.Fatalf("place failed: %v", res.Err)
	}

	open, err := g.GetOpenOrders(ctx)
	if err != nil {
		t.Fatalf("GetOpenOrders: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("got %d open orders, want 1", len(open))
	}

	o := open[0]
	if o.OrderID != res.OrderID {
		t.Errorf("order id = %q, want %q", o.OrderID, res.OrderID)
	}
	if o.ClientOrderID != "GRID_BUY_0_1700000000000" {
		t.Errorf("client order id = %q", o.ClientOrderID)
	}
	if o.Type != models.OrderTypeLimit || o.Side != models.OrderSideBuy {
		t.Errorf("type/side = %v/%v", o.Type, o.Side)
	}
	// Price snaps to tick, quantity truncates to step.
	if !o.Price.Equal(d("1996")) {
		t.Errorf("price = %s, want 1996", o.Price)
	}
	if !o.Quantity.Equal(d("0.051")) {
		t.Errorf("quantity = %s, want 0.051", o.Quantity)
	}
	if !o.Status.IsOpen() {
		t.Errorf("status %v should count as open", o.Status)
	}
}

func TestPlaceStopMarketRecordsProtection(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	res := g.PlaceStopMarketClosePosition(ctx, d("1912.39"))
	if !res.OK() {
		t.Fatalf("place failed: %v", res.Err)
	}

	open, _ := g.GetOpenOrders(ctx)
	if len(open) != 1 {
		t.Fatalf("got %d open orders, want 1", len(open))
	}
	o := open[0]
	if o.Type != models.OrderTypeStopMarket || !o.ClosePosition {
		t.Errorf("expected a close-position stop, got %v close=%v", o.Type, o.ClosePosition)
	}
	if !o.StopPrice.Equal(d("1912.39")) {
		t.Errorf("stop price = %s, want 1912.39", o.StopPrice)
	}
}

func TestPlaceRejectsZeroValues(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	if res := g.PlaceLimitOrder(ctx, exchange.OrderIntent{Side: models.OrderSideBuy}); res.OK() {
		t.Error("zero price/quantity must be rejected")
	}
	if res := g.PlaceStopMarketClosePosition(ctx, decimal.Zero); res.OK() {
		t.Error("zero stop price must be rejected")
	}
}

func TestCancelOrder(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	res := g.PlaceLimitOrder(ctx, exchange.OrderIntent{
		Side: models.OrderSideBuy, Price: d("1996"), Quantity: d("0.05"),
	})
	if cancel := g.CancelOrder(ctx, res.OrderID); cancel.Err != nil {
		t.Fatalf("cancel failed: %v", cancel.Err)
	}
	if open, _ := g.GetOpenOrders(ctx); len(open) != 0 {
		t.Fatalf("got %d open orders after cancel, want 0", len(open))
	}

	if cancel := g.CancelOrder(ctx, "nope"); cancel.Err == nil {
		t.Error("cancelling an unknown order must fail")
	}
}

func TestCancelAllOrders(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	for _, p := range []string{"1996", "1992", "1988"} {
		g.PlaceLimitOrder(ctx, exchange.OrderIntent{
			Side: models.OrderSideBuy, Price: d(p), Quantity: d("0.05"),
		})
	}
	g.CancelAllOrders(ctx)

	if open, _ := g.GetOpenOrders(ctx); len(open) != 0 {
		t.Fatalf("got %d open orders after cancel-all, want 0", len(open))
	}
}

func TestSeededPriceAndPosition(t *testing.T) {
	g := newTestGateway()
	ctx := context.Background()

	if _, err := g.GetSymbolPrice(ctx, "ethusdt"); err == nil {
		t.Error("expected an error before a price is seeded")
	}

	g.SetPrice(d("2000"))
	price, err := g.GetSymbolPrice(ctx, "ethusdt")
	if err != nil || !price.Equal(d("2000")) {
		t.Errorf("price = %s, err = %v", price, err)
	}

	g.SetPosition(d("2"), d("1990"))
	snap, err := g.GetPositionSnapshot(ctx, "ethusdt")
	if err != nil {
		t.Fatalf("GetPositionSnapshot: %v", err)
	}
	if !snap.Quantity.Equal(d("2")) || !snap.EntryPrice.Equal(d("1990")) {
		t.Errorf("snapshot = %+v", snap)
	}
}
