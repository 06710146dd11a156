package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// collectSink records every notification.
type collectSink struct {
	notes []Notification
}

func (c *collectSink) Publish(n Notification) { c.notes = append(c.notes, n) }

func (c *collectSink) byKind(k EventKind) []Notification {
	var out []Notification
	for _, n := range c.notes {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

func newTestEngine(t *testing.T) (*Engine, *collectSink) {
	t.Helper()
	sink := &collectSink{}
	return New("TST", 1024, 2, true, sink), sink
}

func mustPlace(t *testing.T, e *Engine, side Side, typ OrderType, price Price, q int64) OrderID {
	t.Helper()
	id, err := e.PlaceOrder(side, typ, price, qty(q))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	return id
}

func TestPlaceRestsOnBook(t *testing.T) {
	e, sink := newTestEngine(t)
	id := mustPlace(t, e, SideBid, OrderTypeLimit, 10000, 10)
	if id == InvalidOrderID {
		t.Fatal("place returned the invalid id")
	}
	if best, ok := e.BestBid(); !ok || best != 10000 {
		t.Fatalf("best bid = %v,%v", best, ok)
	}
	if _, ok := e.BestAsk(); ok {
		t.Fatal("ask side should be empty")
	}
	opens := sink.byKind(KindOpen)
	if len(opens) != 1 || opens[0].OrderID != id {
		t.Fatalf("open notifications = %+v", opens)
	}
	ord, ok := e.Order(id)
	if !ok || ord.Status != StatusOpen || !ord.Qty.Equal(qty(10)) {
		t.Fatalf("order record = %+v,%v", ord, ok)
	}
}

func TestFullMatch(t *testing.T) {
	e, sink := newTestEngine(t)
	askID := mustPlace(t, e, SideAsk, OrderTypeLimit, 10000, 1000)
	bidID := mustPlace(t, e, SideBid, OrderTypeLimit, 10000, 1000)

	for _, id := range []OrderID{askID, bidID} {
		ord, _ := e.Order(id)
		if ord.Status != StatusFilled {
			t.Fatalf("order %d status = %v, want FILLED", id, ord.Status)
		}
		if !ord.Qty.IsZero() {
			t.Fatalf("order %d qty = %v, want 0", id, ord.Qty)
		}
	}
	if _, ok := e.BestBid(); ok {
		t.Fatal("bid side should be empty after full match")
	}
	if _, ok := e.BestAsk(); ok {
		t.Fatal("ask side should be empty after full match")
	}
	if e.NumTrades() != 1 {
		t.Fatalf("trades = %d, want 1", e.NumTrades())
	}
	if p, ok := e.MarketPrice(); !ok || p != 10000 {
		t.Fatalf("market price = %v,%v", p, ok)
	}
	if fills := sink.byKind(KindFilled); len(fills) != 2 {
		t.Fatalf("fill notifications = %d, want 2", len(fills))
	}
}

func TestPartialFill(t *testing.T) {
	e, sink := newTestEngine(t)
	askID := mustPlace(t, e, SideAsk, OrderTypeLimit, 5000, 10)
	bidID := mustPlace(t, e, SideBid, OrderTypeLimit, 5000, 5)

	askOrd, _ := e.Order(askID)
	if askOrd.Status != StatusOpen || !askOrd.Qty.Equal(qty(5)) {
		t.Fatalf("ask = %v/%v, want OPEN/5", askOrd.Status, askOrd.Qty)
	}
	bidOrd, _ := e.Order(bidID)
	if bidOrd.Status != StatusFilled {
		t.Fatalf("bid status = %v, want FILLED", bidOrd.Status)
	}
	if best, ok := e.BestAsk(); !ok || best != 5000 {
		t.Fatalf("best ask = %v,%v", best, ok)
	}
	partials := sink.byKind(KindPartialFilled)
	if len(partials) != 1 || partials[0].OrderID != askID {
		t.Fatalf("partial fills = %+v", partials)
	}
}

func TestTradePricePassiveSide(t *testing.T) {
	e, _ := newTestEngine(t)
	mustPlace(t, e, SideAsk, OrderTypeLimit, 9900, 10)
	// Aggressive bid above the ask is clamped down to the resting price.
	mustPlace(t, e, SideBid, OrderTypeLimit, 10100, 10)
	if p, ok := e.MarketPrice(); !ok || p != 9900 {
		t.Fatalf("trade price = %v,%v, want passive 9900", p, ok)
	}
}

func TestCrossingLimitClamped(t *testing.T) {
	e, _ := newTestEngine(t)
	mustPlace(t, e, SideAsk, OrderTypeLimit, 10000, 5)
	mustPlace(t, e, SideAsk, OrderTypeLimit, 10200, 5)
	// Bid through both levels only consumes the best one: the clamp pins
	// the bid to 10000, so 10200 stays untouched.
	bidID := mustPlace(t, e, SideBid, OrderTypeLimit, 10500, 8)
	bidOrd, _ := e.Order(bidID)
	if bidOrd.Price != 10000 {
		t.Fatalf("clamped price = %v, want 10000", bidOrd.Price)
	}
	if bidOrd.Status != StatusOpen || !bidOrd.Qty.Equal(qty(3)) {
		t.Fatalf("bid after sweep = %v/%v, want OPEN/3", bidOrd.Status, bidOrd.Qty)
	}
	if best, ok := e.BestAsk(); !ok || best != 10200 {
		t.Fatalf("best ask = %v,%v, want 10200", best, ok)
	}
	if best, ok := e.BestBid(); !ok || best != 10000 {
		t.Fatalf("best bid = %v,%v, want 10000 remainder", best, ok)
	}
}

func TestMarketOrderRejectEmptyBook(t *testing.T) {
	e, sink := newTestEngine(t)
	id, err := e.PlaceOrder(SideBid, OrderTypeMarket, 0, qty(5))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if id != InvalidOrderID {
		t.Fatalf("market into empty book returned %d", id)
	}
	rejects := sink.byKind(KindRejected)
	if len(rejects) != 1 || rejects[0].Reason != "NO MARKET LIQUIDITY (ASKS)" {
		t.Fatalf("rejects = %+v", rejects)
	}
	if rejects[0].Status != StatusRejected {
		t.Fatalf("reject status = %v", rejects[0].Status)
	}
	// Symmetric side.
	id, _ = e.PlaceOrder(SideAsk, OrderTypeMarket, 0, qty(5))
	if id != InvalidOrderID {
		t.Fatal("ask market into empty bids should reject")
	}
	if got := sink.byKind(KindRejected)[1].Reason; got != "NO MARKET LIQUIDITY (BIDS)" {
		t.Fatalf("reason = %q", got)
	}
	if _, ok := e.BestBid(); ok {
		t.Fatal("rejects must not mutate the book")
	}
}

func TestMarketOrderPeggedToBest(t *testing.T) {
	e, _ := newTestEngine(t)
	mustPlace(t, e, SideAsk, OrderTypeLimit, 10000, 10)
	id := mustPlace(t, e, SideBid, OrderTypeMarket, 0, 4)
	ord, _ := e.Order(id)
	if ord.Status != StatusFilled || ord.Price != 10000 {
		t.Fatalf("market order = %v @ %v", ord.Status, ord.Price)
	}
}

func TestCancel(t *testing.T) {
	e, sink := newTestEngine(t)
	b1 := mustPlace(t, e, SideBid, OrderTypeLimit, 30000, 10)
	mustPlace(t, e, SideBid, OrderTypeLimit, 29900, 20)

	ok, err := e.CancelOrder(b1)
	if err != nil || !ok {
		t.Fatalf("cancel = %v,%v", ok, err)
	}
	if best, _ := e.BestBid(); best != 29900 {
		t.Fatalf("best bid after cancel = %v, want 29900", best)
	}
	ord, _ := e.Order(b1)
	if ord.Status != StatusCancelled {
		t.Fatalf("status = %v", ord.Status)
	}
	if len(sink.byKind(KindCancelled)) != 1 {
		t.Fatal("expected one cancel notification")
	}

	// Second cancel is a no-op returning false.
	ok, err = e.CancelOrder(b1)
	if err != nil || ok {
		t.Fatalf("double cancel = %v,%v", ok, err)
	}
	if best, _ := e.BestBid(); best != 29900 {
		t.Fatal("double cancel changed state")
	}
}

func TestCancelUnknownOrMarket(t *testing.T) {
	e, _ := newTestEngine(t)
	if ok, _ := e.CancelOrder(12345); ok {
		t.Fatal("cancel of unknown order succeeded")
	}
	mustPlace(t, e, SideAsk, OrderTypeLimit, 10000, 10)
	mid := mustPlace(t, e, SideBid, OrderTypeMarket, 0, 4) // fills entirely
	if ok, _ := e.CancelOrder(mid); ok {
		t.Fatal("cancel of a market order succeeded")
	}
}

func TestCancelRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	mustPlace(t, e, SideBid, OrderTypeLimit, 10000, 5)
	depthBefore := e.MarketDepth(SideBid, 10)

	id := mustPlace(t, e, SideBid, OrderTypeLimit, 10100, 7)
	if ok, _ := e.CancelOrder(id); !ok {
		t.Fatal("cancel failed")
	}

	depthAfter := e.MarketDepth(SideBid, 10)
	if len(depthAfter) != len(depthBefore) {
		t.Fatalf("depth %v after place+cancel, want %v", depthAfter, depthBefore)
	}
	for i := range depthBefore {
		if depthAfter[i].Price != depthBefore[i].Price || !depthAfter[i].Qty.Equal(depthBefore[i].Qty) {
			t.Fatalf("depth %v after place+cancel, want %v", depthAfter, depthBefore)
		}
	}
}

func TestPriceTimePriority(t *testing.T) {
	e, _ := newTestEngine(t)
	b1 := mustPlace(t, e, SideBid, OrderTypeLimit, 5000, 10)
	b2 := mustPlace(t, e, SideBid, OrderTypeLimit, 5000, 15)
	b3 := mustPlace(t, e, SideBid, OrderTypeLimit, 5000, 5)

	askID := mustPlace(t, e, SideAsk, OrderTypeLimit, 5000, 25)

	for _, id := range []OrderID{b1, b2} {
		if ord, _ := e.Order(id); ord.Status != StatusFilled {
			t.Fatalf("bid %d = %v, want FILLED", id, ord.Status)
		}
	}
	third, _ := e.Order(b3)
	if third.Status != StatusOpen || !third.Qty.Equal(qty(5)) {
		t.Fatalf("third bid = %v/%v, want OPEN/5", third.Status, third.Qty)
	}
	if ord, _ := e.Order(askID); ord.Status != StatusFilled {
		t.Fatalf("ask = %v, want FILLED", ord.Status)
	}
}

func TestEditMovesToBackOfQueue(t *testing.T) {
	e, _ := newTestEngine(t)
	first := mustPlace(t, e, SideBid, OrderTypeLimit, 5000, 10)
	second := mustPlace(t, e, SideBid, OrderTypeLimit, 5000, 10)

	// Re-pricing the first order at the same price sends it behind the
	// second one.
	got, err := e.EditOrder(first, SideBid, 5000, qty(10))
	if err != nil || got != first {
		t.Fatalf("edit = %v,%v", got, err)
	}

	mustPlace(t, e, SideAsk, OrderTypeLimit, 5000, 10)
	if ord, _ := e.Order(second); ord.Status != StatusFilled {
		t.Fatalf("second bid should fill first, got %v", ord.Status)
	}
	if ord, _ := e.Order(first); ord.Status != StatusOpen {
		t.Fatalf("edited bid should still be open, got %v", ord.Status)
	}
}

func TestEditFailurePaths(t *testing.T) {
	e, sink := newTestEngine(t)
	if got, _ := e.EditOrder(999, SideBid, 100, qty(1)); got != InvalidOrderID {
		t.Fatal("edit of unknown order should fail without a notification")
	}
	if len(sink.byKind(KindRejected)) != 0 {
		t.Fatal("unknown order edit must not emit a reject")
	}

	id := mustPlace(t, e, SideBid, OrderTypeLimit, 100, 1)
	e.CancelOrder(id)
	if got, _ := e.EditOrder(id, SideBid, 200, qty(1)); got != InvalidOrderID {
		t.Fatal("edit of cancelled order should fail")
	}
	rejects := sink.byKind(KindRejected)
	if len(rejects) != 1 || rejects[0].Reason != "MODIFY FAILED: COULD NOT CANCEL ORDER" {
		t.Fatalf("rejects = %+v", rejects)
	}
	if rejects[0].Status == StatusRejected {
		t.Fatal("a failed modify must not mark the order REJECTED")
	}
}

func TestEditChangesSide(t *testing.T) {
	e, _ := newTestEngine(t)
	id := mustPlace(t, e, SideBid, OrderTypeLimit, 5000, 10)
	got, err := e.EditOrder(id, SideAsk, 5100, qty(4))
	if err != nil || got != id {
		t.Fatalf("edit = %v,%v", got, err)
	}
	if _, ok := e.BestBid(); ok {
		t.Fatal("bid side should be empty after side flip")
	}
	if best, _ := e.BestAsk(); best != 5100 {
		t.Fatalf("best ask = %v, want 5100", best)
	}
}

func TestAutoMatchOff(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetAutoMatch(false)
	if e.AutoMatch() {
		t.Fatal("auto match should be off")
	}
	mustPlace(t, e, SideAsk, OrderTypeLimit, 100, 5)
	mustPlace(t, e, SideBid, OrderTypeLimit, 100, 5)
	if e.NumTrades() != 0 {
		t.Fatal("matched with auto match off")
	}
	// Both rest, crossed at the same price, until a mutation drives the
	// matching loop again.
	if bb, _ := e.BestBid(); bb != 100 {
		t.Fatalf("best bid = %v", bb)
	}
	if ba, _ := e.BestAsk(); ba != 100 {
		t.Fatalf("best ask = %v", ba)
	}
}

func TestMarketDepthAggregates(t *testing.T) {
	e, _ := newTestEngine(t)
	mustPlace(t, e, SideBid, OrderTypeLimit, 9900, 10)
	mustPlace(t, e, SideBid, OrderTypeLimit, 9900, 15)
	mustPlace(t, e, SideBid, OrderTypeLimit, 9800, 20)
	mustPlace(t, e, SideAsk, OrderTypeLimit, 10100, 7)

	depth := e.MarketDepth(SideBid, 10)
	if len(depth) != 2 {
		t.Fatalf("depth rungs = %d, want 2", len(depth))
	}
	if depth[0].Price != 9900 || !depth[0].Qty.Equal(qty(25)) {
		t.Fatalf("rung 0 = %+v", depth[0])
	}
	if depth[1].Price != 9800 || !depth[1].Qty.Equal(qty(20)) {
		t.Fatalf("rung 1 = %+v", depth[1])
	}

	// Truncated to requested depth; query does not mutate.
	if got := e.MarketDepth(SideBid, 1); len(got) != 1 {
		t.Fatalf("truncated depth = %d", len(got))
	}
	if again := e.MarketDepth(SideBid, 10); len(again) != 2 {
		t.Fatal("depth query mutated the book")
	}
}

func TestOrdersByStatus(t *testing.T) {
	e, _ := newTestEngine(t)
	mustPlace(t, e, SideBid, OrderTypeLimit, 100, 1)
	id := mustPlace(t, e, SideBid, OrderTypeLimit, 90, 1)
	e.CancelOrder(id)
	mustPlace(t, e, SideAsk, OrderTypeLimit, 200, 1)
	if n := len(e.OrdersByStatus(StatusOpen)); n != 2 {
		t.Fatalf("open orders = %d", n)
	}
	if n := len(e.OrdersByStatus(StatusCancelled)); n != 1 {
		t.Fatalf("cancelled orders = %d", n)
	}
}

func TestFillNotificationsShareTradeID(t *testing.T) {
	e, sink := newTestEngine(t)
	mustPlace(t, e, SideAsk, OrderTypeLimit, 100, 5)
	mustPlace(t, e, SideBid, OrderTypeLimit, 100, 5)
	fills := sink.byKind(KindFilled)
	if len(fills) != 2 {
		t.Fatalf("fills = %d", len(fills))
	}
	if fills[0].TradeID != fills[1].TradeID {
		t.Fatal("fill pair should share a trade id")
	}
	if fills[0].TradeID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatal("trade id not set")
	}
}

func TestTradeCountMatchesFillPairs(t *testing.T) {
	e, sink := newTestEngine(t)
	mustPlace(t, e, SideAsk, OrderTypeLimit, 100, 10)
	mustPlace(t, e, SideBid, OrderTypeLimit, 100, 4)
	mustPlace(t, e, SideBid, OrderTypeLimit, 100, 6)
	pairs := len(sink.byKind(KindFilled)) + len(sink.byKind(KindPartialFilled))
	if uint64(pairs)/2 != e.NumTrades() {
		t.Fatalf("trades = %d, fill notifications = %d", e.NumTrades(), pairs)
	}
}

func TestPoolExhaustion(t *testing.T) {
	sink := &collectSink{}
	e := New("TINY", 2, 2, true, sink)
	mustPlace(t, e, SideBid, OrderTypeLimit, 100, 1)
	mustPlace(t, e, SideBid, OrderTypeLimit, 101, 1)
	id, err := e.PlaceOrder(SideBid, OrderTypeLimit, 102, qty(1))
	if err != ErrEngineFull || id != InvalidOrderID {
		t.Fatalf("place into full pool = %v,%v", id, err)
	}
	if _, ok := e.Order(2); ok {
		t.Fatal("failed placement left a record behind")
	}
}

func TestInvalidSideAndType(t *testing.T) {
	e, sink := newTestEngine(t)
	id, err := e.PlaceOrder(Side(9), OrderTypeLimit, 100, qty(1))
	if err != nil || id != InvalidOrderID {
		t.Fatalf("invalid side = %v,%v", id, err)
	}
	id, err = e.PlaceOrder(SideBid, OrderType(9), 100, qty(1))
	if err != nil || id != InvalidOrderID {
		t.Fatalf("invalid type = %v,%v", id, err)
	}
	rejects := sink.byKind(KindRejected)
	if len(rejects) != 2 {
		t.Fatalf("rejects = %d", len(rejects))
	}
	if rejects[0].Reason != "INVALID ORDER SIDE" || rejects[1].Reason != "INVALID ORDER TYPE" {
		t.Fatalf("reasons = %q, %q", rejects[0].Reason, rejects[1].Reason)
	}
}

func TestOrderIDsNeverReused(t *testing.T) {
	e, _ := newTestEngine(t)
	seen := map[OrderID]bool{}
	for i := 0; i < 50; i++ {
		id := mustPlace(t, e, SideBid, OrderTypeLimit, Price(100+i), 1)
		if seen[id] {
			t.Fatalf("order id %d reused", id)
		}
		seen[id] = true
		if i%3 == 0 {
			e.CancelOrder(id)
		}
	}
}
