package strategy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backsim/internal/engine"
	"backsim/internal/exchange"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestRuntime(t *testing.T) *exchange.Runtime {
	t.Helper()
	rt := exchange.New(exchange.Config{
		Workers:         2,
		DefaultCapacity: 4096,
		QueueCapacity:   256,
		PriceDecimals:   2,
		Verbose:         false,
		Blocking:        true,
	})
	t.Cleanup(rt.Close)
	return rt
}

// seedBook registers symbol and rests a counterparty bid so the book has
// both sides.
func seedBook(t *testing.T, rt *exchange.Runtime, symbol string, ipoPrice, bidPrice int64) {
	t.Helper()
	if err := rt.RegisterStock(symbol, dec(ipoPrice), dec(1000), 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	cell := exchange.NewIDCell()
	if err := rt.LimitOrder(symbol, engine.SideBid, dec(bidPrice), dec(10), cell, 99); err != nil {
		t.Fatalf("seed bid: %v", err)
	}
	rt.ExecuteBatch()
}

func TestMarketMakerQuotes(t *testing.T) {
	rt := newTestRuntime(t)
	seedBook(t, rt, "MM", 100, 98)

	mm := NewMarketMaker(5, dec(2), dec(1), dec(100))
	book, err := rt.Engine("MM")
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	mm.OnBookUpdate("MM", book, rt)

	ids := rt.Positions(5, "MM")
	if len(ids) != 1 {
		t.Fatalf("market maker placed %d orders, want 1 bid (ask lacks shares)", len(ids))
	}
	ord, err := rt.Order("MM", ids[0])
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if ord.Side != engine.SideBid {
		t.Fatalf("quote side = %v", ord.Side)
	}
	// mid (98+100)/2 = 99, half spread 1 below: 98.00 = 9800 ticks.
	if ord.Price != 9800 {
		t.Fatalf("quote price ticks = %d, want 9800", ord.Price)
	}
	if len(mm.activeBids) != 1 {
		t.Fatalf("active bids = %d", len(mm.activeBids))
	}
}

func TestMarketMakerFillAccounting(t *testing.T) {
	mm := NewMarketMaker(5, dec(2), dec(1), dec(100))
	mm.activeBids[7] = struct{}{}
	mm.activeAsks[8] = struct{}{}

	mm.OnFill("X", 7, dec(10), dec(3))
	if !mm.Position().Equal(dec(3)) {
		t.Fatalf("position after buy = %s", mm.Position())
	}
	mm.OnFill("X", 8, dec(12), dec(2))
	if !mm.Position().Equal(dec(1)) {
		t.Fatalf("position after sell = %s", mm.Position())
	}
	// Bought 3@10, sold 2@12: realized -30+24 = -6.
	if !mm.RealizedPnL().Equal(dec(-6)) {
		t.Fatalf("pnl = %s", mm.RealizedPnL())
	}
	if !mm.Volume().Equal(dec(5)) {
		t.Fatalf("volume = %s", mm.Volume())
	}
}

func TestMomentumBuysOnRise(t *testing.T) {
	rt := newTestRuntime(t)
	seedBook(t, rt, "MO", 100, 90) // mid 95

	mo := NewMomentum(6, 3, dec(1), dec(1))
	book, _ := rt.Engine("MO")

	mo.OnBookUpdate("MO", book, rt)
	mo.OnBookUpdate("MO", book, rt)
	if len(rt.Positions(6, "MO")) != 0 {
		t.Fatal("momentum traded before the window filled")
	}

	// Lift the bid: mid moves from 95 to 99 (+4.2%).
	cell := exchange.NewIDCell()
	if err := rt.LimitOrder("MO", engine.SideBid, dec(98), dec(10), cell, 99); err != nil {
		t.Fatalf("lift bid: %v", err)
	}
	rt.ExecuteBatch()

	mo.OnBookUpdate("MO", book, rt)
	ids := rt.Positions(6, "MO")
	if len(ids) != 1 {
		t.Fatalf("momentum placed %d orders, want 1", len(ids))
	}
	ord, _ := rt.Order("MO", ids[0])
	if ord.Side != engine.SideBid {
		t.Fatalf("momentum side = %v, want bid", ord.Side)
	}
}

func TestArbitrageTradesDivergence(t *testing.T) {
	rt := newTestRuntime(t)
	seedBook(t, rt, "AA", 100, 98) // mid 99
	seedBook(t, rt, "BB", 100, 90) // mid 95

	arb := NewArbitrage(8, "AA", "BB", dec(2), dec(1))
	bookA, _ := rt.Engine("AA")
	bookB, _ := rt.Engine("BB")

	arb.OnBookUpdate("AA", bookA, rt)
	if arb.PairTrades() != 0 {
		t.Fatal("arbitrage traded with only one leg priced")
	}
	arb.OnBookUpdate("BB", bookB, rt)
	if arb.PairTrades() != 1 {
		t.Fatalf("pair trades = %d, want 1", arb.PairTrades())
	}
	// The cheap-leg buy went through; the expensive-leg sell was
	// rejected for lack of shares.
	if len(rt.Positions(8, "BB")) != 1 {
		t.Fatalf("buy leg orders = %d", len(rt.Positions(8, "BB")))
	}
}

// recorder is a Strategy stub that records fills.
type recorder struct {
	fills chan engine.OrderID
}

func (r *recorder) OnBookUpdate(string, BookReader, *exchange.Runtime) {}
func (r *recorder) OnFill(symbol string, id engine.OrderID, price, qty decimal.Decimal) {
	r.fills <- id
}
func (r *recorder) OnCancel(string, engine.OrderID)         {}
func (r *recorder) OnReject(string, engine.OrderID, string) {}

func TestDispatcherRoutesFillsToOwner(t *testing.T) {
	rt := newTestRuntime(t)
	if err := rt.RegisterStock("D", dec(100), dec(10), 0); err != nil {
		t.Fatalf("register: %v", err)
	}

	rec := &recorder{fills: make(chan engine.OrderID, 16)}
	d := NewDispatcher(rt)
	d.Register(1, rec)
	d.Start()
	defer d.Close()

	cell := exchange.NewIDCell()
	if err := rt.LimitOrder("D", engine.SideBid, dec(100), dec(5), cell, 1); err != nil {
		t.Fatalf("limit order: %v", err)
	}
	rt.ExecuteBatch()

	select {
	case id := <-rec.fills:
		if id != cell.Get() {
			t.Fatalf("fill routed for order %d, want %d", id, cell.Get())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the fill callback")
	}
}
