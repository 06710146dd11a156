// Package strategy defines the callback contract trading strategies
// implement, example strategies, and a dispatcher that drives them from
// the runtime's notification stream. The runtime itself never invokes
// strategies; simulation code owns the dispatch loop.
package strategy

import (
	"sync"

	"github.com/shopspring/decimal"

	"backsim/internal/engine"
	"backsim/internal/exchange"
)

// BookReader is the read-only view of one symbol's engine handed to
// strategies. *engine.Engine satisfies it. Reads are safe here because
// the dispatcher runs between batches, when the owning worker is idle.
type BookReader interface {
	BestBid() (engine.Price, bool)
	BestAsk() (engine.Price, bool)
	MarketPrice() (engine.Price, bool)
	MarketDepth(side engine.Side, depth int) []engine.DepthLevel
	PriceDecimal(p engine.Price) decimal.Decimal
}

// Strategy reacts to book updates and to the lifecycle of its own
// orders. OnBookUpdate receives the runtime for submitting new orders.
type Strategy interface {
	OnBookUpdate(symbol string, book BookReader, rt *exchange.Runtime)
	OnFill(symbol string, id engine.OrderID, price, qty decimal.Decimal)
	OnCancel(symbol string, id engine.OrderID)
	OnReject(symbol string, id engine.OrderID, reason string)
}

// Dispatcher consumes the runtime's notification stream and routes
// events to strategies registered per user id: own-order events go to
// the owner, book-affecting events fan out to every strategy. Register
// all strategies before Start; the dispatcher goroutine is the sole
// producer while running.
type Dispatcher struct {
	rt         *exchange.Runtime
	strategies map[exchange.UserID]Strategy

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the runtime's stream.
func NewDispatcher(rt *exchange.Runtime) *Dispatcher {
	return &Dispatcher{
		rt:         rt,
		strategies: map[exchange.UserID]Strategy{},
		closed:     make(chan struct{}),
	}
}

// Register binds a strategy to the user id it trades as.
func (d *Dispatcher) Register(user exchange.UserID, s Strategy) {
	d.strategies[user] = s
}

// Start launches the dispatch loop. It ends when the runtime closes its
// stream or the dispatcher is closed.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	notes := d.rt.Notifications()
	for {
		select {
		case <-d.closed:
			return
		case n, ok := <-notes:
			if !ok {
				return
			}
			d.dispatch(n)
		}
	}
}

func (d *Dispatcher) dispatch(n engine.Notification) {
	if owner, ok := d.rt.Owner(n.Symbol, n.OrderID); ok {
		if s, ok := d.strategies[owner]; ok {
			switch n.Kind {
			case engine.KindFilled, engine.KindPartialFilled:
				s.OnFill(n.Symbol, n.OrderID, n.Price, n.Qty)
			case engine.KindCancelled:
				s.OnCancel(n.Symbol, n.OrderID)
			case engine.KindRejected:
				s.OnReject(n.Symbol, n.OrderID, n.Reason)
			}
		}
	}

	if !n.Kind.BookAffecting() {
		return
	}
	book, err := d.rt.Engine(n.Symbol)
	if err != nil {
		return // symbol unregistered mid-stream
	}
	for _, s := range d.strategies {
		s.OnBookUpdate(n.Symbol, book, d.rt)
	}
}

// Close stops the dispatch loop.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.closed) })
	d.wg.Wait()
}

// mid returns the midpoint of the best bid and ask as a decimal, or
// ok=false when either side is empty.
func mid(book BookReader) (decimal.Decimal, bool) {
	bb, okB := book.BestBid()
	ba, okA := book.BestAsk()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	two := decimal.NewFromInt(2)
	return book.PriceDecimal(bb).Add(book.PriceDecimal(ba)).Div(two), true
}
