// Package engine implements a single-symbol limit order book with
// price-time priority matching. One engine is owned by exactly one
// goroutine at a time; the runtime pins each engine to a scheduler
// worker. Trade statistics are atomic so monitors may sample them, but
// all other state follows the single-owner discipline.
package engine

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"backsim/internal/arena"
)

// Engine is the per-symbol matching engine.
type Engine struct {
	pool   *arena.Arena[OrderInfo]
	asks   *bookSide
	bids   *bookSide
	orders map[OrderID]arena.Index

	recentID OrderID
	nextSeq  uint32

	symbol    string
	decimals  int32
	autoMatch bool
	sink      Sink

	lastTrade atomic.Int64 // ticks; negative until the first trade
	trades    atomic.Uint64
}

// New constructs an engine for symbol. capacity bounds the order pool
// (records are never evicted, so it caps the number of orders the engine
// will ever accept). decimals is the tick scale: a Price of 1 equals
// 10^-decimals of the quoted currency. sink may be nil to discard
// notifications.
func New(symbol string, capacity int, decimals int32, autoMatch bool, sink Sink) *Engine {
	e := &Engine{
		pool:      arena.New[OrderInfo](capacity),
		asks:      newBookSide(SideAsk),
		bids:      newBookSide(SideBid),
		orders:    map[OrderID]arena.Index{},
		recentID:  InvalidOrderID,
		symbol:    symbol,
		decimals:  decimals,
		autoMatch: autoMatch,
		sink:      sink,
	}
	e.lastTrade.Store(-1)
	return e
}

func (e *Engine) lookup(id OrderID) (*OrderInfo, bool) {
	idx, ok := e.orders[id]
	if !ok {
		return nil, false
	}
	return e.pool.At(idx), true
}

func (e *Engine) sideBook(s Side) *bookSide {
	switch s {
	case SideBid:
		return e.bids
	case SideAsk:
		return e.asks
	default:
		return nil
	}
}

func (e *Engine) now() int64 { return time.Now().UnixNano() }

// clampToOpposingBest applies the resting-side defensive price policy: a
// limit priced through the opposing best is pulled back to that best, so
// an aggressive order never sweeps more than the top level per placement.
func (e *Engine) clampToOpposingBest(ord *OrderInfo) {
	switch ord.Side {
	case SideAsk:
		if best, ok := e.bids.best(); ok && ord.Price < best {
			ord.Price = best
		}
	case SideBid:
		if best, ok := e.asks.best(); ok && ord.Price > best {
			ord.Price = best
		}
	}
}

// PlaceOrder creates an order and rests it on the book at its (possibly
// clamped) price, then runs the matching loop when auto-match is on.
// Returns InvalidOrderID when the order was rejected (a REJECTED
// notification carries the reason) or when the pool is exhausted (with
// ErrEngineFull; nothing was recorded). The error return is reserved for
// internal-consistency failures and pool exhaustion — rejections are not
// errors. Price and qty validation is the caller's responsibility.
func (e *Engine) PlaceOrder(side Side, typ OrderType, price Price, qty decimal.Decimal) (OrderID, error) {
	id := OrderID(e.nextSeq)
	idx := e.pool.Alloc(OrderInfo{
		Qty:    qty,
		Price:  price,
		ID:     id,
		Seq:    e.nextSeq,
		TimeNs: e.now(),
		Status: StatusOpen,
		Type:   typ,
		Side:   side,
	})
	if idx == arena.None {
		return InvalidOrderID, ErrEngineFull
	}
	e.nextSeq++
	e.orders[id] = idx
	ord := e.pool.At(idx)

	switch typ {
	case OrderTypeLimit:
		e.clampToOpposingBest(ord)

	case OrderTypeMarket:
		switch side {
		case SideAsk:
			best, ok := e.bids.best()
			if !ok {
				ord.Status = StatusRejected
				return InvalidOrderID, e.notifyReject(id, "NO MARKET LIQUIDITY (BIDS)")
			}
			ord.Price = best
		case SideBid:
			best, ok := e.asks.best()
			if !ok {
				ord.Status = StatusRejected
				return InvalidOrderID, e.notifyReject(id, "NO MARKET LIQUIDITY (ASKS)")
			}
			ord.Price = best
		}

	default:
		ord.Status = StatusRejected
		return InvalidOrderID, e.notifyReject(id, "INVALID ORDER TYPE")
	}

	book := e.sideBook(ord.Side)
	if book == nil {
		ord.Status = StatusRejected
		return InvalidOrderID, e.notifyReject(id, "INVALID ORDER SIDE")
	}
	book.append(ord.Price, levelEntry{seq: ord.Seq, id: id})

	if err := e.notifyOpen(id); err != nil {
		return id, err
	}
	e.recentID = id

	if e.autoMatch {
		if err := e.match(); err != nil {
			return id, err
		}
	}
	return id, nil
}

// CancelOrder removes an OPEN limit order from its price level. Returns
// false (with no state change) when the order does not exist, is not
// OPEN, or is not a limit order.
func (e *Engine) CancelOrder(id OrderID) (bool, error) {
	ord, ok := e.lookup(id)
	if !ok {
		return false, nil
	}
	if ord.Status != StatusOpen || ord.Type != OrderTypeLimit {
		return false, nil
	}

	book := e.sideBook(ord.Side)
	lvl, ok := book.level(ord.Price)
	if !ok {
		return false, ErrCorruptBook
	}
	at := lvl.Find(func(en levelEntry) bool { return en.id == id })
	if at == -1 {
		return false, ErrCorruptBook
	}
	lvl.Pop(at)
	book.dropLevelIfEmpty(ord.Price)

	ord.Status = StatusCancelled
	return true, e.notifyCancel(id)
}

// EditOrder modifies an order by cancelling it and re-inserting it under
// the same id with the new side, price and quantity. The order receives a
// fresh time-priority sequence, so it joins the back of the queue at its
// new price. Returns InvalidOrderID when the cancel fails; a REJECTED
// notification is emitted when the order exists.
func (e *Engine) EditOrder(id OrderID, side Side, price Price, qty decimal.Decimal) (OrderID, error) {
	ok, err := e.CancelOrder(id)
	if err != nil {
		return InvalidOrderID, err
	}
	if !ok {
		if _, exists := e.orders[id]; exists {
			return InvalidOrderID, e.notifyReject(id, "MODIFY FAILED: COULD NOT CANCEL ORDER")
		}
		return InvalidOrderID, nil
	}

	ord, _ := e.lookup(id)
	ord.Side = side
	ord.Qty = qty
	ord.Price = price
	ord.Seq = e.nextSeq
	e.nextSeq++
	ord.TimeNs = e.now()

	e.clampToOpposingBest(ord)

	book := e.sideBook(side)
	if book == nil {
		ord.Status = StatusRejected
		return InvalidOrderID, e.notifyReject(id, "INVALID ORDER SIDE")
	}
	book.append(ord.Price, levelEntry{seq: ord.Seq, id: id})
	ord.Status = StatusOpen
	e.recentID = id

	if err := e.notifyModify(id); err != nil {
		return id, err
	}
	if e.autoMatch {
		if err := e.match(); err != nil {
			return id, err
		}
	}
	return id, nil
}

// match runs the matching loop for the most recently mutated order. It
// does not sweep the whole book: only the recent order drives matching,
// so an order that became matchable as a side effect of another
// operation waits until it is itself mutated.
func (e *Engine) match() error {
	recent, ok := e.lookup(e.recentID)
	if !ok {
		return nil
	}
	if e.asks.empty() || e.bids.empty() {
		return nil
	}

	for recent.Status == StatusOpen && recent.Qty.IsPositive() {
		bestAsk, okAsk := e.asks.best()
		bestBid, okBid := e.bids.best()
		if !okAsk || !okBid {
			break
		}

		canTrade := (recent.Side == SideAsk && bestBid >= recent.Price) ||
			(recent.Side == SideBid && bestAsk <= recent.Price)
		if !canTrade {
			break
		}

		askLvl, okAsk := e.asks.level(bestAsk)
		bidLvl, okBid := e.bids.level(bestBid)
		if !okAsk || !okBid {
			return ErrCorruptBook
		}
		if askLvl.Empty() || bidLvl.Empty() {
			break
		}

		askHead, _ := askLvl.Peek(0)
		bidHead, _ := bidLvl.Peek(0)
		ask, okAsk := e.lookup(askHead.id)
		bid, okBid := e.lookup(bidHead.id)
		if !okAsk || !okBid {
			return ErrCorruptBook
		}

		passive := ask
		if recent.Side == SideAsk {
			passive = bid
		}
		if err := e.fill(ask, bid, passive); err != nil {
			return err
		}
	}
	return nil
}

// fill executes one trade between the heads of the two best levels at the
// passive (resting, non-recent) side's price.
func (e *Engine) fill(ask, bid, passive *OrderInfo) error {
	qty := decimal.Min(ask.Qty, bid.Qty)
	ask.Qty = ask.Qty.Sub(qty)
	bid.Qty = bid.Qty.Sub(qty)

	e.lastTrade.Store(int64(passive.Price))
	e.trades.Add(1)

	// Statuses first, so notifications observe the post-trade state.
	if ask.Qty.IsZero() {
		ask.Status = StatusFilled
	}
	if bid.Qty.IsZero() {
		bid.Status = StatusFilled
	}

	tradeID := uuid.New()
	if err := e.notifyFill(ask.ID, qty, tradeID); err != nil {
		return err
	}
	if err := e.notifyFill(bid.ID, qty, tradeID); err != nil {
		return err
	}

	if ask.Qty.IsZero() {
		if lvl, ok := e.asks.level(ask.Price); ok {
			lvl.Pop(0)
			e.asks.dropLevelIfEmpty(ask.Price)
		}
	}
	if bid.Qty.IsZero() {
		if lvl, ok := e.bids.level(bid.Price); ok {
			lvl.Pop(0)
			e.bids.dropLevelIfEmpty(bid.Price)
		}
	}
	return nil
}

// Order returns a copy of the order's record, including terminal ones.
func (e *Engine) Order(id OrderID) (OrderInfo, bool) {
	ord, ok := e.lookup(id)
	if !ok {
		return OrderInfo{}, false
	}
	return *ord, true
}

// BestBid returns the highest resting bid price.
func (e *Engine) BestBid() (Price, bool) { return e.bids.best() }

// BestAsk returns the lowest resting ask price.
func (e *Engine) BestAsk() (Price, bool) { return e.asks.best() }

// MarketPrice returns the last trade price; ok is false before the first
// trade.
func (e *Engine) MarketPrice() (Price, bool) {
	v := e.lastTrade.Load()
	if v < 0 {
		return 0, false
	}
	return Price(v), true
}

// NumTrades returns the monotonic trade counter.
func (e *Engine) NumTrades() uint64 { return e.trades.Load() }

// OrdersByStatus returns copies of every order currently in the given
// status. O(n) over the order table.
func (e *Engine) OrdersByStatus(st OrderStatus) []OrderInfo {
	var out []OrderInfo
	for _, idx := range e.orders {
		if ord := e.pool.At(idx); ord.Status == st {
			out = append(out, *ord)
		}
	}
	return out
}

// MarketDepth returns up to depth (price, aggregate quantity) rungs for
// one side, best first. It never mutates book state: traversal works on
// heap clones.
func (e *Engine) MarketDepth(side Side, depth int) []DepthLevel {
	book := e.sideBook(side)
	if book == nil {
		return nil
	}
	rungs := depth
	if n := book.prices.Len(); n < rungs {
		rungs = n
	}
	out := make([]DepthLevel, 0, rungs)
	prices := book.prices.Clone()
	for i := 0; i < depth && !prices.Empty(); i++ {
		price, _ := prices.Pop(0)
		lvl, ok := book.level(price)
		if !ok {
			continue
		}
		total := decimal.Zero
		entries := lvl.Clone()
		for !entries.Empty() {
			en, _ := entries.Pop(0)
			if ord, ok := e.lookup(en.id); ok {
				total = total.Add(ord.Qty)
			}
		}
		out = append(out, DepthLevel{Price: price, Qty: total})
	}
	return out
}

// SetAutoMatch toggles the matching pass that runs after placement and
// modify.
func (e *Engine) SetAutoMatch(on bool) { e.autoMatch = on }

// AutoMatch reports whether auto-matching is on.
func (e *Engine) AutoMatch() bool { return e.autoMatch }

// NextOrderID returns the id the next accepted placement will receive.
// The runtime uses it to attribute ownership before invoking PlaceOrder.
func (e *Engine) NextOrderID() OrderID { return OrderID(e.nextSeq) }

// Symbol returns the engine's ticker symbol.
func (e *Engine) Symbol() string { return e.symbol }

// Decimals returns the tick scale.
func (e *Engine) Decimals() int32 { return e.decimals }

// PriceDecimal converts ticks to a decimal amount.
func (e *Engine) PriceDecimal(p Price) decimal.Decimal {
	return decimal.New(int64(p), -e.decimals)
}

// PriceTicks converts a decimal amount to ticks, rounding to the nearest
// tick.
func (e *Engine) PriceTicks(d decimal.Decimal) Price {
	return Price(d.Shift(e.decimals).Round(0).IntPart())
}
