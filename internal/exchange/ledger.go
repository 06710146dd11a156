package exchange

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"backsim/internal/engine"
)

// UserID identifies a market participant.
type UserID uint32

// IPOHolder owns the initial ask posted when a symbol is registered.
const IPOHolder UserID = 0

// Position is a user's holding in one symbol. Reserved counts shares
// committed to open asks; Held-Reserved is available to sell.
type Position struct {
	Held     decimal.Decimal
	Reserved decimal.Decimal
}

// Available returns the quantity not committed to open asks.
func (p Position) Available() decimal.Decimal { return p.Held.Sub(p.Reserved) }

// ledger tracks order ownership and share positions per user per symbol.
// It is mutated from worker goroutines (via notification dispatch) and
// read from the producer (ask validation), so every access goes through
// one mutex.
type ledger struct {
	mu     sync.Mutex
	orders map[UserID]map[string]map[engine.OrderID]struct{}
	owners map[string]map[engine.OrderID]UserID
	pos    map[UserID]map[string]Position
}

func newLedger() *ledger {
	l := &ledger{}
	l.resetLocked()
	return l
}

func (l *ledger) resetLocked() {
	l.orders = map[UserID]map[string]map[engine.OrderID]struct{}{}
	l.owners = map[string]map[engine.OrderID]UserID{}
	l.pos = map[UserID]map[string]Position{}
}

func (l *ledger) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetLocked()
}

func (l *ledger) getPos(u UserID, symbol string) Position {
	if bySym, ok := l.pos[u]; ok {
		return bySym[symbol]
	}
	return Position{}
}

func (l *ledger) setPos(u UserID, symbol string, p Position) {
	bySym, ok := l.pos[u]
	if !ok {
		bySym = map[string]Position{}
		l.pos[u] = bySym
	}
	bySym[symbol] = p
}

// grant credits shares to a user (IPO issuance).
func (l *ledger) grant(u UserID, symbol string, qty decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.getPos(u, symbol)
	p.Held = p.Held.Add(qty)
	l.setPos(u, symbol, p)
}

// tryReserve commits qty of the user's available shares to an ask.
// Fails when Held-Reserved < qty.
func (l *ledger) tryReserve(u UserID, symbol string, qty decimal.Decimal) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.getPos(u, symbol)
	if p.Available().LessThan(qty) {
		return false
	}
	p.Reserved = p.Reserved.Add(qty)
	l.setPos(u, symbol, p)
	return true
}

// release undoes a reservation whose order was never placed
// (argument-arena or order-pool exhaustion).
func (l *ledger) release(u UserID, symbol string, qty decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(u, symbol, qty)
}

func (l *ledger) releaseLocked(u UserID, symbol string, qty decimal.Decimal) {
	p := l.getPos(u, symbol)
	p.Reserved = p.Reserved.Sub(qty)
	l.setPos(u, symbol, p)
}

// assign records the user as owner of an order id before the engine
// operation runs, so fills emitted during placement resolve their owner.
func (l *ledger) assign(u UserID, symbol string, id engine.OrderID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	byID, ok := l.owners[symbol]
	if !ok {
		byID = map[engine.OrderID]UserID{}
		l.owners[symbol] = byID
	}
	byID[id] = u
	l.addOrderLocked(u, symbol, id)
}

// unassign backs out an assignment whose placement never produced an
// order record (order-pool exhaustion).
func (l *ledger) unassign(u UserID, symbol string, id engine.OrderID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if byID, ok := l.owners[symbol]; ok {
		delete(byID, id)
	}
	l.removeOrderLocked(u, symbol, id)
}

func (l *ledger) addOrderLocked(u UserID, symbol string, id engine.OrderID) {
	bySym, ok := l.orders[u]
	if !ok {
		bySym = map[string]map[engine.OrderID]struct{}{}
		l.orders[u] = bySym
	}
	ids, ok := bySym[symbol]
	if !ok {
		ids = map[engine.OrderID]struct{}{}
		bySym[symbol] = ids
	}
	ids[id] = struct{}{}
}

func (l *ledger) removeOrderLocked(u UserID, symbol string, id engine.OrderID) {
	if bySym, ok := l.orders[u]; ok {
		if ids, ok := bySym[symbol]; ok {
			delete(ids, id)
		}
	}
}

// owner returns who placed an order. Terminal orders keep their owner so
// modify can re-activate the id.
func (l *ledger) owner(symbol string, id engine.OrderID) (UserID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.owners[symbol][id]
	return u, ok
}

// apply folds one lifecycle notification into ownership and positions.
// Events for orders the ledger never saw are ignored.
func (l *ledger) apply(n engine.Notification) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.owners[n.Symbol][n.OrderID]
	if !ok {
		return
	}

	switch n.Kind {
	case engine.KindFilled, engine.KindPartialFilled:
		p := l.getPos(u, n.Symbol)
		if n.Side == engine.SideAsk {
			p.Held = p.Held.Sub(n.Qty)
			p.Reserved = p.Reserved.Sub(n.Qty)
		} else {
			p.Held = p.Held.Add(n.Qty)
		}
		l.setPos(u, n.Symbol, p)
		if n.Kind == engine.KindFilled {
			l.removeOrderLocked(u, n.Symbol, n.OrderID)
		}

	case engine.KindCancelled:
		if n.Side == engine.SideAsk {
			l.releaseLocked(u, n.Symbol, n.Qty)
		}
		l.removeOrderLocked(u, n.Symbol, n.OrderID)

	case engine.KindModified:
		// Modify re-activates the id under its original owner. The
		// preceding internal cancel released any old reservation; edits
		// bypass the sufficiency check, so reserve unconditionally.
		l.addOrderLocked(u, n.Symbol, n.OrderID)
		if n.Side == engine.SideAsk {
			p := l.getPos(u, n.Symbol)
			p.Reserved = p.Reserved.Add(n.Qty)
			l.setPos(u, n.Symbol, p)
		}

	case engine.KindRejected:
		// A failed modify reports KindRejected without the order itself
		// becoming REJECTED; only true rejections release state.
		if n.Status == engine.StatusRejected {
			if n.Side == engine.SideAsk {
				l.releaseLocked(u, n.Symbol, n.Qty)
			}
			l.removeOrderLocked(u, n.Symbol, n.OrderID)
		}
	}
}

// positions returns the user's live order ids for a symbol, ascending.
func (l *ledger) positions(u UserID, symbol string) []engine.OrderID {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := l.orders[u][symbol]
	out := make([]engine.OrderID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// position returns the user's holding in a symbol.
func (l *ledger) position(u UserID, symbol string) Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.getPos(u, symbol)
}

// dropSymbol forgets every user's state for an unregistered symbol.
func (l *ledger) dropSymbol(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.owners, symbol)
	for _, bySym := range l.orders {
		delete(bySym, symbol)
	}
	for _, bySym := range l.pos {
		delete(bySym, symbol)
	}
}
