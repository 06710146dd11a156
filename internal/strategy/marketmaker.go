package strategy

import (
	"github.com/shopspring/decimal"

	"backsim/internal/engine"
	"backsim/internal/exchange"
)

// MarketMaker quotes both sides of the book around the mid price,
// capping its net position.
type MarketMaker struct {
	user        exchange.UserID
	spread      decimal.Decimal
	quoteSize   decimal.Decimal
	maxPosition decimal.Decimal

	position    decimal.Decimal
	realizedPnL decimal.Decimal
	volume      decimal.Decimal

	activeBids map[engine.OrderID]struct{}
	activeAsks map[engine.OrderID]struct{}
	pending    []pendingQuote
}

type pendingQuote struct {
	cell *exchange.IDCell
	side engine.Side
}

// NewMarketMaker quotes quoteSize on each side, spread wide, as user.
func NewMarketMaker(user exchange.UserID, spread, quoteSize, maxPosition decimal.Decimal) *MarketMaker {
	return &MarketMaker{
		user:        user,
		spread:      spread,
		quoteSize:   quoteSize,
		maxPosition: maxPosition,
		activeBids:  map[engine.OrderID]struct{}{},
		activeAsks:  map[engine.OrderID]struct{}{},
	}
}

// OnBookUpdate re-quotes around the current mid.
func (m *MarketMaker) OnBookUpdate(symbol string, book BookReader, rt *exchange.Runtime) {
	m.harvest()

	midPrice, ok := mid(book)
	if !ok {
		return
	}
	half := m.spread.Div(decimal.NewFromInt(2))
	ourBid := midPrice.Sub(half)
	ourAsk := midPrice.Add(half)

	if m.position.LessThan(m.maxPosition) && ourBid.IsPositive() {
		cell := exchange.NewIDCell()
		if err := rt.LimitOrder(symbol, engine.SideBid, ourBid, m.quoteSize, cell, m.user); err == nil {
			m.pending = append(m.pending, pendingQuote{cell: cell, side: engine.SideBid})
		}
	}
	if m.position.GreaterThan(m.maxPosition.Neg()) {
		cell := exchange.NewIDCell()
		if err := rt.LimitOrder(symbol, engine.SideAsk, ourAsk, m.quoteSize, cell, m.user); err == nil {
			m.pending = append(m.pending, pendingQuote{cell: cell, side: engine.SideAsk})
		}
	}

	rt.ExecuteBatch()
	m.harvest()
}

// harvest moves resolved result cells into the active order sets. Cells
// still holding the invalid id were rejected (batches are blocking, so
// by now every cell is resolved) and are dropped.
func (m *MarketMaker) harvest() {
	for _, p := range m.pending {
		id := p.cell.Get()
		if id == engine.InvalidOrderID {
			continue
		}
		if p.side == engine.SideBid {
			m.activeBids[id] = struct{}{}
		} else {
			m.activeAsks[id] = struct{}{}
		}
	}
	m.pending = m.pending[:0]
}

// OnFill updates position and realized volume.
func (m *MarketMaker) OnFill(symbol string, id engine.OrderID, price, qty decimal.Decimal) {
	if _, isBid := m.activeBids[id]; isBid {
		m.position = m.position.Add(qty)
		m.realizedPnL = m.realizedPnL.Sub(price.Mul(qty))
	} else {
		m.position = m.position.Sub(qty)
		m.realizedPnL = m.realizedPnL.Add(price.Mul(qty))
	}
	m.volume = m.volume.Add(qty)
}

// OnCancel drops the order from the active sets.
func (m *MarketMaker) OnCancel(symbol string, id engine.OrderID) {
	delete(m.activeBids, id)
	delete(m.activeAsks, id)
}

// OnReject drops the order from the active sets.
func (m *MarketMaker) OnReject(symbol string, id engine.OrderID, reason string) {
	delete(m.activeBids, id)
	delete(m.activeAsks, id)
}

// Position returns the current net position.
func (m *MarketMaker) Position() decimal.Decimal { return m.position }

// Volume returns the total traded volume.
func (m *MarketMaker) Volume() decimal.Decimal { return m.volume }

// RealizedPnL returns cash received from sells minus cash paid for buys.
func (m *MarketMaker) RealizedPnL() decimal.Decimal { return m.realizedPnL }
