package strategy

import (
	"github.com/shopspring/decimal"

	"backsim/internal/engine"
	"backsim/internal/exchange"
)

// Momentum buys when the mid price rose more than a threshold over the
// lookback window and sells when it fell as much.
type Momentum struct {
	user      exchange.UserID
	lookback  int
	threshold decimal.Decimal // percent over the window
	orderSize decimal.Decimal

	history    []decimal.Decimal
	position   decimal.Decimal
	activeBids map[engine.OrderID]struct{}
	pending    []pendingQuote
}

// NewMomentum trades orderSize as user once the mid moves threshold
// percent across lookback observations.
func NewMomentum(user exchange.UserID, lookback int, threshold, orderSize decimal.Decimal) *Momentum {
	if lookback < 2 {
		lookback = 2
	}
	return &Momentum{
		user:       user,
		lookback:   lookback,
		threshold:  threshold,
		orderSize:  orderSize,
		activeBids: map[engine.OrderID]struct{}{},
	}
}

// OnBookUpdate samples the mid and trades on the momentum signal.
func (m *Momentum) OnBookUpdate(symbol string, book BookReader, rt *exchange.Runtime) {
	m.harvest()

	midPrice, ok := mid(book)
	if !ok || !midPrice.IsPositive() {
		return
	}
	m.history = append(m.history, midPrice)
	if len(m.history) > m.lookback {
		m.history = m.history[1:]
	}
	if len(m.history) < m.lookback {
		return
	}

	first := m.history[0]
	last := m.history[len(m.history)-1]
	momentum := last.Sub(first).Div(first).Mul(decimal.NewFromInt(100))

	switch {
	case momentum.GreaterThan(m.threshold) && !m.position.IsPositive():
		cell := exchange.NewIDCell()
		if err := rt.LimitOrder(symbol, engine.SideBid, midPrice, m.orderSize, cell, m.user); err == nil {
			m.pending = append(m.pending, pendingQuote{cell: cell, side: engine.SideBid})
		}
	case momentum.LessThan(m.threshold.Neg()) && !m.position.IsNegative():
		// Sell signal; the runtime rejects it when we hold too little.
		cell := exchange.NewIDCell()
		rt.LimitOrder(symbol, engine.SideAsk, midPrice, m.orderSize, cell, m.user)
	default:
		return
	}
	rt.ExecuteBatch()
	m.harvest()
}

func (m *Momentum) harvest() {
	for _, p := range m.pending {
		if id := p.cell.Get(); id != engine.InvalidOrderID && p.side == engine.SideBid {
			m.activeBids[id] = struct{}{}
		}
	}
	m.pending = m.pending[:0]
}

// OnFill updates the net position.
func (m *Momentum) OnFill(symbol string, id engine.OrderID, price, qty decimal.Decimal) {
	if _, isBid := m.activeBids[id]; isBid {
		m.position = m.position.Add(qty)
	} else {
		m.position = m.position.Sub(qty)
	}
}

// OnCancel drops the order from the bid set.
func (m *Momentum) OnCancel(symbol string, id engine.OrderID) { delete(m.activeBids, id) }

// OnReject drops the order from the bid set.
func (m *Momentum) OnReject(symbol string, id engine.OrderID, reason string) {
	delete(m.activeBids, id)
}

// Position returns the current net position.
func (m *Momentum) Position() decimal.Decimal { return m.position }
