package strategy

import (
	"github.com/shopspring/decimal"

	"backsim/internal/engine"
	"backsim/internal/exchange"
)

// Arbitrage watches two symbols and trades the pair when their mid
// prices diverge beyond a relative threshold: sell the expensive leg,
// buy the cheap one.
type Arbitrage struct {
	user      exchange.UserID
	symbolA   string
	symbolB   string
	threshold decimal.Decimal // percent divergence
	legSize   decimal.Decimal

	priceA decimal.Decimal
	priceB decimal.Decimal
	trades int
}

// NewArbitrage trades legSize between symbolA and symbolB as user.
func NewArbitrage(user exchange.UserID, symbolA, symbolB string, threshold, legSize decimal.Decimal) *Arbitrage {
	return &Arbitrage{
		user:      user,
		symbolA:   symbolA,
		symbolB:   symbolB,
		threshold: threshold,
		legSize:   legSize,
	}
}

// OnBookUpdate refreshes the leg's mid and trades the pair on
// divergence.
func (a *Arbitrage) OnBookUpdate(symbol string, book BookReader, rt *exchange.Runtime) {
	midPrice, ok := mid(book)
	if !ok {
		return
	}
	switch symbol {
	case a.symbolA:
		a.priceA = midPrice
	case a.symbolB:
		a.priceB = midPrice
	default:
		return
	}
	if !a.priceA.IsPositive() || !a.priceB.IsPositive() {
		return
	}

	avg := a.priceA.Add(a.priceB).Div(decimal.NewFromInt(2))
	spread := a.priceA.Sub(a.priceB).Abs().Div(avg).Mul(decimal.NewFromInt(100))
	if !spread.GreaterThan(a.threshold) {
		return
	}

	sell, sellAt, buy, buyAt := a.symbolA, a.priceA, a.symbolB, a.priceB
	if a.priceB.GreaterThan(a.priceA) {
		sell, sellAt, buy, buyAt = a.symbolB, a.priceB, a.symbolA, a.priceA
	}
	rt.LimitOrder(sell, engine.SideAsk, sellAt, a.legSize, exchange.NewIDCell(), a.user)
	rt.LimitOrder(buy, engine.SideBid, buyAt, a.legSize, exchange.NewIDCell(), a.user)
	a.trades++
	rt.ExecuteBatch()
}

// OnFill is informational for this strategy.
func (a *Arbitrage) OnFill(symbol string, id engine.OrderID, price, qty decimal.Decimal) {}

// OnCancel is informational for this strategy.
func (a *Arbitrage) OnCancel(symbol string, id engine.OrderID) {}

// OnReject is informational for this strategy.
func (a *Arbitrage) OnReject(symbol string, id engine.OrderID, reason string) {}

// PairTrades returns how many pair trades were attempted.
func (a *Arbitrage) PairTrades() int { return a.trades }
