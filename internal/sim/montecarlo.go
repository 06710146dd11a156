// Package sim generates random order flow against a runtime: a skewed
// gaussian walk of limit and market orders with occasional cancels, plus
// per-symbol statistics for the end of the run. The whole run is a
// single producer, matching the runtime's threading contract.
package sim

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"

	"backsim/internal/engine"
	"backsim/internal/exchange"
)

// The simulated participants: the seller is seeded with half of every
// IPO so the ask side of the flow has shares to list.
const (
	sellerUser exchange.UserID = 1
	buyerUser  exchange.UserID = 2
)

// Stats summarizes one symbol at the end of a run.
type Stats struct {
	Symbol    string
	Open      int
	Filled    int
	Cancelled int
	Rejected  int
	Trades    uint64
	LastPrice decimal.Decimal // zero when the symbol never traded
}

// MonteCarlo drives a runtime with random order flow.
type MonteCarlo struct {
	cfg Config
	rt  *exchange.Runtime
	rng *rand.Rand
}

// cancelCand is a just-submitted order that may be cancelled after its
// batch executes and the id is known.
type cancelCand struct {
	symbol string
	cell   *exchange.IDCell
}

// New creates a simulation. Empty or non-positive Symbols,
// OrdersPerSymbol, IPOPrice, IPOQty, Volatility and FlushEvery, a zero
// Seed, and probabilities outside [0, 1] fall back to defaults. Skew,
// CancelProb and MarketProb are used as given when zero.
func New(rt *exchange.Runtime, cfg Config) *MonteCarlo {
	def := DefaultConfig()
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = def.Symbols
	}
	if cfg.OrdersPerSymbol <= 0 {
		cfg.OrdersPerSymbol = def.OrdersPerSymbol
	}
	if !cfg.IPOPrice.IsPositive() {
		cfg.IPOPrice = def.IPOPrice
	}
	if !cfg.IPOQty.IsPositive() {
		cfg.IPOQty = def.IPOQty
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = def.Volatility
	}
	if cfg.CancelProb < 0 || cfg.CancelProb > 1 {
		cfg.CancelProb = def.CancelProb
	}
	if cfg.MarketProb < 0 || cfg.MarketProb > 1 {
		cfg.MarketProb = def.MarketProb
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = def.FlushEvery
	}
	if cfg.Seed == 0 {
		cfg.Seed = def.Seed
	}
	return &MonteCarlo{
		cfg: cfg,
		rt:  rt,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Run registers the symbols, seeds the seller with half of each IPO,
// and plays the configured number of random orders per symbol.
func (m *MonteCarlo) Run() error {
	for _, sym := range m.cfg.Symbols {
		if err := m.rt.RegisterStock(sym, m.cfg.IPOPrice, m.cfg.IPOQty, 0); err != nil {
			return fmt.Errorf("sim: %w", err)
		}
		half := m.cfg.IPOQty.Div(decimal.NewFromInt(2)).Floor()
		if half.IsPositive() {
			if err := m.rt.LimitOrder(sym, engine.SideBid, m.cfg.IPOPrice, half, exchange.NewIDCell(), sellerUser); err != nil {
				return fmt.Errorf("sim: seed %s: %w", sym, err)
			}
		}
	}
	m.rt.ExecuteBatch()

	var window []cancelCand
	total := m.cfg.OrdersPerSymbol * len(m.cfg.Symbols)
	for i := 0; i < total; i++ {
		sym := m.cfg.Symbols[i%len(m.cfg.Symbols)]
		window = append(window, m.playOrder(sym)...)

		if (i+1)%m.cfg.FlushEvery == 0 {
			m.rt.ExecuteBatch()
			m.playCancels(window)
			window = window[:0]
		}
	}
	m.rt.ExecuteBatch()
	m.playCancels(window)
	m.rt.ExecuteBatch()
	return nil
}

// playOrder submits one random order on sym and returns cancel
// candidates for it.
func (m *MonteCarlo) playOrder(sym string) []cancelCand {
	bullish := 0.5 + m.cfg.Skew*0.5
	side := engine.SideAsk
	if m.rng.Float64() < bullish {
		side = engine.SideBid
	}
	qty := decimal.NewFromInt(1 + m.rng.Int63n(100))
	user := buyerUser
	if side == engine.SideAsk {
		user = sellerUser
		avail := m.rt.PositionOf(sellerUser, sym).Available().Floor()
		if !avail.IsPositive() {
			side = engine.SideBid // nothing left to list; buy instead
			user = buyerUser
		} else if qty.GreaterThan(avail) {
			qty = avail
		}
	}

	cell := exchange.NewIDCell()
	if m.rng.Float64() < m.cfg.MarketProb {
		m.rt.MarketOrder(sym, side, qty, cell, user)
		return nil // market orders are not limit-cancellable
	}

	price := m.nextPrice(sym)
	if err := m.rt.LimitOrder(sym, side, price, qty, cell, user); err != nil {
		return nil
	}
	return []cancelCand{{symbol: sym, cell: cell}}
}

// nextPrice walks the last trade price with skewed gaussian noise.
func (m *MonteCarlo) nextPrice(sym string) decimal.Decimal {
	current, err := m.rt.MarketPrice(sym)
	if err != nil {
		if !errors.Is(err, exchange.ErrNoTrades) {
			return m.cfg.IPOPrice
		}
		current = m.cfg.IPOPrice
	}

	change := m.rng.NormFloat64() * m.cfg.Volatility
	if change > 0 {
		change *= 1.0 + m.cfg.Skew
	} else {
		change *= 1.0 - m.cfg.Skew
	}
	offset := decimal.NewFromFloat(m.rng.Float64()*10 - 5)

	next := current.Mul(decimal.NewFromFloat(1.0 + change)).Add(offset).Round(2)
	floor := decimal.New(1, -2) // one cent
	if next.LessThan(floor) {
		return floor
	}
	return next
}

// playCancels rolls the cancel dice for every order of the executed
// window. The cancels themselves ride in the next batch.
func (m *MonteCarlo) playCancels(window []cancelCand) {
	for _, c := range window {
		if m.rng.Float64() >= m.cfg.CancelProb {
			continue
		}
		id := c.cell.Get()
		if id == engine.InvalidOrderID {
			continue
		}
		user, ok := m.rt.Owner(c.symbol, id)
		if !ok {
			continue
		}
		m.rt.CancelOrder(c.symbol, id, exchange.NewBoolCell(), user)
	}
}

// SymbolStats queries the end-of-run summary for one symbol.
func (m *MonteCarlo) SymbolStats(sym string) (Stats, error) {
	st := Stats{Symbol: sym}
	for _, pair := range []struct {
		status engine.OrderStatus
		out    *int
	}{
		{engine.StatusOpen, &st.Open},
		{engine.StatusFilled, &st.Filled},
		{engine.StatusCancelled, &st.Cancelled},
		{engine.StatusRejected, &st.Rejected},
	} {
		orders, err := m.rt.OrdersByStatus(sym, pair.status)
		if err != nil {
			return Stats{}, err
		}
		*pair.out = len(orders)
	}
	trades, err := m.rt.NumTrades(sym)
	if err != nil {
		return Stats{}, err
	}
	st.Trades = trades
	if last, err := m.rt.MarketPrice(sym); err == nil {
		st.LastPrice = last
	}
	return st, nil
}

// AllStats returns the summary for every configured symbol.
func (m *MonteCarlo) AllStats() ([]Stats, error) {
	out := make([]Stats, 0, len(m.cfg.Symbols))
	for _, sym := range m.cfg.Symbols {
		st, err := m.SymbolStats(sym)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
