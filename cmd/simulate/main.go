package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"backsim/internal/engine"
	"backsim/internal/exchange"
	"backsim/internal/sim"
)

func main() {
	var (
		symbols    = flag.String("symbols", "AAPL,TSLA,AMZN,NVDA", "comma-separated symbols to simulate")
		orders     = flag.Int("orders", 10000, "orders per symbol")
		workers    = flag.Int("workers", 4, "scheduler worker count")
		batch      = flag.Int("batch", 0, "auto-flush batch size (0 = manual)")
		ipoPrice   = flag.Float64("ipo-price", 100, "IPO price per symbol")
		ipoQty     = flag.Float64("ipo-qty", 10000, "IPO share count per symbol")
		volatility = flag.Float64("volatility", 0.05, "price walk volatility")
		skew       = flag.Float64("skew", 0.15, "flow skew, -1 bearish to 1 bullish")
		seed       = flag.Int64("seed", 1, "random seed")
		verbose    = flag.Bool("verbose", false, "print every notification")
	)
	flag.Parse()

	rt := exchange.New(exchange.Config{
		Workers:   *workers,
		BatchSize: *batch,
		Verbose:   *verbose,
		Blocking:  true,
	})
	defer rt.Close()

	mc := sim.New(rt, sim.Config{
		Symbols:         strings.Split(*symbols, ","),
		OrdersPerSymbol: *orders,
		IPOPrice:        decimal.NewFromFloat(*ipoPrice),
		IPOQty:          decimal.NewFromFloat(*ipoQty),
		Volatility:      *volatility,
		Skew:            *skew,
		Seed:            *seed,
	})

	if err := mc.Run(); err != nil {
		log.Fatalf("simulation failed: %v", err)
	}

	stats, err := mc.AllStats()
	if err != nil {
		log.Fatalf("collecting stats: %v", err)
	}
	for _, st := range stats {
		fmt.Printf("=== STATS FOR %s ===\n", st.Symbol)
		fmt.Printf("LAST PRICE: %s\n", st.LastPrice)
		fmt.Printf("OPEN: %d  FILLED: %d  CANCELLED: %d  REJECTED: %d\n",
			st.Open, st.Filled, st.Cancelled, st.Rejected)
		fmt.Printf("TRADES: %d\n", st.Trades)
		printDepth(rt, st.Symbol)
		fmt.Println()
	}
}

func printDepth(rt *exchange.Runtime, symbol string) {
	for _, side := range []engine.Side{engine.SideBid, engine.SideAsk} {
		depth, err := rt.MarketDepth(symbol, side, 10)
		if err != nil {
			continue
		}
		fmt.Printf("--- DEPTH %ss ---\n", side)
		for _, lvl := range depth {
			fmt.Printf("  %10s x %s\n", lvl.Price, lvl.Qty)
		}
	}
}
