package main

import (
	"flag"
	"log"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"backsim/internal/exchange"
	"backsim/internal/sim"
	"backsim/internal/tui"
)

func main() {
	var (
		symbols = flag.String("symbols", "AAPL,TSLA,AMZN,NVDA", "comma-separated symbols to simulate")
		orders  = flag.Int("orders", 50000, "orders per symbol")
		workers = flag.Int("workers", 4, "scheduler worker count")
		seed    = flag.Int64("seed", 1, "random seed")
	)
	flag.Parse()

	rt := exchange.New(exchange.Config{
		Workers:  *workers,
		Verbose:  false, // the TUI is the sink; no console lines
		Blocking: true,
	})

	syms := strings.Split(*symbols, ",")
	mc := sim.New(rt, sim.Config{
		Symbols:         syms,
		OrdersPerSymbol: *orders,
		IPOPrice:        decimal.NewFromInt(100),
		IPOQty:          decimal.NewFromInt(10000),
		Seed:            *seed,
	})

	// The simulation is the runtime's single producer; the TUI only
	// consumes the notification stream and atomic trade stats.
	go func() {
		if err := mc.Run(); err != nil {
			log.Printf("simulation stopped: %v", err)
		}
		rt.Close() // closes the stream; the watcher shows it as ended
	}()

	p := tea.NewProgram(tui.NewModel(rt, syms), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("watch ui: %v", err)
	}
}
