package sim

import "github.com/shopspring/decimal"

// Config holds configuration for a Monte Carlo run.
type Config struct {
	// Symbols to register and trade.
	Symbols []string
	// OrdersPerSymbol is how many random orders each symbol receives.
	OrdersPerSymbol int
	// IPOPrice and IPOQty seed each symbol's book.
	IPOPrice decimal.Decimal
	IPOQty   decimal.Decimal
	// Volatility is the standard deviation of the relative price step.
	Volatility float64
	// Skew biases order flow and price moves: -1 bearish to 1 bullish.
	Skew float64
	// CancelProb is the chance a just-executed order is cancelled.
	CancelProb float64
	// MarketProb is the share of market orders in the flow.
	MarketProb float64
	// FlushEvery executes the batch after this many submissions.
	FlushEvery int
	// Seed drives the random generator; runs with the same seed and
	// config produce the same order flow.
	Seed int64
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Symbols:         []string{"AAPL", "TSLA", "AMZN", "NVDA"},
		OrdersPerSymbol: 10000,
		IPOPrice:        decimal.NewFromInt(100),
		IPOQty:          decimal.NewFromInt(10000),
		Volatility:      0.05,
		Skew:            0.15,
		CancelProb:      0.05,
		MarketProb:      0.5,
		FlushEvery:      64,
		Seed:            1,
	}
}
