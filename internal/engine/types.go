package engine

import (
	"errors"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Side represents the order side: bid (buy) or ask (sell).
type Side uint8

const (
	SideBid Side = iota
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "BID"
	case SideAsk:
		return "ASK"
	default:
		return "UNKNOWN"
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// OrderType represents the order type: limit or market.
type OrderType uint8

const (
	OrderTypeLimit OrderType = iota
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeMarket:
		return "MARKET"
	default:
		return "UNKNOWN"
	}
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus uint8

const (
	StatusOpen OrderStatus = iota
	StatusFilled
	StatusCancelled
	StatusRejected
)

func (st OrderStatus) String() string {
	switch st {
	case StatusOpen:
		return "OPEN"
	case StatusFilled:
		return "FILLED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// OrderID uniquely identifies an order within one symbol. Never reused.
type OrderID uint32

// InvalidOrderID is the rejection sentinel.
const InvalidOrderID OrderID = math.MaxUint32

// Price is a price in integer ticks. The tick scale is per engine; see
// Engine.PriceDecimal for conversion to a decimal amount.
type Price int64

func (p Price) String() string { return strconv.FormatInt(int64(p), 10) }

// DepthLevel is one rung of the market-depth ladder: a price and the
// aggregate open quantity resting there.
type DepthLevel struct {
	Price Price
	Qty   decimal.Decimal
}

// OrderInfo is the engine's record of an order. Records are retained
// after the order reaches a terminal status so post-hoc queries keep
// working; the order pool is fixed-capacity and never evicts.
type OrderInfo struct {
	Qty    decimal.Decimal
	Price  Price
	ID     OrderID
	Seq    uint32 // time-priority key; refreshed on modify
	TimeNs int64
	Status OrderStatus
	Type   OrderType
	Side   Side
}

var (
	// ErrEngineFull means the order pool has no free slot; the placement
	// did not happen.
	ErrEngineFull = errors.New("order pool exhausted")
	// ErrCorruptBook means the order table, a price level, and a book
	// disagree. It indicates a bookkeeping bug, not a caller error.
	ErrCorruptBook = errors.New("order book internal state corrupt")
)
