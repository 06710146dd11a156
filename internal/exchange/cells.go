package exchange

import (
	"sync/atomic"

	"backsim/internal/engine"
)

// IDCell is caller-owned storage for an order-id result. The worker
// writes it when the job executes; the atomic store is the publication.
// Callers must not read it before the batch completes (blocking
// ExecuteBatch returns, or StockCompleted reports true) and must keep the
// cell alive until then.
type IDCell struct {
	v atomic.Uint64
}

// NewIDCell returns a cell initialized to engine.InvalidOrderID.
func NewIDCell() *IDCell {
	c := &IDCell{}
	c.Set(engine.InvalidOrderID)
	return c
}

// Set publishes the result.
func (c *IDCell) Set(id engine.OrderID) { c.v.Store(uint64(id)) }

// Get reads the published result.
func (c *IDCell) Get() engine.OrderID { return engine.OrderID(c.v.Load()) }

// BoolCell is caller-owned storage for a boolean result, with the same
// read discipline as IDCell.
type BoolCell struct {
	v atomic.Uint32
}

// NewBoolCell returns a cell initialized to false.
func NewBoolCell() *BoolCell { return &BoolCell{} }

// Set publishes the result.
func (c *BoolCell) Set(ok bool) {
	if ok {
		c.v.Store(1)
	} else {
		c.v.Store(0)
	}
}

// Get reads the published result.
func (c *BoolCell) Get() bool { return c.v.Load() != 0 }
