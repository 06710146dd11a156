package engine

import "backsim/internal/binheap"

// levelEntry is one resting order inside a price level, ordered by its
// time-priority sequence.
type levelEntry struct {
	seq uint32
	id  OrderID
}

// bookSide is one side of the book: a heap of active prices (max for
// bids, min for asks, best at the top) plus a parallel map from price to
// its level. A price is in the heap iff its level is non-empty.
type bookSide struct {
	prices *binheap.Heap[Price]
	levels map[Price]*binheap.Heap[levelEntry]
}

func newBookSide(side Side) *bookSide {
	less := func(a, b Price) bool { return a < b }
	if side == SideBid {
		less = func(a, b Price) bool { return a > b }
	}
	return &bookSide{
		prices: binheap.New(less),
		levels: map[Price]*binheap.Heap[levelEntry]{},
	}
}

func (b *bookSide) empty() bool { return b.prices.Empty() }

func (b *bookSide) best() (Price, bool) { return b.prices.Peek(0) }

func (b *bookSide) level(price Price) (*binheap.Heap[levelEntry], bool) {
	lvl, ok := b.levels[price]
	return lvl, ok
}

// append adds an entry to the level at price, creating the level and
// registering the price on demand.
func (b *bookSide) append(price Price, e levelEntry) {
	lvl, ok := b.levels[price]
	if !ok {
		lvl = binheap.New(func(a, c levelEntry) bool { return a.seq < c.seq })
		b.levels[price] = lvl
		b.prices.Push(price)
	}
	lvl.Push(e)
}

// dropLevelIfEmpty removes the price from the heap and the level map when
// its level has no entries left.
func (b *bookSide) dropLevelIfEmpty(price Price) {
	lvl, ok := b.levels[price]
	if !ok || !lvl.Empty() {
		return
	}
	if i := b.prices.Find(func(p Price) bool { return p == price }); i != -1 {
		b.prices.Pop(i)
	}
	delete(b.levels, price)
}
