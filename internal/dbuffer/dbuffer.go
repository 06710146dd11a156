// Package dbuffer implements a batched single-producer single-consumer
// queue built on two fixed-capacity buffers. The producer stages items in
// the write buffer; Flush atomically exchanges the buffers so the consumer
// drains a whole batch while the producer refills the other side.
package dbuffer

import (
	"runtime"
	"sync/atomic"
)

// DoubleBuffer is the queue. Exactly one goroutine may push/flush and
// exactly one may pop. Construct with New.
type DoubleBuffer[T any] struct {
	bufs [2][]T

	// writeSel selects the producer's buffer; the consumer reads the
	// other one. Only Flush changes it, and only after the consumer has
	// drained its side.
	writeSel      atomic.Uint32
	swapRequested atomic.Bool

	readIndex  atomic.Uint64
	writeIndex atomic.Uint64
	readSize   atomic.Uint64

	capacity uint64
}

// New returns a queue whose batches hold up to capacity items.
func New[T any](capacity int) *DoubleBuffer[T] {
	d := &DoubleBuffer[T]{capacity: uint64(capacity)}
	d.bufs[0] = make([]T, capacity)
	d.bufs[1] = make([]T, capacity)
	return d
}

// TryPush stages v in the write buffer. It fails while a flush is pending
// or when the current batch is full; callers spin-yield and retry.
func (d *DoubleBuffer[T]) TryPush(v T) bool {
	if d.swapRequested.Load() {
		return false
	}
	widx := d.writeIndex.Load()
	if widx >= d.capacity {
		return false
	}
	d.bufs[d.writeSel.Load()][widx] = v
	d.writeIndex.Store(widx + 1)
	return true
}

// Flush publishes the staged batch to the consumer. No-op when nothing is
// staged. Blocks (yielding) until the consumer has drained the previous
// batch, then exchanges the buffers. Producer-side only.
func (d *DoubleBuffer[T]) Flush() {
	writeSz := d.writeIndex.Load()
	if writeSz == 0 {
		return
	}

	d.swapRequested.Store(true)

	for d.readIndex.Load() < d.readSize.Load() {
		runtime.Gosched()
	}

	d.writeSel.Store(1 - d.writeSel.Load())

	d.readSize.Store(writeSz)
	d.readIndex.Store(0)
	d.writeIndex.Store(0)

	d.swapRequested.Store(false)
}

// TryPop moves the next item of the published batch into out. It fails
// when the batch is exhausted, yielding once if a flush is waiting on us.
// Consumer-side only.
func (d *DoubleBuffer[T]) TryPop(out *T) bool {
	idx := d.readIndex.Load()
	size := d.readSize.Load()
	if idx >= size {
		if d.swapRequested.Load() {
			runtime.Gosched()
		}
		return false
	}
	read := 1 - d.writeSel.Load()
	*out = d.bufs[read][idx]
	var zero T
	d.bufs[read][idx] = zero
	d.readIndex.Store(idx + 1)
	return true
}

// Empty reports whether both the published batch is drained and nothing
// is staged.
func (d *DoubleBuffer[T]) Empty() bool {
	return d.readIndex.Load() >= d.readSize.Load() && d.writeIndex.Load() == 0
}

// Full reports whether the write buffer is at capacity.
func (d *DoubleBuffer[T]) Full() bool {
	return d.writeIndex.Load() >= d.capacity
}

// PendingWrites returns the number of staged, unflushed items.
func (d *DoubleBuffer[T]) PendingWrites() int {
	return int(d.writeIndex.Load())
}

// PendingReads returns the number of published, unconsumed items.
func (d *DoubleBuffer[T]) PendingReads() int {
	idx := d.readIndex.Load()
	size := d.readSize.Load()
	if idx >= size {
		return 0
	}
	return int(size - idx)
}

// Cap returns the per-batch capacity.
func (d *DoubleBuffer[T]) Cap() int { return int(d.capacity) }
