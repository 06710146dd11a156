// Package arena provides a fixed-capacity, index-addressed slot pool with
// free-list reuse. Indices stay valid until freed or the arena is reset,
// and the backing storage never reallocates, so pointers obtained through
// At remain stable for the life of the slot.
package arena

import "math"

// Index addresses a slot. None marks allocation failure.
type Index uint32

// None is returned by Alloc when the arena is full.
const None Index = math.MaxUint32

// Arena is a pool of T. Construct with New; the zero value has capacity 0.
type Arena[T any] struct {
	data []T
	free []Index
	cap  int
}

// New returns an arena that can hold up to capacity values.
func New[T any](capacity int) *Arena[T] {
	return &Arena[T]{
		data: make([]T, 0, capacity),
		free: make([]Index, 0, capacity/2),
		cap:  capacity,
	}
}

// Alloc stores v and returns its index, reusing a freed slot when one is
// available. Returns None when the arena is full.
func (a *Arena[T]) Alloc(v T) Index {
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.data[idx] = v
		return idx
	}
	if len(a.data) >= a.cap {
		return None
	}
	a.data = append(a.data, v)
	return Index(len(a.data) - 1)
}

// Free returns the slot to the free list. The payload is not zeroed; the
// next Alloc overwrites it. Freeing an index twice corrupts the free list,
// as does freeing an index never returned by Alloc.
func (a *Arena[T]) Free(idx Index) {
	a.free = append(a.free, idx)
}

// At returns a pointer to the slot's payload. The pointer is stable until
// Reset. Callers must not retain it past Free of the same index.
func (a *Arena[T]) At(idx Index) *T {
	return &a.data[idx]
}

// Reset drops every occupant and empties the free list.
func (a *Arena[T]) Reset() {
	a.data = a.data[:0]
	a.free = a.free[:0]
}

// Cap returns the fixed capacity.
func (a *Arena[T]) Cap() int { return a.cap }

// Len returns the number of slots ever allocated and not reclaimed by
// Reset, including currently freed ones.
func (a *Arena[T]) Len() int { return len(a.data) }
