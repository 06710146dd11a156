package dbuffer

import (
	"sync"
	"testing"
)

func TestPushFlushPop(t *testing.T) {
	d := New[int](8)
	for i := 0; i < 5; i++ {
		if !d.TryPush(i) {
			t.Fatalf("push %d failed", i)
		}
	}
	var v int
	if d.TryPop(&v) {
		t.Fatal("pop before flush should fail")
	}
	d.Flush()
	for i := 0; i < 5; i++ {
		if !d.TryPop(&v) {
			t.Fatalf("pop %d failed", i)
		}
		if v != i {
			t.Fatalf("pop %d = %d, FIFO violated", i, v)
		}
	}
	if d.TryPop(&v) {
		t.Fatal("pop past batch end should fail")
	}
	if !d.Empty() {
		t.Fatal("queue should be empty")
	}
}

func TestPushFullBatch(t *testing.T) {
	d := New[int](2)
	if !d.TryPush(1) || !d.TryPush(2) {
		t.Fatal("pushes within capacity failed")
	}
	if d.TryPush(3) {
		t.Fatal("push into full write buffer should fail")
	}
	if !d.Full() {
		t.Fatal("Full should report true")
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	d := New[int](4)
	d.Flush()
	if !d.Empty() {
		t.Fatal("flush of empty queue changed state")
	}
}

func TestSecondBatchWhileDraining(t *testing.T) {
	d := New[int](4)
	d.TryPush(1)
	d.TryPush(2)
	d.Flush()
	// Stage the next batch before the first is drained.
	if !d.TryPush(3) {
		t.Fatal("push after flush should target the fresh write buffer")
	}
	var v int
	if !d.TryPop(&v) || v != 1 {
		t.Fatalf("first pop = %d", v)
	}
	if !d.TryPop(&v) || v != 2 {
		t.Fatalf("second pop = %d", v)
	}
	d.Flush()
	if !d.TryPop(&v) || v != 3 {
		t.Fatalf("pop from second batch = %d", v)
	}
}

func TestPendingCounts(t *testing.T) {
	d := New[int](4)
	d.TryPush(7)
	d.TryPush(8)
	if d.PendingWrites() != 2 || d.PendingReads() != 0 {
		t.Fatalf("pending = %d/%d before flush", d.PendingWrites(), d.PendingReads())
	}
	d.Flush()
	if d.PendingWrites() != 0 || d.PendingReads() != 2 {
		t.Fatalf("pending = %d/%d after flush", d.PendingWrites(), d.PendingReads())
	}
}

// One producer, one consumer, many batches: every item arrives exactly
// once and in order.
func TestConcurrentSPSC(t *testing.T) {
	const total = 10000
	d := New[int](64)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		next := 0
		var v int
		for next < total {
			if d.TryPop(&v) {
				if v != next {
					t.Errorf("received %d, want %d", v, next)
					return
				}
				next++
			}
		}
	}()

	for i := 0; i < total; i++ {
		for !d.TryPush(i) {
			d.Flush()
		}
	}
	d.Flush()
	wg.Wait()
}
