// Package sched runs a fixed pool of workers, each draining its own
// double-buffer job queue. Jobs are routed by owner id, so all jobs for
// one owner execute serially on the same worker; batches become visible
// to workers only when flushed.
package sched

import (
	"runtime"
	"sync"
	"sync/atomic"

	"backsim/internal/dbuffer"
)

// WorkerID indexes a worker and its queue.
type WorkerID int

// Job is one unit of work. Execute runs on the owning worker; Cleanup, if
// set, runs immediately after regardless of what Execute did. OwnerID
// routes the job: worker = OwnerID mod worker count.
type Job struct {
	Execute func()
	Cleanup func()
	OwnerID uint32
}

// Scheduler owns the worker pool. Construct with New, release with Close.
// A single producer goroutine may submit and flush; see the runtime's
// threading contract.
type Scheduler struct {
	queues []*dbuffer.DoubleBuffer[Job]

	running   atomic.Bool
	wg        sync.WaitGroup
	closeOnce sync.Once

	numWorkers int
	batchCap   int
}

// New starts numWorkers workers, each with a queue holding batchCapacity
// jobs. Values below 1 are clamped.
func New(numWorkers, batchCapacity int) *Scheduler {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if batchCapacity < 1 {
		batchCapacity = 1
	}
	s := &Scheduler{
		queues:     make([]*dbuffer.DoubleBuffer[Job], numWorkers),
		numWorkers: numWorkers,
		batchCap:   batchCapacity,
	}
	for i := range s.queues {
		s.queues[i] = dbuffer.New[Job](batchCapacity)
	}
	s.running.Store(true)
	for i := 0; i < numWorkers; i++ {
		s.wg.Add(1)
		go s.workerLoop(WorkerID(i))
	}
	return s
}

// Submit stages the job on its owner's queue, spin-yielding while the
// queue is full or mid-swap. Returns the worker the job was routed to.
func (s *Scheduler) Submit(job Job) WorkerID {
	w := WorkerID(int(job.OwnerID) % s.numWorkers)
	q := s.queues[w]
	for !q.TryPush(job) {
		runtime.Gosched()
	}
	return w
}

// ExecuteBatch flushes every queue, making all staged jobs visible to
// their workers.
func (s *Scheduler) ExecuteBatch() {
	for _, q := range s.queues {
		q.Flush()
	}
}

// ExecuteBatchOn flushes a single worker's queue.
func (s *Scheduler) ExecuteBatchOn(w WorkerID) {
	s.queues[w].Flush()
}

// ProcessJobs flushes all queues and blocks until every queue is drained.
func (s *Scheduler) ProcessJobs() {
	s.ExecuteBatch()
	s.WaitForCompletion()
}

// ProcessJobsAsync flushes all queues without waiting.
func (s *Scheduler) ProcessJobsAsync() { s.ExecuteBatch() }

// ProcessJobsOn flushes one worker's queue and waits for it to drain.
func (s *Scheduler) ProcessJobsOn(w WorkerID) {
	s.ExecuteBatchOn(w)
	s.WaitForWorker(w)
}

// ProcessJobsOnAsync flushes one worker's queue without waiting.
func (s *Scheduler) ProcessJobsOnAsync(w WorkerID) { s.ExecuteBatchOn(w) }

// WaitForCompletion blocks until every queue is empty.
func (s *Scheduler) WaitForCompletion() {
	for !s.IsComplete() {
		runtime.Gosched()
	}
}

// WaitForWorker blocks until one worker's queue is empty.
func (s *Scheduler) WaitForWorker(w WorkerID) {
	for !s.queues[w].Empty() {
		runtime.Gosched()
	}
}

// IsComplete reports whether every queue is empty.
func (s *Scheduler) IsComplete() bool {
	for _, q := range s.queues {
		if !q.Empty() {
			return false
		}
	}
	return true
}

// IsWorkerComplete reports whether one worker's queue is empty.
func (s *Scheduler) IsWorkerComplete(w WorkerID) bool {
	return s.queues[w].Empty()
}

// IsWorkerFull reports whether one worker's write buffer is at capacity.
func (s *Scheduler) IsWorkerFull(w WorkerID) bool {
	return s.queues[w].Full()
}

// WorkerCount returns the pool size.
func (s *Scheduler) WorkerCount() int { return s.numWorkers }

// BatchCapacity returns the per-queue batch capacity.
func (s *Scheduler) BatchCapacity() int { return s.batchCap }

// Close flushes and drains every queue, then stops and joins the workers.
// Submitting after Close is a programming error.
func (s *Scheduler) Close() {
	s.closeOnce.Do(func() {
		s.ExecuteBatch()
		s.WaitForCompletion()
		s.running.Store(false)
		s.wg.Wait()
	})
}

func (s *Scheduler) workerLoop(id WorkerID) {
	defer s.wg.Done()
	q := s.queues[id]
	var job Job
	for s.running.Load() {
		if !q.TryPop(&job) {
			runtime.Gosched()
			continue
		}
		if job.Execute != nil {
			job.Execute()
		}
		if job.Cleanup != nil {
			job.Cleanup()
		}
		job = Job{}
	}
}
