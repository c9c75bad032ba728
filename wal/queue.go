package wal

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// batchQueue is the Entry Batch Queue (spec §4.6): a bounded
// multi-producer, single-consumer queue admission-controlled by total
// bytes, not element count. Admission is a golang.org/x/sync/semaphore.Weighted
// sized to the configured byte capacity; put() acquires bytes worth of
// weight before appending, drainTo() releases the weight of everything it
// removes.
type batchQueue struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*EntryBatch
	closed  bool
}

func newBatchQueue(capacityBytes int64) *batchQueue {
	q := &batchQueue{sem: semaphore.NewWeighted(capacityBytes)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// put blocks until batch's bytes fit within capacity, then enqueues it.
// Returns ErrShuttingDown if the queue has been shut down.
func (q *batchQueue) put(ctx context.Context, batch *EntryBatch) error {
	weight := int64(batch.approxSize())
	if weight <= 0 {
		weight = 1
	}
	if err := q.sem.Acquire(ctx, weight); err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.sem.Release(weight)
		return ErrShuttingDown
	}
	batch.queueWeight = weight
	q.pending = append(q.pending, batch)
	q.mu.Unlock()
	q.cond.Signal()
	return nil
}

// drainTo blocks until at least one batch is available, then atomically
// moves every currently enqueued batch out and returns them, plus true.
// After shutdown, once pending is empty, it returns (nil, false)
// permanently.
func (q *batchQueue) drainTo() ([]*EntryBatch, bool) {
	q.mu.Lock()
	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.pending) == 0 && q.closed {
		q.mu.Unlock()
		return nil, false
	}
	batches := q.pending
	q.pending = nil
	q.mu.Unlock()

	var freed int64
	for _, b := range batches {
		freed += b.queueWeight
	}
	q.sem.Release(freed)

	return batches, true
}

// shutdown causes all current and future put operations to fail, and wakes
// any blocked drainTo so it can drain the remainder and exit.
func (q *batchQueue) shutdown() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
