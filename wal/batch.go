package wal

import (
	"fmt"
	"sync"
)

// batchState is the one-way state machine a batch moves through between
// Reserve and its callback firing (spec §3):
//
//	initialized -> reserved -> serialized -> ready -> {appended-ok, append-failed}
type batchState uint8

const (
	batchInitialized batchState = iota
	batchReserved
	batchSerialized
	batchReady
	batchAppendedOK
	batchAppendFailed
)

// CommitCallback is invoked exactly once per batch, after it reaches a
// terminal state. err is nil on success.
type CommitCallback func(err error)

// EntryBatch is a caller-assembled group of same-kind entries moving
// through Reserve, AsyncAppend, and the Appender as one unit (spec §3, §4).
// A batch is single-owner until Reserve returns it and is then handed to
// exactly one goroutine at a time; its fields are otherwise immutable after
// construction.
type EntryBatch struct {
	Kind    EntryKind
	Entries []Entry

	callback CommitCallback

	mu    sync.Mutex
	state batchState

	// serialized is the raw (unframed, uncompressed) serializeBatch encoding
	// produced by the producer in AsyncAppend (wal/format.go), set on the
	// reserved->serialized transition. Framing and checksumming happen later
	// in WritableSegment.Append.
	serialized []byte

	// lastOpId is the OpId of the last replicate entry in the batch, used to
	// advance the log's latest-entry watermark. Zero for non-replicate
	// batches.
	lastOpId OpId

	readyCh chan struct{}
	err     error

	// queueWeight is the semaphore weight acquired for this batch by
	// batchQueue.put, released again by drainTo.
	queueWeight int64
}

// NewEntryBatch validates and constructs a batch in the initialized state.
// All entries must share kind; a KindFlushMarker batch must be a single
// zero-payload entry.
func NewEntryBatch(kind EntryKind, entries []Entry, cb CommitCallback) (*EntryBatch, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidArgument)
	}
	var lastOpId OpId
	for i := range entries {
		if err := entries[i].validate(kind); err != nil {
			return nil, err
		}
		if kind == KindReplicate {
			if !lastOpId.IsZero() && !lastOpId.Less(entries[i].OpId) {
				return nil, fmt.Errorf("%w: replicate entries not strictly increasing", ErrInvalidArgument)
			}
			lastOpId = entries[i].OpId
		}
	}
	if kind == KindFlushMarker && len(entries) != 1 {
		return nil, fmt.Errorf("%w: flush-marker batch must contain exactly one entry", ErrInvalidArgument)
	}
	return &EntryBatch{
		Kind:     kind,
		Entries:  entries,
		callback: cb,
		state:    batchInitialized,
		lastOpId: lastOpId,
		readyCh:  make(chan struct{}),
	}, nil
}

// markReserved transitions initialized->reserved, called by Reserve once
// the batch has been admitted to the Entry Batch Queue.
func (b *EntryBatch) markReserved() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != batchInitialized {
		panic("wal: EntryBatch reserved twice")
	}
	b.state = batchReserved
}

// setSerialized transitions reserved->serialized, storing the batch's raw
// serialized encoding.
func (b *EntryBatch) setSerialized(framed []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != batchReserved {
		panic("wal: EntryBatch serialized out of order")
	}
	b.serialized = framed
	b.state = batchSerialized
}

// markReady transitions serialized->ready, called by AsyncAppend once the
// producer has finished serializing. Closing readyCh releases the Appender,
// which blocks in Wait on each drained batch until it is ready.
func (b *EntryBatch) markReady() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != batchSerialized {
		panic("wal: EntryBatch marked ready out of order")
	}
	b.state = batchReady
	close(b.readyCh)
}

// finish transitions ready->{appended-ok,append-failed} and fires the
// callback. Safe to call from the Appender goroutine only.
func (b *EntryBatch) finish(err error) {
	b.mu.Lock()
	if b.state != batchReady {
		b.mu.Unlock()
		panic("wal: EntryBatch finished out of order")
	}
	if err == nil {
		b.state = batchAppendedOK
	} else {
		b.state = batchAppendFailed
	}
	b.err = err
	b.mu.Unlock()

	if b.callback != nil {
		b.callback(err)
	}
}

// Wait blocks until the batch has reached the ready state, i.e. its
// producer has serialized it and called markReady. Used by the Appender
// before it writes each drained batch.
func (b *EntryBatch) Wait() {
	<-b.readyCh
}

func (b *EntryBatch) approxSize() int {
	n := 0
	for _, e := range b.Entries {
		n += len(e.Payload) + 32 // fixed overhead: kind, opid, length, crc
	}
	return n
}
