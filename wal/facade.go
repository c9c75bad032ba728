package wal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

type facadeState uint8

const (
	facadeInitialized facadeState = iota
	facadeWriting
	facadeClosed
)

// Log is the Log Facade (spec §4.9): the public entry point tying together
// the Entry Batch Queue, Appender, Segment Allocator, Log Reader, and Log
// Index behind the state machine initialized -> writing -> closed.
type Log struct {
	dir      string
	tabletID []byte
	opts     Options

	stateMu sync.RWMutex
	state   facadeState

	schemaMu sync.Mutex
	schema   []byte

	nextSequence atomic.Uint64

	queue     *batchQueue
	appender  *Appender
	allocator *SegmentAllocator
	reader    *ReaderRegistry
	index     *LogIndex

	activeMu     sync.Mutex
	active       *segmentTarget
	segUnhealthy atomic.Bool

	lastOpIDMu sync.Mutex
	lastOpID   OpId
}

// Open loads pre-existing segments, kicks the Segment Allocator, allocates
// the first active segment, starts the Appender, and transitions to
// writing (spec §4.9).
func Open(tabletID []byte, schema []byte, opts Options) (*Log, error) {
	if err := opts.setDefaults(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create dir %s: %w", opts.Dir, err)
	}

	l := &Log{
		dir:      opts.Dir,
		tabletID: tabletID,
		schema:   schema,
		opts:     opts,
		state:    facadeInitialized,
		reader:   NewReaderRegistry(),
	}

	if err := l.loadExistingSegments(); err != nil {
		return nil, err
	}

	index, err := OpenLogIndex(opts.Dir)
	if err != nil {
		return nil, err
	}
	l.index = index

	l.allocator = NewSegmentAllocator(opts.Dir, l.opts.maxSegmentSizeBytes(), opts.PreallocateSegments, opts.AsyncPreallocateSegments, opts.FSWalDirReservedBytes, opts.Logger)
	l.queue = newBatchQueue(opts.GroupCommitQueueSizeBytes)

	target, err := l.allocateActiveSegment()
	if err != nil {
		l.allocator.Close()
		return nil, err
	}
	l.active = target

	l.appender = NewAppender(l.queue, target, l.rollOverForAppender, l.markUnhealthy, opts.Logger, opts.Tracer, opts.FsyncLatencyDigest, opts.BatchesAppended, opts.BytesAppended)

	l.stateMu.Lock()
	l.state = facadeWriting
	l.stateMu.Unlock()

	l.allocator.AsyncAllocate() // get a head start on the segment after this one

	opts.Logger.Info("wal: opened", "dir", opts.Dir, "segments", l.reader.Len())
	return l, nil
}

// loadExistingSegments scans opts.Dir for segment files named by the
// segmentFilePrefix and registers them, ascending by sequence number, and
// primes nextSequence past the highest one found.
func (l *Log) loadExistingSegments() error {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("wal: read dir %s: %w", l.dir, err)
	}
	var sequences []uint64
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		seq, ok := parseSegmentFileName(ent.Name())
		if !ok {
			continue
		}
		sequences = append(sequences, seq)
	}
	sort.Slice(sequences, func(i, j int) bool { return sequences[i] < sequences[j] })

	for _, seq := range sequences {
		path := segmentPath(l.dir, seq)
		seg, err := OpenReadableSegment(path)
		if err != nil {
			return err
		}
		if got := seg.Header().TabletID; l.tabletID != nil && !bytes.Equal(got, l.tabletID) {
			return fmt.Errorf("wal: segment %s belongs to tablet %q, not %q", path, got, l.tabletID)
		}
		if !seg.HasFooter() {
			l.opts.Logger.Warn("wal: recovering unfooted segment", "path", path)
			if err := l.recoverUnfootedSegment(seg); err != nil {
				return err
			}
		}
		l.reader.AppendEmptySegment(seg)
		if seq > l.nextSequence.Load() {
			l.nextSequence.Store(seq)
		}
	}
	return nil
}

// recoverUnfootedSegment reconstructs an in-memory footer for a segment
// that died mid-write, via scan recovery (spec §4.10).
func (l *Log) recoverUnfootedSegment(seg *ReadableSegment) error {
	var numEntries uint64
	var hasReplicates bool
	var minIdx, maxIdx uint64

	_, err := seg.ScanEntries(0, func(offset int64, entries []Entry) error {
		numEntries += uint64(len(entries))
		for _, e := range entries {
			if e.Kind != KindReplicate {
				continue
			}
			if !hasReplicates {
				hasReplicates = true
				minIdx, maxIdx = e.OpId.Index, e.OpId.Index
				continue
			}
			if e.OpId.Index < minIdx {
				minIdx = e.OpId.Index
			}
			if e.OpId.Index > maxIdx {
				maxIdx = e.OpId.Index
			}
		}
		return nil
	})
	// ErrCorruption from ScanEntries simply marks where the good data ends;
	// that is expected for an unfooted (torn) segment, not a hard failure.
	if err != nil && !isCorruption(err) {
		return err
	}
	seg.SetFooter(SegmentFooter{
		NumEntries:        numEntries,
		HasReplicates:     hasReplicates,
		MinReplicateIndex: minIdx,
		MaxReplicateIndex: maxIdx,
	})
	return nil
}

func isCorruption(err error) bool {
	return errors.Is(err, ErrCorruption)
}

// allocateActiveSegment synchronously produces the first active segment at
// Open: consumes a fresh allocation, renames it, and constructs the
// Writable/Readable pair.
func (l *Log) allocateActiveSegment() (*segmentTarget, error) {
	status := l.allocator.AsyncAllocate()
	tmpPath, err := status.Wait()
	if err != nil {
		return nil, err
	}
	l.allocator.Reset()

	seq := l.nextSequence.Add(1)
	path, err := Rename(tmpPath, l.dir, seq)
	if err != nil {
		return nil, err
	}

	codec, err := l.opts.codec()
	if err != nil {
		return nil, err
	}
	l.schemaMu.Lock()
	header := SegmentHeader{
		SequenceNumber:   seq,
		TabletID:         l.tabletID,
		Schema:           l.schema,
		SchemaVersion:    1,
		CompressionCodec: codec,
	}
	l.schemaMu.Unlock()

	writable, err := CreateWritableSegment(path, header)
	if err != nil {
		return nil, err
	}
	readable, err := OpenReadableSegment(path)
	if err != nil {
		writable.WriteFooterAndClose(false)
		return nil, err
	}
	l.reader.AppendEmptySegment(readable)

	return &segmentTarget{writable: writable, readable: readable, index: l.index}, nil
}

func segmentPath(dir string, seq uint64) string {
	return filepath.Join(dir, segmentFileName(seq))
}

// rollOverForAppender is the Appender's roll-over callback (spec §4.9): it
// decides whether the active segment would overflow and, if so, performs
// the roll, always returning the target to use next.
func (l *Log) rollOverForAppender(nextBatchBytes int) (*segmentTarget, error) {
	l.activeMu.Lock()
	current := l.active
	willOverflow := current.writable.Size()+int64(nextBatchBytes)+4 > l.opts.maxSegmentSizeBytes()
	unhealthy := l.segUnhealthy.Load()
	l.activeMu.Unlock()

	if int64(nextBatchBytes)+4 > l.opts.maxSegmentSizeBytes() {
		return nil, ErrRecordTooLarge
	}
	if !willOverflow && !unhealthy {
		return current, nil
	}

	next, err := l.performRoll(current)
	if err != nil {
		return nil, err
	}
	l.segUnhealthy.Store(false)
	return next, nil
}

// performRoll implements spec §4.9's roll-over procedure: request
// allocation if not-started, then block on its status regardless of
// whether it was already in-progress or finished.
func (l *Log) performRoll(current *segmentTarget) (*segmentTarget, error) {
	status := l.allocator.AsyncAllocate()
	tmpPath, err := status.Wait()
	if err != nil {
		return nil, fmt.Errorf("wal: segment allocation failed during roll-over: %w", err)
	}
	l.allocator.Reset()

	if err := current.writable.Sync(); err != nil {
		return nil, err
	}
	footer, err := current.writable.WriteFooterAndClose(l.opts.ForceFsyncAll)
	if err != nil {
		return nil, err
	}

	seq := l.nextSequence.Add(1)
	newPath, err := Rename(tmpPath, l.dir, seq)
	if err != nil {
		return nil, err
	}

	closedReadable, err := OpenReadableSegment(current.readable.Path())
	if err != nil {
		return nil, err
	}
	closedReadable.SetFooter(footer)
	l.reader.ReplaceLast(closedReadable)

	codec, err := l.opts.codec()
	if err != nil {
		return nil, err
	}
	l.schemaMu.Lock()
	header := SegmentHeader{SequenceNumber: seq, TabletID: l.tabletID, Schema: l.schema, SchemaVersion: 1, CompressionCodec: codec}
	l.schemaMu.Unlock()

	writable, err := CreateWritableSegment(newPath, header)
	if err != nil {
		return nil, err
	}
	readable, err := OpenReadableSegment(newPath)
	if err != nil {
		return nil, err
	}
	l.reader.AppendEmptySegment(readable)

	next := &segmentTarget{writable: writable, readable: readable, index: l.index}
	l.activeMu.Lock()
	l.active = next
	l.activeMu.Unlock()

	if l.opts.SegmentsRolled != nil {
		l.opts.SegmentsRolled.Add(1)
	}
	l.allocator.AsyncAllocate() // head start on the following roll

	return next, nil
}

func (l *Log) markUnhealthy() {
	l.segUnhealthy.Store(true)
}

func (l *Log) checkWriting() error {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	if l.state != facadeWriting {
		return ErrNotWriting
	}
	return nil
}

// Reserve validates state, constructs a batch, and admits it to the queue,
// blocking indefinitely for capacity. It returns a handle that AsyncAppend
// later serializes and marks ready. Equivalent to ReserveContext with a
// context that never expires.
func (l *Log) Reserve(kind EntryKind, entries []Entry, cb CommitCallback) (*EntryBatch, error) {
	return l.ReserveContext(context.Background(), kind, entries, cb)
}

// ReserveContext is Reserve with a caller-supplied deadline on queue
// admission: if ctx expires before capacity is granted, it returns
// ErrServiceUnavailable (spec §7 ServiceUnavailable, "wrap around Reserve").
func (l *Log) ReserveContext(ctx context.Context, kind EntryKind, entries []Entry, cb CommitCallback) (*EntryBatch, error) {
	if err := l.checkWriting(); err != nil {
		return nil, err
	}
	batch, err := NewEntryBatch(kind, entries, cb)
	if err != nil {
		return nil, err
	}
	if err := l.queue.put(ctx, batch); err != nil {
		if errors.Is(err, ErrShuttingDown) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	batch.markReserved()

	if kind == KindReplicate {
		l.lastOpIDMu.Lock()
		if l.lastOpID.Less(batch.lastOpId) {
			l.lastOpID = batch.lastOpId
		}
		l.lastOpIDMu.Unlock()
	}
	return batch, nil
}

// AsyncAppend serializes batch outside any log-global lock and marks it
// ready. The batch's callback is the one supplied to Reserve.
func (l *Log) AsyncAppend(batch *EntryBatch) {
	if batch.Kind != KindFlushMarker {
		batch.setSerialized(serializeBatch(batch))
	} else {
		batch.setSerialized(nil)
	}
	batch.markReady()
}

// AsyncAppendReplicates wraps replicate entries into one batch and performs
// Reserve+AsyncAppend.
func (l *Log) AsyncAppendReplicates(entries []Entry, cb CommitCallback) (*EntryBatch, error) {
	batch, err := l.Reserve(KindReplicate, entries, cb)
	if err != nil {
		return nil, err
	}
	l.AsyncAppend(batch)
	return batch, nil
}

// AsyncAppendCommit wraps a single commit entry into a batch and performs
// Reserve+AsyncAppend.
func (l *Log) AsyncAppendCommit(commitOf OpId, payload []byte, cb CommitCallback) (*EntryBatch, error) {
	entry := Entry{Kind: KindCommit, CommitOf: commitOf, Payload: payload}
	batch, err := l.Reserve(KindCommit, []Entry{entry}, cb)
	if err != nil {
		return nil, err
	}
	l.AsyncAppend(batch)
	return batch, nil
}

// WaitUntilAllFlushed enqueues a flush-marker batch and blocks until its
// callback fires, guaranteeing every batch queued ahead of it has been
// fully processed (spec §4.9).
func (l *Log) WaitUntilAllFlushed() error {
	var wg sync.WaitGroup
	wg.Add(1)
	var flushErr error
	entry := Entry{Kind: KindFlushMarker}
	batch, err := l.Reserve(KindFlushMarker, []Entry{entry}, func(err error) {
		flushErr = err
		wg.Done()
	})
	if err != nil {
		return err
	}
	l.AsyncAppend(batch)
	wg.Wait()
	return flushErr
}

// GetLatestEntryOpId returns the highest replicate OpId accepted by
// Reserve. Not the highest durable one (spec §5 ordering guarantee 5).
func (l *Log) GetLatestEntryOpId() OpId {
	l.lastOpIDMu.Lock()
	defer l.lastOpIDMu.Unlock()
	return l.lastOpID
}

// AllocateSegmentAndRollOver performs a synchronous roll used by
// administrative callers.
func (l *Log) AllocateSegmentAndRollOver() error {
	if err := l.checkWriting(); err != nil {
		return err
	}
	l.activeMu.Lock()
	current := l.active
	l.activeMu.Unlock()

	next, err := l.performRoll(current)
	if err != nil {
		return err
	}
	l.appender.SetTarget(next)
	return nil
}

// GC computes the deletable prefix (spec §4.9 GC prefix computation),
// trims the reader, deletes files, and GCs the Log Index.
func (l *Log) GC(forDurability, forPeers uint64) (int, error) {
	segments := l.reader.Snapshot()
	if len(segments) == 0 {
		return 0, nil
	}
	// The active (last) segment is never a GC candidate.
	closed := segments[:len(segments)-1]

	k := 0
	remaining := len(segments)
	for _, seg := range closed {
		footer, has := seg.Footer()
		if !has {
			break // unfooted segment stops the scan
		}
		if remaining-1 < l.opts.MinSegmentsToRetain {
			break
		}
		durabilitySafe := !footer.HasReplicates || footer.MaxReplicateIndex < forDurability
		if !durabilitySafe {
			break
		}
		// A segment still needed by a peer may still be deleted if
		// retaining everything up to now already exceeds the ceiling
		// (spec §4.9 GC prefix computation, max_segments_to_retain).
		peersSafe := !footer.HasReplicates || footer.MaxReplicateIndex < forPeers || remaining > l.opts.MaxSegmentsToRetain
		if !peersSafe {
			break
		}
		k++
		remaining--
	}
	if k == 0 {
		return 0, nil
	}

	removed := l.reader.TrimThrough(k)
	for _, seg := range removed {
		if err := seg.Close(); err != nil {
			l.opts.Logger.Warn("wal: close removed segment", "path", seg.Path(), "err", err)
		}
		if err := os.Remove(seg.Path()); err != nil && !os.IsNotExist(err) {
			return k, fmt.Errorf("wal: delete segment %s: %w", seg.Path(), err)
		}
	}

	if minIdx, ok := l.reader.MinReplicateIndex(); ok {
		if _, err := l.index.GC(minIdx); err != nil {
			return k, err
		}
	}
	if l.opts.SegmentsGCed != nil {
		l.opts.SegmentsGCed.Add(int64(k))
	}
	return k, nil
}

// Close shuts the queue, joins the Appender, syncs and closes the active
// segment, closes reader and index. Idempotent.
func (l *Log) Close() error {
	l.stateMu.Lock()
	if l.state == facadeClosed {
		l.stateMu.Unlock()
		return nil
	}
	l.state = facadeClosed
	l.stateMu.Unlock()

	l.queue.shutdown()

	var g errgroup.Group
	g.Go(func() error {
		l.appender.Join()
		return nil
	})
	g.Go(func() error {
		l.allocator.Close()
		return nil
	})
	_ = g.Wait()

	l.activeMu.Lock()
	current := l.active
	l.activeMu.Unlock()

	if _, err := current.writable.WriteFooterAndClose(true); err != nil {
		return err
	}
	for _, seg := range l.reader.Snapshot() {
		if err := seg.Close(); err != nil {
			l.opts.Logger.Warn("wal: close segment reader", "path", seg.Path(), "err", err)
		}
	}
	return l.index.Close()
}
