package wal

import (
	"context"
	"expvar"
	"log/slog"
	"sync"
	"time"

	"github.com/caio/go-tdigest/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// segmentTarget is the destination the Appender writes into: the active
// Writable Segment plus the collaborators it must notify as bytes land.
// The Log Facade owns rollover and hands the Appender a fresh target
// whenever it changes.
type segmentTarget struct {
	writable *WritableSegment
	readable *ReadableSegment // the placeholder ReadableSegment tracking the same active file
	index    *LogIndex
}

// Appender is the dedicated goroutine that drains the Entry Batch Queue,
// writes batches into the active segment, updates the Log Index, performs
// grouped fsync, and fires callbacks (spec §4.7). Grounded on the
// drain-then-write-then-sync-then-notify shape of the teacher's
// wal/committer.go commit(), generalized from a single mutex-guarded
// active-segment write to the spec's explicit batch-state machine and
// unhealthy-segment tracking.
type Appender struct {
	queue *batchQueue

	logger *slog.Logger
	tracer trace.Tracer
	digest *tdigest.TDigest // fsync latency quantiles, optional

	rollOver    func(nextBatchBytes int) (*segmentTarget, error)
	onUnhealthy func()

	batchesAppended *expvar.Int
	bytesAppended   *expvar.Int

	mu               sync.Mutex
	target           *segmentTarget
	consecutiveFails int

	wg   sync.WaitGroup
	done chan struct{}
}

// NewAppender constructs an Appender bound to queue and an initial target.
// rollOver is called by the Appender itself when the active segment would
// overflow; onUnhealthy is invoked once the segment has failed to append
// twice in a row (spec §4.10), so the facade can force a roll at the next
// Reserve. tracer defaults to a package-named tracer when nil; batchesAppended
// and bytesAppended are optional expvar counters (spec §1 metrics interface).
func NewAppender(queue *batchQueue, target *segmentTarget, rollOver func(int) (*segmentTarget, error), onUnhealthy func(), logger *slog.Logger, tracer trace.Tracer, digest *tdigest.TDigest, batchesAppended, bytesAppended *expvar.Int) *Appender {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer("tabletwal/wal")
	}
	a := &Appender{
		queue:           queue,
		logger:          logger,
		tracer:          tracer,
		digest:          digest,
		rollOver:        rollOver,
		onUnhealthy:     onUnhealthy,
		batchesAppended: batchesAppended,
		bytesAppended:   bytesAppended,
		target:          target,
		done:            make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Appender) run() {
	defer a.wg.Done()
	for {
		batches, ok := a.queue.drainTo()
		if len(batches) > 0 {
			a.processGroup(batches)
		}
		if !ok {
			close(a.done)
			return
		}
	}
}

func (a *Appender) processGroup(batches []*EntryBatch) {
	ctx, span := a.tracer.Start(context.Background(), "wal.appender.group",
		trace.WithAttributes(attribute.Int("wal.group_size", len(batches))))
	defer span.End()
	_ = ctx

	needsSync := false
	appended := make([]*EntryBatch, 0, len(batches))
	var markers []*EntryBatch

	for _, b := range batches {
		b.Wait() // block until reserved+serialized+marked ready

		if b.Kind == KindFlushMarker {
			markers = append(markers, b)
			continue
		}

		if err := a.maybeRoll(len(b.serialized)); err != nil {
			b.finish(err)
			continue
		}
		a.mu.Lock()
		target := a.target
		a.mu.Unlock()

		offset, err := target.writable.Append(b)
		if err != nil {
			a.recordFailure(err)
			b.finish(err)
			continue
		}
		a.recordSuccess()
		if a.batchesAppended != nil {
			a.batchesAppended.Add(1)
		}
		if a.bytesAppended != nil {
			a.bytesAppended.Add(int64(len(b.serialized)))
		}
		target.readable.UpdateLastReadableOffset(target.writable.Size())

		if b.Kind == KindReplicate {
			for _, e := range b.Entries {
				if putErr := target.index.Put(e.OpId.Index, target.writable.SequenceNumber(), offset); putErr != nil {
					a.logger.Error("wal: index put failed", "err", putErr)
				}
			}
		}
		if b.Kind != KindCommit {
			needsSync = true
		}
		appended = append(appended, b)
	}

	var syncErr error
	if needsSync {
		start := time.Now()
		a.mu.Lock()
		target := a.target
		a.mu.Unlock()
		syncErr = target.writable.Sync()
		if a.digest != nil {
			_ = a.digest.AddWeighted(float64(time.Since(start).Microseconds()), 1)
		}
	}

	for _, b := range appended {
		b.finish(syncErr)
	}
	// Flush-markers complete only after every batch drained with them has
	// had its callback fired.
	for _, m := range markers {
		m.finish(nil)
	}
}

// maybeRoll asks the facade's roll-over callback whether appending
// nextBatchBytes plus framing would overflow the active segment (spec §4.9
// roll-over trigger) and, if so, to perform the roll. The callback always
// returns the target the Appender should use next, rolled or not.
func (a *Appender) maybeRoll(nextBatchBytes int) error {
	newTarget, err := a.rollOver(nextBatchBytes)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.target = newTarget
	a.mu.Unlock()
	return nil
}

func (a *Appender) recordFailure(err error) {
	a.mu.Lock()
	a.consecutiveFails++
	unhealthy := a.consecutiveFails >= 2
	a.mu.Unlock()
	if unhealthy && a.onUnhealthy != nil {
		a.onUnhealthy()
	}
}

func (a *Appender) recordSuccess() {
	a.mu.Lock()
	a.consecutiveFails = 0
	a.mu.Unlock()
}

// SetTarget installs a new active segment target, called by the facade
// after a synchronous roll-over outside the Appender's own maybeRoll path
// (e.g. AllocateSegmentAndRollOver).
func (a *Appender) SetTarget(t *segmentTarget) {
	a.mu.Lock()
	a.target = t
	a.consecutiveFails = 0
	a.mu.Unlock()
}

// Join blocks until the Appender has drained a shut-down queue and exited.
func (a *Appender) Join() {
	a.wg.Wait()
}
