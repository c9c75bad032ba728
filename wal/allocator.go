package wal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/nexuscore/tabletwal/sys"
)

type allocationState uint8

const (
	allocNotStarted allocationState = iota
	allocInProgress
	allocFinished
)

// AllocationStatus is the future-like result of one AsyncAllocate task,
// polled by roll-over (spec §4.5).
type AllocationStatus struct {
	done chan struct{}
	path string
	err  error
}

// Wait blocks until the allocation finishes and returns its outcome.
func (s *AllocationStatus) Wait() (path string, err error) {
	<-s.done
	return s.path, s.err
}

func (s *AllocationStatus) finish(path string, err error) {
	s.path = path
	s.err = err
	close(s.done)
}

// SegmentAllocator is a single-worker background executor that
// preallocates the next segment's temp file so roll-over is cheap (spec
// §4.5). Modeled on the trigger-channel-plus-worker-goroutine shape of the
// teacher's CompactionManager (engine2/compaction_manager.go), simplified
// to the WAL's one-task-at-a-time contract.
type SegmentAllocator struct {
	dir              string
	maxSegmentSize   int64
	preallocate      bool
	asyncPreallocate bool
	reservedBytes    int64
	logger           *slog.Logger

	mu     sync.Mutex
	state  allocationState
	status *AllocationStatus

	requestCh chan struct{}
	shutdown  chan struct{}
	wg        sync.WaitGroup
}

// NewSegmentAllocator constructs an allocator. When asyncPreallocate is true,
// AsyncAllocate's status finishes as soon as the temp file exists and passes
// the free-space check; extending it to maxSegmentSize continues in the
// background instead of gating roll-over (spec §6 `async_preallocate_segments`).
func NewSegmentAllocator(dir string, maxSegmentSize int64, preallocate bool, asyncPreallocate bool, reservedBytes int64, logger *slog.Logger) *SegmentAllocator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &SegmentAllocator{
		dir:              dir,
		maxSegmentSize:   maxSegmentSize,
		preallocate:      preallocate,
		asyncPreallocate: asyncPreallocate,
		reservedBytes:    reservedBytes,
		logger:           logger,
		state:            allocNotStarted,
		requestCh:        make(chan struct{}, 1),
		shutdown:         make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *SegmentAllocator) run() {
	defer a.wg.Done()
	for {
		select {
		case <-a.shutdown:
			return
		case <-a.requestCh:
			a.mu.Lock()
			status := a.status
			a.mu.Unlock()
			path, err := a.allocateOne()
			a.mu.Lock()
			a.state = allocFinished
			a.mu.Unlock()
			status.finish(path, err)
		}
	}
}

func (a *SegmentAllocator) allocateOne() (string, error) {
	tmpName := fmt.Sprintf(".tmp.newsegment-%s", uuid.NewString())
	path := filepath.Join(a.dir, tmpName)

	file, err := sys.Create(path)
	if err != nil {
		return "", fmt.Errorf("wal: allocate temp segment %s: %w", path, err)
	}
	defer file.Close()

	if a.preallocate {
		free, err := sys.FreeBytes(a.dir)
		if err != nil {
			return "", fmt.Errorf("wal: check free space for %s: %w", a.dir, err)
		}
		needed := uint64(a.maxSegmentSize) + uint64(a.reservedBytes)
		if free < needed {
			os.Remove(path)
			return "", fmt.Errorf("wal: insufficient free space in %s: have %d, need %d", a.dir, free, needed)
		}
		if a.asyncPreallocate {
			a.extendInBackground(path)
		} else if err := sys.Preallocate(file, a.maxSegmentSize); err != nil {
			a.logger.Warn("wal: segment preallocation unsupported, continuing without it", "path", path, "err", err)
		}
	}

	a.logger.Debug("wal: allocated segment temp file", "path", path)
	return path, nil
}

// extendInBackground preallocates path to maxSegmentSize off the allocator's
// single worker goroutine, so AsyncAllocate's status can finish without
// waiting on it. Best-effort: roll-over already proceeds with an
// un-preallocated file if this loses the race or fails.
func (a *SegmentAllocator) extendInBackground(path string) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		f, err := sys.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			a.logger.Warn("wal: reopen temp segment for background preallocation failed", "path", path, "err", err)
			return
		}
		defer f.Close()
		if err := sys.Preallocate(f, a.maxSegmentSize); err != nil {
			a.logger.Warn("wal: segment preallocation unsupported, continuing without it", "path", path, "err", err)
		}
	}()
}

// AsyncAllocate submits a new allocation task if the allocator is
// not-started, returning the status future to poll. Calling it while
// in-progress or finished returns the existing status without submitting
// duplicate work.
func (a *SegmentAllocator) AsyncAllocate() *AllocationStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != allocNotStarted {
		return a.status
	}
	a.state = allocInProgress
	a.status = &AllocationStatus{done: make(chan struct{})}
	select {
	case a.requestCh <- struct{}{}:
	default:
	}
	return a.status
}

// State reports the current allocation state, used by roll-over to decide
// whether to submit, block, or consume (spec §4.9 step 1-3).
func (a *SegmentAllocator) State() allocationState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Reset returns the allocator to not-started after roll-over consumes the
// allocated file.
func (a *SegmentAllocator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = allocNotStarted
	a.status = nil
}

func (a *SegmentAllocator) Close() {
	close(a.shutdown)
	a.wg.Wait()
}
