package wal

import "sync"

// ReaderRegistry is the Log Reader: a mutable, process-local registry of
// the readable segments for one tablet, sorted by sequence number (spec
// §4.8). snapshot() callers never block appenders; append/replace/trim take
// the exclusive lock.
type ReaderRegistry struct {
	mu       sync.RWMutex
	segments []*ReadableSegment // sorted ascending by sequence number
}

func NewReaderRegistry() *ReaderRegistry {
	return &ReaderRegistry{}
}

// AppendEmptySegment adds a new active Readable Segment at the tail.
func (r *ReaderRegistry) AppendEmptySegment(seg *ReadableSegment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segments = append(r.segments, seg)
}

// ReplaceLast swaps the tail segment, used when the active segment closes
// and a Readable Segment with the real footer replaces the placeholder.
func (r *ReaderRegistry) ReplaceLast(seg *ReadableSegment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.segments) == 0 {
		r.segments = append(r.segments, seg)
		return
	}
	r.segments[len(r.segments)-1] = seg
}

// Snapshot returns a stable ordered copy of the current segments.
func (r *ReaderRegistry) Snapshot() []*ReadableSegment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ReadableSegment, len(r.segments))
	copy(out, r.segments)
	return out
}

// TrimThrough removes the first n segments (used after GC deletes their
// files).
func (r *ReaderRegistry) TrimThrough(n int) []*ReadableSegment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > len(r.segments) {
		n = len(r.segments)
	}
	removed := r.segments[:n]
	remaining := make([]*ReadableSegment, len(r.segments)-n)
	copy(remaining, r.segments[n:])
	r.segments = remaining
	return removed
}

// MinReplicateIndex returns the minimum indexed replicate across all
// footed segments currently registered, used by GC to drive Log Index
// pruning. Reports ok=false if no segment has a footer with replicates.
func (r *ReaderRegistry) MinReplicateIndex() (index uint64, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, seg := range r.segments {
		footer, has := seg.Footer()
		if !has || !footer.HasReplicates {
			continue
		}
		return footer.MinReplicateIndex, true
	}
	return 0, false
}

func (r *ReaderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.segments)
}
