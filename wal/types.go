package wal

import "fmt"

// EntryKind tags the member entries of a batch (spec §3: "a small
// enumeration of entry kinds"). All entries within one batch share a single
// kind (spec §3 batch invariant).
type EntryKind uint8

const (
	// KindReplicate carries a Raft proposal: an OpId plus an opaque payload.
	KindReplicate EntryKind = iota + 1
	// KindCommit carries a decision about a previously logged replicate,
	// referenced by its OpId.
	KindCommit
	// KindFlushMarker is a zero-payload sentinel that traverses the pipeline
	// to observe drainage (spec §4.9 WaitUntilAllFlushed) but is never
	// written to disk.
	KindFlushMarker
)

func (k EntryKind) String() string {
	switch k {
	case KindReplicate:
		return "replicate"
	case KindCommit:
		return "commit"
	case KindFlushMarker:
		return "flush-marker"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// OpId identifies a single Raft operation on a replica: (term, index). Index
// increases strictly monotonically within a term on a given replica's log
// (spec §3).
type OpId struct {
	Term  uint64
	Index uint64
}

// Less reports whether id precedes other in (term, index) order.
func (id OpId) Less(other OpId) bool {
	if id.Term != other.Term {
		return id.Term < other.Term
	}
	return id.Index < other.Index
}

func (id OpId) IsZero() bool {
	return id.Term == 0 && id.Index == 0
}

func (id OpId) String() string {
	return fmt.Sprintf("(term=%d,index=%d)", id.Term, id.Index)
}

// Entry is one opaque, tagged payload inside a batch (spec §3).
type Entry struct {
	Kind EntryKind

	// OpId is set for KindReplicate entries only.
	OpId OpId
	// CommitOf is set for KindCommit entries only: the OpId of the
	// replicate this commit decides.
	CommitOf OpId

	// Payload is the opaque entry body. Nil/empty for KindFlushMarker.
	Payload []byte
}

func (e Entry) validate(batchKind EntryKind) error {
	if e.Kind != batchKind {
		return fmt.Errorf("%w: entry kind %s disagrees with batch kind %s", ErrInvalidArgument, e.Kind, batchKind)
	}
	if e.Kind == KindFlushMarker && len(e.Payload) != 0 {
		return fmt.Errorf("%w: flush-marker entry carries a payload", ErrInvalidArgument)
	}
	return nil
}
