package wal

import "errors"

// Error taxonomy, spec §7.
var (
	// ErrShuttingDown is returned by Reserve when the queue is shut down
	// while the call is in flight (the log is closing). Once the log is
	// closed, Reserve returns ErrNotWriting instead.
	ErrShuttingDown = errors.New("wal: shutting down")
	// ErrNotWriting is returned by any operation that requires the facade to
	// be in the writing state (spec §4.9 state table).
	ErrNotWriting = errors.New("wal: log is not in writing state")
	// ErrCorruption marks a CRC or framing inconsistency found in a closed
	// segment. Never returned to a writer; only to readers.
	ErrCorruption = errors.New("wal: segment corruption detected")
	// ErrInvalidArgument marks a kind mismatch within a batch, or a
	// flush-marker batch carrying a payload.
	ErrInvalidArgument = errors.New("wal: invalid argument")
	// ErrRecordTooLarge is returned when a single batch cannot fit in an
	// empty segment even alone.
	ErrRecordTooLarge = errors.New("wal: record exceeds max segment size")
	// ErrServiceUnavailable is returned by ReserveContext when queue capacity
	// was not granted before the caller's deadline expired.
	ErrServiceUnavailable = errors.New("wal: queue capacity not granted within deadline")
)
