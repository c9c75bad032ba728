package sys

import "errors"

// ErrPreallocNotSupported is returned when the underlying file or filesystem
// does not support preallocation. Callers (the Segment Allocator, spec §4.5)
// treat this as non-fatal: the segment is still created, just not pre-sized.
var ErrPreallocNotSupported = errors.New("sys: preallocation not supported")
