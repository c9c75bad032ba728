// Package wal implements the per-tablet write-ahead log: the append-only,
// durable operation log that sits beneath a Raft consensus replica. Every
// state-changing operation (replicated proposal or local commit decision) is
// persisted here before it takes effect; on bootstrap the log is read back to
// reconstruct in-memory state and replay un-applied operations.
//
// # Pipeline
//
// A producer calls Reserve with a batch of same-kind entries, then
// AsyncAppend to hand it to the Appender. The Appender drains the Entry
// Batch Queue in groups, writes each batch to the active segment, updates
// the Log Index for replicate entries, performs at most one grouped fsync
// per drained group, and fires each batch's callback. A background Segment
// Allocator preallocates the next segment so roll-over is cheap.
//
// # On-disk layout
//
// One WAL directory per tablet:
//
//	wal-0000000000000001            segment files, named by sequence number
//	.tmp.newsegment-<uuid>           segment being preallocated
//	index/                           Log Index chunks, named by starting index
//
// Each segment is a length-prefixed header, zero or more checksummed
// batch records, and an optional footer (wal/format.go). Absence of a footer
// means the process died mid-write; scan recovery (wal/segment_readable.go)
// recovers the last good offset.
//
// # Concurrency
//
// One Appender goroutine and one Allocator goroutine live for the lifetime
// of the log. Any number of producer goroutines call Reserve/AsyncAppend
// concurrently; any number of reader goroutines hold Log Reader snapshots.
// No lock is held across an I/O call from a producer goroutine.
package wal
