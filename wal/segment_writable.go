package wal

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nexuscore/tabletwal/sys"
)

// segmentFilePrefix and the 16-digit zero-padded sequence number form the
// on-disk segment name (spec §6).
const segmentFilePrefix = "wal-"

func segmentFileName(sequence uint64) string {
	return fmt.Sprintf("%s%016d", segmentFilePrefix, sequence)
}

// WritableSegment is the exclusive-owner append path for the active segment
// (spec §4.2). It is single-producer by contract: the Appender is its only
// caller, so it holds no internal mutex, matching the teacher's
// SegmentWriter (adapted from wal/segment.go).
type WritableSegment struct {
	file    sys.FileHandle
	path    string
	writer  *bufio.Writer
	header  SegmentHeader
	written int64 // bytes written since the header, i.e. size excluding header

	numEntries        uint64
	hasReplicates     bool
	minReplicateIndex uint64
	maxReplicateIndex uint64
}

// CreateWritableSegment materializes a new segment file at path (typically
// a preallocated temp file already renamed into place by roll-over) and
// writes its header exactly once, per the write-header(header) contract.
func CreateWritableSegment(path string, header SegmentHeader) (*WritableSegment, error) {
	file, err := sys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: create segment %s: %w", path, err)
	}
	// path is a fresh allocator temp file renamed into place (already empty
	// from O_TRUNC at creation); truncating here would free any
	// fallocate-reserved extents beyond EOF and silently defeat
	// preallocate_segments (spec §4.5, §6).
	encoded := encodeHeader(header)
	if _, err := file.Write(encoded); err != nil {
		file.Close()
		return nil, fmt.Errorf("wal: write segment header %s: %w", path, err)
	}
	return &WritableSegment{
		file:   file,
		path:   path,
		writer: bufio.NewWriter(file),
		header: header,
	}, nil
}

func (w *WritableSegment) Path() string { return w.path }

func (w *WritableSegment) SequenceNumber() uint64 { return w.header.SequenceNumber }

// Size is the current logical file size, header included.
func (w *WritableSegment) Size() int64 {
	return int64(len(encodeHeader(w.header))) + w.written
}

// Append writes one framed batch record and updates in-memory bookkeeping
// (last-written offset, footer accumulators). It never fsyncs (spec §4.2).
func (w *WritableSegment) Append(b *EntryBatch) (offset int64, err error) {
	rec, err := frameRecord(w.header.CompressionCodec, b.serialized)
	if err != nil {
		return 0, err
	}
	offset = w.Size()
	if _, err := w.writer.Write(rec); err != nil {
		return 0, fmt.Errorf("wal: append record to %s: %w", w.path, err)
	}
	w.written += int64(len(rec))

	w.numEntries += uint64(len(b.Entries))
	if b.Kind == KindReplicate {
		for _, e := range b.Entries {
			if !w.hasReplicates {
				w.hasReplicates = true
				w.minReplicateIndex = e.OpId.Index
				w.maxReplicateIndex = e.OpId.Index
				continue
			}
			if e.OpId.Index < w.minReplicateIndex {
				w.minReplicateIndex = e.OpId.Index
			}
			if e.OpId.Index > w.maxReplicateIndex {
				w.maxReplicateIndex = e.OpId.Index
			}
		}
	}
	return offset, nil
}

// Sync flushes the buffered writer and fsyncs the file's data.
func (w *WritableSegment) Sync() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("wal: flush segment %s: %w", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: fsync segment %s: %w", w.path, err)
	}
	return nil
}

// Preallocate extends the file to size bytes without a logical append,
// delegating to the platform-specific fallocate-style syscall.
func (w *WritableSegment) Preallocate(size int64) error {
	if err := sys.Preallocate(w.file, size); err != nil {
		return fmt.Errorf("wal: preallocate segment %s: %w", w.path, err)
	}
	return nil
}

// WriteFooterAndClose writes the footer built from the accumulated
// statistics, optionally syncs, and closes the descriptor.
func (w *WritableSegment) WriteFooterAndClose(sync bool) (SegmentFooter, error) {
	footer := SegmentFooter{
		NumEntries:           w.numEntries,
		HasReplicates:        w.hasReplicates,
		MinReplicateIndex:    w.minReplicateIndex,
		MaxReplicateIndex:    w.maxReplicateIndex,
		CloseTimestampMicros: uint64(time.Now().UnixMicro()),
	}
	if _, err := w.writer.Write(encodeFooter(footer)); err != nil {
		return SegmentFooter{}, fmt.Errorf("wal: write footer %s: %w", w.path, err)
	}
	if err := w.writer.Flush(); err != nil {
		return SegmentFooter{}, fmt.Errorf("wal: flush footer %s: %w", w.path, err)
	}
	if sync {
		if err := w.file.Sync(); err != nil {
			return SegmentFooter{}, fmt.Errorf("wal: fsync closing segment %s: %w", w.path, err)
		}
	}
	if err := w.file.Close(); err != nil {
		return SegmentFooter{}, fmt.Errorf("wal: close segment %s: %w", w.path, err)
	}
	return footer, nil
}

// Rename moves the segment to its final sequence-numbered name in dir, used
// after roll-over consumes a preallocated temp file.
func Rename(oldPath, dir string, sequence uint64) (string, error) {
	newPath := filepath.Join(dir, segmentFileName(sequence))
	if err := os.Rename(oldPath, newPath); err != nil {
		return "", fmt.Errorf("wal: rename %s to %s: %w", oldPath, newPath, err)
	}
	return newPath, nil
}
