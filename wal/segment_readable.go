package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/nexuscore/tabletwal/sys"
)

func parseSegmentFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, segmentFilePrefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, segmentFilePrefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ReadableSegment provides random and sequential access over a segment file
// that may still be actively written (spec §4.3). Concurrent readers share
// one ReadableSegment; a mutex guards the mutable last-readable-offset used
// while the segment is still the active one.
type ReadableSegment struct {
	file       sys.FileHandle
	path       string
	header     SegmentHeader
	headerSize int64

	mu                 sync.RWMutex
	footer             *SegmentFooter
	footerOffset       int64 // offset of the footer bytes, valid when footer != nil
	lastReadableOffset int64 // exclusive upper bound for scans/reads while active
}

// OpenReadableSegment opens path read-only and parses its header. The
// footer, if present, is parsed as well; its absence marks the segment
// unclosed (still active, or the process died mid-write).
func OpenReadableSegment(path string) (*ReadableSegment, error) {
	file, err := sys.OpenFile(path, os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open segment %s: %w", path, err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("wal: stat segment %s: %w", path, err)
	}
	size := stat.Size()

	headBuf := make([]byte, size)
	if _, err := io.ReadFull(file, headBuf); err != nil {
		file.Close()
		return nil, fmt.Errorf("wal: read segment %s: %w", path, err)
	}
	header, headerSize, err := decodeHeader(headBuf)
	if err != nil {
		file.Close()
		return nil, err
	}

	seg := &ReadableSegment{
		file:               file,
		path:               path,
		header:             header,
		headerSize:         int64(headerSize),
		lastReadableOffset: size,
	}

	if footer, footerOff, ok := tryParseFooter(headBuf); ok {
		seg.footer = &footer
		seg.footerOffset = int64(footerOff)
	}
	return seg, nil
}

// tryParseFooter scans backward from the tail of buf looking for a footer
// whose declared length lands exactly at buf's end. A segment with no
// footer (or a torn one) reports ok=false.
func tryParseFooter(buf []byte) (SegmentFooter, int, bool) {
	const minFooterLen = len(footerMagic) + 4
	if len(buf) < minFooterLen {
		return SegmentFooter{}, 0, false
	}
	// The footer, if present, immediately precedes EOF; find its start by
	// trusting the fixed encodeFooter layout (magic + 4-byte length + body)
	// and confirming the body ends exactly at len(buf).
	for start := len(buf) - minFooterLen; start >= 0; start-- {
		if string(buf[start:start+len(footerMagic)]) != footerMagic {
			continue
		}
		f, end, err := decodeFooter(buf[start:])
		if err != nil {
			continue
		}
		if start+end == len(buf) {
			return f, start, true
		}
	}
	return SegmentFooter{}, 0, false
}

func (r *ReadableSegment) Path() string { return r.path }

func (r *ReadableSegment) SequenceNumber() uint64 { return r.header.SequenceNumber }

func (r *ReadableSegment) Header() SegmentHeader { return r.header }

// HasFooter reports whether the segment closed cleanly.
func (r *ReadableSegment) HasFooter() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.footer != nil
}

// Footer returns the parsed footer and true, or false if the segment is
// unclosed.
func (r *ReadableSegment) Footer() (SegmentFooter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.footer == nil {
		return SegmentFooter{}, false
	}
	return *r.footer, true
}

// SetFooter installs a footer recovered in memory by scan recovery for a
// segment that had none on disk (spec §4.10 crash-mid-append handling).
func (r *ReadableSegment) SetFooter(f SegmentFooter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.footer = &f
}

// UpdateLastReadableOffset propagates the active segment's written offset
// so concurrent scans stop there. The Appender calls it right after each
// append, so bytes below the bound may still sit in the writer's buffer or
// be awaiting the group fsync; a scan that reaches them stops with
// ErrCorruption.
func (r *ReadableSegment) UpdateLastReadableOffset(n int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.lastReadableOffset {
		r.lastReadableOffset = n
	}
}

func (r *ReadableSegment) readableBound() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.footer != nil {
		return r.footerOffset
	}
	return r.lastReadableOffset
}

// ScanEntries decodes entry batches sequentially starting at fromOffset
// (relative to the start of the file, must be >= header size), invoking cb
// for each. It stops at EOF, at the last-readable-offset, or at the first
// CRC failure, in which case it returns ErrCorruption wrapping the last
// good offset reached; the caller treats that as the recovered end of a
// torn write.
func (r *ReadableSegment) ScanEntries(fromOffset int64, cb func(offset int64, entries []Entry) error) (lastGoodOffset int64, err error) {
	bound := r.readableBound()
	if fromOffset < r.headerSize {
		fromOffset = r.headerSize
	}
	lastGoodOffset = fromOffset

	buf := make([]byte, bound)
	if _, err := r.file.ReadAt(buf, 0); err != nil && err != io.EOF {
		return lastGoodOffset, fmt.Errorf("wal: scan read %s: %w", r.path, err)
	}

	off := fromOffset
	for off < bound {
		raw, consumed, perr := parseRecord(r.header.CompressionCodec, buf[off:bound])
		if perr != nil {
			return off, fmt.Errorf("%w: scan stopped at offset %d in %s", ErrCorruption, off, r.path)
		}
		entries, derr := deserializeBatch(raw)
		if derr != nil {
			return off, derr
		}
		if err := cb(off, entries); err != nil {
			return off, err
		}
		off += int64(consumed)
		lastGoodOffset = off
	}
	return lastGoodOffset, nil
}

// ReadAt performs a random-access read of the single batch record starting
// exactly at offset, as required by the Log Index.
func (r *ReadableSegment) ReadAt(offset int64) ([]Entry, error) {
	bound := r.readableBound()
	if offset < r.headerSize || offset >= bound {
		return nil, fmt.Errorf("%w: offset %d out of range for %s", ErrInvalidArgument, offset, r.path)
	}
	head := make([]byte, recordFramingOverhead)
	if _, err := r.file.ReadAt(head, offset); err != nil {
		return nil, fmt.Errorf("wal: read-at framing %s: %w", r.path, err)
	}
	payloadLen := int(binary.LittleEndian.Uint32(head[0:4]))
	full := make([]byte, recordFramingOverhead+payloadLen)
	if _, err := r.file.ReadAt(full, offset); err != nil {
		return nil, fmt.Errorf("wal: read-at record %s: %w", r.path, err)
	}
	raw, _, err := parseRecord(r.header.CompressionCodec, full)
	if err != nil {
		return nil, err
	}
	return deserializeBatch(raw)
}

func (r *ReadableSegment) Close() error {
	return r.file.Close()
}
