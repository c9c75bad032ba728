package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// indexChunkStride is the fixed number of entries per on-disk index chunk
// (spec §4.4): chunk-id = index / stride, slot = index % stride.
const indexChunkStride = 8192

// indexLocation is the physical position of the batch that logged a given
// replicate index.
type indexLocation struct {
	SequenceNumber uint64
	Offset         int64
}

const indexLocationSize = 8 + 8 // sequence number + offset

func indexChunkFileName(startIndex uint64) string {
	return fmt.Sprintf("%020d", startIndex)
}

// indexChunk is one fixed-stride file covering the half-open Raft index
// range [startIndex, startIndex+indexChunkStride).
type indexChunk struct {
	startIndex uint64
	maxIndex   uint64 // highest index actually written, valid when count > 0
	count      int
	locations  [indexChunkStride]indexLocation
	present    [indexChunkStride]bool

	dirty bool
}

func newIndexChunk(startIndex uint64) *indexChunk {
	return &indexChunk{startIndex: startIndex}
}

func (c *indexChunk) put(index uint64, loc indexLocation) {
	slot := index - c.startIndex
	if !c.present[slot] {
		c.count++
	}
	c.present[slot] = true
	c.locations[slot] = loc
	if index > c.maxIndex || c.count == 1 {
		c.maxIndex = index
	}
	c.dirty = true
}

func (c *indexChunk) get(index uint64) (indexLocation, bool) {
	slot := index - c.startIndex
	if slot >= indexChunkStride || !c.present[slot] {
		return indexLocation{}, false
	}
	return c.locations[slot], true
}

func (c *indexChunk) encode() []byte {
	buf := make([]byte, indexChunkStride*(1+indexLocationSize))
	off := 0
	for i := 0; i < indexChunkStride; i++ {
		if c.present[i] {
			buf[off] = 1
			binary.LittleEndian.PutUint64(buf[off+1:], c.locations[i].SequenceNumber)
			binary.LittleEndian.PutUint64(buf[off+9:], uint64(c.locations[i].Offset))
		}
		off += 1 + indexLocationSize
	}
	return buf
}

func decodeIndexChunk(startIndex uint64, buf []byte) (*indexChunk, error) {
	want := indexChunkStride * (1 + indexLocationSize)
	if len(buf) != want {
		return nil, fmt.Errorf("%w: index chunk %d has size %d, want %d", ErrCorruption, startIndex, len(buf), want)
	}
	c := newIndexChunk(startIndex)
	off := 0
	for i := 0; i < indexChunkStride; i++ {
		if buf[off] == 1 {
			loc := indexLocation{
				SequenceNumber: binary.LittleEndian.Uint64(buf[off+1:]),
				Offset:         int64(binary.LittleEndian.Uint64(buf[off+9:])),
			}
			c.present[i] = true
			c.locations[i] = loc
			c.count++
			idx := startIndex + uint64(i)
			if idx > c.maxIndex || c.count == 1 {
				c.maxIndex = idx
			}
		}
		off += 1 + indexLocationSize
	}
	return c, nil
}

// LogIndex is the sparse, chunked, on-disk mapping from Raft index to
// (segment sequence number, byte offset) for replicate-kind entries only
// (spec §4.4). It is exclusively owned by the Log Facade.
type LogIndex struct {
	dir string

	mu     sync.RWMutex
	chunks map[uint64]*indexChunk // keyed by chunk start index
}

// OpenLogIndex loads all chunk files present in dir/index.
func OpenLogIndex(dir string) (*LogIndex, error) {
	idxDir := filepath.Join(dir, "index")
	if err := os.MkdirAll(idxDir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: create index dir %s: %w", idxDir, err)
	}
	entries, err := os.ReadDir(idxDir)
	if err != nil {
		return nil, fmt.Errorf("wal: read index dir %s: %w", idxDir, err)
	}

	li := &LogIndex{dir: idxDir, chunks: make(map[uint64]*indexChunk)}
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		var start uint64
		if _, err := fmt.Sscanf(ent.Name(), "%020d", &start); err != nil {
			continue
		}
		buf, err := os.ReadFile(filepath.Join(idxDir, ent.Name()))
		if err != nil {
			return nil, fmt.Errorf("wal: read index chunk %s: %w", ent.Name(), err)
		}
		chunk, err := decodeIndexChunk(start, buf)
		if err != nil {
			return nil, err
		}
		li.chunks[start] = chunk
	}
	return li, nil
}

func chunkStartFor(index uint64) uint64 {
	return (index / indexChunkStride) * indexChunkStride
}

// Put records the location of a replicate index. Called by the Appender
// after a successful append (spec §4.7).
func (li *LogIndex) Put(index uint64, seq uint64, offset int64) error {
	start := chunkStartFor(index)

	li.mu.Lock()
	chunk, ok := li.chunks[start]
	if !ok {
		chunk = newIndexChunk(start)
		li.chunks[start] = chunk
	}
	chunk.put(index, indexLocation{SequenceNumber: seq, Offset: offset})
	li.mu.Unlock()

	return li.flushChunk(chunk)
}

func (li *LogIndex) flushChunk(chunk *indexChunk) error {
	li.mu.Lock()
	if !chunk.dirty {
		li.mu.Unlock()
		return nil
	}
	buf := chunk.encode()
	chunk.dirty = false
	start := chunk.startIndex
	li.mu.Unlock()

	path := filepath.Join(li.dir, indexChunkFileName(start))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return fmt.Errorf("wal: write index chunk %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("wal: install index chunk %s: %w", path, err)
	}
	return nil
}

// Lookup returns the physical location of the batch containing the given
// replicate index.
func (li *LogIndex) Lookup(index uint64) (segmentSequence uint64, offset int64, ok bool) {
	li.mu.RLock()
	defer li.mu.RUnlock()
	chunk, exists := li.chunks[chunkStartFor(index)]
	if !exists {
		return 0, 0, false
	}
	loc, found := chunk.get(index)
	if !found {
		return 0, 0, false
	}
	return loc.SequenceNumber, loc.Offset, true
}

// GC discards chunks whose maximum index is strictly below minRetained.
// Partial chunks are never rewritten (spec §4.4): a chunk survives whole or
// not at all.
func (li *LogIndex) GC(minRetained uint64) (deleted int, err error) {
	li.mu.Lock()
	var toDelete []uint64
	for start, chunk := range li.chunks {
		if chunk.count > 0 && chunk.maxIndex < minRetained {
			toDelete = append(toDelete, start)
		}
	}
	li.mu.Unlock()

	sort.Slice(toDelete, func(i, j int) bool { return toDelete[i] < toDelete[j] })
	for _, start := range toDelete {
		path := filepath.Join(li.dir, indexChunkFileName(start))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return deleted, fmt.Errorf("wal: delete index chunk %s: %w", path, err)
		}
		li.mu.Lock()
		delete(li.chunks, start)
		li.mu.Unlock()
		deleted++
	}
	return deleted, nil
}

func (li *LogIndex) Close() error {
	return nil
}
