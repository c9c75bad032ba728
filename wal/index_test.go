package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogIndexPutLookup(t *testing.T) {
	dir := t.TempDir()
	li, err := OpenLogIndex(dir)
	require.NoError(t, err)

	require.NoError(t, li.Put(1, 10, 100))
	require.NoError(t, li.Put(2, 10, 200))
	require.NoError(t, li.Put(indexChunkStride+1, 11, 300)) // second chunk

	seq, off, ok := li.Lookup(1)
	require.True(t, ok)
	require.Equal(t, uint64(10), seq)
	require.Equal(t, int64(100), off)

	seq, off, ok = li.Lookup(indexChunkStride + 1)
	require.True(t, ok)
	require.Equal(t, uint64(11), seq)
	require.Equal(t, int64(300), off)

	_, _, ok = li.Lookup(999999)
	require.False(t, ok)
}

func TestLogIndexPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	li, err := OpenLogIndex(dir)
	require.NoError(t, err)
	require.NoError(t, li.Put(5, 1, 50))

	reopened, err := OpenLogIndex(dir)
	require.NoError(t, err)
	seq, off, ok := reopened.Lookup(5)
	require.True(t, ok)
	require.Equal(t, uint64(1), seq)
	require.Equal(t, int64(50), off)
}

func TestLogIndexGCDiscardsWholeChunksBelowMinRetained(t *testing.T) {
	dir := t.TempDir()
	li, err := OpenLogIndex(dir)
	require.NoError(t, err)
	require.NoError(t, li.Put(1, 1, 10))
	require.NoError(t, li.Put(indexChunkStride+1, 2, 20))

	deleted, err := li.GC(indexChunkStride + 1)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	_, _, ok := li.Lookup(1)
	require.False(t, ok)
	_, _, ok = li.Lookup(indexChunkStride + 1)
	require.True(t, ok)
}
