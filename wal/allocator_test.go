package wal

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSegmentAllocatorAllocatesTempFile(t *testing.T) {
	dir := t.TempDir()
	a := NewSegmentAllocator(dir, 1<<20, false, false, 0, discardLogger())
	defer a.Close()

	require.Equal(t, allocNotStarted, a.State())
	status := a.AsyncAllocate()
	path, err := status.Wait()
	require.NoError(t, err)
	require.Equal(t, allocFinished, a.State())

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)

	a.Reset()
	require.Equal(t, allocNotStarted, a.State())
}

func TestSegmentAllocatorAsyncAllocateIdempotentUntilReset(t *testing.T) {
	dir := t.TempDir()
	a := NewSegmentAllocator(dir, 1<<20, false, false, 0, discardLogger())
	defer a.Close()

	s1 := a.AsyncAllocate()
	s2 := a.AsyncAllocate()
	require.Same(t, s1, s2)
	_, err := s1.Wait()
	require.NoError(t, err)
}

func TestSegmentAllocatorPreallocateInsufficientSpace(t *testing.T) {
	dir := t.TempDir()
	a := NewSegmentAllocator(dir, 1<<20, true, false, 1<<62, discardLogger())
	defer a.Close()

	status := a.AsyncAllocate()
	_, err := status.Wait()
	require.Error(t, err)
}

func TestSegmentAllocatorAsyncPreallocateFinishesWithoutWaitingOnExtend(t *testing.T) {
	dir := t.TempDir()
	a := NewSegmentAllocator(dir, 64<<20, true, true, 0, discardLogger())
	defer a.Close()

	status := a.AsyncAllocate()
	path, err := status.Wait()
	require.NoError(t, err)
	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}
