package wal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testOptions(dir string) Options {
	return Options{
		Dir:                       dir,
		SegmentSizeMB:             1,
		ForceFsyncAll:             true,
		PreallocateSegments:       false,
		MinSegmentsToRetain:       1,
		MaxSegmentsToRetain:       1 << 20,
		GroupCommitQueueSizeBytes: 8 << 20,
		Logger:                    discardLogger(),
	}
}

func replicateEntry(term, index uint64, payload string) Entry {
	return Entry{Kind: KindReplicate, OpId: OpId{Term: term, Index: index}, Payload: []byte(payload)}
}

func TestLogOpenReserveAppendClose(t *testing.T) {
	dir := t.TempDir()
	log, err := Open([]byte("tablet-1"), []byte("schema-v1"), testOptions(dir))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	const n = 10
	for i := 1; i <= n; i++ {
		wg.Add(1)
		batch, err := log.AsyncAppendReplicates([]Entry{replicateEntry(1, uint64(i), "payload")}, func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			wg.Done()
		})
		require.NoError(t, err)
		require.NotNil(t, batch)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, OpId{Term: 1, Index: n}, log.GetLatestEntryOpId())

	require.NoError(t, log.Close())
	require.NoError(t, log.Close()) // idempotent
}

func TestLogReserveBeforeOpenIsNotWriting(t *testing.T) {
	l := &Log{state: facadeInitialized}
	_, err := l.Reserve(KindReplicate, []Entry{replicateEntry(1, 1, "x")}, nil)
	require.ErrorIs(t, err, ErrNotWriting)
}

func TestLogReserveAfterCloseIsNotWriting(t *testing.T) {
	dir := t.TempDir()
	log, err := Open([]byte("tablet-1"), nil, testOptions(dir))
	require.NoError(t, err)
	require.NoError(t, log.Close())

	_, err = log.Reserve(KindReplicate, []Entry{replicateEntry(1, 1, "x")}, nil)
	require.ErrorIs(t, err, ErrNotWriting)
}

func TestLogWaitUntilAllFlushedDrainsPendingWork(t *testing.T) {
	dir := t.TempDir()
	log, err := Open([]byte("tablet-1"), nil, testOptions(dir))
	require.NoError(t, err)
	defer log.Close()

	var completed int
	var mu sync.Mutex
	for i := 1; i <= 100; i++ {
		_, err := log.AsyncAppendReplicates([]Entry{replicateEntry(1, uint64(i), "x")}, func(error) {
			mu.Lock()
			completed++
			mu.Unlock()
		})
		require.NoError(t, err)
	}

	require.NoError(t, log.WaitUntilAllFlushed())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 100, completed)
}

func TestLogAsyncAppendCommitFiresCallback(t *testing.T) {
	dir := t.TempDir()
	log, err := Open([]byte("tablet-1"), nil, testOptions(dir))
	require.NoError(t, err)
	defer log.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	batch, err := log.AsyncAppendCommit(OpId{Term: 1, Index: 1}, []byte("committed"), func(err error) {
		require.NoError(t, err)
		wg.Done()
	})
	require.NoError(t, err)
	require.NotNil(t, batch)
	wg.Wait()
}

func TestLogReserveContextReturnsServiceUnavailableOnDeadline(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	opts.GroupCommitQueueSizeBytes = 4 // smaller than any real batch's weight
	log, err := Open([]byte("tablet-1"), nil, opts)
	require.NoError(t, err)
	defer log.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = log.ReserveContext(ctx, KindReplicate, []Entry{replicateEntry(1, 1, "x")}, nil)
	require.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestLogOpenAndRollOverWithPreallocateSegments(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	opts.PreallocateSegments = true
	opts.SegmentSizeMB = 1
	log, err := Open([]byte("tablet-1"), nil, opts)
	require.NoError(t, err)
	defer log.Close()

	_, err = log.AsyncAppendReplicates([]Entry{replicateEntry(1, 1, "x")}, nil)
	require.NoError(t, err)
	require.NoError(t, log.WaitUntilAllFlushed())
	require.NoError(t, log.AllocateSegmentAndRollOver())
}

func TestLogOpenRejectsMismatchedTabletID(t *testing.T) {
	dir := t.TempDir()
	log, err := Open([]byte("tablet-1"), nil, testOptions(dir))
	require.NoError(t, err)
	require.NoError(t, log.Close())

	_, err = Open([]byte("tablet-2"), nil, testOptions(dir))
	require.Error(t, err)
}

func TestLogGCRetainsSegmentsNeededByPeers(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	opts.MinSegmentsToRetain = 2
	opts.MaxSegmentsToRetain = 10
	log, err := Open([]byte("tablet-1"), nil, opts)
	require.NoError(t, err)
	defer log.Close()

	maxIndexes := []uint64{10, 20, 30, 40, 50, 60}
	for _, maxIdx := range maxIndexes {
		require.NoError(t, log.WaitUntilAllFlushed())
		_, err := log.AsyncAppendReplicates([]Entry{replicateEntry(1, maxIdx, "x")}, nil)
		require.NoError(t, err)
		require.NoError(t, log.WaitUntilAllFlushed())
		require.NoError(t, log.AllocateSegmentAndRollOver())
	}

	deleted, err := log.GC(35, 25)
	require.NoError(t, err)
	require.Equal(t, 2, deleted)
}
