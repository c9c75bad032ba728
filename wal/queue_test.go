package wal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustBatch(t *testing.T, payload string) *EntryBatch {
	t.Helper()
	b, err := NewEntryBatch(KindReplicate, []Entry{{Kind: KindReplicate, OpId: OpId{Term: 1, Index: 1}, Payload: []byte(payload)}}, nil)
	require.NoError(t, err)
	return b
}

func TestBatchQueuePutDrain(t *testing.T) {
	q := newBatchQueue(1 << 20)
	b1 := mustBatch(t, "one")
	b2 := mustBatch(t, "two")

	require.NoError(t, q.put(context.Background(), b1))
	require.NoError(t, q.put(context.Background(), b2))

	drained, ok := q.drainTo()
	require.True(t, ok)
	require.Equal(t, []*EntryBatch{b1, b2}, drained)
}

func TestBatchQueueDrainBlocksUntilAvailable(t *testing.T) {
	q := newBatchQueue(1 << 20)
	resultCh := make(chan []*EntryBatch, 1)
	go func() {
		drained, _ := q.drainTo()
		resultCh <- drained
	}()

	select {
	case <-resultCh:
		t.Fatal("drainTo returned before any batch was put")
	case <-time.After(20 * time.Millisecond):
	}

	b := mustBatch(t, "late")
	require.NoError(t, q.put(context.Background(), b))

	select {
	case drained := <-resultCh:
		require.Equal(t, []*EntryBatch{b}, drained)
	case <-time.After(time.Second):
		t.Fatal("drainTo did not observe the put batch")
	}
}

func TestBatchQueueShutdownDrainsRemainderThenFalse(t *testing.T) {
	q := newBatchQueue(1 << 20)
	b := mustBatch(t, "last")
	require.NoError(t, q.put(context.Background(), b))

	q.shutdown()

	drained, ok := q.drainTo()
	require.True(t, ok)
	require.Equal(t, []*EntryBatch{b}, drained)

	drained, ok = q.drainTo()
	require.False(t, ok)
	require.Nil(t, drained)
}

func TestBatchQueuePutFailsAfterShutdown(t *testing.T) {
	q := newBatchQueue(1 << 20)
	q.shutdown()
	err := q.put(context.Background(), mustBatch(t, "x"))
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestBatchQueueCapacityBlocksOversizedPut(t *testing.T) {
	q := newBatchQueue(8)
	b := mustBatch(t, "this payload is definitely bigger than eight bytes of capacity")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.put(ctx, b)
	require.Error(t, err)
}
