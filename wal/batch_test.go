package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewEntryBatchValidatesKind(t *testing.T) {
	_, err := NewEntryBatch(KindReplicate, []Entry{{Kind: KindCommit}}, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewEntryBatchRejectsEmpty(t *testing.T) {
	_, err := NewEntryBatch(KindReplicate, nil, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewEntryBatchRejectsNonIncreasingReplicates(t *testing.T) {
	_, err := NewEntryBatch(KindReplicate, []Entry{
		{Kind: KindReplicate, OpId: OpId{Term: 1, Index: 5}},
		{Kind: KindReplicate, OpId: OpId{Term: 1, Index: 4}},
	}, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEntryBatchStateMachine(t *testing.T) {
	b, err := NewEntryBatch(KindReplicate, []Entry{{Kind: KindReplicate, OpId: OpId{Term: 1, Index: 1}, Payload: []byte("x")}}, nil)
	require.NoError(t, err)
	require.Equal(t, batchInitialized, b.state)

	require.Panics(t, func() { b.setSerialized(nil) })

	b.markReserved()
	require.Equal(t, batchReserved, b.state)
	require.Panics(t, func() { b.markReserved() })

	b.setSerialized([]byte{1, 2, 3})
	require.Equal(t, batchSerialized, b.state)

	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()

	b.markReady()
	require.Equal(t, batchReady, b.state)
	<-done

	var callbackErr error
	called := false
	b.callback = func(err error) { called = true; callbackErr = err }
	b.finish(nil)
	require.Equal(t, batchAppendedOK, b.state)
	require.True(t, called)
	require.NoError(t, callbackErr)

	require.Panics(t, func() { b.finish(nil) })
}

func TestFlushMarkerBatchRejectsPayload(t *testing.T) {
	_, err := NewEntryBatch(KindFlushMarker, []Entry{{Kind: KindFlushMarker, Payload: []byte("nope")}}, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
