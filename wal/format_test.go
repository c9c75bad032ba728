package wal

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nexuscore/tabletwal/compress"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := SegmentHeader{
		SequenceNumber:   42,
		TabletID:         []byte("tablet-a"),
		Schema:           []byte("schema-bytes"),
		SchemaVersion:    3,
		CompressionCodec: compress.Snappy,
	}
	encoded := encodeHeader(h)
	decoded, n, err := decodeHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, h, decoded)
}

func TestFooterRoundTrip(t *testing.T) {
	f := SegmentFooter{
		NumEntries:           10,
		HasReplicates:        true,
		MinReplicateIndex:    5,
		MaxReplicateIndex:    14,
		CloseTimestampMicros: 123456,
	}
	encoded := encodeFooter(f)
	decoded, n, err := decodeFooter(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, f, decoded)
}

func TestBatchSerializeRoundTrip(t *testing.T) {
	entries := []Entry{
		{Kind: KindReplicate, OpId: OpId{Term: 1, Index: 1}, Payload: []byte("one")},
		{Kind: KindReplicate, OpId: OpId{Term: 1, Index: 2}, Payload: []byte("two")},
	}
	b, err := NewEntryBatch(KindReplicate, entries, nil)
	require.NoError(t, err)

	raw := serializeBatch(b)
	decoded, err := deserializeBatch(raw)
	require.NoError(t, err)
	require.Equal(t, entries, decoded)
}

func TestFrameParseRecordRoundTrip(t *testing.T) {
	for _, codec := range []compress.Codec{compress.None, compress.Snappy, compress.LZ4, compress.Zstd} {
		raw := []byte("the quick brown fox jumps over the lazy dog, repeatedly, for compressibility")
		rec, err := frameRecord(codec, raw)
		require.NoError(t, err, "codec %v", codec)

		got, consumed, err := parseRecord(codec, rec)
		require.NoError(t, err, "codec %v", codec)
		require.Equal(t, len(rec), consumed)
		require.Equal(t, raw, got, "codec %v", codec)
	}
}

func TestParseRecordDetectsCorruption(t *testing.T) {
	rec, err := frameRecord(compress.None, []byte("payload"))
	require.NoError(t, err)
	rec[len(rec)-1] ^= 0xFF // flip a payload byte, invalidating the crc32c

	_, _, err = parseRecord(compress.None, rec)
	require.ErrorIs(t, err, ErrCorruption)
}
