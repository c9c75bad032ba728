// Package compress implements the compression codec registry spec §1 names
// as an external collaborator: a small closed enumeration of named codecs,
// each a {compress, decompress} function pair (spec §9: "maps to a small
// closed enumeration plus a table of function pairs... not a runtime-
// registered polymorphic hierarchy").
package compress

import "fmt"

// Codec identifies a compression algorithm. It is stored verbatim in a
// segment header (spec §6: compression_codec enum {none, snappy, lz4, zstd}).
type Codec uint8

const (
	None Codec = iota
	Snappy
	LZ4
	Zstd

	numCodecs
)

// String renders the codec the way it appears in configuration (spec §6:
// "compression_codec: name registered with the codec table").
func (c Codec) String() string {
	switch c {
	case None:
		return ""
	case Snappy:
		return "snappy"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ByName resolves a configuration string to a Codec. An empty string means
// no compression, per spec §6.
func ByName(name string) (Codec, error) {
	switch name {
	case "":
		return None, nil
	case "snappy":
		return Snappy, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("compress: unknown codec %q", name)
	}
}

type codecFuncs struct {
	compress func(dst, src []byte) []byte
	// decompress expands src into dst. uncompressedSize is the length
	// recorded alongside the payload by the segment format (spec §4.1); it is
	// authoritative for codecs (lz4) whose block format doesn't carry its own
	// size, and ignored by codecs (snappy, zstd) that already self-describe.
	decompress func(dst, src []byte, uncompressedSize int) ([]byte, error)
}

var table = [numCodecs]codecFuncs{
	None:   {compress: noneCompress, decompress: func(dst, src []byte, _ int) ([]byte, error) { return noneDecompress(dst, src) }},
	Snappy: {compress: snappyCompress, decompress: func(dst, src []byte, _ int) ([]byte, error) { return snappyDecompress(dst, src) }},
	LZ4:    {compress: lz4Compress, decompress: func(dst, src []byte, n int) ([]byte, error) { return lz4DecompressKnownSize(dst, src, n) }},
	Zstd:   {compress: zstdCompress, decompress: func(dst, src []byte, _ int) ([]byte, error) { return zstdDecompress(dst, src) }},
}

// Compress appends the compressed form of src to dst (which may be nil) and
// returns the extended slice.
func Compress(c Codec, dst, src []byte) ([]byte, error) {
	if int(c) >= len(table) {
		return nil, fmt.Errorf("compress: unknown codec id %d", c)
	}
	return table[c].compress(dst, src), nil
}

// Decompress appends the decompressed form of src to dst (which may be nil)
// and returns the extended slice; on success the result is never nil, so an
// empty payload round-trips to an empty slice. uncompressedSize must be the
// exact original length for codecs that need it (currently LZ4); pass the
// value stored in the batch record header.
func Decompress(c Codec, dst, src []byte, uncompressedSize int) ([]byte, error) {
	if int(c) >= len(table) {
		return nil, fmt.Errorf("compress: unknown codec id %d", c)
	}
	out, err := table[c].decompress(dst, src, uncompressedSize)
	if err == nil && out == nil {
		out = []byte{}
	}
	return out, err
}
