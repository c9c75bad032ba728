package compress

import (
	"fmt"

	"github.com/pierrec/lz4/v4"
)

// Adapted from compressors/lz4.go. The LZ4 block format used here does not
// record the original size, which is why the segment format (wal/format.go)
// stores the uncompressed length alongside any lz4-compressed payload (spec
// §4.1): decompress is given that length up front instead of the teacher's
// grow-and-retry heuristic.
func lz4Compress(dst, src []byte) []byte {
	buf := make([]byte, lz4.CompressBlockBound(len(src)))
	n, err := lz4.CompressBlock(src, buf, nil)
	if err != nil || (n == 0 && len(src) > 0) {
		// Too small or genuinely incompressible: lz4 block mode declines to
		// emit a block at all. Store the bytes as-is; decompress recognizes
		// this by length (src == uncompressedSize) and copies through.
		return append(dst, src...)
	}
	return append(dst, buf[:n]...)
}

func lz4DecompressKnownSize(dst, src []byte, uncompressedSize int) ([]byte, error) {
	if uncompressedSize <= 0 {
		return dst, nil
	}
	if len(src) == uncompressedSize {
		// Stored as-is by lz4Compress's incompressible-input fallback.
		return append(dst, src...), nil
	}
	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(src, out)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4 decompress: %w", err)
	}
	return append(dst, out[:n]...), nil
}
