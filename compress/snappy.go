package compress

import "github.com/golang/snappy"

// Adapted from compressors/snappy.go: snappy already frames its own
// uncompressed length, so no extra bookkeeping is needed beyond the segment
// format's own length prefix (spec §4.1).
func snappyCompress(dst, src []byte) []byte {
	encoded := snappy.Encode(nil, src)
	return append(dst, encoded...)
}

func snappyDecompress(dst, src []byte) ([]byte, error) {
	decoded, err := snappy.Decode(nil, src)
	if err != nil {
		return nil, err
	}
	return append(dst, decoded...), nil
}
