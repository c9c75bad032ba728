package sys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFreeBytes(t *testing.T) {
	dir := t.TempDir()
	free, err := FreeBytes(dir)
	require.NoError(t, err)
	require.Greater(t, free, uint64(0))
}

func TestOpenFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/segment"

	f, err := Create(path)
	require.NoError(t, err)

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())

	f2, err := OpenFile(path, 0, 0)
	require.NoError(t, err)
	defer f2.Close()

	buf := make([]byte, 5)
	_, err = f2.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}
