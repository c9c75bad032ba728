// Package sys provides the small OS-facing abstractions the WAL needs:
// a file handle interface tests can fake, platform preallocation, and a
// free-space check. It intentionally does not try to be a general-purpose
// filesystem layer.
package sys

import (
	"io"
	"os"
)

// FileHandle is the subset of *os.File the WAL's segment code uses. Segment
// writers and readers depend on this interface, not *os.File directly, so
// tests can substitute an in-memory fake.
type FileHandle interface {
	io.ReadWriteCloser
	io.ReaderAt
	io.WriterAt
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
	Fd() uintptr
}

var _ FileHandle = (*os.File)(nil)

// OpenFile opens name with the given flag/perm and returns it as a FileHandle.
func OpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Create creates (or truncates) name for reading and writing.
func Create(name string) (FileHandle, error) {
	return OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
}
