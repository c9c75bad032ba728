//go:build !linux && !darwin && !windows

package sys

// Preallocate is unsupported on this platform; callers treat the returned
// sentinel as non-fatal.
func Preallocate(f FileHandle, size int64) error {
	return ErrPreallocNotSupported
}
