//go:build linux

package sys

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Preallocate extends f to size bytes without changing its logical length,
// using fallocate(FALLOC_FL_KEEP_SIZE). Some filesystems (network mounts,
// some overlay setups) don't support this; ErrPreallocNotSupported lets the
// allocator fall back to an ordinary sized file.
func Preallocate(f FileHandle, size int64) error {
	if size <= 0 {
		return nil
	}
	fd := int(f.Fd())

	var stat unix.Stat_t
	var dev uint64
	if err := unix.Fstat(fd, &stat); err == nil {
		dev = uint64(stat.Dev)
		if allow, found := preallocCacheLoad(dev); found && !allow {
			return ErrPreallocNotSupported
		}
	}

	err := unix.Fallocate(fd, unix.FALLOC_FL_KEEP_SIZE, 0, size)
	if err == nil {
		if dev != 0 {
			preallocCacheStore(dev, true)
		}
		return nil
	}
	if errors.Is(err, unix.ENOSYS) || errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.EINVAL) {
		if dev != 0 {
			preallocCacheStore(dev, false)
		}
		return ErrPreallocNotSupported
	}
	return fmt.Errorf("sys: fallocate failed: %w", err)
}
