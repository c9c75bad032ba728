//go:build darwin

package sys

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Preallocate uses the F_PREALLOCATE fcntl (fstore_t) to request storage for
// f, trying a contiguous allocation first and falling back to a
// non-contiguous one before giving up.
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

	fst := unix.Fstore_t{
		Flags:   unix.F_ALLOCATECONTIG,
		Posmode: unix.F_PEOFPOSMODE,
		Offset:  0,
		Length:  size,
	}
	if _, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), uintptr(unix.F_PREALLOCATE), uintptr(unsafe.Pointer(&fst))); errno == 0 {
		if dev != 0 {
			preallocCacheStore(dev, true)
		}
		return nil
	}

	fst.Flags = unix.F_ALLOCATEALL
	if _, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(fd), uintptr(unix.F_PREALLOCATE), uintptr(unsafe.Pointer(&fst))); errno == 0 {
		if dev != 0 {
			preallocCacheStore(dev, true)
		}
		return nil
	}

	if dev != 0 {
		preallocCacheStore(dev, false)
	}
	return ErrPreallocNotSupported
}
