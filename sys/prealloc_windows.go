//go:build windows

package sys

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// Preallocate requests physical storage for f via
// SetFileInformationByHandle(FileAllocationInfo). Logical size is unaffected.
func Preallocate(f FileHandle, size int64) error {
	if size <= 0 {
		return nil
	}
	h := windows.Handle(f.Fd())

	type fileAllocationInfo struct {
		AllocationSize int64
	}
	info := fileAllocationInfo{AllocationSize: size}

	err := windows.SetFileInformationByHandle(h, windows.FileAllocationInfo, (*byte)(unsafe.Pointer(&info)), uint32(unsafe.Sizeof(info)))
	if err != nil {
		return ErrPreallocNotSupported
	}
	return nil
}
