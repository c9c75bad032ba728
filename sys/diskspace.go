package sys

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
)

// FreeBytes returns the number of bytes free on the filesystem containing
// dir. The Segment Allocator (spec §4.5) calls this before preallocating a
// segment so it can refuse to allocate when doing so would violate
// fs_wal_dir_reserved_bytes (spec §6).
func FreeBytes(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, fmt.Errorf("sys: disk usage for %s: %w", dir, err)
	}
	return usage.Free, nil
}
