//go:build unix

package cask

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapReadOnly maps the first size bytes of f read-only and shared, the way
// the teacher's mmapFile/updateMmap do for the active segment; here it is
// used for every sealed segment so concurrent readers never touch the
// writer's file descriptor. A zero-length file has nothing to map.
func mmapReadOnly(f *os.File, size int64) ([]byte, bool) {
	if size <= 0 {
		return nil, false
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, false
	}
	return data, true
}

func munmap(data []byte) {
	if len(data) == 0 {
		return
	}
	_ = unix.Munmap(data)
}
