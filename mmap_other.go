//go:build !unix

package cask

import "os"

// mmapReadOnly has no portable implementation outside unix.Mmap; datafile
// falls back to ReadAt (pread-equivalent) for every segment on these
// platforms. This keeps cask functionally correct everywhere, at the cost
// of one extra syscall per read compared to the mmap fast path.
func mmapReadOnly(f *os.File, size int64) ([]byte, bool) {
	return nil, false
}

func munmap(data []byte) {}
