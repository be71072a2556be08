//go:build unix

package cask

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// processLock is an advisory lock on the flock file inside a cask directory,
// preventing a second Open of the same directory from this or any other
// process. Held for the lifetime of the *DB.
type processLock struct {
	f *os.File
}

// acquireProcessLock takes an exclusive, non-blocking advisory lock on
// path. A contended lock fails fast with ErrDBInUse rather than blocking,
// matching spec.md's "fail DB_IN_USE on contention".
func acquireProcessLock(path string) (*processLock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: open lock file: %w", ErrIO, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, ErrDBInUse
	}
	return &processLock{f: f}, nil
}

// release drops the lock and closes the underlying file handle. Idempotent.
func (l *processLock) release() error {
	if l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
