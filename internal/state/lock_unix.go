//go:build unix

package state

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// newLocker returns a POSIX advisory flock on path.
func newLocker(path string) Locker {
	return &flockLocker{path: path}
}

type flockLocker struct {
	path string
	f    *os.File
}

func (l *flockLocker) Lock() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return fmt.Errorf("acquiring file lock: %w", err)
	}
	l.f = f
	return nil
}

func (l *flockLocker) Unlock() error {
	if l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	cerr := l.f.Close()
	l.f = nil
	if err != nil {
		return fmt.Errorf("releasing file lock: %w", err)
	}
	return cerr
}
