//go:build !unix

package state

// newLocker returns a no-op Locker on platforms without POSIX advisory
// locks. Cross-process exclusion is not provided there; in-process
// callers are still serialized by the FileStore mutex.
func newLocker(string) Locker {
	return noopLocker{}
}

type noopLocker struct{}

func (noopLocker) Lock() error   { return nil }
func (noopLocker) Unlock() error { return nil }
