package scanner

import (
	"os"

	"golang.org/x/sys/unix"

	vorlerrors "github.com/vorleser/vorleser-server/internal/errors"
)

// LockMode controls how Scan acquires the advisory scan.lock.
type LockMode int

const (
	// LockBlock waits until the lock is acquired.
	LockBlock LockMode = iota
	// LockError fails immediately with Locked if the lock is contended.
	LockError
	// LockDont skips locking entirely. Tests only.
	LockDont
)

// acquireLock takes an advisory exclusive flock on path per mode, returning
// a release function. Under LockDont, the release function is a no-op and
// no file is touched.
func acquireLock(path string, mode LockMode) (release func() error, err error) {
	if mode == LockDont {
		return func() error { return nil }, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, vorlerrors.Io("opening scan.lock", err)
	}

	flags := unix.LOCK_EX
	if mode == LockError {
		flags |= unix.LOCK_NB
	}

	if err := unix.Flock(int(f.Fd()), flags); err != nil {
		f.Close()
		if mode == LockError {
			return nil, vorlerrors.Locked("scan already in progress")
		}
		return nil, vorlerrors.Io("acquiring scan.lock", err)
	}

	return func() error {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return f.Close()
	}, nil
}
