// Package lock provides the advisory file lock that serializes write
// transactions on a repository across processes.
package lock

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when another process already holds the lock.
// Acquisition is non-blocking: callers see this immediately instead of
// queueing behind a long-running transaction.
var ErrLocked = errors.New("lock: already held")

// WithLock opens (creating if necessary) the sentinel file at path,
// acquires an exclusive advisory lock on it, runs body, and releases the
// lock on every exit path. The body's error is propagated unchanged.
//
// The sentinel file is never unlinked; a stale file left behind by a
// crashed process is harmless because the kernel drops the lock with the
// file descriptor.
func WithLock(path string, body func() error) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("lock: open sentinel %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrLocked
		}
		return fmt.Errorf("lock: acquire %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return body()
}

// TryAcquire reports whether the lock at path could be acquired, without
// holding it. A missing sentinel file counts as acquirable.
func TryAcquire(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("lock: open sentinel %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("lock: acquire %s: %w", path, err)
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return true, nil
}
