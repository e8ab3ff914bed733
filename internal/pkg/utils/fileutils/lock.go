package fileutils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by TryLock when another process holds the lock.
var ErrLocked = errors.New("lock is held by another process")

// TryLock acquires an exclusive lock on lockPath without blocking.
// The directory of lockPath is created if needed. The lock lives on the OS filesystem.
func TryLock(lockPath string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, err
	}
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %q: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
	}
	return lock, nil
}

// Unlock releases a lock acquired by TryLock.
func Unlock(lock *flock.Flock) error {
	return lock.Unlock()
}
