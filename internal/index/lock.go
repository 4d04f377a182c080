package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// IndexLock serializes index builds against a data directory. Two concurrent
// `ragtune index` runs writing the same SQLite store and HNSW file would
// corrupt both; the lock makes the second run fail fast instead.
type IndexLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewIndexLock creates a lock for the given index data directory.
func NewIndexLock(dataDir string) *IndexLock {
	path := filepath.Join(dataDir, "index.lock")
	return &IndexLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Lock acquires the lock, blocking until it is available.
func (l *IndexLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("acquire index lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired.
func (l *IndexLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}

	locked, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("try index lock: %w", err)
	}
	l.locked = locked
	return locked, nil
}

// Unlock releases the lock. Safe to call when the lock is not held.
func (l *IndexLock) Unlock() error {
	if !l.locked {
		return nil
	}

	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("release index lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the lock file path.
func (l *IndexLock) Path() string {
	return l.path
}

// IsLocked reports whether this process holds the lock.
func (l *IndexLock) IsLocked() bool {
	return l.locked
}
