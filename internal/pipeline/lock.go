package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// RunLock makes pipeline runs mutually exclusive across processes. The
// scheduler and manual invocations share the same lock file, so an overdue
// scheduled run never races a run started by hand.
type RunLock struct {
	lock *flock.Flock
}

// NewRunLock builds a lock backed by the given file path.
func NewRunLock(path string) *RunLock {
	return &RunLock{lock: flock.New(path)}
}

// TryAcquire attempts to take the lock without blocking. It returns false
// when another run currently holds it.
func (l *RunLock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.lock.Path()), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire run lock: %w", err)
	}
	return acquired, nil
}

// Release drops the lock. Safe to call when the lock was never acquired.
func (l *RunLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
