package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked is returned when another run holds a fresh lock.
var ErrLocked = errors.New("another run is in progress")

// RunLock is a cross-process lock file so two cycles never write the
// stores at the same time. A lock older than TTL is considered abandoned.
type RunLock struct {
	path string
	ttl  time.Duration
	held bool
}

// NewRunLock prepares a lock at path.
func NewRunLock(path string, ttl time.Duration) *RunLock {
	return &RunLock{path: path, ttl: ttl}
}

// Acquire takes the lock or returns ErrLocked.
func (l *RunLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("lock: create dir: %w", err)
	}

	for i := 0; i < 2; i++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, _ = fmt.Fprintf(f, `{"pid":%d,"time":%d}`+"\n", os.Getpid(), time.Now().Unix())
			_ = f.Close()
			l.held = true
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("lock: open %q: %w", l.path, err)
		}

		fi, statErr := os.Stat(l.path)
		if statErr != nil {
			continue
		}
		if l.ttl > 0 && time.Since(fi.ModTime()) >= l.ttl {
			_ = os.Remove(l.path)
			continue
		}
		return ErrLocked
	}
	return ErrLocked
}

// Touch refreshes the lock timestamp during long runs.
func (l *RunLock) Touch() {
	if !l.held {
		return
	}
	now := time.Now()
	_ = os.Chtimes(l.path, now, now)
}

// Release drops the lock if it is held.
func (l *RunLock) Release() {
	if !l.held {
		return
	}
	_ = os.Remove(l.path)
	l.held = false
}
