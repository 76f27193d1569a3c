// Package lockfile provides the per-workspace run lock that keeps two sync
// runs from writing the same records and cache at once.
package lockfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/roadmapper/roadmap/internal/debug"
)

const (
	// FileName is the lock file inside the workspace directory.
	FileName = "sync.lock"

	// DefaultTimeout is used when no --lock-timeout is given.
	DefaultTimeout = 30 * time.Second

	pollInterval = 50 * time.Millisecond
)

// ErrLocked is returned when another run holds the lock past the timeout.
var ErrLocked = errors.New("sync lock held by another process")

// LockInfo describes the current holder. It is written next to the lock
// file so `sync status` can report who is running.
type LockInfo struct {
	PID       int       `json:"pid"`
	Backend   string    `json:"backend,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// RunLock is an exclusive advisory lock on <dir>/sync.lock.
type RunLock struct {
	flock *flock.Flock
	info  string
}

// New returns an unlocked RunLock for the workspace directory dir.
func New(dir string) *RunLock {
	path := filepath.Join(dir, FileName)
	return &RunLock{flock: flock.New(path), info: path + ".json"}
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.flock.Path()
}

// Acquire takes the lock, polling until timeout. A zero timeout tries once.
func (l *RunLock) Acquire(ctx context.Context, timeout time.Duration, backend string) error {
	if err := os.MkdirAll(filepath.Dir(l.Path()), 0o750); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}

	start := time.Now()
	var (
		locked bool
		err    error
	)
	if timeout <= 0 {
		locked, err = l.flock.TryLock()
	} else {
		tctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		locked, err = l.flock.TryLockContext(tctx, pollInterval)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = nil
		}
	}
	if err != nil {
		return fmt.Errorf("acquire sync lock: %w", err)
	}
	if !locked {
		holder := ""
		if info, rerr := ReadLockInfo(l.info); rerr == nil {
			holder = fmt.Sprintf(" (pid %d since %s)", info.PID, info.StartedAt.Format(time.RFC3339))
		}
		return fmt.Errorf("%w after %v%s", ErrLocked, time.Since(start).Round(time.Millisecond), holder)
	}

	debug.Logf("acquired sync lock after %v: %s\n", time.Since(start), l.Path())
	data, _ := json.Marshal(LockInfo{PID: os.Getpid(), Backend: backend, StartedAt: time.Now().UTC()})
	if err := os.WriteFile(l.info, data, 0o600); err != nil {
		debug.Logf("write lock info: %v\n", err)
	}
	return nil
}

// Release drops the lock. Safe to call more than once.
func (l *RunLock) Release() error {
	if !l.flock.Locked() {
		return nil
	}
	_ = os.Remove(l.info)
	debug.Logf("releasing sync lock: %s\n", l.Path())
	return l.flock.Unlock()
}

// ReadLockInfo reads the holder description written by Acquire.
func ReadLockInfo(path string) (*LockInfo, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- lock info path is derived from the workspace
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock info: %w", err)
	}
	return &info, nil
}

// Holder returns the current holder of the lock in dir, or nil when the
// lock is free.
func Holder(dir string) *LockInfo {
	l := New(dir)
	locked, err := l.flock.TryLock()
	if err == nil && locked {
		_ = l.flock.Unlock()
		return nil
	}
	info, err := ReadLockInfo(l.info)
	if err != nil {
		return &LockInfo{}
	}
	return info
}
