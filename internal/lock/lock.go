// Package lock provides the run-scoped repository lock. Only one
// orchestration run may snapshot, mutate or restore a repository at a time.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/felixgeelhaar/batchguard/internal/errors"
)

// FileName is the lock file created under the state directory
const FileName = "run.lock"

const (
	initialBackoff = 50 * time.Millisecond
	maxBackoff     = time.Second
)

// RunLock is an advisory flock on <stateDir>/run.lock
type RunLock struct {
	mu       sync.Mutex
	path     string
	repoRoot string
	file     *os.File
	runID    string
}

// New creates a lock for the repository rooted at repoRoot
func New(repoRoot, stateDir string) *RunLock {
	return &RunLock{
		path:     filepath.Join(stateDir, FileName),
		repoRoot: repoRoot,
	}
}

// Path returns the lock file path
func (l *RunLock) Path() string { return l.path }

// TryAcquire takes the lock or fails immediately with LOCK-001
func (l *RunLock) TryAcquire(runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return errors.New(errors.ErrCodeLockHeld, fmt.Sprintf("lock already held by run %s", l.runID))
	}

	held, err := l.tryLock(runID)
	if err != nil {
		return err
	}
	if !held {
		return l.heldError()
	}
	return nil
}

// Acquire blocks until the lock is obtained or ctx is done
func (l *RunLock) Acquire(ctx context.Context, runID string) error {
	backoff := initialBackoff
	for {
		err := l.TryAcquire(runID)
		if err == nil || !errors.HasCode(err, errors.ErrCodeLockHeld) {
			return err
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(errors.ErrCodeLockHeld,
				fmt.Sprintf("waiting for repository lock %s", l.path), ctx.Err())
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (l *RunLock) tryLock(runID string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return false, errors.Wrap(errors.ErrCodeLockFailure, "create lock directory", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeLockFailure, "open lock file", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return false, nil
		}
		return false, errors.Wrap(errors.ErrCodeLockFailure, "flock", err)
	}

	if err := writeOwner(f, runID, l.repoRoot); err != nil {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return false, errors.Wrap(errors.ErrCodeLockFailure, "record lock owner", err)
	}

	l.file = f
	l.runID = runID
	return true, nil
}

func writeOwner(f *os.File, runID, repoRoot string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "pid=%d\nrun=%s\nrepo=%s\n", os.Getpid(), runID, repoRoot); err != nil {
		return err
	}
	return f.Sync()
}

func (l *RunLock) heldError() *errors.Error {
	err := errors.New(errors.ErrCodeLockHeld, "another run holds the repository lock").
		WithFiles(l.path).
		WithSuggestion("Wait for the other run to reach a terminal state, or remove a stale lock owned by a dead process")
	if owner, rerr := Owner(l.path); rerr == nil && owner != "" {
		err.Message += " (" + owner + ")"
	}
	return err
}

// Release drops the lock. Releasing an unheld lock is a no-op. The file is
// left in place so a waiting process never locks a replaced inode.
func (l *RunLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	_ = l.file.Truncate(0)
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		l.file = nil
		return errors.Wrap(errors.ErrCodeLockFailure, "release lock", err)
	}
	err := l.file.Close()
	l.file = nil
	l.runID = ""
	if err != nil {
		return errors.Wrap(errors.ErrCodeLockFailure, "close lock file", err)
	}
	return nil
}

// Held reports whether this instance currently owns the lock
func (l *RunLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

// Owner returns the owner record of a lock file on a single line
func Owner(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(string(data)), " "), nil
}
