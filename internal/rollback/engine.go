// Package rollback restores a batch's files from their snapshot and
// verifies the result byte for byte.
package rollback

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/fsutil"
	"github.com/felixgeelhaar/batchguard/internal/log"
	"github.com/felixgeelhaar/batchguard/internal/snapshot"
)

// Result describes a completed restore
type Result struct {
	RunID      string        `json:"run_id"`
	Batch      int           `json:"batch"`
	Restored   []string      `json:"restored"`
	Removed    []string      `json:"removed,omitempty"`
	Verified   int           `json:"verified"`
	Mismatched []string      `json:"mismatched,omitempty"`
	BackupPath string        `json:"backup_path"`
	Duration   time.Duration `json:"duration"`
}

// Pinner keeps a run arena from being pruned while it is read
type Pinner interface {
	Pin(runID string) func()
}

// Engine restores snapshots into a repository. After an integrity failure
// the engine refuses any further restore; recovery is then manual.
type Engine struct {
	repoRoot string
	pins     Pinner
	logger   *log.Logger

	mu     sync.Mutex
	failed *errors.Error
}

// NewEngine creates an engine restoring into repoRoot
func NewEngine(repoRoot string, pins Pinner, logger *log.Logger) *Engine {
	return &Engine{
		repoRoot: repoRoot,
		pins:     pins,
		logger:   log.OrDefault(logger).With("component", "rollback"),
	}
}

// Restore puts every file recorded in snap back to its backed-up content,
// removes files the batch created and verifies the outcome. Any mismatch
// yields a single RollbackIntegrityError naming every affected file.
func (e *Engine) Restore(ctx context.Context, snap *snapshot.Snapshot) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.failed != nil {
		return nil, errors.Wrap(errors.ErrCodeRollbackRefused,
			"a previous rollback failed integrity verification; refusing to retry", e.failed).
			WithBatch(snap.Batch).
			WithBackup(e.failed.BackupPath).
			WithSuggestion("Restore the listed files by hand from the backup path, then reset the circuit breaker")
	}

	if e.pins != nil {
		unpin := e.pins.Pin(snap.RunID)
		defer unpin()
	}

	start := time.Now()
	res := &Result{
		RunID:      snap.RunID,
		Batch:      snap.Batch,
		BackupPath: snap.Dir(),
	}
	logger := e.logger.ForRun(snap.RunID).ForBatch(snap.Batch)

	bad := make(map[string]bool)
	for _, entry := range snap.Entries {
		if entry.Absent {
			continue
		}
		sum, err := fsutil.ChecksumFile(snap.BlobPath(entry))
		if err != nil || sum != entry.Checksum {
			logger.Error("backup blob does not match recorded checksum", "file", entry.Path, "error", err)
			bad[entry.Path] = true
		}
	}

	if err := ctx.Err(); err != nil {
		// A restore is never abandoned halfway.
		logger.Warn("restoring despite cancelled context", "error", err)
	}

	for _, entry := range snap.Entries {
		if bad[entry.Path] {
			continue
		}
		target := filepath.Join(e.repoRoot, filepath.FromSlash(entry.Path))
		if entry.Absent {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				logger.Error("could not remove file created by batch", "file", entry.Path, "error", err)
				bad[entry.Path] = true
				continue
			}
			res.Removed = append(res.Removed, entry.Path)
			continue
		}

		if err := restoreFile(snap.BlobPath(entry), target, entry.Mode); err != nil {
			logger.Error("could not restore file", "file", entry.Path, "error", err)
			bad[entry.Path] = true
			continue
		}
		res.Restored = append(res.Restored, entry.Path)
	}

	for _, entry := range snap.Entries {
		if bad[entry.Path] {
			res.Mismatched = append(res.Mismatched, entry.Path)
			continue
		}
		if ok := verify(e.repoRoot, entry); !ok {
			res.Mismatched = append(res.Mismatched, entry.Path)
			continue
		}
		res.Verified++
	}
	res.Duration = time.Since(start)

	if len(res.Mismatched) > 0 {
		err := errors.NewRollbackIntegrityError(snap.Batch, res.Mismatched, snap.Dir())
		e.failed = err
		return res, err
	}

	logger.Info("rollback verified",
		"restored", len(res.Restored), "removed", len(res.Removed), "duration", res.Duration)
	return res, nil
}

// Failed returns the integrity error that disabled the engine, if any
func (e *Engine) Failed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failed == nil {
		return nil
	}
	return e.failed
}

func restoreFile(blob, target string, mode os.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	tmp := filepath.Join(filepath.Dir(target), fmt.Sprintf(".batchguard-restore-%s", filepath.Base(target)))
	if _, err := fsutil.CopyFile(blob, tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func verify(repoRoot string, entry snapshot.Entry) bool {
	target := filepath.Join(repoRoot, filepath.FromSlash(entry.Path))
	if entry.Absent {
		_, err := os.Lstat(target)
		return os.IsNotExist(err)
	}
	sum, err := fsutil.ChecksumFile(target)
	return err == nil && sum == entry.Checksum
}
