package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/fsutil"
)

// RunArena is the backup directory of one run
type RunArena struct {
	store    *Store
	readOnly bool

	mu   sync.Mutex
	meta RunMeta
}

// ID returns the run id (timestamp plus short random suffix)
func (a *RunArena) ID() string { return a.meta.RunID }

// Dir returns the arena directory
func (a *RunArena) Dir() string { return a.meta.dir }

// Meta returns a copy of the run metadata
func (a *RunArena) Meta() RunMeta {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.meta
	m.Batches = append([]BatchMeta(nil), a.meta.Batches...)
	return m
}

// Capture backs up every distinct file in files before batch executes. The
// snapshot is staged in a partial directory and published by rename, so a
// failure leaves nothing behind and the batch must not run.
func (a *RunArena) Capture(ctx context.Context, batch int, files []string) (*Snapshot, error) {
	if a.readOnly {
		return nil, errors.New(errors.ErrCodeSnapshotFailed, "run arena was opened read-only").WithBatch(batch)
	}

	final := filepath.Join(a.meta.dir, batchDirName(batch))
	partial := final + partialSuffix

	if _, err := os.Stat(final); err == nil {
		return nil, errors.NewSnapshotFailure(batch, "", final, fmt.Errorf("batch snapshot already published"))
	}
	if err := os.RemoveAll(partial); err != nil {
		return nil, errors.NewSnapshotFailure(batch, "", partial, err)
	}

	snap, failedFile, err := a.stage(ctx, batch, partial, dedupe(files))
	if err != nil {
		_ = os.RemoveAll(partial)
		return nil, errors.NewSnapshotFailure(batch, failedFile, partial, err)
	}

	if err := os.Rename(partial, final); err != nil {
		_ = os.RemoveAll(partial)
		return nil, errors.NewSnapshotFailure(batch, "", final, fmt.Errorf("publish snapshot: %w", err))
	}
	snap.dir = final

	if err := a.record(snap); err != nil {
		return nil, errors.NewSnapshotFailure(batch, "", final, err)
	}

	a.store.logger.Debug("snapshot published",
		"run_id", a.meta.RunID, "batch", batch, "files", len(snap.Entries), "dir", final)
	return snap, nil
}

func (a *RunArena) stage(ctx context.Context, batch int, dir string, files []string) (*Snapshot, string, error) {
	if err := os.MkdirAll(filepath.Join(dir, filesDir), 0o750); err != nil {
		return nil, "", err
	}

	snap := &Snapshot{
		RunID:     a.meta.RunID,
		Batch:     batch,
		CreatedAt: time.Now().UTC(),
		Entries:   make([]Entry, 0, len(files)),
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return nil, rel, err
		}

		src := filepath.Join(a.store.repoRoot, filepath.FromSlash(rel))
		info, err := os.Lstat(src)
		if os.IsNotExist(err) {
			snap.Entries = append(snap.Entries, Entry{Path: rel, Absent: true})
			continue
		}
		if err != nil {
			return nil, rel, err
		}
		if !info.Mode().IsRegular() {
			return nil, rel, fmt.Errorf("%s is not a regular file", rel)
		}

		dst := filepath.Join(dir, filesDir, filepath.FromSlash(rel))
		sum, err := fsutil.CopyFile(src, dst, info.Mode().Perm())
		if err != nil {
			return nil, rel, err
		}

		snap.Entries = append(snap.Entries, Entry{
			Path:     rel,
			Checksum: sum,
			Size:     info.Size(),
			Mode:     info.Mode().Perm(),
		})
	}

	if err := fsutil.WriteJSON(filepath.Join(dir, snapshotMetaFile), snap); err != nil {
		return nil, "", err
	}
	return snap, "", nil
}

func (a *RunArena) record(snap *Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	bm := BatchMeta{Index: snap.Batch, FileCount: len(snap.Entries), Checksums: snap.Checksums()}
	for _, e := range snap.Entries {
		if e.Absent {
			bm.Absent = append(bm.Absent, e.Path)
		}
	}
	a.meta.Batches = append(a.meta.Batches, bm)
	a.meta.FileCount += bm.FileCount
	return a.writeMetaLocked()
}

// Finalize stamps run.json with the finish time and releases the arena from
// the active set so later prunes may consider it.
func (a *RunArena) Finalize() error {
	if a.readOnly {
		return nil
	}
	defer a.store.deactivate(a.meta.RunID)

	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now().UTC()
	a.meta.FinishedAt = &now
	return a.writeMetaLocked()
}

func (a *RunArena) writeMeta() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeMetaLocked()
}

func (a *RunArena) writeMetaLocked() error {
	return fsutil.WriteJSON(filepath.Join(a.meta.dir, runMetaFile), a.meta)
}

func dedupe(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
