package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/fsutil"
	"github.com/felixgeelhaar/batchguard/internal/log"
)

// Store owns the backup root of one repository
type Store struct {
	repoRoot string
	root     string
	logger   *log.Logger

	mu     sync.Mutex
	pinned map[string]int
	active map[string]bool
}

// NewStore creates a store backing up files of repoRoot under backupRoot
func NewStore(repoRoot, backupRoot string, logger *log.Logger) *Store {
	return &Store{
		repoRoot: repoRoot,
		root:     backupRoot,
		logger:   log.OrDefault(logger).With("component", "snapshot"),
		pinned:   make(map[string]int),
		active:   make(map[string]bool),
	}
}

// Root returns the backup root directory
func (s *Store) Root() string { return s.root }

// RepoRoot returns the repository the store backs up
func (s *Store) RepoRoot() string { return s.repoRoot }

// NewRunID returns a run id keyed by now. Ids sort by creation time.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("%s-%s", now.UTC().Format(TimestampFormat), uuid.NewString()[:8])
}

// BeginRun creates a fresh run arena keyed by now
func (s *Store) BeginRun(now time.Time) (*RunArena, error) {
	return s.Begin(NewRunID(now), now)
}

// Begin creates the arena of runID. The id must not be in use.
func (s *Store) Begin(runID string, now time.Time) (*RunArena, error) {
	now = now.UTC()
	dir := filepath.Join(s.root, runID)
	if _, err := os.Stat(dir); err == nil {
		return nil, errors.NewSnapshotFailure(-1, "", dir, fmt.Errorf("run arena %s already exists", runID))
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.NewSnapshotFailure(-1, "", dir, err)
	}

	arena := &RunArena{
		store: s,
		meta: RunMeta{
			RunID:     runID,
			RepoRoot:  s.repoRoot,
			CreatedAt: now,
			Batches:   []BatchMeta{},
			dir:       dir,
		},
	}
	if err := arena.writeMeta(); err != nil {
		return nil, errors.NewSnapshotFailure(-1, "", dir, err)
	}

	s.mu.Lock()
	s.active[runID] = true
	s.mu.Unlock()

	s.logger.Debug("run arena created", "run_id", runID, "dir", dir)
	return arena, nil
}

// Open returns the arena of an existing run for restoring. Opened arenas
// are read-only.
func (s *Store) Open(runID string) (*RunArena, error) {
	meta, err := s.readMeta(runID)
	if err != nil {
		return nil, err
	}
	return &RunArena{store: s, meta: *meta, readOnly: true}, nil
}

// List returns the metadata of every run arena, oldest first
func (s *Store) List() ([]RunMeta, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup root: %w", err)
	}

	var runs []RunMeta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.readMeta(e.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable run arena", "run_id", e.Name(), "error", err)
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })
	return runs, nil
}

// Load reads the published snapshot of one batch
func (s *Store) Load(runID string, batch int) (*Snapshot, error) {
	dir := filepath.Join(s.root, runID, batchDirName(batch))

	var snap Snapshot
	if err := fsutil.ReadJSON(filepath.Join(dir, snapshotMetaFile), &snap); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeSnapshotNotFound,
				fmt.Sprintf("no snapshot for batch %d of run %s", batch, runID)).
				WithBatch(batch).WithBackup(dir)
		}
		return nil, errors.Wrap(errors.ErrCodeSnapshotNotFound, "read snapshot metadata", err).
			WithBatch(batch).WithBackup(dir)
	}
	snap.dir = dir
	return &snap, nil
}

// Latest returns the snapshot of the highest batch published in runID
func (s *Store) Latest(runID string) (*Snapshot, error) {
	meta, err := s.readMeta(runID)
	if err != nil {
		return nil, err
	}
	if len(meta.Batches) == 0 {
		return nil, errors.New(errors.ErrCodeSnapshotNotFound,
			fmt.Sprintf("run %s has no published snapshots", runID)).WithBackup(meta.dir)
	}
	return s.Load(runID, meta.Batches[len(meta.Batches)-1].Index)
}

// Pin protects a run arena from pruning until the returned func is called.
// Pins nest.
func (s *Store) Pin(runID string) func() {
	s.mu.Lock()
	s.pinned[runID]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.pinned[runID]--; s.pinned[runID] <= 0 {
				delete(s.pinned, runID)
			}
		})
	}
}

func (s *Store) protected(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned[runID] > 0 || s.active[runID]
}

// LockHolder reports whether the caller owns the repository run lock
type LockHolder interface {
	Held() bool
}

// Prune removes run arenas created before now-retention. Pinned and active
// runs are never removed. Arenas without a finish time belong to a run or
// restore that may be live in another process; they are removed only when
// holder owns the run lock, which proves their run has died. It returns the
// ids of removed runs.
func (s *Store) Prune(now time.Time, retention time.Duration, holder LockHolder) ([]string, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention)

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup root: %w", err)
	}

	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		runID := e.Name()
		if s.protected(runID) {
			continue
		}

		created, finished, ok := s.createdAt(runID, e)
		if !ok || !created.Before(cutoff) {
			continue
		}
		if !finished && !lockHeld(holder) {
			s.logger.Debug("skipping unfinished run arena", "run_id", runID)
			continue
		}

		if err := os.RemoveAll(filepath.Join(s.root, runID)); err != nil {
			return removed, fmt.Errorf("remove run arena %s: %w", runID, err)
		}
		removed = append(removed, runID)
		s.logger.Info("pruned run arena", "run_id", runID, "created_at", created)
	}
	return removed, nil
}

// createdAt returns when runID's arena was created and whether its run
// finished. Arenas without readable metadata count as unfinished.
func (s *Store) createdAt(runID string, e os.DirEntry) (time.Time, bool, bool) {
	if meta, err := s.readMeta(runID); err == nil {
		return meta.CreatedAt, meta.FinishedAt != nil, true
	}
	if ts, _, found := strings.Cut(runID, "-"); found {
		if t, err := time.Parse(TimestampFormat, ts); err == nil {
			return t, false, true
		}
	}
	info, err := e.Info()
	if err != nil {
		return time.Time{}, false, false
	}
	return info.ModTime(), false, true
}

func lockHeld(holder LockHolder) bool {
	return holder != nil && holder.Held()
}

func (s *Store) readMeta(runID string) (*RunMeta, error) {
	dir := filepath.Join(s.root, runID)

	var meta RunMeta
	if err := fsutil.ReadJSON(filepath.Join(dir, runMetaFile), &meta); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeSnapshotNotFound,
				fmt.Sprintf("run %s has no snapshot arena", runID)).WithBackup(dir)
		}
		return nil, errors.Wrap(errors.ErrCodeSnapshotNotFound, "read run metadata", err).WithBackup(dir)
	}
	meta.dir = dir
	return &meta, nil
}

func (s *Store) deactivate(runID string) {
	s.mu.Lock()
	delete(s.active, runID)
	s.mu.Unlock()
}

func batchDirName(index int) string {
	return fmt.Sprintf("batch-%03d", index)
}
