package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/fsutil"
	"github.com/felixgeelhaar/batchguard/internal/log"
)

func setup(t *testing.T) (repo string, store *Store) {
	t.Helper()
	repo = t.TempDir()
	return repo, NewStore(repo, filepath.Join(t.TempDir(), "backups"), log.Discard())
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCapturePublishesSnapshot(t *testing.T) {
	repo, store := setup(t)
	writeFile(t, repo, "src/a.go", "package a")
	writeFile(t, repo, "b.txt", "bee")

	arena, err := store.BeginRun(time.Now())
	require.NoError(t, err)

	snap, err := arena.Capture(context.Background(), 0, []string{"src/a.go", "b.txt", "src/a.go", "new.go"})
	require.NoError(t, err)

	assert.Equal(t, []string{"b.txt", "new.go", "src/a.go"}, snap.Files())
	assert.True(t, snap.Entries[1].Absent)
	assert.Equal(t, fsutil.ChecksumBytes([]byte("package a")), snap.Entries[2].Checksum)

	blob, err := os.ReadFile(snap.BlobPath(snap.Entries[2]))
	require.NoError(t, err)
	assert.Equal(t, "package a", string(blob))

	_, err = os.Stat(filepath.Join(arena.Dir(), "batch-000.partial"))
	assert.True(t, os.IsNotExist(err), "partial directory must be gone after publish")

	loaded, err := store.Load(arena.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, snap.Entries, loaded.Entries)
	assert.Equal(t, snap.Dir(), loaded.Dir())

	meta := arena.Meta()
	require.Len(t, meta.Batches, 1)
	assert.Equal(t, 3, meta.FileCount)
	assert.Equal(t, []string{"new.go"}, meta.Batches[0].Absent)
}

func TestCaptureFailureDiscardsPartial(t *testing.T) {
	repo, store := setup(t)
	writeFile(t, repo, "ok.go", "ok")
	require.NoError(t, os.MkdirAll(filepath.Join(repo, "dir.go"), 0o755))

	arena, err := store.BeginRun(time.Now())
	require.NoError(t, err)

	_, err = arena.Capture(context.Background(), 2, []string{"ok.go", "dir.go"})
	require.Error(t, err)

	var coded *errors.Error
	require.True(t, errors.As(err, &coded))
	assert.Equal(t, errors.ErrCodeSnapshotFailed, coded.Code)
	assert.Equal(t, 2, coded.Batch)
	assert.Equal(t, []string{"dir.go"}, coded.Files)

	entries, err := os.ReadDir(arena.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), "batch-002", "nothing of the failed batch may remain")
	}

	_, err = store.Load(arena.ID(), 2)
	assert.Equal(t, errors.ErrCodeSnapshotNotFound, errors.CodeOf(err))
}

func TestCaptureRefusesRepublish(t *testing.T) {
	repo, store := setup(t)
	writeFile(t, repo, "a.go", "a")

	arena, err := store.BeginRun(time.Now())
	require.NoError(t, err)

	_, err = arena.Capture(context.Background(), 0, []string{"a.go"})
	require.NoError(t, err)
	_, err = arena.Capture(context.Background(), 0, []string{"a.go"})
	assert.Equal(t, errors.ErrCodeSnapshotFailed, errors.CodeOf(err))
}

func TestCaptureHonoursCancellation(t *testing.T) {
	repo, store := setup(t)
	writeFile(t, repo, "a.go", "a")

	arena, err := store.BeginRun(time.Now())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = arena.Capture(ctx, 0, []string{"a.go"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListOpenLatest(t *testing.T) {
	repo, store := setup(t)
	writeFile(t, repo, "a.go", "a")

	arena, err := store.BeginRun(time.Now())
	require.NoError(t, err)
	_, err = arena.Capture(context.Background(), 0, []string{"a.go"})
	require.NoError(t, err)
	_, err = arena.Capture(context.Background(), 1, []string{"a.go"})
	require.NoError(t, err)
	require.NoError(t, arena.Finalize())

	runs, err := store.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.Len(t, runs[0].Batches, 2)

	latest, err := store.Latest(arena.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Batch)

	opened, err := store.Open(arena.ID())
	require.NoError(t, err)
	_, err = opened.Capture(context.Background(), 2, []string{"a.go"})
	assert.Error(t, err, "opened arenas are read-only")

	_, err = store.Open("missing")
	assert.Equal(t, errors.ErrCodeSnapshotNotFound, errors.CodeOf(err))
}

func TestPruneSkipsActivePinnedAndRecent(t *testing.T) {
	_, store := setup(t)
	now := time.Now().UTC()

	old, err := store.BeginRun(now.Add(-48 * time.Hour))
	require.NoError(t, err)
	require.NoError(t, old.Finalize())

	pinned, err := store.BeginRun(now.Add(-47 * time.Hour))
	require.NoError(t, err)
	require.NoError(t, pinned.Finalize())
	unpin := store.Pin(pinned.ID())

	active, err := store.BeginRun(now.Add(-46 * time.Hour))
	require.NoError(t, err)

	recent, err := store.BeginRun(now.Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, recent.Finalize())

	removed, err := store.Prune(now, DefaultRetention, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{old.ID()}, removed)

	unpin()
	require.NoError(t, active.Finalize())

	removed, err = store.Prune(now, DefaultRetention, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{pinned.ID(), active.ID()}, removed)

	runs, err := store.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, recent.ID(), runs[0].RunID)
}

type heldLock bool

func (h heldLock) Held() bool { return bool(h) }

func TestPruneKeepsUnfinishedArenaOfOtherProcess(t *testing.T) {
	repo, live := setup(t)
	writeFile(t, repo, "a.go", "package a")
	now := time.Now().UTC()

	arena, err := live.BeginRun(now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = arena.Capture(context.Background(), 0, []string{"a.go"})
	require.NoError(t, err)

	// A second store over the same root knows nothing of live's pins.
	other := NewStore(repo, live.Root(), log.Discard())

	removed, err := other.Prune(now, time.Second, nil)
	require.NoError(t, err)
	assert.Empty(t, removed)

	removed, err = other.Prune(now, time.Second, heldLock(false))
	require.NoError(t, err)
	assert.Empty(t, removed)

	snap, err := other.Load(arena.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Batch)

	removed, err = other.Prune(now, time.Second, heldLock(true))
	require.NoError(t, err)
	assert.Equal(t, []string{arena.ID()}, removed)
}

func TestBeginRejectsReusedID(t *testing.T) {
	_, store := setup(t)
	now := time.Now()
	id := NewRunID(now)

	arena, err := store.Begin(id, now)
	require.NoError(t, err)
	assert.Equal(t, id, arena.ID())

	_, err = store.Begin(id, now)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeSnapshotFailed))
}
