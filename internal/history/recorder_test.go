package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/batchguard/internal/breaker"
	"github.com/felixgeelhaar/batchguard/internal/errors"
)

func TestRecordAndReadEvents(t *testing.T) {
	r, err := NewRecorder(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Record("run-1", EventRunStarted, NoBatch, map[string]any{"tasks": 3}))
	require.NoError(t, r.Record("run-2", EventRunStarted, NoBatch, nil))
	require.NoError(t, r.Record("run-1", EventSnapshotTaken, 0, map[string]any{"files": []string{"a.go", "<b>.go"}}))

	events, err := r.Events("run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventRunStarted, events[0].Type)
	assert.Equal(t, NoBatch, events[0].Batch)
	assert.Equal(t, EventSnapshotTaken, events[1].Type)
	assert.Equal(t, 0, events[1].Batch)
	assert.NotEmpty(t, events[1].Checksum)

	all, err := r.Events("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTamperedEventFailsVerification(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRecorder(dir)
	require.NoError(t, err)
	require.NoError(t, r.Record("run-1", EventRunFinished, NoBatch, map[string]string{"status": "completed"}))
	require.NoError(t, r.Close())

	path := filepath.Join(dir, eventsFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "completed", "rolledBack", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o640))

	r2, err := NewRecorder(dir)
	require.NoError(t, err)
	defer r2.Close()

	_, err = r2.Events("run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum")
}

func TestRunRecordsAreWriteOnce(t *testing.T) {
	r, err := NewRecorder(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	older := &RunRecord{RunID: "run-a", StartedAt: time.Now().Add(-time.Hour), Status: breaker.StatusCompleted}
	newer := &RunRecord{
		RunID:     "run-b",
		StartedAt: time.Now(),
		Status:    breaker.StatusRolledBack,
		Error:     FromError(errors.NewValidationBlockingFailure(2, []string{"tests"}, []string{"a.go"})),
	}
	require.NoError(t, r.WriteRun(older))
	require.NoError(t, r.WriteRun(newer))

	assert.Error(t, r.WriteRun(older), "run records are never rewritten")

	runs, err := r.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-b", runs[0].RunID)

	loaded, err := r.LoadRun("run-b")
	require.NoError(t, err)
	require.NotNil(t, loaded.Error)
	assert.Equal(t, string(errors.ErrCodeValidationBlocking), loaded.Error.Code)
	assert.Equal(t, 2, loaded.Error.Batch)
	assert.Equal(t, []string{"a.go"}, loaded.Error.Files)

	_, err = r.LoadRun("missing")
	assert.Equal(t, errors.ErrCodeFileNotFound, errors.CodeOf(err))
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil))

	plain := FromError(fmt.Errorf("disk on fire"))
	assert.Equal(t, "disk on fire", plain.Message)
	assert.Equal(t, NoBatch, plain.Batch)
}
