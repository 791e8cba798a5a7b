package breaker

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/batchguard/internal/errors"
)

func TestOpensAtThreshold(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "breaker.json"), 3)

	for i := 0; i < 2; i++ {
		_, err := b.Record(StatusRolledBack)
		require.NoError(t, err)
		require.NoError(t, b.Check())
	}

	st, err := b.Record(StatusAborted)
	require.NoError(t, err)
	assert.True(t, st.Open)
	assert.NotNil(t, st.OpenedAt)

	err = b.Check()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeCircuitOpen, errors.CodeOf(err))
}

func TestCompletedResetsCounter(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "breaker.json"), 2)

	_, err := b.Record(StatusRolledBack)
	require.NoError(t, err)
	st, err := b.Record(StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 0, st.ConsecutiveFailures)

	st, err = b.Record(StatusRolledBack)
	require.NoError(t, err)
	assert.False(t, st.Open, "a single failure after a success must not open the circuit")
}

func TestStatePersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "breaker.json")

	first := New(path, 1)
	_, err := first.Record(StatusAborted)
	require.NoError(t, err)

	second := New(path, 1)
	assert.Error(t, second.Check())

	require.NoError(t, second.Reset())
	assert.NoError(t, first.Check())

	st, err := first.State()
	require.NoError(t, err)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.Equal(t, StatusAborted, st.LastStatus)
}

func TestDefaults(t *testing.T) {
	b := New(filepath.Join(t.TempDir(), "b.json"), 0)
	assert.Equal(t, DefaultThreshold, b.Threshold())

	st, err := b.State()
	require.NoError(t, err)
	assert.False(t, st.Open)

	_, err = b.Record("bogus")
	assert.Error(t, err)
}
