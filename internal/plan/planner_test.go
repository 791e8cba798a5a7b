package plan

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/manifest"
)

func mustManifest(t *testing.T, records ...manifest.Record) *manifest.Manifest {
	t.Helper()
	m, err := manifest.New(records)
	require.NoError(t, err)
	return m
}

func batchTasks(p *Plan) [][]string {
	out := make([][]string, len(p.Batches))
	for i, b := range p.Batches {
		out[i] = b.Tasks
	}
	return out
}

func TestBuildDisjointTasksShareOneBatch(t *testing.T) {
	p, err := Build(mustManifest(t,
		manifest.Record{ID: "a", FileModifications: []string{"a.go"}},
		manifest.Record{ID: "b", FileModifications: []string{"b.go"}},
		manifest.Record{ID: "c", FileModifications: []string{"c.go"}},
	))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b", "c"}}, batchTasks(p))
	assert.True(t, p.Batches[0].Parallel)
	assert.Equal(t, 100.0, p.Metrics.ParallelizationPercent)
	assert.Equal(t, 3.0, p.Metrics.SpeedupFactor)
	assert.NoError(t, p.Validate())
}

func TestBuildChain(t *testing.T) {
	p, err := Build(mustManifest(t,
		manifest.Record{ID: "c", FileModifications: []string{"c.go"}, Dependencies: []string{"b"}},
		manifest.Record{ID: "b", FileModifications: []string{"b.go"}, Dependencies: []string{"a"}},
		manifest.Record{ID: "a", FileModifications: []string{"a.go"}},
	))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, batchTasks(p))
	assert.Equal(t, 1.0, p.Metrics.SpeedupFactor)
	assert.Equal(t, 0.0, p.Metrics.ParallelizationPercent)
	assert.Equal(t, "waits for dependency a (batch 0)", p.Batches[1].Reason)
	assert.NoError(t, p.Validate())
}

func TestBuildSharedFileIsSequential(t *testing.T) {
	orders := [][]string{{"a", "b", "c"}, {"c", "a", "b"}, {"b", "c", "a"}}
	for _, order := range orders {
		var records []manifest.Record
		for _, id := range order {
			records = append(records, manifest.Record{ID: id, FileModifications: []string{"shared.go", id + ".go"}})
		}

		p, err := Build(mustManifest(t, records...))
		require.NoError(t, err)

		assert.Len(t, p.Batches, 3, "order %v", order)
		for _, b := range p.Batches {
			assert.Len(t, b.Tasks, 1)
			assert.False(t, b.Parallel)
		}
		assert.Equal(t, order[0], p.Batches[0].Tasks[0], "earlier task claims the first batch")
		assert.Contains(t, p.Batches[1].Reason, "conflicts with "+order[0])
		assert.Len(t, p.Conflicts, 3)
		assert.NoError(t, p.Validate())
	}
}

func TestConflictsFollowScheduledBatches(t *testing.T) {
	p, err := Build(mustManifest(t,
		manifest.Record{ID: "a", FileModifications: []string{"a.go"}},
		manifest.Record{ID: "b", FileModifications: []string{"b.go", "shared.go"}, Dependencies: []string{"a"}},
		manifest.Record{ID: "c", FileModifications: []string{"c.go", "shared.go"}},
	))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "c"}, {"b"}}, batchTasks(p))
	require.Len(t, p.Conflicts, 1)
	assert.Equal(t, "c", p.Conflicts[0].A, "c runs in the earlier batch")
	assert.Equal(t, "b", p.Conflicts[0].B)
	assert.Equal(t, []string{"shared.go"}, p.Conflicts[0].Files)
}

func TestBuildDiamond(t *testing.T) {
	p, err := Build(mustManifest(t,
		manifest.Record{ID: "migration", FileModifications: []string{"db/001.sql"}},
		manifest.Record{ID: "model", FileModifications: []string{"models/user.go"}, Dependencies: []string{"migration"}},
		manifest.Record{ID: "routerA", FileModifications: []string{"routes/a.go"}, Dependencies: []string{"model"}},
		manifest.Record{ID: "routerB", FileModifications: []string{"routes/b.go"}, Dependencies: []string{"model"}},
		manifest.Record{ID: "componentA", FileModifications: []string{"ui/a.tsx"}, Dependencies: []string{"routerA", "routerB"}},
		manifest.Record{ID: "componentB", FileModifications: []string{"ui/b.tsx"}, Dependencies: []string{"routerA", "routerB"}},
	))
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"migration"},
		{"model"},
		{"routerA", "routerB"},
		{"componentA", "componentB"},
	}, batchTasks(p))
	assert.InDelta(t, 66.7, p.Metrics.ParallelizationPercent, 0.05)
	assert.Equal(t, 1.5, p.Metrics.SpeedupFactor)
	assert.Equal(t, []string{"routes/a.go", "routes/b.go"}, p.Batches[2].Files)
	assert.NoError(t, p.Validate())
}

func TestBuildConflictDoesNotDelayIndependentWork(t *testing.T) {
	// b conflicts with a; c is independent and joins the first batch.
	p, err := Build(mustManifest(t,
		manifest.Record{ID: "a", FileModifications: []string{"x.go"}},
		manifest.Record{ID: "b", FileModifications: []string{"x.go", "y.go"}},
		manifest.Record{ID: "c", FileModifications: []string{"z.go"}},
	))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "c"}, {"b"}}, batchTasks(p))
}

func TestBuildIsIdempotent(t *testing.T) {
	m := mustManifest(t,
		manifest.Record{ID: "a", FileModifications: []string{"x.go"}},
		manifest.Record{ID: "b", FileModifications: []string{"x.go"}},
		manifest.Record{ID: "c", FileModifications: []string{"y.go"}, Dependencies: []string{"a"}},
	)

	first, err := Build(m)
	require.NoError(t, err)
	second, err := Build(m)
	require.NoError(t, err)

	assert.True(t, Equal(first, second))
	assert.Equal(t, m.Fingerprint(), first.Fingerprint)
}

func TestBuildEmptyManifest(t *testing.T) {
	p, err := Build(mustManifest(t))
	require.NoError(t, err)
	assert.Empty(t, p.Batches)
	assert.Equal(t, Metrics{}, p.Metrics)
	assert.NoError(t, p.Validate())
}

func TestBuildCycle(t *testing.T) {
	_, err := Build(mustManifest(t,
		manifest.Record{ID: "a", Dependencies: []string{"b"}},
		manifest.Record{ID: "b", Dependencies: []string{"a"}},
	))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePlanCyclicDep, errors.CodeOf(err))
}

func TestValidateRejectsBrokenPlans(t *testing.T) {
	p, err := Build(mustManifest(t,
		manifest.Record{ID: "a", FileModifications: []string{"x.go"}},
		manifest.Record{ID: "b", FileModifications: []string{"x.go"}},
	))
	require.NoError(t, err)

	broken := *p
	broken.Batches = []Batch{{Index: 0, Tasks: []string{"a", "b"}, Files: []string{"x.go"}, Parallel: true}}
	broken.Tasks = []Entry{{ID: "a", Batch: 0, Files: []string{"x.go"}}, {ID: "b", Batch: 0, Files: []string{"x.go"}}}
	broken.Metrics = ComputeMetrics(broken.Batches)

	err = broken.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodePlanInvalid, errors.CodeOf(err))

	depBroken := Plan{
		Batches: []Batch{{Index: 0, Tasks: []string{"a", "b"}, Parallel: true}},
		Tasks:   []Entry{{ID: "a", Batch: 0}, {ID: "b", Batch: 0, Deps: []string{"a"}}},
	}
	depBroken.Metrics = ComputeMetrics(depBroken.Batches)
	assert.Error(t, depBroken.Validate())
}

func TestSaveLoad(t *testing.T) {
	p, err := Build(mustManifest(t,
		manifest.Record{ID: "a", FileModifications: []string{"a.go"}},
		manifest.Record{ID: "b", FileModifications: []string{"b.go"}, Dependencies: []string{"a"}},
	))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, Save(p, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, batchTasks(p), batchTasks(loaded))
	assert.Equal(t, p.Metrics, loaded.Metrics)
	assert.Equal(t, p.Fingerprint, loaded.Fingerprint)
	assert.True(t, SameSchedule(p, loaded))

	other, err := Build(mustManifest(t,
		manifest.Record{ID: "a", FileModifications: []string{"a.go"}},
		manifest.Record{ID: "b", FileModifications: []string{"b.go"}},
	))
	require.NoError(t, err)
	assert.False(t, SameSchedule(p, other))
}

func TestRender(t *testing.T) {
	p, err := Build(mustManifest(t,
		manifest.Record{ID: "a", FileModifications: []string{"x.go"}},
		manifest.Record{ID: "b", FileModifications: []string{"x.go"}},
		manifest.Record{ID: "c"},
	))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, p))

	out := buf.String()
	assert.Contains(t, out, "Batch 0")
	assert.Contains(t, out, "a <-> b: x.go")
	assert.Contains(t, out, "declares no file modifications")
	assert.Contains(t, out, "speedup: 1.50x")
}
