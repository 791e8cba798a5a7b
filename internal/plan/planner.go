package plan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/batchguard/internal/conflict"
	"github.com/felixgeelhaar/batchguard/internal/graph"
	"github.com/felixgeelhaar/batchguard/internal/manifest"
)

// Build runs conflict detection, graph construction and leveling over a
// validated manifest.
func Build(m *manifest.Manifest) (*Plan, error) {
	tasks := m.Tasks()

	rel, err := conflict.Detect(tasks)
	if err != nil {
		return nil, fmt.Errorf("detect conflicts: %w", err)
	}

	g, err := graph.Build(tasks, rel)
	if err != nil {
		return nil, fmt.Errorf("build dependency graph: %w", err)
	}

	p := FromGraph(tasks, g, rel)
	p.Fingerprint = m.Fingerprint()
	p.Warnings = m.Warnings()
	return p, nil
}

// FromGraph levels an already built graph
func FromGraph(tasks []manifest.Task, g *graph.Graph, rel *conflict.Relation) *Plan {
	levels := GreedyLeveling(tasks, g, rel)

	p := &Plan{
		CreatedAt: time.Now().UTC(),
		Order:     g.Order(),
		Batches:   make([]Batch, len(levels)),
		Tasks:     make([]Entry, 0, len(tasks)),
	}

	byID := make(map[string]manifest.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID()] = t
	}

	for i, lvl := range levels {
		p.Batches[i] = Batch{
			Index:    i,
			Tasks:    lvl.Tasks,
			Files:    lvl.files(),
			Parallel: len(lvl.Tasks) > 1,
			Reason:   lvl.reason(),
		}
	}

	for _, id := range p.Order {
		t := byID[id]
		p.Tasks = append(p.Tasks, Entry{
			ID:    id,
			Batch: batchIndex(levels, id),
			Files: t.Files(),
			Deps:  t.Deps(),
		})
	}

	if rel != nil {
		for _, e := range rel.Edges() {
			a, b := e.A, e.B
			if batchIndex(levels, a) > batchIndex(levels, b) {
				a, b = b, a
			}
			p.Conflicts = append(p.Conflicts, Conflict{A: a, B: b, Files: e.Files})
		}
	}

	p.Metrics = ComputeMetrics(p.Batches)
	return p
}

// Level is one batch under construction
type Level struct {
	Tasks   []string
	fileSet map[string]struct{}
	notes   map[string]string
}

func (l *Level) files() []string {
	out := make([]string, 0, len(l.fileSet))
	for f := range l.fileSet {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (l *Level) disjoint(files []string) bool {
	for _, f := range files {
		if _, taken := l.fileSet[f]; taken {
			return false
		}
	}
	return true
}

func (l *Level) add(t manifest.Task, note string) {
	l.Tasks = append(l.Tasks, t.ID())
	for _, f := range t.Files() {
		l.fileSet[f] = struct{}{}
	}
	if note != "" {
		l.notes[t.ID()] = note
	}
}

func (l *Level) reason() string {
	if len(l.Tasks) > 1 {
		return fmt.Sprintf("%d tasks with disjoint file sets run in parallel", len(l.Tasks))
	}
	if note, ok := l.notes[l.Tasks[0]]; ok {
		return note
	}
	return "no other task could share this batch"
}

// GreedyLeveling assigns every task, in topological submission order, to the
// first batch at or after the batch following its latest explicit dependency
// whose aggregate file set is disjoint from the task's files, opening a new
// batch when none is. The result is valid and deterministic but is not
// guaranteed to use the minimum possible number of batches.
func GreedyLeveling(tasks []manifest.Task, g *graph.Graph, rel *conflict.Relation) []*Level {
	byID := make(map[string]manifest.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID()] = t
	}

	var levels []*Level
	batchOf := make(map[string]int, len(tasks))

	for _, id := range g.Order() {
		t := byID[id]
		files := t.Files()

		minBatch := 0
		latestDep := ""
		for _, dep := range g.Deps(id) {
			if b := batchOf[dep] + 1; b > minBatch {
				minBatch = b
				latestDep = dep
			}
		}

		placed := -1
		for b := minBatch; b < len(levels); b++ {
			if levels[b].disjoint(files) {
				placed = b
				break
			}
		}

		if placed >= 0 {
			levels[placed].add(t, "")
		} else {
			var note string
			switch {
			case minBatch < len(levels):
				note = "conflicts with " + strings.Join(blockers(levels[minBatch:], id, rel), ", ")
			case latestDep != "":
				note = fmt.Sprintf("waits for dependency %s (batch %d)", latestDep, batchOf[latestDep])
			}
			lvl := &Level{fileSet: make(map[string]struct{}), notes: make(map[string]string)}
			lvl.add(t, note)
			levels = append(levels, lvl)
			placed = len(levels) - 1
		}
		batchOf[id] = placed
	}

	return levels
}

func blockers(levels []*Level, id string, rel *conflict.Relation) []string {
	var out []string
	for _, lvl := range levels {
		for _, other := range lvl.Tasks {
			if rel != nil && rel.Conflicts(id, other) {
				out = append(out, other)
			}
		}
	}
	return out
}

func batchIndex(levels []*Level, id string) int {
	for i, lvl := range levels {
		for _, t := range lvl.Tasks {
			if t == id {
				return i
			}
		}
	}
	return -1
}

// ComputeMetrics derives parallelization and speedup from the batch sizes
func ComputeMetrics(batches []Batch) Metrics {
	m := Metrics{TotalBatches: len(batches)}
	for _, b := range batches {
		m.TotalTasks += len(b.Tasks)
		if len(b.Tasks) > 1 {
			m.ParallelTasks += len(b.Tasks)
		}
	}
	if m.TotalTasks == 0 || m.TotalBatches == 0 {
		return Metrics{}
	}
	m.ParallelizationPercent = 100 * float64(m.ParallelTasks) / float64(m.TotalTasks)
	m.SpeedupFactor = float64(m.TotalTasks) / float64(m.TotalBatches)
	return m
}
