// Package plan partitions a manifest into an ordered sequence of batches
// whose tasks can run concurrently without touching the same file.
package plan

import "time"

// Plan is the output of the batch planner
type Plan struct {
	Fingerprint string     `json:"fingerprint" yaml:"fingerprint"`
	CreatedAt   time.Time  `json:"created_at" yaml:"created_at"`
	Order       []string   `json:"order" yaml:"order"`
	Batches     []Batch    `json:"batches" yaml:"batches"`
	Tasks       []Entry    `json:"tasks" yaml:"tasks"`
	Conflicts   []Conflict `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`
	Metrics     Metrics    `json:"metrics" yaml:"metrics"`
	Warnings    []string   `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Batch is a set of tasks that may run concurrently
type Batch struct {
	Index    int      `json:"index" yaml:"index"`
	Tasks    []string `json:"tasks" yaml:"tasks"`
	Files    []string `json:"files" yaml:"files"`
	Parallel bool     `json:"parallel" yaml:"parallel"`
	Reason   string   `json:"reason" yaml:"reason"`
}

// Entry records where a task landed and what it declared
type Entry struct {
	ID    string   `json:"id" yaml:"id"`
	Batch int      `json:"batch" yaml:"batch"`
	Files []string `json:"files" yaml:"files"`
	Deps  []string `json:"deps,omitempty" yaml:"deps,omitempty"`
}

// Conflict is a pair of tasks that share files and so never share a batch.
// A is scheduled in the earlier batch.
type Conflict struct {
	A     string   `json:"a" yaml:"a"`
	B     string   `json:"b" yaml:"b"`
	Files []string `json:"files" yaml:"files"`
}

// Metrics summarizes how much parallelism the plan achieves
type Metrics struct {
	TotalTasks             int     `json:"total_tasks" yaml:"total_tasks"`
	TotalBatches           int     `json:"total_batches" yaml:"total_batches"`
	ParallelTasks          int     `json:"parallel_tasks" yaml:"parallel_tasks"`
	ParallelizationPercent float64 `json:"parallelization_percent" yaml:"parallelization_percent"`
	SpeedupFactor          float64 `json:"speedup_factor" yaml:"speedup_factor"`
}

// Batch returns the batch at index, if any
func (p *Plan) Batch(index int) (Batch, bool) {
	if index < 0 || index >= len(p.Batches) {
		return Batch{}, false
	}
	return p.Batches[index], true
}

// Entry looks up the placement of a task
func (p *Plan) Entry(id string) (Entry, bool) {
	for _, e := range p.Tasks {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}
