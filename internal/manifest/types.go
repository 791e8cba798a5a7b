// Package manifest is the task descriptor store: it parses a manifest of
// task records into immutable Task values and rejects malformed input
// before any planning happens.
package manifest

import "sort"

// Record is one task entry as written in the manifest file
type Record struct {
	ID                string   `yaml:"id" json:"id"`
	Description       string   `yaml:"description,omitempty" json:"description,omitempty"`
	Owner             string   `yaml:"owner,omitempty" json:"owner,omitempty"`
	FileModifications []string `yaml:"file_modifications" json:"file_modifications"`
	Dependencies      []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
}

// Task is a validated, immutable unit of work. Accessors return copies.
type Task struct {
	id          string
	description string
	owner       string
	files       []string
	deps        []string
	fileSet     map[string]struct{}
}

// ID returns the unique task id
func (t Task) ID() string { return t.id }

// Description returns the free-form description
func (t Task) Description() string { return t.description }

// Owner returns the free-form owner tag
func (t Task) Owner() string { return t.owner }

// Files returns the sorted, normalized repository-relative paths the task modifies
func (t Task) Files() []string {
	return append([]string(nil), t.files...)
}

// Deps returns the sorted ids of the tasks this task explicitly follows
func (t Task) Deps() []string {
	return append([]string(nil), t.deps...)
}

// HasFile reports whether the task declares path in its file set
func (t Task) HasFile(path string) bool {
	_, ok := t.fileSet[path]
	return ok
}

// DependsOn reports whether id is a direct explicit dependency
func (t Task) DependsOn(id string) bool {
	i := sort.SearchStrings(t.deps, id)
	return i < len(t.deps) && t.deps[i] == id
}

// Record converts the task back into its normalized manifest form
func (t Task) Record() Record {
	return Record{
		ID:                t.id,
		Description:       t.description,
		Owner:             t.owner,
		FileModifications: t.Files(),
		Dependencies:      t.Deps(),
	}
}

// Manifest is the validated task set of one invocation
type Manifest struct {
	tasks       []Task
	index       map[string]int
	warnings    []string
	fingerprint string
}

// Tasks returns the tasks in declaration order
func (m *Manifest) Tasks() []Task {
	return append([]Task(nil), m.tasks...)
}

// Task looks a task up by id
func (m *Manifest) Task(id string) (Task, bool) {
	i, ok := m.index[id]
	if !ok {
		return Task{}, false
	}
	return m.tasks[i], true
}

// Position returns the declaration index of id, or -1
func (m *Manifest) Position(id string) int {
	if i, ok := m.index[id]; ok {
		return i
	}
	return -1
}

// Len returns the number of tasks
func (m *Manifest) Len() int { return len(m.tasks) }

// Warnings lists non-fatal findings such as tasks with an empty file set
func (m *Manifest) Warnings() []string {
	return append([]string(nil), m.warnings...)
}

// Fingerprint is a blake3 digest of the normalized task list. Two manifests
// that normalize to the same tasks in the same order share a fingerprint.
func (m *Manifest) Fingerprint() string { return m.fingerprint }
