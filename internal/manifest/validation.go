package manifest

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/felixgeelhaar/batchguard/internal/domain"
	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/fsutil"
)

// New validates records and builds the immutable manifest. It rejects
// missing, malformed and duplicate ids, self-dependencies, dependencies on
// unknown tasks and paths outside the repository.
func New(records []Record) (*Manifest, error) {
	m := &Manifest{
		tasks: make([]Task, 0, len(records)),
		index: make(map[string]int, len(records)),
	}

	for i, rec := range records {
		if rec.ID == "" {
			return nil, errors.NewManifestError(errors.ErrCodeManifestMissingID,
				fmt.Sprintf("task at index %d has no id", i))
		}
		if _, err := domain.NewTaskID(rec.ID); err != nil {
			return nil, errors.NewManifestError(errors.ErrCodeManifestInvalid,
				fmt.Sprintf("task at index %d: %v", i, err), rec.ID)
		}
		if prev, dup := m.index[rec.ID]; dup {
			return nil, errors.NewManifestError(errors.ErrCodeManifestDuplicate,
				fmt.Sprintf("duplicate task id %q at index %d (first declared at index %d)", rec.ID, i, prev), rec.ID)
		}

		task, err := newTask(rec)
		if err != nil {
			return nil, err
		}
		if len(task.files) == 0 {
			m.warnings = append(m.warnings, fmt.Sprintf("task %q declares no file modifications", rec.ID))
		}

		m.index[rec.ID] = len(m.tasks)
		m.tasks = append(m.tasks, task)
	}

	for _, task := range m.tasks {
		for _, dep := range task.deps {
			if _, ok := m.index[dep]; !ok {
				return nil, errors.NewManifestError(errors.ErrCodeManifestUnknownDep,
					fmt.Sprintf("task %q depends on unknown task %q", task.id, dep), task.id)
			}
		}
	}

	fp, err := fingerprint(m.tasks)
	if err != nil {
		return nil, err
	}
	m.fingerprint = fp

	return m, nil
}

func newTask(rec Record) (Task, error) {
	fileSet := make(map[string]struct{}, len(rec.FileModifications))
	for j, raw := range rec.FileModifications {
		p, err := domain.NewRelPath(raw)
		if err != nil {
			return Task{}, errors.NewManifestError(errors.ErrCodeManifestInvalid,
				fmt.Sprintf("task %q file_modifications[%d]: %v", rec.ID, j, err), rec.ID)
		}
		fileSet[p.String()] = struct{}{}
	}

	depSet := make(map[string]struct{}, len(rec.Dependencies))
	for _, dep := range rec.Dependencies {
		if dep == rec.ID {
			return Task{}, errors.NewManifestError(errors.ErrCodeManifestSelfDep,
				fmt.Sprintf("task %q depends on itself", rec.ID), rec.ID)
		}
		if dep == "" {
			return Task{}, errors.NewManifestError(errors.ErrCodeManifestUnknownDep,
				fmt.Sprintf("task %q has an empty dependency id", rec.ID), rec.ID)
		}
		depSet[dep] = struct{}{}
	}

	return Task{
		id:          rec.ID,
		description: rec.Description,
		owner:       rec.Owner,
		files:       sortedKeys(fileSet),
		deps:        sortedKeys(depSet),
		fileSet:     fileSet,
	}, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fingerprint(tasks []Task) (string, error) {
	canonical := make([]Record, len(tasks))
	for i, t := range tasks {
		canonical[i] = t.Record()
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("canonicalize manifest: %w", err)
	}
	return fsutil.ChecksumBytes(data), nil
}
