package exec

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/batchguard/internal/fsutil"
)

// TaskRecord is the audit record of one command attempt: what ran, how it
// ended and how the declared files changed.
type TaskRecord struct {
	Timestamp    time.Time         `json:"timestamp"`
	TaskID       string            `json:"task_id"`
	Command      string            `json:"command"`
	Env          []string          `json:"env,omitempty"`
	ExitCode     int               `json:"exit_code"`
	Duration     string            `json:"duration"`
	InputHashes  map[string]string `json:"input_hashes"`
	OutputHashes map[string]string `json:"output_hashes"`
}

// NewTaskRecord starts a record for a command about to run
func NewTaskRecord(taskID, command string, env []string) *TaskRecord {
	return &TaskRecord{
		Timestamp:    time.Now().UTC(),
		TaskID:       taskID,
		Command:      command,
		Env:          env,
		InputHashes:  make(map[string]string),
		OutputHashes: make(map[string]string),
	}
}

// Complete copies the process outcome into the record
func (r *TaskRecord) Complete(res *CommandResult) {
	r.ExitCode = res.ExitCode
	r.Duration = res.Duration.String()
}

// ChangedFiles lists declared files whose content was created, modified or
// removed by the command
func (r *TaskRecord) ChangedFiles() []string {
	var changed []string
	for f, before := range r.InputHashes {
		if after, ok := r.OutputHashes[f]; !ok || after != before {
			changed = append(changed, f)
		}
	}
	for f := range r.OutputHashes {
		if _, ok := r.InputHashes[f]; !ok {
			changed = append(changed, f)
		}
	}
	sort.Strings(changed)
	return changed
}

// SaveTaskRecord writes a record to dir as <timestamp>_<task>.json
func SaveTaskRecord(record *TaskRecord, dir string) error {
	filename := fmt.Sprintf("%s_%s.json",
		record.Timestamp.Format("20060102_150405.000"),
		strings.ReplaceAll(record.TaskID, string(filepath.Separator), "_"))
	if err := fsutil.WriteJSON(filepath.Join(dir, filename), record); err != nil {
		return fmt.Errorf("write task record: %w", err)
	}
	return nil
}

// HashFile computes the blake3 hash of a file
func HashFile(path string) (string, error) {
	sum, err := fsutil.ChecksumFile(path)
	if err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return sum, nil
}
