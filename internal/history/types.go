// Package history is the append-only audit trail: a checksummed JSONL event
// stream plus one write-once record per run.
package history

import (
	"encoding/json"
	"time"

	"github.com/felixgeelhaar/batchguard/internal/breaker"
	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/exec"
	"github.com/felixgeelhaar/batchguard/internal/gate"
	"github.com/felixgeelhaar/batchguard/internal/plan"
	"github.com/felixgeelhaar/batchguard/internal/rollback"
)

// EventType names an audit event
type EventType string

const (
	EventRunStarted          EventType = "run_started"
	EventPlanCreated         EventType = "plan_created"
	EventSnapshotTaken       EventType = "snapshot_taken"
	EventBatchExecuted       EventType = "batch_executed"
	EventValidationCompleted EventType = "validation_completed"
	EventRollbackCompleted   EventType = "rollback_completed"
	EventRollbackFailed      EventType = "rollback_failed"
	EventRunFinished         EventType = "run_finished"
	EventCircuitOpen         EventType = "circuit_open"
)

// NoBatch marks events that are not tied to a batch
const NoBatch = -1

// Event is one line of events.jsonl
type Event struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	RunID     string          `json:"run_id"`
	Batch     int             `json:"batch"`
	Data      json.RawMessage `json:"data,omitempty"`
	Checksum  string          `json:"checksum,omitempty"`
}

// SnapshotRef points at a published batch snapshot
type SnapshotRef struct {
	Batch  int      `json:"batch"`
	Dir    string   `json:"dir"`
	Files  []string `json:"files"`
	Absent []string `json:"absent,omitempty"`
}

// ErrorInfo is the serializable form of a terminal error
type ErrorInfo struct {
	Code       string   `json:"code,omitempty"`
	Message    string   `json:"message"`
	Batch      int      `json:"batch"`
	Tasks      []string `json:"tasks,omitempty"`
	Files      []string `json:"files,omitempty"`
	BackupPath string   `json:"backup_path,omitempty"`
}

// FromError converts err, keeping the recovery context of coded errors
func FromError(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	var coded *errors.Error
	if !errors.As(err, &coded) {
		return &ErrorInfo{Message: err.Error(), Batch: NoBatch}
	}
	return &ErrorInfo{
		Code:       string(coded.Code),
		Message:    coded.Message,
		Batch:      coded.Batch,
		Tasks:      coded.Tasks,
		Files:      coded.Files,
		BackupPath: coded.BackupPath,
	}
}

// RunRecord is the permanent record of one invocation
type RunRecord struct {
	RunID        string              `json:"run_id"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
	Status       breaker.RunStatus   `json:"status"`
	Fingerprint  string              `json:"fingerprint"`
	ManifestPath string              `json:"manifest_path,omitempty"`
	BackupDir    string              `json:"backup_dir,omitempty"`
	Plan         *plan.Plan          `json:"plan,omitempty"`
	Snapshots    []SnapshotRef       `json:"snapshots"`
	Executions   []*exec.BatchResult `json:"executions"`
	Validations  []*gate.Outcome     `json:"validations"`
	Rollback     *rollback.Result    `json:"rollback,omitempty"`
	Error        *ErrorInfo          `json:"error,omitempty"`
}
