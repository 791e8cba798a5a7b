// Package hooks notifies external systems about run outcomes. Hooks are
// best effort: a failing hook is logged and never changes how a run ends.
package hooks

import (
	"context"
	"time"
)

// EventType represents the type of run lifecycle event
type EventType string

const (
	// EventRunFinished fires once per run with its terminal status
	EventRunFinished EventType = "run_finished"

	// EventRollbackCompleted fires after a batch snapshot was restored and verified
	EventRollbackCompleted EventType = "rollback_completed"

	// EventRollbackFailed fires when restored files did not match their
	// snapshot; the repository needs manual recovery
	EventRollbackFailed EventType = "rollback_failed"

	// EventCircuitOpen fires when the breaker opened after a failed run
	EventCircuitOpen EventType = "circuit_open"
)

// EventTypes lists every event a hook can subscribe to
var EventTypes = []EventType{EventRunFinished, EventRollbackCompleted, EventRollbackFailed, EventCircuitOpen}

// Event is the payload handed to hooks
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id"`

	// Batch is -1 for run-level events
	Batch int `json:"batch"`

	// Status is the terminal run status for run_finished
	Status string `json:"status,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Files lists restored or mismatched files for rollback events
	Files []string `json:"files,omitempty"`

	BackupPath string `json:"backup_path,omitempty"`
}

// NewEvent creates an event stamped with the current time
func NewEvent(eventType EventType, runID string, batch int) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		RunID:     runID,
		Batch:     batch,
	}
}

// Hook is the interface that all hooks must implement
type Hook interface {
	// Name returns the hook name
	Name() string

	// EventTypes returns the events this hook handles
	EventTypes() []EventType

	// Execute runs the hook for an event
	Execute(ctx context.Context, event *Event) error
}

// Config represents hook configuration
type Config struct {
	// Name of the hook
	Name string `mapstructure:"name" yaml:"name" json:"name"`

	// Type of hook: script, webhook or slack
	Type string `mapstructure:"type" yaml:"type" json:"type"`

	// Events this hook should trigger on
	Events []EventType `mapstructure:"events" yaml:"events" json:"events"`

	// Disabled hooks are kept in the config but never registered
	Disabled bool `mapstructure:"disabled" yaml:"disabled,omitempty" json:"disabled,omitempty"`

	// Config contains hook-specific configuration
	Config map[string]any `mapstructure:"config" yaml:"config,omitempty" json:"config,omitempty"`

	// Timeout for hook execution; DefaultTimeout when zero
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// ExecutionResult contains the result of hook execution
type ExecutionResult struct {
	HookName  string        `json:"hook_name"`
	EventType EventType     `json:"event_type"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Factory creates hooks from configuration
type Factory func(cfg Config) (Hook, error)

// DefaultTimeout is the default hook execution timeout
const DefaultTimeout = 30 * time.Second

// IsValidEventType checks if t names a known event
func IsValidEventType(t EventType) bool {
	for _, valid := range EventTypes {
		if t == valid {
			return true
		}
	}
	return false
}
