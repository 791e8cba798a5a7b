package exec

import (
	"context"
	"time"

	"github.com/felixgeelhaar/batchguard/internal/manifest"
)

// Status is the terminal state a task reports
type Status string

const (
	StatusSuccess     Status = "success"
	StatusRecoverable Status = "recoverable"
	StatusFatal       Status = "fatal"

	// StatusCancelled is assigned by the executor to tasks that observed a
	// sibling's fatal failure or never started.
	StatusCancelled Status = "cancelled"
)

// Outcome is what a Runner reports for one attempt
type Outcome struct {
	Status Status
	Err    error
	Detail string
}

// Success reports a successful attempt
func Success(detail string) Outcome {
	return Outcome{Status: StatusSuccess, Detail: detail}
}

// Recoverable reports a failure worth retrying
func Recoverable(err error) Outcome {
	return Outcome{Status: StatusRecoverable, Err: err}
}

// Fatal reports a failure that must stop the batch
func Fatal(err error) Outcome {
	return Outcome{Status: StatusFatal, Err: err}
}

// Runner executes one task. Implementations must watch ctx.Done() at safe
// checkpoints and return promptly once it is closed; the executor never
// kills in-flight work.
type Runner interface {
	Run(ctx context.Context, task manifest.Task) Outcome
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context, task manifest.Task) Outcome

// Run calls f
func (f RunnerFunc) Run(ctx context.Context, task manifest.Task) Outcome {
	return f(ctx, task)
}

// TaskResult is the terminal record of one task in a batch
type TaskResult struct {
	TaskID   string        `json:"task_id"`
	Status   Status        `json:"status"`
	Started  bool          `json:"started"`
	Attempts int           `json:"attempts"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	Err error `json:"-"`
}

// BatchResult is returned once every task of a batch reached a terminal state
type BatchResult struct {
	Index     int           `json:"index"`
	Results   []TaskResult  `json:"results"`
	Failed    bool          `json:"failed"`
	FatalTask string        `json:"fatal_task,omitempty"`
	Duration  time.Duration `json:"duration"`

	// Err is a TaskFatalFailure, or a RUN-001 error when the caller's
	// context ended the batch.
	Err error `json:"-"`
}

// Count returns how many tasks ended with status
func (b *BatchResult) Count(status Status) int {
	n := 0
	for _, r := range b.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// Result looks up the record of one task
func (b *BatchResult) Result(taskID string) (TaskResult, bool) {
	for _, r := range b.Results {
		if r.TaskID == taskID {
			return r, true
		}
	}
	return TaskResult{}, false
}
