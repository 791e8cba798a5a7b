// Package exec runs the tasks of one batch concurrently behind a completion
// barrier, with retries for recoverable failures and cooperative
// cancellation after a fatal one.
package exec

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/log"
	"github.com/felixgeelhaar/batchguard/internal/manifest"
)

// Options tunes the executor
type Options struct {
	// Workers bounds concurrent tasks; 0 means runtime.NumCPU()
	Workers int

	// TaskTimeout bounds a single attempt; 0 disables it
	TaskTimeout time.Duration

	// MaxRetries is how often a recoverable failure is retried before it
	// is escalated to fatal
	MaxRetries int
	RetryDelay time.Duration

	Logger *log.Logger
}

// Executor runs batches
type Executor struct {
	runner Runner
	opts   Options
	logger *log.Logger
}

// NewExecutor creates an executor around runner
func NewExecutor(runner Runner, opts Options) *Executor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Executor{
		runner: runner,
		opts:   opts,
		logger: log.OrDefault(opts.Logger).With("component", "executor"),
	}
}

// Workers returns the pool size
func (e *Executor) Workers() int { return e.opts.Workers }

// RunBatch runs every task of the batch and returns only after each one has
// reported a terminal status. The first fatal failure cancels the batch
// context; tasks still queued are then marked cancelled without running.
func (e *Executor) RunBatch(ctx context.Context, batch int, tasks []manifest.Task) *BatchResult {
	start := time.Now()
	logger := e.logger.ForBatch(batch)

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]TaskResult, len(tasks))

	var (
		mu    sync.Mutex
		fatal *TaskResult
	)

	g := new(errgroup.Group)
	g.SetLimit(e.opts.Workers)

	for i, task := range tasks {
		g.Go(func() error {
			if batchCtx.Err() != nil {
				results[i] = TaskResult{TaskID: task.ID(), Status: StatusCancelled, Detail: "not started"}
				return nil
			}

			res := e.runTask(batchCtx, logger, task)
			results[i] = res

			if res.Status == StatusFatal {
				mu.Lock()
				if fatal == nil {
					fatal = &results[i]
					logger.Warn("fatal task failure, cancelling batch", "task", task.ID(), "error", res.Error)
					cancel()
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	br := &BatchResult{
		Index:    batch,
		Results:  results,
		Duration: time.Since(start),
	}

	switch {
	case fatal != nil:
		br.Failed = true
		br.FatalTask = fatal.TaskID
		br.Err = errors.NewTaskFatalFailure(batch, fatal.TaskID, fatal.Err)
	case ctx.Err() != nil:
		br.Failed = true
		br.Err = errors.Wrap(errors.ErrCodeRunAborted, "batch interrupted", ctx.Err()).WithBatch(batch)
	}

	logger.Info("batch finished",
		"tasks", len(tasks),
		"succeeded", br.Count(StatusSuccess),
		"cancelled", br.Count(StatusCancelled),
		"failed", br.Failed,
		"duration", br.Duration)
	return br
}

func (e *Executor) runTask(ctx context.Context, logger *log.Logger, task manifest.Task) TaskResult {
	res := TaskResult{TaskID: task.ID(), Started: true}
	start := time.Now()

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		out := e.attempt(ctx, task)

		// A batch cancelled under a task turns any failure into a cancellation.
		if ctx.Err() != nil && out.Status != StatusSuccess && out.Status != StatusFatal {
			out.Status = StatusCancelled
		}

		if out.Status == StatusRecoverable && attempt <= e.opts.MaxRetries {
			logger.Warn("recoverable task failure, retrying",
				"task", task.ID(), "attempt", attempt, "error", out.Err)
			if sleep(ctx, e.opts.RetryDelay) {
				continue
			}
			out.Status = StatusCancelled
		}

		if out.Status == StatusRecoverable {
			out = Fatal(fmt.Errorf("retries exhausted after %d attempts: %w", attempt, out.Err))
		}

		res.Status = out.Status
		res.Detail = out.Detail
		res.Err = out.Err
		if out.Err != nil {
			res.Error = out.Err.Error()
		}
		res.Duration = time.Since(start)
		return res
	}
}

func (e *Executor) attempt(ctx context.Context, task manifest.Task) (out Outcome) {
	taskCtx := ctx
	if e.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, e.opts.TaskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			out = Fatal(fmt.Errorf("task panicked: %v", r))
		}
	}()

	out = e.runner.Run(taskCtx, task)
	switch {
	case out.Status == StatusSuccess, out.Status == StatusRecoverable, out.Status == StatusFatal:
	case out.Status == StatusCancelled && taskCtx.Err() != nil:
	default:
		out = unknownStatus(out)
	}

	if out.Status != StatusSuccess && ctx.Err() == nil && taskCtx.Err() == context.DeadlineExceeded {
		out = Fatal(fmt.Errorf("task exceeded timeout of %s", e.opts.TaskTimeout))
	}
	return out
}

// unknownStatus turns anything but the three runner results, or a
// cancellation nobody asked for, into a fatal failure.
func unknownStatus(out Outcome) Outcome {
	msg := fmt.Sprintf("runner returned unknown status %q", out.Status)
	if out.Status == "" {
		msg = "runner returned no status"
	}
	err := fmt.Errorf("%s", msg)
	if out.Err != nil {
		err = fmt.Errorf("%s: %w", msg, out.Err)
	}
	return Outcome{Status: StatusFatal, Err: err, Detail: out.Detail}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
