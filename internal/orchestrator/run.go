package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/felixgeelhaar/batchguard/internal/breaker"
	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/exec"
	"github.com/felixgeelhaar/batchguard/internal/gate"
	"github.com/felixgeelhaar/batchguard/internal/history"
	"github.com/felixgeelhaar/batchguard/internal/hooks"
	"github.com/felixgeelhaar/batchguard/internal/log"
	"github.com/felixgeelhaar/batchguard/internal/manifest"
	"github.com/felixgeelhaar/batchguard/internal/plan"
	"github.com/felixgeelhaar/batchguard/internal/snapshot"
)

// run is the state of one Run invocation
type run struct {
	o      *Orchestrator
	logger *log.Logger
	plan   *plan.Plan
	m      *manifest.Manifest
	rec    *history.RunRecord
	arena  *snapshot.RunArena
}

// execute walks the batches and returns the terminal status. The lock is
// held on entry.
func (r *run) execute(ctx context.Context) (breaker.RunStatus, error) {
	o := r.o

	if removed, err := o.store.Prune(o.now(), o.opts.Retention, o.lock); err != nil {
		r.logger.Warn("snapshot retention sweep failed", "error", err)
	} else {
		o.metrics.RecordPruned(len(removed))
	}

	arena, err := o.store.Begin(r.rec.RunID, r.rec.StartedAt)
	if err != nil {
		return breaker.StatusAborted, err
	}
	r.arena = arena
	r.rec.BackupDir = arena.Dir()
	if err := plan.Save(r.plan, filepath.Join(arena.Dir(), "plan.json")); err != nil {
		r.logger.Warn("failed to store plan next to snapshots", "error", err)
	}

	var last *snapshot.Snapshot
	for _, batch := range r.plan.Batches {
		if o.rollbackRequested.Load() && last != nil {
			return r.halt(ctx, last, errors.New(errors.ErrCodeRunAborted, "rollback requested").WithBatch(last.Batch))
		}
		if err := ctx.Err(); err != nil {
			return breaker.StatusAborted, errors.Wrap(errors.ErrCodeRunAborted, "run cancelled before batch started", err).
				WithBatch(batch.Index)
		}

		snap, err := r.snapshot(ctx, batch)
		if err != nil {
			// Nothing ran, so there is nothing to restore.
			return breaker.StatusAborted, err
		}
		last = snap

		tasks, err := r.tasks(batch)
		if err != nil {
			return breaker.StatusAborted, err
		}

		result := o.executor.RunBatch(ctx, batch.Index, tasks)
		r.rec.Executions = append(r.rec.Executions, result)
		r.recordBatch(result)

		outcome := o.gate.Evaluate(ctx, batch.Index, batch.Files)
		r.rec.Validations = append(r.rec.Validations, outcome)
		r.recordValidation(outcome)

		switch {
		case result.Err != nil:
			return r.halt(ctx, snap, result.Err)
		case outcome.Err() != nil:
			return r.halt(ctx, snap, outcome.Err())
		case o.rollbackRequested.Load():
			return r.halt(ctx, snap, errors.New(errors.ErrCodeRunAborted, "rollback requested").WithBatch(batch.Index))
		}

		r.logger.Info("batch passed validation", "batch", batch.Index, "tasks", len(tasks))
	}

	return breaker.StatusCompleted, nil
}

func (r *run) snapshot(ctx context.Context, batch plan.Batch) (*snapshot.Snapshot, error) {
	start := r.o.now()
	snap, err := r.arena.Capture(ctx, batch.Index, batch.Files)
	if err != nil {
		r.logger.WithError(err).Error("snapshot failed, batch not executed", "batch", batch.Index)
		return nil, err
	}
	r.o.metrics.RecordSnapshot(len(snap.Entries), r.o.now().Sub(start))

	ref := history.SnapshotRef{Batch: batch.Index, Dir: snap.Dir()}
	for _, e := range snap.Entries {
		if e.Absent {
			ref.Absent = append(ref.Absent, e.Path)
		} else {
			ref.Files = append(ref.Files, e.Path)
		}
	}
	r.rec.Snapshots = append(r.rec.Snapshots, ref)
	r.event(history.EventSnapshotTaken, batch.Index, ref)
	return snap, nil
}

func (r *run) tasks(batch plan.Batch) ([]manifest.Task, error) {
	tasks := make([]manifest.Task, 0, len(batch.Tasks))
	for _, id := range batch.Tasks {
		t, ok := r.m.Task(id)
		if !ok {
			return nil, errors.New(errors.ErrCodePlanInvalid,
				fmt.Sprintf("plan references unknown task %s", id)).WithBatch(batch.Index).WithTasks(id)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// halt restores snap and ends the run. cause is what triggered the
// rollback; it stays the run's error unless the restore itself fails.
func (r *run) halt(ctx context.Context, snap *snapshot.Snapshot, cause error) (breaker.RunStatus, error) {
	o := r.o
	r.logger.WithError(cause).Warn("rolling back batch", "batch", snap.Batch)

	start := o.now()
	// A restore is never abandoned halfway, even when the run was cancelled.
	res, err := o.rollback.Restore(context.WithoutCancel(ctx), snap)
	o.metrics.RecordRollback(o.now().Sub(start), err)
	r.rec.Rollback = res

	if err != nil {
		r.logger.WithError(err).Error("rollback failed integrity verification, manual recovery required",
			"batch", snap.Batch)
		r.event(history.EventRollbackFailed, snap.Batch, history.FromError(err))
		o.notify(rollbackEvent(r.rec.RunID, snap, res, err))
		return breaker.StatusAborted, err
	}
	r.event(history.EventRollbackCompleted, snap.Batch, res)
	o.notify(rollbackEvent(r.rec.RunID, snap, res, nil))

	if errors.HasCode(cause, errors.ErrCodeRunAborted) && ctx.Err() != nil {
		return breaker.StatusAborted, cause
	}
	return breaker.StatusRolledBack, cause
}

// finish releases the arena and the lock, feeds the breaker and persists
// the run record.
func (r *run) finish(status breaker.RunStatus, runErr error) (*history.RunRecord, error) {
	o := r.o

	if r.arena != nil {
		if err := r.arena.Finalize(); err != nil {
			r.logger.Warn("failed to finalize run arena", "error", err)
		}
	}
	if err := o.lock.Release(); err != nil {
		r.logger.Warn("failed to release repository lock", "error", err)
	}

	st, err := o.breaker.Record(status)
	if err != nil {
		r.logger.Warn("failed to update circuit breaker", "error", err)
	} else {
		o.metrics.SetCircuitOpen(st.Open)
		if st.Open && status != breaker.StatusCompleted {
			r.logger.Error("circuit breaker open, further runs are refused until reset",
				"consecutive_failures", st.ConsecutiveFailures, "threshold", o.breaker.Threshold())
			r.event(history.EventCircuitOpen, history.NoBatch, st)
			ev := hooks.NewEvent(hooks.EventCircuitOpen, r.rec.RunID, history.NoBatch)
			ev.Status = string(status)
			withError(ev, runErr)
			o.notify(ev)
		}
	}

	finished := o.now()
	r.rec.FinishedAt = finished.UTC()
	r.rec.Status = status
	r.rec.Error = history.FromError(runErr)

	r.event(history.EventRunFinished, history.NoBatch, map[string]any{
		"status": status,
		"error":  r.rec.Error,
	})
	if err := o.history.WriteRun(r.rec); err != nil {
		r.logger.Warn("failed to write run record", "error", err)
	}

	ev := hooks.NewEvent(hooks.EventRunFinished, r.rec.RunID, history.NoBatch)
	ev.Status = string(status)
	ev.BackupPath = r.rec.BackupDir
	withError(ev, runErr)
	o.notify(ev)

	o.metrics.RecordRun(string(status), finished.Sub(r.rec.StartedAt))
	if runErr != nil {
		o.metrics.RecordError(runErr)
		r.logger.WithError(runErr).Error("run finished", "status", status)
	} else {
		r.logger.Info("run finished", "status", status, "duration", finished.Sub(r.rec.StartedAt))
	}
	return r.rec, runErr
}

func (r *run) recordBatch(result *exec.BatchResult) {
	statuses := map[string]int{}
	retries := 0
	for _, tr := range result.Results {
		statuses[string(tr.Status)]++
		if tr.Attempts > 1 {
			retries += tr.Attempts - 1
		}
	}
	r.o.metrics.RecordBatch(!result.Failed, statuses, retries, result.Duration)
	r.event(history.EventBatchExecuted, result.Index, result)
}

func (r *run) recordValidation(outcome *gate.Outcome) {
	for _, l := range outcome.Layers {
		res := "pass"
		switch {
		case l.Skipped:
			res = "skipped"
		case !l.Passed:
			res = "fail"
		}
		r.o.metrics.RecordValidationLayer(l.Name, res, l.Duration)
	}
	for _, l := range outcome.Advisories() {
		r.logger.Warn("advisory validation failed", "batch", outcome.Batch, "layer", l.Name, "message", l.Message)
	}
	r.event(history.EventValidationCompleted, outcome.Batch, outcome)
}

func (r *run) event(typ history.EventType, batch int, data any) {
	r.o.recordEvent(r.rec.RunID, typ, batch, data)
}
