// Package orchestrator drives a manifest through planning, then for every
// batch: snapshot, execute, validate and either continue or roll back.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/batchguard/internal/breaker"
	"github.com/felixgeelhaar/batchguard/internal/exec"
	"github.com/felixgeelhaar/batchguard/internal/gate"
	"github.com/felixgeelhaar/batchguard/internal/history"
	"github.com/felixgeelhaar/batchguard/internal/hooks"
	"github.com/felixgeelhaar/batchguard/internal/lock"
	"github.com/felixgeelhaar/batchguard/internal/log"
	"github.com/felixgeelhaar/batchguard/internal/manifest"
	"github.com/felixgeelhaar/batchguard/internal/metrics"
	"github.com/felixgeelhaar/batchguard/internal/plan"
	"github.com/felixgeelhaar/batchguard/internal/rollback"
	"github.com/felixgeelhaar/batchguard/internal/snapshot"
)

// Options wires the orchestrator to its collaborators
type Options struct {
	// RepoRoot is the repository the tasks mutate
	RepoRoot string
	// StateDir holds the run lock
	StateDir string
	// BackupDir is the snapshot root; defaults to <StateDir>/backups
	BackupDir string
	// Retention is how long run arenas are kept before pruning
	Retention time.Duration
	// ManifestPath is recorded in run history
	ManifestPath string

	Runner   exec.Runner
	Executor exec.Options
	Gate     *gate.Gate
	Breaker  *breaker.Breaker
	History  *history.Recorder
	Metrics  *metrics.Metrics
	Logger   *log.Logger

	// Hooks are notified about run outcomes; nil disables notifications
	Hooks *hooks.Registry
}

// Orchestrator runs manifests against one repository
type Orchestrator struct {
	opts     Options
	store    *snapshot.Store
	lock     *lock.RunLock
	executor *exec.Executor
	gate     *gate.Gate
	rollback *rollback.Engine
	breaker  *breaker.Breaker
	history  *history.Recorder
	metrics  *metrics.Metrics
	hooks    *hooks.Registry
	logger   *log.Logger
	now      func() time.Time

	rollbackRequested atomic.Bool
}

// New creates an orchestrator
func New(opts Options) (*Orchestrator, error) {
	if opts.RepoRoot == "" {
		return nil, fmt.Errorf("repository root is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("task runner is required")
	}
	if opts.StateDir == "" {
		opts.StateDir = filepath.Join(opts.RepoRoot, ".batchguard")
	}
	if opts.BackupDir == "" {
		opts.BackupDir = filepath.Join(opts.StateDir, "backups")
	}
	if opts.Retention <= 0 {
		opts.Retention = snapshot.DefaultRetention
	}

	logger := log.OrDefault(opts.Logger)
	if opts.Executor.Logger == nil {
		opts.Executor.Logger = logger
	}
	if opts.Breaker == nil {
		opts.Breaker = breaker.New(filepath.Join(opts.StateDir, "breaker.json"), 0)
	}
	if opts.Gate == nil {
		opts.Gate = gate.New(nil, logger)
	}
	if opts.History == nil {
		rec, err := history.NewRecorder(filepath.Join(opts.StateDir, "history"))
		if err != nil {
			return nil, err
		}
		opts.History = rec
	}
	if opts.Metrics == nil {
		_, opts.Metrics = metrics.NewRegistry()
	}

	store := snapshot.NewStore(opts.RepoRoot, opts.BackupDir, logger)
	return &Orchestrator{
		opts:     opts,
		store:    store,
		lock:     lock.New(opts.RepoRoot, opts.StateDir),
		executor: exec.NewExecutor(opts.Runner, opts.Executor),
		gate:     opts.Gate,
		rollback: rollback.NewEngine(opts.RepoRoot, store, logger),
		breaker:  opts.Breaker,
		history:  opts.History,
		metrics:  opts.Metrics,
		hooks:    opts.Hooks,
		logger:   logger.With("component", "orchestrator"),
		now:      time.Now,
	}, nil
}

// Store exposes the snapshot store
func (o *Orchestrator) Store() *snapshot.Store { return o.store }

// Breaker exposes the circuit breaker
func (o *Orchestrator) Breaker() *breaker.Breaker { return o.breaker }

// History exposes the run history
func (o *Orchestrator) History() *history.Recorder { return o.history }

// Plan computes the batch plan for m without touching the repository
func (o *Orchestrator) Plan(m *manifest.Manifest) (*plan.Plan, error) {
	start := o.now()
	p, err := plan.Build(m)
	if err != nil {
		o.metrics.RecordPlanFailure(err)
		return nil, err
	}
	o.metrics.RecordPlan(len(p.Batches), p.Metrics.ParallelizationPercent, len(p.Conflicts), o.now().Sub(start))
	return p, nil
}

// RequestRollback asks the running run to restore its most recent snapshot
// and halt. The request is honoured at the next batch barrier; in-flight
// tasks are never interrupted by it.
func (o *Orchestrator) RequestRollback() {
	o.rollbackRequested.Store(true)
}

// RollbackRequested reports whether a rollback request is pending
func (o *Orchestrator) RollbackRequested() bool {
	return o.rollbackRequested.Load()
}

// Run executes m batch by batch. The returned record is also persisted to
// history whenever the run got as far as taking the repository lock.
// Batch N+1 never starts before batch N's gate returned continue.
func (o *Orchestrator) Run(ctx context.Context, m *manifest.Manifest) (*history.RunRecord, error) {
	if err := o.breaker.Check(); err != nil {
		o.metrics.SetCircuitOpen(true)
		o.metrics.RecordError(err)
		o.logger.LogError("refusing to start run", err)
		return nil, err
	}
	o.metrics.SetCircuitOpen(false)
	o.rollbackRequested.Store(false)

	p, err := o.Plan(m)
	if err != nil {
		return nil, err
	}

	started := o.now()
	runID := snapshot.NewRunID(started)
	logger := o.logger.ForRun(runID)

	if err := o.lock.Acquire(ctx, runID); err != nil {
		o.metrics.RecordError(err)
		return nil, err
	}

	r := &run{
		o:      o,
		logger: logger,
		plan:   p,
		m:      m,
		rec: &history.RunRecord{
			RunID:        runID,
			StartedAt:    started.UTC(),
			Fingerprint:  p.Fingerprint,
			ManifestPath: o.opts.ManifestPath,
			Plan:         p,
			Snapshots:    []history.SnapshotRef{},
			Executions:   []*exec.BatchResult{},
			Validations:  []*gate.Outcome{},
		},
	}

	logger.Info("run started", "tasks", m.Len(), "batches", len(p.Batches), "fingerprint", p.Fingerprint)
	r.event(history.EventRunStarted, history.NoBatch, map[string]any{
		"fingerprint": p.Fingerprint,
		"manifest":    o.opts.ManifestPath,
		"tasks":       m.Len(),
	})
	r.event(history.EventPlanCreated, history.NoBatch, p)

	status, runErr := r.execute(ctx)
	return r.finish(status, runErr)
}

// RestoreRun restores one published batch snapshot of a past run under the
// repository lock. A negative batch selects the run's latest snapshot.
func (o *Orchestrator) RestoreRun(ctx context.Context, runID string, batch int) (*rollback.Result, error) {
	if err := o.lock.Acquire(ctx, "restore:"+runID); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.lock.Release(); err != nil {
			o.logger.Warn("failed to release repository lock", "error", err)
		}
	}()

	unpin := o.store.Pin(runID)
	defer unpin()

	var (
		snap *snapshot.Snapshot
		err  error
	)
	if batch < 0 {
		snap, err = o.store.Latest(runID)
	} else {
		snap, err = o.store.Load(runID, batch)
	}
	if err != nil {
		return nil, err
	}

	start := o.now()
	res, err := o.rollback.Restore(ctx, snap)
	o.metrics.RecordRollback(o.now().Sub(start), err)

	if err != nil {
		o.recordEvent(runID, history.EventRollbackFailed, snap.Batch, history.FromError(err))
		o.notify(rollbackEvent(runID, snap, res, err))
		return res, err
	}
	o.recordEvent(runID, history.EventRollbackCompleted, snap.Batch, res)
	o.notify(rollbackEvent(runID, snap, res, nil))
	return res, nil
}

func (o *Orchestrator) recordEvent(runID string, typ history.EventType, batch int, data any) {
	if err := o.history.Record(runID, typ, batch, data); err != nil {
		o.logger.ForRun(runID).Warn("failed to record history event", "event", typ, "error", err)
	}
}

// notify hands ev to the configured hooks. Hooks run detached from the
// run's context so a cancelled run still reports how it ended.
func (o *Orchestrator) notify(ev *hooks.Event) {
	if !o.hooks.HasHooksFor(ev.Type) {
		return
	}
	o.hooks.Trigger(context.Background(), ev)
}

func rollbackEvent(runID string, snap *snapshot.Snapshot, res *rollback.Result, err error) *hooks.Event {
	typ := hooks.EventRollbackCompleted
	if err != nil {
		typ = hooks.EventRollbackFailed
	}
	ev := hooks.NewEvent(typ, runID, snap.Batch)
	ev.BackupPath = snap.Dir()
	if res != nil {
		ev.Files = append(append([]string{}, res.Restored...), res.Removed...)
		if len(res.Mismatched) > 0 {
			ev.Files = res.Mismatched
		}
	}
	withError(ev, err)
	return ev
}

func withError(ev *hooks.Event, err error) {
	if info := history.FromError(err); info != nil {
		ev.ErrorCode = info.Code
		ev.ErrorMessage = info.Message
	}
}

// Close flushes and closes the run history
func (o *Orchestrator) Close() error {
	return o.history.Close()
}
