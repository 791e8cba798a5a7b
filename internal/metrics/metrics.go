package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/felixgeelhaar/batchguard/internal/errors"
)

// Metrics holds all Prometheus metrics for batchguard
type Metrics struct {
	// Planning metrics
	Plans               *prometheus.CounterVec
	PlanBatches         prometheus.Histogram
	PlanParallelization prometheus.Gauge
	PlanDuration        prometheus.Histogram
	ConflictsDetected   prometheus.Counter

	// Execution metrics
	BatchExecutions *prometheus.CounterVec
	BatchDuration   prometheus.Histogram
	TaskOutcomes    *prometheus.CounterVec
	TaskRetries     prometheus.Counter

	// Snapshot metrics
	SnapshotDuration prometheus.Histogram
	SnapshotFiles    prometheus.Histogram
	SnapshotsPruned  prometheus.Counter

	// Validation metrics
	ValidationLayers   *prometheus.CounterVec
	ValidationDuration *prometheus.HistogramVec

	// Rollback metrics
	Rollbacks        *prometheus.CounterVec
	RollbackDuration prometheus.Histogram

	// Circuit breaker and run metrics
	CircuitOpen prometheus.Gauge
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Plans: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchguard_plans_total",
				Help: "Total number of plans computed",
			},
			[]string{"success"},
		),
		PlanBatches: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batchguard_plan_batches",
				Help:    "Number of batches per computed plan",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
		),
		PlanParallelization: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "batchguard_plan_parallelization_percent",
				Help: "Share of tasks running alongside another task in the last plan",
			},
		),
		PlanDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batchguard_plan_duration_seconds",
				Help:    "Time spent computing a plan",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
		ConflictsDetected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "batchguard_conflicts_detected_total",
				Help: "Total number of file conflicts found between task pairs",
			},
		),

		BatchExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchguard_batch_executions_total",
				Help: "Total number of batches executed",
			},
			[]string{"success"},
		),
		BatchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batchguard_batch_duration_seconds",
				Help:    "Batch execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		TaskOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchguard_task_outcomes_total",
				Help: "Total number of task terminal states",
			},
			[]string{"status"},
		),
		TaskRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "batchguard_task_retries_total",
				Help: "Total number of task retry attempts",
			},
		),

		SnapshotDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batchguard_snapshot_duration_seconds",
				Help:    "Time spent capturing a batch snapshot",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		SnapshotFiles: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batchguard_snapshot_files",
				Help:    "Number of files captured per snapshot",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 1000},
			},
		),
		SnapshotsPruned: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "batchguard_snapshots_pruned_total",
				Help: "Total number of run arenas removed by retention",
			},
		),

		ValidationLayers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchguard_validation_layers_total",
				Help: "Total number of validation layer evaluations",
			},
			[]string{"layer", "result"},
		),
		ValidationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchguard_validation_duration_seconds",
				Help:    "Validation layer duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"layer"},
		),

		Rollbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchguard_rollbacks_total",
				Help: "Total number of batch rollbacks",
			},
			[]string{"result"},
		),
		RollbackDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batchguard_rollback_duration_seconds",
				Help:    "Time spent restoring a batch",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		CircuitOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "batchguard_circuit_open",
				Help: "1 when the circuit breaker refuses new runs",
			},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchguard_runs_total",
				Help: "Total number of runs by terminal status",
			},
			[]string{"status"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "batchguard_run_duration_seconds",
				Help:    "Whole run duration in seconds",
				Buckets: []float64{0.1, 1, 5, 15, 60, 300, 900, 3600},
			},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchguard_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code"},
		),
	}
}

// RecordPlan records a computed plan
func (m *Metrics) RecordPlan(batches int, parallelization float64, conflicts int, d time.Duration) {
	m.Plans.WithLabelValues("true").Inc()
	m.PlanBatches.Observe(float64(batches))
	m.PlanParallelization.Set(parallelization)
	m.PlanDuration.Observe(d.Seconds())
	m.ConflictsDetected.Add(float64(conflicts))
}

// RecordPlanFailure records a plan that could not be computed
func (m *Metrics) RecordPlanFailure(err error) {
	m.Plans.WithLabelValues("false").Inc()
	m.RecordError(err)
}

// RecordBatch records one batch execution. statuses maps a task status to
// how many tasks ended in it.
func (m *Metrics) RecordBatch(success bool, statuses map[string]int, retries int, d time.Duration) {
	m.BatchExecutions.WithLabelValues(strconv.FormatBool(success)).Inc()
	m.BatchDuration.Observe(d.Seconds())
	for status, n := range statuses {
		if n > 0 {
			m.TaskOutcomes.WithLabelValues(status).Add(float64(n))
		}
	}
	if retries > 0 {
		m.TaskRetries.Add(float64(retries))
	}
}

// RecordSnapshot records one captured snapshot
func (m *Metrics) RecordSnapshot(files int, d time.Duration) {
	m.SnapshotFiles.Observe(float64(files))
	m.SnapshotDuration.Observe(d.Seconds())
}

// RecordPruned records arenas removed by retention
func (m *Metrics) RecordPruned(n int) {
	if n > 0 {
		m.SnapshotsPruned.Add(float64(n))
	}
}

// RecordValidationLayer records one layer evaluation. result is one of
// pass, fail or skipped.
func (m *Metrics) RecordValidationLayer(layer, result string, d time.Duration) {
	m.ValidationLayers.WithLabelValues(layer, result).Inc()
	if result != "skipped" {
		m.ValidationDuration.WithLabelValues(layer).Observe(d.Seconds())
	}
}

// RecordRollback records a restore; err is the restore failure, if any
func (m *Metrics) RecordRollback(d time.Duration, err error) {
	result := "restored"
	switch {
	case err == nil:
	case errors.HasCode(err, errors.ErrCodeRollbackIntegrity):
		result = "integrity_failure"
	default:
		result = "failed"
	}
	m.Rollbacks.WithLabelValues(result).Inc()
	m.RollbackDuration.Observe(d.Seconds())
	if err != nil {
		m.RecordError(err)
	}
}

// SetCircuitOpen reflects the breaker state
func (m *Metrics) SetCircuitOpen(open bool) {
	if open {
		m.CircuitOpen.Set(1)
		return
	}
	m.CircuitOpen.Set(0)
}

// RecordRun records a finished run
func (m *Metrics) RecordRun(status string, d time.Duration) {
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// RecordError counts err under its error code; uncoded errors count as
// "unknown".
func (m *Metrics) RecordError(err error) {
	if err == nil {
		return
	}
	code := string(errors.CodeOf(err))
	if code == "" {
		code = "unknown"
	}
	m.Errors.WithLabelValues(code).Inc()
}
