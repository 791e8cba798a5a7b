package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/felixgeelhaar/batchguard/internal/errors"
)

func TestNewMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	if m == nil {
		t.Fatal("expected metrics, got nil")
	}

	tests := []struct {
		name   string
		metric interface{}
	}{
		{"Plans", m.Plans},
		{"PlanBatches", m.PlanBatches},
		{"PlanParallelization", m.PlanParallelization},
		{"PlanDuration", m.PlanDuration},
		{"ConflictsDetected", m.ConflictsDetected},
		{"BatchExecutions", m.BatchExecutions},
		{"BatchDuration", m.BatchDuration},
		{"TaskOutcomes", m.TaskOutcomes},
		{"TaskRetries", m.TaskRetries},
		{"SnapshotDuration", m.SnapshotDuration},
		{"SnapshotFiles", m.SnapshotFiles},
		{"SnapshotsPruned", m.SnapshotsPruned},
		{"ValidationLayers", m.ValidationLayers},
		{"ValidationDuration", m.ValidationDuration},
		{"Rollbacks", m.Rollbacks},
		{"RollbackDuration", m.RollbackDuration},
		{"CircuitOpen", m.CircuitOpen},
		{"Runs", m.Runs},
		{"RunDuration", m.RunDuration},
		{"Errors", m.Errors},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.metric == nil {
				t.Errorf("%s metric is nil", tt.name)
			}
		})
	}
}

func TestPlanMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordPlan(3, 66.7, 2, 5*time.Millisecond)
	m.RecordPlanFailure(errors.NewCycleDetectedError([]string{"a", "b", "a"}))

	if got := testutil.ToFloat64(m.Plans.WithLabelValues("true")); got != 1 {
		t.Errorf("Plans true = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Plans.WithLabelValues("false")); got != 1 {
		t.Errorf("Plans false = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PlanParallelization); got != 66.7 {
		t.Errorf("PlanParallelization = %v, want 66.7", got)
	}
	if got := testutil.ToFloat64(m.ConflictsDetected); got != 2 {
		t.Errorf("ConflictsDetected = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("PLAN-005")); got != 1 {
		t.Errorf("Errors PLAN-005 = %v, want 1", got)
	}
}

func TestBatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordBatch(true, map[string]int{"success": 3}, 1, time.Second)
	m.RecordBatch(false, map[string]int{"success": 1, "fatal": 1, "cancelled": 2, "recoverable": 0}, 0, time.Second)

	if got := testutil.ToFloat64(m.BatchExecutions.WithLabelValues("true")); got != 1 {
		t.Errorf("BatchExecutions true = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BatchExecutions.WithLabelValues("false")); got != 1 {
		t.Errorf("BatchExecutions false = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TaskOutcomes.WithLabelValues("success")); got != 4 {
		t.Errorf("TaskOutcomes success = %v, want 4", got)
	}
	if got := testutil.ToFloat64(m.TaskOutcomes.WithLabelValues("cancelled")); got != 2 {
		t.Errorf("TaskOutcomes cancelled = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.TaskRetries); got != 1 {
		t.Errorf("TaskRetries = %v, want 1", got)
	}
	// zero counts never create a series
	if got := testutil.CollectAndCount(m.TaskOutcomes); got != 3 {
		t.Errorf("TaskOutcomes series = %d, want 3", got)
	}
}

func TestSnapshotAndValidationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordSnapshot(4, 10*time.Millisecond)
	m.RecordPruned(2)
	m.RecordPruned(0)
	m.RecordValidationLayer("tests", "pass", time.Second)
	m.RecordValidationLayer("lint", "fail", time.Second)
	m.RecordValidationLayer("docs", "skipped", 0)

	if got := testutil.ToFloat64(m.SnapshotsPruned); got != 2 {
		t.Errorf("SnapshotsPruned = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ValidationLayers.WithLabelValues("lint", "fail")); got != 1 {
		t.Errorf("ValidationLayers lint/fail = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.ValidationDuration); got != 2 {
		t.Errorf("ValidationDuration series = %d, want 2 (skipped layers are not timed)", got)
	}
}

func TestRollbackMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRollback(time.Millisecond, nil)
	m.RecordRollback(time.Millisecond, errors.NewRollbackIntegrityError(1, []string{"a.go"}, "/b"))
	m.RecordRollback(time.Millisecond, fmt.Errorf("disk gone"))

	for _, result := range []string{"restored", "integrity_failure", "failed"} {
		if got := testutil.ToFloat64(m.Rollbacks.WithLabelValues(result)); got != 1 {
			t.Errorf("Rollbacks %s = %v, want 1", result, got)
		}
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("ROLLBACK-002")); got != 1 {
		t.Errorf("Errors ROLLBACK-002 = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Errors.WithLabelValues("unknown")); got != 1 {
		t.Errorf("Errors unknown = %v, want 1", got)
	}
}

func TestRunAndCircuitMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.SetCircuitOpen(true)
	if got := testutil.ToFloat64(m.CircuitOpen); got != 1 {
		t.Errorf("CircuitOpen = %v, want 1", got)
	}
	m.SetCircuitOpen(false)
	if got := testutil.ToFloat64(m.CircuitOpen); got != 0 {
		t.Errorf("CircuitOpen = %v, want 0", got)
	}

	m.RecordRun("completed", time.Minute)
	m.RecordRun("rolledBack", time.Minute)
	if got := testutil.ToFloat64(m.Runs.WithLabelValues("rolledBack")); got != 1 {
		t.Errorf("Runs rolledBack = %v, want 1", got)
	}

	m.RecordError(nil)
	if got := testutil.CollectAndCount(m.Errors); got != 0 {
		t.Errorf("RecordError(nil) created %d series", got)
	}
}

func TestMetricsHTTPHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordBatch(true, map[string]int{"success": 2}, 0, time.Second)
	m.RecordValidationLayer("tests", "pass", time.Second)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %v, want %v", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	for _, want := range []string{
		"batchguard_batch_executions_total",
		"batchguard_validation_layers_total",
		`layer="tests"`,
		"_bucket{",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output does not contain %s", want)
		}
	}
}
