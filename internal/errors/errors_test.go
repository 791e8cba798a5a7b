package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(ErrCodeSnapshotFailed, "snapshot failed").
		WithBatch(2).
		WithTasks("model").
		WithFiles("db/schema.sql").
		WithBackup("/tmp/backups/run-1/batch-002").
		WithSuggestion("check permissions").
		WithDocs("https://example.com")

	got := err.Error()
	for _, want := range []string{
		"[SNAPSHOT-001] snapshot failed",
		"batch: 2",
		"tasks: model",
		"files: db/schema.sql",
		"backup: /tmp/backups/run-1/batch-002",
		"• check permissions",
		"Documentation: https://example.com",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() missing %q in:\n%s", want, got)
		}
	}
}

func TestErrorWithoutBatch(t *testing.T) {
	err := New(ErrCodeManifestDuplicate, "duplicate")
	if strings.Contains(err.Error(), "batch:") {
		t.Errorf("unexpected batch line in %q", err.Error())
	}
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := fmt.Errorf("disk full")
	err := Wrap(ErrCodeFileWriteFailed, "write failed", cause)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Error() should include cause, got %q", err.Error())
	}
}

func TestIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("run: %w", NewCircuitOpenError(3, 3))

	if !HasCode(err, ErrCodeCircuitOpen) {
		t.Error("HasCode should find CIRCUIT-001 through wrapping")
	}
	if HasCode(err, ErrCodeRollbackIntegrity) {
		t.Error("HasCode matched the wrong code")
	}
	if CodeOf(err) != ErrCodeCircuitOpen {
		t.Errorf("CodeOf() = %s, want %s", CodeOf(err), ErrCodeCircuitOpen)
	}
	if CodeOf(fmt.Errorf("plain")) != "" {
		t.Error("CodeOf() of a plain error should be empty")
	}
}

func TestCycleDetectedError(t *testing.T) {
	err := NewCycleDetectedError([]string{"a", "b", "c", "a"})

	if err.Code != ErrCodePlanCyclicDep {
		t.Errorf("Code = %s, want %s", err.Code, ErrCodePlanCyclicDep)
	}
	if !strings.Contains(err.Message, "a -> b -> c -> a") {
		t.Errorf("Message = %q, want cycle path", err.Message)
	}
	if len(err.Tasks) != 4 {
		t.Errorf("Tasks = %v, want 4 entries", err.Tasks)
	}
}

func TestRollbackIntegrityError(t *testing.T) {
	err := NewRollbackIntegrityError(1, []string{"a.go", "b.go"}, "/backups/x/batch-001")

	if err.Batch != 1 {
		t.Errorf("Batch = %d, want 1", err.Batch)
	}
	if err.BackupPath == "" {
		t.Error("BackupPath should be set")
	}
	if len(err.Suggestions) == 0 {
		t.Error("integrity error should carry recovery suggestions")
	}
}

func TestSnapshotFailureWithoutFile(t *testing.T) {
	err := NewSnapshotFailure(0, "", "/b", fmt.Errorf("boom"))
	if len(err.Files) != 0 {
		t.Errorf("Files = %v, want none", err.Files)
	}
	if err.Batch != 0 {
		t.Errorf("Batch = %d, want 0", err.Batch)
	}
}
