package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Manifest errors (MANIFEST-001 to MANIFEST-099)
	ErrCodeManifestNotFound   ErrorCode = "MANIFEST-001"
	ErrCodeManifestMissingID  ErrorCode = "MANIFEST-002"
	ErrCodeManifestDuplicate  ErrorCode = "MANIFEST-003"
	ErrCodeManifestSelfDep    ErrorCode = "MANIFEST-004"
	ErrCodeManifestUnknownDep ErrorCode = "MANIFEST-005"
	ErrCodeManifestInvalid    ErrorCode = "MANIFEST-006"

	// Plan errors (PLAN-001 to PLAN-099)
	ErrCodePlanInvalid   ErrorCode = "PLAN-002"
	ErrCodePlanCyclicDep ErrorCode = "PLAN-005"

	// Snapshot errors (SNAPSHOT-001 to SNAPSHOT-099)
	ErrCodeSnapshotFailed   ErrorCode = "SNAPSHOT-001"
	ErrCodeSnapshotNotFound ErrorCode = "SNAPSHOT-002"

	// Lock errors (LOCK-001 to LOCK-099)
	ErrCodeLockHeld    ErrorCode = "LOCK-001"
	ErrCodeLockFailure ErrorCode = "LOCK-002"

	// Execution errors (EXEC-001 to EXEC-099)
	ErrCodeTaskFatal ErrorCode = "EXEC-010"

	// Validation errors (VALIDATION-001 to VALIDATION-099)
	ErrCodeValidationBlocking ErrorCode = "VALIDATION-001"
	ErrCodeValidationAdvisory ErrorCode = "VALIDATION-002"
	ErrCodeValidationConfig   ErrorCode = "VALIDATION-003"

	// Rollback errors (ROLLBACK-001 to ROLLBACK-099)
	ErrCodeRollbackFailed    ErrorCode = "ROLLBACK-001"
	ErrCodeRollbackIntegrity ErrorCode = "ROLLBACK-002"
	ErrCodeRollbackRefused   ErrorCode = "ROLLBACK-003"

	// Circuit breaker errors (CIRCUIT-001 to CIRCUIT-099)
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT-001"

	// Run errors (RUN-001 to RUN-099)
	ErrCodeRunAborted ErrorCode = "RUN-001"

	// File I/O errors (IO-001 to IO-099)
	ErrCodeFileNotFound    ErrorCode = "IO-001"
	ErrCodeFileReadFailed  ErrorCode = "IO-002"
	ErrCodeFileWriteFailed ErrorCode = "IO-003"
	ErrCodeFileUnmarshal   ErrorCode = "IO-005"

	// Configuration errors
	ErrCodeConfigInvalid ErrorCode = "CONFIG-001"
)

const docsBase = "https://github.com/felixgeelhaar/batchguard#"

// Error is a coded error carrying enough context for manual recovery:
// the batch it happened in, the tasks and files involved and the backup
// location holding the pre-batch content.
type Error struct {
	Code        ErrorCode
	Message     string
	Suggestions []string
	DocsURL     string
	Cause       error

	// Batch is the zero-based batch index, -1 when not tied to a batch.
	Batch      int
	Tasks      []string
	Files      []string
	BackupPath string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)

	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}

	if e.Batch >= 0 {
		fmt.Fprintf(&b, "\n  batch: %d", e.Batch)
	}
	if len(e.Tasks) > 0 {
		fmt.Fprintf(&b, "\n  tasks: %s", strings.Join(e.Tasks, ", "))
	}
	if len(e.Files) > 0 {
		fmt.Fprintf(&b, "\n  files: %s", strings.Join(e.Files, ", "))
	}
	if e.BackupPath != "" {
		fmt.Fprintf(&b, "\n  backup: %s", e.BackupPath)
	}

	if len(e.Suggestions) > 0 {
		b.WriteString("\n\nSuggestions:")
		for _, suggestion := range e.Suggestions {
			fmt.Fprintf(&b, "\n  • %s", suggestion)
		}
	}

	if e.DocsURL != "" {
		fmt.Fprintf(&b, "\n\nDocumentation: %s", e.DocsURL)
	}

	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code, so a bare
// coded value can be used as a sentinel with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New creates a new Error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Batch:   -1,
	}
}

// Wrap creates a new Error wrapping an existing error
func Wrap(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Batch:   -1,
	}
}

// WithSuggestion adds a suggestion to the error
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// WithSuggestions adds multiple suggestions to the error
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = append(e.Suggestions, suggestions...)
	return e
}

// WithDocs adds a documentation URL to the error
func (e *Error) WithDocs(url string) *Error {
	e.DocsURL = url
	return e
}

// WithBatch records the batch index the error belongs to
func (e *Error) WithBatch(index int) *Error {
	e.Batch = index
	return e
}

// WithTasks records the offending task ids
func (e *Error) WithTasks(ids ...string) *Error {
	e.Tasks = append(e.Tasks, ids...)
	return e
}

// WithFiles records the offending files
func (e *Error) WithFiles(files ...string) *Error {
	e.Files = append(e.Files, files...)
	return e
}

// WithBackup records the snapshot location usable for manual recovery
func (e *Error) WithBackup(path string) *Error {
	e.BackupPath = path
	return e
}

// CodeOf returns the code of the first coded error in err's chain, or ""
func CodeOf(err error) ErrorCode {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// HasCode reports whether err's chain contains a coded error with code
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &Error{Code: code})
}

// As is a re-export of the standard errors.As so callers need a single import
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Is is a re-export of the standard errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// Common error constructors

// NewManifestNotFoundError creates a manifest file not found error
func NewManifestNotFoundError(path string) *Error {
	return New(ErrCodeManifestNotFound, fmt.Sprintf("task manifest not found: %s", path)).
		WithSuggestion("Check if the manifest path is correct").
		WithSuggestion("Pass the manifest explicitly with --manifest").
		WithDocs(docsBase + "task-manifest")
}

// NewManifestError creates a manifest validation error
func NewManifestError(code ErrorCode, details string, taskIDs ...string) *Error {
	return New(code, fmt.Sprintf("invalid task manifest: %s", details)).
		WithTasks(taskIDs...).
		WithSuggestion("Run 'batchguard plan --manifest <file>' to validate the manifest").
		WithDocs(docsBase + "task-manifest")
}

// NewCycleDetectedError creates a dependency cycle error; cycle lists the
// task ids in traversal order with the first id repeated at the end.
func NewCycleDetectedError(cycle []string) *Error {
	return New(ErrCodePlanCyclicDep, fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> "))).
		WithTasks(cycle...).
		WithSuggestion("Remove one of the dependencies listed in the cycle").
		WithDocs(docsBase + "dependencies")
}

// NewSnapshotFailure creates a snapshot failure for a batch
func NewSnapshotFailure(batch int, file string, backupPath string, cause error) *Error {
	e := Wrap(ErrCodeSnapshotFailed, "could not snapshot batch files, batch was not executed", cause).
		WithBatch(batch).
		WithBackup(backupPath).
		WithSuggestion("Check file permissions in the repository and the backup directory")
	if file != "" {
		e.WithFiles(file)
	}
	return e
}

// NewTaskFatalFailure creates a fatal task failure error
func NewTaskFatalFailure(batch int, taskID string, cause error) *Error {
	return Wrap(ErrCodeTaskFatal, fmt.Sprintf("task %s failed fatally", taskID), cause).
		WithBatch(batch).
		WithTasks(taskID)
}

// NewValidationBlockingFailure creates a blocking validation failure
func NewValidationBlockingFailure(batch int, layers []string, files []string) *Error {
	return New(ErrCodeValidationBlocking, fmt.Sprintf("blocking validation failed: %s", strings.Join(layers, ", "))).
		WithBatch(batch).
		WithFiles(files...)
}

// NewRollbackIntegrityError creates a fatal rollback integrity error. It is
// never retried automatically.
func NewRollbackIntegrityError(batch int, files []string, backupPath string) *Error {
	return New(ErrCodeRollbackIntegrity, "restored files do not match their snapshot checksums").
		WithBatch(batch).
		WithFiles(files...).
		WithBackup(backupPath).
		WithSuggestion("Do not re-run automatically; inspect the listed files by hand").
		WithSuggestion("Copy the pristine content from the backup path shown above").
		WithDocs(docsBase + "manual-recovery")
}

// NewCircuitOpenError creates the fail-fast error returned while the breaker is open
func NewCircuitOpenError(failures, threshold int) *Error {
	return New(ErrCodeCircuitOpen, fmt.Sprintf("circuit breaker is open after %d consecutive failed runs (threshold %d)", failures, threshold)).
		WithSuggestion("Investigate the previous failed runs with 'batchguard history list'").
		WithSuggestion("Reset the breaker with 'batchguard breaker reset' once resolved").
		WithDocs(docsBase + "circuit-breaker")
}

// NewFileUnmarshalError creates an unmarshal error
func NewFileUnmarshalError(path string, format string, cause error) *Error {
	return Wrap(ErrCodeFileUnmarshal, fmt.Sprintf("failed to parse %s file: %s", format, path), cause).
		WithSuggestion("Check the file syntax and format").
		WithSuggestion(fmt.Sprintf("Ensure the file is valid %s", format))
}
