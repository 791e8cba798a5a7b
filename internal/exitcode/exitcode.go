package exitcode

import (
	"context"
	stderrors "errors"
	"os"
	"strings"

	"github.com/felixgeelhaar/batchguard/internal/errors"
)

// Exit codes for consistent error handling across the CLI
const (
	// Success indicates the run completed
	Success = 0

	// GeneralError indicates a general error condition
	GeneralError = 1

	// UsageError indicates invalid command usage (bad flags, missing args, etc.)
	UsageError = 2

	// ManifestInvalid indicates the task manifest was rejected before planning
	ManifestInvalid = 3

	// CycleDetected indicates the explicit dependencies form a cycle
	CycleDetected = 4

	// RolledBack indicates a batch was rolled back and the run halted
	RolledBack = 5

	// Aborted indicates the run stopped before any rollback was possible
	Aborted = 6

	// CircuitOpen indicates the circuit breaker refused the run
	CircuitOpen = 7

	// IntegrityFailure indicates a rollback could not be verified and needs a human
	IntegrityFailure = 8

	// Interrupted indicates the user cancelled the command
	Interrupted = 130
)

// Exit terminates the program with the given exit code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError exits with an appropriate code based on error type
func ExitWithError(err error) {
	if err == nil {
		Exit(Success)
		return
	}

	Exit(DetermineExitCode(err))
}

// DetermineExitCode analyzes an error and returns the appropriate exit code
func DetermineExitCode(err error) int {
	if err == nil {
		return Success
	}

	if stderrors.Is(err, context.Canceled) {
		return Interrupted
	}

	switch errors.CodeOf(err) {
	case errors.ErrCodeManifestNotFound, errors.ErrCodeManifestMissingID,
		errors.ErrCodeManifestDuplicate, errors.ErrCodeManifestSelfDep,
		errors.ErrCodeManifestUnknownDep, errors.ErrCodeManifestInvalid:
		return ManifestInvalid
	case errors.ErrCodePlanCyclicDep:
		return CycleDetected
	case errors.ErrCodeValidationBlocking, errors.ErrCodeTaskFatal:
		return RolledBack
	case errors.ErrCodeSnapshotFailed, errors.ErrCodeRunAborted, errors.ErrCodeLockHeld, errors.ErrCodeLockFailure:
		return Aborted
	case errors.ErrCodeCircuitOpen:
		return CircuitOpen
	case errors.ErrCodeRollbackIntegrity, errors.ErrCodeRollbackRefused, errors.ErrCodeRollbackFailed:
		return IntegrityFailure
	}

	errMsg := strings.ToLower(err.Error())

	// Usage errors reported by cobra
	if strings.Contains(errMsg, "invalid flag") || strings.Contains(errMsg, "unknown command") {
		return UsageError
	}
	if strings.Contains(errMsg, "required flag") || strings.Contains(errMsg, "missing argument") {
		return UsageError
	}

	return GeneralError
}

// GetExitCodeDescription returns a human-readable description of an exit code
func GetExitCodeDescription(code int) string {
	switch code {
	case Success:
		return "Success"
	case GeneralError:
		return "General error"
	case UsageError:
		return "Usage error (invalid flags or arguments)"
	case ManifestInvalid:
		return "Task manifest rejected"
	case CycleDetected:
		return "Dependency cycle detected"
	case RolledBack:
		return "Run rolled back"
	case Aborted:
		return "Run aborted"
	case CircuitOpen:
		return "Circuit breaker open"
	case IntegrityFailure:
		return "Rollback integrity failure, manual recovery required"
	case Interrupted:
		return "Interrupted"
	default:
		return "Unknown error"
	}
}
