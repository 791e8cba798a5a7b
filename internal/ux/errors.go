package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/felixgeelhaar/batchguard/internal/errors"
)

var (
	errorTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	labelStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

// ErrorWithSuggestion wraps an error with helpful recovery suggestions
type ErrorWithSuggestion struct {
	Err        error
	Suggestion string
}

// Error implements the error interface
func (e *ErrorWithSuggestion) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%v\n\nSuggestion: %s", e.Err, e.Suggestion)
	}
	return e.Err.Error()
}

// Unwrap provides access to the underlying error
func (e *ErrorWithSuggestion) Unwrap() error {
	return e.Err
}

// NewErrorWithSuggestion creates a new error with a suggestion
func NewErrorWithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}
	return &ErrorWithSuggestion{
		Err:        err,
		Suggestion: suggestion,
	}
}

// EnhanceError adds a suggestion to uncoded errors whose message points at
// a common setup problem. Coded errors carry their own suggestions.
func EnhanceError(err error) error {
	if err == nil {
		return nil
	}
	if errors.CodeOf(err) != "" {
		return err
	}

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "no task command configured"):
		return NewErrorWithSuggestion(err,
			"Set executor.command in .batchguard/config.yaml or pass --command")
	case strings.Contains(errMsg, "permission denied"):
		return NewErrorWithSuggestion(err,
			"Check that the repository and .batchguard directory are writable")
	case strings.Contains(errMsg, "no such file or directory") && strings.Contains(errMsg, "tasks"):
		return NewErrorWithSuggestion(err,
			"Pass the manifest with --manifest or set repo.manifest in the config")
	}
	return err
}

// PrintError renders err with everything needed for manual recovery: code,
// batch, tasks, files, backup location and suggestions.
func PrintError(w io.Writer, err error) {
	if err == nil {
		return
	}

	var coded *errors.Error
	if !errors.As(err, &coded) {
		fmt.Fprintf(w, "%s %v\n", errorTitleStyle.Render("Error:"), EnhanceError(err))
		return
	}

	fmt.Fprintf(w, "%s %s\n", errorTitleStyle.Render("Error ["+string(coded.Code)+"]:"), coded.Message)
	if coded.Cause != nil {
		field(w, "cause", coded.Cause.Error())
	}
	if coded.Batch >= 0 {
		field(w, "batch", fmt.Sprint(coded.Batch))
	}
	if len(coded.Tasks) > 0 {
		field(w, "tasks", strings.Join(coded.Tasks, ", "))
	}
	if len(coded.Files) > 0 {
		field(w, "files", strings.Join(coded.Files, ", "))
	}
	if coded.BackupPath != "" {
		field(w, "backup", coded.BackupPath)
	}
	for _, s := range coded.Suggestions {
		fmt.Fprintf(w, "  %s %s\n", hintStyle.Render("->"), s)
	}
	if coded.DocsURL != "" {
		field(w, "docs", coded.DocsURL)
	}
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label+":"), value)
}
