package domain

import (
	"fmt"
	"regexp"
)

// TaskID is the manifest identifier of a task.
type TaskID string

var taskIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)

const maxTaskIDLength = 100

// NewTaskID creates a TaskID after validating its format
func NewTaskID(value string) (TaskID, error) {
	id := TaskID(value)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks that the id is non-empty, starts with a letter and only
// uses letters, digits, dots, underscores and hyphens.
func (t TaskID) Validate() error {
	s := string(t)

	if s == "" {
		return fmt.Errorf("task ID cannot be empty")
	}

	if len(s) > maxTaskIDLength {
		return fmt.Errorf("task ID %q exceeds maximum length of %d characters", s, maxTaskIDLength)
	}

	if !taskIDPattern.MatchString(s) {
		return fmt.Errorf("task ID %q must start with a letter and contain only letters, digits, '.', '_' or '-'", s)
	}

	return nil
}

// String returns the string representation
func (t TaskID) String() string {
	return string(t)
}
