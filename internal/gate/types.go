// Package gate runs the configured validation layers after each batch and
// decides whether the run may continue.
package gate

import (
	"context"
	"time"
)

// DefaultTimeout bounds a layer that configures no timeout
const DefaultTimeout = 5 * time.Minute

// Result is what a layer reports
type Result struct {
	Passed  bool
	Message string
}

// Pass is a passing result
func Pass(msg string) Result { return Result{Passed: true, Message: msg} }

// Fail is a failing result
func Fail(msg string) Result { return Result{Passed: false, Message: msg} }

// Layer is one validation check. Whether a failure blocks the run is decided
// by configuration, never by the layer.
type Layer interface {
	Name() string
	Validate(ctx context.Context, files []string) Result
}

// LayerConfig configures one layer
type LayerConfig struct {
	// Name of the layer (syntax, imports, tests, ...)
	Name string `mapstructure:"name" yaml:"name" json:"name"`

	// Type selects the factory; "script" is built in
	Type string `mapstructure:"type" yaml:"type" json:"type"`

	// Blocking failures halt the run and trigger a rollback
	Blocking bool `mapstructure:"blocking" yaml:"blocking" json:"blocking"`

	// Paths are doublestar globs; when set the layer only sees matching files
	// and is skipped if none match
	Paths []string `mapstructure:"paths" yaml:"paths,omitempty" json:"paths,omitempty"`

	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Config holds factory-specific settings
	Config map[string]any `mapstructure:"config" yaml:"config,omitempty" json:"config,omitempty"`
}

// Decision is the aggregate verdict of the gate
type Decision string

const (
	DecisionContinue Decision = "continue"
	DecisionHalt     Decision = "halt"
)

// LayerOutcome is the record of one layer for one batch
type LayerOutcome struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Blocking bool          `json:"blocking"`
	Skipped  bool          `json:"skipped,omitempty"`
	Message  string        `json:"message,omitempty"`
	Files    int           `json:"files"`
	Duration time.Duration `json:"duration"`
}

// Outcome is the validation outcome of one batch
type Outcome struct {
	Batch    int            `json:"batch"`
	Layers   []LayerOutcome `json:"layers"`
	Decision Decision       `json:"decision"`
	Files    []string       `json:"files"`
	Duration time.Duration  `json:"duration"`
}
