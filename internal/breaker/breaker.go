// Package breaker is the persisted circuit breaker that stops automatic runs
// after too many consecutive failed runs.
package breaker

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/fsutil"
)

// DefaultThreshold is the number of consecutive failed runs that opens the
// circuit
const DefaultThreshold = 3

// RunStatus is the terminal status of a run
type RunStatus string

const (
	StatusCompleted  RunStatus = "completed"
	StatusRolledBack RunStatus = "rolledBack"
	StatusAborted    RunStatus = "aborted"
)

// State is the persisted breaker state
type State struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Open                bool       `json:"open"`
	OpenedAt            *time.Time `json:"opened_at,omitempty"`
	LastStatus          RunStatus  `json:"last_status,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Threshold           int        `json:"threshold"`
}

// Breaker guards automatic execution for one state directory
type Breaker struct {
	mu        sync.Mutex
	path      string
	threshold int
	now       func() time.Time
}

// New creates a breaker persisting to path
func New(path string, threshold int) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Breaker{path: path, threshold: threshold, now: time.Now}
}

// Threshold returns the configured threshold
func (b *Breaker) Threshold() int { return b.threshold }

// State loads the current state
func (b *Breaker) State() (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.load()
}

// Check fails with CircuitOpenError when the circuit is open
func (b *Breaker) Check() error {
	st, err := b.State()
	if err != nil {
		return err
	}
	if st.Open {
		e := errors.NewCircuitOpenError(st.ConsecutiveFailures, b.threshold)
		if st.OpenedAt != nil {
			e.Message += fmt.Sprintf(" (open since %s)", st.OpenedAt.Format(time.RFC3339))
		}
		return e
	}
	return nil
}

// Record folds a terminal run status into the state. A completed run resets
// the counter; rolled back and aborted runs increment it and open the
// circuit once it reaches the threshold.
func (b *Breaker) Record(status RunStatus) (State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, err := b.load()
	if err != nil {
		return st, err
	}

	now := b.now().UTC()
	switch status {
	case StatusCompleted:
		st.ConsecutiveFailures = 0
	case StatusRolledBack, StatusAborted:
		st.ConsecutiveFailures++
		if !st.Open && st.ConsecutiveFailures >= b.threshold {
			st.Open = true
			st.OpenedAt = &now
		}
	default:
		return st, fmt.Errorf("unknown run status %q", status)
	}
	st.LastStatus = status
	st.UpdatedAt = now

	return st, b.save(st)
}

// Reset closes the circuit and clears the counter. Only humans call this.
func (b *Breaker) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, err := b.load()
	if err != nil {
		return err
	}
	st.ConsecutiveFailures = 0
	st.Open = false
	st.OpenedAt = nil
	st.UpdatedAt = b.now().UTC()
	return b.save(st)
}

func (b *Breaker) load() (State, error) {
	var st State
	if err := fsutil.ReadJSON(b.path, &st); err != nil {
		if os.IsNotExist(err) {
			return State{Threshold: b.threshold}, nil
		}
		return State{}, errors.Wrap(errors.ErrCodeFileReadFailed, "read circuit breaker state", err)
	}
	st.Threshold = b.threshold
	return st, nil
}

func (b *Breaker) save(st State) error {
	st.Threshold = b.threshold
	if err := fsutil.WriteJSON(b.path, st); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "write circuit breaker state", err)
	}
	return nil
}
