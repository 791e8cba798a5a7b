package plan

import (
	"fmt"
	"reflect"
	"slices"
	"time"

	"github.com/felixgeelhaar/batchguard/internal/errors"
)

// Validate re-checks the batch invariants: every task sits in exactly one
// batch, tasks in one batch have pairwise disjoint file sets and every
// dependency lives in a strictly earlier batch.
func (p *Plan) Validate() error {
	entries := make(map[string]Entry, len(p.Tasks))
	for _, e := range p.Tasks {
		if _, dup := entries[e.ID]; dup {
			return invalid(fmt.Sprintf("task %q listed twice", e.ID))
		}
		entries[e.ID] = e
	}

	seen := make(map[string]bool, len(p.Tasks))
	for i, b := range p.Batches {
		if b.Index != i {
			return invalid(fmt.Sprintf("batch at position %d has index %d", i, b.Index))
		}
		if len(b.Tasks) == 0 {
			return invalid(fmt.Sprintf("batch %d is empty", i))
		}

		owner := make(map[string]string)
		for _, id := range b.Tasks {
			e, ok := entries[id]
			if !ok {
				return invalid(fmt.Sprintf("batch %d references unknown task %q", i, id))
			}
			if seen[id] {
				return invalid(fmt.Sprintf("task %q appears in more than one batch", id))
			}
			seen[id] = true

			if e.Batch != i {
				return invalid(fmt.Sprintf("task %q is in batch %d but records batch %d", id, i, e.Batch))
			}
			for _, f := range e.Files {
				if other, taken := owner[f]; taken {
					return invalid(fmt.Sprintf("tasks %q and %q share %s in batch %d", other, id, f, i)).
						WithBatch(i).WithTasks(other, id).WithFiles(f)
				}
				owner[f] = id
			}
		}
	}

	for _, e := range p.Tasks {
		if !seen[e.ID] {
			return invalid(fmt.Sprintf("task %q is not assigned to any batch", e.ID))
		}
		for _, dep := range e.Deps {
			d, ok := entries[dep]
			if !ok {
				return invalid(fmt.Sprintf("task %q depends on unknown task %q", e.ID, dep))
			}
			if d.Batch >= e.Batch {
				return invalid(fmt.Sprintf("task %q (batch %d) does not follow its dependency %q (batch %d)",
					e.ID, e.Batch, dep, d.Batch)).WithTasks(e.ID, dep)
			}
		}
	}

	if got := ComputeMetrics(p.Batches); got != p.Metrics {
		return invalid("metrics do not match batches")
	}

	return nil
}

func invalid(msg string) *errors.Error {
	return errors.New(errors.ErrCodePlanInvalid, "invalid plan: "+msg)
}

// Equal compares two plans ignoring their creation time
func Equal(a, b *Plan) bool {
	if a == nil || b == nil {
		return a == b
	}
	ca, cb := *a, *b
	ca.CreatedAt, cb.CreatedAt = time.Time{}, time.Time{}
	return reflect.DeepEqual(ca, cb)
}

// SameSchedule reports whether two plans come from the same manifest and
// run the same tasks in the same batches. Unlike Equal it survives a
// Save/Load round trip.
func SameSchedule(a, b *Plan) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Fingerprint != b.Fingerprint || len(a.Batches) != len(b.Batches) {
		return false
	}
	for i := range a.Batches {
		if !slices.Equal(a.Batches[i].Tasks, b.Batches[i].Tasks) {
			return false
		}
	}
	return true
}
