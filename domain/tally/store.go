// Package tally defines the shared Results Store of trial outcomes.
package tally

import (
	"context"

	"github.com/felixgeelhaar/approxcount/domain/counting"
)

// Store accumulates trial outcomes per task. Implementations must be safe
// for concurrent writers and must never decrease a count.
type Store interface {
	// Tally returns all outcomes recorded so far for the task.
	Tally(ctx context.Context, task counting.SamplingTask) (counting.Tally, error)

	// Record adds n trials with the given outcome to the task's tally.
	Record(ctx context.Context, task counting.SamplingTask, outcome counting.Outcome, n int64) error
}

// Lister is implemented by stores that can enumerate their tasks.
type Lister interface {
	// Tasks returns every task with at least one recorded trial.
	Tasks(ctx context.Context) ([]counting.SamplingTask, error)
}

// Closer is implemented by stores holding external resources.
type Closer interface {
	Close() error
}

// ValidateRecord checks the arguments shared by every Record implementation.
func ValidateRecord(outcome counting.Outcome, n int64) error {
	if !outcome.IsValid() {
		return counting.ErrInvalidOutcome
	}
	if n <= 0 {
		return ErrInvalidCount
	}
	return nil
}
