package oracle

import "errors"

// Domain errors for oracle operations.
var (
	// ErrUnknownOracle indicates a task names an oracle that is not registered.
	ErrUnknownOracle = errors.New("unknown oracle")

	// ErrTrialFailed indicates a trial could not produce a definitive outcome.
	ErrTrialFailed = errors.New("trial failed")
)
