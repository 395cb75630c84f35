package counting

import "errors"

// Domain errors for counting operations.
var (
	// ErrInvalidParameter indicates an invocation parameter is out of range.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidLevel indicates a restriction level key could not be parsed.
	ErrInvalidLevel = errors.New("invalid restriction level")

	// ErrInvalidOutcome indicates an unknown trial outcome.
	ErrInvalidOutcome = errors.New("invalid trial outcome")
)
