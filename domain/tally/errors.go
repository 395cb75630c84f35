package tally

import "errors"

// Domain errors for tally stores.
var (
	// ErrInvalidCount indicates a non-positive trial count was recorded.
	ErrInvalidCount = errors.New("trial count must be positive")

	// ErrStoreUnavailable indicates the backing store could not be reached.
	ErrStoreUnavailable = errors.New("tally store unavailable")

	// ErrOperationTimeout indicates a store operation timed out.
	ErrOperationTimeout = errors.New("tally store operation timed out")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("tally store closed")
)
