package core

import "errors"

// Error taxonomy for the memory system. Callers classify failures with
// errors.Is; wrapped context travels via fmt.Errorf("...: %w", err).
var (
	// ErrValidation marks bad input (empty text or user ID), rejected
	// before any I/O.
	ErrValidation = errors.New("validation failed")

	// ErrOracleUnavailable marks an embedding or importance/summary call
	// that failed after retries. During consolidation this degrades to
	// "message handled, no memory update"; during retrieval of the query
	// embedding it is fatal to the call.
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrStoreUnavailable marks a persistence or query failure after
	// retries. Always fatal to the current call.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrDimensionMismatch marks an embedding whose length does not match
	// the deployment's fixed dimension. Detected before writing so all
	// stored vectors share one dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrCapacityViolation means a user's node count exceeded the
	// capacity bound after pruning. This is an internal bug: correct
	// per-user locking makes it unreachable.
	ErrCapacityViolation = errors.New("memory capacity invariant violated")

	// ErrNotFound marks a missing document.
	ErrNotFound = errors.New("not found")
)
