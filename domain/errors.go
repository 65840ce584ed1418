package domain

import "errors"

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccessDenied is the terminal outcome of a failed authorization
	// check. Nothing has been written when it is returned.
	ErrAccessDenied = errors.New("access denied")

	// ErrConcurrencyConflict indicates that the underlying storage rejected an
	// update because a newer version of the entity is already persisted.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrInvalid marks a request that is well formed but not acceptable for
	// the current state, e.g. a stage that is not part of the workflow.
	ErrInvalid = errors.New("invalid request")
)
