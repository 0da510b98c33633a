package domain

import "errors"

// Service-level error kinds. Handlers map these onto HTTP statuses;
// callers test them with errors.Is after wrapping.
var (
	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied means the requester is not an authorized
	// participant for the attempted operation. Never retried.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidTransition means the event is not legal from the
	// session's current status. Wrapped with the event and status
	// for diagnostics.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInconsistentState means a required prior field is missing at a
	// point where it must exist. A defect signal, not a caller mistake.
	ErrInconsistentState = errors.New("inconsistent session state")

	// ErrConflict means the conditional write lost the race after one
	// retry. Retryable by the caller.
	ErrConflict = errors.New("conflict")

	// ErrInvalidInput covers malformed or out-of-range request data.
	ErrInvalidInput = errors.New("invalid input")
)
