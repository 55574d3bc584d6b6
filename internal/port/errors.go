package port

import "errors"

// Sentinel errors used across ports.
var (
	// ErrValidation marks a malformed fragment on write (empty content,
	// dimensionality mismatch, unattributed chat fragment).
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks an unknown or out-of-scope entity, including job ids
	// polled from a foreign session.
	ErrNotFound = errors.New("not found")

	// ErrRetrievalUnavailable marks an embedder or fragment store failure
	// during retrieval. Callers degrade to an unaugmented prompt.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrWorkerFailure marks an error raised during background generation.
	ErrWorkerFailure = errors.New("worker failure")

	// ErrMixedPolicy marks a ranking that combines scores of different policies.
	ErrMixedPolicy = errors.New("ranking mixes scoring policies")

	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)
