package contexts

import "errors"

// Sentinel errors shared across the engine. Callers match with errors.Is.
var (
	// ErrValidation indicates a malformed request or record.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a context id does not resolve.
	ErrNotFound = errors.New("context not found")

	// ErrStoreUnavailable indicates the primary store is unreachable.
	// Fatal for all request-blocking operations.
	ErrStoreUnavailable = errors.New("primary store unavailable")

	// ErrIndexUnavailable indicates the vector index is unreachable.
	// Fatal for retrieval; non-fatal (logged) for storage writes.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrVersionNotFound is returned when a version snapshot does not exist.
	ErrVersionNotFound = errors.New("context version not found")
)
