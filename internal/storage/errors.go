package storage

import "errors"

var (
	// ErrStorageUnavailable wraps upload or pin failures that exhausted their
	// retries. Callers that see it degrade to a local-only result rather than
	// failing the request.
	ErrStorageUnavailable = errors.New("content store unavailable")

	// ErrDigestMismatch means artifact bytes no longer hash to the digest they
	// are indexed under, on disk or coming back from the content store.
	ErrDigestMismatch = errors.New("content digest mismatch")
)
