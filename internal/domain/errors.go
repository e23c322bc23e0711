package domain

import "errors"

// Error taxonomy. Components wrap these sentinels with %w so callers can
// classify failures with errors.Is.
var (
	// ErrConfiguration marks invalid chunking or threshold parameters.
	// Fatal; the caller must fix the configuration. Never retried.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrInvalidQuery marks an empty or too-short query. Rejected
	// synchronously, never retried.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrMissingIndex marks an absent index or record-store artifact.
	// Fatal to retriever construction; surfaced to offline tooling.
	ErrMissingIndex = errors.New("missing index artifact")

	// ErrIntegrity marks corrupted artifacts or a vector-count mismatch
	// from the embedding service. Non-retryable, escalated immediately.
	ErrIntegrity = errors.New("integrity violation")

	// ErrEmbeddingService marks exhausted retries against the embedding
	// service. Downgraded to a refusal at the pipeline boundary.
	ErrEmbeddingService = errors.New("embedding service failure")

	// ErrGeneration marks exhausted retries against the completion
	// service. Downgraded to a refusal at the pipeline boundary.
	ErrGeneration = errors.New("generation failure")
)
