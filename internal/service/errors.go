package service

import "errors"

// Sentinel errors the retrieval pipeline and session layer check with
// errors.Is, mapped to the wire-level error.code enum at the session
// boundary (spec §7).
var (
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")
	ErrRateLimited          = errors.New("rate limited")
	ErrTimeout              = errors.New("timeout")

	// ErrNoContent marks a paper whose extracted text yielded zero chunks
	// (spec §4.1 edge case); the ingestion pipeline maps it to
	// model.FailureNoContent.
	ErrNoContent = errors.New("no content")
)
