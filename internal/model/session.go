package model

// SessionState is the lifecycle state of one live streaming connection
// (spec §3, §4.7): opening on accept, open after a successful handshake,
// draining on graceful close, closed once resources are released.
type SessionState string

const (
	SessionOpening  SessionState = "opening"
	SessionOpen     SessionState = "open"
	SessionDraining SessionState = "draining"
	SessionClosed   SessionState = "closed"
)

// ErrorCode enumerates the wire-level error.code values a session may emit
// (spec §6, §7).
type ErrorCode string

const (
	ErrCodeRateLimited          ErrorCode = "rate_limited"
	ErrCodeEmbeddingUnavailable ErrorCode = "embedding_unavailable"
	ErrCodeTimeout              ErrorCode = "timeout"
	ErrCodeInternal             ErrorCode = "internal"
)
