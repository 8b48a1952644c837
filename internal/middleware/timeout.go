package middleware

import (
	"net/http"
	"time"
)

// Timeout wraps a handler with an http.TimeoutHandler, bounding how long a
// REST request may run. The websocket upgrade (/api/suggest/session) does
// not go through this middleware — it owns its own per-message timeouts
// (spec §4.7's SuggestTimeout) for the life of the connection.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"success":false,"error":"request timeout"}`)
	}
}
