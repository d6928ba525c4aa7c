package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per client IP to
// the specified number per minute, using a sliding window. Applied to the
// login endpoint to slow credential stuffing; it is unrelated to the
// advisory per-token rate limit stored on token records.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
