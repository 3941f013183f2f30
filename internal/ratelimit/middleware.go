package ratelimit

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/accordo-ai/accordo/internal/model"
)

// KeyFunc extracts the rate limit key from a request.
// Returns empty string to skip rate limiting for this request.
type KeyFunc func(r *http.Request) string

// RequestIDFunc extracts the request ID from the request context.
// Injected by the caller to avoid a dependency on the server package.
type RequestIDFunc func(r *http.Request) string

// Middleware returns HTTP middleware that enforces a rate limit.
// keyFunc determines the identifier to rate limit by. A nil limiter passes
// everything through, and limiter errors fail open.
func Middleware(limiter Limiter, keyFunc KeyFunc, reqIDFunc RequestIDFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				// Fail open: a limiter malfunction must not block traffic.
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				var requestID string
				if reqIDFunc != nil {
					requestID = reqIDFunc(r)
				}
				writeRateLimitError(w, requestID)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeRateLimitError writes a rate-limit error using the standard API error envelope.
func writeRateLimitError(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "too many requests",
		},
		Meta: model.ResponseMeta{
			RequestID: requestID,
			Timestamp: time.Now().UTC(),
		},
	})
}

// IPKeyFunc extracts the client IP from the request for rate limiting.
// Uses RemoteAddr only. X-Forwarded-For is not trusted because the server
// may not be behind a reverse proxy that sanitizes the header, and any
// client can set an arbitrary value to bypass rate limiting.
func IPKeyFunc(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
