package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	// UserRequestsPerMinute limits authenticated requests per user.
	// A value of 0 means unlimited (no rate limiting applied).
	UserRequestsPerMinute int
	// IPRequestsPerMinute is a fallback rate limit by IP for unauthenticated requests.
	IPRequestsPerMinute int
}

// DefaultRateLimitConfig returns sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		UserRequestsPerMinute: 120,
		IPRequestsPerMinute:   60,
	}
}

// RateLimitByUser returns a middleware that rate limits by user ID.
// Should be applied AFTER authentication middleware.
// Falls back to IP-based limiting if user is not authenticated.
// Honors UserRequestsPerMinute=0 as unlimited (no rate limiting).
func RateLimitByUser(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.UserRequestsPerMinute == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := httprate.NewRateLimiter(
		cfg.UserRequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			claims := GetUserClaims(r.Context())
			if claims == nil || claims.UserID == "" {
				// Fall back to IP if no user
				return httprate.KeyByIP(r)
			}
			return "user:" + claims.UserID, nil
		}),
	)

	return func(next http.Handler) http.Handler {
		return limiter.Handler(next)
	}
}

// RateLimitByIP returns a middleware that rate limits by IP address.
// Useful for public endpoints or as a global fallback.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// RateLimitGlobal returns a middleware that applies a global rate limit
// to prevent overall system overload. Uses a sliding window.
func RateLimitGlobal(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return "global", nil
		}),
	)
}
