// Package middleware provides HTTP middleware for the cubqueue API.
package middleware

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimit bounds how fast mutating endpoints admit requests. A single
// token bucket covers all callers; rps=0 means unlimited.
func RateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
