package httputil

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit allows perMinute requests per minute through next (token bucket,
// burst of one minute's worth). Excess requests get 429. perMinute <= 0
// disables the limit.
func RateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "60")
				_ = ErrorResponse(w, http.StatusTooManyRequests, "rate_limited", "too many run requests, retry later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
