package middleware

import (
	"net"
	"net/http"

	"github.com/tedtad/church-trip-telegram-miniapp-bot-sub001/internal/rate"
)

// RateLimit throttles unauthenticated endpoints per client IP. It expects
// chi's RealIP to have run first.
func RateLimit(limiter *rate.KeyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
