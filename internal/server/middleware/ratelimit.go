package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/carbex/carbex/internal/domain"
)

// RateLimit returns middleware that applies per-client rate limiting
// using the provided domain.RateLimiter. Each unique client IP is
// limited to `limit` requests per `window` duration.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "rl:ip:" + extractClientIP(r)
			allowLimited(w, r, next, limiter, key, limit, window)
		})
	}
}

// UserRateLimit returns middleware that rate limits by the
// authenticated user instead of the client address, so one account
// cannot dodge its quota by rotating IPs. It must run after
// Authenticate; requests without a principal fall back to the IP key.
func UserRateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "rl:ip:" + extractClientIP(r)
			if p, ok := PrincipalFrom(r.Context()); ok {
				key = "rl:user:" + p.UserID
			}
			allowLimited(w, r, next, limiter, key, limit, window)
		})
	}
}

// allowLimited runs the limiter check and either passes the request
// through or answers 429. Limiter errors fail open so a Redis outage
// does not take the API down with it.
func allowLimited(w http.ResponseWriter, r *http.Request, next http.Handler, limiter domain.RateLimiter, key string, limit int, window time.Duration) {
	allowed, err := limiter.Allow(r.Context(), key, limit, window)
	if err != nil {
		next.ServeHTTP(w, r)
		return
	}

	if !allowed {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit exceeded"}`))
		return
	}

	next.ServeHTTP(w, r)
}

// extractClientIP attempts to determine the real client IP from
// standard proxy headers, falling back to the direct remote address.
func extractClientIP(r *http.Request) string {
	// Check X-Forwarded-For first (may contain multiple IPs).
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}

	// Check X-Real-IP.
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fall back to RemoteAddr.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
