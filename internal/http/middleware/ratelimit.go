package middleware

import (
	"net"
	"net/http"
	"strings"

	"uniadmit/internal/common"
	"uniadmit/internal/http/response"
	"uniadmit/internal/metrics"
	"uniadmit/internal/ratelimit"
)

// RateLimit rejects requests once keyFn's caller exceeds rule. An empty key
// skips the check.
func RateLimit(limiter ratelimit.Limiter, rule ratelimit.Rule, keyFn func(*http.Request) string, collector *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rule.Allow(r.Context(), limiter, keyFn(r)) {
				collector.Inc(metrics.RateLimitedOperations)
				response.Error(w, common.NewError(common.CodeRateLimited, "too many requests", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ActorKey keys limits by the authenticated caller.
func ActorKey(r *http.Request) string {
	if actor, ok := ActorFromContext(r.Context()); ok {
		return actor.ID.String()
	}
	return ""
}

func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
