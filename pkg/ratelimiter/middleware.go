package ratelimiter

import (
	"math"
	"net/http"
	"strconv"

	"github.com/dmitrymomot/quotakit/pkg/tier"
)

// KeyFunc extracts a rate limit key from the request. An empty key skips
// limiting.
type KeyFunc func(r *http.Request) string

// TierFunc resolves the tier whose limits apply to the request.
type TierFunc func(r *http.Request) tier.Tier

// RejectFunc writes the response for a denied request. Rate limit headers
// are already set.
type RejectFunc func(w http.ResponseWriter, r *http.Request, v Verdict)

// Middleware enforces l on every request and sets X-RateLimit-* headers.
// Degraded decisions carry no headers.
func Middleware(l *Tiered, key KeyFunc, tierOf TierFunc, reject RejectFunc) func(http.Handler) http.Handler {
	if reject == nil {
		reject = func(w http.ResponseWriter, _ *http.Request, v Verdict) {
			http.Error(w, "rate limit exceeded: "+v.Window, http.StatusTooManyRequests)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			v := l.Allow(r.Context(), k, tierOf(r))
			if !v.Degraded {
				SetHeaders(w.Header(), v)
			}
			if !v.Allowed {
				reject(w, r, v)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SetHeaders writes X-RateLimit-* and, for denials, Retry-After.
func SetHeaders(h http.Header, v Verdict) {
	if v.Limit == 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(v.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(0, v.Remaining)))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(v.ResetAt.Unix(), 10))
	h.Set("X-RateLimit-Window", v.Window)
	if !v.Allowed {
		secs := int64(math.Ceil(v.RetryAfter.Seconds()))
		h.Set("Retry-After", strconv.FormatInt(max(secs, 1), 10))
	}
}
