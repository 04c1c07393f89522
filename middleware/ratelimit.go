package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/labcore/authcore"
)

// RateChecker is implemented by *authcore.Engine.
type RateChecker interface {
	Allow(ctx context.Context, req authcore.RateRequest) authcore.RateDecision
}

// RateLimit admits or rejects every request before it reaches next and
// sets the X-RateLimit-* headers. Rejections get 429 with Retry-After.
// A degraded decision is admitted like any other.
func RateLimit(limiter RateChecker) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, _ := bearerToken(r.Header.Get("Authorization"))
			d := limiter.Allow(r.Context(), authcore.RateRequest{
				IP:          ClientIP(r),
				Route:       r.URL.Path,
				BearerToken: tok,
			})

			if d.Limit > 0 {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
			}
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())))
				WriteEngineError(w, d.Err())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of r.RemoteAddr. Deployments behind a
// proxy should rewrite RemoteAddr first (chi's middleware.RealIP).
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
