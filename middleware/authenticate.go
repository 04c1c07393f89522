package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/labcore/authcore"
)

// Validator is implemented by *authcore.Engine.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*authcore.Principal, error)
}

// Authorizer is implemented by *authcore.Engine.
type Authorizer interface {
	RequirePermission(ctx context.Context, p *authcore.Principal, name string) error
}

// ClientInfo attaches the client IP and User-Agent to the request context
// for the engine's session and audit records.
func ClientInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := authcore.WithClientIP(r.Context(), ClientIP(r))
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate requires a valid bearer access token and stores the
// resulting principal in the request context.
func Authenticate(v Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
				WriteError(w, http.StatusUnauthorized, CodeInvalidToken, "missing bearer token")
				return
			}

			p, err := v.Validate(r.Context(), tok)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="authcore"`)
				WriteEngineError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(authcore.WithPrincipal(r.Context(), p)))
		})
	}
}

// RequirePermission rejects authenticated requests lacking name with 403.
// It must run after Authenticate.
func RequirePermission(a Authorizer, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := authcore.PrincipalFromContext(r.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, CodeInvalidToken, "missing bearer token")
				return
			}
			if err := a.RequirePermission(r.Context(), p, name); err != nil {
				WriteEngineError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "bearer "
	value = strings.TrimSpace(value)
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
