package authcore

import (
	"context"
	"time"
)

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type principalContextKey struct{}

// Principal is the authenticated caller of one request, produced by
// Engine.Validate.
type Principal struct {
	IdentityID     string
	TenantID       string
	SessionID      string
	TokenID        string
	TokenExpiresAt time.Time
	// Permissions is the effective set the request is authorized against.
	// With live resolution it reflects role state at validation time.
	Permissions []string
	Superuser   bool
}

// Has reports whether the principal holds perm. Superusers hold every
// permission.
func (p *Principal) Has(perm string) bool {
	if p == nil {
		return false
	}
	if p.Superuser {
		return true
	}
	for _, v := range p.Permissions {
		if v == perm {
			return true
		}
	}
	return false
}

// WithClientIP attaches the caller's IP address to ctx. Login records it
// on the session and the audit trail.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithPrincipal stores p for downstream handlers.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext returns the principal set by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	p, ok := ctx.Value(principalContextKey{}).(*Principal)
	return p, ok && p != nil
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}
