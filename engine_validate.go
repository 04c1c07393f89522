package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/labcore/authcore/identity"
	"github.com/labcore/authcore/internal/flows"
	"github.com/labcore/authcore/token"
)

// Validate verifies an access token for one request and returns the
// caller's principal.
//
// The denylist is always consulted. If it cannot be reached the token is
// rejected with ErrInvalidToken. With RBAC.LiveResolution the identity is
// re-read and its permissions resolved from current role state.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*Principal, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	res := flows.RunValidate(ctx, accessToken, e.validateDeps())
	e.metrics.Observe(MetricValidateLatency, time.Since(start))

	switch res.Failure {
	case flows.ValidateFailureNone:
	case flows.ValidateFailureInvalid:
		e.metrics.Inc(MetricValidateFailure)
		return nil, ErrInvalidToken
	case flows.ValidateFailureRevoked:
		e.metrics.Inc(MetricValidateFailure)
		return nil, ErrRevokedToken
	case flows.ValidateFailureRevocationCheck:
		e.metrics.Inc(MetricValidateFailure)
		e.metrics.Inc(MetricRevocationCheckFailed)
		e.logger.Error("revocation check failed, rejecting token", zap.Error(res.Err))
		return nil, ErrInvalidToken
	default:
		e.metrics.Inc(MetricValidateFailure)
		return nil, e.storeFailure("resolve permissions", res.Err)
	}

	c := res.Claims
	p := &Principal{
		IdentityID:  c.Subject,
		TenantID:    c.TenantID,
		SessionID:   c.SessionID,
		TokenID:     c.ID,
		Permissions: res.Permissions,
		Superuser:   res.Superuser,
	}
	if c.ExpiresAt != nil {
		p.TokenExpiresAt = c.ExpiresAt.Time
	}
	return p, nil
}

func (e *Engine) validateDeps() flows.ValidateDeps {
	deps := flows.ValidateDeps{
		Common: e.common(),
		VerifyAccess: func(tok string) (*token.Claims, error) {
			return e.tokens.Verify(tok, token.TypeAccess)
		},
		Denied:         e.denylist.Denied,
		LiveResolution: e.config.RBAC.LiveResolution,
		LookupIdentity: func(ctx context.Context, id string) (identity.Identity, error) {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.identities.ByID(ctx, id)
		},
		ResolvePermissions: e.effectivePermissions,
	}
	if e.config.Session.TouchOnValidate {
		deps.TouchSession = func(ctx context.Context, sessionID string) error {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.sessions.Touch(ctx, sessionID)
		}
	}
	return deps
}
