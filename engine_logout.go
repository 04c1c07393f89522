package authcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/labcore/authcore/internal/flows"
	"github.com/labcore/authcore/refresh"
	"github.com/labcore/authcore/session"
)

// Logout ends the principal's session, revokes its refresh records and
// denylists the presented access token. With everywhere set every session
// of the identity is ended. Logging out an already-ended session
// succeeds.
func (e *Engine) Logout(ctx context.Context, p *Principal, everywhere bool) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if p == nil || p.IdentityID == "" {
		return ErrInvalidToken
	}

	res := flows.RunLogout(ctx, flows.LogoutRequest{
		IdentityID:     p.IdentityID,
		SessionID:      p.SessionID,
		TokenID:        p.TokenID,
		TokenExpiresAt: p.TokenExpiresAt,
		Everywhere:     everywhere,
	}, e.logoutDeps())
	if res.Err != nil {
		if errors.Is(res.Err, flows.ErrSessionMismatch) {
			e.logger.Warn("logout token does not own its session", zap.String("identity_id", p.IdentityID))
			return ErrInvalidToken
		}
		return e.storeFailure("logout", res.Err)
	}

	e.metrics.Add(MetricSessionTerminated, uint64(len(res.Terminated)))
	if everywhere {
		e.metrics.Inc(MetricLogoutAll)
		e.emitAudit(ctx, AuditEvent{
			Type:       AuditLogoutAll,
			IdentityID: p.IdentityID,
			TenantID:   p.TenantID,
			SessionID:  p.SessionID,
			Success:    true,
			Metadata:   map[string]string{"sessions": itoa(len(res.Terminated))},
		})
		return nil
	}
	e.metrics.Inc(MetricLogout)
	e.auditSuccess(ctx, AuditLogout, p.IdentityID, p.TenantID, p.SessionID)
	return nil
}

func (e *Engine) logoutDeps() flows.LogoutDeps {
	bounded := func(fn func(ctx context.Context, id string) error) func(context.Context, string) error {
		return func(ctx context.Context, id string) error {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return fn(ctx, id)
		}
	}

	return flows.LogoutDeps{
		Common: e.common(),
		LookupSession: func(ctx context.Context, id string) (session.Session, error) {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.sessions.Lookup(ctx, id)
		},
		TerminateSession: bounded(func(ctx context.Context, id string) error {
			_, err := e.sessions.Terminate(ctx, id)
			return err
		}),
		TerminateAll: func(ctx context.Context, identityID string) ([]string, error) {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.sessions.TerminateAll(ctx, identityID)
		},
		RevokeSessionRefresh: bounded(func(ctx context.Context, sessionID string) error {
			_, err := e.refreshes.RevokeForSession(ctx, sessionID, refresh.ReasonLogout, e.now())
			return err
		}),
		RevokeAllRefresh: bounded(func(ctx context.Context, identityID string) error {
			_, err := e.refreshes.RevokeAllForIdentity(ctx, identityID, refresh.ReasonLogout, e.now())
			return err
		}),
		DenyToken: func(ctx context.Context, jti string, expiresAt time.Time) error {
			if jti == "" {
				return nil
			}
			return e.denylist.DenyToken(ctx, jti, expiresAt)
		},
		DenySessions: e.denylist.DenySessions,
	}
}
