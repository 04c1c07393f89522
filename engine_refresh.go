package authcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/labcore/authcore/identity"
	"github.com/labcore/authcore/internal/flows"
	"github.com/labcore/authcore/refresh"
	"github.com/labcore/authcore/session"
	"github.com/labcore/authcore/token"
)

// Refresh exchanges a refresh token for a new access token. Permissions
// are re-read from current role state, never copied from the old token.
//
// With rotation enabled the presented refresh record is exchanged for a
// new refresh token for the same session. Presenting a rotated token again
// is treated as theft and, if configured, revokes every session of the
// identity. A token revoked by logout or RevokeAll is only rejected. When
// the exchange fails the presented token stays valid, so a retry after a
// store outage is not mistaken for reuse.
//
// Errors: ErrInvalidToken for bad tokens and failed revocation checks,
// ErrExpiredToken for an expired record, ErrRevokedToken for revoked
// records, ended sessions and disabled identities.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	res := flows.RunRefresh(ctx, refreshToken, e.refreshDeps())
	if res.Failure != flows.RefreshFailureNone {
		return nil, e.refreshFailure(ctx, res)
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.auditSuccess(ctx, AuditRefreshSuccess, res.IdentityID, "", res.SessionID)
	return tokenPair(res.Tokens), nil
}

func (e *Engine) refreshFailure(ctx context.Context, res flows.RefreshResult) error {
	e.metrics.Inc(MetricRefreshFailure)
	reason := res.Failure.String()

	switch res.Failure {
	case flows.RefreshFailureInvalid:
		e.auditFailure(ctx, AuditRefreshFailure, res.IdentityID, res.SessionID, reason, nil)
		return ErrInvalidToken
	case flows.RefreshFailureExpired:
		e.auditFailure(ctx, AuditRefreshFailure, res.IdentityID, res.SessionID, reason, nil)
		return ErrExpiredToken
	case flows.RefreshFailureReuse:
		e.metrics.Inc(MetricRefreshReuseDetected)
		e.auditFailure(ctx, AuditRefreshReuse, res.IdentityID, res.SessionID, reason, nil)
		e.logger.Warn("refresh token reuse detected",
			zap.String("identity_id", res.IdentityID),
			zap.String("session_id", res.SessionID),
		)
		if e.config.Token.RevokeAllOnReuse && res.IdentityID != "" {
			if _, err := e.revokeAll(context.WithoutCancel(ctx), res.IdentityID, refresh.ReasonReuse); err != nil {
				e.logger.Error("revoke all after reuse failed", zap.String("identity_id", res.IdentityID), zap.Error(err))
			}
		}
		return ErrRevokedToken
	case flows.RefreshFailureRevoked, flows.RefreshFailureSessionEnded, flows.RefreshFailureIdentity:
		e.auditFailure(ctx, AuditRefreshFailure, res.IdentityID, res.SessionID, reason, nil)
		return ErrRevokedToken
	case flows.RefreshFailureRevocationCheck:
		e.metrics.Inc(MetricRevocationCheckFailed)
		e.logger.Error("refresh revocation check failed, rejecting", zap.Error(res.Err))
		e.auditFailure(ctx, AuditRefreshFailure, res.IdentityID, res.SessionID, reason, nil)
		return ErrInvalidToken
	default:
		e.auditFailure(ctx, AuditRefreshFailure, res.IdentityID, res.SessionID, reason, nil)
		if errors.Is(res.Err, errSessionExhausted) {
			return ErrRevokedToken
		}
		return e.storeFailure("refresh", res.Err)
	}
}

func (e *Engine) refreshDeps() flows.RefreshDeps {
	return flows.RefreshDeps{
		Common: e.common(),
		Rotate: e.config.Token.RotateRefreshTokens,
		VerifyRefresh: func(tok string) (*token.Claims, error) {
			return e.tokens.Verify(tok, token.TypeRefresh)
		},
		LoadRecord: func(ctx context.Context, id string) (refresh.Record, error) {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.refreshes.Get(ctx, id)
		},
		MarkUsed: func(ctx context.Context, id string) (refresh.Record, error) {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.refreshes.MarkUsed(ctx, id, e.now())
		},
		LookupSession: func(ctx context.Context, id string) (session.Session, error) {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.sessions.Lookup(ctx, id)
		},
		LookupIdentity: func(ctx context.Context, id string) (identity.Identity, error) {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.identities.ByID(ctx, id)
		},
		Reissue: e.reissue,
	}
}

// errSessionExhausted is returned when a rotated refresh token would
// have no lifetime left inside its session.
var errSessionExhausted = errors.New("session lifetime exhausted")

func (e *Engine) reissue(ctx context.Context, ident identity.Identity, sess session.Session, presentedID, presented string, rotate bool) (flows.TokenPair, error) {
	perms, err := e.effectivePermissions(ctx, ident.Roles)
	if err != nil {
		return flows.TokenPair{}, err
	}

	tctx, cancel := e.bound(ctx)
	if err := e.sessions.Touch(tctx, sess.ID); err != nil {
		e.logger.Warn("session touch failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
	cancel()

	if rotate {
		// The new refresh token never outlives its session.
		ttl := e.config.Token.RefreshTTL
		if left := sess.ExpiresAt.Sub(e.now()); left < ttl {
			ttl = left
		}
		if ttl < time.Second {
			return flows.TokenPair{}, errSessionExhausted
		}
		return e.mint(ctx, ident, sess, perms, ttl, presentedID)
	}

	access, claims, err := e.tokens.IssueAccess(token.AccessParams{
		Subject:     ident.ID,
		TenantID:    ident.TenantID,
		SessionID:   sess.ID,
		Permissions: perms,
		Superuser:   ident.Superuser,
	})
	if err != nil {
		return flows.TokenPair{}, err
	}
	return flows.TokenPair{
		AccessToken:      access,
		RefreshToken:     presented,
		AccessExpiresAt:  claims.ExpiresAt.Time,
		RefreshExpiresAt: sess.ExpiresAt,
		SessionID:        sess.ID,
		Permissions:      perms,
	}, nil
}
