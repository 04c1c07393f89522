package authcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/labcore/authcore/identity"
	"github.com/labcore/authcore/internal"
	"github.com/labcore/authcore/internal/flows"
	"github.com/labcore/authcore/internal/limiters"
	"github.com/labcore/authcore/refresh"
	"github.com/labcore/authcore/session"
	"github.com/labcore/authcore/token"
)

// Login authenticates an email and password and opens a new session.
//
// Every credential rejection, including lockout, returns
// ErrAuthenticationFailed with the same latency profile, so the result
// does not reveal whether the email exists or the account is locked. A
// store outage returns ErrStoreUnavailable instead.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	if req.IP == "" {
		req.IP = clientIPFromContext(ctx)
	}
	if req.UserAgent == "" {
		req.UserAgent = userAgentFromContext(ctx)
	}

	res := flows.RunLogin(ctx, flows.LoginRequest{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		IP:         req.IP,
		UserAgent:  req.UserAgent,
	}, e.loginDeps())
	e.metrics.Observe(MetricLoginLatency, time.Since(start))

	if res.Failure != flows.LoginFailureNone {
		return nil, e.loginFailure(ctx, res)
	}

	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionCreated)
	e.auditSuccess(ctx, AuditLoginSuccess, res.Identity.ID, res.Identity.TenantID, res.Tokens.SessionID)
	return tokenPair(res.Tokens), nil
}

func (e *Engine) loginFailure(ctx context.Context, res flows.LoginResult) error {
	e.metrics.Inc(MetricLoginFailure)
	reason := res.Failure.String()

	if res.Failure == flows.LoginFailureStore {
		e.auditFailure(ctx, AuditLoginFailure, res.Identity.ID, "", reason, nil)
		return e.storeFailure("login", res.Err)
	}

	e.auditFailure(ctx, AuditLoginFailure, res.Identity.ID, "", reason, nil)
	if res.LockedNow {
		e.metrics.Inc(MetricAccountLocked)
		e.auditFailure(ctx, AuditAccountLocked, res.Identity.ID, "", "threshold_reached", nil)
		e.logger.Info("account locked", zap.String("identity_id", res.Identity.ID))
	}
	return ErrAuthenticationFailed
}

func (e *Engine) loginDeps() flows.LoginDeps {
	return flows.LoginDeps{
		Common: e.common(),
		LookupIdentity: func(ctx context.Context, email string) (identity.Identity, error) {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.identities.ByEmail(ctx, email)
		},
		IsNotFound: func(err error) bool { return errors.Is(err, identity.ErrNotFound) },
		CheckAllowed: func(ctx context.Context, ident identity.Identity) error {
			if e.config.Lockout.Backend == LockoutBackendIdentity {
				return e.guard.CheckState(ident.LockState)
			}
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.guard.CheckAllowed(ctx, ident.ID)
		},
		IsLocked: func(err error) bool { return errors.Is(err, limiters.ErrLocked) },
		RecordFailure: func(ctx context.Context, identityID string) (identity.LockState, error) {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.guard.RecordFailure(ctx, identityID)
		},
		RecordSuccess: func(ctx context.Context, identityID string) error {
			ctx, cancel := e.bound(ctx)
			defer cancel()
			return e.guard.RecordSuccess(ctx, identityID)
		},
		VerifyPassword: e.verifier.Verify,
		VerifyDummy:    e.verifier.VerifyDummy,
		IssueSession:   e.issueSession,
	}
}

// issueSession runs TOKEN_ISSUE and SESSION_CREATE for an authenticated
// identity. The session is ended again if any later step fails.
func (e *Engine) issueSession(ctx context.Context, ident identity.Identity, req flows.LoginRequest) (flows.TokenPair, error) {
	ttl := e.config.Token.ShortRefreshTTL
	if req.RememberMe {
		ttl = e.config.Token.RefreshTTL
	}

	perms, err := e.effectivePermissions(ctx, ident.Roles)
	if err != nil {
		return flows.TokenPair{}, err
	}

	sctx, cancel := e.bound(ctx)
	sess, err := e.sessions.Create(sctx, session.CreateParams{
		IdentityID: ident.ID,
		TenantID:   ident.TenantID,
		IP:         req.IP,
		UserAgent:  req.UserAgent,
		TTL:        ttl,
	})
	cancel()
	if err != nil {
		return flows.TokenPair{}, err
	}

	pair, err := e.mint(ctx, ident, sess, perms, ttl, "")
	if err != nil {
		tctx, cancel := e.bound(context.WithoutCancel(ctx))
		if _, termErr := e.sessions.Terminate(tctx, sess.ID); termErr != nil {
			e.logger.Warn("failed to end session after issue failure", zap.String("session_id", sess.ID), zap.Error(termErr))
		}
		cancel()
		return flows.TokenPair{}, err
	}
	return pair, nil
}

// mint signs an access token and a refresh token for sess, persists the
// refresh record and binds the refresh token to the session.
// mint issues an access and refresh token for sess and persists the
// refresh record. With a non-empty retire the record is stored through
// Rotate, which retires that record in the same transaction.
func (e *Engine) mint(ctx context.Context, ident identity.Identity, sess session.Session, perms []string, refreshTTL time.Duration, retire string) (flows.TokenPair, error) {
	access, accessClaims, err := e.tokens.IssueAccess(token.AccessParams{
		Subject:     ident.ID,
		TenantID:    ident.TenantID,
		SessionID:   sess.ID,
		Permissions: perms,
		Superuser:   ident.Superuser,
	})
	if err != nil {
		return flows.TokenPair{}, err
	}

	refreshTok, refreshClaims, err := e.tokens.IssueRefresh(token.RefreshParams{
		Subject:   ident.ID,
		TenantID:  ident.TenantID,
		SessionID: sess.ID,
		ID:        internal.NewRefreshID(),
		TTL:       refreshTTL,
	})
	if err != nil {
		return flows.TokenPair{}, err
	}

	ctx, cancel := e.bound(ctx)
	defer cancel()
	// Bound before the record is stored so a failed bind never retires the
	// presented record.
	if err := e.sessions.BindToken(ctx, sess.ID, refreshTok); err != nil {
		return flows.TokenPair{}, err
	}
	next := refresh.Record{
		ID:         refreshClaims.ID,
		IdentityID: ident.ID,
		SessionID:  sess.ID,
		IssuedAt:   refreshClaims.IssuedAt.Time,
		ExpiresAt:  refreshClaims.ExpiresAt.Time,
	}
	if retire == "" {
		err = e.refreshes.Insert(ctx, next)
	} else {
		_, err = e.refreshes.Rotate(ctx, retire, next, e.now())
	}
	if err != nil {
		return flows.TokenPair{}, err
	}

	return flows.TokenPair{
		AccessToken:      access,
		RefreshToken:     refreshTok,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
		SessionID:        sess.ID,
		Permissions:      perms,
	}, nil
}

func tokenPair(p flows.TokenPair) *TokenPair {
	return &TokenPair{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
		SessionID:        p.SessionID,
	}
}
