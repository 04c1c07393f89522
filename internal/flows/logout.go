package flows

import (
	"context"
	"errors"
	"time"

	"github.com/labcore/authcore/session"
)

// LogoutRequest identifies the caller by its verified access token.
type LogoutRequest struct {
	IdentityID     string
	SessionID      string
	TokenID        string
	TokenExpiresAt time.Time
	Everywhere     bool
}

// LogoutResult reports which sessions were ended.
type LogoutResult struct {
	Err        error
	Terminated []string
}

// LogoutDeps captures logout dependencies.
type LogoutDeps struct {
	Common

	LookupSession    func(ctx context.Context, id string) (session.Session, error)
	TerminateSession func(ctx context.Context, id string) error
	TerminateAll     func(ctx context.Context, identityID string) ([]string, error)

	RevokeSessionRefresh func(ctx context.Context, sessionID string) error
	RevokeAllRefresh     func(ctx context.Context, identityID string) error

	DenyToken    func(ctx context.Context, jti string, expiresAt time.Time) error
	DenySessions func(ctx context.Context, sessionIDs ...string) error
}

// ErrSessionMismatch is returned when the token's session belongs to
// another identity.
var ErrSessionMismatch = errors.New("session does not belong to token subject")

// RunLogout executes RECEIVED -> SESSION_LOOKUP -> TERMINATE_ONE, or
// TERMINATE_ALL_AND_REVOKE_REFRESH_TOKENS when Everywhere is set.
// Logging out an already-ended session succeeds.
func RunLogout(ctx context.Context, req LogoutRequest, deps LogoutDeps) LogoutResult {
	deps.defaults()

	if req.SessionID != "" {
		sess, err := deps.LookupSession(ctx, req.SessionID)
		switch {
		case err == nil, errors.Is(err, session.ErrInactive):
			if sess.IdentityID != "" && sess.IdentityID != req.IdentityID {
				return LogoutResult{Err: ErrSessionMismatch}
			}
		case errors.Is(err, session.ErrNotFound):
		default:
			return LogoutResult{Err: err}
		}
	}

	if req.Everywhere {
		ids, err := deps.TerminateAll(ctx, req.IdentityID)
		if err != nil {
			return LogoutResult{Err: err}
		}
		if err := deps.RevokeAllRefresh(ctx, req.IdentityID); err != nil {
			return LogoutResult{Err: err}
		}
		if req.SessionID != "" && !contains(ids, req.SessionID) {
			ids = append(ids, req.SessionID)
		}
		if err := deps.DenySessions(ctx, ids...); err != nil {
			return LogoutResult{Err: err}
		}
		if err := deps.DenyToken(ctx, req.TokenID, req.TokenExpiresAt); err != nil {
			return LogoutResult{Err: err}
		}
		return LogoutResult{Terminated: ids}
	}

	var ended []string
	if req.SessionID != "" {
		if err := deps.TerminateSession(ctx, req.SessionID); err != nil {
			return LogoutResult{Err: err}
		}
		if err := deps.RevokeSessionRefresh(ctx, req.SessionID); err != nil {
			return LogoutResult{Err: err}
		}
		if err := deps.DenySessions(ctx, req.SessionID); err != nil {
			return LogoutResult{Err: err}
		}
		ended = []string{req.SessionID}
	}
	if err := deps.DenyToken(ctx, req.TokenID, req.TokenExpiresAt); err != nil {
		return LogoutResult{Err: err}
	}
	return LogoutResult{Terminated: ended}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
