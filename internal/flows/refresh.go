package flows

import (
	"context"
	"errors"

	"github.com/labcore/authcore/identity"
	"github.com/labcore/authcore/refresh"
	"github.com/labcore/authcore/session"
	"github.com/labcore/authcore/token"
)

// RefreshFailureKind classifies refresh failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureInvalid
	RefreshFailureExpired
	RefreshFailureRevoked
	RefreshFailureReuse
	RefreshFailureSessionEnded
	RefreshFailureIdentity
	// RefreshFailureRevocationCheck is a store failure while checking the
	// record or session. It is reported as an invalid token.
	RefreshFailureRevocationCheck
	RefreshFailureIssue
)

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureInvalid:
		return "invalid"
	case RefreshFailureExpired:
		return "expired"
	case RefreshFailureRevoked:
		return "revoked"
	case RefreshFailureReuse:
		return "reuse"
	case RefreshFailureSessionEnded:
		return "session_ended"
	case RefreshFailureIdentity:
		return "identity_unavailable"
	case RefreshFailureRevocationCheck:
		return "revocation_check_failed"
	case RefreshFailureIssue:
		return "issue_failed"
	default:
		return "unknown"
	}
}

// RefreshResult carries either the reissued tokens or failure metadata.
type RefreshResult struct {
	Failure    RefreshFailureKind
	Err        error
	IdentityID string
	SessionID  string
	Tokens     TokenPair
}

// RefreshDeps captures refresh dependencies.
type RefreshDeps struct {
	Common

	// Rotate exchanges the presented record for a new refresh token. When
	// false the record is stamped as used and the token is kept.
	Rotate bool

	VerifyRefresh func(tok string) (*token.Claims, error)
	// LoadRecord reads the presented record without changing it.
	LoadRecord func(ctx context.Context, id string) (refresh.Record, error)
	MarkUsed   func(ctx context.Context, id string) (refresh.Record, error)

	LookupSession  func(ctx context.Context, id string) (session.Session, error)
	LookupIdentity func(ctx context.Context, id string) (identity.Identity, error)

	// Reissue mints a new access token from the current RBAC state. When
	// rotating it also retires record presentedID in favour of a new
	// refresh token; a failure must leave presentedID usable. presented is
	// returned unchanged otherwise.
	Reissue func(ctx context.Context, ident identity.Identity, sess session.Session, presentedID, presented string, rotate bool) (TokenPair, error)
}

// RunRefresh executes RECEIVED -> TOKEN_VERIFY -> REVOCATION_CHECK ->
// REISSUE. Every check runs before anything is written, so a rejected or
// failed refresh leaves the presented record as it was.
func RunRefresh(ctx context.Context, presented string, deps RefreshDeps) RefreshResult {
	deps.defaults()

	claims, err := deps.VerifyRefresh(presented)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureInvalid, Err: err}
	}
	res := RefreshResult{IdentityID: claims.Subject, SessionID: claims.SessionID}

	rec, err := deps.LoadRecord(ctx, claims.ID)
	if err == nil {
		err = rec.Check(deps.Now())
	}
	if err != nil {
		res.Failure, res.Err = recordFailure(err), err
		return res
	}
	if rec.IdentityID != claims.Subject || rec.SessionID != claims.SessionID {
		res.Failure = RefreshFailureInvalid
		res.Err = errors.New("refresh record does not match token claims")
		return res
	}

	sess, err := deps.LookupSession(ctx, rec.SessionID)
	if err != nil {
		res.Err = err
		if errors.Is(err, session.ErrInactive) || errors.Is(err, session.ErrNotFound) {
			res.Failure = RefreshFailureSessionEnded
		} else {
			res.Failure = RefreshFailureRevocationCheck
		}
		return res
	}

	ident, err := deps.LookupIdentity(ctx, rec.IdentityID)
	if err != nil {
		res.Err = err
		if errors.Is(err, identity.ErrNotFound) {
			res.Failure = RefreshFailureIdentity
		} else {
			res.Failure = RefreshFailureRevocationCheck
		}
		return res
	}
	if !ident.CanAuthenticate() {
		res.Failure = RefreshFailureIdentity
		return res
	}

	if !deps.Rotate {
		if _, err := deps.MarkUsed(ctx, rec.ID); err != nil {
			res.Failure, res.Err = recordFailure(err), err
			return res
		}
	}

	tokens, err := deps.Reissue(ctx, ident, sess, rec.ID, presented, deps.Rotate)
	if err != nil {
		res.Err = err
		res.Failure = RefreshFailureIssue
		// A concurrent refresh may have retired the record between the
		// check above and the rotation.
		if recordState(err) {
			res.Failure = recordFailure(err)
		}
		return res
	}
	res.Tokens = tokens
	return res
}

func recordFailure(err error) RefreshFailureKind {
	switch {
	case errors.Is(err, refresh.ErrReused):
		return RefreshFailureReuse
	case errors.Is(err, refresh.ErrRevoked), errors.Is(err, refresh.ErrNotFound):
		return RefreshFailureRevoked
	case errors.Is(err, refresh.ErrExpired):
		return RefreshFailureExpired
	default:
		return RefreshFailureRevocationCheck
	}
}

func recordState(err error) bool {
	return errors.Is(err, refresh.ErrReused) || errors.Is(err, refresh.ErrRevoked) ||
		errors.Is(err, refresh.ErrNotFound) || errors.Is(err, refresh.ErrExpired)
}
