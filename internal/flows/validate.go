package flows

import (
	"context"
	"errors"

	"github.com/labcore/authcore/identity"
	"github.com/labcore/authcore/token"
)

// ValidateFailureKind classifies access-token validation failures.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureInvalid
	ValidateFailureRevoked
	// ValidateFailureRevocationCheck is a denylist or identity store
	// failure. It is reported as an invalid token.
	ValidateFailureRevocationCheck
	ValidateFailurePermissions
)

// ValidateResult carries the verified claims and the permission set the
// request should be authorized against.
type ValidateResult struct {
	Failure     ValidateFailureKind
	Err         error
	Claims      *token.Claims
	Superuser   bool
	Permissions []string
}

// ValidateDeps captures per-request validation dependencies.
type ValidateDeps struct {
	Common

	VerifyAccess func(tok string) (*token.Claims, error)
	Denied       func(ctx context.Context, jti, sessionID string) (bool, error)

	// LiveResolution re-reads the identity and resolves its permissions
	// instead of trusting the token's snapshot.
	LiveResolution     bool
	LookupIdentity     func(ctx context.Context, id string) (identity.Identity, error)
	ResolvePermissions func(ctx context.Context, roles []string) ([]string, error)

	// TouchSession is best effort; errors are logged and dropped.
	TouchSession func(ctx context.Context, sessionID string) error
}

// RunValidate verifies an access token for one request.
func RunValidate(ctx context.Context, tok string, deps ValidateDeps) ValidateResult {
	deps.defaults()

	claims, err := deps.VerifyAccess(tok)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureInvalid, Err: err}
	}

	denied, err := deps.Denied(ctx, claims.ID, claims.SessionID)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureRevocationCheck, Err: err, Claims: claims}
	}
	if denied {
		return ValidateResult{Failure: ValidateFailureRevoked, Claims: claims}
	}

	res := ValidateResult{Claims: claims, Superuser: claims.Superuser, Permissions: claims.Permissions}

	if deps.LiveResolution {
		ident, err := deps.LookupIdentity(ctx, claims.Subject)
		if err != nil {
			if errors.Is(err, identity.ErrNotFound) {
				return ValidateResult{Failure: ValidateFailureRevoked, Err: err, Claims: claims}
			}
			return ValidateResult{Failure: ValidateFailureRevocationCheck, Err: err, Claims: claims}
		}
		if !ident.CanAuthenticate() {
			return ValidateResult{Failure: ValidateFailureRevoked, Claims: claims}
		}
		perms, err := deps.ResolvePermissions(ctx, ident.Roles)
		if err != nil {
			return ValidateResult{Failure: ValidateFailurePermissions, Err: err, Claims: claims}
		}
		res.Superuser = ident.Superuser
		res.Permissions = perms
	}

	if deps.TouchSession != nil && claims.SessionID != "" {
		if err := deps.TouchSession(ctx, claims.SessionID); err != nil {
			deps.Warn(ctx, "session touch failed", err)
		}
	}
	return res
}
