package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/labcore/authcore/identity"
)

// LoginFailureKind classifies login failures for root-level mapping. All
// kinds except LoginFailureStore surface to the client as the same
// authentication failure.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureEmptyInput
	LoginFailureUnknownIdentity
	LoginFailureLocked
	LoginFailurePassword
	LoginFailureInactive
	LoginFailureStore
)

func (k LoginFailureKind) String() string {
	switch k {
	case LoginFailureNone:
		return "none"
	case LoginFailureEmptyInput:
		return "empty_input"
	case LoginFailureUnknownIdentity:
		return "unknown_identity"
	case LoginFailureLocked:
		return "locked"
	case LoginFailurePassword:
		return "password_mismatch"
	case LoginFailureInactive:
		return "inactive"
	case LoginFailureStore:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// LoginRequest is one login attempt.
type LoginRequest struct {
	Email      string
	Password   string
	RememberMe bool
	IP         string
	UserAgent  string
}

// LoginResult carries either the issued tokens or failure metadata.
type LoginResult struct {
	Failure  LoginFailureKind
	Err      error
	Identity identity.Identity
	// LockedNow is set when this attempt's failure engaged the lock.
	LockedNow bool
	Tokens    TokenPair
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	Common

	LookupIdentity func(ctx context.Context, email string) (identity.Identity, error)
	IsNotFound     func(error) bool

	// CheckAllowed receives the identity as loaded so a backend that keeps
	// the lock on the identity row needs no second read.
	CheckAllowed  func(ctx context.Context, ident identity.Identity) error
	IsLocked      func(error) bool
	RecordFailure func(ctx context.Context, identityID string) (identity.LockState, error)
	RecordSuccess func(ctx context.Context, identityID string) error

	VerifyPassword func(password, hash string) (bool, error)
	VerifyDummy    func(password string)

	IssueSession func(ctx context.Context, ident identity.Identity, req LoginRequest) (TokenPair, error)
}

// RunLogin executes RECEIVED -> LOCKOUT_CHECK -> CREDENTIAL_CHECK ->
// TOKEN_ISSUE -> SESSION_CREATE, or FAILURE_RECORD -> REJECT.
//
// Every rejection that depends on the account performs one full-cost
// password derivation, real or dummy, so the reject latency does not
// reveal whether the email exists or the account is locked.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) LoginResult {
	deps.defaults()

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		deps.VerifyDummy(req.Password)
		return LoginResult{Failure: LoginFailureEmptyInput}
	}

	ident, err := deps.LookupIdentity(ctx, req.Email)
	if err != nil {
		if deps.IsNotFound(err) {
			deps.VerifyDummy(req.Password)
			return LoginResult{Failure: LoginFailureUnknownIdentity}
		}
		return LoginResult{Failure: LoginFailureStore, Err: err}
	}

	if err := deps.CheckAllowed(ctx, ident); err != nil {
		if deps.IsLocked(err) {
			deps.VerifyDummy(req.Password)
			return LoginResult{Failure: LoginFailureLocked, Err: err, Identity: ident}
		}
		return LoginResult{Failure: LoginFailureStore, Err: err, Identity: ident}
	}

	ok, err := deps.VerifyPassword(req.Password, ident.PasswordHash)
	if err != nil {
		// A corrupt stored hash is a failed attempt, not an outage.
		deps.Warn(ctx, "stored password hash rejected", err)
	}
	if !ok {
		state, recErr := deps.RecordFailure(ctx, ident.ID)
		if recErr != nil {
			deps.Warn(ctx, "failed to record login failure", recErr)
			return LoginResult{Failure: LoginFailurePassword, Err: recErr, Identity: ident}
		}
		return LoginResult{
			Failure:   LoginFailurePassword,
			Identity:  ident,
			LockedNow: state.Locked(deps.Now()),
		}
	}

	if !ident.CanAuthenticate() {
		return LoginResult{Failure: LoginFailureInactive, Identity: ident}
	}

	if err := deps.RecordSuccess(ctx, ident.ID); err != nil {
		return LoginResult{Failure: LoginFailureStore, Err: err, Identity: ident}
	}

	tokens, err := deps.IssueSession(ctx, ident, req)
	if err != nil {
		return LoginResult{Failure: LoginFailureStore, Err: err, Identity: ident}
	}
	return LoginResult{Identity: ident, Tokens: tokens}
}

// ErrFlowMisconfigured is returned when a required dependency is nil.
var ErrFlowMisconfigured = errors.New("flow dependency missing")

// Validate reports a missing required dependency.
func (d LoginDeps) Validate() error {
	if d.LookupIdentity == nil || d.IsNotFound == nil || d.CheckAllowed == nil || d.IsLocked == nil ||
		d.RecordFailure == nil || d.RecordSuccess == nil || d.VerifyPassword == nil ||
		d.VerifyDummy == nil || d.IssueSession == nil {
		return ErrFlowMisconfigured
	}
	return nil
}
