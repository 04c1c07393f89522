package authcore

import (
	"errors"
	"fmt"
	"time"
)

// Expected security outcomes. These are normal results of presenting bad,
// stale or excessive credentials and map to 4xx responses.
var (
	// ErrInvalidToken covers malformed tokens, bad signatures, wrong token
	// type, expired access tokens, and revocation checks that could not be
	// completed.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned by Refresh when the refresh record has
	// expired.
	ErrExpiredToken = errors.New("token expired")
	// ErrRevokedToken is returned for revoked refresh records, ended
	// sessions and denylisted access tokens.
	ErrRevokedToken = errors.New("token revoked")
	// ErrAccountLocked is reported by lockout checks. Login never returns it.
	ErrAccountLocked = errors.New("account locked")
	// ErrAuthenticationFailed is the only login rejection. It does not say
	// whether the email exists, the password was wrong or the account is
	// locked.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrRateLimitExceeded is matched by every *RateLimitError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrPermissionDenied  = errors.New("permission denied")
)

// Infrastructure failures. These are never security outcomes.
var (
	// ErrStoreUnavailable wraps database and Redis failures on paths that
	// cannot fail closed into a security outcome.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrEngineNotReady   = errors.New("engine not ready")
	ErrInvalidConfig    = errors.New("invalid config")
	// ErrRoleRejected wraps the reason a role save or delete was refused.
	ErrRoleRejected = errors.New("role rejected")
)

// RateLimitError reports a rejected request with the quota details a
// client needs for backoff.
type RateLimitError struct {
	Limit      int
	Window     string
	Reset      time.Time
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d per %s, retry after %s", e.Limit, e.Window, e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimitExceeded) true.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimitExceeded
}

var securityOutcomes = []error{
	ErrInvalidToken,
	ErrExpiredToken,
	ErrRevokedToken,
	ErrAccountLocked,
	ErrAuthenticationFailed,
	ErrRateLimitExceeded,
	ErrPermissionDenied,
}

// IsSecurityOutcome reports whether err is an expected security outcome
// rather than an infrastructure failure.
func IsSecurityOutcome(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range securityOutcomes {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storeErr tags an infrastructure error without losing its cause.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
