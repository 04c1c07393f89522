package authcore

import (
	"context"
	"time"

	"github.com/labcore/authcore/identity"
)

// IdentityStore is the account source. The lockout methods are used when
// Lockout.Backend is "identity"; with the "redis" backend only the
// lookups are called.
type IdentityStore interface {
	ByEmail(ctx context.Context, email string) (identity.Identity, error)
	ByID(ctx context.Context, id string) (identity.Identity, error)
	LockState(ctx context.Context, id string) (identity.LockState, error)
	RecordFailure(ctx context.Context, id string, policy identity.LockPolicy, now time.Time) (identity.LockState, error)
	ResetFailures(ctx context.Context, id string) error
}

// LoginRequest is one credential submission. IP and UserAgent fall back
// to the values attached with WithClientIP and WithUserAgent.
type LoginRequest struct {
	Email      string
	Password   string
	RememberMe bool
	IP         string
	UserAgent  string
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
}

// RateRequest describes one inbound request for admission.
type RateRequest struct {
	IP    string
	Route string
	// BearerToken is the raw access token, if any. Only a token that
	// verifies selects an authenticated tier.
	BearerToken string
}

// RateDecision is the admission outcome. Limit, Remaining and Reset
// describe the binding window and feed the X-RateLimit-* headers.
type RateDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Window     string
	Reset      time.Time
	RetryAfter time.Duration
	// Degraded is set when the counter store was unreachable and the
	// request was admitted unchecked.
	Degraded bool
}

// Err returns a *RateLimitError for rejected decisions and nil otherwise.
func (d RateDecision) Err() error {
	if d.Allowed {
		return nil
	}
	return &RateLimitError{
		Limit:      d.Limit,
		Window:     d.Window,
		Reset:      d.Reset,
		RetryAfter: d.RetryAfter,
	}
}
