package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrInactive covers sessions that were terminated or whose expiry passed.
	ErrInactive = errors.New("session inactive")
	// ErrUnavailable wraps every storage failure, including timeouts.
	ErrUnavailable = errors.New("session store unavailable")
)

// Session is one logical login (a device or browser) of an identity.
// TokenHash is the SHA-256 of the refresh token currently bound to it.
type Session struct {
	ID             string
	IdentityID     string
	TenantID       string
	TokenHash      []byte
	IP             string
	UserAgent      string
	CreatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	Active         bool
}

// Valid reports whether the session may be used at now. Expiry is applied
// lazily here rather than by a sweep.
func (s Session) Valid(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// Store persists sessions.
type Store interface {
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	Deactivate(ctx context.Context, ids []string, now time.Time) (int64, error)
	DeactivateAllForIdentity(ctx context.Context, identityID string, now time.Time) ([]string, error)
	Touch(ctx context.Context, id string, now time.Time) error
	BindToken(ctx context.Context, id string, tokenHash []byte) error
	CountActive(ctx context.Context, identityID string, now time.Time) (int, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}
