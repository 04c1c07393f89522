package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("identity not found")
	// ErrUnavailable wraps every storage failure, including timeouts.
	ErrUnavailable = errors.New("identity store unavailable")
)

// Identity is an account that can authenticate. Identities are soft-deleted
// only; DeletedAt is zero for live accounts.
type Identity struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Active       bool
	Verified     bool
	Superuser    bool
	Roles        []string
	DeletedAt    time.Time

	LockState
}

// CanAuthenticate reports whether the account is eligible to log in,
// independent of lockout.
func (i Identity) CanAuthenticate() bool {
	return i.Active && i.DeletedAt.IsZero()
}

// LockState is the brute-force lockout portion of an identity.
type LockState struct {
	FailedAttempts int
	LockedUntil    time.Time
}

// Locked reports whether the lock is in force at now.
func (s LockState) Locked(now time.Time) bool {
	return !s.LockedUntil.IsZero() && now.Before(s.LockedUntil)
}

// LockPolicy is applied by RecordFailure.
type LockPolicy struct {
	Threshold int
	Duration  time.Duration
}

// Store reads identities. Lookups by email are case-insensitive.
type Store interface {
	ByEmail(ctx context.Context, email string) (Identity, error)
	ByID(ctx context.Context, id string) (Identity, error)
}
