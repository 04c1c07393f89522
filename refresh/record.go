package refresh

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for an identifier.
	ErrNotFound = errors.New("refresh record not found")
	// ErrRevoked is returned when the record exists but has been revoked.
	ErrRevoked = errors.New("refresh record revoked")
	// ErrReused is returned when the record was already rotated. Presenting
	// it again means two parties hold the same refresh token.
	ErrReused = errors.New("refresh record already rotated")
	// ErrExpired is returned when the record exists but is past its expiry.
	ErrExpired = errors.New("refresh record expired")
	// ErrUnavailable wraps every storage failure, including timeouts.
	ErrUnavailable = errors.New("refresh store unavailable")
)

// RevokeReason records why a record stopped being usable.
type RevokeReason string

const (
	// ReasonRotated marks a record exchanged for its successor.
	ReasonRotated RevokeReason = "rotated"
	// ReasonLogout marks records of a session ended by its owner.
	ReasonLogout RevokeReason = "logout"
	// ReasonRevokeAll marks records revoked by a forced de-authorization.
	ReasonRevokeAll RevokeReason = "revoke_all"
	// ReasonReuse marks records revoked because a rotated sibling was
	// presented again.
	ReasonReuse RevokeReason = "reuse"
)

// Record is the persisted state of one issued refresh token. ID is the
// token identifier, not the signed token itself.
type Record struct {
	ID           string
	IdentityID   string
	SessionID    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    time.Time
	RevokeReason RevokeReason
	// ReplacedBy is the successor's id once the record has been rotated.
	ReplacedBy string
	LastUsedAt time.Time
}

// Check reports why the record may not mint tokens at now: ErrReused for
// a rotated record, ErrRevoked for any other revocation, ErrExpired past
// expiry, nil otherwise.
func (r Record) Check(now time.Time) error {
	switch {
	case r.Revoked && r.RevokeReason == ReasonRotated:
		return ErrReused
	case r.Revoked:
		return ErrRevoked
	case !now.Before(r.ExpiresAt):
		return ErrExpired
	}
	return nil
}

// Store persists refresh records. Rotate and MarkUsed are conditional
// updates so concurrent refreshes of one token cannot both succeed.
type Store interface {
	Insert(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	// Rotate revokes the active record id as rotated and inserts next in
	// one transaction. On any error neither change is applied.
	Rotate(ctx context.Context, id string, next Record, now time.Time) (Record, error)
	MarkUsed(ctx context.Context, id string, now time.Time) (Record, error)
	RevokeAllForIdentity(ctx context.Context, identityID string, reason RevokeReason, now time.Time) (int64, error)
	RevokeForSession(ctx context.Context, sessionID string, reason RevokeReason, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
