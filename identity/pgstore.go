package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const identityColumns = "id, tenant_id, email, password_hash, is_active, is_verified, is_superuser, failed_attempts, locked_until, deleted_at"

// PGStore reads identities from the identities and identity_roles tables
// and keeps their lockout columns. It satisfies both Store and the login
// guard's lockout backend.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) ByEmail(ctx context.Context, email string) (Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Identity{}, ErrNotFound
	}
	return s.load(ctx, `select `+identityColumns+` from identities where lower(email) = $1`, email)
}

func (s *PGStore) ByID(ctx context.Context, id string) (Identity, error) {
	return s.load(ctx, `select `+identityColumns+` from identities where id = $1`, id)
}

// LockState returns the current counter and lock expiry.
func (s *PGStore) LockState(ctx context.Context, id string) (LockState, error) {
	var (
		st          LockState
		lockedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `select failed_attempts, locked_until from identities where id = $1`, id).
		Scan(&st.FailedAttempts, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return LockState{}, ErrNotFound
	}
	if err != nil {
		return LockState{}, fmt.Errorf("%w: lock state: %v", ErrUnavailable, err)
	}
	if lockedUntil.Valid {
		st.LockedUntil = lockedUntil.Time
	}
	return st, nil
}

// RecordFailure increments the counter and sets the lock when the
// threshold is reached, in one statement. A lock that has already lapsed
// restarts the count at one; a lock still in force is never extended.
func (s *PGStore) RecordFailure(ctx context.Context, id string, policy LockPolicy, now time.Time) (LockState, error) {
	var (
		st          LockState
		lockedUntil sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		update identities set
			failed_attempts = case
				when locked_until is not null and locked_until <= $2 then 1
				else failed_attempts + 1 end,
			locked_until = case
				when locked_until is not null and locked_until > $2 then locked_until
				when (case when locked_until is not null and locked_until <= $2 then 1
				           else failed_attempts + 1 end) >= $3 then $4::timestamptz
				when locked_until is not null and locked_until <= $2 then null
				else locked_until end
		where id = $1
		returning failed_attempts, locked_until
	`, id, now.UTC(), policy.Threshold, now.Add(policy.Duration).UTC()).Scan(&st.FailedAttempts, &lockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return LockState{}, ErrNotFound
	}
	if err != nil {
		return LockState{}, fmt.Errorf("%w: record failure: %v", ErrUnavailable, err)
	}
	if lockedUntil.Valid {
		st.LockedUntil = lockedUntil.Time
	}
	return st, nil
}

// ResetFailures zeroes the counter and clears the lock in one statement.
func (s *PGStore) ResetFailures(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `update identities set failed_attempts = 0, locked_until = null where id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: reset failures: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PGStore) load(ctx context.Context, query string, arg string) (Identity, error) {
	var (
		ident                  Identity
		lockedUntil, deletedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&ident.ID, &ident.TenantID, &ident.Email, &ident.PasswordHash,
		&ident.Active, &ident.Verified, &ident.Superuser,
		&ident.FailedAttempts, &lockedUntil, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: load: %v", ErrUnavailable, err)
	}
	if lockedUntil.Valid {
		ident.LockedUntil = lockedUntil.Time
	}
	if deletedAt.Valid {
		ident.DeletedAt = deletedAt.Time
	}

	roles, err := s.roles(ctx, ident.ID)
	if err != nil {
		return Identity{}, err
	}
	ident.Roles = roles
	return ident, nil
}

func (s *PGStore) roles(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `select role_name from identity_roles where identity_id = $1 order by role_name`, id)
	if err != nil {
		return nil, fmt.Errorf("%w: roles: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("%w: roles: %v", ErrUnavailable, err)
		}
		roles = append(roles, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: roles: %v", ErrUnavailable, err)
	}
	return roles, nil
}
