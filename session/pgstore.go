package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const sessionColumns = "id, identity_id, tenant_id, token_hash, ip, user_agent, created_at, last_activity_at, expires_at, active"

// PGStore keeps sessions in the sessions table.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (`+sessionColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, true)
	`, sess.ID, sess.IdentityID, sess.TenantID, sess.TokenHash, sess.IP, sess.UserAgent,
		sess.CreatedAt.UTC(), sess.LastActivityAt.UTC(), sess.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where id = $1`, id).Scan(
		&sess.ID, &sess.IdentityID, &sess.TenantID, &sess.TokenHash, &sess.IP, &sess.UserAgent,
		&sess.CreatedAt, &sess.LastActivityAt, &sess.ExpiresAt, &sess.Active,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("%w: get: %v", ErrUnavailable, err)
	}
	return sess, nil
}

// Deactivate terminates the listed sessions. Already inactive ids are skipped.
func (s *PGStore) Deactivate(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, now.UTC())
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		placeholders[i] = "$" + strconv.Itoa(i+2)
	}

	res, err := s.db.ExecContext(ctx, `
		update sessions set active = false, terminated_at = $1
		where active = true and id in (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: deactivate: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: deactivate: %v", ErrUnavailable, err)
	}
	return n, nil
}

// DeactivateAllForIdentity terminates every active session of the identity
// and returns their ids.
func (s *PGStore) DeactivateAllForIdentity(ctx context.Context, identityID string, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		update sessions set active = false, terminated_at = $2
		where identity_id = $1 and active = true
		returning id
	`, identityID, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: deactivate all: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: deactivate all: %v", ErrUnavailable, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: deactivate all: %v", ErrUnavailable, err)
	}
	return ids, nil
}

func (s *PGStore) Touch(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update sessions set last_activity_at = $2
		where id = $1 and active = true
	`, id, now.UTC())
	if err != nil {
		return fmt.Errorf("%w: touch: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PGStore) BindToken(ctx context.Context, id string, tokenHash []byte) error {
	_, err := s.db.ExecContext(ctx, `update sessions set token_hash = $2 where id = $1`, id, tokenHash)
	if err != nil {
		return fmt.Errorf("%w: bind token: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PGStore) CountActive(ctx context.Context, identityID string, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from sessions
		where identity_id = $1 and active = true and expires_at > $2
	`, identityID, now.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	return n, nil
}

// DeactivateExpired flips the active flag on sessions past expiry.
func (s *PGStore) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		update sessions set active = false, terminated_at = $1
		where active = true and expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("%w: reap: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: reap: %v", ErrUnavailable, err)
	}
	return n, nil
}
