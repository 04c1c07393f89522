package refresh

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const recordColumns = "id, identity_id, session_id, issued_at, expires_at, revoked, revoked_at, revoke_reason, replaced_by, last_used_at"

const insertRecord = `
	insert into refresh_tokens (id, identity_id, session_id, issued_at, expires_at, revoked)
	values ($1, $2, $3, $4, $5, false)
`

// PGStore keeps refresh records in the refresh_tokens table.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open database handle (pgx stdlib driver).
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, r Record) error {
	if err := validateNew(r); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, insertRecord, r.ID, r.IdentityID, r.SessionID, r.IssuedAt.UTC(), r.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `select `+recordColumns+` from refresh_tokens where id = $1`, id)
	return scanRecord(row)
}

// Rotate revokes the active record id as rotated, links it to next and
// inserts next, all in one transaction. A record that is no longer active
// is reported through Record.Check and nothing is written.
func (s *PGStore) Rotate(ctx context.Context, id string, next Record, now time.Time) (Record, error) {
	if err := validateNew(next); err != nil {
		return Record{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	row := tx.QueryRowContext(ctx, `
		update refresh_tokens
		set revoked = true, revoked_at = $2, last_used_at = $2, revoke_reason = $3, replaced_by = $4
		where id = $1 and revoked = false and expires_at > $2
		returning `+recordColumns, id, now.UTC(), string(ReasonRotated), next.ID)
	rec, err := scanRecord(row)
	if err != nil {
		_ = tx.Rollback()
		if errors.Is(err, ErrNotFound) {
			return s.explain(ctx, id, now)
		}
		return Record{}, err
	}

	if _, err := tx.ExecContext(ctx, insertRecord, next.ID, next.IdentityID, next.SessionID, next.IssuedAt.UTC(), next.ExpiresAt.UTC()); err != nil {
		_ = tx.Rollback()
		return Record{}, fmt.Errorf("%w: insert successor: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return rec, nil
}

// MarkUsed stamps last use on an active record without revoking it.
func (s *PGStore) MarkUsed(ctx context.Context, id string, now time.Time) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		update refresh_tokens
		set last_used_at = $2
		where id = $1 and revoked = false and expires_at > $2
		returning `+recordColumns, id, now.UTC())
	rec, err := scanRecord(row)
	if errors.Is(err, ErrNotFound) {
		return s.explain(ctx, id, now)
	}
	return rec, err
}

func (s *PGStore) RevokeAllForIdentity(ctx context.Context, identityID string, reason RevokeReason, now time.Time) (int64, error) {
	return s.execCount(ctx, "revoke all", `
		update refresh_tokens set revoked = true, revoked_at = $2, revoke_reason = $3
		where identity_id = $1 and revoked = false
	`, identityID, now.UTC(), string(reason))
}

func (s *PGStore) RevokeForSession(ctx context.Context, sessionID string, reason RevokeReason, now time.Time) (int64, error) {
	return s.execCount(ctx, "revoke session", `
		update refresh_tokens set revoked = true, revoked_at = $2, revoke_reason = $3
		where session_id = $1 and revoked = false
	`, sessionID, now.UTC(), string(reason))
}

// DeleteExpired removes records that expired before the cutoff.
func (s *PGStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	return s.execCount(ctx, "delete expired", `delete from refresh_tokens where expires_at < $1`, before.UTC())
}

// explain reloads a record whose conditional update matched nothing.
func (s *PGStore) explain(ctx context.Context, id string, now time.Time) (Record, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if reason := current.Check(now); reason != nil {
		return current, reason
	}
	// Lost a race with a concurrent writer that has since committed.
	return current, ErrRevoked
}

func (s *PGStore) execCount(ctx context.Context, op, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
	}
	return n, nil
}

func validateNew(r Record) error {
	if r.ID == "" || r.IdentityID == "" {
		return errors.New("refresh record requires id and identity")
	}
	if r.ExpiresAt.Before(r.IssuedAt) {
		return errors.New("refresh record expires before issue time")
	}
	return nil
}

func scanRecord(row *sql.Row) (Record, error) {
	var (
		rec                 Record
		revokedAt, lastUsed sql.NullTime
		reason, replacedBy  sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.IdentityID, &rec.SessionID, &rec.IssuedAt, &rec.ExpiresAt,
		&rec.Revoked, &revokedAt, &reason, &replacedBy, &lastUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if revokedAt.Valid {
		rec.RevokedAt = revokedAt.Time
	}
	if lastUsed.Valid {
		rec.LastUsedAt = lastUsed.Time
	}
	rec.RevokeReason = RevokeReason(reason.String)
	rec.ReplacedBy = replacedBy.String
	return rec, nil
}
