package refresh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var columns = []string{"id", "identity_id", "session_id", "issued_at", "expires_at", "revoked", "revoked_at", "revoke_reason", "replaced_by", "last_used_at"}

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestInsert(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("r1", "u1", "s1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.Insert(context.Background(), Record{ID: "r1", IdentityID: "u1", SessionID: "s1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRejectsInvertedLifetime(t *testing.T) {
	store, _ := newMockStore(t)
	now := time.Now()
	err := store.Insert(context.Background(), Record{ID: "r1", IdentityID: "u1", IssuedAt: now, ExpiresAt: now.Add(-time.Second)})
	require.Error(t, err)
}

func successor(now time.Time) Record {
	return Record{ID: "r2", IdentityID: "u1", SessionID: "s1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
}

func TestRotateActiveRecord(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("update refresh_tokens\\s+set revoked = true").
		WithArgs("r1", sqlmock.AnyArg(), "rotated", "r2").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("r1", "u1", "s1", now.Add(-time.Hour), now.Add(time.Hour), true, now, "rotated", "r2", now))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs("r2", "u1", "s1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec, err := store.Rotate(context.Background(), "r1", successor(now), now)
	require.NoError(t, err)
	require.Equal(t, "u1", rec.IdentityID)
	require.True(t, rec.Revoked)
	require.Equal(t, ReasonRotated, rec.RevokeReason)
	require.Equal(t, "r2", rec.ReplacedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRollsBackWhenSuccessorInsertFails(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("update refresh_tokens").
		WithArgs("r1", sqlmock.AnyArg(), "rotated", "r2").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("r1", "u1", "s1", now.Add(-time.Hour), now.Add(time.Hour), true, now, "rotated", "r2", now))
	mock.ExpectExec("insert into refresh_tokens").
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := store.Rotate(context.Background(), "r1", successor(now), now)
	require.ErrorIs(t, err, ErrUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRotatedRecordReportsReuse(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("update refresh_tokens").
		WithArgs("r1", sqlmock.AnyArg(), "rotated", "r2").
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectRollback()
	mock.ExpectQuery("select .* from refresh_tokens where id = \\$1").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("r1", "u1", "s1", now.Add(-time.Hour), now.Add(time.Hour), true, now.Add(-time.Minute), "rotated", "r0", nil))

	_, err := store.Rotate(context.Background(), "r1", successor(now), now)
	require.ErrorIs(t, err, ErrReused)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateLoggedOutRecordReportsRevoked(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("update refresh_tokens").
		WithArgs("r1", sqlmock.AnyArg(), "rotated", "r2").
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectRollback()
	mock.ExpectQuery("select .* from refresh_tokens where id = \\$1").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("r1", "u1", "s1", now.Add(-time.Hour), now.Add(time.Hour), true, now.Add(-time.Minute), "logout", nil, nil))

	_, err := store.Rotate(context.Background(), "r1", successor(now), now)
	require.ErrorIs(t, err, ErrRevoked)
	require.NotErrorIs(t, err, ErrReused)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkUsedExpiredRecordReportsExpired(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("update refresh_tokens\\s+set last_used_at").
		WithArgs("r1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery("select .* from refresh_tokens").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("r1", "u1", "s1", now.Add(-8*24*time.Hour), now.Add(-time.Hour), false, nil, nil, nil, nil))

	_, err := store.MarkUsed(context.Background(), "r1", now)
	require.ErrorIs(t, err, ErrExpired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingRecord(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select .* from refresh_tokens").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRevokeAllForIdentity(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update refresh_tokens set revoked = true, revoked_at = \\$2, revoke_reason = \\$3\\s+where identity_id = \\$1").
		WithArgs("u1", sqlmock.AnyArg(), "revoke_all").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.RevokeAllForIdentity(context.Background(), "u1", ReasonRevokeAll, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreErrorsWrapUnavailable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from refresh_tokens").
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err := store.DeleteExpired(context.Background(), time.Now())
	require.ErrorIs(t, err, ErrUnavailable)

	mock.ExpectQuery("select .* from refresh_tokens").
		WithArgs("r1").
		WillReturnError(context.DeadlineExceeded)
	_, err = store.Get(context.Background(), "r1")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestRecordCheck(t *testing.T) {
	now := time.Now()
	live := now.Add(time.Minute)
	require.NoError(t, Record{ExpiresAt: live}.Check(now))
	require.ErrorIs(t, Record{ExpiresAt: now}.Check(now), ErrExpired)
	require.ErrorIs(t, Record{ExpiresAt: live, Revoked: true, RevokeReason: ReasonLogout}.Check(now), ErrRevoked)
	require.ErrorIs(t, Record{ExpiresAt: live, Revoked: true, RevokeReason: ReasonRotated}.Check(now), ErrReused)
	// A rotated record is reported as reused even once expired.
	require.ErrorIs(t, Record{ExpiresAt: now, Revoked: true, RevokeReason: ReasonRotated}.Check(now), ErrReused)
}
