package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var sessionCols = []string{"id", "identity_id", "tenant_id", "token_hash", "ip", "user_agent", "created_at", "last_activity_at", "expires_at", "active"}

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func TestPGGetScansRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("select .* from sessions where id = \\$1").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows(sessionCols).AddRow("s1", "u1", "lab", []byte{1, 2}, "10.0.0.1", "ua", now, now, now.Add(time.Hour), true))

	sess, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "u1", sess.IdentityID)
	require.True(t, sess.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPGGetMissing(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from sessions").WithArgs("nope").WillReturnRows(sqlmock.NewRows(sessionCols))

	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPGDeactivateBuildsPlaceholders(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update sessions set active = false, terminated_at = \\$1\\s+where active = true and id in \\(\\$2, \\$3\\)").
		WithArgs(sqlmock.AnyArg(), "s1", "s2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := store.Deactivate(context.Background(), []string{"s1", "s2"}, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())

	n, err = store.Deactivate(context.Background(), nil, time.Now())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestPGDeactivateAllReturnsIDs(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("update sessions set active = false.*returning id").
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1").AddRow("s2"))

	ids, err := store.DeactivateAllForIdentity(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{"s1", "s2"}, ids)
}

func TestPGCountActive(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select count\\(\\*\\) from sessions").
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := store.CountActive(context.Background(), "u1", time.Now())
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestPGTouchWrapsErrors(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update sessions set last_activity_at").
		WithArgs("s1", sqlmock.AnyArg()).
		WillReturnError(errors.New("conn closed"))

	err := store.Touch(context.Background(), "s1", time.Now())
	require.ErrorIs(t, err, ErrUnavailable)
}
