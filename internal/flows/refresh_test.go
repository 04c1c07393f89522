package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/labcore/authcore/identity"
	"github.com/labcore/authcore/refresh"
	"github.com/labcore/authcore/session"
	"github.com/labcore/authcore/token"
)

var refreshNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type refreshFixture struct {
	claims     *token.Claims
	verifyErr  error
	recordErr  error
	markErr    error
	record     refresh.Record
	sessionErr error
	ident      identity.Identity
	reissueErr error
	rotated    bool
	reissued   int
	marked     int
}

func newRefreshFixture() *refreshFixture {
	c := &token.Claims{Type: token.TypeRefresh, SessionID: "s1"}
	c.Subject = "u1"
	c.ID = "r1"
	return &refreshFixture{
		claims: c,
		record: refresh.Record{ID: "r1", IdentityID: "u1", SessionID: "s1", ExpiresAt: refreshNow.Add(time.Hour)},
		ident:  identity.Identity{ID: "u1", Active: true, Roles: []string{"viewer"}},
	}
}

func (f *refreshFixture) deps(rotate bool) RefreshDeps {
	return RefreshDeps{
		Common: Common{Now: func() time.Time { return refreshNow }},
		Rotate: rotate,
		VerifyRefresh: func(string) (*token.Claims, error) {
			if f.verifyErr != nil {
				return nil, f.verifyErr
			}
			return f.claims, nil
		},
		LoadRecord: func(context.Context, string) (refresh.Record, error) {
			return f.record, f.recordErr
		},
		MarkUsed: func(context.Context, string) (refresh.Record, error) {
			f.marked++
			return f.record, f.markErr
		},
		LookupSession: func(context.Context, string) (session.Session, error) {
			if f.sessionErr != nil {
				return session.Session{}, f.sessionErr
			}
			return session.Session{ID: "s1", IdentityID: "u1", Active: true}, nil
		},
		LookupIdentity: func(context.Context, string) (identity.Identity, error) {
			return f.ident, nil
		},
		Reissue: func(_ context.Context, _ identity.Identity, sess session.Session, presentedID, presented string, rotate bool) (TokenPair, error) {
			f.reissued++
			if f.reissueErr != nil {
				return TokenPair{}, f.reissueErr
			}
			if presentedID != "r1" {
				return TokenPair{}, errors.New("wrong record")
			}
			f.rotated = rotate
			rt := presented
			if rotate {
				rt = "new-refresh"
			}
			return TokenPair{AccessToken: "new-access", RefreshToken: rt, SessionID: sess.ID}, nil
		},
	}
}

func TestRefreshRotates(t *testing.T) {
	f := newRefreshFixture()
	res := RunRefresh(context.Background(), "old-refresh", f.deps(true))
	if res.Failure != RefreshFailureNone {
		t.Fatalf("unexpected failure %v (%v)", res.Failure, res.Err)
	}
	if res.Tokens.RefreshToken != "new-refresh" || f.reissued != 1 || f.marked != 0 || !f.rotated {
		t.Fatalf("expected rotation, got %+v reissued=%d marked=%d", res.Tokens, f.reissued, f.marked)
	}
}

func TestRefreshWithoutRotationKeepsToken(t *testing.T) {
	f := newRefreshFixture()
	res := RunRefresh(context.Background(), "old-refresh", f.deps(false))
	if res.Failure != RefreshFailureNone || res.Tokens.RefreshToken != "old-refresh" || f.marked != 1 {
		t.Fatalf("unexpected result %+v marked=%d", res, f.marked)
	}
}

func TestRefreshFailureMapping(t *testing.T) {
	revokedAs := func(reason refresh.RevokeReason) func(*refreshFixture) {
		return func(f *refreshFixture) {
			f.record.Revoked = true
			f.record.RevokeReason = reason
		}
	}

	tests := []struct {
		name   string
		rotate bool
		setup  func(*refreshFixture)
		want   RefreshFailureKind
	}{
		{"bad signature", true, func(f *refreshFixture) { f.verifyErr = token.ErrInvalid }, RefreshFailureInvalid},
		{"logged out", true, revokedAs(refresh.ReasonLogout), RefreshFailureRevoked},
		{"revoked by administrator", true, revokedAs(refresh.ReasonRevokeAll), RefreshFailureRevoked},
		{"revoked after reuse", true, revokedAs(refresh.ReasonReuse), RefreshFailureRevoked},
		{"logged out without rotation", false, revokedAs(refresh.ReasonLogout), RefreshFailureRevoked},
		{"rotated record presented again", true, revokedAs(refresh.ReasonRotated), RefreshFailureReuse},
		{"expired record", true, func(f *refreshFixture) { f.record.ExpiresAt = refreshNow }, RefreshFailureExpired},
		{"missing record", true, func(f *refreshFixture) { f.recordErr = refresh.ErrNotFound }, RefreshFailureRevoked},
		{"record store down", true, func(f *refreshFixture) { f.recordErr = refresh.ErrUnavailable }, RefreshFailureRevocationCheck},
		{"record for other subject", true, func(f *refreshFixture) { f.record.IdentityID = "u2" }, RefreshFailureInvalid},
		{"session terminated", true, func(f *refreshFixture) { f.sessionErr = session.ErrInactive }, RefreshFailureSessionEnded},
		{"session store down", true, func(f *refreshFixture) { f.sessionErr = session.ErrUnavailable }, RefreshFailureRevocationCheck},
		{"identity disabled", true, func(f *refreshFixture) { f.ident.Active = false }, RefreshFailureIdentity},
		{"lost rotation race", true, func(f *refreshFixture) { f.reissueErr = refresh.ErrReused }, RefreshFailureReuse},
		{"revoked while marking", false, func(f *refreshFixture) { f.markErr = refresh.ErrRevoked }, RefreshFailureRevoked},
		{"successor insert failed", true, func(f *refreshFixture) { f.reissueErr = refresh.ErrUnavailable }, RefreshFailureIssue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRefreshFixture()
			tt.setup(f)
			res := RunRefresh(context.Background(), "tok", f.deps(tt.rotate))
			if res.Failure != tt.want {
				t.Fatalf("expected %v, got %v (%v)", tt.want, res.Failure, res.Err)
			}
			if res.Tokens.AccessToken != "" {
				t.Fatal("failed refresh must not return tokens")
			}
		})
	}
}

func TestRefreshChecksRunBeforeRotation(t *testing.T) {
	for name, setup := range map[string]func(*refreshFixture){
		"session ended":      func(f *refreshFixture) { f.sessionErr = session.ErrInactive },
		"session store down": func(f *refreshFixture) { f.sessionErr = session.ErrUnavailable },
		"identity disabled":  func(f *refreshFixture) { f.ident.Active = false },
	} {
		t.Run(name, func(t *testing.T) {
			f := newRefreshFixture()
			setup(f)
			RunRefresh(context.Background(), "tok", f.deps(true))
			if f.reissued != 0 {
				t.Fatalf("record retired before checks completed")
			}
		})
	}
}

func TestRefreshFailureKindString(t *testing.T) {
	if RefreshFailureReuse.String() != "reuse" || RefreshFailureKind(99).String() != "unknown" {
		t.Fatal("unexpected String output")
	}
}
