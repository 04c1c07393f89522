package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	fail     error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]Session)}
}

func (m *memStore) Insert(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return Session{}, m.fail
	}
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *memStore) Deactivate(_ context.Context, ids []string, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if s, ok := m.sessions[id]; ok && s.Active {
			s.Active = false
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeactivateAllForIdentity(_ context.Context, identityID string, _ time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if s.IdentityID == identityID && s.Active {
			s.Active = false
			m.sessions[id] = s
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) Touch(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if s, ok := m.sessions[id]; ok && s.Active {
		s.LastActivityAt = now
		m.sessions[id] = s
	}
	return nil
}

func (m *memStore) BindToken(_ context.Context, id string, hash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.TokenHash = hash
		m.sessions[id] = s
	}
	return nil
}

func (m *memStore) CountActive(_ context.Context, identityID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.sessions {
		if s.IdentityID == identityID && s.Valid(now) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.Active && !now.Before(s.ExpiresAt) {
			s.Active = false
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestCreateAndLookup(t *testing.T) {
	c := &clock{now: time.Now()}
	reg := NewRegistry(newMemStore(), c.Now)

	sess, err := reg.Create(context.Background(), CreateParams{IdentityID: "u1", IP: "10.0.0.1", UserAgent: "curl/8.5.0", TTL: time.Hour})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.ExpiresAt.Before(sess.CreatedAt) {
		t.Fatalf("expiry before creation: %+v", sess)
	}

	got, err := reg.Lookup(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.IdentityID != "u1" || got.IP != "10.0.0.1" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestLookupTreatsExpiredSessionAsInactive(t *testing.T) {
	c := &clock{now: time.Now()}
	reg := NewRegistry(newMemStore(), c.Now)

	sess, err := reg.Create(context.Background(), CreateParams{IdentityID: "u1", TTL: time.Minute})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c.now = c.now.Add(2 * time.Minute)
	if _, err := reg.Lookup(context.Background(), sess.ID); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive after expiry, got %v", err)
	}

	n, err := reg.Reap(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one reaped session, got %d err=%v", n, err)
	}
}

func TestTerminateAndTerminateAll(t *testing.T) {
	reg := NewRegistry(newMemStore(), nil)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		sess, err := reg.Create(ctx, CreateParams{IdentityID: "u1", TTL: time.Hour})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, sess.ID)
	}
	other, _ := reg.Create(ctx, CreateParams{IdentityID: "u2", TTL: time.Hour})

	if n, _ := reg.Count(ctx, "u1"); n != 3 {
		t.Fatalf("expected 3 active sessions, got %d", n)
	}

	if n, err := reg.Terminate(ctx, ids[0]); err != nil || n != 1 {
		t.Fatalf("terminate: n=%d err=%v", n, err)
	}
	if _, err := reg.Lookup(ctx, ids[0]); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected terminated session to be inactive, got %v", err)
	}

	terminated, err := reg.TerminateAll(ctx, "u1")
	if err != nil {
		t.Fatalf("terminate all: %v", err)
	}
	if len(terminated) != 2 {
		t.Fatalf("expected 2 remaining sessions terminated, got %v", terminated)
	}
	if n, _ := reg.Count(ctx, "u1"); n != 0 {
		t.Fatalf("expected 0 active sessions, got %d", n)
	}
	if _, err := reg.Lookup(ctx, other.ID); err != nil {
		t.Fatalf("other identity's session must survive: %v", err)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	reg := NewRegistry(newMemStore(), nil)
	if _, err := reg.Create(context.Background(), CreateParams{TTL: time.Hour}); err == nil {
		t.Fatal("expected missing identity to fail")
	}
	if _, err := reg.Create(context.Background(), CreateParams{IdentityID: "u1"}); err == nil {
		t.Fatal("expected zero TTL to fail")
	}
}

func TestBindTokenStoresDigest(t *testing.T) {
	store := newMemStore()
	reg := NewRegistry(store, nil)
	sess, _ := reg.Create(context.Background(), CreateParams{IdentityID: "u1", TTL: time.Hour})

	if err := reg.BindToken(context.Background(), sess.ID, "refresh-token"); err != nil {
		t.Fatalf("bind: %v", err)
	}
	got, _ := store.Get(context.Background(), sess.ID)
	if len(got.TokenHash) != 32 {
		t.Fatalf("expected 32-byte digest, got %d bytes", len(got.TokenHash))
	}
}
