package authcore

import (
	"context"
	"crypto/sha256"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/labcore/authcore/identity"
	"github.com/labcore/authcore/password"
	"github.com/labcore/authcore/permission"
	"github.com/labcore/authcore/refresh"
	"github.com/labcore/authcore/session"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// plainVerifier stores hashes as "plain:<password>" and counts every
// derivation so tests can assert that each rejection pays the same cost.
type plainVerifier struct {
	mu      sync.Mutex
	real    int
	dummies int
}

func (v *plainVerifier) Verify(password, hash string) (bool, error) {
	v.mu.Lock()
	v.real++
	v.mu.Unlock()
	return hash == "plain:"+password, nil
}

func (v *plainVerifier) VerifyDummy(string) {
	v.mu.Lock()
	v.dummies++
	v.mu.Unlock()
}

func (v *plainVerifier) derivations() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.real + v.dummies
}

type memIdentities struct {
	mu        sync.Mutex
	byID      map[string]identity.Identity
	fail      error
	lockReads int
}

func newMemIdentities(idents ...identity.Identity) *memIdentities {
	m := &memIdentities{byID: make(map[string]identity.Identity)}
	for _, i := range idents {
		m.byID[i.ID] = i
	}
	return m
}

func (m *memIdentities) ByEmail(_ context.Context, email string) (identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return identity.Identity{}, m.fail
	}
	for _, i := range m.byID {
		if strings.EqualFold(i.Email, email) {
			return i, nil
		}
	}
	return identity.Identity{}, identity.ErrNotFound
}

func (m *memIdentities) ByID(_ context.Context, id string) (identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return identity.Identity{}, m.fail
	}
	i, ok := m.byID[id]
	if !ok {
		return identity.Identity{}, identity.ErrNotFound
	}
	return i, nil
}

func (m *memIdentities) LockState(_ context.Context, id string) (identity.LockState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockReads++
	return m.byID[id].LockState, nil
}

func (m *memIdentities) RecordFailure(_ context.Context, id string, policy identity.LockPolicy, now time.Time) (identity.LockState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.byID[id]
	if !i.LockedUntil.IsZero() && !now.Before(i.LockedUntil) {
		i.LockState = identity.LockState{}
	}
	i.FailedAttempts++
	if i.FailedAttempts >= policy.Threshold && !i.LockState.Locked(now) {
		i.LockedUntil = now.Add(policy.Duration)
	}
	m.byID[id] = i
	return i.LockState, nil
}

func (m *memIdentities) ResetFailures(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.byID[id]
	i.LockState = identity.LockState{}
	m.byID[id] = i
	return nil
}

func (m *memIdentities) update(id string, fn func(*identity.Identity)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.byID[id]
	fn(&i)
	m.byID[id] = i
}

type memSessions struct {
	mu   sync.Mutex
	byID map[string]session.Session
}

func newMemSessions() *memSessions {
	return &memSessions{byID: make(map[string]session.Session)}
}

func (m *memSessions) Insert(_ context.Context, s session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[s.ID] = s
	return nil
}

func (m *memSessions) Get(_ context.Context, id string) (session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return session.Session{}, session.ErrNotFound
	}
	return s, nil
}

func (m *memSessions) Deactivate(_ context.Context, ids []string, _ time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if s, ok := m.byID[id]; ok && s.Active {
			s.Active = false
			m.byID[id] = s
			n++
		}
	}
	return n, nil
}

func (m *memSessions) DeactivateAllForIdentity(_ context.Context, identityID string, _ time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.byID {
		if s.IdentityID == identityID && s.Active {
			s.Active = false
			m.byID[id] = s
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *memSessions) Touch(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok {
		s.LastActivityAt = now
		m.byID[id] = s
	}
	return nil
}

func (m *memSessions) BindToken(_ context.Context, id string, tokenHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return session.ErrNotFound
	}
	s.TokenHash = tokenHash
	m.byID[id] = s
	return nil
}

func (m *memSessions) CountActive(_ context.Context, identityID string, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.byID {
		if s.IdentityID == identityID && s.Valid(now) {
			n++
		}
	}
	return n, nil
}

func (m *memSessions) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.byID {
		if s.Active && !now.Before(s.ExpiresAt) {
			s.Active = false
			m.byID[id] = s
			n++
		}
	}
	return n, nil
}

func (m *memSessions) boundTo(id, tok string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := sha256.Sum256([]byte(tok))
	return string(m.byID[id].TokenHash) == string(sum[:])
}

type memRefresh struct {
	mu         sync.Mutex
	byID       map[string]refresh.Record
	fail       error
	// insertFail fails only writes of new records.
	insertFail error
}

func newMemRefresh() *memRefresh {
	return &memRefresh{byID: make(map[string]refresh.Record)}
}

func (m *memRefresh) Insert(_ context.Context, r refresh.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertFail != nil {
		return m.insertFail
	}
	m.byID[r.ID] = r
	return nil
}

func (m *memRefresh) Get(_ context.Context, id string) (refresh.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return refresh.Record{}, m.fail
	}
	r, ok := m.byID[id]
	if !ok {
		return refresh.Record{}, refresh.ErrNotFound
	}
	return r, nil
}

func (m *memRefresh) Rotate(_ context.Context, id string, next refresh.Record, now time.Time) (refresh.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return refresh.Record{}, m.fail
	}
	r, ok := m.byID[id]
	if !ok {
		return refresh.Record{}, refresh.ErrNotFound
	}
	if err := r.Check(now); err != nil {
		return r, err
	}
	if m.insertFail != nil {
		return refresh.Record{}, m.insertFail
	}
	r.Revoked = true
	r.RevokedAt = now
	r.RevokeReason = refresh.ReasonRotated
	r.ReplacedBy = next.ID
	r.LastUsedAt = now
	m.byID[id] = r
	m.byID[next.ID] = next
	return r, nil
}

func (m *memRefresh) MarkUsed(_ context.Context, id string, now time.Time) (refresh.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return refresh.Record{}, m.fail
	}
	r, ok := m.byID[id]
	if !ok {
		return refresh.Record{}, refresh.ErrNotFound
	}
	if err := r.Check(now); err != nil {
		return r, err
	}
	r.LastUsedAt = now
	m.byID[id] = r
	return r, nil
}

func (m *memRefresh) setInsertFail(err error) {
	m.mu.Lock()
	m.insertFail = err
	m.mu.Unlock()
}

func (m *memRefresh) revokeWhere(match func(refresh.Record) bool, reason refresh.RevokeReason, now time.Time) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.byID {
		if !r.Revoked && match(r) {
			r.Revoked = true
			r.RevokedAt = now
			r.RevokeReason = reason
			m.byID[id] = r
			n++
		}
	}
	return n
}

func (m *memRefresh) RevokeAllForIdentity(_ context.Context, identityID string, reason refresh.RevokeReason, now time.Time) (int64, error) {
	return m.revokeWhere(func(r refresh.Record) bool { return r.IdentityID == identityID }, reason, now), nil
}

func (m *memRefresh) RevokeForSession(_ context.Context, sessionID string, reason refresh.RevokeReason, now time.Time) (int64, error) {
	return m.revokeWhere(func(r refresh.Record) bool { return r.SessionID == sessionID }, reason, now), nil
}

func (m *memRefresh) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.byID {
		if r.ExpiresAt.Before(before) {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

type memRoles struct {
	mu    sync.Mutex
	roles map[string]permission.Role
}

func newMemRoles(roles ...permission.Role) *memRoles {
	m := &memRoles{roles: make(map[string]permission.Role)}
	for _, r := range roles {
		m.roles[r.Name] = r
	}
	return m
}

func (m *memRoles) Roles(context.Context) (map[string]permission.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]permission.Role, len(m.roles))
	for k, v := range m.roles {
		out[k] = v
	}
	return out, nil
}

func (m *memRoles) SaveRole(_ context.Context, role permission.Role, check func(map[string]permission.Role) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := permission.WithRole(m.roles, role)
	if err := check(next); err != nil {
		return err
	}
	m.roles = next
	return nil
}

func (m *memRoles) DeleteRole(_ context.Context, name string, check func(map[string]permission.Role) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := check(m.roles); err != nil {
		return err
	}
	delete(m.roles, name)
	return nil
}

// harness is a fully wired Engine over in-memory stores and miniredis.
type harness struct {
	engine     *Engine
	clock      *testClock
	redis      *miniredis.Miniredis
	verifier   *plainVerifier
	identities *memIdentities
	sessions   *memSessions
	refreshes  *memRefresh
	roles      *memRoles
	audit      *ChannelSink
}

var testPermissions = []string{"docs:read", "docs:write", "users:manage"}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	return newHarnessWithVerifier(t, mutate, nil)
}

// newHarnessWithVerifier wires verifier in place of the counting
// plainVerifier when it is non-nil.
func newHarnessWithVerifier(t *testing.T, mutate func(*Config), verifier password.Verifier) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := DefaultConfig()
	cfg.Token.SigningKey = testSigningKey
	cfg.Audit.Enabled = true
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		clock:    &testClock{t: time.Now().UTC().Truncate(time.Second)},
		redis:    mr,
		verifier: &plainVerifier{},
		identities: newMemIdentities(
			identity.Identity{ID: "u-alice", TenantID: "t1", Email: "alice@example.com", PasswordHash: "plain:correct-horse", Active: true, Roles: []string{"editor"}},
			identity.Identity{ID: "u-root", TenantID: "t1", Email: "root@example.com", PasswordHash: "plain:root-password", Active: true, Superuser: true},
			identity.Identity{ID: "u-gone", TenantID: "t1", Email: "gone@example.com", PasswordHash: "plain:gone-password", Active: false},
		),
		sessions:  newMemSessions(),
		refreshes: newMemRefresh(),
		roles: newMemRoles(
			permission.Role{Name: "reader", Permissions: []string{"docs:read"}},
			permission.Role{Name: "editor", Parent: "reader", Permissions: []string{"docs:write"}},
		),
		audit: NewChannelSink(256),
	}

	var v password.Verifier = h.verifier
	if verifier != nil {
		v = verifier
	}

	e, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithIdentityStore(h.identities).
		WithSessionStore(h.sessions).
		WithRefreshStore(h.refreshes).
		WithRoleStore(h.roles).
		WithPermissions(testPermissions).
		WithPasswordVerifier(v).
		WithAuditSink(h.audit).
		WithClock(h.clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	h.engine = e
	return h
}

func (h *harness) login(t *testing.T, email, password string, rememberMe bool) *TokenPair {
	t.Helper()
	pair, err := h.engine.Login(context.Background(), LoginRequest{Email: email, Password: password, RememberMe: rememberMe})
	require.NoError(t, err)
	return pair
}
