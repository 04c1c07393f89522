package session

import (
	"context"
	"errors"
	"time"

	"github.com/labcore/authcore/internal"
)

// CreateParams describes a new session. TTL must be positive.
type CreateParams struct {
	IdentityID string
	TenantID   string
	IP         string
	UserAgent  string
	TTL        time.Duration
}

// Registry tracks the concurrently active sessions of every identity.
type Registry struct {
	store Store
	now   func() time.Time
}

// NewRegistry returns a registry over store. A nil clock means time.Now.
func NewRegistry(store Store, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, now: now}
}

// Create records a new active session. There is no cap on concurrent
// sessions; Count exposes the number for abuse monitoring.
func (r *Registry) Create(ctx context.Context, p CreateParams) (Session, error) {
	if p.IdentityID == "" {
		return Session{}, errors.New("session requires an identity")
	}
	if p.TTL <= 0 {
		return Session{}, errors.New("session TTL must be positive")
	}

	now := r.now()
	sess := Session{
		ID:             internal.NewSessionID(),
		IdentityID:     p.IdentityID,
		TenantID:       p.TenantID,
		IP:             p.IP,
		UserAgent:      p.UserAgent,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(p.TTL),
		Active:         true,
	}
	if err := r.store.Insert(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Lookup returns a session that is still usable. Terminated and expired
// sessions both yield ErrInactive.
func (r *Registry) Lookup(ctx context.Context, id string) (Session, error) {
	sess, err := r.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !sess.Valid(r.now()) {
		return sess, ErrInactive
	}
	return sess, nil
}

// Terminate deactivates the given sessions.
func (r *Registry) Terminate(ctx context.Context, ids ...string) (int64, error) {
	return r.store.Deactivate(ctx, ids, r.now())
}

// TerminateAll deactivates every active session of the identity and returns
// the terminated ids so callers can denylist them.
func (r *Registry) TerminateAll(ctx context.Context, identityID string) ([]string, error) {
	return r.store.DeactivateAllForIdentity(ctx, identityID, r.now())
}

// Touch stamps last activity.
func (r *Registry) Touch(ctx context.Context, id string) error {
	return r.store.Touch(ctx, id, r.now())
}

// BindToken records the digest of the refresh token currently issued to
// the session.
func (r *Registry) BindToken(ctx context.Context, id, refreshToken string) error {
	return r.store.BindToken(ctx, id, internal.HashToken(refreshToken))
}

// Count returns the number of usable sessions of the identity.
func (r *Registry) Count(ctx context.Context, identityID string) (int, error) {
	return r.store.CountActive(ctx, identityID, r.now())
}

// Reap deactivates expired sessions. Correctness never depends on it.
func (r *Registry) Reap(ctx context.Context) (int64, error) {
	return r.store.DeactivateExpired(ctx, r.now())
}
