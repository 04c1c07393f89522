package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labcore/authcore/identity"
)

var (
	// ErrLocked is returned by CheckAllowed while a lock is in force.
	ErrLocked = errors.New("account locked")
	// ErrLockoutUnavailable indicates the lockout backend is unreachable.
	ErrLockoutUnavailable = errors.New("lockout backend unavailable")
)

// LockoutStore persists the failed-attempt counter and lock expiry.
// RecordFailure must apply the increment and the lock decision in one
// atomic step so concurrent failures for the same identity cannot both
// observe the pre-threshold count.
type LockoutStore interface {
	LockState(ctx context.Context, identityID string) (identity.LockState, error)
	RecordFailure(ctx context.Context, identityID string, policy identity.LockPolicy, now time.Time) (identity.LockState, error)
	ResetFailures(ctx context.Context, identityID string) error
}

// LoginGuard is the per-identity lockout state machine:
//
//	UNLOCKED(n) --failure--> UNLOCKED(n+1) ... --n+1 >= threshold--> LOCKED(until)
//	LOCKED --expiry | success | manual unlock--> UNLOCKED(0)
type LoginGuard struct {
	store  LockoutStore
	policy identity.LockPolicy
	now    func() time.Time
}

// NewLoginGuard returns a guard. A nil clock uses time.Now.
func NewLoginGuard(store LockoutStore, policy identity.LockPolicy, now func() time.Time) *LoginGuard {
	if now == nil {
		now = time.Now
	}
	return &LoginGuard{store: store, policy: policy, now: now}
}

// LockedError carries the lock expiry. It matches ErrLocked.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// CheckAllowed fails with ErrLocked while the identity is locked.
func (g *LoginGuard) CheckAllowed(ctx context.Context, identityID string) error {
	state, err := g.store.LockState(ctx, identityID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return g.check(state)
}

// CheckState is CheckAllowed for a state the caller already loaded, such
// as the lock columns read together with the identity row.
func (g *LoginGuard) CheckState(state identity.LockState) error {
	return g.check(state)
}

func (g *LoginGuard) check(state identity.LockState) error {
	if state.Locked(g.now()) {
		return &LockedError{Until: state.LockedUntil}
	}
	return nil
}

// RecordFailure counts a failed attempt and reports the new state. The
// returned state is Locked when this failure reached the threshold.
func (g *LoginGuard) RecordFailure(ctx context.Context, identityID string) (identity.LockState, error) {
	state, err := g.store.RecordFailure(ctx, identityID, g.policy, g.now())
	if err != nil {
		return identity.LockState{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return state, nil
}

// RecordSuccess zeroes the counter and clears the lock in one write.
func (g *LoginGuard) RecordSuccess(ctx context.Context, identityID string) error {
	if err := g.store.ResetFailures(ctx, identityID); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// Unlock is a manual unlock. It has the same effect as RecordSuccess.
func (g *LoginGuard) Unlock(ctx context.Context, identityID string) error {
	return g.RecordSuccess(ctx, identityID)
}
