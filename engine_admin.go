package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/labcore/authcore/internal/limiters"
	"github.com/labcore/authcore/refresh"
)

// RevokeAll forcibly de-authorizes an identity: every refresh record is
// revoked, every session is ended and denylisted. It returns the number of
// sessions ended.
func (e *Engine) RevokeAll(ctx context.Context, identityID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.revokeAll(ctx, identityID, refresh.ReasonRevokeAll)
	if err != nil {
		return 0, e.storeFailure("revoke all", err)
	}
	e.metrics.Inc(MetricRevokeAll)
	e.emitAudit(ctx, AuditEvent{
		Type:       AuditRevokeAll,
		IdentityID: identityID,
		Success:    true,
		Metadata:   map[string]string{"sessions": itoa(n)},
	})
	return n, nil
}

func (e *Engine) revokeAll(ctx context.Context, identityID string, reason refresh.RevokeReason) (int, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()

	if _, err := e.refreshes.RevokeAllForIdentity(ctx, identityID, reason, e.now()); err != nil {
		return 0, err
	}
	ids, err := e.sessions.TerminateAll(ctx, identityID)
	if err != nil {
		return 0, err
	}
	if err := e.denylist.DenySessions(ctx, ids...); err != nil {
		return 0, err
	}
	e.metrics.Add(MetricSessionTerminated, uint64(len(ids)))
	return len(ids), nil
}

// Unlock clears the failed-attempt counter and any lock in one step.
func (e *Engine) Unlock(ctx context.Context, identityID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	bctx, cancel := e.bound(ctx)
	defer cancel()
	if err := e.guard.Unlock(bctx, identityID); err != nil {
		return e.storeFailure("unlock", err)
	}
	e.metrics.Inc(MetricAccountUnlocked)
	e.auditSuccess(ctx, AuditAccountUnlocked, identityID, "", "")
	e.logger.Info("account unlocked", zap.String("identity_id", identityID))
	return nil
}

// CheckLockout reports ErrAccountLocked while identityID is locked. It is
// meant for administrative tooling; Login never reveals lock state.
func (e *Engine) CheckLockout(ctx context.Context, identityID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()

	err := e.guard.CheckAllowed(ctx, identityID)
	if err == nil {
		return nil
	}
	var locked *limiters.LockedError
	if errors.As(err, &locked) {
		return fmt.Errorf("%w: until %s", ErrAccountLocked, locked.Until.UTC().Format(time.RFC3339))
	}
	return e.storeFailure("check lockout", err)
}

// ActiveSessionCount returns the number of usable sessions of identityID.
func (e *Engine) ActiveSessionCount(ctx context.Context, identityID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	n, err := e.sessions.Count(ctx, identityID)
	if err != nil {
		return 0, e.storeFailure("count sessions", err)
	}
	return n, nil
}

func itoa(n int) string { return strconv.Itoa(n) }
