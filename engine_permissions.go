package authcore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/labcore/authcore/identity"
	"github.com/labcore/authcore/permission"
)

func (e *Engine) effectivePermissions(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()
	set, err := e.resolver.EffectivePermissions(ctx, roles)
	if err != nil {
		return nil, err
	}
	return set.Names(), nil
}

// HasPermission resolves identityID's permissions from current role state
// and tests name. Unknown or disabled identities hold nothing.
func (e *Engine) HasPermission(ctx context.Context, identityID, name string) (bool, error) {
	if !e.ready() {
		return false, ErrEngineNotReady
	}
	bctx, cancel := e.bound(ctx)
	ident, err := e.identities.ByID(bctx, identityID)
	cancel()
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return false, nil
		}
		return false, e.storeFailure("has permission", err)
	}
	if !ident.CanAuthenticate() {
		return false, nil
	}
	if ident.Superuser {
		return true, nil
	}

	bctx, cancel = e.bound(ctx)
	defer cancel()
	ok, err := e.resolver.HasPermission(bctx, ident.Roles, name)
	if err != nil {
		return false, e.storeFailure("has permission", err)
	}
	return ok, nil
}

// RequirePermission authorizes p for name. It returns ErrPermissionDenied,
// never an authentication error, for an authenticated principal that
// lacks the permission.
func (e *Engine) RequirePermission(ctx context.Context, p *Principal, name string) error {
	if p == nil {
		return ErrInvalidToken
	}
	if p.Has(name) {
		return nil
	}
	e.metrics.Inc(MetricPermissionDenied)
	e.auditFailure(ctx, AuditPermissionDenied, p.IdentityID, p.SessionID, "missing_permission",
		map[string]string{"permission": name})
	return ErrPermissionDenied
}

// SaveRole creates or replaces a role. Permission names must be in the
// catalog. A role that would create a parent cycle, reference a missing
// parent or exceed the configured depth is rejected with ErrRoleRejected.
func (e *Engine) SaveRole(ctx context.Context, role permission.Role) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()

	if err := e.resolver.SaveRole(ctx, role); err != nil {
		if errors.Is(err, permission.ErrUnavailable) {
			return e.storeFailure("save role", err)
		}
		e.metrics.Inc(MetricRoleRejected)
		e.logger.Info("role rejected", zap.String("role", role.Name), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrRoleRejected, err)
	}
	e.metrics.Inc(MetricRoleSaved)
	e.emitAudit(ctx, AuditEvent{
		Type:     AuditRoleSaved,
		Success:  true,
		Metadata: map[string]string{"role": role.Name, "parent": role.Parent},
	})
	return nil
}

// DeleteRole removes a role that is not the parent of another role.
func (e *Engine) DeleteRole(ctx context.Context, name string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	ctx, cancel := e.bound(ctx)
	defer cancel()

	if err := e.resolver.DeleteRole(ctx, name); err != nil {
		if errors.Is(err, permission.ErrUnavailable) {
			return e.storeFailure("delete role", err)
		}
		e.metrics.Inc(MetricRoleRejected)
		return fmt.Errorf("%w: %w", ErrRoleRejected, err)
	}
	e.metrics.Inc(MetricRoleDeleted)
	e.emitAudit(ctx, AuditEvent{
		Type:     AuditRoleDeleted,
		Success:  true,
		Metadata: map[string]string{"role": name},
	})
	return nil
}
