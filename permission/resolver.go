package permission

import (
	"context"
	"fmt"
	"strings"
)

// Store persists roles. SaveRole and DeleteRole run check against the full
// role map, with the change applied, inside the same transaction as the
// write.
type Store interface {
	Roles(ctx context.Context) (map[string]Role, error)
	SaveRole(ctx context.Context, role Role, check func(map[string]Role) error) error
	DeleteRole(ctx context.Context, name string, check func(map[string]Role) error) error
}

// Resolver computes effective permissions from the current role state on
// every call.
type Resolver struct {
	store    Store
	catalog  *Catalog
	maxDepth int
}

// NewResolver returns a resolver. A nil catalog skips permission-name
// validation on save.
func NewResolver(store Store, catalog *Catalog, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{store: store, catalog: catalog, maxDepth: maxDepth}
}

// EffectivePermissions resolves the assigned role names.
func (r *Resolver) EffectivePermissions(ctx context.Context, assigned []string) (Set, error) {
	if len(assigned) == 0 {
		return Set{}, nil
	}
	roles, err := r.store.Roles(ctx)
	if err != nil {
		return nil, err
	}
	return Resolve(assigned, roles, r.maxDepth)
}

// HasPermission resolves and tests membership.
func (r *Resolver) HasPermission(ctx context.Context, assigned []string, name string) (bool, error) {
	set, err := r.EffectivePermissions(ctx, assigned)
	if err != nil {
		return false, err
	}
	return set.Has(name), nil
}

// SaveRole validates and stores role. A save that would introduce a
// cycle, an unknown parent, an unregistered permission or an over-deep
// chain is rejected.
func (r *Resolver) SaveRole(ctx context.Context, role Role) error {
	role.Name = strings.TrimSpace(role.Name)
	role.Parent = strings.TrimSpace(role.Parent)
	if role.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidRole)
	}
	if role.Parent == role.Name {
		return fmt.Errorf("%w: %q is its own parent", ErrRoleCycle, role.Name)
	}
	for _, p := range role.Permissions {
		if _, err := Parse(p); err != nil {
			return err
		}
	}
	if r.catalog != nil {
		if err := r.catalog.Validate(role.Permissions); err != nil {
			return err
		}
	}

	return r.store.SaveRole(ctx, role, func(roles map[string]Role) error {
		return ValidateHierarchy(roles, r.maxDepth)
	})
}

// DeleteRole removes a role that is not a parent of any other role.
func (r *Resolver) DeleteRole(ctx context.Context, name string) error {
	return r.store.DeleteRole(ctx, name, func(roles map[string]Role) error {
		return CheckDeletable(roles, name)
	})
}
