package permission

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultMaxDepth bounds how many parent links resolution will follow.
const DefaultMaxDepth = 16

var (
	ErrRoleCycle        = errors.New("role hierarchy cycle")
	ErrUnknownParent    = errors.New("role parent does not exist")
	ErrHierarchyTooDeep = errors.New("role hierarchy exceeds maximum depth")
	ErrRoleInUse        = errors.New("role is the parent of another role")
	ErrInvalidRole      = errors.New("invalid role")
)

// Role is a named bundle of permissions with at most one parent. A role
// grants its own permissions plus everything its ancestors grant.
type Role struct {
	Name        string
	Parent      string
	Permissions []string
}

// Set is a resolved permission set.
type Set map[string]struct{}

// Has reports membership.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members in sorted order.
func (s Set) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// NewSet builds a set from names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Resolve unions the permissions of every assigned role and its ancestors.
// It trusts that roles is acyclic (ValidateHierarchy runs on every write)
// and only bounds the walk at maxDepth links. Assigned roles that no
// longer exist grant nothing.
func Resolve(assigned []string, roles map[string]Role, maxDepth int) (Set, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	out := make(Set)
	for _, name := range assigned {
		current := name
		for depth := 0; current != ""; depth++ {
			if depth > maxDepth {
				return nil, fmt.Errorf("%w: from role %q", ErrHierarchyTooDeep, name)
			}
			role, ok := roles[current]
			if !ok {
				break
			}
			for _, p := range role.Permissions {
				out[p] = struct{}{}
			}
			current = role.Parent
		}
	}
	return out, nil
}

// ValidateHierarchy checks a complete role map: every parent exists, no
// chain loops, and no chain is longer than maxDepth links.
func ValidateHierarchy(roles map[string]Role, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	for name, role := range roles {
		if name == "" || role.Name != name {
			return fmt.Errorf("%w: name mismatch %q", ErrInvalidRole, name)
		}

		seen := map[string]struct{}{name: {}}
		current := role.Parent
		for depth := 1; current != ""; depth++ {
			if _, loop := seen[current]; loop {
				return fmt.Errorf("%w: %q reaches %q again", ErrRoleCycle, name, current)
			}
			if depth > maxDepth {
				return fmt.Errorf("%w: %q", ErrHierarchyTooDeep, name)
			}
			parent, ok := roles[current]
			if !ok {
				return fmt.Errorf("%w: %q", ErrUnknownParent, current)
			}
			seen[current] = struct{}{}
			current = parent.Parent
		}
	}
	return nil
}

// WithRole returns a copy of roles with candidate inserted or replaced.
func WithRole(roles map[string]Role, candidate Role) map[string]Role {
	out := make(map[string]Role, len(roles)+1)
	for k, v := range roles {
		out[k] = v
	}
	out[candidate.Name] = candidate
	return out
}

// CheckDeletable reports ErrRoleInUse if another role names name as parent.
func CheckDeletable(roles map[string]Role, name string) error {
	for _, r := range roles {
		if r.Parent == name {
			return fmt.Errorf("%w: %q is parent of %q", ErrRoleInUse, name, r.Name)
		}
	}
	return nil
}
