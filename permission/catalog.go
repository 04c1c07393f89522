package permission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrInvalidName   = errors.New("permission name must be resource:action")
	ErrUnknown       = errors.New("permission not registered")
	ErrAlreadyExists = errors.New("permission already registered")
	ErrCatalogFrozen = errors.New("permission catalog frozen")
)

// Permission is a (resource, action) pair named "resource:action".
type Permission struct {
	Name     string
	Resource string
	Action   string
}

// Parse splits a permission name into its parts. Both parts must be
// non-empty and the name must contain exactly one colon.
func Parse(name string) (Permission, error) {
	name = strings.TrimSpace(name)
	resource, action, ok := strings.Cut(name, ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return Permission{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return Permission{Name: name, Resource: resource, Action: action}, nil
}

// Catalog is the set of permissions roles may grant. Registration happens
// at startup; Freeze makes it read-only.
type Catalog struct {
	mu     sync.RWMutex
	perms  map[string]Permission
	frozen bool
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{perms: make(map[string]Permission)}
}

// Register adds a permission by name.
func (c *Catalog) Register(name string) (Permission, error) {
	p, err := Parse(name)
	if err != nil {
		return Permission{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return Permission{}, ErrCatalogFrozen
	}
	if _, exists := c.perms[p.Name]; exists {
		return Permission{}, fmt.Errorf("%w: %s", ErrAlreadyExists, p.Name)
	}
	c.perms[p.Name] = p
	return p, nil
}

// Lookup returns the registered permission.
func (c *Catalog) Lookup(name string) (Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.perms[name]
	return p, ok
}

// Validate reports the first name in names that is not registered.
func (c *Catalog) Validate(names []string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, n := range names {
		if _, ok := c.perms[n]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknown, n)
		}
	}
	return nil
}

// Freeze prevents further registrations.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Count returns the number of registered permissions.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.perms)
}

// Names returns registered permission names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.perms))
	for n := range c.perms {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
