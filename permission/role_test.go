package permission

import (
	"errors"
	"reflect"
	"testing"
)

func TestResolveAggregatesParentPermissions(t *testing.T) {
	roles := map[string]Role{
		"R1": {Name: "R1", Permissions: []string{"docs:read"}},
		"R2": {Name: "R2", Parent: "R1", Permissions: []string{"docs:write"}},
	}

	set, err := Resolve([]string{"R2"}, roles, DefaultMaxDepth)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if got, want := set.Names(), []string{"docs:read", "docs:write"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}

	parentOnly, err := Resolve([]string{"R1"}, roles, DefaultMaxDepth)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if parentOnly.Has("docs:write") {
		t.Fatal("parent must not inherit from child")
	}
}

func TestResolveUnionOfSeveralRoles(t *testing.T) {
	roles := map[string]Role{
		"viewer":  {Name: "viewer", Permissions: []string{"docs:read"}},
		"billing": {Name: "billing", Permissions: []string{"invoices:read", "docs:read"}},
	}
	set, err := Resolve([]string{"viewer", "billing", "deleted-role"}, roles, DefaultMaxDepth)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	if len(set) != 2 || !set.Has("invoices:read") {
		t.Fatalf("unexpected set %v", set.Names())
	}
}

func TestResolveStopsAtDepthCap(t *testing.T) {
	roles := map[string]Role{
		"a": {Name: "a", Parent: "b"},
		"b": {Name: "b", Parent: "c"},
		"c": {Name: "c", Parent: "d"},
		"d": {Name: "d", Permissions: []string{"x:y"}},
	}
	if _, err := Resolve([]string{"a"}, roles, 2); !errors.Is(err, ErrHierarchyTooDeep) {
		t.Fatalf("expected ErrHierarchyTooDeep, got %v", err)
	}
	if _, err := Resolve([]string{"a"}, roles, 3); err != nil {
		t.Fatalf("expected depth 3 to resolve, got %v", err)
	}
}

func TestResolveTerminatesOnCorruptCycle(t *testing.T) {
	roles := map[string]Role{
		"a": {Name: "a", Parent: "b"},
		"b": {Name: "b", Parent: "a"},
	}
	if _, err := Resolve([]string{"a"}, roles, 4); !errors.Is(err, ErrHierarchyTooDeep) {
		t.Fatalf("expected walk to be capped, got %v", err)
	}
}

func TestValidateHierarchy(t *testing.T) {
	base := map[string]Role{
		"R1": {Name: "R1"},
		"R2": {Name: "R2", Parent: "R1"},
	}

	tests := []struct {
		name      string
		candidate Role
		maxDepth  int
		want      error
	}{
		{name: "new leaf", candidate: Role{Name: "R3", Parent: "R2"}, maxDepth: 8},
		{name: "cycle through child", candidate: Role{Name: "R1", Parent: "R2"}, maxDepth: 8, want: ErrRoleCycle},
		{name: "self parent", candidate: Role{Name: "R1", Parent: "R1"}, maxDepth: 8, want: ErrRoleCycle},
		{name: "unknown parent", candidate: Role{Name: "R3", Parent: "nope"}, maxDepth: 8, want: ErrUnknownParent},
		{name: "too deep", candidate: Role{Name: "R3", Parent: "R2"}, maxDepth: 1, want: ErrHierarchyTooDeep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateHierarchy(WithRole(base, tt.candidate), tt.maxDepth)
			if tt.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, ok := base["R3"]; ok {
		t.Fatal("WithRole must not mutate its input")
	}
}

func TestCheckDeletable(t *testing.T) {
	roles := map[string]Role{
		"R1": {Name: "R1"},
		"R2": {Name: "R2", Parent: "R1"},
	}
	if err := CheckDeletable(roles, "R1"); !errors.Is(err, ErrRoleInUse) {
		t.Fatalf("expected ErrRoleInUse, got %v", err)
	}
	if err := CheckDeletable(roles, "R2"); err != nil {
		t.Fatalf("leaf should be deletable: %v", err)
	}
}
