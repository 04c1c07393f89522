package permission

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	for _, bad := range []string{"", "docs", ":read", "docs:", "a:b:c"} {
		if _, err := Parse(bad); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Parse(%q) expected ErrInvalidName, got %v", bad, err)
		}
	}
	p, err := Parse(" docs:read ")
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if p.Resource != "docs" || p.Action != "read" || p.Name != "docs:read" {
		t.Fatalf("unexpected permission %+v", p)
	}
}

func TestCatalogRegisterAndFreeze(t *testing.T) {
	c := NewCatalog()
	if _, err := c.Register("docs:read"); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, err := c.Register("docs:read"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := c.Validate([]string{"docs:read", "docs:write"}); !errors.Is(err, ErrUnknown) {
		t.Fatalf("expected ErrUnknown, got %v", err)
	}

	c.Freeze()
	if _, err := c.Register("docs:write"); !errors.Is(err, ErrCatalogFrozen) {
		t.Fatalf("expected ErrCatalogFrozen, got %v", err)
	}
	if c.Count() != 1 {
		t.Fatalf("expected 1 permission, got %d", c.Count())
	}
}
