package capability

import (
	"testing"
)

func TestCatalogLookup(t *testing.T) {
	c := NewCatalog()

	scope, ok := c.Lookup("chat:write")
	if !ok {
		t.Fatal("chat:write should be a known scope")
	}
	if scope.Category != "messaging" {
		t.Errorf("category = %q", scope.Category)
	}

	if _, ok := c.Lookup("made:up"); ok {
		t.Error("unknown scope should miss")
	}
}

func TestCatalogValidate(t *testing.T) {
	c := NewCatalog()

	if err := c.Validate([]string{"chat:write", "users:read"}); err != nil {
		t.Errorf("known scopes rejected: %v", err)
	}
	if err := c.Validate([]string{"chat:write", "bogus:scope"}); err == nil {
		t.Error("unknown scope should be rejected")
	}
	if err := c.Validate(nil); err != nil {
		t.Errorf("empty list rejected: %v", err)
	}
}

func TestCatalogAllSorted(t *testing.T) {
	c := NewCatalog()
	all := c.All()
	if len(all) == 0 {
		t.Fatal("catalog should not be empty")
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Fatalf("catalog not sorted at %d: %s >= %s", i, all[i-1].Name, all[i].Name)
		}
	}
}

func TestScopesForFeature(t *testing.T) {
	c := NewCatalog()
	scopes := c.ScopesForFeature("archive_channels")
	if len(scopes) == 0 {
		t.Error("archive_channels feature should require scopes")
	}
	if len(c.ScopesForFeature("no-such-feature")) != 0 {
		t.Error("unknown feature should map to no scopes")
	}
}
