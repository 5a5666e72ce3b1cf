// Package capability holds the closed catalog of outbound API scopes and
// the engine that validates calls against granted scope sets.
package capability

import (
	"fmt"
	"sort"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// Catalog is the static registry of capability scopes. The set is closed:
// unknown names are rejected, never passed through.
type Catalog struct {
	scopes map[string]models.CapabilityScope
}

// builtinScopes is the full capability table, loaded at startup.
var builtinScopes = []models.CapabilityScope{
	{Name: "chat:write", Category: "messaging", Kind: models.KindBot,
		Description: "Send messages as the assistant", RequiredFor: []string{"briefing", "reminders"}},
	{Name: "channels:read", Category: "conversations", Kind: models.KindBot,
		Description: "List public channels", RequiredFor: []string{"archive_channels"}},
	{Name: "channels:history", Category: "conversations", Kind: models.KindBot,
		Description: "Read public channel history", RequiredFor: []string{"archive_channels"}},
	{Name: "groups:read", Category: "conversations", Kind: models.KindBot,
		Description: "List private channels the assistant is in", RequiredFor: []string{"archive_channels"}},
	{Name: "groups:history", Category: "conversations", Kind: models.KindBot,
		Description: "Read private channel history", RequiredFor: []string{"archive_channels"}},
	{Name: "im:history", Category: "conversations", Kind: models.KindBot,
		Description: "Read direct message history", RequiredFor: []string{"archive_dms"}},
	{Name: "users:read", Category: "directory", Kind: models.KindBot,
		Description: "Read the workspace roster", RequiredFor: []string{"roster", "archive_channels"}},
	{Name: "usergroups:read", Category: "directory", Kind: models.KindBot,
		Description: "Read user group membership", RequiredFor: []string{"roster"}},
	{Name: "files:read", Category: "files", Kind: models.KindUser,
		Description: "List and read shared files", RequiredFor: []string{"archive_files"}},
	{Name: "search:read", Category: "search", Kind: models.KindUser,
		Description: "Search messages on the user's behalf", RequiredFor: []string{"search"}},
	{Name: "calendar.events:read", Category: "calendar", Kind: models.KindUser,
		Description: "Read calendar events", RequiredFor: []string{"meetings", "briefing"}},
	{Name: "drive.files:read", Category: "files", Kind: models.KindUser,
		Description: "Read cloud drive file metadata", RequiredFor: []string{"archive_files"}},
}

// NewCatalog returns the built-in catalog.
func NewCatalog() *Catalog {
	c := &Catalog{scopes: make(map[string]models.CapabilityScope, len(builtinScopes))}
	for _, s := range builtinScopes {
		c.scopes[s.Name] = s
	}
	return c
}

// Lookup returns the scope entry for a name.
func (c *Catalog) Lookup(name string) (models.CapabilityScope, bool) {
	s, ok := c.scopes[name]
	return s, ok
}

// Validate rejects any name outside the catalog.
func (c *Catalog) Validate(names []string) error {
	for _, n := range names {
		if _, ok := c.scopes[n]; !ok {
			return fmt.Errorf("unknown capability %q", n)
		}
	}
	return nil
}

// ScopesForFeature returns the sorted capability names tagged with the
// given feature.
func (c *Catalog) ScopesForFeature(feature string) []string {
	var out []string
	for name, s := range c.scopes {
		for _, f := range s.RequiredFor {
			if f == feature {
				out = append(out, name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// ScopesForCategory returns the sorted capability names in a category.
func (c *Catalog) ScopesForCategory(category string) []string {
	var out []string
	for name, s := range c.scopes {
		if s.Category == category {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// All returns every catalog entry, sorted by name.
func (c *Catalog) All() []models.CapabilityScope {
	out := make([]models.CapabilityScope, 0, len(c.scopes))
	for _, s := range c.scopes {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
