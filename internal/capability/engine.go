package capability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// ScopeSource supplies the scopes actually granted to a token kind,
// typically the credential vault.
type ScopeSource interface {
	GrantedScopes(ctx context.Context, kind models.TokenKind) []string
}

// Recorder receives one audit event per permission decision.
type Recorder interface {
	Record(event models.AuditEvent)
}

// methodRequirements maps known API method names to the capabilities
// they require. Methods absent from this map have no requirement under
// lenient policy and are an error under strict policy.
var methodRequirements = map[string][]string{
	"send_message":          {"chat:write"},
	"conversations.list":    {"channels:read", "groups:read"},
	"conversations.history": {"channels:history"},
	"im.history":            {"im:history"},
	"users.list":            {"users:read"},
	"usergroups.list":       {"usergroups:read"},
	"files.list":            {"files:read"},
	"search.messages":       {"search:read"},
	"calendar.events.list":  {"calendar.events:read"},
	"drive.files.list":      {"drive.files:read"},
}

type decisionKey struct {
	method string
	kind   models.TokenKind
}

// Engine validates required capabilities against granted ones under a
// runtime-configurable enforcement level. Decisions for known methods
// are cached per (method, token kind) until the policy changes or the
// cache is cleared.
type Engine struct {
	catalog *Catalog
	source  ScopeSource

	mu       sync.RWMutex
	level    models.EnforcementLevel
	cache    map[decisionKey]models.PermissionDecision
	recorder Recorder
	logger   zerolog.Logger
}

// NewEngine creates an Engine in strict mode.
func NewEngine(catalog *Catalog, source ScopeSource, recorder Recorder) *Engine {
	return &Engine{
		catalog:  catalog,
		source:   source,
		level:    models.EnforceStrict,
		cache:    make(map[decisionKey]models.PermissionDecision),
		recorder: recorder,
		logger:   log.With().Str("component", "permissions").Logger(),
	}
}

// Level returns the current enforcement level.
func (e *Engine) Level() models.EnforcementLevel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.level
}

// SetLevel changes the enforcement policy and invalidates the decision
// cache.
func (e *Engine) SetLevel(level models.EnforcementLevel) {
	e.mu.Lock()
	e.level = level
	e.cache = make(map[decisionKey]models.PermissionDecision)
	e.mu.Unlock()
	e.logger.Info().Str("level", level.String()).Msg("permission enforcement level changed")
}

// ClearCache drops all cached decisions.
func (e *Engine) ClearCache() {
	e.mu.Lock()
	e.cache = make(map[decisionKey]models.PermissionDecision)
	e.mu.Unlock()
}

// Check computes the decision for an explicit required/granted pair.
// The decision is valid when every required capability is granted.
func (e *Engine) Check(required, granted []string) models.PermissionDecision {
	d := diff(required, granted)
	d.Allowed = e.admits(d.Valid)
	e.audit(d, "")
	return d
}

// CheckForAPI resolves the required capabilities for a known API method
// and checks them against the scopes granted to the token kind.
func (e *Engine) CheckForAPI(ctx context.Context, method string, kind models.TokenKind) models.PermissionDecision {
	e.mu.RLock()
	level := e.level
	cached, hit := e.cache[decisionKey{method, kind}]
	e.mu.RUnlock()

	if level == models.EnforceDisabled {
		return models.PermissionDecision{Valid: true, Allowed: true, Method: method, Kind: kind}
	}
	if hit {
		return cached
	}

	required, known := methodRequirements[method]
	var d models.PermissionDecision
	switch {
	case !known && level == models.EnforceStrict:
		// Unknown method is an error under strict policy.
		d = models.PermissionDecision{Valid: false, Allowed: false, Method: method, Kind: kind}
		e.logger.Error().Str("method", method).Msg("permission check for unknown API method")
	case !known:
		d = models.PermissionDecision{Valid: true, Allowed: true, Method: method, Kind: kind}
	default:
		granted := e.source.GrantedScopes(ctx, kind)
		d = diff(required, granted)
		d.Method = method
		d.Kind = kind
		d.Allowed = e.admits(d.Valid)
		if !d.Valid && d.Allowed {
			e.logger.Warn().Str("method", method).Strs("missing", d.Missing).
				Msg("missing capabilities allowed under lenient policy")
		}
	}

	e.mu.Lock()
	// Policy may have flipped while we computed; cache only under the
	// level the decision was made for.
	if e.level == level {
		e.cache[decisionKey{method, kind}] = d
	}
	e.mu.Unlock()

	e.audit(d, method)
	return d
}

// admits maps decision validity to an allow/block outcome per policy.
func (e *Engine) admits(valid bool) bool {
	switch e.Level() {
	case models.EnforceStrict:
		return valid
	default:
		return true
	}
}

// audit forwards the decision with capability counts only, never values.
func (e *Engine) audit(d models.PermissionDecision, method string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(models.AuditEvent{
		Timestamp: time.Now().UTC(),
		Type:      models.EventPermissionCheck,
		Actor:     "permissions",
		Success:   d.Valid,
		Context: map[string]any{
			"method":         method,
			"granted_count":  len(d.Granted),
			"missing_count":  len(d.Missing),
			"missing_scopes": d.Missing,
		},
	})
}

// diff computes requested/granted/missing sets.
func diff(required, granted []string) models.PermissionDecision {
	grantedSet := make(map[string]struct{}, len(granted))
	for _, g := range granted {
		grantedSet[g] = struct{}{}
	}
	var missing []string
	for _, r := range required {
		if _, ok := grantedSet[r]; !ok {
			missing = append(missing, r)
		}
	}
	sort.Strings(missing)
	return models.PermissionDecision{
		Requested: append([]string(nil), required...),
		Granted:   append([]string(nil), granted...),
		Missing:   missing,
		Valid:     len(missing) == 0,
	}
}
