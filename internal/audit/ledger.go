// Package audit records security-relevant events: credential access,
// permission decisions, rate-limit outcomes. Events land in a bounded
// in-memory ring and, when configured, a durable sink.
package audit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// DefaultCapacity is the ring buffer size.
const DefaultCapacity = 1000

// anomalyWindow and anomalyThreshold define the repeated-failure rule:
// this many permission failures for one actor within the last
// anomalyWindow recorded events escalates to Critical.
const (
	anomalyWindow    = 50
	anomalyThreshold = 5
)

var eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "aicos_audit_events_total",
	Help: "Audit events recorded by type and level.",
}, []string{"type", "level"})

func init() {
	prometheus.MustRegister(eventsTotal)
}

// Sink persists events beyond process lifetime. storage.Backend
// satisfies it.
type Sink interface {
	WriteAuditEvent(ctx context.Context, event *models.AuditEvent) error
}

// Config tunes a Ledger.
type Config struct {
	Capacity int
	MinLevel models.SecurityLevel
	// Sensitive capabilities: a permission failure whose missing set
	// intersects this list escalates to Critical.
	Sensitive []string
}

// Filter selects events from the retained buffer.
type Filter struct {
	Type     models.EventType
	Actor    string
	MinLevel models.SecurityLevel
	Since    time.Time
}

// Ledger is the in-process security event log. A single mutex guards the
// ring; it is held only for the append and the anomaly scan.
type Ledger struct {
	mu     sync.Mutex
	ring   []models.AuditEvent
	head   int // next write position
	filled bool

	capacity  int
	minLevel  models.SecurityLevel
	sensitive map[string]struct{}
	sink      Sink
	logger    zerolog.Logger
}

// NewLedger creates a Ledger. sink may be nil for memory-only operation.
func NewLedger(cfg Config, sink Sink) *Ledger {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	sensitive := make(map[string]struct{}, len(cfg.Sensitive))
	for _, s := range cfg.Sensitive {
		sensitive[s] = struct{}{}
	}
	return &Ledger{
		ring:      make([]models.AuditEvent, cfg.Capacity),
		capacity:  cfg.Capacity,
		minLevel:  cfg.MinLevel,
		sensitive: sensitive,
		sink:      sink,
		logger:    log.With().Str("component", "audit").Logger(),
	}
}

// Record classifies and appends an event. The security level starts at
// Info, escalates to Warning on failure and to Critical when an anomaly
// rule fires; it is never downgraded below the level the caller set.
// Events below the configured minimum level are dropped before either
// sink. A durable sink failure is logged and never blocks the caller.
func (l *Ledger) Record(event models.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	level := models.LevelInfo
	if !event.Success {
		level = models.LevelWarning
	}
	if l.isAnomalyLocked(&event) {
		level = models.LevelCritical
	}
	if event.Level > level {
		level = event.Level
	}
	event.Level = level

	if event.Level < l.minLevel {
		l.mu.Unlock()
		return
	}

	l.ring[l.head] = event
	l.head = (l.head + 1) % l.capacity
	if l.head == 0 {
		l.filled = true
	}
	l.mu.Unlock()

	eventsTotal.WithLabelValues(string(event.Type), event.Level.String()).Inc()
	if event.Level == models.LevelCritical {
		l.logger.Error().Str("actor", event.Actor).Str("type", string(event.Type)).
			Msg("critical security event")
	}

	if l.sink != nil {
		if err := l.sink.WriteAuditEvent(context.Background(), &event); err != nil {
			l.logger.Warn().Err(err).Msg("durable audit write failed")
		}
	}
}

// isAnomalyLocked applies the heuristic escalation rules. Caller holds
// the ring mutex; the prospective event has not yet been appended.
func (l *Ledger) isAnomalyLocked(event *models.AuditEvent) bool {
	// Missing scopes touching the sensitive capability list.
	if raw, ok := event.Context["missing_scopes"]; ok {
		for _, name := range anyStrings(raw) {
			if _, hit := l.sensitive[name]; hit {
				return true
			}
		}
	}

	// Repeated permission failures by the same actor.
	if event.Type != models.EventPermissionCheck || event.Success {
		return false
	}
	failures := 1 // the event being recorded
	for _, e := range l.recentLocked(anomalyWindow - 1) {
		if e.Type == models.EventPermissionCheck && !e.Success && e.Actor == event.Actor {
			failures++
		}
	}
	return failures >= anomalyThreshold
}

// recentLocked returns up to n most recent events, newest first.
func (l *Ledger) recentLocked(n int) []models.AuditEvent {
	size := l.head
	if l.filled {
		size = l.capacity
	}
	if n > size {
		n = size
	}
	out := make([]models.AuditEvent, 0, n)
	for i := 1; i <= n; i++ {
		idx := (l.head - i + l.capacity) % l.capacity
		out = append(out, l.ring[idx])
	}
	return out
}

// Recent returns up to n retained events, newest first.
func (l *Ledger) Recent(n int) []models.AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recentLocked(n)
}

// Query filters the retained buffer, newest first, up to limit events.
func (l *Ledger) Query(f Filter, limit int) []models.AuditEvent {
	if limit <= 0 {
		limit = DefaultCapacity
	}
	l.mu.Lock()
	all := l.recentLocked(l.capacity)
	l.mu.Unlock()

	var out []models.AuditEvent
	for _, e := range all {
		if len(out) >= limit {
			break
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Actor != "" && e.Actor != f.Actor {
			continue
		}
		if e.Level < f.MinLevel {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// ActorCount pairs an actor with how many events it produced.
type ActorCount struct {
	Actor string `json:"actor"`
	Count int    `json:"count"`
}

// Summary aggregates the retained buffer over a trailing window.
type Summary struct {
	Total       int                      `json:"total"`
	ByType      map[models.EventType]int `json:"by_type"`
	ByLevel     map[string]int           `json:"by_level"`
	TopActors   []ActorCount             `json:"top_actors"`
	SuccessRate float64                  `json:"success_rate"`
}

// Summarize computes counts by type and level, top actors and the
// success rate over events within the trailing window. A zero window
// covers the whole buffer.
func (l *Ledger) Summarize(window time.Duration) Summary {
	cutoff := time.Time{}
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	l.mu.Lock()
	all := l.recentLocked(l.capacity)
	l.mu.Unlock()

	s := Summary{
		ByType:  make(map[models.EventType]int),
		ByLevel: make(map[string]int),
	}
	actors := make(map[string]int)
	succeeded := 0
	for _, e := range all {
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		s.Total++
		s.ByType[e.Type]++
		s.ByLevel[e.Level.String()]++
		if e.Actor != "" {
			actors[e.Actor]++
		}
		if e.Success {
			succeeded++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(succeeded) / float64(s.Total)
	}

	for actor, count := range actors {
		s.TopActors = append(s.TopActors, ActorCount{Actor: actor, Count: count})
	}
	sort.Slice(s.TopActors, func(i, j int) bool {
		if s.TopActors[i].Count != s.TopActors[j].Count {
			return s.TopActors[i].Count > s.TopActors[j].Count
		}
		return s.TopActors[i].Actor < s.TopActors[j].Actor
	})
	if len(s.TopActors) > 5 {
		s.TopActors = s.TopActors[:5]
	}
	return s
}

func anyStrings(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
