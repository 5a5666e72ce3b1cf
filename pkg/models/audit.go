package models

import "time"

// EventType classifies security-relevant events.
type EventType string

const (
	EventCredentialAccess EventType = "credential_access"
	EventCredentialStore  EventType = "credential_store"
	EventCredentialDelete EventType = "credential_delete"
	EventPermissionCheck  EventType = "permission_check"
	EventRateLimit        EventType = "rate_limit"
	EventStateChange      EventType = "state_change"
	EventArchiveWrite     EventType = "archive_write"
)

// SecurityLevel orders events by severity. The ledger escalates an
// event's level to the worst applicable rule, never downgrades it.
type SecurityLevel int

const (
	LevelInfo SecurityLevel = iota
	LevelWarning
	LevelCritical
)

func (l SecurityLevel) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	}
	return "unknown"
}

// AuditEvent is one record in the security ledger. Context carries
// metadata only; secret values must never be placed here.
type AuditEvent struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Level     SecurityLevel  `json:"level"`
	Actor     string         `json:"actor"`
	TeamID    string         `json:"team_id,omitempty"`
	ChannelID string         `json:"channel_id,omitempty"`
	Success   bool           `json:"success"`
	Context   map[string]any `json:"context,omitempty"`
}

// RateMode selects a rate-limiter profile.
type RateMode string

const (
	// ModeInteractive covers user-facing operations.
	ModeInteractive RateMode = "interactive"
	// ModeBulk covers background collection jobs.
	ModeBulk RateMode = "bulk"
)
