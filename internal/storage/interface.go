package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// EncryptedRecord is one raw row of the encrypted_keys table. The storage
// layer never sees plaintext; encryption and decryption happen in the
// secrets package.
type EncryptedRecord struct {
	KeyID         string
	EncryptedData []byte
	Salt          []byte // empty for legacy pre-salt rows
	KeyType       string
	Metadata      string // JSON
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AccessLogEntry is one row of the credential access log.
type AccessLogEntry struct {
	ID        int64
	KeyID     string
	Action    string
	Timestamp time.Time
	User      string
}

// AuditFilter selects audit events for queries over the durable sink.
type AuditFilter struct {
	Type     models.EventType
	Actor    string
	MinLevel models.SecurityLevel
	Since    *time.Time
	Limit    int
	Offset   int
}

// Backend defines the persistence interface for the core's durable tables:
// encrypted credentials plus access log, collector state plus history, and
// the audit event sink. Implementations must be safe for concurrent use.
type Backend interface {
	// Encrypted credentials
	PutEncryptedKey(ctx context.Context, rec *EncryptedRecord) error
	GetEncryptedKey(ctx context.Context, keyID string) (*EncryptedRecord, error)
	DeleteEncryptedKey(ctx context.Context, keyID string) (bool, error)
	ListEncryptedKeys(ctx context.Context) ([]*EncryptedRecord, error)
	LogAccess(ctx context.Context, keyID, action, user string) error
	QueryAccessLog(ctx context.Context, keyID string, limit int) ([]*AccessLogEntry, error)

	// Collector state
	GetState(ctx context.Context, key string) (*models.StateEntry, error)
	SetState(ctx context.Context, key, value string) (models.StateOp, error)
	DeleteState(ctx context.Context, key string) (bool, error)
	AllState(ctx context.Context) ([]*models.StateEntry, error)
	StateHistory(ctx context.Context, key string, limit int) ([]*models.StateHistoryEntry, error)
	PruneStateHistory(ctx context.Context, keepPerKey int) (int64, error)

	// Audit sink
	WriteAuditEvent(ctx context.Context, event *models.AuditEvent) error
	QueryAuditEvents(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error)

	// Lifecycle
	Close() error
}
