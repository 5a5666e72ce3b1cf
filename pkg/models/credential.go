package models

import "time"

// Environment segregates test from production credentials.
// It is an explicit, typed namespace tag supplied by the caller; the
// secret store never inspects payloads to guess which one applies.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvTest       Environment = "test"
)

// Valid reports whether e is one of the known environments.
func (e Environment) Valid() bool {
	return e == EnvProduction || e == EnvTest
}

// Credential is a decrypted credential payload plus its stored metadata.
type Credential struct {
	ID        string
	Kind      string
	Data      map[string]any
	Metadata  map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time

	// LegacySalt is true when the record was decrypted via the fixed
	// pre-salt fallback and is due for re-encryption on next write.
	LegacySalt bool
}

// CredentialSummary is a list() row. It never carries decrypted data.
type CredentialSummary struct {
	ID        string
	Kind      string
	CreatedAt time.Time
	UpdatedAt time.Time
	HasSalt   bool
}

// OAuthToken is the payload shape of refreshable third-party credentials.
type OAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Expired reports whether the token carries an expiry that has passed.
func (t *OAuthToken) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}
