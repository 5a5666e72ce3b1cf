// Package vault is the typed credential lookup facade: cache first, then
// the encrypted store, then a legacy compatibility source, then
// environment variables. Expired OAuth credentials are refreshed
// transparently when a refresher is configured.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/secrets"
	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// ErrUnavailable is returned when no source can produce a usable token.
// Refresh failures, decryption failures and plain absence all collapse
// into this one error; the vault never panics and never surfaces causes.
var ErrUnavailable = errors.New("credential unavailable")

// Refresher exchanges an expired OAuth credential for a fresh one. The
// call is synchronous; the vault does not retry.
type Refresher interface {
	Refresh(ctx context.Context, tok *models.OAuthToken) (*models.OAuthToken, error)
}

// LegacySource is an optional compatibility source consulted after the
// encrypted store (e.g. a pre-migration plaintext keyring).
type LegacySource interface {
	Token(kind models.TokenKind) (string, bool)
}

// Recorder receives one audit event per vault decision.
type Recorder interface {
	Record(event models.AuditEvent)
}

// credentialID maps a token kind to its id in the secret store.
func credentialID(kind models.TokenKind) string {
	return "slack-" + string(kind) + "-token"
}

// envVarFor maps a token kind to its environment-variable fallback.
func envVarFor(kind models.TokenKind) string {
	switch kind {
	case models.KindBot:
		return "AICOS_BOT_TOKEN"
	case models.KindUser:
		return "AICOS_USER_TOKEN"
	}
	return ""
}

// Vault resolves tokens and scope sets through the priority chain.
type Vault struct {
	store     *secrets.Store
	cache     *secrets.Cache
	env       models.Environment
	refresher Refresher
	legacy    LegacySource
	recorder  Recorder
	logger    zerolog.Logger
}

// Option configures optional Vault collaborators.
type Option func(*Vault)

// WithRefresher sets the OAuth refresher.
func WithRefresher(r Refresher) Option { return func(v *Vault) { v.refresher = r } }

// WithLegacySource sets the compatibility source.
func WithLegacySource(s LegacySource) Option { return func(v *Vault) { v.legacy = s } }

// WithRecorder sets the audit recorder.
func WithRecorder(r Recorder) Option { return func(v *Vault) { v.recorder = r } }

// New creates a Vault over the given store and cache, scoped to one
// environment. Test and production credentials live under disjoint ids,
// so a vault never crosses environments.
func New(store *secrets.Store, cache *secrets.Cache, env models.Environment, opts ...Option) *Vault {
	v := &Vault{
		store:  store,
		cache:  cache,
		env:    env,
		logger: log.With().Str("component", "vault").Str("env", string(env)).Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// GetToken resolves a token for the given kind. Resolution order: fresh
// cache, encrypted store, legacy source, environment variable. Every hit
// is cached before return. Misses return ErrUnavailable.
func (v *Vault) GetToken(ctx context.Context, kind models.TokenKind) (string, error) {
	id := credentialID(kind)
	cacheKey := string(v.env) + "/" + id

	if tok, ok := v.cache.Get(cacheKey); ok {
		v.record(kind, "cache", true)
		return tok, nil
	}

	if tok, ok := v.fromStore(ctx, kind, id); ok {
		v.cacheToken(cacheKey, tok)
		v.record(kind, "store", true)
		return tok, nil
	}

	if v.legacy != nil {
		if tok, ok := v.legacy.Token(kind); ok && tok != "" {
			v.cacheToken(cacheKey, tok)
			v.record(kind, "legacy", true)
			return tok, nil
		}
	}

	if name := envVarFor(kind); name != "" {
		if tok := os.Getenv(name); tok != "" {
			v.cacheToken(cacheKey, tok)
			v.record(kind, "env", true)
			return tok, nil
		}
	}

	v.record(kind, "none", false)
	return "", ErrUnavailable
}

// fromStore pulls the credential from the encrypted store, refreshing
// expired OAuth payloads when possible.
func (v *Vault) fromStore(ctx context.Context, kind models.TokenKind, id string) (string, bool) {
	cred, err := v.store.Retrieve(ctx, v.env, id)
	if err != nil {
		return "", false
	}

	// Plain token payload: {"token": "..."}.
	if tok, ok := cred.Data["token"].(string); ok && tok != "" {
		return tok, true
	}

	// OAuth payload with expiry and refresh token.
	tok, ok := decodeOAuth(cred.Data)
	if !ok {
		return "", false
	}
	if !tok.Expired() {
		return tok.AccessToken, true
	}
	if v.refresher == nil || tok.RefreshToken == "" {
		v.logger.Warn().Str("kind", string(kind)).Msg("credential expired with no refresh path")
		return "", false
	}

	fresh, err := v.refresher.Refresh(ctx, tok)
	if err != nil {
		v.logger.Warn().Err(err).Str("kind", string(kind)).Msg("token refresh failed")
		return "", false
	}
	if err := v.persistRefreshed(ctx, id, cred.Kind, fresh); err != nil {
		v.logger.Warn().Err(err).Str("kind", string(kind)).Msg("persisting refreshed token failed")
	}
	return fresh.AccessToken, true
}

func (v *Vault) persistRefreshed(ctx context.Context, id, kind string, tok *models.OAuthToken) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return err
	}
	return v.store.Put(ctx, v.env, id, kind, data, map[string]string{"refreshed": "true"})
}

func (v *Vault) cacheToken(cacheKey, tok string) {
	if err := v.cache.Set(cacheKey, tok); err != nil {
		v.logger.Warn().Err(err).Msg("caching token failed")
	}
}

// GrantedScopes returns the scope set stored with a kind's credential,
// or nil when the credential is unavailable or carries no scopes.
func (v *Vault) GrantedScopes(ctx context.Context, kind models.TokenKind) []string {
	cred, err := v.store.Retrieve(ctx, v.env, credentialID(kind))
	if err != nil {
		return nil
	}
	raw, ok := cred.Data["scopes"].([]any)
	if !ok {
		return nil
	}
	scopes := make([]string, 0, len(raw))
	for _, s := range raw {
		if str, ok := s.(string); ok {
			scopes = append(scopes, str)
		}
	}
	return scopes
}

// ClearCache wipes the credential cache. Call after rotation.
func (v *Vault) ClearCache() {
	v.cache.Clear()
}

// ValidateAll probes every configured credential source and returns a
// health map keyed by check name. Never returns an error.
func (v *Vault) ValidateAll(ctx context.Context) map[string]bool {
	checks := make(map[string]bool)
	for _, kind := range []models.TokenKind{models.KindBot, models.KindUser} {
		_, err := v.GetToken(ctx, kind)
		checks[string(kind)+"_token"] = err == nil
	}
	_, err := v.store.List(ctx)
	checks["secret_store"] = err == nil
	checks["cache"] = v.cache != nil
	return checks
}

func (v *Vault) record(kind models.TokenKind, source string, success bool) {
	if v.recorder == nil {
		return
	}
	v.recorder.Record(models.AuditEvent{
		Timestamp: time.Now().UTC(),
		Type:      models.EventCredentialAccess,
		Actor:     "vault",
		Success:   success,
		Context: map[string]any{
			"kind":   string(kind),
			"source": source,
			"env":    string(v.env),
		},
	})
}

func decodeOAuth(data map[string]any) (*models.OAuthToken, bool) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	var tok models.OAuthToken
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		return nil, false
	}
	return &tok, true
}
