// Package secrets implements the encrypted-at-rest credential store and
// the short-TTL in-memory credential cache sitting in front of it.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/crypto"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/storage"
	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// ErrNotFound is returned when a credential does not exist or cannot be
// decrypted. Callers never learn which; per the error design the cause of
// a retrieval miss is not surfaced to business logic.
var ErrNotFound = storage.ErrNotFound

// ErrEnvironmentMismatch is returned by the policy guard when a
// credential id carries a namespace that contradicts the caller's
// environment tag.
var ErrEnvironmentMismatch = errors.New("credential environment mismatch")

// Mirror is any in-memory copy of credentials that must be purged when a
// stored record turns out to be rotten.
type Mirror interface {
	Purge(id string)
}

// Store encrypts credentials with per-record salted keys derived from the
// process master secret and persists them through a storage.Backend.
type Store struct {
	backend storage.Backend
	master  []byte
	mirror  Mirror
	logger  zerolog.Logger

	// Actor is recorded in the access log; defaults to "core".
	Actor string
}

// NewStore creates a Store. The master secret is borrowed, not copied;
// the owner is responsible for wiping it at shutdown.
func NewStore(backend storage.Backend, master []byte) *Store {
	return &Store{
		backend: backend,
		master:  master,
		logger:  log.With().Str("component", "secrets").Logger(),
		Actor:   "core",
	}
}

// AttachMirror registers an in-memory mirror (typically the credential
// cache) to be purged when corruption is detected.
func (s *Store) AttachMirror(m Mirror) {
	s.mirror = m
}

// namespacedID maps (environment, id) to the disjoint storage key space.
func namespacedID(env models.Environment, id string) string {
	return string(env) + "/" + id
}

// guardID rejects ids that smuggle an explicit namespace contradicting
// the caller's environment tag. The guard is structural; payloads are
// never sniffed.
func guardID(env models.Environment, id string) error {
	for _, other := range []models.Environment{models.EnvProduction, models.EnvTest} {
		if other != env && strings.HasPrefix(id, string(other)+"/") {
			return fmt.Errorf("%w: id %q under %s namespace stored as %s", ErrEnvironmentMismatch, id, other, env)
		}
	}
	return nil
}

// Put serializes, encrypts and persists a credential under the given
// environment. A fresh random salt is generated on every write, so
// re-storing an id also re-encrypts any legacy unsalted record.
func (s *Store) Put(ctx context.Context, env models.Environment, id, kind string, data map[string]any, metadata map[string]string) error {
	if !env.Valid() {
		return fmt.Errorf("invalid environment %q", env)
	}
	if err := guardID(env, id); err != nil {
		return err
	}

	// Serialization failures are rejected before any write.
	plaintext, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("serializing credential %s: %w", id, err)
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}
	key := crypto.DeriveKey(s.master, salt)
	defer crypto.ZeroBytes(key)

	sealed, err := crypto.Seal(plaintext, key)
	if err != nil {
		return fmt.Errorf("encrypting credential %s: %w", id, err)
	}

	meta := map[string]string{"environment": string(env)}
	for k, v := range metadata {
		meta[k] = v
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("serializing metadata for %s: %w", id, err)
	}

	rec := &storage.EncryptedRecord{
		KeyID:         namespacedID(env, id),
		EncryptedData: sealed,
		Salt:          salt,
		KeyType:       kind,
		Metadata:      string(metaJSON),
	}
	if err := s.backend.PutEncryptedKey(ctx, rec); err != nil {
		return err
	}
	if err := s.backend.LogAccess(ctx, rec.KeyID, "store", s.Actor); err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("access log write failed")
	}
	return nil
}

// Retrieve decrypts and returns a credential. Records without a stored
// salt are decrypted with the fixed legacy salt and flagged for
// re-encryption. Any decryption failure is reported as ErrNotFound and
// the in-memory mirror entry for the id is purged.
func (s *Store) Retrieve(ctx context.Context, env models.Environment, id string) (*models.Credential, error) {
	keyID := namespacedID(env, id)
	rec, err := s.backend.GetEncryptedKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	salt := rec.Salt
	legacy := len(salt) == 0
	if legacy {
		salt = crypto.LegacySalt
		s.logger.Warn().Str("id", id).
			Msg("deprecated: credential stored without salt, will be re-encrypted on next write")
	}

	key := crypto.DeriveKey(s.master, salt)
	defer crypto.ZeroBytes(key)

	plaintext, err := crypto.Open(rec.EncryptedData, key)
	if err != nil {
		// Wrong or rotated master key, or corruption. Never surfaced.
		s.logger.Error().Str("id", id).Msg("credential decryption failed, pruning mirror")
		if s.mirror != nil {
			s.mirror.Purge(keyID)
		}
		return nil, ErrNotFound
	}

	var data map[string]any
	if err := json.Unmarshal(plaintext, &data); err != nil {
		s.logger.Error().Str("id", id).Msg("credential payload unparseable, pruning mirror")
		if s.mirror != nil {
			s.mirror.Purge(keyID)
		}
		return nil, ErrNotFound
	}

	if err := s.backend.LogAccess(ctx, keyID, "retrieve", s.Actor); err != nil {
		s.logger.Warn().Err(err).Str("id", id).Msg("access log write failed")
	}

	return &models.Credential{
		ID:         id,
		Kind:       rec.KeyType,
		Data:       data,
		Metadata:   decodeMetadata(rec.Metadata),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		LegacySalt: legacy,
	}, nil
}

// Delete erases a credential. Returns false when nothing was stored.
func (s *Store) Delete(ctx context.Context, env models.Environment, id string) (bool, error) {
	keyID := namespacedID(env, id)
	deleted, err := s.backend.DeleteEncryptedKey(ctx, keyID)
	if err != nil {
		return false, err
	}
	if s.mirror != nil {
		s.mirror.Purge(keyID)
	}
	if deleted {
		if err := s.backend.LogAccess(ctx, keyID, "delete", s.Actor); err != nil {
			s.logger.Warn().Err(err).Str("id", id).Msg("access log write failed")
		}
	}
	return deleted, nil
}

// List returns summaries of all stored credentials, without payloads.
func (s *Store) List(ctx context.Context) ([]models.CredentialSummary, error) {
	recs, err := s.backend.ListEncryptedKeys(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]models.CredentialSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, models.CredentialSummary{
			ID:        rec.KeyID,
			Kind:      rec.KeyType,
			CreatedAt: rec.CreatedAt,
			UpdatedAt: rec.UpdatedAt,
			HasSalt:   len(rec.Salt) > 0,
		})
	}
	return summaries, nil
}

// AccessLog returns recent access log rows for an id.
func (s *Store) AccessLog(ctx context.Context, env models.Environment, id string, limit int) ([]*storage.AccessLogEntry, error) {
	return s.backend.QueryAccessLog(ctx, namespacedID(env, id), limit)
}

// ReencryptLegacy rewrites every record still encrypted with the fixed
// legacy salt using a fresh per-record salt. Returns how many records
// were migrated. Undecryptable legacy rows are skipped and logged.
func (s *Store) ReencryptLegacy(ctx context.Context) (int, error) {
	recs, err := s.backend.ListEncryptedKeys(ctx)
	if err != nil {
		return 0, err
	}
	migrated := 0
	for _, rec := range recs {
		if len(rec.Salt) > 0 {
			continue
		}
		full, err := s.backend.GetEncryptedKey(ctx, rec.KeyID)
		if err != nil {
			continue
		}
		key := crypto.DeriveKey(s.master, crypto.LegacySalt)
		plaintext, err := crypto.Open(full.EncryptedData, key)
		crypto.ZeroBytes(key)
		if err != nil {
			s.logger.Error().Str("id", rec.KeyID).Msg("legacy credential undecryptable, skipping re-encryption")
			continue
		}

		salt, err := crypto.GenerateSalt()
		if err != nil {
			return migrated, err
		}
		newKey := crypto.DeriveKey(s.master, salt)
		sealed, err := crypto.Seal(plaintext, newKey)
		crypto.ZeroBytes(newKey)
		if err != nil {
			return migrated, fmt.Errorf("re-encrypting %s: %w", rec.KeyID, err)
		}

		full.EncryptedData = sealed
		full.Salt = salt
		if err := s.backend.PutEncryptedKey(ctx, full); err != nil {
			return migrated, err
		}
		migrated++
	}
	return migrated, nil
}

func decodeMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil
	}
	return meta
}
