package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the per-record salt length in bytes.
	SaltSize = 32
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// PBKDF2Iterations is the work factor for record-key derivation.
	PBKDF2Iterations = 120_000
)

// LegacySalt is the fixed salt used for records written before per-record
// salts existed. Exactly SaltSize bytes. Records decrypted with it are
// flagged for re-encryption.
var LegacySalt = []byte("aicos-legacy-keyring-salt-v0\x00\x00\x00\x00")

// ErrDecrypt is returned when ciphertext cannot be authenticated or
// decrypted (wrong key, tampering, corruption).
var ErrDecrypt = errors.New("decryption failed")

// GenerateSalt returns a fresh cryptographically random salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a symmetric key from the master secret and a salt
// using PBKDF2-SHA256. Deterministic for the same inputs.
func DeriveKey(master, salt []byte) []byte {
	return pbkdf2.Key(master, salt, PBKDF2Iterations, KeySize, sha256.New)
}

// DeriveCacheKey derives an independent key from a seed via HKDF-SHA256.
// Used for the in-memory credential cache so a cache compromise never
// exposes the master-derived record keys.
func DeriveCacheKey(seed []byte, context string) ([]byte, error) {
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, seed, nil, []byte(context))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving cache key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext with AES-256-GCM and returns nonce-prefixed
// ciphertext suitable for storage as a single blob.
func Seal(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, len(nonce)+len(sealed))
	copy(out, nonce)
	copy(out[len(nonce):], sealed)
	return out, nil
}

// Open decrypts a nonce-prefixed AES-256-GCM blob produced by Seal.
// Any authentication or framing failure is reported as ErrDecrypt.
func Open(sealed, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrDecrypt
	}
	plaintext, err := gcm.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// ZeroBytes wipes a key buffer in place.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
