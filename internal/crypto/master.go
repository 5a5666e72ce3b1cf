package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// masterFileMode restricts the master key file to its owner.
const masterFileMode = 0o600

// LoadOrCreateMasterKey returns the process-wide master secret stored at
// path. When the file is absent a fresh secret is generated once and
// persisted with owner-only permissions. The file holds the hex-encoded
// SHA-256 of a random seed, never any user-supplied password, and must
// never be logged or returned from any API.
func LoadOrCreateMasterKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		key, derr := hex.DecodeString(string(trimNewline(data)))
		if derr != nil {
			return nil, fmt.Errorf("parsing master key file: %w", derr)
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("master key file holds %d bytes, want %d", len(key), KeySize)
		}
		checkMasterFilePerms(path)
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading master key file: %w", err)
	}

	seed := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("generating master seed: %w", err)
	}
	derived := sha256.Sum256(seed)
	ZeroBytes(seed)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating master key dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(derived[:])+"\n"), masterFileMode); err != nil {
		return nil, fmt.Errorf("persisting master key: %w", err)
	}
	log.Info().Str("path", path).Msg("generated new master key")
	return derived[:], nil
}

// checkMasterFilePerms warns when the key file is readable by group/other.
func checkMasterFilePerms(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Mode().Perm()&0o077 != 0 {
		log.Warn().Str("path", path).Str("mode", info.Mode().String()).
			Msg("master key file permissions are too open, expected owner-only")
	}
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
