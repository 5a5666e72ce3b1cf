// Package config loads the core configuration: YAML file first, then
// environment-variable overrides, defaults underneath.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dcamposbiorender/AICoS-lab-sub000/pkg/models"
)

// Config is the full core configuration.
type Config struct {
	DataDir         string   `yaml:"data_dir"`
	Environment     string   `yaml:"environment"` // "production" or "test"
	LogLevel        string   `yaml:"log_level"`
	ListenAddr      string   `yaml:"listen_addr"`
	CacheSeed       string   `yaml:"cache_seed"`
	CacheTTLMinutes int      `yaml:"cache_ttl_minutes"`
	StateBackend    string   `yaml:"state_backend"` // "sqlite" or "file"
	AuditMinLevel   string   `yaml:"audit_min_level"`
	SensitiveScopes []string `yaml:"sensitive_scopes"`
	HistoryKeep     int      `yaml:"history_keep"`
	JanitorSchedule string   `yaml:"janitor_schedule"`
}

// Default returns the baseline configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		DataDir:         filepath.Join(home, ".aicos", "data"),
		Environment:     string(models.EnvProduction),
		LogLevel:        "info",
		ListenAddr:      "127.0.0.1:8264",
		CacheTTLMinutes: 30,
		StateBackend:    "sqlite",
		AuditMinLevel:   "info",
		SensitiveScopes: []string{"chat:write", "files:read", "search:read"},
		HistoryKeep:     1000,
		JanitorSchedule: "@hourly",
	}
}

// Load reads path (when present) over the defaults, then applies env
// overrides. A missing config file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if path != "" {
		log.Warn().Str("file", path).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("AICOS_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("AICOS_ENV"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("AICOS_CACHE_SEED"); v != "" {
		cfg.CacheSeed = v
	}
	if v := os.Getenv("AICOS_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if !models.Environment(cfg.Environment).Valid() {
		return cfg, fmt.Errorf("invalid environment %q (want production or test)", cfg.Environment)
	}
	return cfg, nil
}

// Env returns the typed environment tag.
func (c Config) Env() models.Environment {
	return models.Environment(c.Environment)
}

// DatabasePath is the SQLite database under the data dir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "core.db")
}

// MasterKeyPath is the owner-only master key file.
func (c Config) MasterKeyPath() string {
	return filepath.Join(c.DataDir, "master.key")
}

// ArchiveRoot is the base directory for archive partitions.
func (c Config) ArchiveRoot() string {
	return filepath.Join(c.DataDir, "archive")
}

// StateFilePath is the document used by the file-backed state store.
func (c Config) StateFilePath() string {
	return filepath.Join(c.DataDir, "state.json")
}

// AuditLevel parses the configured minimum audit level.
func (c Config) AuditLevel() models.SecurityLevel {
	switch c.AuditMinLevel {
	case "warning":
		return models.LevelWarning
	case "critical":
		return models.LevelCritical
	default:
		return models.LevelInfo
	}
}
