// Package core wires the persistence components into one registry
// object constructed at process start and passed by reference, replacing
// any notion of module-level singletons.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/archive"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/audit"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/capability"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/config"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/crypto"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/ratelimit"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/secrets"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/state"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/storage"
	"github.com/dcamposbiorender/AICoS-lab-sub000/internal/vault"
)

// Core owns every component of the secure persistence core. Collectors
// and the bot surface receive it by reference; nothing here is global.
type Core struct {
	Config      config.Config
	Backend     storage.Backend
	Secrets     *secrets.Store
	Cache       *secrets.Cache
	Vault       *vault.Vault
	Catalog     *capability.Catalog
	Permissions *capability.Engine
	Archive     *archive.Writer
	State       state.Store
	Limiter     *ratelimit.Limiter
	Ledger      *audit.Ledger

	master  []byte
	janitor *janitor
}

// New constructs and wires a Core from configuration. Components are
// built leaves-first: storage and crypto, then the stores, then the
// engines that consume them.
func New(ctx context.Context, cfg config.Config) (*Core, error) {
	backend, err := storage.NewSQLiteBackend(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("opening storage backend: %w", err)
	}

	master, err := crypto.LoadOrCreateMasterKey(cfg.MasterKeyPath())
	if err != nil {
		backend.Close()
		return nil, err
	}

	// The cache key seed comes from the environment; absent that, the
	// master secret feeds HKDF under a distinct context so the cache
	// cipher still differs from every record cipher.
	seed := []byte(cfg.CacheSeed)
	if len(seed) == 0 {
		seed = master
	}
	cache, err := secrets.NewCache(seed, time.Duration(cfg.CacheTTLMinutes)*time.Minute)
	if err != nil {
		backend.Close()
		return nil, err
	}

	ledger := audit.NewLedger(audit.Config{
		MinLevel:  cfg.AuditLevel(),
		Sensitive: cfg.SensitiveScopes,
	}, backend)

	store := secrets.NewStore(backend, master)
	store.AttachMirror(cache)

	vlt := vault.New(store, cache, cfg.Env(),
		vault.WithRecorder(ledger),
	)

	catalog := capability.NewCatalog()
	engine := capability.NewEngine(catalog, vlt, ledger)

	var st state.Store
	if cfg.StateBackend == "file" {
		st, err = state.NewFileStore(cfg.StateFilePath())
		if err != nil {
			backend.Close()
			return nil, err
		}
	} else {
		st = state.NewSQLStore(backend)
	}

	c := &Core{
		Config:      cfg,
		Backend:     backend,
		Secrets:     store,
		Cache:       cache,
		Vault:       vlt,
		Catalog:     catalog,
		Permissions: engine,
		Archive:     archive.NewWriter(cfg.ArchiveRoot()),
		State:       st,
		Limiter:     ratelimit.NewLimiter(ledger),
		Ledger:      ledger,
		master:      master,
	}
	c.janitor = newJanitor(c)
	return c, nil
}

// StartJanitor schedules the retention jobs.
func (c *Core) StartJanitor() error {
	return c.janitor.start(c.Config.JanitorSchedule)
}

// Close stops background work, wipes key material and releases storage.
func (c *Core) Close() error {
	c.janitor.stop()
	c.Cache.Clear()
	crypto.ZeroBytes(c.master)
	if err := c.State.Close(); err != nil {
		return err
	}
	return c.Backend.Close()
}
