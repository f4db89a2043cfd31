// ABOUTME: Shared wiring for CLI commands
// ABOUTME: Opens the local database, the state backend and a coordinator from config
package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"github.com/harperreed/rolodex/cache"
	"github.com/harperreed/rolodex/charm"
	"github.com/harperreed/rolodex/config"
	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/remote"
	"github.com/harperreed/rolodex/store"
	"github.com/harperreed/rolodex/sync"
)

// RegisterBackends makes the sqlite:// and charm:// state backends
// available to store.OpenKV.
func RegisterBackends() {
	store.RegisterKVFactory("sqlite", db.OpenSQLiteKV)
	store.RegisterKVFactory("sqlite3", db.OpenSQLiteKV)
	store.RegisterKVFactory("charm", charm.OpenKV)
}

// Runtime holds what a command needs to run a pass.
type Runtime struct {
	Config      *config.Config
	DB          *sql.DB
	State       *store.StateStore
	Client      remote.Client
	Coordinator *sync.Coordinator
	Logger      *log.Logger
	Out         io.Writer
}

// OpenRuntime opens the local database and state backend and builds a
// coordinator for cfg.Account. Without a state DSN the persisted state
// lives in the local database.
func OpenRuntime(cfg *config.Config, logger *log.Logger) (*Runtime, error) {
	if logger == nil {
		logger = log.Default()
	}
	database, err := db.OpenDatabase(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var kv store.KV
	if cfg.StateDSN == "" {
		kv = db.NewSQLiteKV(database)
	} else if kv, err = store.OpenKV(cfg.StateDSN); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to open state backend: %w", err)
	}

	rt := &Runtime{
		Config: cfg,
		DB:     database,
		State:  store.NewStateStore(kv),
		Client: remote.NewHTTPClient(cfg.APIURL, cfg.Token, nil),
		Logger: logger,
		Out:    os.Stdout,
	}
	rt.Coordinator = NewCoordinator(rt.Client, rt.State, database, cfg, logger)
	return rt, nil
}

// NewCoordinator maps config onto coordinator options. database may be nil.
func NewCoordinator(client remote.Client, state *store.StateStore, database *sql.DB, cfg *config.Config, logger *log.Logger) *sync.Coordinator {
	policy := sync.Reject
	if cfg.Policy == "wait" {
		policy = sync.Wait
	}
	opts := sync.CoordinatorOptions{
		Account:      cfg.Account,
		Policy:       policy,
		AlwaysRewarm: cfg.AlwaysRewarm,
		Retention:    cfg.Retention.Std(),
		Batch: sync.BatchOptions{
			ChunkDelay:     cfg.ChunkDelay.Std(),
			Concurrency:    cfg.Concurrency,
			RequestTimeout: cfg.RequestTimeout.Std(),
			ChunkTimeout:   cfg.ChunkTimeout.Std(),
		},
		Cache: cache.Options{
			ContactsTTL:     cfg.CacheTTL.Std(),
			PlatformUserTTL: cfg.CacheTTL.Std(),
			PageSize:        cfg.PageSize,
		},
		Logger: logger,
	}
	if database != nil {
		opts.StatusTracker = db.StatusTracker{DB: database}
	}
	return sync.NewCoordinator(client, state, opts)
}

// RequireAccount fails when no account is configured.
func (r *Runtime) RequireAccount() error {
	if r.Config.Account == "" {
		return fmt.Errorf("no account configured: set ROLODEX_ACCOUNT or --account")
	}
	return nil
}

func (r *Runtime) Close() error {
	return errors.Join(r.State.Close(), r.DB.Close())
}
