// ABOUTME: Migration utility for moving reconciliation state between backends
// ABOUTME: Copies ledgers, session history and weekly counts with dry-run and backup support

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/rolodex/cli"
	"github.com/harperreed/rolodex/store"
)

type options struct {
	from    string
	to      string
	account string
	dryRun  bool
	backup  string
}

func main() {
	opts := options{}
	flag.StringVar(&opts.from, "from", "", "Source state DSN, e.g. sqlite:///path/rolodex.db (required)")
	flag.StringVar(&opts.to, "to", "", "Destination state DSN, e.g. postgres://... (required)")
	flag.StringVar(&opts.account, "account", "", "Only migrate this account (default: all)")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "Show what would happen without making changes")
	flag.StringVar(&opts.backup, "backup", "", "Write the source state to this JSON file first")
	flag.Parse()

	if opts.from == "" || opts.to == "" {
		log.Fatal("Error: -from and -to are required")
	}

	cli.RegisterBackends()
	if err := migrate(context.Background(), opts, log.Default()); err != nil {
		log.Fatal("Migration failed", "err", err)
	}

	log.Info("Migration completed successfully")
}

func migrate(ctx context.Context, opts options, logger *log.Logger) error {
	srcKV, err := store.OpenKV(opts.from)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	src := store.NewStateStore(srcKV)
	defer func() { _ = src.Close() }()

	accounts := []string{opts.account}
	if opts.account == "" {
		if accounts, err = src.Accounts(ctx); err != nil {
			return fmt.Errorf("failed to list accounts: %w", err)
		}
	}
	if len(accounts) == 0 {
		logger.Info("Source has no accounts, nothing to migrate")
		return nil
	}

	states := make([]store.AccountState, 0, len(accounts))
	for _, account := range accounts {
		state, err := src.Load(ctx, account)
		if err != nil {
			return fmt.Errorf("failed to load account %s: %w", account, err)
		}
		logger.Info("Loaded account",
			"account", account,
			"contacts", len(state.ContactsAdded),
			"sessions", len(state.Sessions),
			"weeks", len(state.Weekly))
		states = append(states, state)
	}

	if opts.backup != "" && !opts.dryRun {
		if err := writeBackup(opts.backup, states); err != nil {
			return err
		}
		logger.Info("Backup created", "path", opts.backup)
	}

	if opts.dryRun {
		for _, state := range states {
			logger.Info("[DRY RUN] Would replace destination state", "account", state.Account)
		}
		return nil
	}

	dstKV, err := store.OpenKV(opts.to)
	if err != nil {
		return fmt.Errorf("failed to open destination: %w", err)
	}
	dst := store.NewStateStore(dstKV)
	defer func() { _ = dst.Close() }()

	for _, state := range states {
		if err := dst.Replace(ctx, state); err != nil {
			return fmt.Errorf("failed to write account %s: %w", state.Account, err)
		}
		logger.Info("Migrated account", "account", state.Account)
	}
	return nil
}

type backupFile struct {
	CreatedAt time.Time            `json:"created_at"`
	Accounts  []store.AccountState `json:"accounts"`
}

func writeBackup(path string, states []store.AccountState) error {
	data, err := json.MarshalIndent(backupFile{CreatedAt: time.Now().UTC(), Accounts: states}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}
	return nil
}
