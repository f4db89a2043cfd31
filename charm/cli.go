// ABOUTME: CLI commands for the Charm state backend
// ABOUTME: Link, status, sync-now, auto-sync toggle and wipe for charm:// state

package charm

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/charmbracelet/charm/client"
)

// LinkCommand links this device to a Charm account.
// Charm authenticates with the device's SSH key, so there is no login step.
func LinkCommand(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("kv link", flag.ExitOnError)
	name := fs.String("name", "", "Charm KV database name (default: database from charm-config.json)")
	_ = fs.Parse(args)

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Linking to Charm Cloud (%s)...\n\n", cfg.Host)

	c, err := NewClient(*name, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Sync(); err != nil {
		return fmt.Errorf("link failed: %w", err)
	}

	id, err := c.ID()
	if err != nil {
		_, _ = fmt.Fprintln(out, "✓ Device linked (ID unavailable)")
	} else {
		_, _ = fmt.Fprintf(out, "✓ Linked to account: %s\n", id)
	}
	_, _ = fmt.Fprintf(out, "✓ Auto-sync: %v\n", cfg.AutoSync)
	_, _ = fmt.Fprintf(out, "\nUse --state charm://%s to keep reconciliation history here.\n", c.Name())
	return nil
}

// StatusCommand shows the Charm server, link status and stored accounts.
func StatusCommand(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("kv status", flag.ExitOnError)
	name := fs.String("name", "", "Charm KV database name (default: database from charm-config.json)")
	_ = fs.Parse(args)

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	_, _ = fmt.Fprintln(out, "Charm State Status")
	_, _ = fmt.Fprintln(out, "──────────────────")
	_, _ = fmt.Fprintf(out, "Server:    %s\n", cfg.Host)
	_, _ = fmt.Fprintf(out, "Database:  %s\n", databaseName(*name, cfg))
	_, _ = fmt.Fprintf(out, "Auto-sync: %v\n", cfg.AutoSync)

	cc, err := client.NewClientWithDefaults()
	if err != nil {
		_, _ = fmt.Fprintln(out, "\nStatus: Not connected")
		return nil //nolint:nilerr // not being linked is a valid state
	}
	if id, err := cc.ID(); err != nil {
		_, _ = fmt.Fprintln(out, "\nStatus: Connected (ID unavailable)")
	} else {
		_, _ = fmt.Fprintln(out, "\nStatus: Connected to Charm Cloud")
		_, _ = fmt.Fprintf(out, "ID:        %s\n", id)
	}

	c, err := NewClient(*name, cfg)
	if err != nil {
		return nil //nolint:nilerr // status is best effort once connected
	}
	defer func() { _ = c.Close() }()
	return printKeyCounts(out, c)
}

func databaseName(flagValue string, cfg *Config) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg.Database != "" {
		return cfg.Database
	}
	return AppName
}

func printKeyCounts(out io.Writer, c *Client) error {
	keys, err := c.Keys(context.Background(), "")
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Keys:      %d\n", len(keys))
	return nil
}

// SyncNowCommand performs an immediate sync.
func SyncNowCommand(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("kv sync", flag.ExitOnError)
	name := fs.String("name", "", "Charm KV database name (default: database from charm-config.json)")
	_ = fs.Parse(args)

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	c, err := NewClient(*name, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Sync(); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	_, _ = fmt.Fprintln(out, "✓ Synced")
	return nil
}

// SetAutoSyncCommand enables or disables auto-sync.
func SetAutoSyncCommand(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("kv auto", flag.ExitOnError)
	enable := fs.Bool("enable", false, "Enable auto-sync")
	disable := fs.Bool("disable", false, "Disable auto-sync")
	_ = fs.Parse(args)

	if *enable == *disable {
		_, _ = fmt.Fprintln(out, "Usage: rolodex kv auto --enable|--disable")
		return nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.SetAutoSync(*enable); err != nil {
		return fmt.Errorf("failed to update auto-sync: %w", err)
	}
	if *enable {
		_, _ = fmt.Fprintln(out, "✓ Auto-sync enabled")
	} else {
		_, _ = fmt.Fprintln(out, "✓ Auto-sync disabled")
	}
	return nil
}

// WipeCommand resets the Charm KV database, dropping every account's history.
func WipeCommand(out io.Writer, args []string) error {
	fs := flag.NewFlagSet("kv wipe", flag.ExitOnError)
	name := fs.String("name", "", "Charm KV database name (default: database from charm-config.json)")
	confirm := fs.Bool("confirm", false, "Confirm data wipe")
	_ = fs.Parse(args)

	if !*confirm {
		_, _ = fmt.Fprintln(out, "WARNING: This deletes all reconciliation history stored in Charm!")
		_, _ = fmt.Fprintln(out, "\nTo confirm, run:\n  rolodex kv wipe --confirm")
		return nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	c, err := NewClient(*name, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if err := c.Reset(); err != nil {
		return fmt.Errorf("failed to reset KV store: %w", err)
	}
	_, _ = fmt.Fprintln(out, "✓ All data wiped")
	return nil
}
