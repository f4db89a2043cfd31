// ABOUTME: Entry point for the rolodex contact reconciliation CLI and MCP server
// ABOUTME: Routes to reconciliation, address book, Google and charm commands based on arguments
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/harperreed/rolodex/charm"
	"github.com/harperreed/rolodex/cli"
	"github.com/harperreed/rolodex/config"
)

const version = "0.2.0"

func main() {
	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", "", "Config file (default: ~/.local/share/rolodex/config.json)")
	account := flag.String("account", "", "Account whose contacts are reconciled (overrides ROLODEX_ACCOUNT)")
	dbPath := flag.String("db-path", "", "Address book database path (default: ~/.local/share/rolodex/rolodex.db)")
	stateDSN := flag.String("state", "", "State backend DSN: memory://, badger:///dir, postgres://..., sqlite:///file, charm://name")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (watch and mcp)")
	initOnly := flag.Bool("init", false, "Initialize database and exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging")

	// Parse global flags but don't fail on unknown (for subcommands)
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("rolodex version %s\n", version)
		os.Exit(0)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "rolodex"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	args := flag.Args()
	if len(args) == 0 && !*initOnly {
		printUsage()
		os.Exit(0)
	}

	if err := config.LoadDotEnv(); err != nil {
		logger.Warn("failed to load .env", "err", err)
	}

	// charm commands manage the synced KV store directly
	if len(args) > 0 && args[0] == "kv" {
		runKV(args[1:], logger)
		return
	}

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load config", "err", err)
	}
	if *account != "" {
		cfg.Account = *account
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *stateDSN != "" {
		cfg.StateDSN = *stateDSN
	}

	cli.RegisterBackends()
	rt, err := cli.OpenRuntime(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to start", "err", err)
	}
	defer func() { _ = rt.Close() }()

	if *initOnly {
		logger.Info("Database initialized successfully", "path", cfg.DBPath)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := args[0]
	commandArgs := args[1:]

	var runErr error
	switch command {
	case "reconcile":
		runErr = cli.ReconcileCommand(ctx, rt, commandArgs)
	case "create":
		runErr = cli.CreateCommand(ctx, rt, commandArgs)
	case "delete":
		runErr = cli.DeleteCommand(ctx, rt, commandArgs)
	case "delete-all":
		runErr = cli.DeleteAllCommand(ctx, rt, commandArgs)
	case "stats":
		runErr = cli.StatsCommand(ctx, rt, commandArgs)
	case "status":
		runErr = cli.StatusCommand(rt, commandArgs)

	case "watch":
		runErr = withMetrics(*metricsAddr, logger, func() error {
			return cli.WatchCommand(ctx, rt, commandArgs)
		})

	case "mcp":
		runErr = withMetrics(*metricsAddr, logger, func() error {
			return cli.MCPCommand(ctx, rt, version)
		})

	case "crm":
		if len(commandArgs) == 0 {
			fmt.Println("Error: crm requires a subcommand")
			printUsage()
			os.Exit(1)
		}
		crmArgs := commandArgs[1:]
		switch commandArgs[0] {
		case "add-contact":
			runErr = cli.AddContactCommand(rt, crmArgs)
		case "list-contacts":
			runErr = cli.ListContactsCommand(rt, crmArgs)
		case "remove-contact":
			runErr = cli.RemoveContactCommand(rt, crmArgs)
		case "import-google":
			runErr = cli.ImportGoogleCommand(ctx, rt, crmArgs)
		case "import-snapshot":
			runErr = cli.ImportSnapshotCommand(rt, crmArgs)
		default:
			fmt.Printf("Unknown crm command: %s\n\n", commandArgs[0])
			printUsage()
			os.Exit(1)
		}

	case "sync":
		if len(commandArgs) == 0 || commandArgs[0] != "init" {
			fmt.Println("Error: sync requires the init subcommand")
			printUsage()
			os.Exit(1)
		}
		runErr = cli.SyncInitCommand(ctx, rt, commandArgs[1:])

	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if runErr != nil {
		_ = rt.Close()
		logger.Fatal("Error", "command", command, "err", runErr)
	}
}

func withMetrics(addr string, logger *log.Logger, run func() error) error {
	shutdown, err := cli.StartMetricsServer(addr, logger)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	defer shutdown()
	return run()
}

func runKV(args []string, logger *log.Logger) {
	if len(args) == 0 {
		fmt.Println("Error: kv requires a subcommand")
		printUsage()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "link":
		err = charm.LinkCommand(os.Stdout, args[1:])
	case "status":
		err = charm.StatusCommand(os.Stdout, args[1:])
	case "sync":
		err = charm.SyncNowCommand(os.Stdout, args[1:])
	case "auto":
		err = charm.SetAutoSyncCommand(os.Stdout, args[1:])
	case "wipe":
		err = charm.WipeCommand(os.Stdout, args[1:])
	default:
		fmt.Printf("Unknown kv command: %s\n\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		logger.Fatal("Error", "command", "kv "+args[0], "err", err)
	}
}

func printUsage() {
	fmt.Printf(`rolodex v%s - Contact reconciliation toolkit

USAGE:
  rolodex [global flags] <command> [subcommand] [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --config <path>        Config file (default: ~/.local/share/rolodex/config.json)
  --account <id>         Account to reconcile (or ROLODEX_ACCOUNT)
  --db-path <path>       Address book database (default: ~/.local/share/rolodex/rolodex.db)
  --state <dsn>          State backend DSN (default: the address book database)
  --metrics-addr <addr>  Serve Prometheus metrics (watch and mcp)
  --init                 Initialize database and exit
  --verbose              Enable debug logging

COMMANDS:
  reconcile              Skip known contacts and platform users, create the rest
  create                 Create contacts missing from the remote store
  delete <id>...         Delete remote contacts by id
  delete-all --confirm   Delete every remote contact of the account
  stats                  Points, weekly activity and what to do next
  status                 Last pass status per account
  watch                  Reconcile a snapshot file whenever it changes
  mcp                    Start MCP server over stdio
  crm                    Local address book commands
  sync init              Authorize Google Contacts access
  kv                     Charm KV commands for synced state

SOURCE FLAGS (reconcile, create):
  --snapshot <file>      Read contacts from a JSON snapshot
  --from-google          Read contacts from Google Contacts
  --json                 Print the report as JSON
  (default: the local address book)

WATCH:
  rolodex watch --snapshot <file> [--debounce 1s]

CRM COMMANDS:
  rolodex crm add-contact      Add a contact to the address book
    --name <name>                Contact name (required)
    --phone <phone>              Phone number (required)
    --email <email>              Email address
    --source <source>            device, invite or manual (default: manual)

  rolodex crm list-contacts    List address book contacts
    --query <text>               Search by name, phone or email
    --limit <n>                  Max results (default: 50)

  rolodex crm remove-contact <id>     Remove a contact from the address book
  rolodex crm import-google           Copy Google contacts into the address book
  rolodex crm import-snapshot <file>  Copy a JSON snapshot into the address book

KV COMMANDS:
  rolodex kv link        Link this device to the charm server
  rolodex kv status      Show charm KV status
  rolodex kv sync        Sync now
  rolodex kv auto --enable|--disable  Toggle auto sync
  rolodex kv wipe --confirm  Remove all synced keys

EXAMPLES:
  # Reconcile the local address book
  rolodex --account acct-42 reconcile

  # Reconcile a snapshot and keep state in postgres
  rolodex --state postgres://localhost/rolodex reconcile --snapshot contacts.json

  # Start MCP server
  rolodex mcp

`, version)
}
