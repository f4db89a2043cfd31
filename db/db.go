// ABOUTME: Opens the SQLite file holding the local address book and reconciliation state
// ABOUTME: WAL mode with a busy timeout so the CLI, watch and mcp can share one file
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// SchemaVersion is stored in PRAGMA user_version.
	SchemaVersion = 1

	busyTimeoutMillis = 5000
)

// OpenDatabase opens (creating if needed) the database at path and applies
// the schema. The file holds phone numbers, so it and its directory are
// owner-only.
func OpenDatabase(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate", path, busyTimeoutMillis)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	// one writer; the busy timeout covers other processes
	db.SetMaxOpenConns(1)

	if err := InitSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema in %s: %w", path, err)
	}
	if err := stampVersion(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to restrict %s: %w", path, err)
	}
	return db, nil
}

func stampVersion(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than this rolodex (%d)", version, SchemaVersion)
	}
	if version == SchemaVersion {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion)); err != nil {
		return fmt.Errorf("failed to write schema version: %w", err)
	}
	return nil
}
