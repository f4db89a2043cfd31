// ABOUTME: SQLite-backed key-value store for reconciliation state
// ABOUTME: Lets the address book and persisted state share one database file
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/harperreed/rolodex/store"
)

type SQLiteKV struct {
	db    *sql.DB
	owned bool
}

// NewSQLiteKV wraps an open database. Close leaves it open.
func NewSQLiteKV(db *sql.DB) *SQLiteKV {
	return &SQLiteKV{db: db}
}

// OpenSQLiteKV opens the database named by a sqlite:// DSN.
func OpenSQLiteKV(dsn string) (store.KV, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse sqlite dsn: %w", err)
	}
	path := store.DSNPath(parsed)
	if path == "" {
		return nil, fmt.Errorf("sqlite dsn %q has no path", dsn)
	}
	database, err := OpenDatabase(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteKV{db: database, owned: true}, nil
}

func (k *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := k.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

const upsertKV = `
	INSERT INTO kv_state (key, value, updated_at)
	VALUES (?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(key) DO UPDATE SET
		value = excluded.value,
		updated_at = CURRENT_TIMESTAMP
`

func (k *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	if _, err := k.db.ExecContext(ctx, upsertKV, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// SetMany writes every value inside one transaction.
func (k *SQLiteKV) SetMany(ctx context.Context, values map[string][]byte) error {
	tx, err := k.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for key, value := range values {
		if _, err := tx.ExecContext(ctx, upsertKV, key, value); err != nil {
			return fmt.Errorf("failed to write %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (k *SQLiteKV) Delete(ctx context.Context, key string) error {
	_, err := k.db.ExecContext(ctx, `DELETE FROM kv_state WHERE key = ?`, key)
	return err
}

func (k *SQLiteKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := k.db.QueryContext(ctx, `SELECT key FROM kv_state WHERE substr(key, 1, ?) = ? ORDER BY key`, len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (k *SQLiteKV) Close() error {
	if !k.owned {
		return nil
	}
	return k.db.Close()
}
