// ABOUTME: Database operations for the sync_state table
// ABOUTME: Tracks reconciliation status and last successful pass per account
package db

import (
	"database/sql"
	"fmt"

	"github.com/harperreed/rolodex/models"
)

// GetSyncState retrieves the sync state for an account, nil when never synced.
func GetSyncState(db *sql.DB, account string) (*models.SyncState, error) {
	row := db.QueryRow(`
		SELECT account, last_sync_time, status, error_message, created_at, updated_at
		FROM sync_state
		WHERE account = ?
	`, account)
	state, err := scanSyncState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return state, nil
}

// UpdateSyncStatus records a status change. Moving to idle also stamps the
// last successful sync time and clears any error.
func UpdateSyncStatus(db *sql.DB, account, status string, errorMsg *string) error {
	var errorMsgVal sql.NullString
	if errorMsg != nil {
		errorMsgVal = sql.NullString{String: *errorMsg, Valid: true}
	}

	query := `
		INSERT INTO sync_state (account, status, error_message, created_at, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(account) DO UPDATE SET
			status = excluded.status,
			error_message = excluded.error_message,
			updated_at = CURRENT_TIMESTAMP
	`
	if status == models.SyncStatusIdle {
		query = `
			INSERT INTO sync_state (account, last_sync_time, status, error_message, created_at, updated_at)
			VALUES (?, CURRENT_TIMESTAMP, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(account) DO UPDATE SET
				last_sync_time = CURRENT_TIMESTAMP,
				status = excluded.status,
				error_message = NULL,
				updated_at = CURRENT_TIMESTAMP
		`
	}

	if _, err := db.Exec(query, account, status, errorMsgVal); err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	return nil
}

// GetAllSyncStates retrieves the sync state of every account.
func GetAllSyncStates(db *sql.DB) ([]models.SyncState, error) {
	rows, err := db.Query(`
		SELECT account, last_sync_time, status, error_message, created_at, updated_at
		FROM sync_state
		ORDER BY account
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []models.SyncState
	for rows.Next() {
		state, err := scanSyncState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		states = append(states, *state)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync states: %w", err)
	}

	return states, nil
}

func scanSyncState(row rowScanner) (*models.SyncState, error) {
	var state models.SyncState
	var lastSyncTime sql.NullTime
	var status sql.NullString
	var errorMessage sql.NullString

	if err := row.Scan(&state.Account, &lastSyncTime, &status, &errorMessage, &state.CreatedAt, &state.UpdatedAt); err != nil {
		return nil, err
	}
	if lastSyncTime.Valid {
		state.LastSyncTime = &lastSyncTime.Time
	}
	state.Status = status.String
	state.ErrorMessage = errorMessage.String
	return &state, nil
}

// StatusTracker records coordinator status transitions in sync_state.
type StatusTracker struct {
	DB *sql.DB
}

func (t StatusTracker) UpdateSyncStatus(account, status string, errorMsg *string) error {
	return UpdateSyncStatus(t.DB, account, status, errorMsg)
}
