// ABOUTME: Local address book operations
// ABOUTME: Stores contacts keyed by normalized phone so each identity appears once
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/harperreed/rolodex/models"
)

// ErrDuplicatePhone is returned when a contact with the same normalized
// phone is already in the address book.
var ErrDuplicatePhone = errors.New("a contact with this phone number already exists")

// AddressBookEntry is a stored local contact.
type AddressBookEntry struct {
	models.LocalContact
	Phone     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AddContact stores a new local contact. The raw phone is kept for display.
func AddContact(db *sql.DB, name, phone, email string, source models.Source) (*AddressBookEntry, error) {
	contact := models.NewLocalContact(name, phone, email, source)
	if contact.DisplayName == "" {
		return nil, fmt.Errorf("name is required")
	}
	if contact.NormalizedPhone == "" {
		return nil, fmt.Errorf("phone %q has no digits", phone)
	}
	if !contact.Source.Valid() {
		return nil, fmt.Errorf("unknown contact source %q", source)
	}

	now := time.Now()
	entry := &AddressBookEntry{LocalContact: contact, Phone: strings.TrimSpace(phone), CreatedAt: now, UpdatedAt: now}

	_, err := db.Exec(`
		INSERT INTO contacts (id, name, phone, normalized_phone, email, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, contact.ID.String(), contact.DisplayName, entry.Phone, contact.NormalizedPhone, contact.Email, string(contact.Source), now, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrDuplicatePhone
		}
		return nil, fmt.Errorf("failed to add contact: %w", err)
	}
	return entry, nil
}

// GetContact returns the contact with id or nil when absent.
func GetContact(db *sql.DB, id uuid.UUID) (*AddressBookEntry, error) {
	row := db.QueryRow(`
		SELECT id, name, phone, normalized_phone, email, source, created_at, updated_at
		FROM contacts WHERE id = ?
	`, id.String())
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return entry, err
}

// FindContacts lists contacts whose name, phone or email contains query.
// An empty query lists everything. limit <= 0 means no limit.
func FindContacts(db *sql.DB, query string, limit int) ([]AddressBookEntry, error) {
	sqlQuery := `
		SELECT id, name, phone, normalized_phone, email, source, created_at, updated_at
		FROM contacts`
	var args []any
	if query = strings.TrimSpace(query); query != "" {
		like := "%" + strings.ToLower(query) + "%"
		sqlQuery += ` WHERE LOWER(name) LIKE ? OR normalized_phone LIKE ? OR LOWER(email) LIKE ?`
		args = append(args, like, "%"+models.NormalizePhone(query)+"%", like)
	}
	sqlQuery += ` ORDER BY name`
	if limit > 0 {
		sqlQuery += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query contacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AddressBookEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// LocalContacts returns the whole address book as a reconciliation batch.
func LocalContacts(db *sql.DB) ([]models.LocalContact, error) {
	entries, err := FindContacts(db, "", 0)
	if err != nil {
		return nil, err
	}
	out := make([]models.LocalContact, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.LocalContact)
	}
	return out, nil
}

// DeleteContact removes a contact. Missing ids are not an error.
func DeleteContact(db *sql.DB, id uuid.UUID) (bool, error) {
	res, err := db.Exec(`DELETE FROM contacts WHERE id = ?`, id.String())
	if err != nil {
		return false, fmt.Errorf("failed to delete contact: %w", err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*AddressBookEntry, error) {
	var (
		entry  AddressBookEntry
		id     string
		email  sql.NullString
		source string
	)
	if err := row.Scan(&id, &entry.DisplayName, &entry.Phone, &entry.NormalizedPhone, &email, &source, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid contact id %q: %w", id, err)
	}
	entry.ID = parsed
	entry.Email = email.String
	entry.Source = models.Source(source)
	return &entry, nil
}
