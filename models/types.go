// ABOUTME: Data models for contact reconciliation
// ABOUTME: Defines local contacts, ledger records, sessions, weekly buckets and remote refs
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Source is where a local contact came from.
type Source string

const (
	SourceDevice Source = "device"
	SourceInvite Source = "invite"
	SourceManual Source = "manual"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceDevice, SourceInvite, SourceManual:
		return true
	}
	return false
}

// ParseSource converts a user-supplied string to a Source.
func ParseSource(raw string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(raw)))
	if s == "" {
		return SourceManual, nil
	}
	if !s.Valid() {
		return "", fmt.Errorf("unknown contact source %q", raw)
	}
	return s, nil
}

// LocalContact is one entry of the user's address-book snapshot.
// Edits produce a new LocalContact rather than mutating an existing one.
type LocalContact struct {
	ID              uuid.UUID `json:"id"`
	DisplayName     string    `json:"display_name"`
	NormalizedPhone string    `json:"normalized_phone"`
	Email           string    `json:"email,omitempty"`
	Source          Source    `json:"source"`
}

// NewLocalContact builds a LocalContact, normalizing the raw phone number.
func NewLocalContact(name, phone, email string, source Source) LocalContact {
	return LocalContact{
		ID:              uuid.New(),
		DisplayName:     strings.TrimSpace(name),
		NormalizedPhone: NormalizePhone(phone),
		Email:           strings.TrimSpace(email),
		Source:          source,
	}
}

// ContactAddedRecord is the permanent ledger entry for a contact added
// during a sync session. Points are fixed at record time.
type ContactAddedRecord struct {
	ID              uuid.UUID `json:"id"`
	DisplayName     string    `json:"display_name"`
	NormalizedPhone string    `json:"normalized_phone"`
	Email           string    `json:"email,omitempty"`
	Source          Source    `json:"source"`
	RemoteID        string    `json:"remote_id,omitempty"`
	AddedAt         time.Time `json:"added_at"`
	PointsAwarded   int       `json:"points_awarded"`
}

// SyncSession groups the records added by one successful batch-add.
type SyncSession struct {
	SessionID    string               `json:"session_id"`
	StartedAt    time.Time            `json:"started_at"`
	AddedRecords []ContactAddedRecord `json:"added_records"`
}

// WeeklyBucket counts contacts added during one ISO week ("YYYY-WW").
type WeeklyBucket struct {
	ISOWeekKey string `json:"iso_week_key"`
	Count      int    `json:"count"`
}

// RemoteContactRef is a contact row in the remote store matched by phone.
// DocumentID is the alternate identifier accepted by the delete endpoint.
type RemoteContactRef struct {
	RemoteID        string `json:"remote_id"`
	DocumentID      string `json:"document_id,omitempty"`
	NormalizedPhone string `json:"normalized_phone"`
}

// PlatformUserRef is a registered platform account matched by phone.
type PlatformUserRef struct {
	RemoteID        string `json:"remote_id"`
	DocumentID      string `json:"document_id,omitempty"`
	NormalizedPhone string `json:"normalized_phone"`
	DisplayName     string `json:"display_name,omitempty"`
}

// Recommendation tells the caller how many contacts to add next.
type Recommendation struct {
	ShouldAddMore bool   `json:"should_add_more"`
	Count         int    `json:"count"`
	Reason        string `json:"reason"`
}

// ErrorKind classifies a per-item failure. Already-exists and
// already-absent outcomes are successes and have no kind.
type ErrorKind string

const (
	ErrorKindNetwork                ErrorKind = "network"
	ErrorKindTimeout                ErrorKind = "timeout"
	ErrorKindConflictRetryExhausted ErrorKind = "conflict_retry_exhausted"
	ErrorKindRejected               ErrorKind = "rejected"
	ErrorKindCanceled               ErrorKind = "canceled"
)

// Message is the user-facing text for a failure kind. Underlying errors
// carry URLs and transport detail and only go to the logger.
func (k ErrorKind) Message() string {
	switch k {
	case ErrorKindNetwork:
		return "could not reach the contacts service"
	case ErrorKindTimeout:
		return "the contacts service did not answer in time"
	case ErrorKindConflictRetryExhausted:
		return "the contacts service rejected both identifiers"
	case ErrorKindRejected:
		return "the contacts service rejected the request"
	case ErrorKindCanceled:
		return "not attempted, the pass was canceled"
	default:
		return "failed"
	}
}

// Sync status constants.
const (
	SyncStatusIdle    = "idle"
	SyncStatusSyncing = "syncing"
	SyncStatusError   = "error"
)

// SyncState tracks the last reconciliation pass for an account.
type SyncState struct {
	Account      string     `json:"account"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
