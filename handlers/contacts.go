// ABOUTME: Address book MCP tool handlers
// ABOUTME: Implements add_contact, find_contacts and remove_contact over the local database
package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/models"
)

type ContactHandlers struct {
	db *sql.DB
}

func NewContactHandlers(database *sql.DB) *ContactHandlers {
	return &ContactHandlers{db: database}
}

type AddContactInput struct {
	Name   string `json:"name" jsonschema:"Contact name (required)"`
	Phone  string `json:"phone" jsonschema:"Contact phone number (required)"`
	Email  string `json:"email,omitempty" jsonschema:"Contact email address"`
	Source string `json:"source,omitempty" jsonschema:"device, invite or manual (default manual)"`
}

type ContactOutput struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	NormalizedPhone string `json:"normalized_phone"`
	Email           string `json:"email,omitempty"`
	Source          string `json:"source"`
	CreatedAt       string `json:"created_at"`
}

func (h *ContactHandlers) AddContact(_ context.Context, request *mcp.CallToolRequest, input AddContactInput) (*mcp.CallToolResult, ContactOutput, error) {
	if input.Name == "" {
		return nil, ContactOutput{}, fmt.Errorf("name is required")
	}
	if input.Phone == "" {
		return nil, ContactOutput{}, fmt.Errorf("phone is required")
	}
	source, err := models.ParseSource(input.Source)
	if err != nil {
		return nil, ContactOutput{}, err
	}

	entry, err := db.AddContact(h.db, input.Name, input.Phone, input.Email, source)
	if err != nil {
		return nil, ContactOutput{}, fmt.Errorf("failed to add contact: %w", err)
	}
	return nil, contactToOutput(entry), nil
}

type FindContactsInput struct {
	Query string `json:"query,omitempty" jsonschema:"Search query (name, phone or email)"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of results (default 10)"`
}

type FindContactsOutput struct {
	Contacts []ContactOutput `json:"contacts"`
}

func (h *ContactHandlers) FindContacts(_ context.Context, request *mcp.CallToolRequest, input FindContactsInput) (*mcp.CallToolResult, FindContactsOutput, error) {
	limit := input.Limit
	if limit == 0 {
		limit = 10
	}

	entries, err := db.FindContacts(h.db, input.Query, limit)
	if err != nil {
		return nil, FindContactsOutput{}, fmt.Errorf("failed to find contacts: %w", err)
	}

	result := make([]ContactOutput, len(entries))
	for i := range entries {
		result[i] = contactToOutput(&entries[i])
	}
	return nil, FindContactsOutput{Contacts: result}, nil
}

type RemoveContactInput struct {
	ID string `json:"id" jsonschema:"Contact ID (required)"`
}

type RemoveContactOutput struct {
	Removed bool `json:"removed"`
}

func (h *ContactHandlers) RemoveContact(_ context.Context, request *mcp.CallToolRequest, input RemoveContactInput) (*mcp.CallToolResult, RemoveContactOutput, error) {
	if input.ID == "" {
		return nil, RemoveContactOutput{}, fmt.Errorf("id is required")
	}
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, RemoveContactOutput{}, fmt.Errorf("invalid id: %w", err)
	}
	removed, err := db.DeleteContact(h.db, id)
	if err != nil {
		return nil, RemoveContactOutput{}, err
	}
	return nil, RemoveContactOutput{Removed: removed}, nil
}

func contactToOutput(e *db.AddressBookEntry) ContactOutput {
	return ContactOutput{
		ID:              e.ID.String(),
		Name:            e.DisplayName,
		Phone:           e.Phone,
		NormalizedPhone: e.NormalizedPhone,
		Email:           e.Email,
		Source:          string(e.Source),
		CreatedAt:       e.CreatedAt.Format(time.RFC3339),
	}
}
