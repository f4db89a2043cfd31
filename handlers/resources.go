// ABOUTME: MCP resource handlers exposing reconciliation data
// ABOUTME: Serves the address book, account stats and sync state as JSON documents
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/sync"
)

const resourceScheme = "rolodex://"

// Resources lists the URIs served by ResourceHandlers.
var Resources = []*mcp.Resource{
	{URI: resourceScheme + "contacts", Name: "contacts", Description: "Local address book", MIMEType: "application/json"},
	{URI: resourceScheme + "stats", Name: "stats", Description: "Contacts added, points and next-batch recommendation", MIMEType: "application/json"},
	{URI: resourceScheme + "sync-state", Name: "sync-state", Description: "Last reconciliation status per account", MIMEType: "application/json"},
}

type ResourceHandlers struct {
	coord *sync.Coordinator
	db    *sql.DB
}

func NewResourceHandlers(coord *sync.Coordinator, database *sql.DB) *ResourceHandlers {
	return &ResourceHandlers{coord: coord, db: database}
}

// ReadResource handles resource read requests
func (h *ResourceHandlers) ReadResource(ctx context.Context, request *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := request.Params.URI
	if !strings.HasPrefix(uri, resourceScheme) {
		return nil, fmt.Errorf("invalid URI scheme: expected %s", resourceScheme)
	}

	var (
		data any
		err  error
	)
	switch strings.TrimPrefix(uri, resourceScheme) {
	case "contacts":
		if h.db == nil {
			return nil, fmt.Errorf("no local address book configured")
		}
		data, err = db.FindContacts(h.db, "", 1000)
	case "stats":
		data, err = h.coord.Stats(ctx)
	case "sync-state":
		if h.db == nil {
			return nil, fmt.Errorf("no local database configured")
		}
		data, err = db.GetAllSyncStates(h.db)
	default:
		return nil, fmt.Errorf("unknown resource: %s", uri)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", uri, err)
	}

	text, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{
		{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(text),
		},
	}}, nil
}
