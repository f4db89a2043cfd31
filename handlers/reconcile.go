// ABOUTME: Reconciliation MCP tool handlers
// ABOUTME: Implements reconcile_contacts, create_contacts, delete_contacts, delete_all_contacts and get_stats
package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/sync"
)

type ReconcileHandlers struct {
	coord *sync.Coordinator
	db    *sql.DB
}

// NewReconcileHandlers serves the engine operations. database may be nil,
// in which case the address book cannot be used as a contact source.
func NewReconcileHandlers(coord *sync.Coordinator, database *sql.DB) *ReconcileHandlers {
	return &ReconcileHandlers{coord: coord, db: database}
}

type ContactInput struct {
	Name   string `json:"name" jsonschema:"Contact display name"`
	Phone  string `json:"phone" jsonschema:"Phone number in any format"`
	Email  string `json:"email,omitempty" jsonschema:"Email address"`
	Source string `json:"source,omitempty" jsonschema:"device, invite or manual (default manual)"`
}

type ReconcileInput struct {
	Contacts       []ContactInput `json:"contacts,omitempty" jsonschema:"Contacts to reconcile; omit to use the local address book"`
	UseAddressBook bool           `json:"use_address_book,omitempty" jsonschema:"Reconcile every contact in the local address book"`
}

type RemoteItemOutput struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone"`
	RemoteID string `json:"remote_id,omitempty"`
}

type FailureOutput struct {
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`
	RemoteID string `json:"remote_id,omitempty"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

type RecommendationOutput struct {
	ShouldAddMore bool   `json:"should_add_more"`
	Count         int    `json:"count"`
	Reason        string `json:"reason"`
}

type ReportOutput struct {
	Created             []RemoteItemOutput   `json:"created"`
	AlreadyExisted      []RemoteItemOutput   `json:"already_existed"`
	AlreadyRemote       []RemoteItemOutput   `json:"already_remote"`
	AlreadyPlatformUser []RemoteItemOutput   `json:"already_platform_user"`
	Skipped             []string             `json:"skipped"`
	Failed              []FailureOutput      `json:"failed"`
	SessionID           string               `json:"session_id,omitempty"`
	PointsAwarded       int                  `json:"points_awarded"`
	Recommendation      RecommendationOutput `json:"recommendation"`
}

func (h *ReconcileHandlers) ReconcileContacts(ctx context.Context, request *mcp.CallToolRequest, input ReconcileInput) (*mcp.CallToolResult, ReportOutput, error) {
	locals, err := h.locals(input)
	if err != nil {
		return nil, ReportOutput{}, err
	}
	report, err := h.coord.ReconcileBatch(ctx, locals)
	if err != nil {
		return nil, ReportOutput{}, fmt.Errorf("reconcile failed: %w", err)
	}
	return nil, ReportToOutput(report), nil
}

func (h *ReconcileHandlers) CreateContacts(ctx context.Context, request *mcp.CallToolRequest, input ReconcileInput) (*mcp.CallToolResult, ReportOutput, error) {
	locals, err := h.locals(input)
	if err != nil {
		return nil, ReportOutput{}, err
	}
	report, err := h.coord.Create(ctx, locals)
	if err != nil {
		return nil, ReportOutput{}, fmt.Errorf("create failed: %w", err)
	}
	return nil, ReportToOutput(report), nil
}

func (h *ReconcileHandlers) locals(input ReconcileInput) ([]models.LocalContact, error) {
	if len(input.Contacts) == 0 {
		if !input.UseAddressBook {
			return nil, fmt.Errorf("contacts are required unless use_address_book is set")
		}
		if h.db == nil {
			return nil, fmt.Errorf("no local address book configured")
		}
		return db.LocalContacts(h.db)
	}

	locals := make([]models.LocalContact, 0, len(input.Contacts))
	for i, c := range input.Contacts {
		source, err := models.ParseSource(c.Source)
		if err != nil {
			return nil, fmt.Errorf("contact %d: %w", i, err)
		}
		locals = append(locals, models.NewLocalContact(c.Name, c.Phone, c.Email, source))
	}
	return locals, nil
}

type DeleteContactsInput struct {
	RemoteIDs []string `json:"remote_ids" jsonschema:"Remote contact ids to delete (required)"`
}

type DeleteAllInput struct {
	Confirm bool `json:"confirm" jsonschema:"Must be true to delete every remote contact of the account"`
}

type DeleteOutput struct {
	Deleted       int             `json:"deleted"`
	AlreadyAbsent int             `json:"already_absent"`
	Unknown       []string        `json:"unknown,omitempty"`
	LedgerRemoved int             `json:"ledger_removed"`
	Failed        []FailureOutput `json:"failed"`
}

func (h *ReconcileHandlers) DeleteContacts(ctx context.Context, request *mcp.CallToolRequest, input DeleteContactsInput) (*mcp.CallToolResult, DeleteOutput, error) {
	if len(input.RemoteIDs) == 0 {
		return nil, DeleteOutput{}, fmt.Errorf("remote_ids is required")
	}
	report, err := h.coord.Delete(ctx, input.RemoteIDs)
	if err != nil {
		return nil, DeleteOutput{}, fmt.Errorf("delete failed: %w", err)
	}
	return nil, DeleteReportToOutput(report), nil
}

func (h *ReconcileHandlers) DeleteAllContacts(ctx context.Context, request *mcp.CallToolRequest, input DeleteAllInput) (*mcp.CallToolResult, DeleteOutput, error) {
	if !input.Confirm {
		return nil, DeleteOutput{}, fmt.Errorf("confirm must be true")
	}
	report, err := h.coord.DeleteAll(ctx)
	if err != nil {
		return nil, DeleteOutput{}, fmt.Errorf("delete all failed: %w", err)
	}
	return nil, DeleteReportToOutput(report), nil
}

type StatsInput struct{}

type StatsOutput struct {
	Account        string               `json:"account"`
	TotalContacts  int                  `json:"total_contacts"`
	ThisWeekAdded  int                  `json:"this_week_added"`
	TotalPoints    int                  `json:"total_points"`
	SessionCount   int                  `json:"session_count"`
	LastSessionAt  *string              `json:"last_session_at,omitempty"`
	Weekly         map[string]int       `json:"weekly"`
	Recommendation RecommendationOutput `json:"recommendation"`
}

func (h *ReconcileHandlers) GetStats(ctx context.Context, request *mcp.CallToolRequest, input StatsInput) (*mcp.CallToolResult, StatsOutput, error) {
	s, err := h.coord.Stats(ctx)
	if err != nil {
		return nil, StatsOutput{}, fmt.Errorf("failed to load stats: %w", err)
	}
	out := StatsOutput{
		Account:        s.Account,
		TotalContacts:  s.TotalContacts,
		ThisWeekAdded:  s.ThisWeekAdded,
		TotalPoints:    s.TotalPoints,
		SessionCount:   s.SessionCount,
		Weekly:         make(map[string]int, len(s.Weekly)),
		Recommendation: recommendationToOutput(s.Recommendation),
	}
	if s.LastSessionAt != nil {
		ts := s.LastSessionAt.Format(time.RFC3339)
		out.LastSessionAt = &ts
	}
	for _, b := range s.Weekly {
		out.Weekly[b.ISOWeekKey] = b.Count
	}
	return nil, out, nil
}

// ReportToOutput flattens a pass report for JSON output.
func ReportToOutput(r *sync.Report) ReportOutput {
	out := ReportOutput{
		Created:             []RemoteItemOutput{},
		AlreadyExisted:      []RemoteItemOutput{},
		AlreadyRemote:       []RemoteItemOutput{},
		AlreadyPlatformUser: []RemoteItemOutput{},
		Skipped:             []string{},
		Failed:              []FailureOutput{},
		Recommendation:      recommendationToOutput(r.Recommendation),
	}
	for _, o := range r.Created {
		out.Created = append(out.Created, outcomeToOutput(o))
	}
	for _, o := range r.AlreadyExisted {
		out.AlreadyExisted = append(out.AlreadyExisted, outcomeToOutput(o))
	}
	for phone, ref := range r.AlreadyRemote {
		out.AlreadyRemote = append(out.AlreadyRemote, RemoteItemOutput{Phone: phone, RemoteID: ref.RemoteID})
	}
	for phone, ref := range r.AlreadyPlatformUser {
		out.AlreadyPlatformUser = append(out.AlreadyPlatformUser, RemoteItemOutput{Name: ref.DisplayName, Phone: phone, RemoteID: ref.RemoteID})
	}
	sortByPhone(out.AlreadyRemote)
	sortByPhone(out.AlreadyPlatformUser)
	for _, c := range r.Skipped {
		out.Skipped = append(out.Skipped, c.DisplayName)
	}
	for _, f := range r.Failed {
		out.Failed = append(out.Failed, FailureOutput{
			Name:  f.Contact.DisplayName,
			Phone: f.Contact.NormalizedPhone,
			Kind:  string(f.Kind),
			Error: f.Kind.Message(),
		})
	}
	if r.Session != nil {
		out.SessionID = r.Session.SessionID
		for _, rec := range r.Session.AddedRecords {
			out.PointsAwarded += rec.PointsAwarded
		}
	}
	return out
}

// DeleteReportToOutput flattens a delete report for JSON output.
func DeleteReportToOutput(r *sync.DeleteReport) DeleteOutput {
	out := DeleteOutput{
		Deleted:       r.Deleted,
		AlreadyAbsent: r.AlreadyAbsent,
		Unknown:       r.Unknown,
		LedgerRemoved: r.LedgerRemoved,
		Failed:        []FailureOutput{},
	}
	for _, f := range r.Failed {
		out.Failed = append(out.Failed, FailureOutput{
			Phone:    f.Ref.NormalizedPhone,
			RemoteID: f.Ref.RemoteID,
			Kind:     string(f.Kind),
			Error:    f.Kind.Message(),
		})
	}
	return out
}

func outcomeToOutput(o sync.CreateOutcome) RemoteItemOutput {
	return RemoteItemOutput{Name: o.Contact.DisplayName, Phone: o.Contact.NormalizedPhone, RemoteID: o.Ref.RemoteID}
}

func recommendationToOutput(r models.Recommendation) RecommendationOutput {
	return RecommendationOutput{ShouldAddMore: r.ShouldAddMore, Count: r.Count, Reason: r.Reason}
}

func sortByPhone(items []RemoteItemOutput) {
	sort.Slice(items, func(i, j int) bool { return items[i].Phone < items[j].Phone })
}
