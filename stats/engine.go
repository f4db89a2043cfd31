// ABOUTME: Records sync sessions and derives weekly aggregates from persisted history
// ABOUTME: The only writer of session and weekly state is RecordSession
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/oklog/ulid/v2"

	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/store"
)

// Added is a contact that was created remotely in this session.
type Added struct {
	Contact  models.LocalContact
	RemoteID string
}

// Stats is the summary shown to the user.
type Stats struct {
	Account        string                `json:"account"`
	TotalContacts  int                   `json:"total_contacts"`
	ThisWeekAdded  int                   `json:"this_week_added"`
	TotalPoints    int                   `json:"total_points"`
	SessionCount   int                   `json:"session_count"`
	LastSessionAt  *time.Time            `json:"last_session_at,omitempty"`
	Weekly         []models.WeeklyBucket `json:"weekly"`
	Recommendation models.Recommendation `json:"recommendation"`
}

type Engine struct {
	store  *store.StateStore
	logger *log.Logger
}

func NewEngine(state *store.StateStore, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{store: state, logger: logger}
}

// RecordSession stamps points on the added contacts and persists a new
// session. An empty batch records nothing and returns nil.
func (e *Engine) RecordSession(ctx context.Context, account string, added []Added, at time.Time) (*models.SyncSession, error) {
	if len(added) == 0 {
		return nil, nil
	}
	session := models.SyncSession{
		SessionID:    ulid.Make().String(),
		StartedAt:    at,
		AddedRecords: make([]models.ContactAddedRecord, 0, len(added)),
	}
	for _, a := range added {
		session.AddedRecords = append(session.AddedRecords, models.ContactAddedRecord{
			ID:              a.Contact.ID,
			DisplayName:     a.Contact.DisplayName,
			NormalizedPhone: a.Contact.NormalizedPhone,
			Email:           a.Contact.Email,
			Source:          a.Contact.Source,
			RemoteID:        a.RemoteID,
			AddedAt:         at,
			PointsAwarded:   PointsFor(a.Contact.Source, len(added)),
		})
	}
	if err := e.store.AppendSession(ctx, account, session, ISOWeekKey(at)); err != nil {
		return nil, fmt.Errorf("record session: %w", err)
	}
	e.logger.Info("session recorded", "account", account, "session", session.SessionID, "added", len(added))
	return &session, nil
}

// History loads the aggregate used for recommendations.
func (e *Engine) History(ctx context.Context, account string, now time.Time) (History, error) {
	s, err := e.Stats(ctx, account, now)
	if err != nil {
		return History{}, err
	}
	return History{TotalContacts: s.TotalContacts, ThisWeekAdded: s.ThisWeekAdded, LastSessionAt: s.LastSessionAt}, nil
}

// Recommend loads history and applies RecommendNextBatch.
func (e *Engine) Recommend(ctx context.Context, account string, now time.Time) (models.Recommendation, error) {
	h, err := e.History(ctx, account, now)
	if err != nil {
		return models.Recommendation{}, err
	}
	return RecommendNextBatch(h, now), nil
}

// Stats summarizes persisted history for an account.
func (e *Engine) Stats(ctx context.Context, account string, now time.Time) (Stats, error) {
	state, err := e.store.Load(ctx, account)
	if err != nil {
		return Stats{}, fmt.Errorf("load state: %w", err)
	}
	out := Stats{
		Account:       account,
		TotalContacts: len(state.ContactsAdded),
		SessionCount:  len(state.Sessions),
		Weekly:        state.Weekly,
	}
	for _, r := range state.ContactsAdded {
		out.TotalPoints += r.PointsAwarded
	}
	thisWeek := ISOWeekKey(now)
	for _, b := range state.Weekly {
		if b.ISOWeekKey == thisWeek {
			out.ThisWeekAdded = b.Count
		}
	}
	if n := len(state.Sessions); n > 0 {
		last := state.Sessions[n-1].StartedAt
		out.LastSessionAt = &last
	}
	out.Recommendation = RecommendNextBatch(History{
		TotalContacts: out.TotalContacts,
		ThisWeekAdded: out.ThisWeekAdded,
		LastSessionAt: out.LastSessionAt,
	}, now)
	return out, nil
}
