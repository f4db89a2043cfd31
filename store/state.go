// ABOUTME: Typed access to the persisted ledger, session history and weekly counts
// ABOUTME: Values are JSON documents stored under per-account keys
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harperreed/rolodex/models"
)

const (
	contactsAddedPrefix   = "contacts_added:"
	sessionsHistoryPrefix = "sessions_history:"
	weeklyStatsPrefix     = "weekly_stats:"

	// MaxSessions is how many sessions are kept, most recent first out.
	MaxSessions = 50
	// MaxWeeklyBuckets is how many ISO weeks of counts are kept.
	MaxWeeklyBuckets = 12
)

func ContactsAddedKey(account string) string   { return contactsAddedPrefix + account }
func SessionsHistoryKey(account string) string { return sessionsHistoryPrefix + account }
func WeeklyStatsKey(account string) string     { return weeklyStatsPrefix + account }

// AccountState is everything persisted for one account.
type AccountState struct {
	Account       string                      `json:"account"`
	ContactsAdded []models.ContactAddedRecord `json:"contacts_added"`
	Sessions      []models.SyncSession        `json:"sessions_history"`
	Weekly        []models.WeeklyBucket       `json:"weekly_stats"`
}

// StateStore owns all persisted reconciliation state. Writes are
// serialized so read-modify-write updates never interleave.
type StateStore struct {
	kv KV
	mu sync.Mutex
}

func NewStateStore(kv KV) *StateStore {
	return &StateStore{kv: kv}
}

// KV exposes the underlying backend.
func (s *StateStore) KV() KV {
	return s.kv
}

func (s *StateStore) Close() error {
	return s.kv.Close()
}

func (s *StateStore) ContactsAdded(ctx context.Context, account string) ([]models.ContactAddedRecord, error) {
	var out []models.ContactAddedRecord
	err := s.load(ctx, ContactsAddedKey(account), &out)
	return out, err
}

func (s *StateStore) Sessions(ctx context.Context, account string) ([]models.SyncSession, error) {
	var out []models.SyncSession
	err := s.load(ctx, SessionsHistoryKey(account), &out)
	return out, err
}

func (s *StateStore) WeeklyStats(ctx context.Context, account string) ([]models.WeeklyBucket, error) {
	var out []models.WeeklyBucket
	err := s.load(ctx, WeeklyStatsKey(account), &out)
	return out, err
}

// Load reads the full state of an account.
func (s *StateStore) Load(ctx context.Context, account string) (AccountState, error) {
	state := AccountState{Account: account}
	var err error
	if state.ContactsAdded, err = s.ContactsAdded(ctx, account); err != nil {
		return state, err
	}
	if state.Sessions, err = s.Sessions(ctx, account); err != nil {
		return state, err
	}
	if state.Weekly, err = s.WeeklyStats(ctx, account); err != nil {
		return state, err
	}
	return state, nil
}

// Replace overwrites the full state of an account.
func (s *StateStore) Replace(ctx context.Context, state AccountState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveAll(ctx, []entry{
		{ContactsAddedKey(state.Account), state.ContactsAdded},
		{SessionsHistoryKey(state.Account), capSessions(state.Sessions)},
		{WeeklyStatsKey(state.Account), capWeekly(state.Weekly)},
	})
}

// AppendSession records a session: its records join the ledger, the session
// joins the history and the week bucket grows by the record count.
func (s *StateStore) AppendSession(ctx context.Context, account string, session models.SyncSession, weekKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.ContactAddedRecord
	if err := s.load(ctx, ContactsAddedKey(account), &records); err != nil {
		return err
	}
	var sessions []models.SyncSession
	if err := s.load(ctx, SessionsHistoryKey(account), &sessions); err != nil {
		return err
	}
	var weekly []models.WeeklyBucket
	if err := s.load(ctx, WeeklyStatsKey(account), &weekly); err != nil {
		return err
	}

	records = append(records, session.AddedRecords...)
	sessions = capSessions(append(sessions, session))
	weekly = capWeekly(incrementBucket(weekly, weekKey, len(session.AddedRecords)))

	return s.saveAll(ctx, []entry{
		{ContactsAddedKey(account), records},
		{SessionsHistoryKey(account), sessions},
		{WeeklyStatsKey(account), weekly},
	})
}

// RemoveByRemoteIDs drops ledger records whose remote id is listed.
// Sessions and weekly counts are history and stay as they were.
func (s *StateStore) RemoveByRemoteIDs(ctx context.Context, account string, remoteIDs []string) (int, error) {
	if len(remoteIDs) == 0 {
		return 0, nil
	}
	drop := make(map[string]bool, len(remoteIDs))
	for _, id := range remoteIDs {
		drop[id] = true
	}
	return s.filterRecords(ctx, account, func(r models.ContactAddedRecord) bool {
		return r.RemoteID == "" || !drop[r.RemoteID]
	})
}

// PruneOlderThan drops ledger records added before cutoff.
func (s *StateStore) PruneOlderThan(ctx context.Context, account string, cutoff time.Time) (int, error) {
	return s.filterRecords(ctx, account, func(r models.ContactAddedRecord) bool {
		return !r.AddedAt.Before(cutoff)
	})
}

func (s *StateStore) filterRecords(ctx context.Context, account string, keep func(models.ContactAddedRecord) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []models.ContactAddedRecord
	if err := s.load(ctx, ContactsAddedKey(account), &records); err != nil {
		return 0, err
	}
	kept := records[:0]
	for _, r := range records {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	removed := len(records) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(ctx, ContactsAddedKey(account), kept)
}

// Accounts lists accounts with persisted ledgers when the backend can
// enumerate keys.
func (s *StateStore) Accounts(ctx context.Context) ([]string, error) {
	lister, ok := s.kv.(Lister)
	if !ok {
		return nil, fmt.Errorf("state backend cannot list keys")
	}
	keys, err := lister.Keys(ctx, contactsAddedPrefix)
	if err != nil {
		return nil, err
	}
	accounts := make([]string, 0, len(keys))
	for _, k := range keys {
		accounts = append(accounts, strings.TrimPrefix(k, contactsAddedPrefix))
	}
	return accounts, nil
}

func (s *StateStore) load(ctx context.Context, key string, out any) error {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *StateStore) save(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

type entry struct {
	key   string
	value any
}

// saveAll writes entries all-or-nothing. Backends without Batcher get
// sequential writes, and on failure the keys already written are put back
// to their previous values.
func (s *StateStore) saveAll(ctx context.Context, entries []entry) error {
	encoded := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e.value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.key, err)
		}
		encoded[e.key] = data
	}

	if batcher, ok := s.kv.(Batcher); ok {
		if err := batcher.SetMany(ctx, encoded); err != nil {
			return fmt.Errorf("write state: %w", err)
		}
		return nil
	}

	type prior struct {
		key    string
		value  []byte
		exists bool
	}
	priors := make([]prior, 0, len(entries))
	for _, e := range entries {
		data, err := s.kv.Get(ctx, e.key)
		switch {
		case errors.Is(err, ErrNotFound):
			priors = append(priors, prior{key: e.key})
		case err != nil:
			return fmt.Errorf("read %s: %w", e.key, err)
		default:
			priors = append(priors, prior{key: e.key, value: data, exists: true})
		}
	}

	for i, e := range entries {
		if err := s.kv.Set(ctx, e.key, encoded[e.key]); err != nil {
			restoreCtx := context.WithoutCancel(ctx)
			for _, p := range priors[:i] {
				if p.exists {
					_ = s.kv.Set(restoreCtx, p.key, p.value)
				} else {
					_ = s.kv.Delete(restoreCtx, p.key)
				}
			}
			return fmt.Errorf("write %s: %w", e.key, err)
		}
	}
	return nil
}

func capSessions(sessions []models.SyncSession) []models.SyncSession {
	if len(sessions) > MaxSessions {
		sessions = sessions[len(sessions)-MaxSessions:]
	}
	return sessions
}

func incrementBucket(weekly []models.WeeklyBucket, weekKey string, n int) []models.WeeklyBucket {
	for i := range weekly {
		if weekly[i].ISOWeekKey == weekKey {
			weekly[i].Count += n
			return weekly
		}
	}
	return append(weekly, models.WeeklyBucket{ISOWeekKey: weekKey, Count: n})
}

// capWeekly keeps the most recent weeks, ordered oldest first.
func capWeekly(weekly []models.WeeklyBucket) []models.WeeklyBucket {
	sort.Slice(weekly, func(i, j int) bool { return weekly[i].ISOWeekKey < weekly[j].ISOWeekKey })
	if len(weekly) > MaxWeeklyBuckets {
		weekly = weekly[len(weekly)-MaxWeeklyBuckets:]
	}
	return weekly
}
