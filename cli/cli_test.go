// ABOUTME: Tests for the CLI commands
// ABOUTME: Runs commands against a temp SQLite database and the fake content API, capturing output
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/rolodex/config"
	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/handlers"
	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/remote"
	"github.com/harperreed/rolodex/remote/remotetest"
	"github.com/harperreed/rolodex/stats"
	"github.com/harperreed/rolodex/store"
)

func setupRuntime(t *testing.T) (*Runtime, *remotetest.Server, *bytes.Buffer) {
	t.Helper()
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)

	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "rolodex.db"))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Account = "acct"
	cfg.APIURL = srv.URL
	cfg.ChunkDelay = config.Duration(-1)

	logger := log.New(os.Stderr)
	out := &bytes.Buffer{}
	rt := &Runtime{
		Config: cfg,
		DB:     database,
		State:  store.NewStateStore(db.NewSQLiteKV(database)),
		Client: remote.NewHTTPClient(srv.URL, "", nil),
		Logger: logger,
		Out:    out,
	}
	rt.Coordinator = NewCoordinator(rt.Client, rt.State, database, cfg, logger)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, srv, out
}

func writeSnapshot(t *testing.T, dir string, snap map[string]any) string {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	path := filepath.Join(dir, "contacts.json")
	require.NoError(t, os.WriteFile(path, data, 0600))
	return path
}

func TestReconcileCommandWithSnapshot(t *testing.T) {
	rt, srv, out := setupRuntime(t)
	srv.AddContact("acct", "Existing", "+15550000001")
	srv.AddPlatformUser("Member", "+15550000002")

	path := writeSnapshot(t, t.TempDir(), map[string]any{
		"account": "acct",
		"contacts": []map[string]any{
			{"name": "Existing", "phone": "+1 555 000 0001", "source": "device"},
			{"name": "Member", "phone": "+1 555 000 0002", "source": "device"},
			{"name": "New", "phone": "+1 555 000 0003", "source": "device"},
		},
	})

	require.NoError(t, ReconcileCommand(context.Background(), rt, []string{"--snapshot", path}))
	text := out.String()
	assert.Contains(t, text, "✓ Created: 1")
	assert.Contains(t, text, "Already remote: 1")
	assert.Contains(t, text, "Platform users: 1")
	assert.Contains(t, text, "Member (+15550000002)")
	assert.Len(t, srv.Contacts(), 2)

	state, err := db.GetSyncState(rt.DB, "acct")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, models.SyncStatusIdle, state.Status)
	assert.NotNil(t, state.LastSyncTime)

	out.Reset()
	require.NoError(t, ReconcileCommand(context.Background(), rt, []string{"--snapshot", path, "--json"}))
	var report handlers.ReportOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Empty(t, report.Created)
	assert.Len(t, report.AlreadyRemote, 2)
}

func TestReconcileCommandSnapshotAccountMismatch(t *testing.T) {
	rt, srv, _ := setupRuntime(t)
	path := writeSnapshot(t, t.TempDir(), map[string]any{
		"account":  "someone-else",
		"contacts": []map[string]any{{"name": "New", "phone": "+15550000003"}},
	})

	err := ReconcileCommand(context.Background(), rt, []string{"--snapshot", path})
	assert.ErrorContains(t, err, "someone-else")
	assert.Zero(t, srv.CreateCalls())
}

func TestLoadLocalsSourcesAreExclusive(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	snapshot := "contacts.json"
	fromGoogle := true
	asJSON := false

	_, err := loadLocals(context.Background(), rt, sourceFlags{snapshot: &snapshot, fromGoogle: &fromGoogle, asJSON: &asJSON})
	assert.ErrorContains(t, err, "mutually exclusive")
}

func TestReconcileCommandDefaultsToAddressBook(t *testing.T) {
	rt, srv, out := setupRuntime(t)
	require.NoError(t, AddContactCommand(rt, []string{"--name", "Ada", "--phone", "+1 (555) 000-0009", "--source", "invite"}))
	out.Reset()

	require.NoError(t, CreateCommand(context.Background(), rt, nil))
	assert.Contains(t, out.String(), "✓ Created: 1")
	require.Len(t, srv.Contacts(), 1)
	assert.Equal(t, "+15550000009", srv.Contacts()[0].Phone)
}

func TestReconcileCommandRequiresAccount(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	rt.Config.Account = ""
	assert.ErrorContains(t, ReconcileCommand(context.Background(), rt, nil), "no account configured")
}

func TestAddressBookCommands(t *testing.T) {
	rt, _, out := setupRuntime(t)

	require.NoError(t, AddContactCommand(rt, []string{"--name", "Grace", "--phone", "555 000 0010", "--email", "grace@example.com"}))
	assert.Contains(t, out.String(), "✓ Contact added: Grace")

	assert.ErrorIs(t, AddContactCommand(rt, []string{"--name", "Again", "--phone", "555 000 0010"}), db.ErrDuplicatePhone)
	assert.Error(t, AddContactCommand(rt, []string{"--name", "NoPhone"}))
	assert.Error(t, AddContactCommand(rt, []string{"--name", "Bad", "--phone", "5550000011", "--source", "carrier-pigeon"}))

	out.Reset()
	require.NoError(t, ListContactsCommand(rt, []string{"--query", "grace"}))
	assert.Contains(t, out.String(), "grace@example.com")
	assert.Contains(t, out.String(), "Total: 1 contact(s)")

	entries, err := db.FindContacts(rt.DB, "grace", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	out.Reset()
	require.NoError(t, RemoveContactCommand(rt, []string{entries[0].ID.String()}))
	assert.Contains(t, out.String(), "✓ Contact removed")
	assert.Error(t, RemoveContactCommand(rt, []string{entries[0].ID.String()}))
	assert.Error(t, RemoveContactCommand(rt, []string{"not-a-uuid"}))

	out.Reset()
	require.NoError(t, ListContactsCommand(rt, nil))
	assert.Contains(t, out.String(), "No contacts found")
}

func TestImportSnapshotCommandSkipsDuplicates(t *testing.T) {
	rt, _, out := setupRuntime(t)
	_, err := db.AddContact(rt.DB, "Existing", "+15550000001", "", models.SourceManual)
	require.NoError(t, err)

	path := writeSnapshot(t, t.TempDir(), map[string]any{
		"contacts": []map[string]any{
			{"name": "Existing", "phone": "+1 555 000 0001"},
			{"name": "New", "phone": "+1 555 000 0002", "source": "device"},
		},
	})
	require.NoError(t, ImportSnapshotCommand(rt, []string{path}))
	assert.Contains(t, out.String(), "✓ Added: 1")
	assert.Contains(t, out.String(), "✓ Already in address book: 1")

	locals, err := db.LocalContacts(rt.DB)
	require.NoError(t, err)
	assert.Len(t, locals, 2)
}

func TestDeleteAllRequiresConfirm(t *testing.T) {
	rt, srv, out := setupRuntime(t)
	srv.AddContact("acct", "One", "+15550000001")

	require.NoError(t, DeleteAllCommand(context.Background(), rt, nil))
	assert.Contains(t, out.String(), "--confirm")
	assert.Len(t, srv.Contacts(), 1)

	out.Reset()
	require.NoError(t, DeleteAllCommand(context.Background(), rt, []string{"--confirm"}))
	assert.Contains(t, out.String(), "✓ Deleted: 1")
	assert.Empty(t, srv.Contacts())
}

func TestDeleteCommand(t *testing.T) {
	rt, srv, out := setupRuntime(t)
	c := srv.AddContact("acct", "One", "+15550000001")

	assert.Error(t, DeleteCommand(context.Background(), rt, nil))

	require.NoError(t, DeleteCommand(context.Background(), rt, []string{"--json", strconv.Itoa(c.ID)}))
	var report handlers.DeleteOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, 1, report.Deleted)
	assert.Empty(t, srv.Contacts())
}

func TestStatsCommand(t *testing.T) {
	rt, _, out := setupRuntime(t)
	require.NoError(t, AddContactCommand(rt, []string{"--name", "Ada", "--phone", "5550000001", "--source", "device"}))
	require.NoError(t, ReconcileCommand(context.Background(), rt, nil))

	out.Reset()
	require.NoError(t, StatsCommand(context.Background(), rt, nil))
	text := out.String()
	assert.Contains(t, text, "Stats for acct")
	assert.Contains(t, text, "Contacts added")

	out.Reset()
	require.NoError(t, StatsCommand(context.Background(), rt, []string{"--json"}))
	var s handlers.StatsOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &s))
	assert.Equal(t, 1, s.TotalContacts)
}

func TestRenderStatsPlain(t *testing.T) {
	last := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	s := stats.Stats{
		Account:       "acct",
		TotalContacts: 12,
		ThisWeekAdded: 3,
		TotalPoints:   70,
		SessionCount:  4,
		LastSessionAt: &last,
		Weekly: []models.WeeklyBucket{
			{ISOWeekKey: "2026-09", Count: 2},
			{ISOWeekKey: "2026-10", Count: 4},
		},
		Recommendation: models.Recommendation{ShouldAddMore: true, Count: 5, Reason: "keep going"},
	}

	text := RenderStats(s, false)
	assert.Contains(t, text, "Stats for acct")
	assert.Contains(t, text, "Points            70")
	assert.Contains(t, text, "add 5 more (keep going)")
	assert.Contains(t, text, "2026-10    4 "+strings.Repeat("█", 30))
	assert.Contains(t, text, "2026-09    2 "+strings.Repeat("█", 15))

	s.Recommendation = models.Recommendation{Reason: "done for the week"}
	s.LastSessionAt = nil
	text = RenderStats(s, false)
	assert.Contains(t, text, "nothing to add (done for the week)")
	assert.Contains(t, text, "never")
}

func TestStatusCommand(t *testing.T) {
	rt, _, out := setupRuntime(t)
	require.NoError(t, StatusCommand(rt, nil))
	assert.Contains(t, out.String(), "No reconciliation has run yet")

	msg := "remote unavailable"

	require.NoError(t, db.UpdateSyncStatus(rt.DB, "acct", models.SyncStatusError, &msg))
	out.Reset()
	require.NoError(t, StatusCommand(rt, nil))
	assert.Contains(t, out.String(), "acct")
	assert.Contains(t, out.String(), "✗ remote unavailable")
}

func TestFormatTimeSince(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{5 * time.Minute, "5m ago"},
		{3 * time.Hour, "3h ago"},
		{50 * time.Hour, "2d ago"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, formatTimeSince(now.Add(-tt.ago), now))
		})
	}
}

func TestWatchFileDebouncesChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0600))
	other := filepath.Join(dir, "other.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- WatchFile(ctx, path, 20*time.Millisecond, log.New(os.Stderr), func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		_ = os.WriteFile(other, []byte("{}"), 0600)
		_ = os.WriteFile(path, []byte(`{"contacts":[]}`), 0600)
		return calls.Load() > 0
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatchCommandRequiresSnapshot(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	assert.ErrorContains(t, WatchCommand(context.Background(), rt, nil), "--snapshot")
}

func TestStartMetricsServer(t *testing.T) {
	stop, err := StartMetricsServer("", nil)
	require.NoError(t, err)
	stop()

	stop, err = StartMetricsServer("127.0.0.1:0", log.New(os.Stderr))
	require.NoError(t, err)
	stop()
}

func TestNewMCPServer(t *testing.T) {
	rt, _, _ := setupRuntime(t)
	assert.NotNil(t, NewMCPServer(rt, "test"))
}
