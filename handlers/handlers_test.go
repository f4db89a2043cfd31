// ABOUTME: Tests for the MCP tool and resource handlers
// ABOUTME: Drives a real coordinator against the fake content API and a temp SQLite address book
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/remote"
	"github.com/harperreed/rolodex/remote/remotetest"
	"github.com/harperreed/rolodex/store"
	"github.com/harperreed/rolodex/sync"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func setupCoordinator(t *testing.T) (*sync.Coordinator, *remotetest.Server) {
	t.Helper()
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	coord := sync.NewCoordinator(
		remote.NewHTTPClient(srv.URL, "", nil),
		store.NewStateStore(store.NewMemoryKV()),
		sync.CoordinatorOptions{Account: "acct", Batch: sync.BatchOptions{ChunkDelay: -1}},
	)
	return coord, srv
}

func TestAddFindRemoveContact(t *testing.T) {
	h := NewContactHandlers(setupTestDB(t))
	ctx := context.Background()

	_, added, err := h.AddContact(ctx, nil, AddContactInput{Name: "Alice", Phone: "+1 555 000 0001", Source: "invite"})
	require.NoError(t, err)
	assert.Equal(t, "+15550000001", added.NormalizedPhone)
	assert.Equal(t, "invite", added.Source)

	_, _, err = h.AddContact(ctx, nil, AddContactInput{Name: "Alice", Phone: "+15550000001"})
	assert.ErrorIs(t, err, db.ErrDuplicatePhone)

	_, _, err = h.AddContact(ctx, nil, AddContactInput{Name: "Nobody"})
	assert.Error(t, err)

	_, found, err := h.FindContacts(ctx, nil, FindContactsInput{Query: "ali"})
	require.NoError(t, err)
	require.Len(t, found.Contacts, 1)
	assert.Equal(t, added.ID, found.Contacts[0].ID)

	_, removed, err := h.RemoveContact(ctx, nil, RemoveContactInput{ID: added.ID})
	require.NoError(t, err)
	assert.True(t, removed.Removed)

	_, _, err = h.RemoveContact(ctx, nil, RemoveContactInput{ID: "not-a-uuid"})
	assert.Error(t, err)
}

func TestReconcileContactsTool(t *testing.T) {
	coord, srv := setupCoordinator(t)
	srv.AddContact("acct", "Existing", "+15550000001")
	srv.AddPlatformUser("Member", "+15550000002")
	h := NewReconcileHandlers(coord, nil)

	input := ReconcileInput{Contacts: []ContactInput{
		{Name: "Existing", Phone: "+1 555 000 0001", Source: "device"},
		{Name: "Member", Phone: "+1 555 000 0002", Source: "device"},
		{Name: "New", Phone: "+1 555 000 0003", Source: "device"},
		{Name: "No Phone", Phone: "n/a"},
	}}

	_, out, err := h.ReconcileContacts(context.Background(), nil, input)
	require.NoError(t, err)

	require.Len(t, out.Created, 1)
	assert.Equal(t, "New", out.Created[0].Name)
	assert.NotEmpty(t, out.Created[0].RemoteID)
	require.Len(t, out.AlreadyRemote, 1)
	assert.Equal(t, "+15550000001", out.AlreadyRemote[0].Phone)
	require.Len(t, out.AlreadyPlatformUser, 1)
	assert.Equal(t, "Member", out.AlreadyPlatformUser[0].Name)
	assert.Equal(t, []string{"No Phone"}, out.Skipped)
	assert.Empty(t, out.Failed)
	assert.NotEmpty(t, out.SessionID)
	assert.Equal(t, 5, out.PointsAwarded)

	_, again, err := h.ReconcileContacts(context.Background(), nil, input)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Empty(t, again.SessionID)
	assert.Len(t, again.AlreadyRemote, 2)
}

func TestReconcileFailuresHideTransportDetail(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	srv.CreateHook = func(call int, phone string) int {
		if phone == "+15550000001" {
			time.Sleep(300 * time.Millisecond)
			return 0
		}
		return 500
	}
	coord := sync.NewCoordinator(
		remote.NewHTTPClient(srv.URL, "", nil),
		store.NewStateStore(store.NewMemoryKV()),
		sync.CoordinatorOptions{Account: "acct", Batch: sync.BatchOptions{ChunkDelay: -1, RequestTimeout: 30 * time.Millisecond}},
	)
	h := NewReconcileHandlers(coord, nil)

	_, out, err := h.CreateContacts(context.Background(), nil, ReconcileInput{Contacts: []ContactInput{
		{Name: "Slow", Phone: "+1 555 000 0001", Source: "device"},
		{Name: "Broken", Phone: "+1 555 000 0002", Source: "device"},
	}})
	require.NoError(t, err)
	require.Len(t, out.Failed, 2)

	byName := map[string]FailureOutput{}
	for _, f := range out.Failed {
		byName[f.Name] = f
	}
	assert.Equal(t, string(models.ErrorKindTimeout), byName["Slow"].Kind)
	assert.Equal(t, models.ErrorKindTimeout.Message(), byName["Slow"].Error)
	assert.Equal(t, string(models.ErrorKindRejected), byName["Broken"].Kind)
	assert.Equal(t, models.ErrorKindRejected.Message(), byName["Broken"].Error)

	for _, f := range out.Failed {
		assert.NotContains(t, f.Error, srv.URL)
		assert.NotContains(t, f.Error, "/api/contacts")
		assert.NotContains(t, f.Error, "http")
		assert.NotContains(t, f.Error, "deadline")
	}
}

func TestReconcileRejectsBadInput(t *testing.T) {
	coord, _ := setupCoordinator(t)
	h := NewReconcileHandlers(coord, nil)
	ctx := context.Background()

	_, _, err := h.ReconcileContacts(ctx, nil, ReconcileInput{})
	assert.Error(t, err)

	_, _, err = h.ReconcileContacts(ctx, nil, ReconcileInput{UseAddressBook: true})
	assert.Error(t, err)

	_, _, err = h.CreateContacts(ctx, nil, ReconcileInput{Contacts: []ContactInput{{Name: "A", Phone: "1", Source: "fax"}}})
	assert.Error(t, err)
}

func TestCreateFromAddressBook(t *testing.T) {
	coord, srv := setupCoordinator(t)
	database := setupTestDB(t)
	_, err := db.AddContact(database, "Alice", "+15550000001", "", models.SourceManual)
	require.NoError(t, err)
	_, err = db.AddContact(database, "Bob", "+15550000002", "", models.SourceManual)
	require.NoError(t, err)

	h := NewReconcileHandlers(coord, database)
	_, out, err := h.CreateContacts(context.Background(), nil, ReconcileInput{UseAddressBook: true})
	require.NoError(t, err)
	assert.Len(t, out.Created, 2)
	assert.Len(t, srv.Contacts(), 2)
}

func TestDeleteTools(t *testing.T) {
	coord, srv := setupCoordinator(t)
	h := NewReconcileHandlers(coord, nil)
	ctx := context.Background()

	_, created, err := h.CreateContacts(ctx, nil, ReconcileInput{Contacts: []ContactInput{
		{Name: "A", Phone: "+15550000001"},
		{Name: "B", Phone: "+15550000002"},
		{Name: "C", Phone: "+15550000003"},
	}})
	require.NoError(t, err)
	require.Len(t, created.Created, 3)

	_, _, err = h.DeleteContacts(ctx, nil, DeleteContactsInput{})
	assert.Error(t, err)

	_, del, err := h.DeleteContacts(ctx, nil, DeleteContactsInput{RemoteIDs: []string{created.Created[0].RemoteID}})
	require.NoError(t, err)
	assert.Equal(t, 1, del.Deleted)
	assert.Equal(t, 1, del.LedgerRemoved)

	_, _, err = h.DeleteAllContacts(ctx, nil, DeleteAllInput{})
	assert.Error(t, err)

	_, all, err := h.DeleteAllContacts(ctx, nil, DeleteAllInput{Confirm: true})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Deleted)
	assert.Empty(t, srv.Contacts())

	_, st, err := h.GetStats(ctx, nil, StatsInput{})
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalContacts)
	assert.Equal(t, 1, st.SessionCount)
}

func TestGetStatsTool(t *testing.T) {
	coord, _ := setupCoordinator(t)
	h := NewReconcileHandlers(coord, nil)
	ctx := context.Background()

	_, st, err := h.GetStats(ctx, nil, StatsInput{})
	require.NoError(t, err)
	assert.Equal(t, "acct", st.Account)
	assert.Nil(t, st.LastSessionAt)
	assert.Equal(t, RecommendationOutput{ShouldAddMore: true, Count: 5, Reason: "first add"}, st.Recommendation)

	contacts := make([]ContactInput, 0, 7)
	for i := 0; i < 7; i++ {
		contacts = append(contacts, ContactInput{Name: "C", Phone: "+1555000000" + string(rune('0'+i)), Source: "device"})
	}
	_, _, err = h.ReconcileContacts(ctx, nil, ReconcileInput{Contacts: contacts})
	require.NoError(t, err)

	_, st, err = h.GetStats(ctx, nil, StatsInput{})
	require.NoError(t, err)
	assert.Equal(t, 7, st.TotalContacts)
	assert.Equal(t, 49, st.TotalPoints)
	assert.NotNil(t, st.LastSessionAt)
	assert.Len(t, st.Weekly, 1)
}

func TestReadResource(t *testing.T) {
	coord, _ := setupCoordinator(t)
	database := setupTestDB(t)
	_, err := db.AddContact(database, "Alice", "+15550000001", "", models.SourceManual)
	require.NoError(t, err)
	require.NoError(t, db.UpdateSyncStatus(database, "acct", models.SyncStatusIdle, nil))

	h := NewResourceHandlers(coord, database)
	ctx := context.Background()

	for _, r := range Resources {
		res, err := h.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: r.URI}})
		require.NoError(t, err, r.URI)
		require.Len(t, res.Contents, 1)
		assert.Equal(t, r.URI, res.Contents[0].URI)
		assert.True(t, json.Valid([]byte(res.Contents[0].Text)), r.URI)
	}

	_, err = h.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "crm://contacts"}})
	assert.Error(t, err)
	_, err = h.ReadResource(ctx, &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "rolodex://deals"}})
	assert.Error(t, err)
}
