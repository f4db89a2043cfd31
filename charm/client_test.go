// ABOUTME: Tests for the Charm KV adapter and its config file
// ABOUTME: Runs against the badger-backed test client
package charm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/store"
)

func TestClientKV(t *testing.T) {
	ctx := context.Background()
	c := NewTestClient(t, false)

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, c.Set(ctx, "weekly_stats:b", []byte("2")))
	require.NoError(t, c.Set(ctx, "weekly_stats:a", []byte("1")))
	require.NoError(t, c.Set(ctx, "sessions_history:a", []byte("3")))

	got, err := c.Get(ctx, "weekly_stats:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	keys, err := c.Keys(ctx, "weekly_stats:")
	require.NoError(t, err)
	assert.Equal(t, []string{"weekly_stats:a", "weekly_stats:b"}, keys)

	require.NoError(t, c.Delete(ctx, "weekly_stats:a"))
	require.NoError(t, c.Delete(ctx, "weekly_stats:a"))
	_, err = c.Get(ctx, "weekly_stats:a")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, c.Reset())
	keys, err = c.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestClientAutoSyncOnWrite(t *testing.T) {
	ctx := context.Background()
	c := NewTestClient(t, true)
	tkv := c.kv.(*testKV)

	require.NoError(t, c.Set(ctx, "k", []byte("v")))
	require.NoError(t, c.Delete(ctx, "k"))
	_, _ = c.Get(ctx, "k")
	assert.Equal(t, 2, tkv.syncs)
}

func TestClientHonoursCanceledContext(t *testing.T) {
	c := NewTestClient(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, c.Set(ctx, "k", []byte("v")), context.Canceled)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientBacksStateStore(t *testing.T) {
	ctx := context.Background()
	state := store.NewStateStore(NewTestClient(t, false))

	session := models.SyncSession{
		SessionID: "s1",
		StartedAt: time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC),
		AddedRecords: []models.ContactAddedRecord{
			{NormalizedPhone: "+15550000001", RemoteID: "7", PointsAwarded: 5},
		},
	}
	require.NoError(t, state.AppendSession(ctx, "acct", session, "2024-11"))

	records, err := state.ContactsAdded(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "7", records[0].RemoteID)

	accounts, err := state.Accounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acct"}, accounts)
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)

	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultCharmHost, cfg.Host)
	assert.True(t, cfg.AutoSync)

	cfg.Host = "charm.example.com"
	cfg.AutoSync = false
	require.NoError(t, cfg.SaveTo(path))

	loaded, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "charm.example.com", loaded.Host)
	assert.False(t, loaded.AutoSync)
	assert.NotZero(t, loaded.StaleThreshold)
}

func TestConfigRejectsBadFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))
	_, err := LoadConfigFrom(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	require.NoError(t, os.WriteFile(path, []byte(`{"stale_threshold": -5}`), 0600))
	_, err = LoadConfigFrom(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigNormalizesHostAndDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"host": " https://charm.example.com/ ", "auto_sync": false}`), 0600))

	cfg, err := LoadConfigFrom(path)
	require.NoError(t, err)
	assert.Equal(t, "charm.example.com", cfg.Host)
	assert.Equal(t, AppName, cfg.Database)
	assert.False(t, cfg.AutoSync)

	assert.Equal(t, "work", databaseName("work", cfg))
	cfg.Database = "shared"
	assert.Equal(t, "shared", databaseName("", cfg))
}
