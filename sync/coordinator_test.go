// ABOUTME: End-to-end tests for reconciliation passes against the fake content API
// ABOUTME: Covers idempotence, warm failure, single-flight and ledger upkeep
package sync

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/remote"
	"github.com/harperreed/rolodex/remote/remotetest"
	"github.com/harperreed/rolodex/stats"
	"github.com/harperreed/rolodex/store"
)

type recordedStatus struct {
	status string
	msg    string
}

type statusLog struct {
	entries []recordedStatus
}

func (s *statusLog) UpdateSyncStatus(account, status string, errorMsg *string) error {
	entry := recordedStatus{status: status}
	if errorMsg != nil {
		entry.msg = *errorMsg
	}
	s.entries = append(s.entries, entry)
	return nil
}

func newCoordinator(t *testing.T, srv *remotetest.Server, opts CoordinatorOptions) (*Coordinator, *store.StateStore) {
	t.Helper()
	state := store.NewStateStore(store.NewMemoryKV())
	opts.Account = "acct"
	opts.Batch.ChunkDelay = -1
	return NewCoordinator(remote.NewHTTPClient(srv.URL, "", nil), state, opts), state
}

func TestReconcileBatchIsIdempotent(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	srv.AddContact("acct", "Existing", "+15550000001")
	srv.AddPlatformUser("Member", "+15550000002")

	coord, state := newCoordinator(t, srv, CoordinatorOptions{})
	locals := []models.LocalContact{
		models.NewLocalContact("Existing", "+1 555 000 0001", "", models.SourceDevice),
		models.NewLocalContact("Member", "+1 555 000 0002", "", models.SourceDevice),
		models.NewLocalContact("New One", "+1 555 000 0003", "", models.SourceDevice),
		models.NewLocalContact("New Two", "+1 555 000 0004", "", models.SourceInvite),
	}

	report, err := coord.ReconcileBatch(context.Background(), locals)
	require.NoError(t, err)
	assert.Len(t, report.Created, 2)
	assert.Len(t, report.AlreadyRemote, 1)
	assert.Len(t, report.AlreadyPlatformUser, 1)
	assert.Empty(t, report.Failed)
	require.NotNil(t, report.Session)
	assert.Len(t, report.Session.AddedRecords, 2)
	assert.Equal(t, StateIdle, coord.State())

	again, err := coord.ReconcileBatch(context.Background(), locals)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Nil(t, again.Session)
	assert.Len(t, again.AlreadyRemote, 3)
	assert.Len(t, srv.Contacts(), 3, "second pass creates nothing")

	sessions, err := state.Sessions(context.Background(), "acct")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
	assert.Same(t, again, coord.LastReport())
}

func TestReconcileBatchWarmFailureChangesNothing(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	srv.ListHook = func(collection string, page int) int { return http.StatusForbidden }
	tracker := &statusLog{}

	coord, state := newCoordinator(t, srv, CoordinatorOptions{StatusTracker: tracker})
	_, err := coord.ReconcileBatch(context.Background(), []models.LocalContact{
		models.NewLocalContact("a", "+15550000001", "", models.SourceManual),
	})
	require.ErrorIs(t, err, ErrWarmFailed)
	assert.Zero(t, srv.CreateCalls())

	loaded, err := state.Load(context.Background(), "acct")
	require.NoError(t, err)
	assert.Empty(t, loaded.ContactsAdded)
	assert.Empty(t, loaded.Sessions)

	require.NotEmpty(t, tracker.entries)
	last := tracker.entries[len(tracker.entries)-1]
	assert.Equal(t, models.SyncStatusError, last.status)
	assert.Contains(t, last.msg, "cache warm failed")
}

func TestReconcileBatchRejectsConcurrentPass(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	srv.CreateHook = func(call int, phone string) int {
		entered <- struct{}{}
		<-release
		return 0
	}

	coord, _ := newCoordinator(t, srv, CoordinatorOptions{Policy: Reject})
	done := make(chan error, 1)
	go func() {
		_, err := coord.ReconcileBatch(context.Background(), []models.LocalContact{
			models.NewLocalContact("a", "+15550000001", "", models.SourceManual),
		})
		done <- err
	}()

	<-entered
	assert.Equal(t, StateSyncing, coord.State())
	_, err := coord.ReconcileBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)

	close(release)
	require.NoError(t, <-done)
}

func TestReconcileBatchWaitPolicyQueues(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	srv.CreateHook = func(call int, phone string) int {
		if call == 1 {
			entered <- struct{}{}
			<-release
		}
		return 0
	}

	coord, _ := newCoordinator(t, srv, CoordinatorOptions{Policy: Wait})
	locals := []models.LocalContact{models.NewLocalContact("a", "+15550000001", "", models.SourceManual)}
	first := make(chan *Report, 1)
	go func() {
		r, _ := coord.ReconcileBatch(context.Background(), locals)
		first <- r
	}()
	<-entered

	second := make(chan *Report, 1)
	go func() {
		r, _ := coord.ReconcileBatch(context.Background(), locals)
		second <- r
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	r1 := <-first
	r2 := <-second
	require.NotNil(t, r1)
	require.NotNil(t, r2)
	assert.Len(t, r1.Created, 1)
	assert.Empty(t, r2.Created)
	assert.Len(t, r2.AlreadyRemote, 1)
	assert.Greater(t, r2.Generation, r1.Generation)
	assert.Equal(t, 1, srv.CreateCalls())
}

func TestReconcileBatchRecordsOnlySuccesses(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	srv.CreateHook = func(call int, phone string) int {
		if call == 37 {
			time.Sleep(300 * time.Millisecond)
			return http.StatusServiceUnavailable
		}
		return 0
	}
	coord, state := newCoordinator(t, srv, CoordinatorOptions{
		Batch: BatchOptions{RequestTimeout: 100 * time.Millisecond},
	})

	report, err := coord.ReconcileBatch(context.Background(), localContacts(100))
	require.NoError(t, err)
	assert.Len(t, report.Created, 99)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, models.ErrorKindTimeout, report.Failed[0].Kind)
	require.NotNil(t, report.Session)
	assert.Len(t, report.Session.AddedRecords, 99)

	records, err := state.ContactsAdded(context.Background(), "acct")
	require.NoError(t, err)
	assert.Len(t, records, 99)
	assert.Equal(t, stats.PointsFor(models.SourceDevice, 99), records[0].PointsAwarded)
}

func TestReconcileBatchDoesNotRewardConflicts(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	coord, _ := newCoordinator(t, srv, CoordinatorOptions{})

	// Warm first so the cache misses the contact added behind its back.
	_, err := coord.ReconcileBatch(context.Background(), nil)
	require.NoError(t, err)
	local := models.NewLocalContact("Race", "+15550000042", "", models.SourceDevice)
	srv.AddContact("acct", "Race", local.NormalizedPhone)

	report, err := coord.ReconcileBatch(context.Background(), []models.LocalContact{local})
	require.NoError(t, err)
	assert.Empty(t, report.Created)
	assert.Len(t, report.AlreadyExisted, 1)
	assert.Nil(t, report.Session)
}

func TestDeleteAndDeleteAll(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	coord, state := newCoordinator(t, srv, CoordinatorOptions{})
	ctx := context.Background()

	report, err := coord.ReconcileBatch(ctx, localContacts(4))
	require.NoError(t, err)
	require.Len(t, report.Created, 4)
	other := srv.AddContact("acct", "Outside", "+19990000000")

	target := report.Created[0].Ref.RemoteID
	del, err := coord.Delete(ctx, []string{target, target, "12345"})
	require.NoError(t, err)
	assert.Equal(t, 1, del.Deleted)
	assert.Equal(t, 1, del.AlreadyAbsent)
	assert.Equal(t, []string{"12345"}, del.Unknown)
	assert.Equal(t, 1, del.LedgerRemoved)

	records, err := state.ContactsAdded(ctx, "acct")
	require.NoError(t, err)
	assert.Len(t, records, 3)

	all, err := coord.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, all.Deleted)
	assert.Equal(t, 3, all.LedgerRemoved)
	assert.Empty(t, srv.Contacts())

	var goneIDs []string
	for _, ref := range all.Gone {
		goneIDs = append(goneIDs, ref.RemoteID)
	}
	assert.Contains(t, goneIDs, strconv.Itoa(other.ID))

	st, err := coord.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalContacts)
	assert.Equal(t, 1, st.SessionCount, "history survives deletes")
}

func TestRetentionPrunesLedger(t *testing.T) {
	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	coord, state := newCoordinator(t, srv, CoordinatorOptions{Retention: 24 * time.Hour, Clock: clock})
	ctx := context.Background()

	_, err := coord.ReconcileBatch(ctx, localContacts(2))
	require.NoError(t, err)

	now = now.Add(48 * time.Hour)
	coord.Cache().Reset()
	_, err = coord.ReconcileBatch(ctx, []models.LocalContact{models.NewLocalContact("late", "+15559990000", "", models.SourceManual)})
	require.NoError(t, err)

	records, err := state.ContactsAdded(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "late", records[0].DisplayName)
}
