// ABOUTME: Orchestrates warm, resolve, create and record for one account
// ABOUTME: Enforces one pass in flight at a time and discards stale generations
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/rolodex/cache"
	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/remote"
	"github.com/harperreed/rolodex/stats"
	"github.com/harperreed/rolodex/store"
)

var (
	// ErrWarmFailed aborts a pass before any persisted change.
	ErrWarmFailed = cache.ErrWarmFailed
	// ErrAlreadyInProgress is returned under the Reject policy while
	// another pass for the account is running.
	ErrAlreadyInProgress = errors.New("reconciliation already in progress")
)

// State is the coordinator's position in a pass.
type State int32

const (
	StateIdle State = iota
	StateWarming
	StateResolving
	StateSyncing
)

func (s State) String() string {
	switch s {
	case StateWarming:
		return "warming"
	case StateResolving:
		return "resolving"
	case StateSyncing:
		return "syncing"
	default:
		return "idle"
	}
}

// InFlightPolicy decides what a second concurrent call does.
type InFlightPolicy int

const (
	Reject InFlightPolicy = iota
	Wait
)

// StatusRecorder persists per-account pass status. Optional.
type StatusRecorder interface {
	UpdateSyncStatus(account, status string, errorMsg *string) error
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Account       string
	Policy        InFlightPolicy
	AlwaysRewarm  bool
	Retention     time.Duration
	Batch         BatchOptions
	Cache         cache.Options
	Clock         func() time.Time
	Logger        *log.Logger
	StatusTracker StatusRecorder
}

// Report is the outcome of a reconcile or create pass.
type Report struct {
	Generation          uint64
	Created             []CreateOutcome
	AlreadyExisted      []CreateOutcome
	AlreadyRemote       map[string]models.RemoteContactRef
	AlreadyPlatformUser map[string]models.PlatformUserRef
	Skipped             []models.LocalContact
	Failed              []ItemFailure
	Session             *models.SyncSession
	Recommendation      models.Recommendation
}

// DeleteReport is the outcome of a delete pass.
type DeleteReport struct {
	DeleteResult
	Unknown       []string
	LedgerRemoved int
}

type Coordinator struct {
	opts   CoordinatorOptions
	cache  *cache.ReconciliationCache
	batch  *BatchSynchronizer
	state  *store.StateStore
	stats  *stats.Engine
	logger *log.Logger
	now    func() time.Time

	passMu     stdsync.Mutex
	status     atomic.Int32
	generation atomic.Uint64

	reportMu       stdsync.Mutex
	lastReport     *Report
	lastReportedAt uint64
}

// NewCoordinator wires a cache, synchronizer and stats engine for one account.
func NewCoordinator(client remote.Client, state *store.StateStore, opts CoordinatorOptions) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	opts.Cache.Account = opts.Account
	if opts.Cache.Logger == nil {
		opts.Cache.Logger = logger
	}
	if opts.Cache.Clock == nil {
		opts.Cache.Clock = now
	}
	opts.Batch.Account = opts.Account
	if opts.Batch.Logger == nil {
		opts.Batch.Logger = logger
	}

	c := cache.NewReconciliationCache(client, opts.Cache)
	return &Coordinator{
		opts:   opts,
		cache:  c,
		batch:  NewBatchSynchronizer(client, c, opts.Batch),
		state:  state,
		stats:  stats.NewEngine(state, logger),
		logger: logger,
		now:    now,
	}
}

func (c *Coordinator) Account() string { return c.opts.Account }

// State reports the current pass stage.
func (c *Coordinator) State() State {
	return State(c.status.Load())
}

// Cache exposes the reconciliation cache.
func (c *Coordinator) Cache() *cache.ReconciliationCache {
	return c.cache
}

// LastReport returns the report of the newest completed pass.
func (c *Coordinator) LastReport() *Report {
	c.reportMu.Lock()
	defer c.reportMu.Unlock()
	return c.lastReport
}

func (c *Coordinator) setState(s State) {
	c.status.Store(int32(s))
}

func (c *Coordinator) acquire(ctx context.Context) error {
	if c.opts.Policy == Reject {
		if !c.passMu.TryLock() {
			return ErrAlreadyInProgress
		}
		return nil
	}
	acquired := make(chan struct{})
	go func() {
		c.passMu.Lock()
		close(acquired)
	}()
	select {
	case <-acquired:
		return nil
	case <-ctx.Done():
		// Hand the lock straight back once the waiter gets it.
		go func() {
			<-acquired
			c.passMu.Unlock()
		}()
		return ctx.Err()
	}
}

func (c *Coordinator) releasePass() {
	c.setState(StateIdle)
	c.passMu.Unlock()
}

func (c *Coordinator) warm(ctx context.Context, generation uint64, force bool) error {
	if !force && !c.opts.AlwaysRewarm && c.cache.IsWarm() {
		return nil
	}
	c.setState(StateWarming)
	started := time.Now()
	err := c.cache.Warm(ctx, generation)
	observeWarm(started)
	if err != nil {
		if !errors.Is(err, ErrWarmFailed) {
			err = fmt.Errorf("%w: %w", ErrWarmFailed, err)
		}
		return err
	}
	return nil
}

// ReconcileBatch runs a full pass: warm, resolve, create the new subset and
// record a session with the contacts that were actually created. Failed
// items are returned, never retried here.
func (c *Coordinator) ReconcileBatch(ctx context.Context, locals []models.LocalContact) (*Report, error) {
	report, err := c.run(ctx, "reconcile", locals)
	countPass("reconcile", err)
	return report, err
}

// Create adds locals that are not yet known remotely. It shares the
// single-flight slot with ReconcileBatch.
func (c *Coordinator) Create(ctx context.Context, locals []models.LocalContact) (*Report, error) {
	report, err := c.run(ctx, "create", locals)
	countPass("create", err)
	return report, err
}

func (c *Coordinator) run(ctx context.Context, operation string, locals []models.LocalContact) (*Report, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.releasePass()

	generation := c.generation.Add(1)
	c.trackStatus(models.SyncStatusSyncing, nil)
	c.logger.Info("pass started", "operation", operation, "account", c.opts.Account, "generation", generation, "contacts", len(locals))

	if err := c.warm(ctx, generation, false); err != nil {
		c.failStatus(err)
		return nil, err
	}

	c.setState(StateResolving)
	res, err := Resolve(locals, c.cache)
	if errors.Is(err, ErrNotWarmed) {
		// Expired between warm and resolve; one forced re-warm.
		if err = c.warm(ctx, generation, true); err == nil {
			res, err = Resolve(locals, c.cache)
		}
	}
	if err != nil {
		c.failStatus(err)
		return nil, err
	}

	c.setState(StateSyncing)
	result := c.batch.CreateMany(ctx, res.New)

	report := &Report{
		Generation:          generation,
		AlreadyRemote:       res.AlreadyRemote,
		AlreadyPlatformUser: res.AlreadyPlatformUser,
		Skipped:             res.Skipped,
		Failed:              result.Failed,
	}
	var added []stats.Added
	for _, o := range result.Created {
		if o.AlreadyExisted {
			report.AlreadyExisted = append(report.AlreadyExisted, o)
			continue
		}
		report.Created = append(report.Created, o)
		added = append(added, stats.Added{Contact: o.Contact, RemoteID: o.Ref.RemoteID})
	}

	// Always record what succeeded, even after cancellation.
	now := c.now()
	session, err := c.stats.RecordSession(context.WithoutCancel(ctx), c.opts.Account, added, now)
	if err != nil {
		c.failStatus(err)
		return report, err
	}
	report.Session = session
	c.prune(ctx, now)

	if rec, err := c.stats.Recommend(ctx, c.opts.Account, now); err == nil {
		report.Recommendation = rec
	} else {
		c.logger.Warn("recommendation unavailable", "account", c.opts.Account, "err", err)
	}

	c.publish(generation, report)
	c.trackStatus(models.SyncStatusIdle, nil)
	c.logger.Info("pass finished",
		"operation", operation,
		"account", c.opts.Account,
		"generation", generation,
		"created", len(report.Created),
		"already_existed", len(report.AlreadyExisted),
		"already_remote", len(report.AlreadyRemote),
		"platform_users", len(report.AlreadyPlatformUser),
		"failed", len(report.Failed))
	return report, nil
}

// Delete removes remote contacts by primary id. Ids the cache does not know
// are still attempted without a document id fallback.
func (c *Coordinator) Delete(ctx context.Context, remoteIDs []string) (*DeleteReport, error) {
	report, err := c.deletePass(ctx, func() ([]models.RemoteContactRef, []string) {
		refs := make([]models.RemoteContactRef, 0, len(remoteIDs))
		var unknown []string
		seen := map[string]bool{}
		for _, id := range remoteIDs {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ref, status := c.cache.ContactByRemoteID(id)
			if status != cache.Hit {
				unknown = append(unknown, id)
				ref = models.RemoteContactRef{RemoteID: id}
			}
			refs = append(refs, ref)
		}
		return refs, unknown
	})
	countPass("delete", err)
	return report, err
}

// DeleteAll removes every remote contact owned by the account.
func (c *Coordinator) DeleteAll(ctx context.Context) (*DeleteReport, error) {
	report, err := c.deletePass(ctx, func() ([]models.RemoteContactRef, []string) {
		return c.cache.ContactRefs(), nil
	})
	countPass("delete_all", err)
	return report, err
}

func (c *Coordinator) deletePass(ctx context.Context, targets func() ([]models.RemoteContactRef, []string)) (*DeleteReport, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.releasePass()

	generation := c.generation.Add(1)
	c.trackStatus(models.SyncStatusSyncing, nil)
	if err := c.warm(ctx, generation, true); err != nil {
		c.failStatus(err)
		return nil, err
	}

	refs, unknown := targets()
	c.setState(StateSyncing)
	result := c.batch.DeleteMany(ctx, refs)

	ids := make([]string, 0, len(result.Gone))
	for _, ref := range result.Gone {
		ids = append(ids, ref.RemoteID)
	}
	removed, err := c.state.RemoveByRemoteIDs(context.WithoutCancel(ctx), c.opts.Account, ids)
	report := &DeleteReport{DeleteResult: result, Unknown: unknown, LedgerRemoved: removed}
	if err != nil {
		c.failStatus(err)
		return report, fmt.Errorf("update ledger: %w", err)
	}
	c.trackStatus(models.SyncStatusIdle, nil)
	return report, nil
}

// Stats summarizes persisted history for the account.
func (c *Coordinator) Stats(ctx context.Context) (stats.Stats, error) {
	return c.stats.Stats(ctx, c.opts.Account, c.now())
}

// publish keeps the newest generation's report.
func (c *Coordinator) publish(generation uint64, report *Report) {
	c.reportMu.Lock()
	defer c.reportMu.Unlock()
	if generation < c.lastReportedAt {
		c.logger.Debug("discarding stale report", "generation", generation, "current", c.lastReportedAt)
		return
	}
	c.lastReportedAt = generation
	c.lastReport = report
}

func (c *Coordinator) prune(ctx context.Context, now time.Time) {
	if c.opts.Retention <= 0 {
		return
	}
	removed, err := c.state.PruneOlderThan(ctx, c.opts.Account, now.Add(-c.opts.Retention))
	if err != nil {
		c.logger.Warn("retention prune failed", "account", c.opts.Account, "err", err)
		return
	}
	if removed > 0 {
		c.logger.Info("pruned ledger", "account", c.opts.Account, "removed", removed)
	}
}

func (c *Coordinator) trackStatus(status string, errMsg *string) {
	if c.opts.StatusTracker == nil {
		return
	}
	if err := c.opts.StatusTracker.UpdateSyncStatus(c.opts.Account, status, errMsg); err != nil {
		c.logger.Warn("failed to update sync status", "account", c.opts.Account, "err", err)
	}
}

func (c *Coordinator) failStatus(err error) {
	msg := err.Error()
	c.trackStatus(models.SyncStatusError, &msg)
	c.logger.Error("pass failed", "account", c.opts.Account, "err", err)
}
