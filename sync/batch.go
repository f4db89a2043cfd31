// ABOUTME: Chunked, paced bulk create and delete against the content API
// ABOUTME: Folds already-exists and already-absent responses into success
package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/harperreed/rolodex/cache"
	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/remote"
)

const (
	DefaultChunkDelay     = 500 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
	DefaultChunkTimeout   = 60 * time.Second
	MaxConcurrency        = 4
)

// ChunkSize picks a chunk size from the total item count.
func ChunkSize(n int) int {
	switch {
	case n < 50:
		return 10
	case n < 100:
		return 20
	case n < 500:
		return 50
	default:
		return 100
	}
}

// ContactIndex is what the synchronizer needs from the reconciliation cache.
type ContactIndex interface {
	RemoteIndex
	RecordCreated(ref models.RemoteContactRef)
	InvalidateRemoteID(id string)
}

// BatchOptions tunes chunking and timeouts. Zero values take defaults; a
// negative ChunkDelay disables pacing.
type BatchOptions struct {
	Account        string
	ChunkSize      int
	ChunkDelay     time.Duration
	Concurrency    int
	RequestTimeout time.Duration
	ChunkTimeout   time.Duration
	Logger         *log.Logger
}

// CreateOutcome is a contact that exists remotely after the call.
type CreateOutcome struct {
	Contact models.LocalContact
	Ref     models.RemoteContactRef
	// AlreadyExisted is set when no record was created: the phone was
	// found in the cache, was being created concurrently or the server
	// answered with a conflict.
	AlreadyExisted bool
	PlatformUser   bool
}

// ItemFailure is a contact that could not be created.
type ItemFailure struct {
	Contact models.LocalContact
	Kind    models.ErrorKind
	Err     error
}

type CreateResult struct {
	Created []CreateOutcome
	Failed  []ItemFailure
	// StaleLookups counts contacts sent to the server because their cache
	// entry had expired. The server's conflict answer dedupes them.
	StaleLookups int
}

// Fresh returns the outcomes that created a new remote record.
func (r CreateResult) Fresh() []CreateOutcome {
	var out []CreateOutcome
	for _, o := range r.Created {
		if !o.AlreadyExisted {
			out = append(out, o)
		}
	}
	return out
}

// DeleteFailure is a remote contact that could not be deleted.
type DeleteFailure struct {
	Ref  models.RemoteContactRef
	Kind models.ErrorKind
	Err  error
}

type DeleteResult struct {
	Deleted       int
	AlreadyAbsent int
	// Gone lists every ref confirmed absent after the call.
	Gone   []models.RemoteContactRef
	Failed []DeleteFailure
}

type BatchSynchronizer struct {
	client remote.Client
	index  ContactIndex
	opts   BatchOptions
	logger *log.Logger

	inflightMu stdsync.Mutex
	inflight   map[string]bool
}

func NewBatchSynchronizer(client remote.Client, index ContactIndex, opts BatchOptions) *BatchSynchronizer {
	if opts.ChunkDelay == 0 {
		opts.ChunkDelay = DefaultChunkDelay
	}
	if opts.ChunkDelay < 0 {
		opts.ChunkDelay = 0
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Concurrency > MaxConcurrency {
		opts.Concurrency = MaxConcurrency
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.ChunkTimeout <= 0 {
		opts.ChunkTimeout = DefaultChunkTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &BatchSynchronizer{
		client:   client,
		index:    index,
		opts:     opts,
		logger:   logger,
		inflight: map[string]bool{},
	}
}

func (s *BatchSynchronizer) chunkSize(n int) int {
	if s.opts.ChunkSize > 0 {
		return s.opts.ChunkSize
	}
	return ChunkSize(n)
}

// CreateMany creates contacts in paced chunks. Per-item failures are
// returned as data; cancellation is honoured between chunks.
func (s *BatchSynchronizer) CreateMany(ctx context.Context, contacts []models.LocalContact) CreateResult {
	unique := make([]models.LocalContact, 0, len(contacts))
	seen := make(map[string]bool, len(contacts))
	for _, c := range contacts {
		if seen[c.NormalizedPhone] {
			continue
		}
		seen[c.NormalizedPhone] = true
		unique = append(unique, c)
	}

	chunks := chunk(unique, s.chunkSize(len(unique)))
	results := make([]CreateResult, len(chunks))

	s.runChunks(ctx, len(chunks), func(i int, chunkCtx context.Context, canceled error) {
		if canceled != nil {
			for _, c := range chunks[i] {
				results[i].Failed = append(results[i].Failed, ItemFailure{Contact: c, Kind: models.ErrorKindCanceled, Err: canceled})
			}
			return
		}
		for j, c := range chunks[i] {
			if err := chunkCtx.Err(); err != nil {
				for _, rest := range chunks[i][j:] {
					results[i].Failed = append(results[i].Failed, ItemFailure{Contact: rest, Kind: models.ErrorKindTimeout, Err: err})
				}
				return
			}
			outcome, failure, stale := s.createOne(chunkCtx, c)
			if stale {
				results[i].StaleLookups++
			}
			if failure != nil {
				results[i].Failed = append(results[i].Failed, *failure)
				continue
			}
			results[i].Created = append(results[i].Created, outcome)
		}
	})

	var out CreateResult
	for _, r := range results {
		out.Created = append(out.Created, r.Created...)
		out.Failed = append(out.Failed, r.Failed...)
		out.StaleLookups += r.StaleLookups
	}
	countItems("created", len(out.Fresh()))
	countItems("already_existed", len(out.Created)-len(out.Fresh()))
	countItems("create_failed", len(out.Failed))
	s.logger.Info("create batch finished",
		"account", s.opts.Account,
		"requested", len(contacts),
		"created", len(out.Created),
		"failed", len(out.Failed),
		"stale_lookups", out.StaleLookups)
	return out
}

// createOne reports stale when a cache entry for the phone had expired.
// The create still goes out and a 409 folds it into AlreadyExisted.
func (s *BatchSynchronizer) createOne(ctx context.Context, c models.LocalContact) (CreateOutcome, *ItemFailure, bool) {
	phone := c.NormalizedPhone
	user, userStatus := s.index.LookupPlatformUser(phone)
	if userStatus == cache.Hit {
		return CreateOutcome{Contact: c, Ref: models.RemoteContactRef{RemoteID: user.RemoteID, DocumentID: user.DocumentID, NormalizedPhone: phone}, AlreadyExisted: true, PlatformUser: true}, nil, false
	}
	ref, contactStatus := s.index.LookupContact(phone)
	if contactStatus == cache.Hit {
		return CreateOutcome{Contact: c, Ref: ref, AlreadyExisted: true}, nil, false
	}
	stale := userStatus == cache.Stale || contactStatus == cache.Stale
	if stale {
		countStaleLookup()
		s.logger.Debug("cache entry expired, creating without a local check", "account", s.opts.Account, "phone", phone)
	}
	if !s.claim(phone) {
		return CreateOutcome{Contact: c, Ref: models.RemoteContactRef{NormalizedPhone: phone}, AlreadyExisted: true}, nil, stale
	}
	defer s.release(phone)

	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	rec, err := s.client.CreateContact(reqCtx, remote.ContactInput{
		Name:   c.DisplayName,
		Phone:  phone,
		Email:  c.Email,
		Source: string(c.Source),
		Owner:  s.opts.Account,
	})
	switch {
	case err == nil:
		countCall("create", "created")
		ref := models.RemoteContactRef{RemoteID: rec.ID.String(), DocumentID: rec.DocumentID, NormalizedPhone: phone}
		s.index.RecordCreated(ref)
		return CreateOutcome{Contact: c, Ref: ref}, nil, stale
	case remote.IsConflict(err):
		countCall("create", "conflict")
		ref := models.RemoteContactRef{NormalizedPhone: phone}
		if existing, ok := remote.ConflictRecord(err); ok {
			ref.RemoteID = existing.ID.String()
			ref.DocumentID = existing.DocumentID
			s.index.RecordCreated(ref)
		}
		return CreateOutcome{Contact: c, Ref: ref, AlreadyExisted: true}, nil, stale
	default:
		kind := remote.ErrorKindOf(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = models.ErrorKindTimeout
		}
		countCall("create", string(kind))
		s.logger.Warn("create failed", "account", s.opts.Account, "phone", phone, "kind", kind, "err", err)
		return CreateOutcome{}, &ItemFailure{Contact: c, Kind: kind, Err: err}, stale
	}
}

func (s *BatchSynchronizer) claim(phone string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if s.inflight[phone] {
		return false
	}
	s.inflight[phone] = true
	return true
}

func (s *BatchSynchronizer) release(phone string) {
	s.inflightMu.Lock()
	delete(s.inflight, phone)
	s.inflightMu.Unlock()
}

// DeleteMany deletes remote contacts by id. A 404 counts as already absent;
// a shape error is retried once with the document id.
func (s *BatchSynchronizer) DeleteMany(ctx context.Context, refs []models.RemoteContactRef) DeleteResult {
	chunks := chunk(refs, s.chunkSize(len(refs)))
	results := make([]DeleteResult, len(chunks))

	s.runChunks(ctx, len(chunks), func(i int, chunkCtx context.Context, canceled error) {
		if canceled != nil {
			for _, ref := range chunks[i] {
				results[i].Failed = append(results[i].Failed, DeleteFailure{Ref: ref, Kind: models.ErrorKindCanceled, Err: canceled})
			}
			return
		}
		for j, ref := range chunks[i] {
			if err := chunkCtx.Err(); err != nil {
				for _, rest := range chunks[i][j:] {
					results[i].Failed = append(results[i].Failed, DeleteFailure{Ref: rest, Kind: models.ErrorKindTimeout, Err: err})
				}
				return
			}
			absent, failure := s.deleteOne(chunkCtx, ref)
			if failure != nil {
				results[i].Failed = append(results[i].Failed, *failure)
				continue
			}
			if absent {
				results[i].AlreadyAbsent++
			} else {
				results[i].Deleted++
			}
			results[i].Gone = append(results[i].Gone, ref)
			s.index.InvalidateRemoteID(ref.RemoteID)
		}
	})

	var out DeleteResult
	for _, r := range results {
		out.Deleted += r.Deleted
		out.AlreadyAbsent += r.AlreadyAbsent
		out.Gone = append(out.Gone, r.Gone...)
		out.Failed = append(out.Failed, r.Failed...)
	}
	countItems("deleted", out.Deleted)
	countItems("already_absent", out.AlreadyAbsent)
	countItems("delete_failed", len(out.Failed))
	s.logger.Info("delete batch finished",
		"account", s.opts.Account,
		"requested", len(refs),
		"deleted", out.Deleted,
		"already_absent", out.AlreadyAbsent,
		"failed", len(out.Failed))
	return out
}

func (s *BatchSynchronizer) deleteOne(ctx context.Context, ref models.RemoteContactRef) (bool, *DeleteFailure) {
	err := s.deleteCall(ctx, ref.RemoteID)
	switch {
	case err == nil:
		countCall("delete", "deleted")
		return false, nil
	case remote.IsNotFound(err):
		countCall("delete", "absent")
		return true, nil
	case !remote.IsShapeError(err):
		kind := remote.ErrorKindOf(err)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = models.ErrorKindTimeout
		}
		countCall("delete", string(kind))
		return false, &DeleteFailure{Ref: ref, Kind: kind, Err: err}
	}

	countCall("delete", "shape_error")
	if ref.DocumentID == "" || ref.DocumentID == ref.RemoteID {
		return false, &DeleteFailure{Ref: ref, Kind: models.ErrorKindConflictRetryExhausted, Err: err}
	}
	s.logger.Debug("retrying delete with document id", "remote_id", ref.RemoteID, "document_id", ref.DocumentID)
	err = s.deleteCall(ctx, ref.DocumentID)
	switch {
	case err == nil:
		countCall("delete", "deleted")
		return false, nil
	case remote.IsNotFound(err):
		countCall("delete", "absent")
		return true, nil
	default:
		countCall("delete", string(models.ErrorKindConflictRetryExhausted))
		return false, &DeleteFailure{Ref: ref, Kind: models.ErrorKindConflictRetryExhausted, Err: err}
	}
}

func (s *BatchSynchronizer) deleteCall(ctx context.Context, id string) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	defer cancel()
	return s.client.DeleteContact(reqCtx, id)
}

// runChunks runs fn for each chunk index on a bounded pool. Chunk starts
// are paced by ChunkDelay across the whole pool. A chunk that has not
// started when ctx is cancelled receives the cancellation error instead.
// A started chunk runs to completion under its own ChunkTimeout.
func (s *BatchSynchronizer) runChunks(ctx context.Context, n int, fn func(i int, chunkCtx context.Context, canceled error)) {
	p := &pacer{interval: s.opts.ChunkDelay}
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := p.wait(ctx); err != nil {
				fn(i, nil, err)
				return nil
			}
			chunkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ChunkTimeout)
			defer cancel()
			fn(i, chunkCtx, nil)
			return nil
		})
	}
	_ = g.Wait()
}

// pacer hands out start slots at least interval apart.
type pacer struct {
	mu       stdsync.Mutex
	interval time.Duration
	next     time.Time
}

func (p *pacer) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	now := time.Now()
	start := p.next
	if start.Before(now) {
		start = now
	}
	p.next = start.Add(p.interval)
	p.mu.Unlock()

	delay := time.Until(start)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
