// ABOUTME: In-memory index of the remote contacts and platform users for one account
// ABOUTME: Warmed by a single paginated fetch per collection and swapped in atomically
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/remote"
)

// DefaultTTL is how long a warm stays valid.
const DefaultTTL = 5 * time.Minute

// ErrWarmFailed wraps any remote failure during Warm.
var ErrWarmFailed = errors.New("cache warm failed")

// Options configures a ReconciliationCache.
type Options struct {
	Account         string
	ContactsTTL     time.Duration
	PlatformUserTTL time.Duration
	PageSize        int
	Clock           Clock
	Logger          *log.Logger
}

// ReconciliationCache holds phone-keyed lookups of what already exists
// remotely. Contents are never persisted.
type ReconciliationCache struct {
	client remote.Client
	opts   Options
	logger *log.Logger

	contacts      *TTLCache[string, models.RemoteContactRef]
	contactsByID  *TTLCache[string, models.RemoteContactRef]
	platformUsers *TTLCache[string, models.PlatformUserRef]

	flight singleflight.Group

	mu             sync.Mutex
	lastGeneration uint64
	lastWarmAt     time.Time
}

// NewReconciliationCache creates a cold cache for opts.Account.
func NewReconciliationCache(client remote.Client, opts Options) *ReconciliationCache {
	if opts.ContactsTTL <= 0 {
		opts.ContactsTTL = DefaultTTL
	}
	if opts.PlatformUserTTL <= 0 {
		opts.PlatformUserTTL = DefaultTTL
	}
	if opts.PageSize <= 0 || opts.PageSize > remote.DefaultPageSize {
		opts.PageSize = remote.DefaultPageSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &ReconciliationCache{
		client:        client,
		opts:          opts,
		logger:        logger,
		contacts:      NewTTLCache[string, models.RemoteContactRef](opts.Clock),
		contactsByID:  NewTTLCache[string, models.RemoteContactRef](opts.Clock),
		platformUsers: NewTTLCache[string, models.PlatformUserRef](opts.Clock),
	}
}

// Account is the account whose contacts this cache indexes.
func (c *ReconciliationCache) Account() string {
	return c.opts.Account
}

// Warm fetches both collections and replaces the cache contents. Concurrent
// calls share one fetch. On error the previous contents are left intact.
// Results for a generation older than the last applied one are dropped.
func (c *ReconciliationCache) Warm(ctx context.Context, generation uint64) error {
	_, err, _ := c.flight.Do("warm", func() (any, error) {
		return nil, c.warm(ctx, generation)
	})
	return err
}

func (c *ReconciliationCache) warm(ctx context.Context, generation uint64) error {
	started := c.opts.Clock()

	contacts, err := c.fetchContacts(ctx)
	if err != nil {
		return fmt.Errorf("%w: contacts: %w", ErrWarmFailed, err)
	}
	users, err := c.fetchPlatformUsers(ctx)
	if err != nil {
		return fmt.Errorf("%w: platform users: %w", ErrWarmFailed, err)
	}

	byPhone := make([]Entry[string, models.RemoteContactRef], 0, len(contacts))
	byID := make([]Entry[string, models.RemoteContactRef], 0, len(contacts))
	seen := make(map[string]bool, len(contacts))
	for _, ref := range contacts {
		byID = append(byID, Entry[string, models.RemoteContactRef]{Key: ref.RemoteID, Value: ref})
		if ref.NormalizedPhone == "" || seen[ref.NormalizedPhone] {
			continue
		}
		seen[ref.NormalizedPhone] = true
		byPhone = append(byPhone, Entry[string, models.RemoteContactRef]{Key: ref.NormalizedPhone, Value: ref})
	}
	userEntries := make([]Entry[string, models.PlatformUserRef], 0, len(users))
	for _, u := range users {
		if u.NormalizedPhone == "" {
			continue
		}
		userEntries = append(userEntries, Entry[string, models.PlatformUserRef]{Key: u.NormalizedPhone, Value: u})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if generation < c.lastGeneration {
		c.logger.Debug("discarding stale warm", "account", c.opts.Account, "generation", generation, "current", c.lastGeneration)
		return nil
	}
	c.lastGeneration = generation
	c.contacts.Warm(byPhone, c.opts.ContactsTTL)
	c.contactsByID.Warm(byID, c.opts.ContactsTTL)
	c.platformUsers.Warm(userEntries, c.opts.PlatformUserTTL)
	c.lastWarmAt = c.opts.Clock()

	c.logger.Info("cache warmed",
		"account", c.opts.Account,
		"contacts", len(byID),
		"platform_users", len(userEntries),
		"took", c.lastWarmAt.Sub(started))
	return nil
}

func (c *ReconciliationCache) fetchContacts(ctx context.Context) ([]models.RemoteContactRef, error) {
	var out []models.RemoteContactRef
	for page := 1; ; page++ {
		resp, err := c.client.ListContacts(ctx, c.opts.Account, page, c.opts.PageSize)
		if err != nil {
			return nil, err
		}
		for _, rec := range resp.Data {
			out = append(out, models.RemoteContactRef{
				RemoteID:        rec.ID.String(),
				DocumentID:      rec.DocumentID,
				NormalizedPhone: models.NormalizePhone(rec.Phone),
			})
		}
		if lastPage(resp.Meta.Pagination, page, len(resp.Data)) {
			return out, nil
		}
	}
}

func (c *ReconciliationCache) fetchPlatformUsers(ctx context.Context) ([]models.PlatformUserRef, error) {
	var out []models.PlatformUserRef
	for page := 1; ; page++ {
		resp, err := c.client.ListPlatformUsers(ctx, page, c.opts.PageSize)
		if err != nil {
			return nil, err
		}
		for _, rec := range resp.Data {
			out = append(out, models.PlatformUserRef{
				RemoteID:        rec.ID.String(),
				DocumentID:      rec.DocumentID,
				NormalizedPhone: models.NormalizePhone(rec.Phone),
				DisplayName:     rec.DisplayName,
			})
		}
		if lastPage(resp.Meta.Pagination, page, len(resp.Data)) {
			return out, nil
		}
	}
}

func lastPage(p remote.Pagination, page, got int) bool {
	if got == 0 {
		return true
	}
	if p.PageCount > 0 {
		return page >= p.PageCount
	}
	return got < p.PageSize
}

// IsWarm reports whether both collections are warm and unexpired.
func (c *ReconciliationCache) IsWarm() bool {
	return c.contacts.IsWarm() && c.platformUsers.IsWarm()
}

// LastWarmAt returns when the current contents were fetched.
func (c *ReconciliationCache) LastWarmAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWarmAt
}

// LookupContact finds an existing remote contact by normalized phone.
func (c *ReconciliationCache) LookupContact(phone string) (models.RemoteContactRef, Status) {
	return c.contacts.Get(phone)
}

// LookupPlatformUser finds a registered platform user by normalized phone.
func (c *ReconciliationCache) LookupPlatformUser(phone string) (models.PlatformUserRef, Status) {
	return c.platformUsers.Get(phone)
}

// ContactByRemoteID finds a contact ref by its primary remote id.
func (c *ReconciliationCache) ContactByRemoteID(id string) (models.RemoteContactRef, Status) {
	return c.contactsByID.Get(id)
}

// ContactRefs returns every known contact ref for the account.
func (c *ReconciliationCache) ContactRefs() []models.RemoteContactRef {
	return c.contactsByID.Values()
}

// RecordCreated adds a freshly created contact so later lookups see it.
func (c *ReconciliationCache) RecordCreated(ref models.RemoteContactRef) {
	if ref.NormalizedPhone != "" {
		c.contacts.Put(ref.NormalizedPhone, ref)
	}
	if ref.RemoteID != "" {
		c.contactsByID.Put(ref.RemoteID, ref)
	}
}

// InvalidateContact drops the phone entry of a contact.
func (c *ReconciliationCache) InvalidateContact(phone string) {
	c.contacts.Invalidate(phone)
}

// InvalidateRemoteID drops every entry that points at the remote id.
func (c *ReconciliationCache) InvalidateRemoteID(id string) {
	ref, status := c.contactsByID.Get(id)
	c.contactsByID.Invalidate(id)
	if status == Hit && ref.NormalizedPhone != "" {
		if current, st := c.contacts.Get(ref.NormalizedPhone); st == Hit && current.RemoteID == id {
			c.contacts.Invalidate(ref.NormalizedPhone)
		}
	}
}

// Reset marks the cache cold so the next pass re-warms.
func (c *ReconciliationCache) Reset() {
	c.contacts.Clear()
	c.contactsByID.Clear()
	c.platformUsers.Clear()
}

// Counts reports the number of indexed contacts and platform users.
func (c *ReconciliationCache) Counts() (contacts, platformUsers int) {
	return c.contactsByID.Len(), c.platformUsers.Len()
}

