// ABOUTME: Tests for contact deduplication against the remote index
// ABOUTME: Covers priority order, in-batch duplicates and the warm precondition
package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/rolodex/cache"
	"github.com/harperreed/rolodex/models"
)

type fakeIndex struct {
	warm     bool
	contacts map[string]models.RemoteContactRef
	users    map[string]models.PlatformUserRef
	stale    bool
	lookups  int
}

func (f *fakeIndex) IsWarm() bool { return f.warm }

func (f *fakeIndex) LookupContact(phone string) (models.RemoteContactRef, cache.Status) {
	f.lookups++
	if f.stale {
		return models.RemoteContactRef{}, cache.Stale
	}
	if ref, ok := f.contacts[phone]; ok {
		return ref, cache.Hit
	}
	return models.RemoteContactRef{}, cache.Miss
}

func (f *fakeIndex) LookupPlatformUser(phone string) (models.PlatformUserRef, cache.Status) {
	f.lookups++
	if f.stale {
		return models.PlatformUserRef{}, cache.Stale
	}
	if u, ok := f.users[phone]; ok {
		return u, cache.Hit
	}
	return models.PlatformUserRef{}, cache.Miss
}

func TestResolvePriority(t *testing.T) {
	index := &fakeIndex{
		warm: true,
		contacts: map[string]models.RemoteContactRef{
			"+15550000001": {RemoteID: "1", NormalizedPhone: "+15550000001"},
			"+15550000002": {RemoteID: "2", NormalizedPhone: "+15550000002"},
		},
		users: map[string]models.PlatformUserRef{
			"+15550000002": {RemoteID: "u2", NormalizedPhone: "+15550000002", DisplayName: "Bob"},
		},
	}
	locals := []models.LocalContact{
		models.NewLocalContact("Alice", "+1 555 000 0001", "", models.SourceDevice),
		models.NewLocalContact("Bob", "+1 555 000 0002", "", models.SourceDevice),
		models.NewLocalContact("Carol", "+1 555 000 0003", "", models.SourceDevice),
	}

	res, err := Resolve(locals, index)
	require.NoError(t, err)

	assert.Contains(t, res.AlreadyRemote, "+15550000001")
	assert.Contains(t, res.AlreadyPlatformUser, "+15550000002")
	assert.NotContains(t, res.AlreadyRemote, "+15550000002", "platform user wins over contact")
	require.Len(t, res.New, 1)
	assert.Equal(t, "Carol", res.New[0].DisplayName)
}

func TestResolveFirstOccurrenceWins(t *testing.T) {
	index := &fakeIndex{warm: true}
	first := models.NewLocalContact("First", "+15550000009", "", models.SourceManual)
	dup := models.NewLocalContact("Second", "+1 (555) 000-0009", "", models.SourceInvite)
	noPhone := models.NewLocalContact("Nobody", "", "", models.SourceManual)

	res, err := Resolve([]models.LocalContact{first, dup, noPhone}, index)
	require.NoError(t, err)
	require.Len(t, res.New, 1)
	assert.Equal(t, first.ID, res.New[0].ID)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, noPhone.ID, res.Skipped[0].ID)
}

func TestResolveRequiresWarmCache(t *testing.T) {
	index := &fakeIndex{warm: false}
	_, err := Resolve([]models.LocalContact{models.NewLocalContact("a", "+1", "", models.SourceManual)}, index)
	assert.ErrorIs(t, err, ErrNotWarmed)
	assert.Zero(t, index.lookups)

	index = &fakeIndex{warm: true, stale: true}
	_, err = Resolve([]models.LocalContact{models.NewLocalContact("a", "+1", "", models.SourceManual)}, index)
	assert.ErrorIs(t, err, ErrNotWarmed)
}
