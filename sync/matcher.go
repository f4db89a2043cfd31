// ABOUTME: Contact deduplication against the warmed remote index
// ABOUTME: Classifies local contacts as platform users, existing contacts or new
package sync

import (
	"errors"

	"github.com/harperreed/rolodex/cache"
	"github.com/harperreed/rolodex/models"
)

// ErrNotWarmed means resolution was attempted against a cold or expired cache.
var ErrNotWarmed = errors.New("reconciliation cache is not warm")

// RemoteIndex is the read side of the reconciliation cache.
type RemoteIndex interface {
	IsWarm() bool
	LookupContact(phone string) (models.RemoteContactRef, cache.Status)
	LookupPlatformUser(phone string) (models.PlatformUserRef, cache.Status)
}

// Resolution is the classification of one local batch.
type Resolution struct {
	AlreadyRemote       map[string]models.RemoteContactRef
	AlreadyPlatformUser map[string]models.PlatformUserRef
	New                 []models.LocalContact
	// Skipped holds contacts without a usable phone number.
	Skipped []models.LocalContact
}

// Resolve classifies locals by normalized phone. Platform users win over
// existing contacts, which win over new. Within the batch the first
// occurrence of a phone wins and later duplicates are dropped.
func Resolve(locals []models.LocalContact, index RemoteIndex) (Resolution, error) {
	if !index.IsWarm() {
		return Resolution{}, ErrNotWarmed
	}

	res := Resolution{
		AlreadyRemote:       map[string]models.RemoteContactRef{},
		AlreadyPlatformUser: map[string]models.PlatformUserRef{},
	}
	seen := make(map[string]bool, len(locals))

	for _, c := range locals {
		phone := c.NormalizedPhone
		if phone == "" {
			res.Skipped = append(res.Skipped, c)
			continue
		}
		if seen[phone] {
			continue
		}
		seen[phone] = true

		user, status := index.LookupPlatformUser(phone)
		if status == cache.Stale {
			return Resolution{}, ErrNotWarmed
		}
		if status == cache.Hit {
			res.AlreadyPlatformUser[phone] = user
			continue
		}

		ref, status := index.LookupContact(phone)
		if status == cache.Stale {
			return Resolution{}, ErrNotWarmed
		}
		if status == cache.Hit {
			res.AlreadyRemote[phone] = ref
			continue
		}

		res.New = append(res.New, c)
	}

	return res, nil
}
