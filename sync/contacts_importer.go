// ABOUTME: Google Contacts reader producing device-sourced local contacts
// ABOUTME: Pages through the People API and keeps entries that carry a phone number
package sync

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"google.golang.org/api/people/v1"

	"github.com/harperreed/rolodex/models"
)

// GoogleContact is the subset of a People API person we use.
type GoogleContact struct {
	ResourceName string
	Name         string
	Email        string
	Phone        string
}

// PeopleLister fetches one page of connections. The People service
// satisfies it through PeopleServiceLister.
type PeopleLister interface {
	ListConnections(ctx context.Context, pageToken string) (*people.ListConnectionsResponse, error)
}

// PeopleServiceLister adapts a People API service.
type PeopleServiceLister struct {
	Service *people.Service
}

func (l PeopleServiceLister) ListConnections(ctx context.Context, pageToken string) (*people.ListConnectionsResponse, error) {
	call := l.Service.People.Connections.List("people/me").
		PageSize(1000).
		PersonFields("names,emailAddresses,phoneNumbers").
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

// ImportGoogleContacts reads every connection and returns those with both a
// name and a usable phone number as device contacts.
func ImportGoogleContacts(ctx context.Context, lister PeopleLister, logger *log.Logger) ([]models.LocalContact, error) {
	if logger == nil {
		logger = log.Default()
	}
	var (
		out          []models.LocalContact
		totalFetched int
		skipped      int
		pageToken    string
	)
	for {
		response, err := lister.ListConnections(ctx, pageToken)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch contacts: %w", err)
		}
		if response == nil || response.Connections == nil {
			break
		}
		totalFetched += len(response.Connections)

		for _, person := range response.Connections {
			gc := convertPerson(person)
			if gc.Name == "" || models.NormalizePhone(gc.Phone) == "" {
				skipped++
				continue
			}
			out = append(out, models.NewLocalContact(gc.Name, gc.Phone, gc.Email, models.SourceDevice))
		}

		pageToken = response.NextPageToken
		if pageToken == "" {
			break
		}
		logger.Debug("fetched google contacts page", "so_far", totalFetched)
	}

	logger.Info("google contacts fetched", "fetched", totalFetched, "usable", len(out), "skipped", skipped)
	return out, nil
}

// convertPerson picks the display name and the primary (or first) email
// and phone of a person.
func convertPerson(person *people.Person) *GoogleContact {
	gc := &GoogleContact{
		ResourceName: person.ResourceName,
	}

	if len(person.Names) > 0 && person.Names[0].DisplayName != "" {
		gc.Name = person.Names[0].DisplayName
	}

	for _, email := range person.EmailAddresses {
		if email.Value == "" {
			continue
		}
		if gc.Email == "" {
			gc.Email = email.Value
		}
		if email.Metadata != nil && email.Metadata.Primary {
			gc.Email = email.Value
			break
		}
	}

	for _, phone := range person.PhoneNumbers {
		if phone.Value == "" {
			continue
		}
		if gc.Phone == "" {
			gc.Phone = phone.Value
		}
		if phone.Metadata != nil && phone.Metadata.Primary {
			gc.Phone = phone.Value
			break
		}
	}

	return gc
}
