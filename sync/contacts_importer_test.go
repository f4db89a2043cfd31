// ABOUTME: Tests for Google contact import and JSON snapshot loading
// ABOUTME: Uses a paged fake People lister and inline snapshot documents
package sync

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/people/v1"

	"github.com/harperreed/rolodex/models"
)

type pagedLister struct {
	pages []*people.ListConnectionsResponse
	calls int
	err   error
}

func (p *pagedLister) ListConnections(ctx context.Context, pageToken string) (*people.ListConnectionsResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	resp := p.pages[p.calls]
	p.calls++
	return resp, nil
}

func person(name, phone, email string, primaryPhone bool) *people.Person {
	p := &people.Person{ResourceName: "people/" + name}
	if name != "" {
		p.Names = []*people.Name{{DisplayName: name}}
	}
	if phone != "" {
		p.PhoneNumbers = []*people.PhoneNumber{
			{Value: "000"},
			{Value: phone, Metadata: &people.FieldMetadata{Primary: primaryPhone}},
		}
	}
	if email != "" {
		p.EmailAddresses = []*people.EmailAddress{{Value: email}}
	}
	return p
}

func TestImportGoogleContactsPages(t *testing.T) {
	lister := &pagedLister{pages: []*people.ListConnectionsResponse{
		{
			Connections:   []*people.Person{person("Alice", "+1 555 000 0001", "alice@example.com", true)},
			NextPageToken: "next",
		},
		{
			Connections: []*people.Person{
				person("", "+15550000002", "", true),
				person("No Phone", "", "np@example.com", false),
				person("Bob", "+15550000003", "", false),
			},
		},
	}}

	contacts, err := ImportGoogleContacts(context.Background(), lister, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
	require.Len(t, contacts, 2)

	assert.Equal(t, "Alice", contacts[0].DisplayName)
	assert.Equal(t, "+15550000001", contacts[0].NormalizedPhone)
	assert.Equal(t, "alice@example.com", contacts[0].Email)
	assert.Equal(t, models.SourceDevice, contacts[0].Source)

	assert.Equal(t, "000", contacts[1].NormalizedPhone, "first phone wins without a primary")
}

func TestImportGoogleContactsError(t *testing.T) {
	_, err := ImportGoogleContacts(context.Background(), &pagedLister{err: errors.New("quota")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota")
}

func TestLoadSnapshot(t *testing.T) {
	doc := `{
		"account": "acct",
		"contacts": [
			{"name": "Alice", "phone": "+1 555 000 0001", "source": "device"},
			{"name": "Bob", "phone": "0044 20 7946 0958", "email": "bob@example.com"}
		]
	}`

	snap, err := LoadSnapshot(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, "acct", snap.Account)

	locals, err := snap.LocalContacts()
	require.NoError(t, err)
	require.Len(t, locals, 2)
	assert.Equal(t, models.SourceDevice, locals[0].Source)
	assert.Equal(t, models.SourceManual, locals[1].Source)
	assert.Equal(t, "+442079460958", locals[1].NormalizedPhone)
}

func TestLoadSnapshotRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{"contacts": [`},
		{"missing contacts", `{"account": "a"}`},
		{"missing phone", `{"contacts": [{"name": "A"}]}`},
		{"bad source", `{"contacts": [{"name": "A", "phone": "1", "source": "fax"}]}`},
		{"wrong type", `{"contacts": "nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSnapshot(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}
