// ABOUTME: Read-only Google People API client for the address-book import
// ABOUTME: Authorizes from the token store and saves refreshed tokens back to it
package sync

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/people/v1"
)

// NewPeopleClient returns a People service that can only read contacts.
func NewPeopleClient(ctx context.Context, config *oauth2.Config, store TokenStore, logger *log.Logger) (*people.Service, error) {
	if config == nil {
		return nil, ErrGoogleCredentialsMissing
	}
	if logger == nil {
		logger = log.Default()
	}
	token, err := store.Load()
	if err != nil {
		return nil, err
	}

	src := &savingTokenSource{
		base:   config.TokenSource(ctx, token),
		store:  store,
		logger: logger,
		last:   token.AccessToken,
	}
	httpClient := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, src))

	service, err := people.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create People service: %w", err)
	}
	logger.Debug("google people client ready", "token_file", store.Path, "expires", token.Expiry)
	return service, nil
}
