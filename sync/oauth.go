// ABOUTME: Google OAuth settings and token storage for importing address-book contacts
// ABOUTME: Tokens live in one owner-only file and refreshed tokens are written back to it
package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	stdsync "sync"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	// ContactsReadonlyScope is the only Google scope rolodex asks for.
	ContactsReadonlyScope = "https://www.googleapis.com/auth/contacts.readonly"
	DefaultRedirectURL    = "http://localhost:8080/oauth/callback"
	tokenFileName         = "google-token.json"
)

var (
	ErrGoogleCredentialsMissing = errors.New("google client credentials missing: set ROLODEX_GOOGLE_CLIENT_ID and ROLODEX_GOOGLE_CLIENT_SECRET")
	ErrNotAuthorized            = errors.New("google contacts not authorized: run 'rolodex sync init'")
)

// GoogleOAuthConfig reads the client credentials from the environment.
// ROLODEX_GOOGLE_* variables win over the plain GOOGLE_* ones.
func GoogleOAuthConfig() (*oauth2.Config, error) {
	clientID := firstEnv("ROLODEX_GOOGLE_CLIENT_ID", "GOOGLE_CLIENT_ID")
	clientSecret := firstEnv("ROLODEX_GOOGLE_CLIENT_SECRET", "GOOGLE_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		return nil, ErrGoogleCredentialsMissing
	}
	redirect := firstEnv("ROLODEX_GOOGLE_REDIRECT_URL")
	if redirect == "" {
		redirect = DefaultRedirectURL
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirect,
		Scopes:       []string{ContactsReadonlyScope},
		Endpoint:     google.Endpoint,
	}, nil
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// TokenStore reads and writes the Google token file.
type TokenStore struct {
	Path string
}

// DefaultTokenStore keeps the token next to the address book.
func DefaultTokenStore() TokenStore {
	return TokenStore{Path: filepath.Join(xdg.DataHome, "rolodex", tokenFileName)}
}

// Save replaces the token file. The write goes through a temp file so a
// crash never leaves a truncated token behind.
func (s TokenStore) Save(token *oauth2.Token) error {
	if token == nil || (token.AccessToken == "" && token.RefreshToken == "") {
		return fmt.Errorf("refusing to save an empty google token")
	}
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".google-token-*")
	if err != nil {
		return fmt.Errorf("failed to create token file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := json.NewEncoder(tmp).Encode(token); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode google token: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return fmt.Errorf("failed to restrict token file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// Load returns the stored token. A missing file, or an expired token that
// cannot be refreshed, is ErrNotAuthorized.
func (s TokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotAuthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("failed to decode token file %s: %w", s.Path, err)
	}
	if token.RefreshToken == "" && !token.Valid() {
		return nil, fmt.Errorf("%w: stored token expired and has no refresh token", ErrNotAuthorized)
	}
	return &token, nil
}

// savingTokenSource writes every newly issued access token back to the
// store so a refresh survives the process.
type savingTokenSource struct {
	base   oauth2.TokenSource
	store  TokenStore
	logger *log.Logger

	mu   stdsync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh google token: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		if err := s.store.Save(token); err != nil {
			s.logger.Warn("failed to persist refreshed google token", "path", s.store.Path, "err", err)
		}
	}
	return token, nil
}
