// ABOUTME: Google CLI commands
// ABOUTME: Handles OAuth setup and importing Google contacts into the address book
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/sync"
)

// SyncInitCommand handles OAuth setup
func SyncInitCommand(ctx context.Context, rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	_ = fs.Parse(args)

	config, err := sync.GoogleOAuthConfig()
	if err != nil {
		return err
	}
	tokens := sync.DefaultTokenStore()
	state := uuid.NewString()

	// Start local server for OAuth callback
	callbackChan := make(chan *oauth2.Token, 1)
	errChan := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			errChan <- fmt.Errorf("oauth callback state mismatch")
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no authorization code received")
			return
		}

		token, err := config.Exchange(ctx, code)
		if err != nil {
			errChan <- fmt.Errorf("failed to exchange code: %w", err)
			return
		}

		callbackChan <- token
		_, _ = fmt.Fprintf(w, "Authorization successful! You can close this window.")
	})

	server := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()
	defer func() { _ = server.Shutdown(context.WithoutCancel(ctx)) }()

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline)

	_, _ = fmt.Fprintln(rt.Out, "Opening browser for Google OAuth...")
	_, _ = fmt.Fprintf(rt.Out, "\nIf browser doesn't open, visit this URL:\n%s\n\n", authURL)

	_ = openBrowser(authURL)

	select {
	case token := <-callbackChan:
		if err := tokens.Save(token); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}

		_, _ = fmt.Fprintf(rt.Out, "\n✓ Authenticated successfully\n")
		_, _ = fmt.Fprintf(rt.Out, "✓ Tokens saved to %s\n\n", tokens.Path)
		_, _ = fmt.Fprintln(rt.Out, "Ready! Run 'rolodex reconcile --from-google' or 'rolodex crm import-google'.")
		return nil

	case err := <-errChan:
		return fmt.Errorf("OAuth flow failed: %w", err)

	case <-ctx.Done():
		return ctx.Err()
	}
}

func loadGoogleContacts(ctx context.Context, rt *Runtime) ([]models.LocalContact, error) {
	config, err := sync.GoogleOAuthConfig()
	if err != nil {
		return nil, err
	}
	service, err := sync.NewPeopleClient(ctx, config, sync.DefaultTokenStore(), rt.Logger)
	if err != nil {
		return nil, err
	}
	return sync.ImportGoogleContacts(ctx, sync.PeopleServiceLister{Service: service}, rt.Logger)
}

// ImportGoogleCommand copies Google contacts into the local address book.
// Phones already in the address book are skipped.
func ImportGoogleCommand(ctx context.Context, rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("import-google", flag.ExitOnError)
	_ = fs.Parse(args)

	_, _ = fmt.Fprintln(rt.Out, "Importing Google Contacts...")
	_, _ = fmt.Fprintln(rt.Out, "  → Fetching contacts...")

	contacts, err := loadGoogleContacts(ctx, rt)
	if err != nil {
		return err
	}
	return importContacts(rt, contacts)
}

func importContacts(rt *Runtime, contacts []models.LocalContact) error {
	var added, duplicates int
	for _, c := range contacts {
		_, err := db.AddContact(rt.DB, c.DisplayName, c.NormalizedPhone, c.Email, c.Source)
		switch {
		case errors.Is(err, db.ErrDuplicatePhone):
			duplicates++
		case err != nil:
			return fmt.Errorf("failed to import %s: %w", c.DisplayName, err)
		default:
			added++
		}
	}

	_, _ = fmt.Fprintf(rt.Out, "  ✓ Added: %d\n", added)
	_, _ = fmt.Fprintf(rt.Out, "  ✓ Already in address book: %d\n", duplicates)
	return nil
}

// openBrowser attempts to open URL in default browser
func openBrowser(url string) error {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "darwin":
		cmd = "open"
		args = []string{url}
	case "windows":
		cmd = "cmd"
		args = []string{"/c", "start", url}
	default:
		cmd = "xdg-open"
		args = []string{url}
	}

	command := exec.Command(cmd, args...)
	return command.Start()
}
