// ABOUTME: Address book CLI commands
// ABOUTME: Human-friendly commands for managing the local contacts that get reconciled
package cli

import (
	"flag"
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/sync"
)

// AddContactCommand adds a contact to the local address book.
func AddContactCommand(rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("add-contact", flag.ExitOnError)
	name := fs.String("name", "", "Contact name (required)")
	phone := fs.String("phone", "", "Phone number (required)")
	email := fs.String("email", "", "Email address")
	source := fs.String("source", "manual", "Where the contact came from: device, invite or manual")
	_ = fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("--name is required")
	}
	if *phone == "" {
		return fmt.Errorf("--phone is required")
	}
	src, err := models.ParseSource(*source)
	if err != nil {
		return err
	}

	entry, err := db.AddContact(rt.DB, *name, *phone, *email, src)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(rt.Out, "✓ Contact added: %s (ID: %s)\n", entry.DisplayName, entry.ID)
	_, _ = fmt.Fprintf(rt.Out, "  Phone: %s → %s\n", entry.Phone, entry.NormalizedPhone)
	if entry.Email != "" {
		_, _ = fmt.Fprintf(rt.Out, "  Email: %s\n", entry.Email)
	}
	return nil
}

// ListContactsCommand lists the local address book.
func ListContactsCommand(rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("list-contacts", flag.ExitOnError)
	query := fs.String("query", "", "Search by name, phone or email")
	limit := fs.Int("limit", 50, "Maximum results")
	_ = fs.Parse(args)

	entries, err := db.FindContacts(rt.DB, *query, *limit)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		_, _ = fmt.Fprintln(rt.Out, "No contacts found")
		return nil
	}

	w := tabwriter.NewWriter(rt.Out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tPHONE\tEMAIL\tSOURCE\tID")
	_, _ = fmt.Fprintln(w, "----\t-----\t-----\t------\t--")

	for _, e := range entries {
		email := e.Email
		if email == "" {
			email = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.DisplayName, e.NormalizedPhone, email, e.Source, e.ID.String()[:8])
	}
	_ = w.Flush()

	_, _ = fmt.Fprintf(rt.Out, "\nTotal: %d contact(s)\n", len(entries))
	return nil
}

// RemoveContactCommand removes a contact from the local address book.
// Remote records are untouched; use 'rolodex delete' for those.
func RemoveContactCommand(rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("remove-contact", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("contact ID is required")
	}

	contactID, err := uuid.Parse(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid contact ID: %w", err)
	}

	removed, err := db.DeleteContact(rt.DB, contactID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("contact not found: %s", contactID)
	}

	_, _ = fmt.Fprintf(rt.Out, "✓ Contact removed: %s\n", contactID)
	return nil
}

// ImportSnapshotCommand copies a JSON snapshot into the local address book.
func ImportSnapshotCommand(rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("import-snapshot", flag.ExitOnError)
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("snapshot file is required")
	}
	snap, err := sync.LoadSnapshotFile(fs.Arg(0))
	if err != nil {
		return err
	}
	contacts, err := snap.LocalContacts()
	if err != nil {
		return err
	}
	return importContacts(rt, contacts)
}
