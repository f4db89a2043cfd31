// ABOUTME: Reconcile, create and delete CLI commands
// ABOUTME: Loads local contacts from a snapshot, Google or the address book and prints pass reports
package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/handlers"
	"github.com/harperreed/rolodex/models"
	"github.com/harperreed/rolodex/sync"
)

type sourceFlags struct {
	snapshot   *string
	fromGoogle *bool
	asJSON     *bool
}

func addSourceFlags(fs *flag.FlagSet) sourceFlags {
	return sourceFlags{
		snapshot:   fs.String("snapshot", "", "JSON address-book snapshot to reconcile"),
		fromGoogle: fs.Bool("from-google", false, "Read contacts from Google (run 'rolodex sync init' first)"),
		asJSON:     fs.Bool("json", false, "Print the report as JSON"),
	}
}

// loadLocals reads the batch to reconcile. The local address book is the
// default source.
func loadLocals(ctx context.Context, rt *Runtime, f sourceFlags) ([]models.LocalContact, error) {
	switch {
	case *f.snapshot != "" && *f.fromGoogle:
		return nil, fmt.Errorf("--snapshot and --from-google are mutually exclusive")
	case *f.snapshot != "":
		snap, err := sync.LoadSnapshotFile(*f.snapshot)
		if err != nil {
			return nil, err
		}
		if snap.Account != "" && snap.Account != rt.Config.Account {
			return nil, fmt.Errorf("snapshot belongs to account %q, configured account is %q", snap.Account, rt.Config.Account)
		}
		return snap.LocalContacts()
	case *f.fromGoogle:
		return loadGoogleContacts(ctx, rt)
	default:
		return db.LocalContacts(rt.DB)
	}
}

// ReconcileCommand runs a full reconciliation pass.
func ReconcileCommand(ctx context.Context, rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	src := addSourceFlags(fs)
	_ = fs.Parse(args)

	return runPass(ctx, rt, src, rt.Coordinator.ReconcileBatch)
}

// CreateCommand creates the local contacts that are not yet known remotely.
func CreateCommand(ctx context.Context, rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	src := addSourceFlags(fs)
	_ = fs.Parse(args)

	return runPass(ctx, rt, src, rt.Coordinator.Create)
}

type passFunc func(context.Context, []models.LocalContact) (*sync.Report, error)

func runPass(ctx context.Context, rt *Runtime, src sourceFlags, pass passFunc) error {
	if err := rt.RequireAccount(); err != nil {
		return err
	}
	locals, err := loadLocals(ctx, rt, src)
	if err != nil {
		return err
	}
	if !*src.asJSON {
		_, _ = fmt.Fprintf(rt.Out, "→ Reconciling %d contact(s) for %s...\n", len(locals), rt.Config.Account)
	}

	report, err := pass(ctx, locals)
	if err != nil {
		return err
	}
	if *src.asJSON {
		return writeJSON(rt.Out, handlers.ReportToOutput(report))
	}
	printReport(rt.Out, report)
	return nil
}

func printReport(w io.Writer, r *sync.Report) {
	_, _ = fmt.Fprintf(w, "✓ Created: %d\n", len(r.Created))
	for _, o := range r.Created {
		_, _ = fmt.Fprintf(w, "    %s (%s) → %s\n", o.Contact.DisplayName, o.Contact.NormalizedPhone, o.Ref.RemoteID)
	}
	if n := len(r.AlreadyExisted); n > 0 {
		_, _ = fmt.Fprintf(w, "✓ Already existed: %d\n", n)
	}
	_, _ = fmt.Fprintf(w, "  Already remote: %d\n", len(r.AlreadyRemote))
	_, _ = fmt.Fprintf(w, "  Platform users: %d\n", len(r.AlreadyPlatformUser))
	for _, phone := range sortedKeys(r.AlreadyPlatformUser) {
		ref := r.AlreadyPlatformUser[phone]
		_, _ = fmt.Fprintf(w, "    %s (%s)\n", ref.DisplayName, phone)
	}
	if n := len(r.Skipped); n > 0 {
		_, _ = fmt.Fprintf(w, "  Skipped (no phone): %d\n", n)
	}
	if n := len(r.Failed); n > 0 {
		_, _ = fmt.Fprintf(w, "✗ Failed: %d\n", n)
		for _, f := range r.Failed {
			_, _ = fmt.Fprintf(w, "    %s (%s): %s: %s\n", f.Contact.DisplayName, f.Contact.NormalizedPhone, f.Kind, f.Kind.Message())
		}
	}
	if r.Session != nil {
		points := 0
		for _, rec := range r.Session.AddedRecords {
			points += rec.PointsAwarded
		}
		_, _ = fmt.Fprintf(w, "✓ Session %s: %d point(s)\n", r.Session.SessionID, points)
	}
	printRecommendation(w, r.Recommendation)
}

func printRecommendation(w io.Writer, rec models.Recommendation) {
	if rec.ShouldAddMore {
		_, _ = fmt.Fprintf(w, "→ Next: add %d more (%s)\n", rec.Count, rec.Reason)
	} else {
		_, _ = fmt.Fprintf(w, "→ Next: nothing to add (%s)\n", rec.Reason)
	}
}

// DeleteCommand deletes remote contacts by id.
func DeleteCommand(ctx context.Context, rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print the report as JSON")
	_ = fs.Parse(args)

	if err := rt.RequireAccount(); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("at least one remote contact ID is required")
	}

	report, err := rt.Coordinator.Delete(ctx, fs.Args())
	if err != nil {
		return err
	}
	return printDeleteReport(rt.Out, report, *asJSON)
}

// DeleteAllCommand deletes every remote contact of the account.
func DeleteAllCommand(ctx context.Context, rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("delete-all", flag.ExitOnError)
	confirm := fs.Bool("confirm", false, "Confirm deleting every remote contact")
	asJSON := fs.Bool("json", false, "Print the report as JSON")
	_ = fs.Parse(args)

	if err := rt.RequireAccount(); err != nil {
		return err
	}
	if !*confirm {
		_, _ = fmt.Fprintf(rt.Out, "WARNING: This deletes every remote contact owned by %s!\n", rt.Config.Account)
		_, _ = fmt.Fprintln(rt.Out, "\nTo confirm, run:\n  rolodex delete-all --confirm")
		return nil
	}

	report, err := rt.Coordinator.DeleteAll(ctx)
	if err != nil {
		return err
	}
	return printDeleteReport(rt.Out, report, *asJSON)
}

func printDeleteReport(w io.Writer, r *sync.DeleteReport, asJSON bool) error {
	if asJSON {
		return writeJSON(w, handlers.DeleteReportToOutput(r))
	}
	_, _ = fmt.Fprintf(w, "✓ Deleted: %d\n", r.Deleted)
	_, _ = fmt.Fprintf(w, "✓ Already absent: %d\n", r.AlreadyAbsent)
	if n := len(r.Unknown); n > 0 {
		_, _ = fmt.Fprintf(w, "  Not in cache (tried by id only): %d\n", n)
	}
	_, _ = fmt.Fprintf(w, "  Ledger records removed: %d\n", r.LedgerRemoved)
	if n := len(r.Failed); n > 0 {
		_, _ = fmt.Fprintf(w, "✗ Failed: %d\n", n)
		for _, f := range r.Failed {
			_, _ = fmt.Fprintf(w, "    %s: %s: %s\n", f.Ref.RemoteID, f.Kind, f.Kind.Message())
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
