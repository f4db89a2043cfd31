// ABOUTME: Stats and status CLI commands
// ABOUTME: Renders points, weekly activity and sync state, styled with lipgloss on a terminal
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/harperreed/rolodex/db"
	"github.com/harperreed/rolodex/handlers"
	"github.com/harperreed/rolodex/stats"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Width(18)

	valueStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	barStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	idleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	syncingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// StatsCommand prints the account's contacts-added summary.
func StatsCommand(ctx context.Context, rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print stats as JSON")
	_ = fs.Parse(args)

	if err := rt.RequireAccount(); err != nil {
		return err
	}
	if *asJSON {
		_, out, err := handlers.NewReconcileHandlers(rt.Coordinator, rt.DB).GetStats(ctx, nil, handlers.StatsInput{})
		if err != nil {
			return err
		}
		return writeJSON(rt.Out, out)
	}
	s, err := rt.Coordinator.Stats(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprint(rt.Out, RenderStats(s, isTerminal(rt.Out)))
	return nil
}

// RenderStats formats stats for display. styled adds colour and layout.
func RenderStats(s stats.Stats, styled bool) string {
	last := "never"
	if s.LastSessionAt != nil {
		last = s.LastSessionAt.Local().Format("2006-01-02 15:04")
	}
	next := fmt.Sprintf("add %d more (%s)", s.Recommendation.Count, s.Recommendation.Reason)
	if !s.Recommendation.ShouldAddMore {
		next = fmt.Sprintf("nothing to add (%s)", s.Recommendation.Reason)
	}
	rows := [][2]string{
		{"Contacts added", fmt.Sprint(s.TotalContacts)},
		{"This week", fmt.Sprint(s.ThisWeekAdded)},
		{"Points", fmt.Sprint(s.TotalPoints)},
		{"Sessions", fmt.Sprint(s.SessionCount)},
		{"Last session", last},
		{"Next", next},
	}

	var b strings.Builder
	title := fmt.Sprintf("Stats for %s", s.Account)
	if styled {
		b.WriteString(titleStyle.Render(title) + "\n")
	} else {
		b.WriteString(title + "\n\n")
	}
	for _, r := range rows {
		if styled {
			b.WriteString(labelStyle.Render(r[0]) + valueStyle.Render(r[1]) + "\n")
		} else {
			fmt.Fprintf(&b, "%-18s%s\n", r[0], r[1])
		}
	}

	if len(s.Weekly) > 0 {
		b.WriteString("\nWeekly\n")
		peak := 0
		for _, w := range s.Weekly {
			peak = max(peak, w.Count)
		}
		for _, w := range s.Weekly {
			bar := strings.Repeat("█", scaled(w.Count, peak, 30))
			if styled {
				bar = barStyle.Render(bar)
			}
			fmt.Fprintf(&b, "  %s %4d %s\n", w.ISOWeekKey, w.Count, bar)
		}
	}
	return b.String()
}

func scaled(v, peak, width int) int {
	if peak <= 0 || v <= 0 {
		return 0
	}
	return max(1, v*width/peak)
}

// StatusCommand shows the last pass status of every account.
func StatusCommand(rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	_ = fs.Parse(args)

	states, err := db.GetAllSyncStates(rt.DB)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		_, _ = fmt.Fprintln(rt.Out, "No reconciliation has run yet")
		return nil
	}

	styled := isTerminal(rt.Out)
	for _, st := range states {
		status := st.Status
		if styled {
			switch status {
			case "idle":
				status = idleStyle.Render(status)
			case "syncing":
				status = syncingStyle.Render(status)
			case "error":
				status = errorStyle.Render(status)
			}
		}
		last := "never"
		if st.LastSyncTime != nil {
			last = formatTimeSince(*st.LastSyncTime, time.Now())
		}
		_, _ = fmt.Fprintf(rt.Out, "%-24s %-10s last success: %s\n", st.Account, status, last)
		if st.ErrorMessage != "" {
			_, _ = fmt.Fprintf(rt.Out, "  ✗ %s\n", st.ErrorMessage)
		}
	}
	return nil
}

func formatTimeSince(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
