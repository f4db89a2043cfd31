// ABOUTME: Watch command that re-runs reconciliation when a snapshot file changes
// ABOUTME: Watches the snapshot's directory with fsnotify and debounces bursts of writes
package cli

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the snapshot must be quiet before a pass runs.
const DefaultDebounce = time.Second

// WatchFile calls onChange once per burst of changes to path until ctx is
// done. The parent directory is watched so editors that replace the file
// are seen.
func WatchFile(ctx context.Context, path string, debounce time.Duration, logger *log.Logger, onChange func(context.Context) error) error {
	if logger == nil {
		logger = log.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	// fire stays nil until a change is pending
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", "path", abs, "err", err)

		case <-fire:
			fire = nil
			if err := onChange(ctx); err != nil {
				logger.Error("pass after snapshot change failed", "path", abs, "err", err)
			}
		}
	}
}

// WatchCommand reconciles a snapshot now and again whenever it changes.
func WatchCommand(ctx context.Context, rt *Runtime, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	snapshot := fs.String("snapshot", "", "JSON address-book snapshot to watch (required)")
	debounce := fs.Duration("debounce", DefaultDebounce, "Quiet period before reconciling")
	_ = fs.Parse(args)

	if *snapshot == "" {
		return fmt.Errorf("--snapshot is required")
	}
	if err := rt.RequireAccount(); err != nil {
		return err
	}

	fromGoogle := false
	asJSON := false
	src := sourceFlags{snapshot: snapshot, fromGoogle: &fromGoogle, asJSON: &asJSON}
	pass := func(ctx context.Context) error {
		return runPass(ctx, rt, src, rt.Coordinator.ReconcileBatch)
	}

	if err := pass(ctx); err != nil {
		_, _ = fmt.Fprintf(rt.Out, "✗ %v\n", err)
	}
	_, _ = fmt.Fprintf(rt.Out, "→ Watching %s (Ctrl-C to stop)\n", *snapshot)
	return WatchFile(ctx, *snapshot, *debounce, rt.Logger, pass)
}
