package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jward/trellis/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Index, then keep the snapshot up to date as files change",
	Long:  "Runs index, then watches path, the Odoo tree and the addon paths, rebuilding what changed until interrupted.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w, err := openWorkspace(args)
	if err != nil {
		return err
	}
	defer w.session.Close()
	if err := w.build(ctx); err != nil {
		return err
	}

	cfg := w.session.Config()
	paths := []string{w.target}
	if cfg.OdooPath != "" {
		paths = append(paths, cfg.OdooPath)
	}
	paths = append(paths, cfg.Addons...)
	watcher, err := watch.New(watch.Config{Paths: dedupe(paths), Excludes: cfg.WatchExcludes},
		watch.WithLogger(newLogger()))
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	events, err := watcher.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Stop()
	if err := w.session.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Watching %d path(s), snapshot: %s\n", len(paths), w.dbPath)
	return serve(ctx, w, events)
}

// serve hands watcher events to the session until ctx is done or the
// watcher stops.
func serve(ctx context.Context, w *workspace, events <-chan watch.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			batch := []watch.Event{ev}
			for drained := false; !drained; {
				select {
				case more, ok := <-events:
					if ok {
						batch = append(batch, more)
					} else {
						drained = true
					}
				default:
					drained = true
				}
			}
			w.session.DidChangeWatchedFiles(ctx, batch)
		}
	}
}

// dedupe drops empty and repeated paths, keeping the first occurrence.
func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0:0]
	for _, p := range paths {
		if p == "" {
			continue
		}
		p = filepath.Clean(p)
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}
