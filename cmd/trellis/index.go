package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/trellis"
)

var flagForce bool

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Build the symbol graph once and export the snapshot",
	Long:  "Loads the configured Odoo tree and addon paths, builds every python file under path that no entry covers as a custom entry, and writes the snapshot database.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete the snapshot before indexing")
}

// workspace is a session opened over a target directory.
type workspace struct {
	session *trellis.Session
	target  string
	dbPath  string
}

func openWorkspace(args []string) (*workspace, error) {
	target, err := resolveTargetDir(args)
	if err != nil {
		return nil, err
	}
	repoRoot := findRepoRoot(target)
	dbPath := resolveDBPath(repoRoot)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
	}
	if flagForce {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing snapshot for --force: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Cleared snapshot: %s\n", dbPath)
	}
	cfg, err := loadConfig(repoRoot)
	if err != nil {
		return nil, err
	}
	s, err := trellis.New(cfg, trellis.WithLogger(newLogger()), trellis.WithStore(dbPath))
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &workspace{session: s, target: target, dbPath: dbPath}, nil
}

// build initialises the session and indexes the target directory.
func (w *workspace) build(ctx context.Context) error {
	if err := w.session.Init(ctx); err != nil {
		return err
	}
	if err := w.session.IndexDirectory(ctx, w.target); err != nil {
		return fmt.Errorf("indexing: %w", err)
	}
	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()
	w, err := openWorkspace(args)
	if err != nil {
		return err
	}
	defer w.session.Close()

	if err := w.build(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Indexed %s in %s (modules: %d, models: %d)\n",
		w.target,
		time.Since(start).Round(time.Millisecond),
		len(w.session.Modules()),
		len(w.session.Models()),
	)
	fmt.Fprintf(os.Stderr, "Snapshot: %s\n", w.dbPath)
	return nil
}
