package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/trellis/internal/store"
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics [file]",
	Short: "List the diagnostics of the snapshot",
	Long:  "Lists the diagnostics of every file, or of file. Line and column numbers are 0-based.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDiagnostics,
}

var symbolCmd = &cobra.Command{
	Use:   "symbol <tree>",
	Short: "Show the symbols at a dotted tree and their evaluations",
	Args:  cobra.ExactArgs(1),
	RunE:  runSymbol,
}

var modelCmd = &cobra.Command{
	Use:   "model <name>",
	Short: "Show the classes contributing to an Odoo model",
	Args:  cobra.ExactArgs(1),
	RunE:  runModel,
}

var blastCmd = &cobra.Command{
	Use:   "blast <file>",
	Short: "List the files transitively depending on file",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlast,
}

// --- Helpers ---

// openStore opens the snapshot from the --db flag path (or default).
func openStore() (*store.Store, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting cwd: %w", err)
	}
	dbPath := resolveDBPath(findRepoRoot(cwd))
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("snapshot not found: %s (run 'trellis index' first)", dbPath)
	}
	return store.NewStore(dbPath)
}

// resolveFilePath converts a file argument to an absolute path.
func resolveFilePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	return abs, nil
}

// outputResult marshals a CLIResult to w in the selected format.
func outputResult(w io.Writer, result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to w as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(w io.Writer, command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

// lookupFilePath fetches the file path for a file ID.
// Returns empty string if not found; logs non-ErrNoRows errors to stderr.
func lookupFilePath(s *store.Store, fileID int64) string {
	var path string
	err := s.DB().QueryRow("SELECT path FROM files WHERE id = ?", fileID).Scan(&path)
	if err != nil && err != sql.ErrNoRows {
		log.Printf("warning: lookupFilePath(%d): %v", fileID, err)
	}
	return path
}

// lookupSymbolName fetches just the name of a symbol by ID.
func lookupSymbolName(s *store.Store, id int64) string {
	var name string
	err := s.DB().QueryRow("SELECT name FROM symbols WHERE id = ?", id).Scan(&name)
	if err != nil && err != sql.ErrNoRows {
		log.Printf("warning: lookupSymbolName(%d): %v", id, err)
	}
	return name
}

// --- Commands ---

func runDiagnostics(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	s, err := openStore()
	if err != nil {
		return outputError(out, "diagnostics", err)
	}
	defer s.Close()

	var path string
	if len(args) > 0 {
		if path, err = resolveFilePath(args[0]); err != nil {
			return outputError(out, "diagnostics", err)
		}
	}
	diags, err := s.Diagnostics(path)
	if err != nil {
		return outputError(out, "diagnostics", err)
	}
	results := make([]CLIDiagnostic, 0, len(diags))
	for _, d := range diags {
		results = append(results, CLIDiagnostic{
			File:     d.Path,
			Line:     d.Line,
			Col:      d.Col,
			Severity: d.Severity,
			Code:     d.Code,
			Message:  d.Message,
			Source:   d.Source,
		})
	}
	return outputResult(out, CLIResult{Command: "diagnostics", Results: results})
}

func runSymbol(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	s, err := openStore()
	if err != nil {
		return outputError(out, "symbol", err)
	}
	defer s.Close()

	syms, err := s.SymbolsByTree(args[0])
	if err != nil {
		return outputError(out, "symbol", err)
	}
	results := make([]CLISymbol, 0, len(syms))
	for _, sym := range syms {
		evals, err := s.EvaluationsBySymbol(sym.ID)
		if err != nil {
			return outputError(out, "symbol", err)
		}
		cs := CLISymbol{
			ID:        sym.ID,
			Name:      sym.Name,
			Kind:      sym.Kind,
			Tree:      sym.Tree,
			File:      lookupFilePath(s, sym.FileID),
			StartLine: sym.StartLine,
			StartCol:  sym.StartCol,
		}
		for _, ev := range evals {
			cs.Evaluations = append(cs.Evaluations, CLIEvaluation{Target: ev.Target, Instance: ev.Instance, Value: ev.Value})
		}
		results = append(results, cs)
	}
	return outputResult(out, CLIResult{Command: "symbol", Results: results})
}

func runModel(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	s, err := openStore()
	if err != nil {
		return outputError(out, "model", err)
	}
	defer s.Close()

	models, err := s.ModelsByName(args[0])
	if err != nil {
		return outputError(out, "model", err)
	}
	results := make([]CLIModel, 0, len(models))
	for _, m := range models {
		cm := CLIModel{Name: m.Name, Module: m.Module, IsMain: m.IsMain}
		if m.SymbolID != nil {
			cm.Class = lookupSymbolName(s, *m.SymbolID)
		}
		results = append(results, cm)
	}
	return outputResult(out, CLIResult{Command: "model", Results: results})
}

func runBlast(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	s, err := openStore()
	if err != nil {
		return outputError(out, "blast", err)
	}
	defer s.Close()

	path, err := resolveFilePath(args[0])
	if err != nil {
		return outputError(out, "blast", err)
	}
	paths, err := s.BlastRadius(path)
	if err != nil {
		return outputError(out, "blast", err)
	}
	results := make([]CLIFile, 0, len(paths))
	for _, p := range paths {
		results = append(results, CLIFile{Path: p})
	}
	return outputResult(out, CLIResult{Command: "blast", Results: results})
}
