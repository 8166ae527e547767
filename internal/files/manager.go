// Package files keeps the content of every python file the session knows
// about: editor buffers and disk reads, their versions, the parsed
// tree-sitter trees (the SYNTAX stage) and the diagnostics of each stage.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/jward/trellis/internal/diag"
	"github.com/jward/trellis/internal/symbols"
)

// DefaultCacheSize bounds the number of parsed trees kept in memory.
const DefaultCacheSize = 512

// slots holds SYNTAX plus one slot per build step.
const slots = len(symbols.Steps) + 1

func slot(step symbols.BuildStep) int { return int(step) + 1 }

// File is the content of one source file.
type File struct {
	Path    string
	Version int
	Opened  bool

	source []byte
	hash   uint64
	loaded bool
	diags  [slots][]diag.Diagnostic
	dirty  bool
}

// Source returns the current content.
func (f *File) Source() []byte { return f.source }

// Hash returns the xxh3 hash of the current content.
func (f *File) Hash() uint64 { return f.hash }

type cacheKey struct {
	path string
	hash uint64
}

// PublishFunc receives the diagnostics of one file.
type PublishFunc func(path string, version int, diags []diag.Diagnostic)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithCacheSize sets how many parsed trees are cached.
func WithCacheSize(n int) Option {
	return func(m *Manager) { m.cacheSize = n }
}

// WithOverrides sets per-code severity overrides applied on read.
func WithOverrides(o diag.Overrides) Option {
	return func(m *Manager) { m.overrides = o }
}

// WithWorkers bounds the parallelism of Preparse. Defaults to NumCPU.
func WithWorkers(n int) Option {
	return func(m *Manager) { m.workers = n }
}

// Manager owns every File. It is not safe for concurrent mutation; only
// Preparse parses in parallel, and it touches nothing but file trees.
type Manager struct {
	logger    *slog.Logger
	files     map[string]*File
	trees     *lru.Cache[cacheKey, *sitter.Tree]
	cacheSize int
	overrides diag.Overrides
	workers   int
}

// New creates a Manager.
func New(opts ...Option) (*Manager, error) {
	m := &Manager{
		logger:    slog.Default(),
		files:     make(map[string]*File),
		cacheSize: DefaultCacheSize,
		workers:   runtime.NumCPU(),
	}
	for _, o := range opts {
		o(m)
	}
	trees, err := lru.New[cacheKey, *sitter.Tree](m.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("files: tree cache: %w", err)
	}
	m.trees = trees
	return m, nil
}

// Get returns the file at path, or nil.
func (m *Manager) Get(path string) *File { return m.files[path] }

// Paths returns every known path, sorted.
func (m *Manager) Paths() []string {
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Update replaces the content of path. A nil content reads the file from
// disk. Stale editor versions are ignored. It reports whether the content
// changed.
func (m *Manager) Update(path string, content []byte, version int) (*File, bool, error) {
	f := m.files[path]
	if f == nil {
		f = &File{Path: path}
	}
	if content == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, false, fmt.Errorf("files: read %s: %w", path, err)
		}
		content = data
	} else if f.Opened && version > 0 && version <= f.Version {
		return f, false, nil
	}
	m.files[path] = f
	if version > 0 {
		f.Version = version
	}
	h := xxh3.Hash(content)
	changed := !f.loaded || h != f.hash
	f.source, f.hash, f.loaded = content, h, true
	return f, changed, nil
}

// Open marks path as opened in the editor with content.
func (m *Manager) Open(path string, content []byte, version int) (*File, bool, error) {
	f := m.files[path]
	if f == nil {
		f = &File{Path: path}
		m.files[path] = f
	}
	f.Opened = true
	f.Version = 0
	return m.Update(path, content, version)
}

// Close marks path as no longer opened and reloads it from disk. A file
// that vanished from disk is forgotten.
func (m *Manager) Close(path string) (*File, bool, error) {
	f := m.files[path]
	if f == nil {
		return nil, false, nil
	}
	f.Opened = false
	f, changed, err := m.Update(path, nil, 0)
	if errors.Is(err, fs.ErrNotExist) {
		m.Remove(path)
		return nil, true, nil
	}
	return f, changed, err
}

// Ensure returns the file at path, loading it from disk if unknown.
func (m *Manager) Ensure(path string) (*File, error) {
	if f := m.files[path]; f != nil && f.loaded {
		return f, nil
	}
	f, _, err := m.Update(path, nil, 0)
	return f, err
}

// Remove forgets path and its cached tree.
func (m *Manager) Remove(path string) {
	f := m.files[path]
	if f == nil {
		return
	}
	m.trees.Remove(cacheKey{path, f.hash})
	delete(m.files, path)
}

// Rename moves an opened buffer from oldPath to newPath.
func (m *Manager) Rename(oldPath, newPath string) {
	f := m.files[oldPath]
	if f == nil {
		return
	}
	m.Remove(oldPath)
	f.Path = newPath
	f.diags = [slots][]diag.Diagnostic{}
	f.dirty = true
	m.files[newPath] = f
}

// Reset forgets every file and tree.
func (m *Manager) Reset() {
	m.files = make(map[string]*File)
	m.trees.Purge()
}

// =============================================================================
// SYNTAX stage
// =============================================================================

// Tree returns the parsed tree of f, parsing on a cache miss. Parsing
// records the SYNTAX diagnostics of f.
func (m *Manager) Tree(ctx context.Context, f *File) (*sitter.Tree, error) {
	key := cacheKey{f.Path, f.hash}
	if t, ok := m.trees.Get(key); ok {
		return t, nil
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(Python())
	tree, err := parser.ParseCtx(ctx, nil, f.source)
	if err != nil {
		return nil, fmt.Errorf("files: parse %s: %w", f.Path, err)
	}
	m.trees.Add(key, tree)
	var diags []diag.Diagnostic
	collectSyntaxErrors(tree.RootNode(), f, &diags)
	f.setDiagnostics(symbols.StepSyntax, diags)
	return tree, nil
}

// Preparse parses paths in parallel so the drain finds warm trees.
func (m *Manager) Preparse(ctx context.Context, paths []string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.workers, 1))
	for _, p := range paths {
		f := m.files[p]
		if f == nil || !f.loaded {
			continue
		}
		if _, ok := m.trees.Peek(cacheKey{f.Path, f.hash}); ok {
			continue
		}
		g.Go(func() error {
			_, err := m.Tree(ctx, f)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("files: preparse: %w", err)
	}
	return nil
}

func collectSyntaxErrors(node *sitter.Node, f *File, out *[]diag.Diagnostic) {
	if node.IsError() || node.IsMissing() {
		msg := "invalid syntax"
		if node.IsMissing() {
			msg = fmt.Sprintf("missing %q", node.Type())
		}
		start := node.StartPoint()
		*out = append(*out, diag.Diagnostic{
			Path:     f.Path,
			Range:    symbols.Range{Start: node.StartByte(), End: node.EndByte()},
			Line:     start.Row,
			Column:   start.Column,
			Severity: diag.Error,
			Code:     diag.CodeSyntax,
			Message:  msg,
			Source:   "syntax",
		})
		return
	}
	if !node.HasError() {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectSyntaxErrors(node.Child(i), f, out)
	}
}

// =============================================================================
// Diagnostics
// =============================================================================

func (f *File) setDiagnostics(step symbols.BuildStep, diags []diag.Diagnostic) {
	f.diags[slot(step)] = diags
	f.dirty = true
}

// SetDiagnostics replaces the diagnostics of path produced at step.
func (m *Manager) SetDiagnostics(path string, step symbols.BuildStep, diags []diag.Diagnostic) {
	f := m.files[path]
	if f == nil {
		m.logger.Debug("files: diagnostics for unknown file", "path", path, "step", step)
		return
	}
	f.setDiagnostics(step, diags)
}

// Diagnostics returns every diagnostic of path, overrides applied, in
// position order.
func (m *Manager) Diagnostics(path string) []diag.Diagnostic {
	f := m.files[path]
	if f == nil {
		return nil
	}
	var all []diag.Diagnostic
	for _, d := range f.diags {
		all = append(all, d...)
	}
	all = m.overrides.Apply(all)
	diag.Sort(all)
	return all
}

// Publish hands the diagnostics of every file changed since the last
// publish to fn, in path order, and returns how many were published.
func (m *Manager) Publish(fn PublishFunc) int {
	n := 0
	for _, p := range m.Paths() {
		f := m.files[p]
		if !f.dirty {
			continue
		}
		f.dirty = false
		n++
		if fn != nil {
			fn(p, f.Version, m.Diagnostics(p))
		}
	}
	return n
}
