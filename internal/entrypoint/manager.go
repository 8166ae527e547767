package entrypoint

import (
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jward/trellis/internal/symbols"
)

var addonsTree = []string{"odoo", "addons"}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for structural misconfiguration reports.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns every entry point of a session.
type Manager struct {
	logger   *slog.Logger
	main     *Entry
	addons   []*Entry
	builtins []*Entry
	public   []*Entry
	custom   []*Entry
}

// New creates an empty Manager.
func New(opts ...Option) *Manager {
	m := &Manager{logger: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Main returns the main entry, or nil before the base is built.
func (m *Manager) Main() *Entry { return m.main }

// Addons returns the addon entries in registration order.
func (m *Manager) Addons() []*Entry { return slices.Clone(m.addons) }

// Customs returns the custom entries.
func (m *Manager) Customs() []*Entry { return slices.Clone(m.custom) }

// Reset drops every entry. With keepCustom the custom entries survive.
func (m *Manager) Reset(keepCustom bool) {
	m.main = nil
	m.addons = nil
	m.builtins = nil
	m.public = nil
	if !keepCustom {
		m.custom = nil
	}
}

// SetMainEntry replaces the main entry (and drops its addons) with one
// rooted at path, and materialises the directory chain down to path.
func (m *Manager) SetMainEntry(reg symbols.Registry, path string) *symbols.Symbol {
	path = filepath.Clean(path)
	m.main = newEntry(path, Main)
	m.addons = nil
	return m.CreateDirSymbolsFromPathToEntry(reg, path, m.main)
}

// AddEntryToBuiltins registers a stdlib directory.
func (m *Manager) AddEntryToBuiltins(reg symbols.Registry, path string) *symbols.Symbol {
	e := newEntry(filepath.Clean(path), Builtin)
	m.builtins = append(m.builtins, e)
	return m.CreateDirSymbolsFromPathToEntry(reg, e.Path, e)
}

// AddEntryToPublic registers a stub or site-packages directory.
func (m *Manager) AddEntryToPublic(reg symbols.Registry, path string) *symbols.Symbol {
	e := newEntry(filepath.Clean(path), Public)
	m.public = append(m.public, e)
	return m.CreateDirSymbolsFromPathToEntry(reg, e.Path, e)
}

// AddEntryToAddons registers an addon search path remapped under the main
// entry's odoo/addons namespace. The namespace, when already built, gets
// path appended to its disk paths.
func (m *Manager) AddEntryToAddons(path string) *Entry {
	if m.main == nil {
		m.logger.Error("entrypoint: addon path registered before main entry", "path", path)
		return nil
	}
	path = filepath.Clean(path)
	e := &Entry{
		Path:      path,
		Tree:      symbols.TreeFromPath(path),
		Type:      Addon,
		AddonPath: filepath.Join(m.main.Path, "odoo", "addons"),
		AddonTree: append(slices.Clone(m.main.Tree), addonsTree...),
		root:      m.main.root,
		prefix:    m.main.Tree,
	}
	m.addons = append(m.addons, e)
	if ns := e.Symbol(); ns != nil {
		ns.AddPath(path)
	}
	return e
}

// AddEntryToCustoms registers a single-file or single-package context.
func (m *Manager) AddEntryToCustoms(reg symbols.Registry, path string) *symbols.Symbol {
	path = filepath.Clean(path)
	e := newEntry(path, Custom)
	e.prefix = symbols.TreeFromPath(filepath.Dir(path))
	m.custom = append(m.custom, e)
	return m.CreateDirSymbolsFromPathToEntry(reg, path, e)
}

// CreateNewCustomEntryForPath creates a custom entry for a file that no
// configured entry covers and queues it for ARCH. It reports whether the
// entry was created.
func (m *Manager) CreateNewCustomEntryForPath(env symbols.Env, path string) bool {
	sym := m.AddEntryToCustoms(env, path)
	if sym == nil {
		m.logger.Error("entrypoint: unable to create custom entry", "path", path)
		m.RemoveEntriesWithPath(path)
		return false
	}
	sym.SetExternal(false)
	switch sym.Kind() {
	case symbols.KindFile, symbols.KindPythonPackage:
		sym.SetSelfImport(true)
	default:
		m.logger.Error("entrypoint: custom entry is not a python file or package",
			"path", path, "kind", sym.Kind())
		m.RemoveEntriesWithPath(path)
		return false
	}
	env.AddToRebuildArch(sym)
	return true
}

// CreateDirSymbolsFromPathToEntry builds the DiskDir chain from the entry's
// root down to the parent of path, then classifies path itself.
func (m *Manager) CreateDirSymbolsFromPathToEntry(reg symbols.Registry, path string, e *Entry) *symbols.Symbol {
	parts := symbols.TreeFromPath(filepath.Dir(path))
	cur := e.root
	prefix := string(filepath.Separator)
	if vol := filepath.VolumeName(path); vol != "" {
		prefix = vol + prefix
		parts = parts[1:]
	}
	dir := prefix
	for _, part := range parts {
		dir = filepath.Join(dir, part)
		next := cur.ModuleChild(part)
		if next == nil {
			next = cur.AddNewDiskDir(part, dir)
		}
		cur = next
	}
	if existing := cur.ModuleChild(strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".pyi"), ".py")); existing != nil {
		return existing
	}
	sym := symbols.CreateFromPath(reg, path, cur, false)
	if sym == nil {
		m.logger.Error("entrypoint: path is not importable", "path", path, "entry", e.String())
	}
	return sym
}

// IterMain returns the main entry and its addons, longest tree first.
func (m *Manager) IterMain() []*Entry {
	var out []*Entry
	if m.main != nil {
		out = append(out, m.main)
	}
	out = append(out, m.addons...)
	slices.SortStableFunc(out, func(a, b *Entry) int { return len(b.Tree) - len(a.Tree) })
	return out
}

// IterForImport returns the entries an import from current resolves
// against, in priority order.
func (m *Manager) IterForImport(current *Entry) []*Entry {
	var out []*Entry
	if current != nil && current.IsMainLike() {
		out = append(out, m.addons...)
		if m.main != nil {
			out = append(out, m.main)
		}
	} else {
		out = append(out, m.custom...)
	}
	out = append(out, m.builtins...)
	return append(out, m.public...)
}

// IterAllButMain returns builtins, public and custom entries.
func (m *Manager) IterAllButMain() []*Entry {
	return slices.Concat(m.builtins, m.public, m.custom)
}

// IterAll returns every entry, main ones first.
func (m *Manager) IterAll() []*Entry {
	return append(m.IterMain(), m.IterAllButMain()...)
}

// EntriesFor returns the entries valid for path, most specific first.
func (m *Manager) EntriesFor(path string) []*Entry {
	var out []*Entry
	for _, e := range m.IterAll() {
		if e.IsValidFor(path) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b *Entry) int { return len(b.Path) - len(a.Path) })
	return out
}

// EntryFor returns the entry that owns sym, choosing between entries that
// share a root by the longest path that covers the symbol.
func (m *Manager) EntryFor(sym *symbols.Symbol) *Entry {
	root := sym.Root()
	var shared []*Entry
	for _, e := range m.IterAll() {
		if e.root == root {
			shared = append(shared, e)
		}
	}
	switch len(shared) {
	case 0:
		m.logger.Error("entrypoint: symbol has no entry", "symbol", sym.Tree().String())
		return nil
	case 1:
		return shared[0]
	}
	path := symbolPath(sym)
	var best *Entry
	for _, e := range shared {
		if path != "" && e.IsValidFor(path) && (best == nil || len(e.Path) > len(best.Path)) {
			best = e
		}
	}
	if best != nil {
		return best
	}
	if m.main != nil && m.main.root == root {
		return m.main
	}
	return shared[0]
}

func symbolPath(sym *symbols.Symbol) string {
	for cur := sym; cur != nil; cur = cur.Parent() {
		if paths := cur.Paths(); len(paths) > 0 {
			return paths[len(paths)-1]
		}
	}
	return ""
}

// MainEntryTree returns the tree of sym relative to the main entry.
func (m *Manager) MainEntryTree(sym *symbols.Symbol) []string {
	tree := sym.Tree().Path
	if m.main == nil || sym.Root() != m.main.root {
		return tree
	}
	if symbols.HasPrefix(tree, m.main.Tree) {
		return tree[len(m.main.Tree):]
	}
	return tree
}

// TreeForMain turns a disk path into its tree relative to the main entry,
// applying addon remapping. It returns nil when path is not under the main
// entry or one of its addons.
func (m *Manager) TreeForMain(path string) []string {
	for _, e := range m.IterMain() {
		if e.IsValidFor(path) {
			return e.ImportTree(path)
		}
	}
	return nil
}

// AddonsSymbol returns the odoo.addons namespace of the main entry.
func (m *Manager) AddonsSymbol() *symbols.Symbol {
	if m.main == nil {
		return nil
	}
	tree := append(slices.Clone(m.main.Tree), addonsTree...)
	return m.main.root.GetOne(symbols.PathTree(tree...), symbols.EndOfFile)
}

// IsAddonsDir reports whether dir is an addon search path or the main
// entry's own odoo/addons directory.
func (m *Manager) IsAddonsDir(dir string) bool {
	dir = filepath.Clean(dir)
	for _, e := range m.addons {
		if e.Path == dir {
			return true
		}
	}
	return m.main != nil && dir == filepath.Join(m.main.Path, "odoo", "addons")
}

// SearchSymbolsToRebuild re-queues every symbol blocked on an import that
// path now satisfies. It reports whether anything was re-queued.
func (m *Manager) SearchSymbolsToRebuild(q symbols.Queue, path string) bool {
	var trees [][]string
	for _, e := range m.IterAll() {
		if !e.CanImport(path) {
			continue
		}
		tree := e.ImportTree(path)
		if !slices.ContainsFunc(trees, func(t []string) bool { return slices.Equal(t, tree) }) {
			trees = append(trees, tree)
		}
	}
	need := false
	for _, tree := range trees {
		for _, e := range m.IterAll() {
			if e.SearchSymbolsToRebuild(q, tree) {
				need = true
			}
		}
	}
	return need
}

// RemoveEntriesWithPath drops every custom entry rooted at path, and the
// main entry (with its addons) when path is the main path.
func (m *Manager) RemoveEntriesWithPath(path string) {
	path = filepath.Clean(path)
	for _, e := range m.IterAll() {
		if e.Path == path {
			e.toDelete = true
		}
	}
	m.CleanEntries()
}

// CleanEntries removes every entry marked for deletion. Dropping the main
// entry drops its addons.
func (m *Manager) CleanEntries() {
	keep := func(list []*Entry) []*Entry {
		return slices.DeleteFunc(list, func(e *Entry) bool { return e.toDelete })
	}
	if m.main != nil && m.main.toDelete {
		m.main = nil
		m.addons = nil
	}
	m.addons = keep(m.addons)
	m.builtins = keep(m.builtins)
	m.public = keep(m.public)
	m.custom = keep(m.custom)
}
