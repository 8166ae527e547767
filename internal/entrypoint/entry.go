// Package entrypoint maps disk paths onto independently rooted dotted
// namespaces: the stdlib, stub directories, the main Odoo tree, its addon
// paths, and ad-hoc entries for files outside any configured root.
package entrypoint

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jward/trellis/internal/symbols"
)

// Type is the role of an entry point.
type Type int

const (
	Main Type = iota
	Builtin
	Public
	Addon
	Custom
)

func (t Type) String() string {
	switch t {
	case Main:
		return "main"
	case Builtin:
		return "builtin"
	case Public:
		return "public"
	case Addon:
		return "addon"
	case Custom:
		return "custom"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Entry is one rooted namespace bound to a disk search root.
type Entry struct {
	Path string
	Tree []string
	Type Type
	// AddonPath and AddonTree remap an addon directory under the main
	// entry's odoo/addons namespace.
	AddonPath string
	AddonTree []string

	root     *symbols.Symbol
	prefix   []string
	notFound symbols.Set
	toDelete bool
}

func newEntry(path string, typ Type) *Entry {
	tree := symbols.TreeFromPath(path)
	return &Entry{
		Path:   path,
		Tree:   tree,
		Type:   typ,
		root:   symbols.NewRoot(typ == Builtin || typ == Public),
		prefix: tree,
	}
}

// Root returns the root symbol owned (or, for addons, shared) by e.
func (e *Entry) Root() *symbols.Symbol { return e.root }

// ImportPrefix is the tree an absolute import is resolved under.
func (e *Entry) ImportPrefix() []string { return e.prefix }

// IsPublic reports whether e holds third-party code.
func (e *Entry) IsPublic() bool { return e.Type == Public || e.Type == Builtin }

// IsMainLike reports whether e is the main entry or one of its addons.
func (e *Entry) IsMainLike() bool { return e.Type == Main || e.Type == Addon }

// IsValidFor reports whether path lies under the entry's disk root.
func (e *Entry) IsValidFor(path string) bool {
	path = filepath.Clean(path)
	return path == e.Path || strings.HasPrefix(path, e.Path+string(filepath.Separator))
}

// CanImport reports whether an import resolved through e can reach path.
// A custom entry imports its siblings, so it covers its directory.
func (e *Entry) CanImport(path string) bool {
	root := e.Path
	if e.Type == Custom {
		root = filepath.Dir(e.Path)
	}
	path = filepath.Clean(path)
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// TreeForEntry turns a disk path under e into its dotted tree, applying
// the addon remapping. path must be valid for e.
func (e *Entry) TreeForEntry(path string) []string {
	path = filepath.Clean(path)
	if e.AddonPath != "" {
		rel, err := filepath.Rel(e.Path, path)
		if err == nil {
			return symbols.TreeFromPath(filepath.Join(e.AddonPath, rel))
		}
	}
	return symbols.TreeFromPath(path)
}

// ImportTree turns a disk path under e into the dotted name an import
// statement would use for it.
func (e *Entry) ImportTree(path string) []string {
	tree := e.TreeForEntry(path)
	if symbols.HasPrefix(tree, e.prefix) {
		return tree[len(e.prefix):]
	}
	return tree
}

// Symbol returns the symbol standing for the entry's own path.
func (e *Entry) Symbol() *symbols.Symbol {
	tree := e.Tree
	if e.AddonTree != nil {
		tree = e.AddonTree
	}
	return e.root.GetOne(symbols.PathTree(tree...), symbols.EndOfFile)
}

// AddNotFound registers sym as blocked on an unresolved import.
func (e *Entry) AddNotFound(sym *symbols.Symbol) { e.notFound.Add(sym) }

// NotFoundSymbols returns the symbols currently blocked on an import.
func (e *Entry) NotFoundSymbols() []*symbols.Symbol { return e.notFound.All() }

// SearchSymbolsToRebuild treats tree as newly available and re-queues the
// blocked symbols that were looking for it, at the step that failed. A
// symbol leaves the registry once none of its recorded trees is missing.
// It reports whether anything was re-queued.
func (e *Entry) SearchSymbolsToRebuild(q symbols.Queue, tree []string) bool {
	need := false
	for _, sym := range e.notFound.All() {
		for _, nf := range sym.TakeNotFound(tree) {
			need = true
			switch nf.Step {
			case symbols.StepArch:
				q.AddToRebuildArch(sym)
			case symbols.StepArchEval:
				q.AddToRebuildArchEval(sym)
			default:
				symbols.InvalidateSubFunctions(sym)
				q.AddToValidations(sym)
			}
		}
		if len(sym.NotFound()) == 0 {
			e.notFound.Remove(sym)
		}
	}
	return need
}

func (e *Entry) String() string { return e.Type.String() + ":" + e.Path }
