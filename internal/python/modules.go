package python

import (
	"context"
	"os"
	"path/filepath"

	"github.com/jward/trellis/internal/symbols"
)

// AddonsNamespace returns the odoo.addons namespace of the main entry,
// creating the odoo package and the namespace from disk when needed. It
// returns nil without a main entry or when the tree has no odoo/addons.
func (b *Builder) AddonsNamespace(ctx context.Context) *symbols.Symbol {
	if ns := b.entries.AddonsSymbol(); ns != nil {
		return ns
	}
	main := b.entries.Main()
	if main == nil {
		return nil
	}
	base := main.Symbol()
	if base == nil {
		return nil
	}
	odoo := b.child(ctx, base, "odoo")
	if odoo == nil {
		return nil
	}
	return b.child(ctx, odoo, "addons")
}

// LoadModule creates the module at dir under odoo.addons and queues it for
// ARCH. A module already loaded under the same name is returned as is, so
// the first addon path declaring a name wins.
func (b *Builder) LoadModule(ctx context.Context, dir string) *symbols.Symbol {
	ns := b.AddonsNamespace(ctx)
	if ns == nil {
		return nil
	}
	if existing := ns.ModuleChild(filepath.Base(dir)); existing != nil {
		return existing
	}
	module := symbols.CreateFromPath(b.env, dir, ns, true)
	if module == nil {
		return nil
	}
	b.env.AddToRebuildArch(module)
	return module
}

// LoadModules loads every module found directly under the addon
// directories of the session (the main tree's odoo/addons first), skipping
// directories for which skip returns true. It returns the loaded modules.
func (b *Builder) LoadModules(ctx context.Context, skip func(dir string) bool) []*symbols.Symbol {
	main := b.entries.Main()
	if main == nil {
		return nil
	}
	dirs := []string{filepath.Join(main.Path, "odoo", "addons")}
	for _, e := range b.entries.Addons() {
		dirs = append(dirs, e.Path)
	}
	var out []*symbols.Symbol
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			b.logger.Debug("python: addon directory unreadable", "dir", dir, "error", err)
			continue
		}
		for _, de := range entries {
			path := filepath.Join(dir, de.Name())
			if !de.IsDir() || !exists(filepath.Join(path, ManifestFile)) || (skip != nil && skip(path)) {
				continue
			}
			if module := b.LoadModule(ctx, path); module != nil {
				out = append(out, module)
			}
		}
	}
	return out
}
