package python

import (
	"context"
	"os"
	"path/filepath"
	"slices"

	"github.com/jward/trellis/internal/entrypoint"
	"github.com/jward/trellis/internal/symbols"
)

// importBases returns the symbols an absolute import from file starts at,
// in resolution order.
func (b *Builder) importBases(file *symbols.Symbol) []*symbols.Symbol {
	var out []*symbols.Symbol
	for _, e := range b.entries.IterForImport(b.entries.EntryFor(file)) {
		base := e.Root().GetOne(symbols.PathTree(e.ImportPrefix()...), symbols.EndOfFile)
		if base != nil && !slices.Contains(out, base) {
			out = append(out, base)
		}
	}
	return out
}

// relativeBase returns the package a relative import of the given level
// starts at.
func relativeBase(file *symbols.Symbol, level int) *symbols.Symbol {
	base := file
	if !file.Kind().IsPackage() {
		base = file.Parent()
	}
	for i := 1; i < level && base != nil; i++ {
		base = base.Parent()
	}
	return base
}

// resolveModule walks parts from the import bases of file, or from the
// relative base when level is positive. It returns the deepest symbol
// reached and how many parts resolved; n == len(parts) means found.
func (b *Builder) resolveModule(ctx context.Context, file *symbols.Symbol, parts []string, level int) (*symbols.Symbol, int) {
	var bases []*symbols.Symbol
	if level > 0 {
		if base := relativeBase(file, level); base != nil {
			bases = []*symbols.Symbol{base}
		}
	} else {
		bases = b.importBases(file)
	}
	var best *symbols.Symbol
	bestN := -1
	for _, base := range bases {
		cur, n := base, 0
		for ; n < len(parts); n++ {
			next := b.child(ctx, cur, parts[n])
			if next == nil {
				break
			}
			cur = next
		}
		if n == len(parts) {
			return cur, n
		}
		if n > bestN {
			best, bestN = cur, n
		}
	}
	return best, max(bestN, 0)
}

// resolveFrom resolves the name of a from-import: declarations of the
// module first, then a submodule. The returned tree is the import tree
// that was looked for.
func (b *Builder) resolveFrom(ctx context.Context, file *symbols.Symbol, from []string, name string, level int) ([]*symbols.Symbol, []string) {
	mod, n := b.resolveModule(ctx, file, from, level)
	tree := b.absoluteTree(file, from, level)
	if mod == nil {
		return nil, append(tree, name)
	}
	if n < len(from) {
		return nil, tree[:len(tree)-len(from)+n+1]
	}
	tree = append(tree, name)
	if found := b.declarations(ctx, mod, name); len(found) > 0 {
		return found, tree
	}
	if child := b.child(ctx, mod, name); child != nil {
		return []*symbols.Symbol{child}, tree
	}
	return nil, tree
}

// declarations returns what name is bound to at the end of mod, building
// its ARCH first when needed.
func (b *Builder) declarations(ctx context.Context, mod *symbols.Symbol, name string) []*symbols.Symbol {
	if mod.Kind().HoldsSource() && mod.Status(symbols.StepArch) == symbols.StatusPending {
		b.env.BuildNow(ctx, mod, symbols.StepArch)
	}
	return mod.ContentSymbol(name, symbols.EndOfFile).Symbols
}

// absoluteTree returns the import tree an import names, with the entry
// prefix stripped so it can be matched against newly created paths.
func (b *Builder) absoluteTree(file *symbols.Symbol, parts []string, level int) []string {
	if level == 0 {
		return slices.Clone(parts)
	}
	base := relativeBase(file, level)
	if base == nil {
		return slices.Clone(parts)
	}
	var tree []string
	if e := b.entries.EntryFor(file); e != nil {
		tree = stripPrefix(base.Tree().Path, e)
	} else {
		tree = base.Tree().Path
	}
	return append(slices.Clone(tree), parts...)
}

func stripPrefix(tree []string, e *entrypoint.Entry) []string {
	if symbols.HasPrefix(tree, e.ImportPrefix()) {
		return tree[len(e.ImportPrefix()):]
	}
	return tree
}

// child returns the module-child name of parent, creating it from disk
// when one of the parent's directories holds it.
func (b *Builder) child(ctx context.Context, parent *symbols.Symbol, name string) *symbols.Symbol {
	if c := parent.ModuleChild(name); c != nil {
		return c
	}
	if parent.Disk() == nil || parent.Kind() == symbols.KindFile || parent.Kind() == symbols.KindCompiled {
		return nil
	}
	for _, dir := range parent.Paths() {
		for _, candidate := range candidates(dir, name) {
			sym := symbols.CreateFromPath(b.env, candidate, parent, false)
			if sym == nil {
				continue
			}
			b.created(ctx, sym)
			return sym
		}
		if compiled := compiledPath(dir, name); compiled != "" {
			return parent.AddNewCompiled(name, compiled)
		}
	}
	return nil
}

// candidates lists the paths that can define module name in dir, in
// python's precedence order.
func candidates(dir, name string) []string {
	base := filepath.Join(dir, name)
	var out []string
	if isDir(base) && (exists(filepath.Join(base, "__init__.py")) || exists(filepath.Join(base, "__init__.pyi")) ||
		exists(filepath.Join(base, "__manifest__.py"))) {
		out = append(out, base)
	}
	for _, ext := range []string{".py", ".pyi"} {
		if exists(base + ext) {
			out = append(out, base+ext)
		}
	}
	if isDir(base) && len(out) == 0 {
		out = append(out, base)
	}
	return out
}

func compiledPath(dir, name string) string {
	for _, pattern := range []string{name + ".*.so", name + ".so", name + ".pyd", name + ".*.pyd"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err == nil && len(matches) > 0 {
			return matches[0]
		}
	}
	return ""
}

// created finishes a symbol materialised by an import: the odoo.addons
// namespace learns the addon paths, and sources get their ARCH now.
func (b *Builder) created(ctx context.Context, sym *symbols.Symbol) {
	if sym.Kind() == symbols.KindNamespace && len(sym.Paths()) > 0 && b.entries.IsAddonsDir(sym.Paths()[0]) {
		for _, e := range b.entries.Addons() {
			sym.AddPath(e.Path)
		}
	}
	if sym.Kind().HoldsSource() {
		b.env.BuildNow(ctx, sym, symbols.StepArch)
	}
}

// builtin returns the declaration name of the builtins module.
func (b *Builder) builtin(ctx context.Context, name string) *symbols.Symbol {
	for _, e := range b.entries.IterAllButMain() {
		if e.Type != entrypoint.Builtin {
			continue
		}
		base := e.Root().GetOne(symbols.PathTree(e.ImportPrefix()...), symbols.EndOfFile)
		if base == nil {
			continue
		}
		mod := b.child(ctx, base, "builtins")
		if mod == nil {
			continue
		}
		if found := b.declarations(ctx, mod, name); len(found) > 0 {
			return found[0]
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
