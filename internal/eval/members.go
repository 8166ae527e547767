package eval

import (
	"context"

	"github.com/jward/trellis/internal/symbols"
)

// MemberSymbol looks name up on sym: module-children, then content, then
// the other classes of the same Odoo model visible from fromModule, then
// the bases. Classes are visited at most once.
func (e *Engine) MemberSymbol(ctx context.Context, sym *symbols.Symbol, name string, fromModule *symbols.Symbol) []*symbols.Symbol {
	return e.memberSymbol(ctx, sym, name, fromModule, map[*symbols.Symbol]bool{})
}

func (e *Engine) memberSymbol(ctx context.Context, sym *symbols.Symbol, name string, fromModule *symbols.Symbol, visited map[*symbols.Symbol]bool) []*symbols.Symbol {
	if visited[sym] {
		return nil
	}
	visited[sym] = true
	if child := sym.ModuleChild(name); child != nil {
		return []*symbols.Symbol{child}
	}
	if sym.Scope() != nil {
		if found := sym.ContentSymbol(name, symbols.EndOfFile).Symbols; len(found) > 0 {
			return found
		}
	}
	class := sym.Class()
	if class == nil {
		return nil
	}
	if class.Model != nil && e.models != nil {
		module := fromModule
		if module == nil {
			module = sym.FindModule()
		}
		for _, name2 := range modelNames(class.Model) {
			for _, other := range e.models.SymbolsFor(name2, module) {
				if other == sym || visited[other] {
					continue
				}
				if found := e.memberSymbol(ctx, other, name, module, visited); len(found) > 0 {
					return found
				}
			}
		}
	}
	for _, base := range class.Bases {
		for _, t := range e.FollowRef(ctx, base, FollowOptions{}) {
			b := t.Symbol()
			if b == nil || b.Kind() != symbols.KindClass {
				continue
			}
			if found := e.memberSymbol(ctx, b, name, fromModule, visited); len(found) > 0 {
				return found
			}
		}
	}
	return nil
}

func modelNames(m *symbols.ModelData) []string {
	if m.Name != "" {
		return []string{m.Name}
	}
	return m.Inherit
}
