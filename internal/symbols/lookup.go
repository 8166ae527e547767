package symbols

import (
	"log/slog"
	"math"
)

// EndOfFile is the lookup position that sees every declaration of a scope.
const EndOfFile = math.MaxUint32

// GetSymbol resolves t from s: module-children first, then declarations
// seen from position. It returns zero, one or several candidates.
func (s *Symbol) GetSymbol(t Tree, position uint32) []*Symbol {
	cur := s
	for _, name := range t.Path {
		cur = cur.ModuleChild(name)
		if cur == nil {
			return nil
		}
	}
	found := []*Symbol{cur}
	for i, name := range t.Content {
		if len(found) > 1 {
			slog.Warn("symbols: ambiguous lookup, using first candidate",
				"tree", t.String(), "at", name, "candidates", len(found))
		}
		pos := position
		if i > 0 {
			pos = EndOfFile
		}
		found = found[0].ContentSymbol(name, pos).Symbols
		if len(found) == 0 {
			return nil
		}
	}
	return found
}

// GetOne resolves t and applies the deterministic tie-break: the first
// candidate in graph order wins and plurality is logged.
func (s *Symbol) GetOne(t Tree, position uint32) *Symbol {
	return First(s.GetSymbol(t, position), t.String())
}

// First returns the first candidate, warning when there are several.
func First(candidates []*Symbol, what string) *Symbol {
	switch len(candidates) {
	case 0:
		return nil
	case 1:
	default:
		slog.Warn("symbols: several symbols for one path, using first", "path", what, "candidates", len(candidates))
	}
	return candidates[0]
}

// ContentSymbol looks name up among the declarations of s as seen from
// position.
func (s *Symbol) ContentSymbol(name string, position uint32) ContentSymbols {
	if s.scope == nil {
		return ContentSymbols{}
	}
	return s.scope.Lookup(name, position)
}

// SubSymbol returns a module-child called name, or the declarations of
// name visible at position.
func (s *Symbol) SubSymbol(name string, position uint32) []*Symbol {
	if child := s.ModuleChild(name); child != nil {
		return []*Symbol{child}
	}
	return s.ContentSymbol(name, position).Symbols
}
