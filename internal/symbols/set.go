package symbols

import "weak"

// Set is an insertion-ordered set of weak symbol references. It never keeps
// a symbol alive. Entries whose symbol was collected or unloaded are skipped
// on iteration and purged lazily.
//
// The zero value is an empty set ready to use.
type Set struct {
	items []weak.Pointer[Symbol]
	index map[weak.Pointer[Symbol]]int
	holes int
}

// Add inserts sym and reports whether it was not already present.
func (s *Set) Add(sym *Symbol) bool {
	if sym == nil || sym.unloaded {
		return false
	}
	p := weak.Make(sym)
	if _, ok := s.index[p]; ok {
		return false
	}
	if s.index == nil {
		s.index = make(map[weak.Pointer[Symbol]]int)
	}
	s.index[p] = len(s.items)
	s.items = append(s.items, p)
	return true
}

// Remove deletes sym and reports whether it was present.
func (s *Set) Remove(sym *Symbol) bool {
	if sym == nil || len(s.index) == 0 {
		return false
	}
	p := weak.Make(sym)
	i, ok := s.index[p]
	if !ok {
		return false
	}
	s.drop(p, i)
	s.compact()
	return true
}

// Contains reports whether sym is a live member.
func (s *Set) Contains(sym *Symbol) bool {
	if sym == nil || sym.unloaded || len(s.index) == 0 {
		return false
	}
	_, ok := s.index[weak.Make(sym)]
	return ok
}

// All returns the live members in insertion order.
func (s *Set) All() []*Symbol {
	if len(s.index) == 0 {
		return nil
	}
	out := make([]*Symbol, 0, len(s.index))
	for i, p := range s.items {
		sym := p.Value()
		if sym != nil && !sym.unloaded {
			out = append(out, sym)
			continue
		}
		if _, ok := s.index[p]; ok {
			s.drop(p, i)
		}
	}
	s.compact()
	return out
}

// First returns the oldest live member, or nil.
func (s *Set) First() *Symbol {
	for i, p := range s.items {
		sym := p.Value()
		if sym != nil && !sym.unloaded {
			return sym
		}
		if _, ok := s.index[p]; ok {
			s.drop(p, i)
		}
	}
	return nil
}

// Len returns the number of live members.
func (s *Set) Len() int { return len(s.All()) }

// Empty reports whether the set has no live member.
func (s *Set) Empty() bool { return s.First() == nil }

// Clear removes every member.
func (s *Set) Clear() {
	s.items = nil
	s.index = nil
	s.holes = 0
}

func (s *Set) drop(p weak.Pointer[Symbol], i int) {
	delete(s.index, p)
	s.items[i] = weak.Pointer[Symbol]{}
	s.holes++
}

func (s *Set) compact() {
	if len(s.index) == 0 {
		s.items = nil
		s.holes = 0
		return
	}
	if s.holes < 32 || s.holes*2 < len(s.items) {
		return
	}
	var zero weak.Pointer[Symbol]
	items := make([]weak.Pointer[Symbol], 0, len(s.index))
	for _, p := range s.items {
		if p == zero {
			continue
		}
		s.index[p] = len(items)
		items = append(items, p)
	}
	s.items = items
	s.holes = 0
}
