package symbols

import (
	"slices"
	"sort"
)

// Section is one control-flow branch of a scope. Previous lists the
// sections control can come from: none, one, or several for a merge point.
type Section struct {
	Start    uint32
	Index    int
	Previous []int
}

// ContentSymbols is the result of a flow-sensitive name lookup.
type ContentSymbols struct {
	Symbols []*Symbol
	// AlwaysDefined is true when every path reaching the lookup point
	// binds the name.
	AlwaysDefined bool
}

// Scope partitions the declarations of a file, class or function into
// sections and maps each name to its declarations per section.
type Scope struct {
	sections []Section
	symbols  map[string]map[int][]*Symbol
	names    []string
}

func newScope() *Scope {
	sc := &Scope{}
	sc.Reset()
	return sc
}

// Reset drops every declaration and leaves the single initial section.
func (sc *Scope) Reset() {
	sc.sections = []Section{{Start: 0, Index: 0}}
	sc.symbols = make(map[string]map[int][]*Symbol)
	sc.names = nil
}

// Sections returns a copy of the section list.
func (sc *Scope) Sections() []Section { return slices.Clone(sc.sections) }

// LastSection returns the most recently opened section.
func (sc *Scope) LastSection() Section { return sc.sections[len(sc.sections)-1] }

// AddSection opens a section at start whose only predecessor is the last
// section.
func (sc *Scope) AddSection(start uint32) Section {
	return sc.AddSectionWith(start, []int{sc.LastSection().Index})
}

// AddSectionWith opens a section at start with explicit predecessors.
// A section opened at the same start as the last one replaces it, and
// predecessors naming the replaced section are redirected to its own
// predecessors. Starts never decrease.
func (sc *Scope) AddSectionWith(start uint32, previous []int) Section {
	last := sc.LastSection()
	if start < last.Start {
		start = last.Start
	}
	if start == last.Start && len(sc.sections) > 1 {
		sc.sections = sc.sections[:len(sc.sections)-1]
		var redirected []int
		for _, p := range previous {
			if p == last.Index {
				redirected = append(redirected, last.Previous...)
				continue
			}
			redirected = append(redirected, p)
		}
		previous = redirected
	}
	index := len(sc.sections)
	prev := make([]int, 0, len(previous))
	for _, p := range previous {
		if p >= 0 && p < index && !slices.Contains(prev, p) {
			prev = append(prev, p)
		}
	}
	sec := Section{Start: start, Index: index, Previous: prev}
	sc.sections = append(sc.sections, sec)
	return sec
}

// SectionFor returns the last section starting at or before offset.
func (sc *Scope) SectionFor(offset uint32) Section {
	i := sort.Search(len(sc.sections), func(i int) bool { return sc.sections[i].Start > offset })
	if i == 0 {
		return sc.sections[0]
	}
	return sc.sections[i-1]
}

// Add registers sym in section.
func (sc *Scope) Add(sym *Symbol, section int) {
	bySection, ok := sc.symbols[sym.name]
	if !ok {
		bySection = make(map[int][]*Symbol)
		sc.symbols[sym.name] = bySection
		sc.names = append(sc.names, sym.name)
	}
	bySection[section] = append(bySection[section], sym)
}

// Names returns the declared names in first-declaration order.
func (sc *Scope) Names() []string { return slices.Clone(sc.names) }

// Declarations returns every declaration of name, by section then order.
func (sc *Scope) Declarations(name string) []*Symbol {
	bySection := sc.symbols[name]
	var out []*Symbol
	for _, idx := range sortedKeys(bySection) {
		out = append(out, bySection[idx]...)
	}
	return out
}

// Lookup resolves name as seen from offset.
func (sc *Scope) Lookup(name string, offset uint32) ContentSymbols {
	bySection, ok := sc.symbols[name]
	if !ok {
		return ContentSymbols{}
	}
	memo := make(map[int]ContentSymbols)
	return sc.lookupIn(bySection, offset, sc.SectionFor(offset).Index, memo)
}

func (sc *Scope) lookupIn(bySection map[int][]*Symbol, offset uint32, index int, memo map[int]ContentSymbols) ContentSymbols {
	if res, ok := memo[index]; ok {
		return res
	}
	var res ContentSymbols
	decls := bySection[index]
	for i := len(decls) - 1; i >= 0; i-- {
		if decls[i].Range().Start < offset {
			res = ContentSymbols{Symbols: []*Symbol{decls[i]}, AlwaysDefined: true}
			memo[index] = res
			return res
		}
	}
	prev := sc.sections[index].Previous
	switch len(prev) {
	case 0:
	case 1:
		res = sc.lookupIn(bySection, offset, prev[0], memo)
	default:
		res.AlwaysDefined = true
		for _, p := range prev {
			branch := sc.lookupIn(bySection, offset, p, memo)
			for _, sym := range branch.Symbols {
				if !slices.Contains(res.Symbols, sym) {
					res.Symbols = append(res.Symbols, sym)
				}
			}
			res.AlwaysDefined = res.AlwaysDefined && branch.AlwaysDefined
		}
	}
	memo[index] = res
	return res
}

func (sc *Scope) all() []*Symbol {
	var out []*Symbol
	for _, name := range sc.names {
		out = append(out, sc.Declarations(name)...)
	}
	return out
}

func (sc *Scope) remove(sym *Symbol) {
	bySection, ok := sc.symbols[sym.name]
	if !ok {
		return
	}
	for idx, decls := range bySection {
		if i := slices.Index(decls, sym); i >= 0 {
			decls = slices.Delete(decls, i, i+1)
			if len(decls) == 0 {
				delete(bySection, idx)
			} else {
				bySection[idx] = decls
			}
		}
	}
	if len(bySection) == 0 {
		delete(sc.symbols, sym.name)
		if i := slices.Index(sc.names, sym.name); i >= 0 {
			sc.names = slices.Delete(sc.names, i, i+1)
		}
	}
}

func sortedKeys(m map[int][]*Symbol) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
