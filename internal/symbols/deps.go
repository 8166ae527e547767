package symbols

import (
	"fmt"
	"slices"
)

// AddDependency records that s cannot complete step until dep completed
// level. Edges touching a symbol outside the workspace and self edges are
// ignored. level > step is a programming error.
func (s *Symbol) AddDependency(dep *Symbol, step, level BuildStep) {
	if !step.Valid() || !level.Valid() {
		panic(fmt.Sprintf("symbols: dependency on invalid step %s/%s", step, level))
	}
	if level > step {
		panic(fmt.Sprintf("symbols: %s cannot depend on later step %s", step, level))
	}
	if dep == nil || dep == s || s.build == nil || dep.build == nil {
		return
	}
	if s.IsExternal() || dep.IsExternal() {
		return
	}
	s.build.dependencies[step][level].Add(dep)
	dep.build.dependents[level][step].Add(s)
}

// Dependencies returns the symbols (s, step) depends on at level.
func (s *Symbol) Dependencies(step, level BuildStep) []*Symbol {
	if s.build == nil || !step.Valid() || !level.Valid() {
		return nil
	}
	return s.build.dependencies[step][level].All()
}

// Dependents returns the symbols that depend on (s, level) at step.
func (s *Symbol) Dependents(level, step BuildStep) []*Symbol {
	if s.build == nil || !step.Valid() || !level.Valid() {
		return nil
	}
	return s.build.dependents[level][step].All()
}

// ResetDependencies drops the edges recorded by s at step, on both ends.
func (s *Symbol) ResetDependencies(step BuildStep) {
	if s.build == nil || !step.Valid() {
		return
	}
	for _, level := range Steps {
		set := &s.build.dependencies[step][level]
		for _, dep := range set.All() {
			dep.build.dependents[level][step].Remove(s)
		}
		set.Clear()
	}
}

// AddNotFound records an unresolved import tree at step.
func (s *Symbol) AddNotFound(step BuildStep, tree []string) {
	if s.build == nil {
		return
	}
	for _, nf := range s.build.notFound {
		if nf.Step == step && slices.Equal(nf.Tree, tree) {
			return
		}
	}
	s.build.notFound = append(s.build.notFound, NotFound{Step: step, Tree: append([]string(nil), tree...)})
}

// NotFound returns the unresolved import trees of s.
func (s *Symbol) NotFound() []NotFound {
	if s.build == nil {
		return nil
	}
	return s.build.notFound
}

// TakeNotFound removes and returns the recorded trees that prefix-match tree.
func (s *Symbol) TakeNotFound(tree []string) []NotFound {
	if s.build == nil {
		return nil
	}
	var taken []NotFound
	kept := s.build.notFound[:0]
	for _, nf := range s.build.notFound {
		if PrefixMatch(nf.Tree, tree) {
			taken = append(taken, nf)
			continue
		}
		kept = append(kept, nf)
	}
	s.build.notFound = kept
	return taken
}

// ClearNotFound forgets every unresolved tree recorded at step.
func (s *Symbol) ClearNotFound(step BuildStep) {
	if s.build == nil {
		return
	}
	kept := s.build.notFound[:0]
	for _, nf := range s.build.notFound {
		if nf.Step != step {
			kept = append(kept, nf)
		}
	}
	s.build.notFound = kept
}
