// Package model aggregates Odoo model declarations and module manifests
// across the symbol graph.
package model

import (
	"slices"

	"github.com/jward/trellis/internal/symbols"
)

// Model is every class declaring or extending one Odoo model name.
type Model struct {
	name       string
	classes    symbols.Set
	dependents symbols.Set
}

func newModel(name string) *Model { return &Model{name: name} }

// Name returns the model name, e.g. "res.partner".
func (m *Model) Name() string { return m.name }

// Symbols returns the live classes contributing to the model.
func (m *Model) Symbols() []*symbols.Symbol { return m.classes.All() }

// MainSymbols returns the classes that declare the model rather than
// extend it.
func (m *Model) MainSymbols() []*symbols.Symbol {
	var out []*symbols.Symbol
	for _, c := range m.classes.All() {
		data := c.Class().Model
		if data.Name == m.name && !slices.Contains(data.Inherit, m.name) {
			out = append(out, c)
		}
	}
	return out
}

// Empty reports whether no live class contributes to m.
func (m *Model) Empty() bool { return m.classes.Empty() }

// AddSymbol adds class to the model and revalidates the dependents when
// membership changed.
func (m *Model) AddSymbol(q symbols.Queue, class *symbols.Symbol) {
	if m.classes.Add(class) {
		m.AddDependentsToValidation(q)
	}
}

// RemoveSymbol removes class from the model and revalidates the dependents
// when membership changed.
func (m *Model) RemoveSymbol(q symbols.Queue, class *symbols.Symbol) {
	if m.classes.Remove(class) {
		m.AddDependentsToValidation(q)
	}
}

// AddDependent records that sym must be revalidated when m changes.
func (m *Model) AddDependent(sym *symbols.Symbol) { m.dependents.Add(sym) }

// Dependents returns the symbols revalidated when m changes.
func (m *Model) Dependents() []*symbols.Symbol { return m.dependents.All() }

// AddDependentsToValidation queues every dependent for VALIDATION.
func (m *Model) AddDependentsToValidation(q symbols.Queue) {
	if q == nil {
		return
	}
	for _, dep := range m.dependents.All() {
		symbols.InvalidateSubFunctions(dep)
		q.AddToValidations(dep)
	}
}

// Names returns the model names a class contributes to: its own name
// when declared, otherwise every inherited name.
func Names(class *symbols.Symbol) []string {
	if class.Class() == nil || class.Class().Model == nil {
		return nil
	}
	data := class.Class().Model
	if data.Name != "" {
		return []string{data.Name}
	}
	return slices.Clone(data.Inherit)
}
