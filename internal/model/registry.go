package model

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/jward/trellis/internal/symbols"
)

// ManifestReader parses the __manifest__.py of a module directory.
type ManifestReader func(dir string) (symbols.Manifest, error)

// ErrNoManifestReader is returned by ReadManifest when the registry was
// built without a reader.
var ErrNoManifestReader = errors.New("model: no manifest reader")

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithManifestReader sets how module manifests are read.
func WithManifestReader(fn ManifestReader) Option {
	return func(r *Registry) { r.readManifest = fn }
}

// Registry holds the models and modules of a session.
type Registry struct {
	logger       *slog.Logger
	readManifest ManifestReader
	queue        symbols.Queue
	models       map[string]*Model
	modules      map[string]*symbols.Symbol
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:  slog.Default(),
		models:  make(map[string]*Model),
		modules: make(map[string]*symbols.Symbol),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Bind sets the queue model changes are reported to.
func (r *Registry) Bind(q symbols.Queue) { r.queue = q }

// Reset forgets every model and module.
func (r *Registry) Reset() {
	r.models = make(map[string]*Model)
	r.modules = make(map[string]*symbols.Symbol)
}

// ReadManifest implements symbols.Registry.
func (r *Registry) ReadManifest(dir string) (symbols.Manifest, error) {
	if r.readManifest == nil {
		return symbols.Manifest{}, ErrNoManifestReader
	}
	m, err := r.readManifest(dir)
	if err != nil {
		return symbols.Manifest{}, fmt.Errorf("model: read manifest: %w", err)
	}
	return m, nil
}

// =============================================================================
// Modules
// =============================================================================

// RegisterModule implements symbols.Registry.
func (r *Registry) RegisterModule(module *symbols.Symbol) {
	name := module.Module().DirName
	if prev, ok := r.modules[name]; ok && prev != module && !prev.IsUnloaded() {
		r.logger.Warn("model: module declared twice, keeping the first",
			"module", name, "kept", prev.Paths(), "ignored", module.Paths())
		return
	}
	r.modules[name] = module
}

// UnregisterModule implements symbols.Registry.
func (r *Registry) UnregisterModule(module *symbols.Symbol) {
	name := module.Module().DirName
	if r.modules[name] == module {
		delete(r.modules, name)
	}
}

// Module returns the module registered under name.
func (r *Registry) Module(name string) *symbols.Symbol {
	m := r.modules[name]
	if m == nil || m.IsUnloaded() {
		return nil
	}
	return m
}

// Modules returns the registered module names, sorted.
func (r *Registry) Modules() []string {
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsInDeps reports whether module depends on dep, directly or
// transitively. Every module depends on itself and on "base".
func (r *Registry) IsInDeps(module *symbols.Symbol, dep string) bool {
	if module == nil || module.Module() == nil {
		return false
	}
	seen := map[string]bool{}
	stack := []string{module.Module().DirName}
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if name == dep || dep == "base" {
			return true
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		if m := r.Module(name); m != nil {
			stack = append(stack, m.Module().Manifest.Depends...)
		}
	}
	return false
}

// =============================================================================
// Models
// =============================================================================

// Model returns the model registered under name, or nil.
func (r *Registry) Model(name string) *Model { return r.models[name] }

// Models returns the registered model names, sorted.
func (r *Registry) Models() []string {
	names := make([]string, 0, len(r.models))
	for name, m := range r.models {
		if !m.Empty() || len(m.Dependents()) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// GetOrCreate returns the model for name, creating it when missing.
func (r *Registry) GetOrCreate(name string) *Model {
	m, ok := r.models[name]
	if !ok {
		m = newModel(name)
		r.models[name] = m
	}
	return m
}

// AddClass registers class under every model name it contributes to.
func (r *Registry) AddClass(class *symbols.Symbol) {
	for _, name := range Names(class) {
		r.GetOrCreate(name).AddSymbol(r.queue, class)
	}
}

// RemoveModelClass implements symbols.Registry.
func (r *Registry) RemoveModelClass(class *symbols.Symbol) {
	for _, m := range r.models {
		m.RemoveSymbol(r.queue, class)
	}
}

// ModelChanged implements symbols.Registry.
func (r *Registry) ModelChanged(class *symbols.Symbol) {
	for _, name := range Names(class) {
		if m := r.models[name]; m != nil {
			m.AddDependentsToValidation(r.queue)
		}
	}
}

// SymbolsFor returns the classes of model name visible from module: the
// ones declared in module itself or in one of its dependencies. A nil
// module sees every class.
func (r *Registry) SymbolsFor(name string, module *symbols.Symbol) []*symbols.Symbol {
	m := r.models[name]
	if m == nil {
		return nil
	}
	all := m.Symbols()
	if module == nil {
		return all
	}
	return slices.DeleteFunc(all, func(c *symbols.Symbol) bool {
		owner := c.FindModule()
		return owner == nil || !r.IsInDeps(module, owner.Module().DirName)
	})
}
