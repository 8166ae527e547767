// Package symbols implements the declaration graph: on-disk nodes (roots,
// namespaces, packages, files), in-file declarations (classes, functions,
// variables), flow-sensitive sections, per-stage build statuses and the
// dependency edges used to invalidate consumers when a symbol changes.
//
// Ownership runs one way: a parent holds its children strongly, every other
// edge (parent pointer, dependents, evaluations, model membership) is weak.
// A symbol that was unloaded behaves as if it had been collected.
package symbols

import (
	"path/filepath"
	"slices"
	"weak"
)

// Symbol is one node of the graph. Capabilities are carried by optional
// components; an accessor returns nil when the variant lacks the capability.
type Symbol struct {
	kind     Kind
	name     string
	parent   weak.Pointer[Symbol]
	unloaded bool

	disk  *Disk
	build *Build
	scope *Scope
	decl  *Decl

	module   *ModuleInfo
	class    *ClassInfo
	function *FunctionInfo
	variable *VariableInfo
}

// Disk holds what on-disk variants know about the file system.
type Disk struct {
	Paths    []string
	External bool
	// IExt is "i" for a package whose only init file is a stub.
	IExt string

	children map[string]*Symbol
	order    []string
}

// Build holds per-stage statuses and the dependency edges of a buildable
// symbol. dependencies is indexed [step][level], dependents [level][step]:
// (A, step) depends on (B, level) is stored in A.dependencies[step][level]
// and B.dependents[level][step].
type Build struct {
	status       [len(Steps)]BuildStatus
	dependencies [len(Steps)][len(Steps)]Set
	dependents   [len(Steps)][len(Steps)]Set
	notFound     []NotFound
	// SelfImport marks an entry point's own import root.
	SelfImport bool
}

// NotFound records an import tree that could not be resolved at a step.
type NotFound struct {
	Step BuildStep
	Tree []string
}

// Range is a half-open byte range in a source file.
type Range struct {
	Start uint32
	End   uint32
}

// Contains reports whether offset lies within r.
func (r Range) Contains(offset uint32) bool { return offset >= r.Start && offset < r.End }

// Decl holds what in-file declarations know about their source.
type Decl struct {
	Range       Range
	BodyRange   Range
	Evaluations []*Evaluation
	Doc         string
}

// ModuleInfo is the payload of an Odoo module package.
type ModuleInfo struct {
	DirName  string
	Manifest Manifest
}

// Manifest is the subset of __manifest__.py the engine uses.
type Manifest struct {
	Name        string
	Version     string
	Depends     []string
	Data        []string
	Installable bool
	AutoInstall bool
}

// ClassInfo is the payload of a class.
type ClassInfo struct {
	Bases []*Evaluation
	// Model is set when the class declares or extends an Odoo model.
	Model *ModelData
}

// ModelData is what the ODOO stage extracted from a model class body.
type ModelData struct {
	Name        string
	Inherit     []string
	Inherits    map[string]string
	Description string
	Abstract    bool
	Transient   bool
	Fields      []string
}

// FunctionInfo is the payload of a function.
type FunctionInfo struct {
	Params      []string
	IsProperty  bool
	IsStatic    bool
	IsClassMeth bool
}

// VariableInfo is the payload of a variable.
type VariableInfo struct {
	// Import is set when the variable was bound by an import statement.
	Import      *ImportInfo
	IsParameter bool
}

// ImportInfo describes the import statement binding a variable.
type ImportInfo struct {
	From  string
	Name  string
	Level int
}

func newSymbol(kind Kind, name string) *Symbol {
	s := &Symbol{kind: kind, name: name}
	switch {
	case kind.OnDisk():
		s.disk = &Disk{}
		switch kind {
		case KindRoot, KindNamespace, KindDiskDir:
		case KindCompiled:
			s.build = &Build{}
			for _, st := range Steps {
				s.build.status[st] = StatusDone
			}
		default:
			s.build = &Build{}
			s.scope = newScope()
		}
	case kind == KindVariable:
		s.decl = &Decl{}
		s.variable = &VariableInfo{}
	case kind == KindClass:
		s.decl = &Decl{}
		s.scope = newScope()
		s.class = &ClassInfo{}
	case kind == KindFunction:
		s.decl = &Decl{}
		s.scope = newScope()
		s.function = &FunctionInfo{}
		s.build = &Build{}
	}
	if kind == KindModule {
		s.module = &ModuleInfo{}
	}
	return s
}

// NewRoot returns a detached root symbol.
func NewRoot(external bool) *Symbol {
	s := newSymbol(KindRoot, "root")
	s.disk.External = external
	return s
}

func (s *Symbol) Kind() Kind { return s.kind }
func (s *Symbol) Name() string { return s.name }
func (s *Symbol) IsUnloaded() bool { return s.unloaded }

// Parent returns the parent symbol, or nil for a root or a detached symbol.
func (s *Symbol) Parent() *Symbol {
	p := s.parent.Value()
	if p == nil || p.unloaded {
		return nil
	}
	return p
}

func (s *Symbol) Disk() *Disk { return s.disk }
func (s *Symbol) Build() *Build { return s.build }
func (s *Symbol) Scope() *Scope { return s.scope }
func (s *Symbol) Decl() *Decl { return s.decl }
func (s *Symbol) Module() *ModuleInfo { return s.module }
func (s *Symbol) Class() *ClassInfo { return s.class }
func (s *Symbol) Function() *FunctionInfo { return s.function }
func (s *Symbol) Variable() *VariableInfo { return s.variable }
func (s *Symbol) setParent(p *Symbol) { s.parent = weak.Make(p) }
func (s *Symbol) IsImportVariable() bool { return s.variable != nil && s.variable.Import != nil }

// Paths returns the disk paths of an on-disk symbol.
func (s *Symbol) Paths() []string {
	if s.disk == nil {
		return nil
	}
	return s.disk.Paths
}

// AddPath appends a disk path to a namespace-like symbol.
func (s *Symbol) AddPath(path string) {
	if s.disk != nil && !slices.Contains(s.disk.Paths, path) {
		s.disk.Paths = append(s.disk.Paths, path)
	}
}

// SourcePath returns the python file backing the symbol: the file itself,
// or the init file of a package. It returns "" for other variants.
func (s *Symbol) SourcePath() string {
	switch {
	case s.kind == KindFile && len(s.disk.Paths) > 0:
		return s.disk.Paths[0]
	case s.kind.IsPackage() && len(s.disk.Paths) > 0:
		return filepath.Join(s.disk.Paths[0], "__init__.py"+s.disk.IExt)
	}
	return ""
}

// IsExternal reports whether the symbol lies outside the editable workspace.
// Declarations inherit the flag of their file.
func (s *Symbol) IsExternal() bool {
	if s.disk != nil {
		return s.disk.External
	}
	if f := s.File(); f != nil {
		return f.IsExternal()
	}
	return false
}

// SetExternal sets the external flag of an on-disk symbol.
func (s *Symbol) SetExternal(external bool) {
	if s.disk != nil {
		s.disk.External = external
	}
}

// Root walks up to the root symbol.
func (s *Symbol) Root() *Symbol {
	cur := s
	for {
		p := cur.Parent()
		if p == nil {
			return cur
		}
		cur = p
	}
}

// File returns the nearest source-backed symbol at or above s.
func (s *Symbol) File() *Symbol {
	for cur := s; cur != nil; cur = cur.Parent() {
		if cur.kind.HoldsSource() {
			return cur
		}
		if cur.kind.OnDisk() {
			return nil
		}
	}
	return nil
}

// FindModule returns the Odoo module containing s, or nil.
func (s *Symbol) FindModule() *Symbol {
	for cur := s; cur != nil; cur = cur.Parent() {
		if cur.kind == KindModule {
			return cur
		}
	}
	return nil
}

// InParents returns the nearest symbol at or above s whose kind is one of
// kinds. With stopSameFile the walk does not cross the file boundary.
func (s *Symbol) InParents(kinds []Kind, stopSameFile bool) *Symbol {
	for cur := s; cur != nil; cur = cur.Parent() {
		if slices.Contains(kinds, cur.kind) {
			return cur
		}
		if stopSameFile && cur.kind.HoldsSource() {
			return nil
		}
	}
	return nil
}

// IsInParents reports whether ancestor is s or one of its ancestors.
func (s *Symbol) IsInParents(ancestor *Symbol) bool {
	for cur := s; cur != nil; cur = cur.Parent() {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// Tree reconstructs the dotted path of s by walking parents to the root.
func (s *Symbol) Tree() Tree {
	var t Tree
	for cur := s; cur != nil && cur.kind != KindRoot; cur = cur.Parent() {
		if cur.kind.IsDecl() {
			t.Content = append(t.Content, cur.name)
		} else {
			t.Path = append(t.Path, cur.name)
		}
	}
	slices.Reverse(t.Path)
	slices.Reverse(t.Content)
	return t
}

// Status returns the build status at step. Symbols without a build
// component are always done.
func (s *Symbol) Status(step BuildStep) BuildStatus {
	if s.build == nil || !step.Valid() {
		return StatusDone
	}
	return s.build.status[step]
}

// SetStatus sets the build status at step.
func (s *Symbol) SetStatus(step BuildStep, status BuildStatus) {
	if s.build == nil || !step.Valid() {
		return
	}
	s.build.status[step] = status
}

// SelfImport reports whether s is an entry point's own import root.
func (s *Symbol) SelfImport() bool { return s.build != nil && s.build.SelfImport }

// SetSelfImport marks s as an entry point's own import root.
func (s *Symbol) SetSelfImport(v bool) {
	if s.build != nil {
		s.build.SelfImport = v
	}
}

// Evaluations returns the evaluations of a declaration.
func (s *Symbol) Evaluations() []*Evaluation {
	if s.decl == nil {
		return nil
	}
	return s.decl.Evaluations
}

// SetEvaluations replaces the evaluations of a declaration.
func (s *Symbol) SetEvaluations(evals []*Evaluation) {
	if s.decl != nil {
		s.decl.Evaluations = evals
	}
}

// Range returns the source range of a declaration.
func (s *Symbol) Range() Range {
	if s.decl == nil {
		return Range{}
	}
	return s.decl.Range
}

// ModuleChild returns the module-child called name.
func (s *Symbol) ModuleChild(name string) *Symbol {
	if s.disk == nil {
		return nil
	}
	return s.disk.children[name]
}

// ModuleChildren returns the module-children in creation order.
func (s *Symbol) ModuleChildren() []*Symbol {
	if s.disk == nil {
		return nil
	}
	out := make([]*Symbol, 0, len(s.disk.order))
	for _, name := range s.disk.order {
		out = append(out, s.disk.children[name])
	}
	return out
}

// ContentSymbols returns every declaration directly in s, ordered by name
// insertion and then by section.
func (s *Symbol) ContentSymbols() []*Symbol {
	if s.scope == nil {
		return nil
	}
	return s.scope.all()
}

// AllSymbols returns module-children followed by content declarations.
func (s *Symbol) AllSymbols() []*Symbol {
	return append(s.ModuleChildren(), s.ContentSymbols()...)
}

func (s *Symbol) addModuleChild(child *Symbol) {
	if _, ok := s.disk.children[child.name]; !ok {
		s.disk.order = append(s.disk.order, child.name)
	}
	if s.disk.children == nil {
		s.disk.children = make(map[string]*Symbol)
	}
	s.disk.children[child.name] = child
	child.setParent(s)
}

func (s *Symbol) removeChild(child *Symbol) {
	if s.disk != nil && s.disk.children[child.name] == child {
		delete(s.disk.children, child.name)
		if i := slices.Index(s.disk.order, child.name); i >= 0 {
			s.disk.order = slices.Delete(s.disk.order, i, i+1)
		}
		return
	}
	if s.scope != nil {
		s.scope.remove(child)
	}
}
