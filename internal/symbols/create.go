package symbols

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Queue receives the re-queue requests emitted by invalidation and unload.
type Queue interface {
	AddToRebuildArch(sym *Symbol)
	AddToRebuildArchEval(sym *Symbol)
	AddToValidations(sym *Symbol)
	// MustReload records that path must be recreated under parent on the
	// next drain.
	MustReload(parent *Symbol, path string)
}

// Registry is the session state the graph keeps in step with itself.
type Registry interface {
	// MainEntryTree returns the tree of sym with the main entry prefix
	// stripped, or its full tree when sym is not under the main entry.
	MainEntryTree(sym *Symbol) []string
	ReadManifest(dir string) (Manifest, error)
	RegisterModule(module *Symbol)
	UnregisterModule(module *Symbol)
	RemoveModelClass(class *Symbol)
	// ModelChanged revalidates the dependents of the model declared by class.
	ModelChanged(class *Symbol)
}

// Env is everything graph mutations report to.
type Env interface {
	Queue
	Registry
}

var (
	odooTree       = []string{"odoo"}
	odooAddonsTree = []string{"odoo", "addons"}
)

// CreateFromPath classifies path and attaches exactly one new module-child
// under parent. It returns nil when path is not importable, or when
// requireModule is set and path is not an Odoo module.
func CreateFromPath(reg Registry, path string, parent *Symbol, requireModule bool) *Symbol {
	path = filepath.Clean(path)
	base := filepath.Base(path)
	if strings.HasSuffix(base, ".py") || strings.HasSuffix(base, ".pyi") {
		name := strings.TrimSuffix(strings.TrimSuffix(base, ".pyi"), ".py")
		return parent.AddNewFile(name, path)
	}
	mainTree := reg.MainEntryTree(parent)
	hasInit := exists(filepath.Join(path, "__init__.py"))
	hasStub := exists(filepath.Join(path, "__init__.pyi"))
	if slices.Equal(mainTree, odooAddonsTree) && exists(filepath.Join(path, "__manifest__.py")) {
		manifest, err := reg.ReadManifest(path)
		if err == nil {
			module := parent.AddNewModulePackage(base, path, manifest)
			reg.RegisterModule(module)
			return module
		}
		slog.Warn("symbols: unable to load module", "path", path, "error", err)
		if requireModule || !(hasInit || hasStub) {
			return nil
		}
		return newPackage(parent, base, path, hasInit)
	}
	if requireModule {
		return nil
	}
	if hasInit || hasStub {
		if slices.Equal(mainTree, odooTree) && base == "addons" {
			return parent.AddNewNamespace(base, path)
		}
		return newPackage(parent, base, path, hasInit)
	}
	if isDir(path) {
		return parent.AddNewNamespace(base, path)
	}
	return nil
}

func newPackage(parent *Symbol, name, path string, hasInit bool) *Symbol {
	pkg := parent.AddNewPythonPackage(name, path)
	if pkg != nil && !hasInit {
		pkg.disk.IExt = "i"
	}
	return pkg
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (s *Symbol) AddNewFile(name, path string) *Symbol {
	return s.addDiskChild(KindFile, name, path)
}

func (s *Symbol) AddNewNamespace(name, path string) *Symbol {
	return s.addDiskChild(KindNamespace, name, path)
}

func (s *Symbol) AddNewDiskDir(name, path string) *Symbol {
	return s.addDiskChild(KindDiskDir, name, path)
}

func (s *Symbol) AddNewCompiled(name, path string) *Symbol {
	return s.addDiskChild(KindCompiled, name, path)
}

func (s *Symbol) AddNewPythonPackage(name, path string) *Symbol {
	return s.addDiskChild(KindPythonPackage, name, path)
}

// AddNewModulePackage attaches an Odoo module described by manifest.
func (s *Symbol) AddNewModulePackage(name, path string, manifest Manifest) *Symbol {
	module := s.addDiskChild(KindModule, name, path)
	if module != nil {
		module.module.DirName = filepath.Base(path)
		module.module.Manifest = manifest
	}
	return module
}

func (s *Symbol) AddNewVariable(name string, rng Range) *Symbol {
	return s.addDecl(KindVariable, name, rng, Range{})
}

func (s *Symbol) AddNewFunction(name string, rng, body Range) *Symbol {
	return s.addDecl(KindFunction, name, rng, body)
}

func (s *Symbol) AddNewClass(name string, rng, body Range) *Symbol {
	return s.addDecl(KindClass, name, rng, body)
}

func (s *Symbol) addDiskChild(kind Kind, name, path string) *Symbol {
	if s.disk == nil {
		slog.Error("symbols: module-child on a non disk symbol", "parent", s.Tree().String(), "child", name)
		return nil
	}
	child := newSymbol(kind, name)
	if path != "" {
		child.disk.Paths = []string{path}
	}
	child.disk.External = s.IsExternal()
	s.addModuleChild(child)
	return child
}

func (s *Symbol) addDecl(kind Kind, name string, rng, body Range) *Symbol {
	if s.scope == nil {
		slog.Error("symbols: declaration in a symbol without content", "parent", s.Tree().String(), "child", name)
		return nil
	}
	child := newSymbol(kind, name)
	child.decl.Range = rng
	child.decl.BodyRange = body
	s.scope.Add(child, s.scope.SectionFor(rng.Start).Index)
	child.setParent(s)
	return child
}
