package symbols

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CreateFromPath
// =============================================================================

func TestCreateFromPath_SourceFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, dir, "tools.py", "X = 1\n")
	root := NewRoot(false)
	file := CreateFromPath(newFakeEnv(), path, root, false)
	require.NotNil(t, file)
	assert.Equal(t, KindFile, file.Kind())
	assert.Equal(t, "tools", file.Name())
	assert.Equal(t, path, file.SourcePath())
	assert.Same(t, file, root.ModuleChild("tools"))
}

func TestCreateFromPath_Package(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "pkg/__init__.py", "")
	pkg := CreateFromPath(newFakeEnv(), filepath.Join(dir, "pkg"), NewRoot(false), false)
	require.NotNil(t, pkg)
	assert.Equal(t, KindPythonPackage, pkg.Kind())
	assert.Empty(t, pkg.Disk().IExt)
	assert.Equal(t, filepath.Join(dir, "pkg", "__init__.py"), pkg.SourcePath())
}

func TestCreateFromPath_StubOnlyPackage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "stubs/__init__.pyi", "")
	pkg := CreateFromPath(newFakeEnv(), filepath.Join(dir, "stubs"), NewRoot(false), false)
	require.NotNil(t, pkg)
	assert.Equal(t, "i", pkg.Disk().IExt)
	assert.Equal(t, filepath.Join(dir, "stubs", "__init__.pyi"), pkg.SourcePath())
}

func TestCreateFromPath_Namespace(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "ns/inner.py", "")
	ns := CreateFromPath(newFakeEnv(), filepath.Join(dir, "ns"), NewRoot(false), false)
	require.NotNil(t, ns)
	assert.Equal(t, KindNamespace, ns.Kind())
	assert.Nil(t, ns.Build(), "namespaces carry no build status")
}

func TestCreateFromPath_MissingPath(t *testing.T) {
	t.Parallel()
	assert.Nil(t, CreateFromPath(newFakeEnv(), filepath.Join(t.TempDir(), "nope"), NewRoot(false), false))
}

func odooAddons(t *testing.T) (*Symbol, *Symbol) {
	t.Helper()
	root := NewRoot(false)
	odoo := root.AddNewNamespace("odoo", "/odoo")
	addons := odoo.AddNewNamespace("addons", "/odoo/addons")
	return root, addons
}

func TestCreateFromPath_Module(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "sale/__manifest__.py", "{'name': 'Sale', 'depends': ['base']}")
	writeFile(t, dir, "sale/__init__.py", "")
	env := newFakeEnv()
	env.manifests[filepath.Join(dir, "sale")] = Manifest{Name: "Sale", Depends: []string{"base"}}

	_, addons := odooAddons(t)
	module := CreateFromPath(env, filepath.Join(dir, "sale"), addons, true)
	require.NotNil(t, module)
	assert.Equal(t, KindModule, module.Kind())
	assert.Equal(t, "sale", module.Module().DirName)
	assert.Equal(t, []string{"base"}, module.Module().Manifest.Depends)
	assert.Equal(t, []*Symbol{module}, env.modules)
}

func TestCreateFromPath_RequireModuleRejectsPlainPackage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "lib/__init__.py", "")
	_, addons := odooAddons(t)
	assert.Nil(t, CreateFromPath(newFakeEnv(), filepath.Join(dir, "lib"), addons, true))
}

func TestCreateFromPath_BrokenManifestFallsBackToPackage(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "broken/__manifest__.py", "{")
	writeFile(t, dir, "broken/__init__.py", "")
	_, addons := odooAddons(t)
	env := newFakeEnv()

	assert.Nil(t, CreateFromPath(env, filepath.Join(dir, "broken"), addons, true))
	pkg := CreateFromPath(env, filepath.Join(dir, "broken"), addons, false)
	require.NotNil(t, pkg)
	assert.Equal(t, KindPythonPackage, pkg.Kind())
}

func TestCreateFromPath_OdooAddonsIsNamespace(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "addons/__init__.py", "")
	root := NewRoot(false)
	odoo := root.AddNewPythonPackage("odoo", dir)
	addons := CreateFromPath(newFakeEnv(), filepath.Join(dir, "addons"), odoo, false)
	require.NotNil(t, addons)
	assert.Equal(t, KindNamespace, addons.Kind())
}

// =============================================================================
// Tree & lookup
// =============================================================================

func TestTree_SplitsPathAndContent(t *testing.T) {
	t.Parallel()
	root := NewRoot(false)
	pkg := root.AddNewPythonPackage("pkg", "/proj/pkg")
	file := pkg.AddNewFile("models", "/proj/pkg/models.py")
	class := file.AddNewClass("Partner", Range{Start: 0, End: 40}, Range{Start: 16, End: 40})
	method := class.AddNewFunction("write", Range{Start: 20, End: 40}, Range{Start: 30, End: 40})

	tree := method.Tree()
	assert.Equal(t, []string{"pkg", "models"}, tree.Path)
	assert.Equal(t, []string{"Partner", "write"}, tree.Content)
	assert.Equal(t, "pkg.models.Partner.write", tree.String())
	assert.Same(t, file, method.File())
	assert.Same(t, root, method.Root())
}

func TestGetSymbol_RoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "pkg/__init__.py", "")
	writeFile(t, dir, "pkg/sub/helpers.py", "")
	env := newFakeEnv()
	root := NewRoot(false)
	pkg := CreateFromPath(env, filepath.Join(dir, "pkg"), root, false)
	sub := CreateFromPath(env, filepath.Join(dir, "pkg", "sub"), pkg, false)
	helpers := CreateFromPath(env, filepath.Join(dir, "pkg", "sub", "helpers.py"), sub, false)
	value := helpers.AddNewVariable("VALUE", Range{Start: 0, End: 9})

	assert.Equal(t, []*Symbol{helpers}, root.GetSymbol(helpers.Tree(), EndOfFile))
	assert.Equal(t, []*Symbol{value}, root.GetSymbol(value.Tree(), EndOfFile))
	assert.Nil(t, root.GetSymbol(PathTree("pkg", "missing"), EndOfFile))
}

func TestGetOne_PicksFirstCandidate(t *testing.T) {
	t.Parallel()
	file := newTestFile(t)
	sc := file.Scope()
	test := sc.AddSection(0)
	body := sc.AddSection(5)
	first := file.AddNewVariable("V", Range{Start: 6, End: 7})
	elseBody := sc.AddSectionWith(10, []int{test.Index})
	file.AddNewVariable("V", Range{Start: 11, End: 12})
	sc.AddSectionWith(20, []int{body.Index, elseBody.Index})

	tree := Tree{Path: []string{"mod"}, Content: []string{"V"}}
	assert.Len(t, file.Root().GetSymbol(tree, EndOfFile), 2)
	assert.Same(t, first, file.Root().GetOne(tree, EndOfFile))
}

func TestTreeFromPath(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("posix paths")
	}
	assert.Equal(t, []string{"proj", "pkg"}, TreeFromPath("/proj/pkg/__init__.py"))
	assert.Equal(t, []string{"proj", "pkg", "mod"}, TreeFromPath("/proj/pkg/mod.py"))
	assert.Equal(t, []string{"proj", "stubs", "os"}, TreeFromPath("/proj/stubs/os.pyi"))
	assert.True(t, PrefixMatch([]string{"a", "b"}, []string{"a"}))
	assert.False(t, PrefixMatch([]string{"a", "b"}, []string{"a", "c"}))
}

// =============================================================================
// Weak ownership
// =============================================================================

func TestSet_InsertionOrderAndUnload(t *testing.T) {
	t.Parallel()
	root := NewRoot(false)
	a := root.AddNewFile("a", "/a.py")
	b := root.AddNewFile("b", "/b.py")
	c := root.AddNewFile("c", "/c.py")

	var set Set
	assert.True(t, set.Add(b))
	assert.True(t, set.Add(a))
	assert.False(t, set.Add(b), "adding twice is a no-op")
	assert.True(t, set.Add(c))
	assert.Equal(t, []*Symbol{b, a, c}, set.All())

	Unload(newFakeEnv(), a)
	assert.False(t, set.Contains(a))
	assert.Equal(t, []*Symbol{b, c}, set.All())
	assert.True(t, set.Remove(c))
	assert.Same(t, b, set.First())
	assert.Equal(t, 1, set.Len())
}

func TestParent_IsWeak(t *testing.T) {
	t.Parallel()
	root := NewRoot(false)
	file := root.AddNewFile("a", "/a.py")
	Unload(newFakeEnv(), root)
	assert.True(t, file.IsUnloaded())
	assert.Nil(t, file.Parent())
	assert.Nil(t, root.ModuleChild("a"))
}
