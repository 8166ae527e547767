package entrypoint

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/symbols"
)

// testEnv routes the registry calls through the manager under test and
// records every re-queue.
type testEnv struct {
	*Manager
	arch, archEval, validation []*symbols.Symbol
}

func (e *testEnv) AddToRebuildArch(s *symbols.Symbol) { e.arch = append(e.arch, s) }
func (e *testEnv) AddToRebuildArchEval(s *symbols.Symbol) { e.archEval = append(e.archEval, s) }
func (e *testEnv) AddToValidations(s *symbols.Symbol) { e.validation = append(e.validation, s) }
func (e *testEnv) MustReload(*symbols.Symbol, string) {}
func (e *testEnv) RegisterModule(*symbols.Symbol) {}
func (e *testEnv) UnregisterModule(*symbols.Symbol) {}
func (e *testEnv) RemoveModelClass(*symbols.Symbol) {}
func (e *testEnv) ModelChanged(*symbols.Symbol) {}

func (e *testEnv) ReadManifest(dir string) (symbols.Manifest, error) {
	if _, err := os.Stat(filepath.Join(dir, "__manifest__.py")); err != nil {
		return symbols.Manifest{}, errors.New("no manifest")
	}
	return symbols.Manifest{Name: filepath.Base(dir)}, nil
}

func newTestEnv() *testEnv { return &testEnv{Manager: New()} }

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// odooLayout builds <tmp>/odoo/odoo/{__init__.py,addons/} plus an external
// addons directory holding one module.
func odooLayout(t *testing.T) (odooPath, addonsPath string) {
	t.Helper()
	dir := t.TempDir()
	odooPath = filepath.Join(dir, "odoo")
	writeFile(t, filepath.Join(odooPath, "odoo", "__init__.py"), "")
	writeFile(t, filepath.Join(odooPath, "odoo", "addons", "__init__.py"), "")
	addonsPath = filepath.Join(dir, "custom")
	writeFile(t, filepath.Join(addonsPath, "sale", "__manifest__.py"), "{'name': 'Sale'}")
	writeFile(t, filepath.Join(addonsPath, "sale", "__init__.py"), "")
	return odooPath, addonsPath
}

// =============================================================================
// Entries
// =============================================================================

func TestEntry_IsValidFor(t *testing.T) {
	t.Parallel()
	e := newEntry("/opt/odoo", Main)
	assert.True(t, e.IsValidFor("/opt/odoo"))
	assert.True(t, e.IsValidFor("/opt/odoo/odoo/models.py"))
	assert.False(t, e.IsValidFor("/opt/odoo2/x.py"))
	assert.False(t, e.IsValidFor("/opt"))
}

func TestEntry_CanImport(t *testing.T) {
	t.Parallel()
	main := newEntry("/opt/odoo", Main)
	assert.True(t, main.CanImport("/opt/odoo/odoo/models.py"))
	assert.False(t, main.CanImport("/opt/x.py"))

	custom := newEntry("/home/dev/proj/main.py", Custom)
	assert.True(t, custom.CanImport("/home/dev/proj/pkg/__init__.py"))
	assert.False(t, custom.IsValidFor("/home/dev/proj/pkg/__init__.py"))
	assert.False(t, custom.CanImport("/home/dev/other.py"))
}

func TestEntry_AddonRemapping(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	odooPath, addonsPath := odooLayout(t)
	env.SetMainEntry(env, odooPath)
	e := env.AddEntryToAddons(addonsPath)
	require.NotNil(t, e)

	tree := e.TreeForEntry(filepath.Join(addonsPath, "sale", "models", "order.py"))
	want := append(symbols.TreeFromPath(odooPath), "odoo", "addons", "sale", "models", "order")
	assert.Equal(t, want, tree)
	assert.Equal(t, []string{"odoo", "addons", "sale", "models", "order"},
		e.ImportTree(filepath.Join(addonsPath, "sale", "models", "order.py")))
	assert.Same(t, env.Main().Root(), e.Root())
}

func TestAddEntryToAddons_RequiresMain(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	assert.Nil(t, env.AddEntryToAddons("/somewhere"))
	assert.Empty(t, env.Addons())
}

func TestAddEntryToAddons_ExtendsNamespacePaths(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	odooPath, addonsPath := odooLayout(t)
	mainSym := env.SetMainEntry(env, odooPath)
	require.NotNil(t, mainSym)

	odooPkg := symbols.CreateFromPath(env, filepath.Join(odooPath, "odoo"), mainSym, false)
	require.NotNil(t, odooPkg)
	addons := symbols.CreateFromPath(env, filepath.Join(odooPath, "odoo", "addons"), odooPkg, false)
	require.NotNil(t, addons)
	assert.Equal(t, symbols.KindNamespace, addons.Kind())
	assert.Same(t, addons, env.AddonsSymbol())

	env.AddEntryToAddons(addonsPath)
	assert.Contains(t, addons.Paths(), addonsPath)
}

// =============================================================================
// Path <-> tree round trip
// =============================================================================

func TestRoundTrip_PathToTreeToSymbol(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	odooPath, addonsPath := odooLayout(t)
	mainSym := env.SetMainEntry(env, odooPath)
	odooPkg := symbols.CreateFromPath(env, filepath.Join(odooPath, "odoo"), mainSym, false)
	addons := symbols.CreateFromPath(env, filepath.Join(odooPath, "odoo", "addons"), odooPkg, false)
	env.AddEntryToAddons(addonsPath)

	salePath := filepath.Join(addonsPath, "sale")
	sale := symbols.CreateFromPath(env, salePath, addons, true)
	require.NotNil(t, sale)
	assert.Equal(t, symbols.KindModule, sale.Kind())

	for _, path := range []string{filepath.Join(odooPath, "odoo"), salePath} {
		entries := env.EntriesFor(path)
		require.NotEmpty(t, entries, path)
		e := entries[0]
		got := e.Root().GetOne(symbols.PathTree(e.TreeForEntry(path)...), symbols.EndOfFile)
		require.NotNil(t, got, path)
		assert.Equal(t, path, got.Paths()[0])
	}
	assert.Equal(t, Addon, env.EntryFor(sale).Type)
	assert.Equal(t, Main, env.EntryFor(odooPkg).Type)
	assert.Equal(t, []string{"odoo", "addons", "sale"}, env.MainEntryTree(sale))
	assert.Equal(t, []string{"odoo", "addons", "sale"}, env.TreeForMain(salePath))
}

func TestCreateDirSymbols_BuildsDiskDirChain(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	dir := t.TempDir()
	stdlib := filepath.Join(dir, "lib", "python3")
	writeFile(t, filepath.Join(stdlib, "os.py"), "")

	sym := env.AddEntryToBuiltins(env, stdlib)
	require.NotNil(t, sym)
	assert.Equal(t, symbols.KindNamespace, sym.Kind())
	assert.True(t, sym.IsExternal())
	for p := sym.Parent(); p.Kind() != symbols.KindRoot; p = p.Parent() {
		assert.Equal(t, symbols.KindDiskDir, p.Kind())
	}
	// A second registration reuses the chain.
	assert.Same(t, sym, env.CreateDirSymbolsFromPathToEntry(env, stdlib, env.builtins[0]))
}

// =============================================================================
// Iteration order
// =============================================================================

func TestIterMain_LongestTreeFirst(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	odooPath, _ := odooLayout(t)
	env.SetMainEntry(env, odooPath)
	env.AddEntryToAddons("/a")
	env.AddEntryToAddons("/very/deep/addons/path")

	var lens []int
	for _, e := range env.IterMain() {
		lens = append(lens, len(e.Tree))
	}
	assert.IsNonIncreasing(t, lens)
	assert.Len(t, lens, 3)
}

func TestIterForImport(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	odooPath, addonsPath := odooLayout(t)
	env.SetMainEntry(env, odooPath)
	addon := env.AddEntryToAddons(addonsPath)
	env.AddEntryToBuiltins(env, t.TempDir())
	env.AddEntryToPublic(env, t.TempDir())
	custom := filepath.Join(t.TempDir(), "script.py")
	writeFile(t, custom, "")
	env.AddEntryToCustoms(env, custom)

	types := func(list []*Entry) []Type {
		var out []Type
		for _, e := range list {
			out = append(out, e.Type)
		}
		return out
	}
	assert.Equal(t, []Type{Addon, Main, Builtin, Public}, types(env.IterForImport(addon)))
	assert.Equal(t, []Type{Custom, Builtin, Public}, types(env.IterForImport(env.Customs()[0])))
	assert.Len(t, env.IterAll(), 5)
	assert.Len(t, env.IterAllButMain(), 3)
}

// =============================================================================
// Custom entries and removal
// =============================================================================

func TestCreateNewCustomEntryForPath(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	path := writeFile(t, filepath.Join(t.TempDir(), "scratch.py"), "x = 1\n")

	require.True(t, env.CreateNewCustomEntryForPath(env, path))
	require.Len(t, env.arch, 1)
	sym := env.arch[0]
	assert.True(t, sym.SelfImport())
	assert.False(t, sym.IsExternal())
	assert.Equal(t, Custom, env.EntryFor(sym).Type)
	assert.Equal(t, []string{"scratch"}, env.Customs()[0].ImportTree(path))
}

func TestCreateNewCustomEntryForPath_RejectsMissing(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	assert.False(t, env.CreateNewCustomEntryForPath(env, "/does/not/exist.txt"))
	assert.Empty(t, env.Customs())
}

func TestRemoveEntriesWithPath_MainDropsAddons(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	odooPath, addonsPath := odooLayout(t)
	env.SetMainEntry(env, odooPath)
	env.AddEntryToAddons(addonsPath)

	env.RemoveEntriesWithPath(odooPath)
	assert.Nil(t, env.Main())
	assert.Empty(t, env.Addons())
}

func TestReset_KeepsCustoms(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	path := writeFile(t, filepath.Join(t.TempDir(), "a.py"), "")
	env.AddEntryToCustoms(env, path)
	env.AddEntryToBuiltins(env, t.TempDir())

	env.Reset(true)
	assert.Len(t, env.IterAll(), 1)
	env.Reset(false)
	assert.Empty(t, env.IterAll())
}

// =============================================================================
// Not-found registry
// =============================================================================

func TestSearchSymbolsToRebuild(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	odooPath, _ := odooLayout(t)
	mainSym := env.SetMainEntry(env, odooPath)
	odooPkg := symbols.CreateFromPath(env, filepath.Join(odooPath, "odoo"), mainSym, false)
	importer := odooPkg.AddNewFile("importer", filepath.Join(odooPath, "odoo", "importer.py"))
	other := odooPkg.AddNewFile("other", filepath.Join(odooPath, "odoo", "other.py"))

	importer.AddNotFound(symbols.StepArchEval, []string{"odoo", "tools", "misc"})
	importer.AddNotFound(symbols.StepArch, []string{"lxml"})
	other.AddNotFound(symbols.StepValidation, []string{"odoo", "tools"})
	main := env.Main()
	main.AddNotFound(importer)
	main.AddNotFound(other)

	need := env.SearchSymbolsToRebuild(env, filepath.Join(odooPath, "odoo", "tools", "__init__.py"))
	assert.True(t, need)
	assert.Equal(t, []*symbols.Symbol{importer}, env.archEval)
	assert.Equal(t, []*symbols.Symbol{other}, env.validation)
	assert.Empty(t, env.arch)

	// importer still waits on lxml, other is satisfied.
	assert.Equal(t, []*symbols.Symbol{importer}, main.NotFoundSymbols())

	assert.False(t, env.SearchSymbolsToRebuild(env, filepath.Join(odooPath, "odoo", "unrelated.py")))
}

func TestType_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "addon", Addon.String())
	assert.Equal(t, "type(9)", Type(9).String())
}
