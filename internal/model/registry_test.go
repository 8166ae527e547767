package model

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/symbols"
)

type recordingQueue struct {
	validation []*symbols.Symbol
}

func (q *recordingQueue) AddToRebuildArch(*symbols.Symbol) {}
func (q *recordingQueue) AddToRebuildArchEval(*symbols.Symbol) {}
func (q *recordingQueue) MustReload(*symbols.Symbol, string) {}
func (q *recordingQueue) AddToValidations(s *symbols.Symbol) {
	q.validation = append(q.validation, s)
}

func newModule(t *testing.T, root *symbols.Symbol, name string, depends ...string) *symbols.Symbol {
	t.Helper()
	m := root.AddNewModulePackage(name, "/addons/"+name, symbols.Manifest{Name: name, Depends: depends})
	require.NotNil(t, m)
	return m
}

func newModelClass(t *testing.T, module *symbols.Symbol, class string, data symbols.ModelData) *symbols.Symbol {
	t.Helper()
	file := module.AddNewFile(strings.ToLower(class), "")
	c := file.AddNewClass(class, symbols.Range{Start: 0, End: 10}, symbols.Range{Start: 5, End: 10})
	require.NotNil(t, c)
	c.Class().Model = &data
	return c
}

// =============================================================================
// Modules
// =============================================================================

func TestRegistry_RegisterModule(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	root := symbols.NewRoot(false)
	sale := newModule(t, root, "sale", "base")
	r.RegisterModule(sale)
	assert.Same(t, sale, r.Module("sale"))
	assert.Equal(t, []string{"sale"}, r.Modules())

	// A second module with the same directory name is ignored.
	other := newModule(t, symbols.NewRoot(false), "sale")
	r.RegisterModule(other)
	assert.Same(t, sale, r.Module("sale"))

	r.UnregisterModule(other)
	assert.Same(t, sale, r.Module("sale"))
	r.UnregisterModule(sale)
	assert.Nil(t, r.Module("sale"))
}

func TestRegistry_IsInDeps(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	root := symbols.NewRoot(false)
	for _, m := range []*symbols.Symbol{
		newModule(t, root, "product"),
		newModule(t, root, "sale", "product"),
		newModule(t, root, "sale_stock", "sale", "stock"),
		newModule(t, root, "stock", "sale_stock"), // cycle
	} {
		r.RegisterModule(m)
	}
	saleStock := r.Module("sale_stock")
	assert.True(t, r.IsInDeps(saleStock, "sale_stock"))
	assert.True(t, r.IsInDeps(saleStock, "product"))
	assert.True(t, r.IsInDeps(saleStock, "base"))
	assert.False(t, r.IsInDeps(r.Module("product"), "sale"))
	assert.False(t, r.IsInDeps(saleStock, "account"))
	assert.False(t, r.IsInDeps(nil, "base"))
}

func TestRegistry_ReadManifest(t *testing.T) {
	t.Parallel()
	_, err := NewRegistry().ReadManifest("/x")
	require.ErrorIs(t, err, ErrNoManifestReader)

	boom := errors.New("boom")
	r := NewRegistry(WithManifestReader(func(string) (symbols.Manifest, error) { return symbols.Manifest{}, boom }))
	_, err = r.ReadManifest("/x")
	require.ErrorIs(t, err, boom)

	r = NewRegistry(WithManifestReader(func(dir string) (symbols.Manifest, error) {
		return symbols.Manifest{Name: dir}, nil
	}))
	m, err := r.ReadManifest("/x")
	require.NoError(t, err)
	assert.Equal(t, "/x", m.Name)
}

// =============================================================================
// Models
// =============================================================================

func TestRegistry_AddAndRemoveClass(t *testing.T) {
	t.Parallel()
	q := &recordingQueue{}
	r := NewRegistry()
	r.Bind(q)
	root := symbols.NewRoot(false)
	base := newModelClass(t, newModule(t, root, "base"), "Partner", symbols.ModelData{Name: "res.partner"})
	ext := newModelClass(t, newModule(t, root, "sale"), "PartnerExt", symbols.ModelData{Inherit: []string{"res.partner"}})

	consumer := root.AddNewFile("consumer", "")
	r.AddClass(base)
	r.GetOrCreate("res.partner").AddDependent(consumer)
	r.AddClass(ext)

	m := r.Model("res.partner")
	require.NotNil(t, m)
	assert.Equal(t, []*symbols.Symbol{base, ext}, m.Symbols())
	assert.Equal(t, []*symbols.Symbol{base}, m.MainSymbols())
	assert.Equal(t, []*symbols.Symbol{consumer}, q.validation)

	// Re-adding is not a membership change.
	r.AddClass(ext)
	assert.Len(t, q.validation, 1)

	r.RemoveModelClass(ext)
	assert.Equal(t, []*symbols.Symbol{base}, m.Symbols())
	assert.Len(t, q.validation, 2)
	assert.Equal(t, []string{"res.partner"}, r.Models())
}

func TestRegistry_ModelChangedRevalidatesDependents(t *testing.T) {
	t.Parallel()
	q := &recordingQueue{}
	r := NewRegistry()
	r.Bind(q)
	root := symbols.NewRoot(false)
	c := newModelClass(t, newModule(t, root, "base"), "Users", symbols.ModelData{Name: "res.users"})
	r.AddClass(c)
	dep := root.AddNewFile("dep", "")
	r.Model("res.users").AddDependent(dep)

	r.ModelChanged(c)
	assert.Equal(t, []*symbols.Symbol{dep}, q.validation)
}

func TestRegistry_SymbolsForFiltersByDependencies(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	root := symbols.NewRoot(false)
	baseMod := newModule(t, root, "base")
	saleMod := newModule(t, root, "sale", "base")
	crmMod := newModule(t, root, "crm", "base")
	for _, m := range []*symbols.Symbol{baseMod, saleMod, crmMod} {
		r.RegisterModule(m)
	}
	decl := newModelClass(t, baseMod, "Partner", symbols.ModelData{Name: "res.partner"})
	saleExt := newModelClass(t, saleMod, "PartnerSale", symbols.ModelData{Inherit: []string{"res.partner"}})
	crmExt := newModelClass(t, crmMod, "PartnerCrm", symbols.ModelData{Inherit: []string{"res.partner"}})
	for _, c := range []*symbols.Symbol{decl, saleExt, crmExt} {
		r.AddClass(c)
	}

	assert.Equal(t, []*symbols.Symbol{decl, saleExt}, r.SymbolsFor("res.partner", saleMod))
	assert.Len(t, r.SymbolsFor("res.partner", nil), 3)
	assert.Nil(t, r.SymbolsFor("res.nothing", saleMod))
}

func TestNames(t *testing.T) {
	t.Parallel()
	root := symbols.NewRoot(false)
	mod := newModule(t, root, "m")
	assert.Equal(t, []string{"a.b"}, Names(newModelClass(t, mod, "A", symbols.ModelData{Name: "a.b", Inherit: []string{"x"}})))
	assert.Equal(t, []string{"x", "y"}, Names(newModelClass(t, mod, "B", symbols.ModelData{Inherit: []string{"x", "y"}})))
	plain := mod.AddNewFile("plain", "").AddNewClass("P", symbols.Range{}, symbols.Range{})
	assert.Nil(t, Names(plain))
}
