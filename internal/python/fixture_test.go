package python

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/build"
	"github.com/jward/trellis/internal/diag"
	"github.com/jward/trellis/internal/entrypoint"
	"github.com/jward/trellis/internal/files"
	"github.com/jward/trellis/internal/model"
	"github.com/jward/trellis/internal/symbols"
)

// testEnv is the session view: registries from the entry and model
// managers, queues from the scheduler.
type testEnv struct {
	*entrypoint.Manager
	*model.Registry
	*build.Scheduler
}

type fixture struct {
	t       *testing.T
	dir     string
	ctx     context.Context
	files   *files.Manager
	entries *entrypoint.Manager
	models  *model.Registry
	sched   *build.Scheduler
	builder *Builder
	env     *testEnv
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	fm, err := files.New()
	require.NoError(t, err)
	f := &fixture{
		t:       t,
		dir:     t.TempDir(),
		ctx:     context.Background(),
		files:   fm,
		entries: entrypoint.New(),
		models:  model.NewRegistry(model.WithManifestReader(ReadManifest)),
	}
	f.builder = New(fm, f.entries, f.models, opts...)
	f.env = &testEnv{Manager: f.entries, Registry: f.models}
	f.sched = build.New(f.builder, f.env)
	f.env.Scheduler = f.sched
	f.models.Bind(f.env)
	f.builder.Bind(f.env)
	t.Cleanup(func() { runtime.KeepAlive(f.entries) })
	return f
}

// write creates rel under the fixture directory and returns its path.
func (f *fixture) write(rel, content string) string {
	f.t.Helper()
	path := filepath.Join(f.dir, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *fixture) path(rel string) string { return filepath.Join(f.dir, rel) }

// custom opens rel as an ad-hoc entry and returns its symbol.
func (f *fixture) custom(rel string) *symbols.Symbol {
	f.t.Helper()
	path := f.path(rel)
	require.True(f.t, f.entries.CreateNewCustomEntryForPath(f.env, path))
	sym := f.lookup(path)
	require.NotNil(f.t, sym, "custom entry symbol for %s", rel)
	return sym
}

// lookup returns the symbol of a disk path in any entry.
func (f *fixture) lookup(path string) *symbols.Symbol {
	tree := symbols.PathTree(symbols.TreeFromPath(path)...)
	for _, e := range f.entries.IterAll() {
		if sym := e.Root().GetOne(tree, symbols.EndOfFile); sym != nil {
			return sym
		}
	}
	return nil
}

// odooLookup returns the symbol of a dotted name under the main entry.
func (f *fixture) odooLookup(names ...string) *symbols.Symbol {
	main := f.entries.Main()
	require.NotNil(f.t, main)
	tree := append(append([]string{}, main.Tree...), names...)
	return main.Root().GetOne(symbols.PathTree(tree...), symbols.EndOfFile)
}

func (f *fixture) drain() {
	f.t.Helper()
	require.True(f.t, f.sched.ProcessRebuilds(f.ctx))
	require.Zero(f.t, f.sched.QueueSize())
}

func (f *fixture) diags(rel string) []diag.Diagnostic {
	return f.files.Diagnostics(f.path(rel))
}

func codes(diags []diag.Diagnostic) []diag.Code {
	var out []diag.Code
	for _, d := range diags {
		out = append(out, d.Code)
	}
	return out
}

// decl returns the only declaration of name in scope.
func decl(t *testing.T, scope *symbols.Symbol, name string) *symbols.Symbol {
	t.Helper()
	found := scope.ContentSymbol(name, symbols.EndOfFile).Symbols
	require.Len(t, found, 1, "declarations of %s", name)
	return found[0]
}

const (
	odooModels = `class BaseModel:
    _name = None


class AbstractModel(BaseModel):
    pass


class Model(AbstractModel):
    pass


class TransientModel(Model):
    pass
`
	odooFields = `class Field:
    pass


class Char(Field):
    pass


class Many2one(Field):
    pass
`
)

// odoo lays out an Odoo tree with the base module under src/ and an addons
// directory, sets them as main and addon entries, and returns the addons
// directory relative path.
func (f *fixture) odoo() {
	f.t.Helper()
	f.write("src/odoo/__init__.py", "")
	f.write("src/odoo/models.py", odooModels)
	f.write("src/odoo/fields.py", odooFields)
	f.write("src/odoo/addons/__init__.py", "")
	f.write("src/odoo/addons/base/__manifest__.py", "{'name': 'Base', 'depends': []}\n")
	f.write("src/odoo/addons/base/__init__.py", "from . import models\n")
	f.write("src/odoo/addons/base/models/__init__.py", "from . import res_partner\n")
	f.write("src/odoo/addons/base/models/res_partner.py", `from odoo import models, fields


class Partner(models.Model):
    _name = 'res.partner'
    _description = 'Contact'

    name = fields.Char()
`)
	f.entries.SetMainEntry(f.env, f.path("src"))
	require.NotNil(f.t, f.entries.AddEntryToAddons(f.path("addons")))
}
