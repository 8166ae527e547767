package python

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/diag"
	"github.com/jward/trellis/internal/rules"
	"github.com/jward/trellis/internal/symbols"
)

// odooAddons lays out the sale and crm modules next to the base module.
// crm depends on a module that does not exist and uses a sale model
// without depending on sale.
func odooAddons(f *fixture) {
	f.t.Helper()
	f.odoo()
	f.write("addons/sale/__manifest__.py", "{'name': 'Sales', 'depends': ['base']}\n")
	f.write("addons/sale/__init__.py", "from . import order, partner\n")
	f.write("addons/sale/order.py", `from odoo import models, fields


class SaleOrder(models.Model):
    _name = 'sale.order'

    partner_id = fields.Many2one('res.partner')
`)
	f.write("addons/sale/partner.py", `from odoo import models


class Partner(models.Model):
    _inherit = 'res.partner'
`)
	f.write("addons/crm/__manifest__.py", `{
    'name': 'CRM',
    'depends': ['base', 'ghost'],
}
`)
	f.write("addons/crm/__init__.py", "from . import lead\n")
	f.write("addons/crm/lead.py", `from odoo import models, fields


class Lead(models.Model):
    _name = 'crm.lead'

    order_id = fields.Many2one('sale.order')


class Broken(models.Model):
    pass


def helper(env):
    print(env)
    return env['crm.lead']
`)
}

func TestOdoo_ModulesAndModels(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithRules(rules.New()))
	odooAddons(f)
	modules := f.builder.LoadModules(f.ctx, nil)
	f.drain()

	var names []string
	for _, m := range modules {
		assert.Equal(t, symbols.KindModule, m.Kind())
		names = append(names, m.Name())
	}
	assert.ElementsMatch(t, []string{"base", "sale", "crm"}, names)
	assert.ElementsMatch(t, []string{"base", "sale", "crm"}, f.models.Modules())
	assert.True(t, f.models.IsInDeps(f.models.Module("sale"), "base"))
	assert.False(t, f.models.IsInDeps(f.models.Module("crm"), "sale"))

	partner := f.models.Model("res.partner")
	require.NotNil(t, partner)
	assert.Len(t, partner.MainSymbols(), 1)
	assert.Len(t, partner.Symbols(), 2)
	require.NotNil(t, f.models.Model("sale.order"))
	assert.Len(t, f.models.Model("sale.order").MainSymbols(), 1)

	sale := f.models.Module("sale")
	visible := f.models.SymbolsFor("res.partner", sale)
	assert.Len(t, visible, 2)
	assert.Len(t, f.models.SymbolsFor("res.partner", f.models.Module("base")), 1)
}

func TestOdoo_ValidationDiagnostics(t *testing.T) {
	t.Parallel()
	f := newFixture(t, WithRules(rules.New()))
	odooAddons(f)
	f.builder.LoadModules(f.ctx, nil)
	f.drain()

	lead := f.diags("addons/crm/lead.py")
	got := codes(lead)
	assert.Contains(t, got, diag.CodeUnknownModel)
	assert.Contains(t, got, diag.CodeMissingModelName)
	assert.Contains(t, got, diag.CodeRule)
	for _, d := range lead {
		switch d.Code {
		case diag.CodeUnknownModel:
			assert.Contains(t, d.Message, "not in the dependencies of module crm")
		case diag.CodeMissingModelName:
			assert.Contains(t, d.Message, "Broken")
		case diag.CodeRule:
			assert.Equal(t, diag.Information, d.Severity)
			assert.Equal(t, "rule:print_call", d.Source)
		}
	}

	manifest := f.diags("addons/crm/__manifest__.py")
	require.Len(t, manifest, 1)
	assert.Equal(t, diag.CodeUnknownDepends, manifest[0].Code)
	assert.Contains(t, manifest[0].Message, "ghost")

	assert.NotContains(t, codes(f.diags("addons/sale/order.py")), diag.CodeUnknownModel)
	assert.NotContains(t, codes(f.diags("addons/sale/partner.py")), diag.CodeUnknownModel)
}

func TestOdoo_FirstAddonPathWins(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	odooAddons(f)
	f.write("more/sale/__manifest__.py", "{'name': 'Shadow'}\n")
	require.NotNil(t, f.entries.AddEntryToAddons(f.path("more")))

	f.builder.LoadModules(f.ctx, nil)
	f.drain()

	sale := f.models.Module("sale")
	require.NotNil(t, sale)
	assert.Equal(t, []string{f.path("addons/sale")}, sale.Paths())
	assert.Equal(t, "Sales", sale.Module().Manifest.Name)
}

func TestOdoo_LoadModulesSkip(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	odooAddons(f)
	modules := f.builder.LoadModules(f.ctx, func(dir string) bool {
		return dir == f.path("addons/crm")
	})
	f.drain()

	assert.Len(t, modules, 2)
	assert.Nil(t, f.models.Module("crm"))
	assert.Nil(t, f.models.Model("crm.lead"))
}

func TestOdoo_RenamedModelRevalidatesUsers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	odooAddons(f)
	f.builder.LoadModules(f.ctx, nil)
	f.drain()
	require.NotContains(t, codes(f.diags("addons/sale/order.py")), diag.CodeUnknownModel)

	path := f.write("src/odoo/addons/base/models/res_partner.py", `from odoo import models


class Partner(models.Model):
    _name = 'res.contact'
`)
	_, changed, err := f.files.Update(path, []byte(`from odoo import models


class Partner(models.Model):
    _name = 'res.contact'
`), 1)
	require.NoError(t, err)
	require.True(t, changed)
	file := f.lookup(path)
	require.NotNil(t, file)
	symbols.Invalidate(f.env, file, symbols.StepArch)
	f.sched.AddToRebuildArch(file)
	f.drain()

	assert.Empty(t, f.models.Model("res.partner").MainSymbols())
	assert.Contains(t, codes(f.diags("addons/sale/order.py")), diag.CodeUnknownModel)
}
