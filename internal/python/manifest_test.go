package python

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseManifest(t *testing.T) {
	t.Parallel()
	m, err := ParseManifest([]byte(`# -*- coding: utf-8 -*-
{
    'name': "Sales",
    'version': '17.0.1.0',
    'depends': ['base', 'mail'],
    'data': [
        'security/ir.model.access.csv',
        'views/sale_views.xml',
    ],
    'installable': True,
    'auto_install': ['mail'],
}
`))
	require.NoError(t, err)
	assert.Equal(t, "Sales", m.Name)
	assert.Equal(t, "17.0.1.0", m.Version)
	assert.Equal(t, []string{"base", "mail"}, m.Depends)
	assert.Equal(t, []string{"security/ir.model.access.csv", "views/sale_views.xml"}, m.Data)
	assert.True(t, m.Installable)
	assert.True(t, m.AutoInstall)
}

func TestParseManifest_Defaults(t *testing.T) {
	t.Parallel()
	m, err := ParseManifest([]byte(`{'name': 'Tiny'}`))
	require.NoError(t, err)
	assert.True(t, m.Installable)
	assert.False(t, m.AutoInstall)
	assert.Empty(t, m.Depends)

	m, err = ParseManifest([]byte(`{'installable': False, 'auto_install': True}`))
	require.NoError(t, err)
	assert.False(t, m.Installable)
	assert.True(t, m.AutoInstall)
}

func TestParseManifest_NotADict(t *testing.T) {
	t.Parallel()
	for _, src := range []string{"", "x = 1\n", "['a', 'b']\n"} {
		_, err := ParseManifest([]byte(src))
		assert.Error(t, err, src)
	}
}

func TestReadManifest(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write("sale/__manifest__.py", "{'name': 'Sales', 'depends': ['base']}\n")

	m, err := ReadManifest(f.path("sale"))
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, m.Depends)

	_, err = ReadManifest(filepath.Join(f.dir, "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "python: read manifest")
}
