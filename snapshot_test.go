package trellis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/diag"
)

func TestSnapshot_ExportedAfterDrain(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.session(f.odoo(), WithStore(f.path("snapshot.db")))
	require.NoError(t, s.Init(f.ctx))
	st := s.Store()
	require.NotNil(t, st)

	file, err := st.FileByPath(f.path("addons/sale/order.py"))
	require.NoError(t, err)
	require.NotNil(t, file)
	assert.Len(t, file.Hash, 16)

	classes, err := st.SymbolsByName("SaleOrder")
	require.NoError(t, err)
	require.Len(t, classes, 1)
	assert.Equal(t, "class", classes[0].Kind)
	assert.Equal(t, file.ID, classes[0].FileID)
	assert.Equal(t, 3, classes[0].StartLine)
	assert.NotEmpty(t, classes[0].SignatureHash)

	partner, err := st.ModelsByName("res.partner")
	require.NoError(t, err)
	require.Len(t, partner, 2)
	var main, modules []string
	for _, m := range partner {
		modules = append(modules, m.Module)
		if m.IsMain {
			main = append(main, m.Module)
		}
	}
	assert.ElementsMatch(t, []string{"base", "sale"}, modules)
	assert.Equal(t, []string{"base"}, main)

	mods, err := st.Modules()
	require.NoError(t, err)
	var names []string
	for _, m := range mods {
		names = append(names, m.Name)
	}
	assert.ElementsMatch(t, []string{"base", "sale", "crm"}, names)

	lead := f.path("addons/crm/lead.py")
	stored, err := st.Diagnostics(lead)
	require.NoError(t, err)
	var got []diag.Code
	for _, d := range stored {
		got = append(got, diag.Code(d.Code))
	}
	assert.ElementsMatch(t, codes(s.Diagnostics(lead)), got)
	assert.Contains(t, got, diag.CodeUnknownModel)
}

func TestSnapshot_DependenciesAndBlastRadius(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.session(f.plain(), WithStore(f.path("snapshot.db")))
	require.NoError(t, s.Init(f.ctx))

	helper := f.write("proj/helper.py", "VALUE = 1\n")
	main := f.write("proj/main.py", "from helper import VALUE\n")
	require.NoError(t, s.IndexFiles(f.ctx, []string{main}))

	radius, err := s.Store().BlastRadius(helper)
	require.NoError(t, err)
	assert.Contains(t, radius, main)
}

func TestSnapshot_SkippedWhenDrainBuiltNothing(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.session(f.plain(), WithStore(f.path("snapshot.db")))
	require.NoError(t, s.Init(f.ctx))

	src := "import missing_lib\n"
	main := f.write("proj/main.py", src)
	require.NoError(t, s.DidOpen(f.ctx, main, nil, 1))
	st := s.Store()
	stored, err := st.Diagnostics(main)
	require.NoError(t, err)
	require.NotEmpty(t, stored)

	_, err = st.DB().Exec("DELETE FROM diagnostics")
	require.NoError(t, err)

	// Same content: nothing is rebuilt and the snapshot is left alone.
	require.NoError(t, s.DidChange(f.ctx, main, []byte(src), 2))
	stored, err = st.Diagnostics(main)
	require.NoError(t, err)
	assert.Empty(t, stored)

	require.NoError(t, s.DidChange(f.ctx, main, []byte("X = 1\n"+src), 3))
	stored, err = st.Diagnostics(main)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)
}

func TestSnapshot_Metadata(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	db := f.path("snapshot.db")
	first := f.session(f.plain(), WithStore(db))
	assert.True(t, first.RulesChanged())
	id, err := first.Store().GetMetadata(metaSession)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), id)
	require.NoError(t, first.Close())

	second := f.session(f.plain(), WithStore(db))
	assert.False(t, second.RulesChanged())
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestSnapshot_NoStore(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.session(f.plain())
	assert.Nil(t, s.Store())
	assert.NoError(t, s.exportSnapshot())
}
