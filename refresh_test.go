package trellis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/config"
	"github.com/jward/trellis/internal/diag"
	"github.com/jward/trellis/internal/watch"
)

func TestStart_Twice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.session(f.plain())

	require.NoError(t, s.Start(f.ctx))
	err := s.Start(f.ctx)
	require.ErrorIs(t, err, watch.ErrStarted)

	s.Stop()
	s.Stop()
	require.NoError(t, s.Start(f.ctx))
}

func TestStart_DelaysOnSaveRebuilds(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	cfg := f.plain()
	cfg.Refresh = config.RefreshOnSave
	cfg.RefreshDelay = 20
	s := f.session(cfg)
	require.NoError(t, s.Init(f.ctx))

	path := f.write("proj/main.py", "A = 1\n")
	require.NoError(t, s.DidOpen(f.ctx, path, nil, 1))
	require.NoError(t, s.Start(f.ctx))

	f.write("proj/main.py", "import missing_lib\n")
	require.NoError(t, s.DidSave(f.ctx, path))
	assert.Eventually(t, func() bool {
		for _, c := range codes(s.Diagnostics(path)) {
			if c == diag.CodeUnresolvedImport {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, s.QueueSize())
}

func TestProcessRebuilds_Publishes(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	published := map[string][]Diagnostic{}
	s := f.session(f.plain(), WithPublisher(func(path string, _ int, diags []Diagnostic) {
		published[path] = diags
	}))
	require.NoError(t, s.Init(f.ctx))

	path := f.write("proj/main.py", "import missing_lib\n")
	require.NoError(t, s.DidOpen(f.ctx, path, nil, 1))
	require.Contains(t, published, path)
	assert.Contains(t, codes(published[path]), diag.CodeUnresolvedImport)

	delete(published, path)
	assert.True(t, s.ProcessRebuilds(f.ctx))
	assert.NotContains(t, published, path, "unchanged files are not published again")
}

func TestRequestReload_Synchronous(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.session(f.odoo())
	require.NoError(t, s.Init(f.ctx))
	before := s.Lookup("odoo", "addons", "sale")
	require.NotNil(t, before)

	require.NoError(t, s.RequestReload(f.ctx))
	after := s.Lookup("odoo", "addons", "sale")
	require.NotNil(t, after)
	assert.NotSame(t, before, after)
	assert.ElementsMatch(t, []string{"base", "sale", "crm"}, s.Modules())
}

func TestRefreshEvaluations(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.session(f.odoo())
	require.NoError(t, s.Init(f.ctx))
	order := f.path("addons/sale/order.py")
	before := codes(s.Diagnostics(order))

	s.RefreshEvaluations(f.ctx)
	assert.Zero(t, s.QueueSize())
	assert.Equal(t, before, codes(s.Diagnostics(order)))
}
