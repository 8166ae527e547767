package symbols

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEnv records every request the graph sends to its session.
type fakeEnv struct {
	mainTree  []string
	manifests map[string]Manifest

	arch       []*Symbol
	archEval   []*Symbol
	validation []*Symbol
	reload     []string

	modules        []*Symbol
	unregistered   []*Symbol
	removedClasses []*Symbol
	changedModels  []*Symbol
}

func newFakeEnv() *fakeEnv { return &fakeEnv{manifests: map[string]Manifest{}} }

func (e *fakeEnv) AddToRebuildArch(sym *Symbol) { e.arch = append(e.arch, sym) }
func (e *fakeEnv) AddToRebuildArchEval(sym *Symbol) { e.archEval = append(e.archEval, sym) }
func (e *fakeEnv) AddToValidations(sym *Symbol) { e.validation = append(e.validation, sym) }
func (e *fakeEnv) MustReload(_ *Symbol, path string) { e.reload = append(e.reload, path) }
func (e *fakeEnv) RegisterModule(m *Symbol) { e.modules = append(e.modules, m) }
func (e *fakeEnv) UnregisterModule(m *Symbol) { e.unregistered = append(e.unregistered, m) }
func (e *fakeEnv) RemoveModelClass(c *Symbol) { e.removedClasses = append(e.removedClasses, c) }
func (e *fakeEnv) ModelChanged(c *Symbol) { e.changedModels = append(e.changedModels, c) }

func (e *fakeEnv) MainEntryTree(sym *Symbol) []string {
	tree := sym.Tree().Path
	if HasPrefix(tree, e.mainTree) {
		return tree[len(e.mainTree):]
	}
	return tree
}

func (e *fakeEnv) ReadManifest(dir string) (Manifest, error) {
	if m, ok := e.manifests[dir]; ok {
		return m, nil
	}
	return Manifest{}, errors.New("no manifest")
}

// writeFile creates path below dir with the given content.
func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
