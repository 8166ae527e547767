package trellis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/diag"
)

func TestPythonFiles_HonoursGitignore(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.write(".gitignore", "build/\ngenerated_*.py\n")
	keep := f.write("app/main.py", "")
	keepNested := f.write("app/sub/util.py", "")
	f.write("app/generated_models.py", "")
	f.write("build/out.py", "")
	f.write(".venv/lib.py", "")
	f.write("app/__pycache__/main.py", "")
	f.write("app/stub.pyi", "")
	f.write("README.md", "")

	got, err := PythonFiles(f.dir)
	require.NoError(t, err)
	assert.Equal(t, []string{keep, keepNested}, got)
}

func TestPythonFiles_MissingRoot(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	got, err := PythonFiles(f.path("nowhere"))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndexFiles_CollectsErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.session(f.plain())
	require.NoError(t, s.Init(f.ctx))

	good := f.write("proj/main.py", "import missing_lib\n")
	err := s.IndexFiles(f.ctx, []string{good, f.path("proj/gone.py"), f.path("proj/gone2.py")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "indexing had 2 error(s)")
	assert.Contains(t, err.Error(), "gone.py")
	assert.Contains(t, codes(s.Diagnostics(good)), diag.CodeUnresolvedImport)
}

func TestIndexDirectory(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s := f.session(f.plain())
	require.NoError(t, s.Init(f.ctx))

	f.write("proj/helper.py", "VALUE = 1\n")
	main := f.write("proj/main.py", "from helper import VALUE\nimport missing_lib\n")
	require.NoError(t, s.IndexDirectory(f.ctx, f.path("proj")))

	got := codes(s.Diagnostics(main))
	assert.Contains(t, got, diag.CodeUnresolvedImport)
	for _, d := range s.Diagnostics(main) {
		assert.NotContains(t, d.Message, "helper")
	}
}
