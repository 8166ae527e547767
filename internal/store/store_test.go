package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

// insertTestFile inserts a file and returns it with ID set.
func insertTestFile(t *testing.T, s *Store, path string) *File {
	t.Helper()
	f := &File{Path: path, Hash: "abc123", Version: 1, LastIndexed: time.Now().Truncate(time.Second)}
	id, err := s.InsertFile(f)
	require.NoError(t, err)
	require.Positive(t, id)
	return f
}

func insertTestSymbol(t *testing.T, s *Store, fileID int64, tree, name, kind string) *Symbol {
	t.Helper()
	sym := &Symbol{FileID: fileID, Name: name, Kind: kind, Tree: tree, StartByte: 0, EndByte: 10}
	id, err := s.InsertSymbol(sym)
	require.NoError(t, err)
	require.Positive(t, id)
	return sym
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	for _, table := range Tables {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestNewStore_BadPath(t *testing.T) {
	t.Parallel()
	_, err := NewStore(filepath.Join(t.TempDir(), "missing", "dir", "x.db"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store:")
}

// =============================================================================
// Records
// =============================================================================

func TestFileByPath(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := insertTestFile(t, s, "/proj/main.py")

	got, err := s.FileByPath("/proj/main.py")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, "abc123", got.Hash)
	assert.Equal(t, 1, got.Version)
	assert.False(t, got.Opened)

	missing, err := s.FileByPath("/nope.py")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSymbols_QueriesAndChildren(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	f := insertTestFile(t, s, "/proj/main.py")
	class := insertTestSymbol(t, s, f.ID, "main.Thing", "Thing", "class")
	method := &Symbol{FileID: f.ID, ParentSymbolID: ptr(class.ID), Name: "run", Kind: "function",
		Tree: "main.Thing.run", StartByte: 20, EndByte: 40, StartLine: 2, StartCol: 4}
	_, err := s.InsertSymbol(method)
	require.NoError(t, err)

	byFile, err := s.SymbolsByFile(f.ID)
	require.NoError(t, err)
	require.Len(t, byFile, 2)
	assert.Equal(t, "Thing", byFile[0].Name)

	byTree, err := s.SymbolsByTree("main.Thing.run")
	require.NoError(t, err)
	require.Len(t, byTree, 1)
	assert.Equal(t, 2, byTree[0].StartLine)
	require.NotNil(t, byTree[0].ParentSymbolID)
	assert.Equal(t, class.ID, *byTree[0].ParentSymbolID)

	children, err := s.SymbolChildren(class.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "run", children[0].Name)

	byName, err := s.SymbolsByName("Thing")
	require.NoError(t, err)
	assert.Len(t, byName, 1)
}

func TestModules_DependsRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.InsertModule(&Module{Name: "sale", Path: "/addons/sale", Depends: []string{"base", "mail"}, Installable: true})
	require.NoError(t, err)
	_, err = s.InsertModule(&Module{Name: "base", Path: "/odoo/addons/base", Installable: true})
	require.NoError(t, err)

	mods, err := s.Modules()
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, "base", mods[0].Name)
	assert.Empty(t, mods[0].Depends)
	assert.Equal(t, []string{"base", "mail"}, mods[1].Depends)
}

func TestDiagnostics_FilterByPath(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a := insertTestFile(t, s, "/a.py")
	b := insertTestFile(t, s, "/b.py")
	for _, d := range []*Diagnostic{
		{FileID: b.ID, Severity: "warning", Code: "OLS02001", Message: "x is not found", Line: 3},
		{FileID: a.ID, Severity: "error", Code: "OLS01000", Message: "syntax error", Line: 1},
		{FileID: a.ID, Severity: "warning", Code: "OLS02001", Message: "y is not found", Line: 0},
	} {
		_, err := s.InsertDiagnostic(d)
		require.NoError(t, err)
	}

	all, err := s.Diagnostics("")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "/a.py", all[0].Path)
	assert.Equal(t, "y is not found", all[0].Message)
	assert.Equal(t, "/b.py", all[2].Path)

	onlyB, err := s.Diagnostics("/b.py")
	require.NoError(t, err)
	require.Len(t, onlyB, 1)
	assert.Equal(t, "OLS02001", onlyB[0].Code)
}

func TestDeleteFileData(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	a := insertTestFile(t, s, "/a.py")
	b := insertTestFile(t, s, "/b.py")
	sym := insertTestSymbol(t, s, a.ID, "a.X", "X", "variable")
	_, err := s.InsertEvaluation(&Evaluation{SymbolID: sym.ID, Target: "builtins.int", Instance: true, Value: "1"})
	require.NoError(t, err)
	_, err = s.InsertModel(&Model{Name: "res.partner", SymbolID: ptr(sym.ID), Module: "base", IsMain: true})
	require.NoError(t, err)
	_, err = s.InsertDependency(&Dependency{FileID: b.ID, TargetFileID: a.ID, Step: "arch_eval", Level: "arch"})
	require.NoError(t, err)
	_, err = s.InsertDiagnostic(&Diagnostic{FileID: a.ID, Severity: "hint", Code: "OLS09000", Message: "m"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteFileData(a.ID))

	for _, table := range Tables {
		var n int
		require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
		if table == "files" {
			assert.Equal(t, 1, n, table)
			continue
		}
		assert.Zero(t, n, table)
	}
}

func TestMetadata_SurvivesClear(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	v, err := s.GetMetadata("rules_hash")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, s.SetMetadata("rules_hash", "1"))
	require.NoError(t, s.SetMetadata("rules_hash", "2"))
	insertTestFile(t, s, "/a.py")
	require.NoError(t, s.Clear())

	v, err = s.GetMetadata("rules_hash")
	require.NoError(t, err)
	assert.Equal(t, "2", v)
	f, err := s.FileByPath("/a.py")
	require.NoError(t, err)
	assert.Nil(t, f)
}

// =============================================================================
// Batches
// =============================================================================

// fillBatch buffers a two-file snapshot where b.py imports a.py.
func fillBatch(t *testing.T, batch DataStore, hash string) {
	t.Helper()
	a := &File{Path: "/a.py", Hash: hash}
	_, err := batch.InsertFile(a)
	require.NoError(t, err)
	b := &File{Path: "/b.py", Hash: hash}
	_, err = batch.InsertFile(b)
	require.NoError(t, err)

	class := &Symbol{FileID: a.ID, Name: "Partner", Kind: "class", Tree: "a.Partner"}
	_, err = batch.InsertSymbol(class)
	require.NoError(t, err)
	field := &Symbol{FileID: a.ID, ParentSymbolID: ptr(class.ID), Name: "name", Kind: "variable", Tree: "a.Partner.name"}
	_, err = batch.InsertSymbol(field)
	require.NoError(t, err)
	_, err = batch.InsertEvaluation(&Evaluation{SymbolID: field.ID, Target: "odoo.fields.Char", Instance: true})
	require.NoError(t, err)
	_, err = batch.InsertModel(&Model{Name: "res.partner", SymbolID: ptr(class.ID), Module: "base", IsMain: true})
	require.NoError(t, err)
	_, err = batch.InsertDependency(&Dependency{FileID: b.ID, TargetFileID: a.ID, Step: "arch_eval", Level: "arch"})
	require.NoError(t, err)
	_, err = batch.InsertDiagnostic(&Diagnostic{FileID: b.ID, Severity: "warning", Code: "OLS02001", Message: "z is not found"})
	require.NoError(t, err)
	_, err = batch.InsertModule(&Module{Name: "base", Path: "/odoo/addons/base", Installable: true})
	require.NoError(t, err)
}

func TestBatchedStore_FakeIDs(t *testing.T) {
	t.Parallel()
	batch := NewBatchedStore()
	fillBatch(t, batch, "h1")
	assert.Equal(t, 9, batch.Len())
	for _, f := range batch.Files {
		assert.Negative(t, f.ID)
	}
	require.NotNil(t, batch.Symbols[1].ParentSymbolID)
	assert.Equal(t, batch.Symbols[0].ID, *batch.Symbols[1].ParentSymbolID)
}

func TestCommitBatch_RemapsIDs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	batch := NewBatchedStore()
	fillBatch(t, batch, "h1")
	require.NoError(t, s.CommitBatch(batch, true))

	syms, err := s.SymbolsByTree("a.Partner.name")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	require.NotNil(t, syms[0].ParentSymbolID)
	assert.Positive(t, *syms[0].ParentSymbolID)

	evals, err := s.EvaluationsBySymbol(syms[0].ID)
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, "odoo.fields.Char", evals[0].Target)

	models, err := s.ModelsByName("res.partner")
	require.NoError(t, err)
	require.Len(t, models, 1)
	require.NotNil(t, models[0].SymbolID)
	assert.Equal(t, *syms[0].ParentSymbolID, *models[0].SymbolID)

	radius, err := s.BlastRadius("/a.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"/b.py"}, radius)
}

func TestCommitBatch_ReplaceAndMerge(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	first := NewBatchedStore()
	fillBatch(t, first, "h1")
	require.NoError(t, s.CommitBatch(first, true))

	// A partial batch only replaces the files it carries.
	partial := NewBatchedStore()
	_, err := partial.InsertFile(&File{Path: "/b.py", Hash: "h2"})
	require.NoError(t, err)
	require.NoError(t, s.CommitBatch(partial, false))

	files, err := s.Files()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "h1", files[0].Hash)
	assert.Equal(t, "h2", files[1].Hash)
	diags, err := s.Diagnostics("/b.py")
	require.NoError(t, err)
	assert.Empty(t, diags)

	// A full batch drops everything else.
	full := NewBatchedStore()
	_, err = full.InsertFile(&File{Path: "/c.py"})
	require.NoError(t, err)
	require.NoError(t, s.CommitBatch(full, true))
	files, err = s.Files()
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "/c.py", files[0].Path)
}

func TestCommitBatch_UnknownFakeID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	batch := NewBatchedStore()
	_, err := batch.InsertSymbol(&Symbol{FileID: -42, Name: "X", Kind: "variable", Tree: "x.X"})
	require.NoError(t, err)
	err = s.CommitBatch(batch, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in batch")

	files, err := s.Files()
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestComputeSignatureHash(t *testing.T) {
	t.Parallel()
	evals := []*Evaluation{{Target: "b", Instance: true}, {Target: "a"}}
	h := ComputeSignatureHash("X", "variable", "m.X", evals)
	assert.Len(t, h, 16)
	reversed := []*Evaluation{evals[1], evals[0]}
	assert.Equal(t, h, ComputeSignatureHash("X", "variable", "m.X", reversed))
	assert.NotEqual(t, h, ComputeSignatureHash("X", "variable", "m.Y", evals))
}
