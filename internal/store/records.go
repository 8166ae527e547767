package store

import (
	"database/sql"
	"errors"
	"fmt"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insert(db execer, what, query string, args ...any) (int64, error) {
	res, err := db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: insert %s: %w", what, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: last insert id: %w", err)
	}
	return id, nil
}

// --- Files ---

func insertFileTx(db execer, f *File) (int64, error) {
	return insert(db, "file",
		"INSERT INTO files (path, hash, version, opened, last_indexed) VALUES (?, ?, ?, ?, ?)",
		f.Path, f.Hash, f.Version, f.Opened, f.LastIndexed)
}

func (s *Store) InsertFile(f *File) (int64, error) {
	id, err := insertFileTx(s.db, f)
	if err == nil {
		f.ID = id
	}
	return id, err
}

const fileCols = "id, path, hash, version, opened, last_indexed"

func scanFile(scanner interface{ Scan(...any) error }) (*File, error) {
	f := &File{}
	if err := scanner.Scan(&f.ID, &f.Path, &f.Hash, &f.Version, &f.Opened, &f.LastIndexed); err != nil {
		return nil, err
	}
	return f, nil
}

// FileByPath returns the file stored for path, or nil.
func (s *Store) FileByPath(path string) (*File, error) {
	f, err := scanFile(s.db.QueryRow("SELECT "+fileCols+" FROM files WHERE path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: file by path: %w", err)
	}
	return f, nil
}

// Files returns every stored file ordered by path.
func (s *Store) Files() ([]*File, error) {
	rows, err := s.db.Query("SELECT " + fileCols + " FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("store: files: %w", err)
	}
	defer rows.Close()
	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- Modules ---

func insertModuleTx(db execer, m *Module) (int64, error) {
	return insert(db, "module",
		"INSERT INTO modules (name, path, version, depends, installable) VALUES (?, ?, ?, ?, ?)",
		m.Name, m.Path, m.Version, marshalList(m.Depends), m.Installable)
}

func (s *Store) InsertModule(m *Module) (int64, error) {
	id, err := insertModuleTx(s.db, m)
	if err == nil {
		m.ID = id
	}
	return id, err
}

// Modules returns every stored module ordered by name.
func (s *Store) Modules() ([]*Module, error) {
	rows, err := s.db.Query("SELECT id, name, path, version, depends, installable FROM modules ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("store: modules: %w", err)
	}
	defer rows.Close()
	var out []*Module
	for rows.Next() {
		m := &Module{}
		var deps string
		if err := rows.Scan(&m.ID, &m.Name, &m.Path, &m.Version, &deps, &m.Installable); err != nil {
			return nil, fmt.Errorf("store: scan module: %w", err)
		}
		m.Depends = unmarshalList(deps)
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Symbols ---

func insertSymbolTx(db execer, sym *Symbol) (int64, error) {
	return insert(db, "symbol",
		`INSERT INTO symbols (file_id, parent_symbol_id, name, kind, tree, signature_hash,
			start_byte, end_byte, start_line, start_col)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sym.FileID, sym.ParentSymbolID, sym.Name, sym.Kind, sym.Tree, sym.SignatureHash,
		sym.StartByte, sym.EndByte, sym.StartLine, sym.StartCol)
}

func (s *Store) InsertSymbol(sym *Symbol) (int64, error) {
	id, err := insertSymbolTx(s.db, sym)
	if err == nil {
		sym.ID = id
	}
	return id, err
}

// SymbolCols is the column list of symbol queries.
const SymbolCols = `id, file_id, parent_symbol_id, name, kind, tree, signature_hash,
	start_byte, end_byte, start_line, start_col`

func scanSymbol(scanner interface{ Scan(...any) error }) (*Symbol, error) {
	sym := &Symbol{}
	err := scanner.Scan(&sym.ID, &sym.FileID, &sym.ParentSymbolID, &sym.Name, &sym.Kind, &sym.Tree,
		&sym.SignatureHash, &sym.StartByte, &sym.EndByte, &sym.StartLine, &sym.StartCol)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

func (s *Store) querySymbols(query string, args ...any) ([]*Symbol, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query symbols: %w", err)
	}
	defer rows.Close()
	var out []*Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan symbol: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *Store) SymbolsByFile(fileID int64) ([]*Symbol, error) {
	return s.querySymbols("SELECT "+SymbolCols+" FROM symbols WHERE file_id = ? ORDER BY start_byte", fileID)
}

func (s *Store) SymbolsByName(name string) ([]*Symbol, error) {
	return s.querySymbols("SELECT "+SymbolCols+" FROM symbols WHERE name = ? ORDER BY tree, start_byte", name)
}

// SymbolsByTree returns the symbols declared at a dotted address, in
// declaration order.
func (s *Store) SymbolsByTree(tree string) ([]*Symbol, error) {
	return s.querySymbols("SELECT "+SymbolCols+" FROM symbols WHERE tree = ? ORDER BY start_byte", tree)
}

func (s *Store) SymbolChildren(symbolID int64) ([]*Symbol, error) {
	return s.querySymbols("SELECT "+SymbolCols+" FROM symbols WHERE parent_symbol_id = ? ORDER BY start_byte", symbolID)
}

// --- Evaluations ---

func insertEvaluationTx(db execer, ev *Evaluation) (int64, error) {
	return insert(db, "evaluation",
		"INSERT INTO evaluations (symbol_id, target, instance, value) VALUES (?, ?, ?, ?)",
		ev.SymbolID, ev.Target, ev.Instance, ev.Value)
}

func (s *Store) InsertEvaluation(ev *Evaluation) (int64, error) {
	id, err := insertEvaluationTx(s.db, ev)
	if err == nil {
		ev.ID = id
	}
	return id, err
}

func (s *Store) EvaluationsBySymbol(symbolID int64) ([]*Evaluation, error) {
	rows, err := s.db.Query("SELECT id, symbol_id, target, instance, value FROM evaluations WHERE symbol_id = ? ORDER BY id", symbolID)
	if err != nil {
		return nil, fmt.Errorf("store: evaluations: %w", err)
	}
	defer rows.Close()
	var out []*Evaluation
	for rows.Next() {
		ev := &Evaluation{}
		if err := rows.Scan(&ev.ID, &ev.SymbolID, &ev.Target, &ev.Instance, &ev.Value); err != nil {
			return nil, fmt.Errorf("store: scan evaluation: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- Models ---

func insertModelTx(db execer, m *Model) (int64, error) {
	return insert(db, "model",
		"INSERT INTO models (name, symbol_id, module, is_main) VALUES (?, ?, ?, ?)",
		m.Name, m.SymbolID, m.Module, m.IsMain)
}

func (s *Store) InsertModel(m *Model) (int64, error) {
	id, err := insertModelTx(s.db, m)
	if err == nil {
		m.ID = id
	}
	return id, err
}

// ModelsByName returns the classes declaring or extending a model, main
// declarations first.
func (s *Store) ModelsByName(name string) ([]*Model, error) {
	rows, err := s.db.Query(
		"SELECT id, name, symbol_id, module, is_main FROM models WHERE name = ? ORDER BY is_main DESC, module, id", name)
	if err != nil {
		return nil, fmt.Errorf("store: models: %w", err)
	}
	defer rows.Close()
	var out []*Model
	for rows.Next() {
		m := &Model{}
		if err := rows.Scan(&m.ID, &m.Name, &m.SymbolID, &m.Module, &m.IsMain); err != nil {
			return nil, fmt.Errorf("store: scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Dependencies ---

func insertDependencyTx(db execer, d *Dependency) (int64, error) {
	return insert(db, "dependency",
		"INSERT INTO dependencies (file_id, target_file_id, step, level) VALUES (?, ?, ?, ?)",
		d.FileID, d.TargetFileID, d.Step, d.Level)
}

func (s *Store) InsertDependency(d *Dependency) (int64, error) {
	id, err := insertDependencyTx(s.db, d)
	if err == nil {
		d.ID = id
	}
	return id, err
}

// --- Diagnostics ---

func insertDiagnosticTx(db execer, d *Diagnostic) (int64, error) {
	return insert(db, "diagnostic",
		`INSERT INTO diagnostics (file_id, severity, code, message, source, line, col, start_byte, end_byte)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.FileID, d.Severity, d.Code, d.Message, d.Source, d.Line, d.Col, d.StartByte, d.EndByte)
}

func (s *Store) InsertDiagnostic(d *Diagnostic) (int64, error) {
	id, err := insertDiagnosticTx(s.db, d)
	if err == nil {
		d.ID = id
	}
	return id, err
}

// Diagnostics returns the stored diagnostics of every file, or of path
// when it is not empty, ordered by path and position.
func (s *Store) Diagnostics(path string) ([]*FileDiagnostic, error) {
	query := `SELECT d.id, d.file_id, d.severity, d.code, d.message, d.source, d.line, d.col,
		d.start_byte, d.end_byte, f.path
		FROM diagnostics d JOIN files f ON f.id = d.file_id`
	var args []any
	if path != "" {
		query += " WHERE f.path = ?"
		args = append(args, path)
	}
	query += " ORDER BY f.path, d.line, d.col, d.id"
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: diagnostics: %w", err)
	}
	defer rows.Close()
	var out []*FileDiagnostic
	for rows.Next() {
		d := &FileDiagnostic{}
		if err := rows.Scan(&d.ID, &d.FileID, &d.Severity, &d.Code, &d.Message, &d.Source, &d.Line, &d.Col,
			&d.StartByte, &d.EndByte, &d.Path); err != nil {
			return nil, fmt.Errorf("store: scan diagnostic: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
