package store

import (
	"database/sql"
	"fmt"
)

// CommitBatch writes the buffered snapshot within a single transaction.
// With replace the previous snapshot is dropped first; otherwise only the
// files present in the batch are replaced. Fake (negative) IDs are remapped
// to real IDs and every reference within the batch is rewritten.
//
// Insert order respects FK dependencies:
//  1. Files, Modules
//  2. Symbols (file_id, parent_symbol_id)
//  3. Evaluations, Models (symbol_id)
//  4. Dependencies, Diagnostics (file_id)
func (s *Store) CommitBatch(batch *BatchedStore, replace bool) error {
	batch.mu.Lock()
	defer batch.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: commit batch: begin: %w", err)
	}
	defer tx.Rollback()

	if replace {
		if err := clearTx(tx); err != nil {
			return err
		}
	}

	fakeToReal := make(map[int64]int64)
	resolve := func(id int64) (int64, error) {
		if id >= 0 {
			return id, nil
		}
		mapped, ok := fakeToReal[id]
		if !ok {
			return 0, fmt.Errorf("fake id %d not in batch", id)
		}
		return mapped, nil
	}

	// 1. Files and modules
	for _, f := range batch.Files {
		if !replace {
			if err := deleteFileByPathTx(tx, f.Path); err != nil {
				return err
			}
		}
		realID, err := insertFileTx(tx, &f)
		if err != nil {
			return fmt.Errorf("store: commit batch: file %q: %w", f.Path, err)
		}
		fakeToReal[f.ID] = realID
	}
	for _, m := range batch.Modules {
		if !replace {
			if _, err := tx.Exec("DELETE FROM modules WHERE name = ?", m.Name); err != nil {
				return fmt.Errorf("store: commit batch: module %q: %w", m.Name, err)
			}
		}
		realID, err := insertModuleTx(tx, &m)
		if err != nil {
			return fmt.Errorf("store: commit batch: module %q: %w", m.Name, err)
		}
		fakeToReal[m.ID] = realID
	}

	// 2. Symbols, parents are buffered before their children
	for _, sym := range batch.Symbols {
		if sym.FileID, err = resolve(sym.FileID); err != nil {
			return fmt.Errorf("store: commit batch: symbol %q: %w", sym.Tree, err)
		}
		if sym.ParentSymbolID != nil {
			parent, err := resolve(*sym.ParentSymbolID)
			if err != nil {
				return fmt.Errorf("store: commit batch: symbol %q: %w", sym.Tree, err)
			}
			sym.ParentSymbolID = &parent
		}
		realID, err := insertSymbolTx(tx, &sym)
		if err != nil {
			return fmt.Errorf("store: commit batch: symbol %q: %w", sym.Tree, err)
		}
		fakeToReal[sym.ID] = realID
	}

	// 3. Evaluations and models
	for _, ev := range batch.Evaluations {
		if ev.SymbolID, err = resolve(ev.SymbolID); err != nil {
			return fmt.Errorf("store: commit batch: evaluation: %w", err)
		}
		if _, err := insertEvaluationTx(tx, &ev); err != nil {
			return fmt.Errorf("store: commit batch: evaluation: %w", err)
		}
	}
	for _, m := range batch.Models {
		if m.SymbolID != nil {
			sym, err := resolve(*m.SymbolID)
			if err != nil {
				return fmt.Errorf("store: commit batch: model %q: %w", m.Name, err)
			}
			m.SymbolID = &sym
		}
		if _, err := insertModelTx(tx, &m); err != nil {
			return fmt.Errorf("store: commit batch: model %q: %w", m.Name, err)
		}
	}

	// 4. Dependencies and diagnostics
	for _, d := range batch.Dependencies {
		if d.FileID, err = resolve(d.FileID); err != nil {
			return fmt.Errorf("store: commit batch: dependency: %w", err)
		}
		if d.TargetFileID, err = resolve(d.TargetFileID); err != nil {
			return fmt.Errorf("store: commit batch: dependency: %w", err)
		}
		if _, err := insertDependencyTx(tx, &d); err != nil {
			return fmt.Errorf("store: commit batch: dependency: %w", err)
		}
	}
	for _, d := range batch.Diagnostics {
		if d.FileID, err = resolve(d.FileID); err != nil {
			return fmt.Errorf("store: commit batch: diagnostic %s: %w", d.Code, err)
		}
		if _, err := insertDiagnosticTx(tx, &d); err != nil {
			return fmt.Errorf("store: commit batch: diagnostic %s: %w", d.Code, err)
		}
	}

	return tx.Commit()
}

func deleteFileByPathTx(tx *sql.Tx, path string) error {
	var id int64
	err := tx.QueryRow("SELECT id FROM files WHERE path = ?", path).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: file by path: %w", err)
	}
	return deleteFileTx(tx, id)
}
