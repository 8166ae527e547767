package store

// DataStore is the write side of a snapshot. Both Store (direct SQLite)
// and BatchedStore (in-memory buffering committed in one transaction)
// implement it, so the exporter does not care which one it writes to.
type DataStore interface {
	// Inserts return the assigned ID.
	InsertFile(f *File) (int64, error)
	InsertModule(m *Module) (int64, error)
	InsertSymbol(sym *Symbol) (int64, error)
	InsertEvaluation(ev *Evaluation) (int64, error)
	InsertModel(m *Model) (int64, error)
	InsertDependency(d *Dependency) (int64, error)
	InsertDiagnostic(d *Diagnostic) (int64, error)
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)
