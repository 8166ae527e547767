package store

import "sync"

// BatchedStore buffers a snapshot in memory using fake (negative) IDs. It
// implements DataStore so the exporter can fill it without holding a
// database transaction open while it walks the graph.
//
// The mutex protects fake ID allocation and slice appends.
type BatchedStore struct {
	mu sync.Mutex

	Files        []File
	Modules      []Module
	Symbols      []Symbol
	Evaluations  []Evaluation
	Models       []Model
	Dependencies []Dependency
	Diagnostics  []Diagnostic

	nextFakeID int64 // starts at -1, decrements
}

// Compile-time check: *BatchedStore satisfies DataStore.
var _ DataStore = (*BatchedStore)(nil)

// NewBatchedStore creates an empty BatchedStore.
func NewBatchedStore() *BatchedStore {
	return &BatchedStore{nextFakeID: -1}
}

func (b *BatchedStore) allocFakeID() int64 {
	id := b.nextFakeID
	b.nextFakeID--
	return id
}

func (b *BatchedStore) InsertFile(f *File) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f.ID = b.allocFakeID()
	b.Files = append(b.Files, *f)
	return f.ID, nil
}

func (b *BatchedStore) InsertModule(m *Module) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m.ID = b.allocFakeID()
	b.Modules = append(b.Modules, *m)
	return m.ID, nil
}

func (b *BatchedStore) InsertSymbol(sym *Symbol) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sym.ID = b.allocFakeID()
	b.Symbols = append(b.Symbols, *sym)
	return sym.ID, nil
}

func (b *BatchedStore) InsertEvaluation(ev *Evaluation) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev.ID = b.allocFakeID()
	b.Evaluations = append(b.Evaluations, *ev)
	return ev.ID, nil
}

func (b *BatchedStore) InsertModel(m *Model) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m.ID = b.allocFakeID()
	b.Models = append(b.Models, *m)
	return m.ID, nil
}

func (b *BatchedStore) InsertDependency(d *Dependency) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d.ID = b.allocFakeID()
	b.Dependencies = append(b.Dependencies, *d)
	return d.ID, nil
}

func (b *BatchedStore) InsertDiagnostic(d *Diagnostic) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d.ID = b.allocFakeID()
	b.Diagnostics = append(b.Diagnostics, *d)
	return d.ID, nil
}

// Len returns the number of buffered rows.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Files) + len(b.Modules) + len(b.Symbols) + len(b.Evaluations) +
		len(b.Models) + len(b.Dependencies) + len(b.Diagnostics)
}
