package trellis

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jward/trellis/internal/store"
	"github.com/jward/trellis/internal/symbols"
)

// exporter fills a batch from the live graph. File rows are keyed by path
// and symbol rows by graph node, so shared roots are written once.
type exporter struct {
	s       *Session
	batch   *store.BatchedStore
	now     time.Time
	fileIDs map[string]int64
	symIDs  map[*symbols.Symbol]int64
	sources []*symbols.Symbol
}

// exportSnapshot replaces the snapshot with the current graph. It is a
// no-op without a store.
func (s *Session) exportSnapshot() error {
	if s.store == nil {
		return nil
	}
	x := &exporter{
		s:       s,
		batch:   store.NewBatchedStore(),
		now:     time.Now(),
		fileIDs: make(map[string]int64),
		symIDs:  make(map[*symbols.Symbol]int64),
	}
	if err := x.export(); err != nil {
		return err
	}
	if err := s.store.CommitBatch(x.batch, true); err != nil {
		return fmt.Errorf("trellis: snapshot: %w", err)
	}
	return nil
}

func (x *exporter) export() error {
	seen := make(map[*symbols.Symbol]bool)
	for _, e := range x.s.entries.IterAll() {
		pending := []*symbols.Symbol{e.Root()}
		for len(pending) > 0 {
			sym := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			if seen[sym] {
				continue
			}
			seen[sym] = true
			if sym.Kind().HoldsSource() && !sym.IsExternal() {
				if err := x.source(sym); err != nil {
					return err
				}
			}
			pending = append(pending, sym.ModuleChildren()...)
		}
	}
	for _, path := range x.s.files.Paths() {
		if len(x.s.files.Diagnostics(path)) == 0 {
			continue
		}
		if _, err := x.file(path); err != nil {
			return err
		}
	}
	for _, fn := range []func() error{x.modules, x.models, x.dependencies, x.diagnostics} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// file returns the row id of path, inserting the row on first use.
func (x *exporter) file(path string) (int64, error) {
	if id, ok := x.fileIDs[path]; ok {
		return id, nil
	}
	row := &store.File{Path: path, LastIndexed: x.now}
	if f := x.s.files.Get(path); f != nil {
		row.Hash = fmt.Sprintf("%016x", f.Hash())
		row.Version = f.Version
		row.Opened = f.Opened
	}
	id, err := x.batch.InsertFile(row)
	if err != nil {
		return 0, err
	}
	x.fileIDs[path] = id
	return id, nil
}

// source writes a file or package symbol and every declaration under it.
func (x *exporter) source(sym *symbols.Symbol) error {
	path := sym.SourcePath()
	if path == "" {
		return nil
	}
	fileID, err := x.file(path)
	if err != nil {
		return err
	}
	var src []byte
	if f := x.s.files.Get(path); f != nil {
		src = f.Source()
	}
	x.sources = append(x.sources, sym)
	return x.symbol(sym, fileID, nil, src)
}

func (x *exporter) symbol(sym *symbols.Symbol, fileID int64, parent *int64, src []byte) error {
	tree := sym.Tree().String()
	kind := sym.Kind().String()
	evals := make([]*store.Evaluation, 0, len(sym.Evaluations()))
	for _, ev := range sym.Evaluations() {
		row := &store.Evaluation{Instance: ev.Instance}
		if target := ev.Symbol(); target != nil {
			row.Target = target.Tree().String()
		}
		if ev.Value != nil {
			row.Value = ev.Value.String()
		}
		evals = append(evals, row)
	}
	rng := sym.Range()
	line, col := lineCol(src, rng.Start)
	id, err := x.batch.InsertSymbol(&store.Symbol{
		FileID:         fileID,
		ParentSymbolID: parent,
		Name:           sym.Name(),
		Kind:           kind,
		Tree:           tree,
		SignatureHash:  store.ComputeSignatureHash(sym.Name(), kind, tree, evals),
		StartByte:      rng.Start,
		EndByte:        rng.End,
		StartLine:      line,
		StartCol:       col,
	})
	if err != nil {
		return err
	}
	x.symIDs[sym] = id
	for _, ev := range evals {
		ev.SymbolID = id
		if _, err := x.batch.InsertEvaluation(ev); err != nil {
			return err
		}
	}
	for _, child := range sym.ContentSymbols() {
		if err := x.symbol(child, fileID, &id, src); err != nil {
			return err
		}
	}
	return nil
}

func (x *exporter) modules() error {
	for _, name := range x.s.models.Modules() {
		sym := x.s.models.Module(name)
		if sym == nil || sym.Module() == nil {
			continue
		}
		row := &store.Module{Name: name}
		if paths := sym.Paths(); len(paths) > 0 {
			row.Path = paths[0]
		}
		m := sym.Module().Manifest
		row.Version = m.Version
		row.Depends = m.Depends
		row.Installable = m.Installable
		if _, err := x.batch.InsertModule(row); err != nil {
			return err
		}
	}
	return nil
}

func (x *exporter) models() error {
	for _, name := range x.s.models.Models() {
		m := x.s.models.Model(name)
		if m == nil {
			continue
		}
		main := make(map[*symbols.Symbol]bool)
		for _, c := range m.MainSymbols() {
			main[c] = true
		}
		for _, class := range m.Symbols() {
			row := &store.Model{Name: name, IsMain: main[class]}
			if id, ok := x.symIDs[class]; ok {
				row.SymbolID = &id
			}
			if module := class.FindModule(); module != nil && module.Module() != nil {
				row.Module = module.Module().DirName
			}
			if _, err := x.batch.InsertModel(row); err != nil {
				return err
			}
		}
	}
	return nil
}

// dependencies writes one row per distinct file edge and step pair.
func (x *exporter) dependencies() error {
	type edge struct {
		from, to    int64
		step, level symbols.BuildStep
	}
	seen := make(map[edge]bool)
	for _, sym := range x.sources {
		from := x.fileIDs[sym.SourcePath()]
		for _, step := range symbols.Steps {
			for _, level := range symbols.Steps {
				if level > step {
					break
				}
				for _, dep := range sym.Dependencies(step, level) {
					to, ok := x.fileIDs[dep.SourcePath()]
					if !ok || to == from {
						continue
					}
					e := edge{from, to, step, level}
					if seen[e] {
						continue
					}
					seen[e] = true
					if _, err := x.batch.InsertDependency(&store.Dependency{
						FileID:       from,
						TargetFileID: to,
						Step:         step.String(),
						Level:        level.String(),
					}); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (x *exporter) diagnostics() error {
	for path, fileID := range x.fileIDs {
		for _, d := range x.s.files.Diagnostics(path) {
			if _, err := x.batch.InsertDiagnostic(&store.Diagnostic{
				FileID:    fileID,
				Severity:  d.Severity.String(),
				Code:      string(d.Code),
				Message:   d.Message,
				Source:    d.Source,
				Line:      int(d.Line),
				Col:       int(d.Column),
				StartByte: d.Range.Start,
				EndByte:   d.Range.End,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// lineCol converts a byte offset into a 0-based line and column.
func lineCol(src []byte, offset uint32) (int, int) {
	if int(offset) > len(src) {
		offset = uint32(len(src))
	}
	head := src[:offset]
	line := bytes.Count(head, []byte{'\n'})
	col := len(head) - (bytes.LastIndexByte(head, '\n') + 1)
	return line, col
}
