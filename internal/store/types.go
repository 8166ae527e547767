package store

import "time"

// Snapshot row types. Negative IDs are fake IDs allocated by a
// BatchedStore and rewritten on commit.

type File struct {
	ID          int64
	Path        string
	Hash        string
	Version     int
	Opened      bool
	LastIndexed time.Time
}

type Module struct {
	ID          int64
	Name        string
	Path        string
	Version     string
	Depends     []string
	Installable bool
}

type Symbol struct {
	ID             int64
	FileID         int64
	ParentSymbolID *int64
	Name           string
	Kind           string
	// Tree is the dotted address of the symbol.
	Tree          string
	SignatureHash string
	StartByte     uint32
	EndByte       uint32
	StartLine     int
	StartCol      int
}

type Evaluation struct {
	ID       int64
	SymbolID int64
	// Target is the dotted tree of the evaluated symbol, empty for a
	// literal without a known type.
	Target   string
	Instance bool
	Value    string
}

type Model struct {
	ID       int64
	Name     string
	SymbolID *int64
	Module   string
	IsMain   bool
}

type Dependency struct {
	ID           int64
	FileID       int64
	TargetFileID int64
	Step         string
	Level        string
}

type Diagnostic struct {
	ID        int64
	FileID    int64
	Severity  string
	Code      string
	Message   string
	Source    string
	Line      int
	Col       int
	StartByte uint32
	EndByte   uint32
}

// FileDiagnostic is a diagnostic joined with the path it belongs to.
type FileDiagnostic struct {
	Diagnostic
	Path string
}
