package trellis

import (
	"github.com/jward/trellis/internal/build"
	"github.com/jward/trellis/internal/diag"
	"github.com/jward/trellis/internal/symbols"
	"github.com/jward/trellis/internal/watch"
)

// Symbol is a node of the symbol graph.
type Symbol = symbols.Symbol

// Diagnostic is one problem reported against a file.
type Diagnostic = diag.Diagnostic

// Event is a file system change handed to DidChangeWatchedFiles.
type Event = watch.Event

// InitState reports how far Init went.
type InitState = build.InitState

const (
	NotReady    = build.NotReady
	PythonReady = build.PythonReady
	OdooReady   = build.OdooReady
)
