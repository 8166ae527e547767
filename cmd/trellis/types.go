package main

// CLIResult is the top-level JSON envelope for all query commands.
type CLIResult struct {
	Command string `json:"command"`
	Results any    `json:"results"`
	Error   string `json:"error,omitempty"`
}

// CLIDiagnostic is a JSON-friendly diagnostic.
type CLIDiagnostic struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Col      int    `json:"col"`
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
}

// CLIEvaluation is one inferred binding of a symbol.
type CLIEvaluation struct {
	Target   string `json:"target,omitempty"`
	Instance bool   `json:"instance"`
	Value    string `json:"value,omitempty"`
}

// CLISymbol is a JSON-friendly symbol with its evaluations.
type CLISymbol struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Kind        string          `json:"kind"`
	Tree        string          `json:"tree"`
	File        string          `json:"file,omitempty"`
	StartLine   int             `json:"start_line"`
	StartCol    int             `json:"start_col"`
	Evaluations []CLIEvaluation `json:"evaluations,omitempty"`
}

// CLIModel is one class contributing to a model.
type CLIModel struct {
	Name   string `json:"name"`
	Module string `json:"module,omitempty"`
	Class  string `json:"class,omitempty"`
	IsMain bool   `json:"is_main"`
}

// CLIFile is a file path in a blast radius.
type CLIFile struct {
	Path string `json:"path"`
}
