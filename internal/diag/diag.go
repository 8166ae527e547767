// Package diag defines the diagnostics produced by the build stages.
package diag

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jward/trellis/internal/symbols"
)

// Severity follows the editor protocol numbering.
type Severity int

const (
	// Disabled drops the diagnostic entirely. Only used in overrides.
	Disabled Severity = iota
	Error
	Warning
	Information
	Hint
)

func (s Severity) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Information:
		return "info"
	case Hint:
		return "hint"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// ParseSeverity parses the configuration spelling of a severity.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off", "none":
		return Disabled, nil
	case "error":
		return Error, nil
	case "warning", "warn":
		return Warning, nil
	case "info", "information":
		return Information, nil
	case "hint":
		return Hint, nil
	}
	return Disabled, fmt.Errorf("diag: unknown severity %q", s)
}

// UnmarshalYAML accepts the spellings of ParseSeverity.
func (s *Severity) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := ParseSeverity(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Code identifies a diagnostic kind.
type Code string

const (
	CodeSyntax           Code = "OLS01000"
	CodeUnresolvedImport Code = "OLS02001"
	CodeUnresolvedName   Code = "OLS02002"
	CodeUnknownModel     Code = "OLS03001"
	CodeUnknownDepends   Code = "OLS03002"
	CodeMissingModelName Code = "OLS03003"
	CodeRule             Code = "OLS09000"
)

// Diagnostic is one problem reported against a file.
type Diagnostic struct {
	Path     string
	Range    symbols.Range
	Line     uint32
	Column   uint32
	Severity Severity
	Code     Code
	Message  string
	// Source names the producer, e.g. "arch_eval" or a rule script.
	Source string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s:%d:%d: %s [%s] %s", d.Path, d.Line+1, d.Column+1, d.Severity, d.Code, d.Message)
}

// Overrides replaces the severity of diagnostics by code.
type Overrides map[Code]Severity

// Apply returns diags with overridden severities; disabled codes are
// dropped. The input is not modified.
func (o Overrides) Apply(diags []Diagnostic) []Diagnostic {
	if len(o) == 0 {
		return diags
	}
	out := make([]Diagnostic, 0, len(diags))
	for _, d := range diags {
		if sev, ok := o[d.Code]; ok {
			if sev == Disabled {
				continue
			}
			d.Severity = sev
		}
		out = append(out, d)
	}
	return out
}

// Sort orders diagnostics by position, then code.
func Sort(diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		a, b := diags[i], diags[j]
		if a.Range.Start != b.Range.Start {
			return a.Range.Start < b.Range.Start
		}
		return a.Code < b.Code
	})
}
