package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// formatDiagnosticsText formats diagnostics as "file:line:col: severity [code] message" lines.
func formatDiagnosticsText(w io.Writer, diags []CLIDiagnostic) {
	for _, d := range diags {
		fmt.Fprintf(w, "%s:%d:%d: %s [%s] %s\n", d.File, d.Line, d.Col, d.Severity, d.Code, d.Message)
	}
}

// formatSymbolsText formats symbols as aligned columns, one evaluation per
// indented line.
func formatSymbolsText(w io.Writer, syms []CLISymbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tFILE\tLINE")
	for _, s := range syms {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", s.ID, s.Name, s.Kind, s.File, s.StartLine)
		for _, ev := range s.Evaluations {
			fmt.Fprintf(tw, "\t  -> %s\t\t\t\n", evaluationText(ev))
		}
	}
	tw.Flush()
}

func evaluationText(ev CLIEvaluation) string {
	var b strings.Builder
	if ev.Target == "" {
		b.WriteString("?")
	} else {
		b.WriteString(ev.Target)
	}
	if ev.Instance {
		b.WriteString("()")
	}
	if ev.Value != "" {
		b.WriteString(" = ")
		b.WriteString(ev.Value)
	}
	return b.String()
}

// formatModelsText formats model classes as aligned columns.
func formatModelsText(w io.Writer, models []CLIModel) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tMODULE\tCLASS\tMAIN")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\n", m.Name, m.Module, m.Class, m.IsMain)
	}
	tw.Flush()
}

func formatFilesText(w io.Writer, files []CLIFile) {
	for _, f := range files {
		fmt.Fprintln(w, f.Path)
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case []CLIDiagnostic:
		formatDiagnosticsText(w, v)
	case []CLISymbol:
		formatSymbolsText(w, v)
	case []CLIModel:
		formatModelsText(w, v)
	case []CLIFile:
		formatFilesText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
