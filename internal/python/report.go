package python

import (
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/config"
	"github.com/jward/trellis/internal/diag"
	"github.com/jward/trellis/internal/symbols"
)

const diagSource = "trellis"

// reporter accumulates the diagnostics of one stage run on one file.
type reporter struct {
	path  string
	mode  config.MissingImports
	diags []diag.Diagnostic
}

func (r *reporter) add(n *sitter.Node, sev diag.Severity, code diag.Code, format string, args ...any) {
	start := n.StartPoint()
	r.diags = append(r.diags, diag.Diagnostic{
		Path:     r.path,
		Range:    symbols.Range{Start: n.StartByte(), End: n.EndByte()},
		Line:     start.Row,
		Column:   start.Column,
		Severity: sev,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Source:   diagSource,
	})
}

// unresolvedImport reports name when the missing-imports mode asks for it.
func (r *reporter) unresolvedImport(n *sitter.Node, name string) {
	switch r.mode {
	case config.MissingImportsNone:
		return
	case config.MissingImportsOdoo:
		if name != "odoo" && !strings.HasPrefix(name, "odoo.") {
			return
		}
	}
	r.add(n, diag.Warning, diag.CodeUnresolvedImport, "%s is not found", name)
}
