package python

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/symbols"
)

// archWalker declares the names bound by a block and partitions the scope
// into control-flow sections. Function bodies are left for VALIDATION.
type archWalker struct {
	reporter
	b    *Builder
	ctx  context.Context
	file *symbols.Symbol
	src  []byte
}

func newArchWalker(ctx context.Context, b *Builder, file *symbols.Symbol, path string, src []byte) *archWalker {
	return &archWalker{
		reporter: reporter{path: path, mode: b.missingImports},
		b:        b,
		ctx:      ctx,
		file:     file,
		src:      src,
	}
}

func (w *archWalker) block(scope *symbols.Symbol, n *sitter.Node) {
	for _, stmt := range blockStatements(n) {
		w.statement(scope, stmt)
	}
}

func (w *archWalker) statement(scope *symbols.Symbol, n *sitter.Node) {
	switch n.Type() {
	case "import_statement":
		w.importStatement(scope, n)
	case "import_from_statement":
		w.importFrom(scope, n)
	case "expression_statement":
		for _, c := range namedChildren(n) {
			w.expression(scope, c)
		}
	case "class_definition", "function_definition", "decorated_definition":
		w.definition(scope, n)
	case "if_statement":
		w.ifStatement(scope, n)
	case "for_statement", "while_statement":
		w.loop(scope, n)
	case "try_statement":
		w.try(scope, n)
	case "with_statement":
		w.with(scope, n)
	case "match_statement":
		w.match(scope, n)
	}
}

// =============================================================================
// Imports
// =============================================================================

// importSource returns the dotted module of a from-import and its level.
func importSource(n *sitter.Node, src []byte) ([]string, int) {
	mod := n.ChildByFieldName("module_name")
	if mod == nil {
		return nil, 0
	}
	if mod.Type() == "dotted_name" {
		return splitDotted(text(mod, src)), 0
	}
	level := 0
	var parts []string
	for _, c := range namedChildren(mod) {
		switch c.Type() {
		case "import_prefix":
			level = strings.Count(text(c, src), ".")
		case "dotted_name":
			parts = splitDotted(text(c, src))
		}
	}
	if level == 0 {
		level = strings.Count(text(mod, src), ".") - max(len(parts)-1, 0)
	}
	return parts, level
}

func splitDotted(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ".") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// importedName splits an import clause into the imported dotted name, the
// name it binds and the node standing for the binding.
func importedName(n *sitter.Node, src []byte) (name, bound string, at *sitter.Node, aliased bool) {
	if n.Type() == "aliased_import" {
		alias := n.ChildByFieldName("alias")
		return text(n.ChildByFieldName("name"), src), text(alias, src), alias, true
	}
	name = text(n, src)
	return name, splitDotted(name)[0], n, false
}

func (w *archWalker) importStatement(scope *symbols.Symbol, n *sitter.Node) {
	for _, c := range fieldChildren(n, "name") {
		name, bound, at, _ := importedName(c, w.src)
		if v := scope.AddNewVariable(bound, rangeOf(at)); v != nil {
			v.Variable().Import = &symbols.ImportInfo{Name: name}
		}
	}
}

func (w *archWalker) importFrom(scope *symbols.Symbol, n *sitter.Node) {
	from, level := importSource(n, w.src)
	if star := childOfType(n, "wildcard_import"); star != nil {
		w.starImport(scope, star, from, level)
		return
	}
	for _, c := range fieldChildren(n, "name") {
		name, bound, at, _ := importedName(c, w.src)
		if v := scope.AddNewVariable(bound, rangeOf(at)); v != nil {
			v.Variable().Import = &symbols.ImportInfo{From: strings.Join(from, "."), Name: name, Level: level}
		}
	}
}

// starImport resolves the module now and declares every name it exports,
// honouring a literal __all__.
func (w *archWalker) starImport(scope *symbols.Symbol, star *sitter.Node, from []string, level int) {
	mod, n := w.b.resolveModule(w.ctx, w.file, from, level)
	if mod == nil || n < len(from) {
		tree := w.b.absoluteTree(w.file, from, level)
		w.b.notFound(w.file, symbols.StepArch, tree)
		w.unresolvedImport(star.Parent(), strings.Repeat(".", level)+strings.Join(from, "."))
		return
	}
	w.file.AddDependency(mod, symbols.StepArch, symbols.StepArch)
	for _, name := range w.b.exported(w.ctx, mod) {
		if v := scope.AddNewVariable(name, rangeOf(star)); v != nil {
			v.Variable().Import = &symbols.ImportInfo{From: strings.Join(from, "."), Name: name, Level: level}
		}
	}
}

// exported returns the names a star import of mod binds.
func (b *Builder) exported(ctx context.Context, mod *symbols.Symbol) []string {
	if all := b.declarations(ctx, mod, "__all__"); len(all) > 0 {
		if evals := all[len(all)-1].Evaluations(); len(evals) == 1 && evals[0].Value != nil {
			return evals[0].Value.Strings()
		}
	}
	if mod.Scope() == nil {
		return nil
	}
	var out []string
	for _, name := range mod.Scope().Names() {
		if !strings.HasPrefix(name, "_") {
			out = append(out, name)
		}
	}
	return out
}

// =============================================================================
// Bindings
// =============================================================================

func (w *archWalker) expression(scope *symbols.Symbol, n *sitter.Node) {
	switch n.Type() {
	case "assignment":
		w.assignment(scope, n)
	case "augmented_assignment":
		w.walrus(scope, n.ChildByFieldName("right"))
	default:
		w.walrus(scope, n)
	}
}

func (w *archWalker) assignment(scope *symbols.Symbol, n *sitter.Node) {
	value := n.ChildByFieldName("right")
	for _, v := range w.declareTargets(scope, n.ChildByFieldName("left")) {
		if v.Name() != "__all__" {
			continue
		}
		if lit, ok := literal(assignedValue(n), w.src); ok {
			v.SetEvaluations([]*symbols.Evaluation{symbols.NewValueEvaluation(lit, nil)})
		}
	}
	if value == nil {
		return
	}
	if value.Type() == "assignment" {
		w.assignment(scope, value)
		return
	}
	w.walrus(scope, value)
}

// assignedValue returns the right-most value of a chained assignment.
func assignedValue(n *sitter.Node) *sitter.Node {
	for n != nil && n.Type() == "assignment" {
		next := n.ChildByFieldName("right")
		if next == nil {
			return nil
		}
		n = next
	}
	return n
}

// declareTargets declares the names bound by an assignment target.
func (w *archWalker) declareTargets(scope *symbols.Symbol, target *sitter.Node) []*symbols.Symbol {
	if target == nil {
		return nil
	}
	switch target.Type() {
	case "identifier":
		if v := scope.AddNewVariable(text(target, w.src), rangeOf(target)); v != nil {
			return []*symbols.Symbol{v}
		}
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list", "expression_list",
		"parenthesized_expression", "list_splat_pattern", "list_splat", "as_pattern_target":
		var out []*symbols.Symbol
		for _, c := range namedChildren(target) {
			out = append(out, w.declareTargets(scope, c)...)
		}
		return out
	}
	return nil
}

// walrus declares the names bound by assignment expressions within n.
func (w *archWalker) walrus(scope *symbols.Symbol, n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "lambda", "function_definition", "class_definition":
		return
	case "named_expression":
		if name := n.ChildByFieldName("name"); name != nil {
			scope.AddNewVariable(text(name, w.src), rangeOf(name))
		}
		w.walrus(scope, n.ChildByFieldName("value"))
		return
	}
	for _, c := range namedChildren(n) {
		w.walrus(scope, c)
	}
}

// =============================================================================
// Definitions
// =============================================================================

func (w *archWalker) definition(scope *symbols.Symbol, n *sitter.Node) {
	def, decorators := unwrapDefinition(n, w.src)
	if def == nil {
		return
	}
	name := text(def.ChildByFieldName("name"), w.src)
	body := def.ChildByFieldName("body")
	if name == "" || body == nil {
		return
	}
	switch def.Type() {
	case "class_definition":
		class := scope.AddNewClass(name, rangeOf(n), rangeOf(body))
		if class != nil {
			w.block(class, body)
		}
	case "function_definition":
		fn := scope.AddNewFunction(name, rangeOf(n), rangeOf(body))
		if fn == nil {
			return
		}
		info := fn.Function()
		for _, d := range decorators {
			switch {
			case d == "property" || strings.HasSuffix(d, ".setter") || strings.HasSuffix(d, ".getter"):
				info.IsProperty = true
			case d == "staticmethod":
				info.IsStatic = true
			case d == "classmethod":
				info.IsClassMeth = true
			}
		}
		w.parameters(fn, def.ChildByFieldName("parameters"))
		fn.SetStatus(symbols.StepArch, symbols.StatusDone)
	}
}

// parameters declares the parameters of fn in its scope.
func (w *archWalker) parameters(fn *symbols.Symbol, params *sitter.Node) {
	info := fn.Function()
	info.Params = nil
	for _, p := range namedChildren(params) {
		ident := parameterName(p)
		if ident == nil {
			continue
		}
		name := text(ident, w.src)
		info.Params = append(info.Params, name)
		if v := fn.AddNewVariable(name, rangeOf(ident)); v != nil {
			v.Variable().IsParameter = true
		}
	}
}

func parameterName(p *sitter.Node) *sitter.Node {
	switch p.Type() {
	case "identifier":
		return p
	case "default_parameter", "typed_default_parameter":
		return p.ChildByFieldName("name")
	case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
		for _, c := range namedChildren(p) {
			if found := parameterName(c); found != nil {
				return found
			}
		}
	}
	return nil
}

// functionBody declares the locals of fn from its definition node.
func (w *archWalker) functionBody(fn *symbols.Symbol, n *sitter.Node) {
	def, _ := unwrapDefinition(n, w.src)
	if def == nil {
		return
	}
	w.parameters(fn, def.ChildByFieldName("parameters"))
	if body := def.ChildByFieldName("body"); body != nil {
		w.block(fn, body)
	}
}

// =============================================================================
// Control flow
// =============================================================================

func (w *archWalker) ifStatement(scope *symbols.Symbol, n *sitter.Node) {
	sc := scope.Scope()
	w.walrus(scope, n.ChildByFieldName("condition"))
	test := sc.LastSection().Index
	var ends []int
	branch := func(body *sitter.Node) {
		if body == nil {
			return
		}
		sc.AddSectionWith(body.StartByte(), []int{test})
		w.block(scope, body)
		ends = append(ends, sc.LastSection().Index)
	}
	branch(n.ChildByFieldName("consequence"))
	hasElse := false
	for _, alt := range fieldChildren(n, "alternative") {
		switch alt.Type() {
		case "elif_clause":
			sc.AddSectionWith(alt.StartByte(), []int{test})
			w.walrus(scope, alt.ChildByFieldName("condition"))
			test = sc.LastSection().Index
			branch(alt.ChildByFieldName("consequence"))
		case "else_clause":
			hasElse = true
			branch(alt.ChildByFieldName("body"))
		}
	}
	if !hasElse {
		ends = append(ends, test)
	}
	sc.AddSectionWith(n.EndByte(), ends)
}

// loop handles for and while: the body may run zero or more times, the
// else clause runs when the loop was not left by a break.
func (w *archWalker) loop(scope *symbols.Symbol, n *sitter.Node) {
	sc := scope.Scope()
	prev := sc.LastSection().Index
	body := n.ChildByFieldName("body")
	if n.Type() == "for_statement" {
		w.walrus(scope, n.ChildByFieldName("right"))
		left := n.ChildByFieldName("left")
		sc.AddSectionWith(left.StartByte(), []int{prev})
		w.declareTargets(scope, left)
	} else {
		w.walrus(scope, n.ChildByFieldName("condition"))
		sc.AddSectionWith(body.StartByte(), []int{prev})
	}
	w.block(scope, body)
	bodyEnd := sc.LastSection().Index
	ends := []int{bodyEnd, prev}
	if alt := n.ChildByFieldName("alternative"); alt != nil {
		sc.AddSectionWith(alt.StartByte(), []int{prev, bodyEnd})
		w.block(scope, alt.ChildByFieldName("body"))
		ends = []int{sc.LastSection().Index, bodyEnd}
	}
	sc.AddSectionWith(n.EndByte(), ends)
}

func (w *archWalker) try(scope *symbols.Symbol, n *sitter.Node) {
	sc := scope.Scope()
	prev := sc.LastSection().Index
	body := n.ChildByFieldName("body")
	sc.AddSectionWith(body.StartByte(), []int{prev})
	w.block(scope, body)
	bodyEnd := sc.LastSection().Index
	mainEnd := bodyEnd
	var handlers []int
	var finally *sitter.Node
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "except_clause", "except_group_clause":
			sc.AddSectionWith(c.StartByte(), []int{prev, bodyEnd})
			w.exceptAlias(scope, c)
			w.block(scope, childOfType(c, "block"))
			handlers = append(handlers, sc.LastSection().Index)
		case "else_clause":
			sc.AddSectionWith(c.StartByte(), []int{bodyEnd})
			w.block(scope, c.ChildByFieldName("body"))
			mainEnd = sc.LastSection().Index
		case "finally_clause":
			finally = c
		}
	}
	start := n.EndByte()
	if finally != nil {
		start = finally.StartByte()
	}
	sc.AddSectionWith(start, append([]int{mainEnd}, handlers...))
	if finally != nil {
		w.block(scope, childOfType(finally, "block"))
	}
}

// exceptAlias declares the name bound by "except E as name".
func (w *archWalker) exceptAlias(scope *symbols.Symbol, c *sitter.Node) {
	var exprs []*sitter.Node
	for _, k := range namedChildren(c) {
		switch k.Type() {
		case "block", "comment":
		case "as_pattern":
			w.declareTargets(scope, childOfType(k, "as_pattern_target"))
			return
		default:
			exprs = append(exprs, k)
		}
	}
	if len(exprs) == 2 && exprs[1].Type() == "identifier" {
		w.declareTargets(scope, exprs[1])
	}
}

func (w *archWalker) with(scope *symbols.Symbol, n *sitter.Node) {
	var items func(*sitter.Node)
	items = func(node *sitter.Node) {
		for _, c := range namedChildren(node) {
			switch c.Type() {
			case "with_clause":
				items(c)
			case "with_item":
				value := c.ChildByFieldName("value")
				if value != nil && value.Type() == "as_pattern" {
					w.walrus(scope, value.NamedChild(0))
					w.declareTargets(scope, childOfType(value, "as_pattern_target"))
				} else {
					w.walrus(scope, value)
				}
			}
		}
	}
	items(n)
	w.block(scope, n.ChildByFieldName("body"))
}

func (w *archWalker) match(scope *symbols.Symbol, n *sitter.Node) {
	sc := scope.Scope()
	w.walrus(scope, n.ChildByFieldName("subject"))
	prev := sc.LastSection().Index
	var cases []*sitter.Node
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "case_clause":
			cases = append(cases, c)
		case "block":
			for _, k := range namedChildren(c) {
				if k.Type() == "case_clause" {
					cases = append(cases, k)
				}
			}
		}
	}
	var ends []int
	exhaustive := false
	for _, c := range cases {
		sc.AddSectionWith(c.StartByte(), []int{prev})
		guarded := c.ChildByFieldName("guard") != nil
		for _, p := range namedChildren(c) {
			if p.Type() != "case_pattern" {
				continue
			}
			if strings.TrimSpace(text(p, w.src)) == "_" {
				exhaustive = exhaustive || !guarded
				continue
			}
			if capture := captureName(p, w.src); capture != nil {
				exhaustive = exhaustive || !guarded
				w.declareTargets(scope, capture)
			}
			for _, alias := range asAliases(p) {
				w.declareTargets(scope, alias)
			}
		}
		w.block(scope, c.ChildByFieldName("consequence"))
		ends = append(ends, sc.LastSection().Index)
	}
	if !exhaustive {
		ends = append(ends, prev)
	}
	sc.AddSectionWith(n.EndByte(), ends)
}

// captureName returns the identifier of a bare capture pattern.
func captureName(p *sitter.Node, src []byte) *sitter.Node {
	kids := namedChildren(p)
	if len(kids) != 1 || kids[0].Type() != "dotted_name" {
		return nil
	}
	idents := namedChildren(kids[0])
	if len(idents) != 1 || text(idents[0], src) == "_" {
		return nil
	}
	return idents[0]
}

// asAliases returns the names bound by "pattern as name" within p.
func asAliases(p *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "as_pattern" {
			if alias := n.ChildByFieldName("alias"); alias != nil {
				if alias.Type() == "identifier" {
					out = append(out, alias)
				} else {
					out = append(out, namedChildren(alias)...)
				}
			}
		}
		for _, c := range namedChildren(n) {
			walk(c)
		}
	}
	walk(p)
	return out
}
