package python

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/eval"
	"github.com/jward/trellis/internal/symbols"
)

// evalWalker computes the evaluations of the names declared by the ARCH
// walker. It runs at ARCH_EVAL on module and class bodies, and at
// VALIDATION on function bodies; step is the stage dependencies and
// unresolved imports are recorded at.
type evalWalker struct {
	reporter
	b    *Builder
	ctx  context.Context
	file *symbols.Symbol
	src  []byte
	step symbols.BuildStep
}

func newEvalWalker(ctx context.Context, b *Builder, file *symbols.Symbol, path string, src []byte, step symbols.BuildStep) *evalWalker {
	return &evalWalker{
		reporter: reporter{path: path, mode: b.missingImports},
		b:        b,
		ctx:      ctx,
		file:     file,
		src:      src,
		step:     step,
	}
}

// declAt returns the declaration of name in scope starting at start.
func declAt(scope *symbols.Symbol, name string, start uint32) *symbols.Symbol {
	if scope.Scope() == nil {
		return nil
	}
	for _, s := range scope.Scope().Declarations(name) {
		if s.Range().Start == start {
			return s
		}
	}
	return nil
}

func (w *evalWalker) block(scope *symbols.Symbol, n *sitter.Node) {
	for _, stmt := range blockStatements(n) {
		w.statement(scope, stmt)
	}
}

func (w *evalWalker) statement(scope *symbols.Symbol, n *sitter.Node) {
	switch n.Type() {
	case "import_statement":
		w.importStatement(scope, n)
	case "import_from_statement":
		w.importFrom(scope, n)
	case "expression_statement":
		for _, c := range namedChildren(n) {
			if c.Type() == "assignment" {
				w.assignment(scope, c)
			} else {
				w.walrus(scope, c)
			}
		}
	case "class_definition", "function_definition", "decorated_definition":
		w.definition(scope, n)
	case "if_statement", "for_statement", "while_statement", "try_statement", "with_statement", "match_statement":
		w.compound(scope, n)
	}
}

func (w *evalWalker) compound(scope *symbols.Symbol, n *sitter.Node) {
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "block":
			w.block(scope, c)
		case "elif_clause", "else_clause", "except_clause", "except_group_clause", "finally_clause",
			"case_clause", "with_clause":
			w.compound(scope, c)
		case "with_item":
			w.withItem(scope, c)
		default:
			w.walrus(scope, c)
		}
	}
}

// =============================================================================
// Imports
// =============================================================================

func (w *evalWalker) importStatement(scope *symbols.Symbol, n *sitter.Node) {
	for _, c := range fieldChildren(n, "name") {
		name, bound, at, aliased := importedName(c, w.src)
		v := declAt(scope, bound, at.StartByte())
		if v == nil {
			continue
		}
		parts := splitDotted(name)
		mod, resolved := w.b.resolveModule(w.ctx, w.file, parts, 0)
		if mod == nil || resolved < len(parts) {
			v.SetEvaluations(nil)
			w.b.notFound(w.file, w.step, parts[:resolved+1])
			w.unresolvedImport(c, strings.Join(parts[:resolved+1], "."))
			continue
		}
		w.depend(mod, symbols.StepArch)
		if !aliased {
			for i := 1; i < len(parts) && mod != nil; i++ {
				mod = mod.Parent()
			}
		}
		v.SetEvaluations([]*symbols.Evaluation{eval.FromSymbol(mod)})
	}
}

func (w *evalWalker) importFrom(scope *symbols.Symbol, n *sitter.Node) {
	from, level := importSource(n, w.src)
	if star := childOfType(n, "wildcard_import"); star != nil {
		for _, v := range scope.ContentSymbols() {
			if v.IsImportVariable() && v.Range().Start == star.StartByte() {
				w.bindImport(v, star, from, v.Name(), level)
			}
		}
		return
	}
	for _, c := range fieldChildren(n, "name") {
		name, bound, at, _ := importedName(c, w.src)
		if v := declAt(scope, bound, at.StartByte()); v != nil {
			w.bindImport(v, c, from, name, level)
		}
	}
}

func (w *evalWalker) bindImport(v *symbols.Symbol, at *sitter.Node, from []string, name string, level int) {
	found, tree := w.b.resolveFrom(w.ctx, w.file, from, name, level)
	var evals []*symbols.Evaluation
	for _, sym := range found {
		if sym == v {
			continue
		}
		if sym.Kind().IsDecl() {
			w.depend(sym, symbols.StepArch)
		}
		evals = append(evals, eval.FromSymbol(sym))
	}
	v.SetEvaluations(evals)
	if len(evals) == 0 {
		w.b.notFound(w.file, w.step, tree)
		w.unresolvedImport(at, strings.Repeat(".", level)+strings.Join(append(from[:len(from):len(from)], name), "."))
	}
}

// =============================================================================
// Bindings
// =============================================================================

func (w *evalWalker) assignment(scope *symbols.Symbol, n *sitter.Node) {
	at := n.StartByte()
	value := assignedValue(n)
	for cur := n; cur != nil && cur.Type() == "assignment"; cur = cur.ChildByFieldName("right") {
		left := cur.ChildByFieldName("left")
		var evals []*symbols.Evaluation
		if value != nil {
			evals = w.expr(scope, value, at)
		}
		if len(evals) == 0 {
			if typ := cur.ChildByFieldName("type"); typ != nil {
				evals = w.annotation(scope, typ, at)
			}
		}
		w.bind(scope, left, value, evals, at)
	}
	if value != nil {
		w.walrus(scope, value)
	}
}

// bind sets the evaluations of the names of target. Tuple targets are
// paired element-wise with a tuple or list value of the same length.
func (w *evalWalker) bind(scope *symbols.Symbol, target, value *sitter.Node, evals []*symbols.Evaluation, at uint32) {
	if target == nil {
		return
	}
	switch target.Type() {
	case "identifier":
		if v := declAt(scope, text(target, w.src), target.StartByte()); v != nil {
			v.SetEvaluations(evals)
		}
	case "pattern_list", "tuple_pattern", "list_pattern", "tuple", "list", "expression_list", "parenthesized_expression":
		targets := namedChildren(target)
		var values []*sitter.Node
		if value != nil {
			switch value.Type() {
			case "tuple", "list", "expression_list", "pattern_list":
				values = namedChildren(value)
			}
		}
		for i, t := range targets {
			if len(values) == len(targets) {
				w.bind(scope, t, values[i], w.expr(scope, values[i], at), at)
			} else {
				w.bind(scope, t, nil, nil, at)
			}
		}
	case "list_splat_pattern", "list_splat":
		for _, c := range namedChildren(target) {
			w.bind(scope, c, nil, nil, at)
		}
	}
}

func (w *evalWalker) walrus(scope *symbols.Symbol, n *sitter.Node) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "lambda", "function_definition", "class_definition":
		return
	case "named_expression":
		value := n.ChildByFieldName("value")
		if name := n.ChildByFieldName("name"); name != nil {
			if v := declAt(scope, text(name, w.src), name.StartByte()); v != nil {
				v.SetEvaluations(w.expr(scope, value, n.StartByte()))
			}
		}
		w.walrus(scope, value)
		return
	}
	for _, c := range namedChildren(n) {
		w.walrus(scope, c)
	}
}

func (w *evalWalker) withItem(scope *symbols.Symbol, item *sitter.Node) {
	value := item.ChildByFieldName("value")
	if value == nil || value.Type() != "as_pattern" {
		w.walrus(scope, value)
		return
	}
	expr := value.NamedChild(0)
	target := childOfType(value, "as_pattern_target")
	if target != nil && target.NamedChildCount() == 1 {
		w.bind(scope, target.NamedChild(0), expr, w.expr(scope, expr, item.StartByte()), item.StartByte())
	}
	w.walrus(scope, expr)
}

// =============================================================================
// Definitions
// =============================================================================

func (w *evalWalker) definition(scope *symbols.Symbol, n *sitter.Node) {
	def, _ := unwrapDefinition(n, w.src)
	if def == nil {
		return
	}
	name := text(def.ChildByFieldName("name"), w.src)
	switch def.Type() {
	case "class_definition":
		class := declAt(scope, name, n.StartByte())
		if class == nil || class.Kind() != symbols.KindClass {
			return
		}
		var bases []*symbols.Evaluation
		for _, arg := range namedChildren(def.ChildByFieldName("superclasses")) {
			switch arg.Type() {
			case "keyword_argument", "list_splat", "dictionary_splat", "comment":
				continue
			}
			for _, e := range w.expr(scope, arg, n.StartByte()) {
				if e.Symbol() != class {
					bases = append(bases, e)
				}
			}
		}
		class.Class().Bases = bases
		w.block(class, def.ChildByFieldName("body"))
	case "function_definition":
		fn := declAt(scope, name, n.StartByte())
		if fn == nil || fn.Kind() != symbols.KindFunction {
			return
		}
		w.function(fn, def)
	}
}

// function evaluates the receiver, the annotated parameters and the
// return of fn, then marks its ARCH_EVAL done.
func (w *evalWalker) function(fn *symbols.Symbol, def *sitter.Node) {
	info := fn.Function()
	parent := fn.Parent()
	if parent != nil && parent.Kind() == symbols.KindClass && !info.IsStatic && len(info.Params) > 0 {
		if self := parameter(fn, info.Params[0]); self != nil {
			self.SetEvaluations([]*symbols.Evaluation{symbols.NewEvaluation(parent, !info.IsClassMeth)})
		}
	}
	for _, p := range namedChildren(def.ChildByFieldName("parameters")) {
		typ := p.ChildByFieldName("type")
		ident := parameterName(p)
		if typ == nil || ident == nil {
			continue
		}
		if v := parameter(fn, text(ident, w.src)); v != nil {
			v.SetEvaluations(w.annotation(fn, typ, def.StartByte()))
		}
	}
	var returns []*symbols.Evaluation
	if rt := def.ChildByFieldName("return_type"); rt != nil {
		returns = w.annotation(parent, rt, def.StartByte())
	} else {
		for _, ret := range returnStatements(def.ChildByFieldName("body")) {
			if ret.NamedChildCount() > 0 {
				returns = append(returns, w.expr(fn, ret.NamedChild(0), ret.StartByte())...)
			}
		}
	}
	fn.SetEvaluations(returns)
	fn.SetStatus(symbols.StepArchEval, symbols.StatusDone)
}

func parameter(fn *symbols.Symbol, name string) *symbols.Symbol {
	for _, v := range fn.Scope().Declarations(name) {
		if v.Variable() != nil && v.Variable().IsParameter {
			return v
		}
	}
	return nil
}

// returnStatements collects the return statements of a function body,
// without descending into nested definitions.
func returnStatements(body *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "function_definition", "class_definition", "lambda", "decorated_definition":
			return
		case "return_statement":
			out = append(out, n)
			return
		}
		for _, c := range namedChildren(n) {
			walk(c)
		}
	}
	if body != nil {
		walk(body)
	}
	return out
}
