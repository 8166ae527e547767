package python

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/eval"
	"github.com/jward/trellis/internal/symbols"
)

// ComodelContext is the evaluation context key carrying the target model
// of a relational field.
const ComodelContext = "comodel_name"

var relationalFields = map[string]bool{"Many2one": true, "One2many": true, "Many2many": true}

// literalTypes maps literal node types to their builtin class.
var literalTypes = map[string]string{
	"string":                   "str",
	"concatenated_string":      "str",
	"integer":                  "int",
	"float":                    "float",
	"true":                     "bool",
	"false":                    "bool",
	"list":                     "list",
	"list_comprehension":       "list",
	"tuple":                    "tuple",
	"dictionary":               "dict",
	"dictionary_comprehension": "dict",
	"set":                      "set",
	"set_comprehension":        "set",
}

// expr evaluates the expression n. Names are looked up as seen from at.
func (w *evalWalker) expr(scope *symbols.Symbol, n *sitter.Node, at uint32) []*symbols.Evaluation {
	if n == nil {
		return nil
	}
	if typ, ok := literalTypes[n.Type()]; ok {
		class := w.b.builtin(w.ctx, typ)
		if lit, ok := literal(n, w.src); ok {
			return []*symbols.Evaluation{symbols.NewValueEvaluation(lit, class)}
		}
		if class == nil {
			return nil
		}
		return []*symbols.Evaluation{symbols.NewEvaluation(class, true)}
	}
	switch n.Type() {
	case "none":
		return []*symbols.Evaluation{symbols.NewValueEvaluation(symbols.Constant(nil), nil)}
	case "identifier":
		return w.name(scope, text(n, w.src), at)
	case "attribute":
		return w.attribute(scope, n, at)
	case "call":
		return w.call(scope, n, at)
	case "subscript":
		return w.subscript(scope, n, at)
	case "parenthesized_expression", "type", "await":
		if n.NamedChildCount() == 1 {
			return w.expr(scope, n.NamedChild(0), at)
		}
	case "conditional_expression":
		if n.NamedChildCount() == 3 {
			return append(w.expr(scope, n.NamedChild(0), at), w.expr(scope, n.NamedChild(2), at)...)
		}
	case "boolean_operator":
		return append(w.expr(scope, n.ChildByFieldName("left"), at), w.expr(scope, n.ChildByFieldName("right"), at)...)
	}
	return nil
}

// name resolves an identifier through the enclosing scopes, then the
// builtins. Class bodies are not visible from the functions they hold.
func (w *evalWalker) name(scope *symbols.Symbol, name string, at uint32) []*symbols.Evaluation {
	cur, pos := scope, at
	for cur != nil {
		if found := cur.ContentSymbol(name, pos).Symbols; len(found) > 0 {
			return evaluationsOf(found)
		}
		if cur.Kind().HoldsSource() {
			break
		}
		next := cur.Parent()
		if cur.Kind() == symbols.KindFunction {
			pos = symbols.EndOfFile
			for next != nil && next.Kind() == symbols.KindClass {
				next = next.Parent()
			}
		} else {
			pos = cur.Range().Start
		}
		cur = next
	}
	if sym := w.b.builtin(w.ctx, name); sym != nil {
		return []*symbols.Evaluation{eval.FromSymbol(sym)}
	}
	return nil
}

func evaluationsOf(syms []*symbols.Symbol) []*symbols.Evaluation {
	out := make([]*symbols.Evaluation, 0, len(syms))
	for _, s := range syms {
		out = append(out, eval.FromSymbol(s))
	}
	return out
}

// terminals follows every evaluation in evals.
func (w *evalWalker) terminals(evals []*symbols.Evaluation) []*symbols.Evaluation {
	var out []*symbols.Evaluation
	for _, ev := range evals {
		out = append(out, w.b.eval.FollowRef(w.ctx, ev, eval.FollowOptions{})...)
	}
	return out
}

func (w *evalWalker) attribute(scope *symbols.Symbol, n *sitter.Node, at uint32) []*symbols.Evaluation {
	attr := text(n.ChildByFieldName("attribute"), w.src)
	var out []*symbols.Evaluation
	for _, t := range w.terminals(w.expr(scope, n.ChildByFieldName("object"), at)) {
		sym := t.Symbol()
		if sym == nil {
			continue
		}
		for _, m := range w.member(sym, attr) {
			e := eval.FromSymbol(m)
			if sym.Kind() == symbols.KindClass {
				e = e.WithContext(eval.BaseAttr, symbols.SymbolContext(sym))
			}
			out = append(out, e)
		}
	}
	return out
}

// member looks attr up on sym, materialising submodules on demand.
func (w *evalWalker) member(sym *symbols.Symbol, attr string) []*symbols.Symbol {
	w.depend(sym, symbols.StepArchEval)
	if sym.Kind().HoldsSource() && sym.Status(symbols.StepArch) == symbols.StatusPending {
		w.b.env.BuildNow(w.ctx, sym, symbols.StepArch)
	}
	if found := w.b.eval.MemberSymbol(w.ctx, sym, attr, w.file.FindModule()); len(found) > 0 {
		return found
	}
	if sym.Disk() != nil {
		if child := w.b.child(w.ctx, sym, attr); child != nil {
			return []*symbols.Symbol{child}
		}
	}
	return nil
}

func (w *evalWalker) call(scope *symbols.Symbol, n *sitter.Node, at uint32) []*symbols.Evaluation {
	var out []*symbols.Evaluation
	for _, t := range w.terminals(w.expr(scope, n.ChildByFieldName("function"), at)) {
		sym := t.Symbol()
		if sym == nil {
			continue
		}
		switch sym.Kind() {
		case symbols.KindClass:
			e := symbols.NewEvaluation(sym, true)
			if comodel := w.comodel(sym, n.ChildByFieldName("arguments")); comodel != "" {
				e = e.WithContext(ComodelContext, symbols.StringContext(comodel))
			}
			out = append(out, e)
		case symbols.KindFunction:
			w.depend(sym, symbols.StepArchEval)
			if file := sym.File(); file != nil && file != w.file && file.Status(symbols.StepArchEval) == symbols.StatusPending {
				w.b.env.BuildNow(w.ctx, file, symbols.StepArchEval)
			}
			for _, ret := range sym.Evaluations() {
				if ret.Symbol() != sym {
					out = append(out, ret)
				}
			}
		}
	}
	return out
}

// comodel returns the target model of a relational field declaration.
func (w *evalWalker) comodel(class *symbols.Symbol, args *sitter.Node) string {
	if !relationalFields[class.Name()] || args == nil {
		return ""
	}
	for i, a := range namedChildren(args) {
		if a.Type() == "keyword_argument" {
			if text(a.ChildByFieldName("name"), w.src) == "comodel_name" {
				s, _ := stringLiteral(a.ChildByFieldName("value"), w.src)
				return s
			}
			continue
		}
		if i == 0 {
			s, _ := stringLiteral(a, w.src)
			return s
		}
	}
	return ""
}

// subscript handles env["model"] lookups and generic aliases such as
// list[int]. Other subscripts are not inferred.
func (w *evalWalker) subscript(scope *symbols.Symbol, n *sitter.Node, at uint32) []*symbols.Evaluation {
	value := n.ChildByFieldName("value")
	key := n.ChildByFieldName("subscript")
	if value == nil {
		return nil
	}
	if strings.HasSuffix(text(value, w.src), "env") {
		if name, ok := stringLiteral(key, w.src); ok {
			var out []*symbols.Evaluation
			if m := w.b.models.Model(name); m != nil {
				for _, class := range m.MainSymbols() {
					out = append(out, symbols.NewEvaluation(class, true))
				}
			}
			return out
		}
	}
	return w.expr(scope, value, at)
}

// annotation evaluates a type annotation and reads classes as instances.
func (w *evalWalker) annotation(scope *symbols.Symbol, n *sitter.Node, at uint32) []*symbols.Evaluation {
	for n != nil && n.Type() == "type" && n.NamedChildCount() == 1 {
		n = n.NamedChild(0)
	}
	var evals []*symbols.Evaluation
	if s, ok := stringLiteral(n, w.src); ok {
		if !strings.ContainsAny(s, ".[ ") {
			evals = w.name(scope, s, at)
		}
	} else {
		evals = w.expr(scope, n, at)
	}
	out := make([]*symbols.Evaluation, 0, len(evals))
	for _, e := range evals {
		if sym := e.Symbol(); sym != nil && !e.Instance {
			e = e.WithSymbol(sym, true)
		}
		out = append(out, e)
	}
	return out
}

// depend records that the current stage read sym from another file.
func (w *evalWalker) depend(sym *symbols.Symbol, level symbols.BuildStep) {
	target := sym
	if !target.Kind().HoldsSource() {
		target = sym.File()
	}
	if target == nil || target == w.file {
		return
	}
	w.file.AddDependency(target, w.step, level)
}
