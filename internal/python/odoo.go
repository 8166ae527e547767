package python

import (
	"context"
	"maps"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/eval"
	"github.com/jward/trellis/internal/symbols"
)

var odooModelsTree = []string{"odoo", "models"}

// buildModels reads the model metadata of every class of file and keeps
// the model registry in step with it.
func (b *Builder) buildModels(ctx context.Context, file *symbols.Symbol, src []byte, root *sitter.Node) {
	for _, n := range classNodes(root) {
		def, _ := unwrapDefinition(n, src)
		class := declAt(file, text(def.ChildByFieldName("name"), src), n.StartByte())
		if class == nil || class.Kind() != symbols.KindClass {
			continue
		}
		var data *symbols.ModelData
		if d := modelData(def.ChildByFieldName("body"), src); d != nil && b.isModelClass(ctx, class) {
			data = d
		}
		old := class.Class().Model
		if sameModel(old, data) {
			continue
		}
		if old != nil {
			b.models.RemoveModelClass(class)
		}
		class.Class().Model = data
		if data != nil {
			b.models.AddClass(class)
		}
	}
}

// classNodes returns the class definitions of a module body, including
// the ones nested in control flow, but not those in functions or classes.
func classNodes(root *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		for _, c := range namedChildren(n) {
			switch c.Type() {
			case "class_definition":
				out = append(out, c)
			case "decorated_definition":
				if def := c.ChildByFieldName("definition"); def != nil && def.Type() == "class_definition" {
					out = append(out, c)
				}
			case "function_definition":
			case "block", "if_statement", "elif_clause", "else_clause", "try_statement", "except_clause",
				"finally_clause", "with_statement", "for_statement", "while_statement":
				walk(c)
			}
		}
	}
	walk(root)
	return out
}

// modelData extracts the model attributes of a class body. It returns nil
// when the class neither names nor inherits a model.
func modelData(body *sitter.Node, src []byte) *symbols.ModelData {
	data := &symbols.ModelData{}
	named := false
	for _, stmt := range blockStatements(body) {
		if stmt.Type() != "expression_statement" || stmt.NamedChildCount() == 0 {
			continue
		}
		assign := stmt.NamedChild(0)
		if assign.Type() != "assignment" {
			continue
		}
		left, value := assign.ChildByFieldName("left"), assignedValue(assign)
		if left == nil || left.Type() != "identifier" || value == nil {
			continue
		}
		lit, isLit := literal(value, src)
		switch name := text(left, src); name {
		case "_name":
			if s, ok := lit.Constant.(string); isLit && ok {
				data.Name, named = s, true
			}
		case "_inherit":
			if !isLit {
				continue
			}
			if s, ok := lit.Constant.(string); ok && lit.Kind == symbols.ValueConstant {
				data.Inherit = []string{s}
			} else {
				data.Inherit = lit.Strings()
			}
			named = named || len(data.Inherit) > 0
		case "_inherits":
			if isLit && lit.Kind == symbols.ValueDict {
				data.Inherits = make(map[string]string, len(lit.Keys))
				for i, k := range lit.Keys {
					ks, _ := k.Constant.(string)
					vs, _ := lit.Items[i].Constant.(string)
					data.Inherits[ks] = vs
				}
			}
		case "_description":
			data.Description, _ = lit.Constant.(string)
		case "_abstract":
			data.Abstract, _ = lit.Constant.(bool)
		case "_transient":
			data.Transient, _ = lit.Constant.(bool)
		default:
			if value.Type() == "call" && strings.HasPrefix(text(value.ChildByFieldName("function"), src), "fields.") {
				data.Fields = append(data.Fields, name)
			}
		}
	}
	if !named {
		return nil
	}
	if data.Name == "" && len(data.Inherit) == 1 {
		data.Name = data.Inherit[0]
	}
	return data
}

func sameModel(a, b *symbols.ModelData) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Name == b.Name && a.Description == b.Description && a.Abstract == b.Abstract &&
		a.Transient == b.Transient && slices.Equal(a.Inherit, b.Inherit) &&
		slices.Equal(a.Fields, b.Fields) && maps.Equal(a.Inherits, b.Inherits)
}

// isModelClass reports whether class derives, directly or not, from a
// class of odoo.models.
func (b *Builder) isModelClass(ctx context.Context, class *symbols.Symbol) bool {
	return b.derivesFromOdoo(ctx, class, false, map[*symbols.Symbol]bool{})
}

// directModelBase reports whether one of the bases of class is itself a
// class of odoo.models.
func (b *Builder) directModelBase(ctx context.Context, class *symbols.Symbol) bool {
	return b.derivesFromOdoo(ctx, class, true, map[*symbols.Symbol]bool{})
}

func (b *Builder) derivesFromOdoo(ctx context.Context, class *symbols.Symbol, direct bool, visited map[*symbols.Symbol]bool) bool {
	if visited[class] {
		return false
	}
	visited[class] = true
	for _, base := range class.Class().Bases {
		for _, t := range b.eval.FollowRef(ctx, base, eval.FollowOptions{}) {
			sym := t.Symbol()
			if sym == nil || sym.Kind() != symbols.KindClass {
				continue
			}
			if file := sym.File(); file != nil && slices.Equal(b.entries.MainEntryTree(file), odooModelsTree) {
				return true
			}
			if !direct && b.derivesFromOdoo(ctx, sym, false, visited) {
				return true
			}
		}
	}
	return false
}
