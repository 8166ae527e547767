package python

import (
	"strconv"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/symbols"
)

func text(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

func rangeOf(n *sitter.Node) symbols.Range {
	return symbols.Range{Start: n.StartByte(), End: n.EndByte()}
}

// namedChildren returns the named children of n.
func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}

// fieldChildren returns every child of n bound to field, in order.
func fieldChildren(n *sitter.Node, field string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.FieldNameForChild(i) == field {
			out = append(out, n.Child(i))
		}
	}
	return out
}

// childOfType returns the first named child of n with type typ.
func childOfType(n *sitter.Node, typ string) *sitter.Node {
	for _, c := range namedChildren(n) {
		if c.Type() == typ {
			return c
		}
	}
	return nil
}

// blockStatements returns the statements of a block, skipping comments.
func blockStatements(block *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, c := range namedChildren(block) {
		if c.Type() != "comment" {
			out = append(out, c)
		}
	}
	return out
}

// unwrapDefinition returns the class or function of a decorated
// definition, along with its decorator names.
func unwrapDefinition(n *sitter.Node, src []byte) (*sitter.Node, []string) {
	if n.Type() != "decorated_definition" {
		return n, nil
	}
	var decorators []string
	for _, c := range namedChildren(n) {
		if c.Type() == "decorator" {
			decorators = append(decorators, strings.TrimPrefix(strings.TrimSpace(text(c, src)), "@"))
		}
	}
	return n.ChildByFieldName("definition"), decorators
}

// findDefinition finds the class or function definition starting at start.
func findDefinition(root *sitter.Node, start uint32, typ string) *sitter.Node {
	var walk func(n *sitter.Node) *sitter.Node
	walk = func(n *sitter.Node) *sitter.Node {
		if n.StartByte() > start || n.EndByte() < start {
			return nil
		}
		if n.Type() == typ && n.StartByte() == start {
			return n
		}
		for _, c := range namedChildren(n) {
			if found := walk(c); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(root)
}

// stringLiteral decodes a python string literal. Concatenated literals
// and f-strings are rejected.
func stringLiteral(n *sitter.Node, src []byte) (string, bool) {
	if n == nil || n.Type() != "string" {
		return "", false
	}
	raw := text(n, src)
	i := 0
	isRaw := false
	for i < len(raw) && strings.ContainsRune("rRbBuUfF", rune(raw[i])) {
		switch raw[i] {
		case 'f', 'F':
			return "", false
		case 'r', 'R':
			isRaw = true
		}
		i++
	}
	raw = raw[i:]
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(raw) >= 2*len(q) && strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) {
			body := raw[len(q) : len(raw)-len(q)]
			if isRaw {
				return body, true
			}
			return unescape(body), true
		}
	}
	return "", false
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '\\', '\'', '"':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// literal converts a constant expression into a value. Containers are
// accepted when every element is itself literal.
func literal(n *sitter.Node, src []byte) (symbols.Value, bool) {
	if n == nil {
		return symbols.Value{}, false
	}
	switch n.Type() {
	case "string":
		s, ok := stringLiteral(n, src)
		return symbols.Constant(s), ok
	case "integer":
		v, err := strconv.ParseInt(strings.ReplaceAll(text(n, src), "_", ""), 0, 64)
		return symbols.Constant(v), err == nil
	case "float":
		v, err := strconv.ParseFloat(strings.ReplaceAll(text(n, src), "_", ""), 64)
		return symbols.Constant(v), err == nil
	case "true":
		return symbols.Constant(true), true
	case "false":
		return symbols.Constant(false), true
	case "none":
		return symbols.Constant(nil), true
	case "parenthesized_expression":
		if kids := namedChildren(n); len(kids) == 1 {
			return literal(kids[0], src)
		}
	case "list", "tuple", "set":
		kind := symbols.ValueList
		if n.Type() == "tuple" {
			kind = symbols.ValueTuple
		}
		v := symbols.Value{Kind: kind}
		for _, c := range namedChildren(n) {
			if c.Type() == "comment" {
				continue
			}
			item, ok := literal(c, src)
			if !ok {
				return symbols.Value{}, false
			}
			v.Items = append(v.Items, item)
		}
		return v, true
	case "dictionary":
		v := symbols.Value{Kind: symbols.ValueDict}
		for _, pair := range namedChildren(n) {
			if pair.Type() == "comment" {
				continue
			}
			if pair.Type() != "pair" {
				return symbols.Value{}, false
			}
			k, ok := literal(pair.ChildByFieldName("key"), src)
			if !ok {
				return symbols.Value{}, false
			}
			val, ok := literal(pair.ChildByFieldName("value"), src)
			if !ok {
				return symbols.Value{}, false
			}
			v.Keys = append(v.Keys, k)
			v.Items = append(v.Items, val)
		}
		return v, true
	}
	return symbols.Value{}, false
}
