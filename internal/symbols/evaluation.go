package symbols

import (
	"fmt"
	"strconv"
	"strings"
	"weak"
)

// Evaluation is one inferred candidate binding for a name: a weak reference
// to the symbol it resolves to, whether it is an instance of that symbol,
// free-form context hints and an optional literal value.
type Evaluation struct {
	symbol   weak.Pointer[Symbol]
	Instance bool
	Context  Context
	Value    *Value
}

// NewEvaluation returns an evaluation pointing at sym.
func NewEvaluation(sym *Symbol, instance bool) *Evaluation {
	e := &Evaluation{Instance: instance}
	if sym != nil {
		e.symbol = weak.Make(sym)
	}
	return e
}

// NewValueEvaluation returns an evaluation for a literal. typ is the class
// of the literal when the builtins are loaded, or nil.
func NewValueEvaluation(v Value, typ *Symbol) *Evaluation {
	e := NewEvaluation(typ, true)
	e.Value = &v
	return e
}

// Symbol returns the referenced symbol, or nil once it is gone.
func (e *Evaluation) Symbol() *Symbol {
	sym := e.symbol.Value()
	if sym == nil || sym.unloaded {
		return nil
	}
	return sym
}

// WithContext returns a shallow copy of e whose context also carries key.
func (e *Evaluation) WithContext(key string, v ContextValue) *Evaluation {
	cp := *e
	cp.Context = e.Context.Clone()
	cp.Context[key] = v
	return &cp
}

// WithSymbol returns a copy of e pointing at sym, keeping context and value.
func (e *Evaluation) WithSymbol(sym *Symbol, instance bool) *Evaluation {
	cp := *e
	cp.Instance = instance
	cp.symbol = weak.Pointer[Symbol]{}
	if sym != nil {
		cp.symbol = weak.Make(sym)
	}
	return &cp
}

func (e *Evaluation) String() string {
	var b strings.Builder
	if sym := e.Symbol(); sym != nil {
		b.WriteString(sym.Tree().String())
	} else {
		b.WriteString("?")
	}
	if e.Instance {
		b.WriteString("()")
	}
	if e.Value != nil {
		b.WriteString(" = ")
		b.WriteString(e.Value.String())
	}
	return b.String()
}

// Context holds evaluation hints keyed by name, for instance
// "base_attr" (the receiver of a descriptor read) or "comodel_name".
type Context map[string]ContextValue

// Clone returns a copy that can be mutated independently.
func (c Context) Clone() Context {
	out := make(Context, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	return out
}

type contextKind int

const (
	contextBool contextKind = iota
	contextString
	contextSymbol
)

// ContextValue is a boolean, a string or a weak symbol reference.
type ContextValue struct {
	kind contextKind
	b    bool
	s    string
	sym  weak.Pointer[Symbol]
}

func BoolContext(b bool) ContextValue { return ContextValue{kind: contextBool, b: b} }
func StringContext(s string) ContextValue { return ContextValue{kind: contextString, s: s} }

func SymbolContext(sym *Symbol) ContextValue {
	return ContextValue{kind: contextSymbol, sym: weak.Make(sym)}
}

// AsBool returns the boolean value and whether v holds one.
func (v ContextValue) AsBool() (bool, bool) { return v.b, v.kind == contextBool }

// AsString returns the string value and whether v holds one.
func (v ContextValue) AsString() (string, bool) { return v.s, v.kind == contextString }

// Symbol returns the referenced symbol, or nil.
func (v ContextValue) Symbol() *Symbol {
	if v.kind != contextSymbol {
		return nil
	}
	sym := v.sym.Value()
	if sym == nil || sym.unloaded {
		return nil
	}
	return sym
}

// ValueKind tags a literal Value.
type ValueKind int

const (
	ValueConstant ValueKind = iota
	ValueList
	ValueTuple
	ValueDict
)

// Value is a literal recovered from source. Constants hold a string,
// int64, float64, bool or nil (None).
type Value struct {
	Kind     ValueKind
	Constant any
	Items    []Value
	Keys     []Value
}

// Constant returns a constant literal.
func Constant(v any) Value { return Value{Kind: ValueConstant, Constant: v} }

// Equal reports whether two literals are structurally identical.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind || len(v.Items) != len(o.Items) || len(v.Keys) != len(o.Keys) {
		return false
	}
	if v.Kind == ValueConstant {
		return v.Constant == o.Constant
	}
	for i := range v.Items {
		if !v.Items[i].Equal(o.Items[i]) {
			return false
		}
	}
	for i := range v.Keys {
		if !v.Keys[i].Equal(o.Keys[i]) {
			return false
		}
	}
	return true
}

// Strings returns the string constants of a list or tuple literal.
func (v Value) Strings() []string {
	var out []string
	for _, it := range v.Items {
		if s, ok := it.Constant.(string); ok && it.Kind == ValueConstant {
			out = append(out, s)
		}
	}
	return out
}

// String renders v with python literal syntax.
func (v Value) String() string {
	switch v.Kind {
	case ValueList:
		return "[" + joinValues(v.Items) + "]"
	case ValueTuple:
		if len(v.Items) == 1 {
			return "(" + v.Items[0].String() + ",)"
		}
		return "(" + joinValues(v.Items) + ")"
	case ValueDict:
		parts := make([]string, len(v.Keys))
		for i := range v.Keys {
			parts[i] = v.Keys[i].String() + ": " + v.Items[i].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	switch c := v.Constant.(type) {
	case nil:
		return "None"
	case bool:
		if c {
			return "True"
		}
		return "False"
	case string:
		return strconv.Quote(c)
	case int64:
		return strconv.FormatInt(c, 10)
	case float64:
		return strconv.FormatFloat(c, 'g', -1, 64)
	default:
		return fmt.Sprint(c)
	}
}

func joinValues(vs []Value) string {
	parts := make([]string, len(vs))
	for i, it := range vs {
		parts[i] = it.String()
	}
	return strings.Join(parts, ", ")
}
