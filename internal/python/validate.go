package python

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/diag"
	"github.com/jward/trellis/internal/files"
	"github.com/jward/trellis/internal/model"
	"github.com/jward/trellis/internal/rules"
	"github.com/jward/trellis/internal/symbols"
)

// validator runs VALIDATION on one file.
type validator struct {
	reporter
	b    *Builder
	ctx  context.Context
	file *symbols.Symbol
	f    *files.File
	tree *sitter.Tree
}

func newValidator(ctx context.Context, b *Builder, file *symbols.Symbol, f *files.File, tree *sitter.Tree) *validator {
	return &validator{
		reporter: reporter{path: f.Path, mode: b.missingImports},
		b:        b,
		ctx:      ctx,
		file:     file,
		f:        f,
		tree:     tree,
	}
}

func (v *validator) run() {
	root := v.tree.RootNode()
	v.functions(v.file, root)
	v.modelClasses(root)
	v.envLookups(root)
	v.exports(root)
	if v.file.Kind() == symbols.KindModule {
		v.manifest()
	}
	v.runRules()
}

// =============================================================================
// Function bodies
// =============================================================================

// functions builds the body of every function declared in n, methods and
// nested functions included.
func (v *validator) functions(scope *symbols.Symbol, n *sitter.Node) {
	src := v.f.Source()
	for _, c := range namedChildren(n) {
		switch c.Type() {
		case "function_definition", "class_definition", "decorated_definition":
			def, _ := unwrapDefinition(c, src)
			if def == nil {
				continue
			}
			sym := declAt(scope, text(def.ChildByFieldName("name"), src), c.StartByte())
			if sym == nil {
				continue
			}
			switch sym.Kind() {
			case symbols.KindFunction:
				v.buildFunction(sym, c, def)
				v.functions(sym, def.ChildByFieldName("body"))
			case symbols.KindClass:
				v.functions(sym, def.ChildByFieldName("body"))
			}
		case "block", "if_statement", "elif_clause", "else_clause", "for_statement", "while_statement",
			"try_statement", "except_clause", "finally_clause", "with_statement", "match_statement", "case_clause":
			v.functions(scope, c)
		}
	}
}

func (v *validator) buildFunction(fn *symbols.Symbol, n, def *sitter.Node) {
	symbols.UnloadContent(v.b.env, fn)
	aw := newArchWalker(v.ctx, v.b, v.file, v.path, v.f.Source())
	aw.functionBody(fn, n)
	ew := newEvalWalker(v.ctx, v.b, v.file, v.path, v.f.Source(), symbols.StepValidation)
	ew.block(fn, def.ChildByFieldName("body"))
	ew.function(fn, def)
	fn.SetStatus(symbols.StepValidation, symbols.StatusDone)
	v.diags = append(v.diags, aw.diags...)
	v.diags = append(v.diags, ew.diags...)
}

// =============================================================================
// Models
// =============================================================================

// visibleModel reports whether a class declaring model name is visible
// from the module of the file, and subscribes the file to the model.
func (v *validator) visibleModel(name string) bool {
	v.b.models.GetOrCreate(name).AddDependent(v.file)
	m := v.b.models.Model(name)
	module := v.file.FindModule()
	for _, class := range m.MainSymbols() {
		if module == nil || slices.Contains(v.b.models.SymbolsFor(name, module), class) {
			return true
		}
	}
	return false
}

func (v *validator) unknownModel(n *sitter.Node, name string) {
	if v.visibleModel(name) {
		return
	}
	if module := v.file.FindModule(); module != nil && len(v.b.models.Model(name).MainSymbols()) > 0 {
		v.add(n, diag.Warning, diag.CodeUnknownModel, "model %s is not in the dependencies of module %s", name, module.Name())
		return
	}
	v.add(n, diag.Warning, diag.CodeUnknownModel, "unknown model %s", name)
}

// modelClasses checks the inherited and related models of every model
// class, and flags model classes that name no model.
func (v *validator) modelClasses(root *sitter.Node) {
	src := v.f.Source()
	for _, n := range classNodes(root) {
		def, _ := unwrapDefinition(n, src)
		nameNode := def.ChildByFieldName("name")
		class := declAt(v.file, text(nameNode, src), n.StartByte())
		if class == nil || class.Kind() != symbols.KindClass {
			continue
		}
		if class.Class().Model == nil {
			if v.b.directModelBase(v.ctx, class) {
				v.add(nameNode, diag.Warning, diag.CodeMissingModelName, "model class %s defines neither _name nor _inherit", class.Name())
			}
			continue
		}
		for _, stmt := range blockStatements(def.ChildByFieldName("body")) {
			v.modelAttributes(stmt)
		}
	}
}

func (v *validator) modelAttributes(stmt *sitter.Node) {
	src := v.f.Source()
	if stmt.Type() != "expression_statement" || stmt.NamedChildCount() == 0 || stmt.NamedChild(0).Type() != "assignment" {
		return
	}
	assign := stmt.NamedChild(0)
	left, value := assign.ChildByFieldName("left"), assignedValue(assign)
	if left == nil || value == nil {
		return
	}
	switch text(left, src) {
	case "_inherit":
		for _, item := range stringNodes(value, src) {
			name, _ := stringLiteral(item, src)
			v.unknownModel(item, name)
		}
	default:
		if value.Type() != "call" {
			return
		}
		fn := text(value.ChildByFieldName("function"), src)
		if !relationalFields[strings.TrimPrefix(fn, "fields.")] {
			return
		}
		if comodel, at := comodelArgument(value.ChildByFieldName("arguments"), src); at != nil {
			v.unknownModel(at, comodel)
		}
	}
}

// stringNodes returns n itself when it is a string literal, or the string
// elements of a list or tuple literal.
func stringNodes(n *sitter.Node, src []byte) []*sitter.Node {
	if _, ok := stringLiteral(n, src); ok {
		return []*sitter.Node{n}
	}
	var out []*sitter.Node
	if n.Type() == "list" || n.Type() == "tuple" {
		for _, c := range namedChildren(n) {
			if _, ok := stringLiteral(c, src); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func comodelArgument(args *sitter.Node, src []byte) (string, *sitter.Node) {
	for i, a := range namedChildren(args) {
		if a.Type() == "keyword_argument" {
			if text(a.ChildByFieldName("name"), src) == "comodel_name" {
				value := a.ChildByFieldName("value")
				if s, ok := stringLiteral(value, src); ok {
					return s, value
				}
			}
			continue
		}
		if i == 0 {
			if s, ok := stringLiteral(a, src); ok {
				return s, a
			}
		}
	}
	return "", nil
}

// envLookups checks every env["model"] subscript of the file.
func (v *validator) envLookups(root *sitter.Node) {
	src := v.f.Source()
	var walk func(*sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == "subscript" {
			value := n.ChildByFieldName("value")
			key := n.ChildByFieldName("subscript")
			if value != nil && strings.HasSuffix(text(value, src), "env") {
				if name, ok := stringLiteral(key, src); ok {
					v.unknownModel(key, name)
				}
			}
		}
		for _, c := range namedChildren(n) {
			walk(c)
		}
	}
	walk(root)
}

// =============================================================================
// Module level checks
// =============================================================================

// exports flags the names of a literal __all__ the file does not define.
func (v *validator) exports(root *sitter.Node) {
	src := v.f.Source()
	for _, stmt := range namedChildren(root) {
		if stmt.Type() != "expression_statement" || stmt.NamedChildCount() == 0 || stmt.NamedChild(0).Type() != "assignment" {
			continue
		}
		assign := stmt.NamedChild(0)
		if text(assign.ChildByFieldName("left"), src) != "__all__" {
			continue
		}
		for _, item := range stringNodes(assignedValue(assign), src) {
			name, _ := stringLiteral(item, src)
			if len(v.file.ContentSymbol(name, symbols.EndOfFile).Symbols) > 0 || v.b.child(v.ctx, v.file, name) != nil {
				continue
			}
			v.add(item, diag.Warning, diag.CodeUnresolvedName, "%s is listed in __all__ but not defined", name)
		}
	}
}

// manifest checks the dependencies of a module. Its diagnostics belong to
// the manifest file.
func (v *validator) manifest() {
	dir := v.file.Paths()[0]
	path := filepath.Join(dir, ManifestFile)
	mf, err := v.b.files.Ensure(path)
	if err != nil {
		v.b.logger.Warn("python: unable to read manifest", "path", path, "error", err)
		return
	}
	tree, err := v.b.files.Tree(v.ctx, mf)
	if err != nil {
		v.b.logger.Warn("python: unable to parse manifest", "path", path, "error", err)
		return
	}
	nodes := dependsEntries(tree.RootNode(), mf.Source())
	r := reporter{path: path}
	for _, dep := range v.file.Module().Manifest.Depends {
		if dep == "base" || v.b.models.Module(dep) != nil {
			continue
		}
		v.b.notFound(v.file, symbols.StepValidation, []string{"odoo", "addons", dep})
		if n := nodes[dep]; n != nil {
			r.add(n, diag.Error, diag.CodeUnknownDepends, "module %s depends on unknown module %s", v.file.Name(), dep)
		}
	}
	v.b.files.SetDiagnostics(path, symbols.StepValidation, r.diags)
}

// =============================================================================
// Rule catalogue
// =============================================================================

func (v *validator) runRules() {
	if v.b.rules == nil {
		return
	}
	in := rules.Input{Path: v.path, Source: v.f.Source(), Tree: v.tree}
	if module := v.file.FindModule(); module != nil {
		in.Module = module.Name()
		in.Depends = module.Module().Manifest.Depends
	}
	for _, n := range classNodes(v.tree.RootNode()) {
		def, _ := unwrapDefinition(n, v.f.Source())
		class := declAt(v.file, text(def.ChildByFieldName("name"), v.f.Source()), n.StartByte())
		if class != nil {
			in.Models = append(in.Models, model.Names(class)...)
		}
	}
	res, err := v.b.rules.Run(v.ctx, in)
	if err != nil {
		v.b.logger.Warn("python: rule catalogue failed", "path", v.path, "error", err)
	}
	v.diags = append(v.diags, res.Diagnostics...)
	for _, dep := range res.Depends {
		if name, ok := strings.CutPrefix(dep, "model:"); ok {
			v.b.models.GetOrCreate(name).AddDependent(v.file)
			continue
		}
		parts := splitDotted(dep)
		if mod, n := v.b.resolveModule(v.ctx, v.file, parts, 0); mod != nil && n == len(parts) {
			if target := mod.File(); target != nil {
				v.file.AddDependency(target, symbols.StepValidation, symbols.StepArch)
			}
		} else {
			v.b.notFound(v.file, symbols.StepValidation, parts)
		}
	}
}
