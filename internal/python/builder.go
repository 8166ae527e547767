// Package python builds the symbol graph of python sources: the ARCH
// stage declares names and sections, ARCH_EVAL infers what imports,
// assignments and class bases evaluate to, ODOO extracts model metadata
// from classes and VALIDATION reports diagnostics.
package python

import (
	"context"
	"log/slog"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/config"
	"github.com/jward/trellis/internal/entrypoint"
	"github.com/jward/trellis/internal/eval"
	"github.com/jward/trellis/internal/files"
	"github.com/jward/trellis/internal/model"
	"github.com/jward/trellis/internal/rules"
	"github.com/jward/trellis/internal/symbols"
)

// Env is the session view the stages run against: the graph registries,
// the rebuild queues and on-demand building.
type Env interface {
	symbols.Env
	BuildNow(ctx context.Context, sym *symbols.Symbol, step symbols.BuildStep) bool
}

// RuleRunner runs the scripted rule catalogue on a validated file.
type RuleRunner interface {
	Run(ctx context.Context, in rules.Input) (rules.Result, error)
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the builder logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithRules sets the rule catalogue run at VALIDATION.
func WithRules(r RuleRunner) Option {
	return func(b *Builder) { b.rules = r }
}

// WithMissingImports selects which unresolved imports are reported.
func WithMissingImports(mode config.MissingImports) Option {
	return func(b *Builder) { b.missingImports = mode }
}

// Builder implements the build stages for python files.
type Builder struct {
	files   *files.Manager
	entries *entrypoint.Manager
	models  *model.Registry
	env     Env
	eval    *eval.Engine
	rules   RuleRunner
	logger  *slog.Logger

	missingImports config.MissingImports
}

// New creates a Builder. Bind must be called before the first stage runs.
func New(fm *files.Manager, entries *entrypoint.Manager, models *model.Registry, opts ...Option) *Builder {
	b := &Builder{
		files:          fm,
		entries:        entries,
		models:         models,
		logger:         slog.Default(),
		missingImports: config.MissingImportsAll,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Bind attaches the session view. The scheduler and the builder refer to
// each other, so the link is made after both exist.
func (b *Builder) Bind(env Env) {
	b.env = env
	b.eval = eval.New(env, eval.WithLogger(b.logger), eval.WithModels(b.models))
}

// SetMissingImports changes which unresolved imports are reported from
// the next ARCH_EVAL on.
func (b *Builder) SetMissingImports(mode config.MissingImports) { b.missingImports = mode }

// Eval returns the evaluation engine bound to the session.
func (b *Builder) Eval() *eval.Engine { return b.eval }

// source loads and parses the file backing sym. ok is false when the file
// cannot be read, in which case sym is left empty.
func (b *Builder) source(ctx context.Context, sym *symbols.Symbol) (*files.File, *sitter.Tree, bool) {
	path := sym.SourcePath()
	if path == "" {
		return nil, nil, false
	}
	f, err := b.files.Ensure(path)
	if err != nil {
		b.logger.Warn("python: unable to read source", "path", path, "error", err)
		return nil, nil, false
	}
	tree, err := b.files.Tree(ctx, f)
	if err != nil {
		b.logger.Warn("python: unable to parse source", "path", path, "error", err)
		return nil, nil, false
	}
	return f, tree, true
}

// Arch declares the names of sym.
func (b *Builder) Arch(ctx context.Context, sym *symbols.Symbol) {
	symbols.UnloadContent(b.env, sym)
	sym.ClearNotFound(symbols.StepArch)
	f, tree, ok := b.source(ctx, sym)
	if !ok {
		return
	}
	w := newArchWalker(ctx, b, sym, f.Path, f.Source())
	w.block(sym, tree.RootNode())
	b.files.SetDiagnostics(f.Path, symbols.StepArch, w.diags)
}

// ArchEval evaluates the declarations of sym.
func (b *Builder) ArchEval(ctx context.Context, sym *symbols.Symbol) {
	sym.ClearNotFound(symbols.StepArchEval)
	f, tree, ok := b.source(ctx, sym)
	if !ok {
		return
	}
	w := newEvalWalker(ctx, b, sym, f.Path, f.Source(), symbols.StepArchEval)
	w.block(sym, tree.RootNode())
	b.files.SetDiagnostics(f.Path, symbols.StepArchEval, w.diags)
}

// Odoo extracts the model metadata of the classes of sym.
func (b *Builder) Odoo(ctx context.Context, sym *symbols.Symbol) {
	if sym.IsExternal() {
		return
	}
	f, tree, ok := b.source(ctx, sym)
	if !ok {
		return
	}
	b.buildModels(ctx, sym, f.Source(), tree.RootNode())
}

// Validate builds function bodies and reports the diagnostics of sym.
func (b *Builder) Validate(ctx context.Context, sym *symbols.Symbol) {
	sym.ClearNotFound(symbols.StepValidation)
	if sym.IsExternal() {
		return
	}
	f, tree, ok := b.source(ctx, sym)
	if !ok {
		return
	}
	v := newValidator(ctx, b, sym, f, tree)
	v.run()
	b.files.SetDiagnostics(f.Path, symbols.StepValidation, v.diags)
}

// notFound records that file could not resolve tree at step, so that the
// appearance of tree re-queues it.
func (b *Builder) notFound(file *symbols.Symbol, step symbols.BuildStep, tree []string) {
	file.AddNotFound(step, tree)
	if e := b.entries.EntryFor(file); e != nil {
		e.AddNotFound(file)
	}
}
