// Package eval follows inferred evaluations through the symbol graph to
// their terminal symbols, building files on demand when a reference points
// into a file whose ARCH_EVAL has not run yet.
package eval

import (
	"context"
	"log/slog"

	"github.com/jward/trellis/internal/symbols"
)

// BaseAttr is the context key carrying the receiver of a descriptor read.
const BaseAttr = "base_attr"

// Builder runs a build stage on demand.
type Builder interface {
	BuildNow(ctx context.Context, sym *symbols.Symbol, step symbols.BuildStep) bool
}

// Models resolves the classes of an Odoo model visible from a module.
type Models interface {
	SymbolsFor(name string, module *symbols.Symbol) []*symbols.Symbol
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithModels lets member lookups walk the other classes of a model.
func WithModels(m Models) Option {
	return func(e *Engine) { e.models = m }
}

// Engine follows evaluations.
type Engine struct {
	builder Builder
	models  Models
	logger  *slog.Logger
}

// New creates an Engine building on demand through b. b may be nil, in
// which case pending files are read as they are.
func New(b Builder, opts ...Option) *Engine {
	e := &Engine{builder: b, logger: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// FollowOptions tunes FollowRef.
type FollowOptions struct {
	// StopOnType keeps variables evaluated as a type (not an instance).
	StopOnType bool
	// StopOnValue keeps variables carrying a single literal.
	StopOnValue bool
	// MaxScope keeps variables declared outside of it.
	MaxScope *symbols.Symbol
	// Context is merged into every evaluation context.
	Context symbols.Context
}

// FromSymbol returns the evaluation naming sym directly. Variables are
// read as instances.
func FromSymbol(sym *symbols.Symbol) *symbols.Evaluation {
	return symbols.NewEvaluation(sym, sym != nil && sym.Kind() == symbols.KindVariable)
}

// FollowRef resolves ev to its terminal evaluations. Each symbol is
// visited once, so reference cycles terminate.
func (e *Engine) FollowRef(ctx context.Context, ev *symbols.Evaluation, opts FollowOptions) []*symbols.Evaluation {
	sym := ev.Symbol()
	if sym == nil {
		return []*symbols.Evaluation{ev}
	}
	if opts.StopOnValue {
		for _, sub := range sym.Evaluations() {
			if sub.Value != nil {
				return []*symbols.Evaluation{ev}
			}
		}
	}
	pending := e.nextRefs(ctx, sym, ev.Context, opts)
	if len(pending) == 0 {
		return []*symbols.Evaluation{ev}
	}
	canBuild := !sym.IsExternal()
	seen := map[*symbols.Symbol]bool{}
	var out []*symbols.Evaluation
	for i := 0; i < len(pending); i++ {
		if ctx.Err() != nil {
			break
		}
		ref := pending[i]
		s := ref.Symbol()
		if s == nil || seen[s] {
			continue
		}
		seen[s] = true
		switch s.Kind() {
		case symbols.KindVariable:
			evals := s.Evaluations()
			if opts.StopOnType && !ref.Instance && !s.IsImportVariable() {
				break
			}
			if opts.StopOnValue && len(evals) == 1 && evals[0].Value != nil {
				break
			}
			if opts.MaxScope != nil && !s.IsInParents(opts.MaxScope) {
				break
			}
			if len(evals) == 0 && s.Name() != "__all__" && canBuild {
				e.ensureEvaluated(ctx, s)
			}
			if next := e.nextRefs(ctx, s, ref.Context, opts); len(next) > 0 {
				pending = append(pending, next...)
				continue
			}
		case symbols.KindClass:
			if next := e.nextRefs(ctx, s, ref.Context, opts); len(next) > 0 {
				pending = append(pending, next...)
				continue
			}
		}
		out = append(out, ref)
	}
	return out
}

// ensureEvaluated runs ARCH_EVAL of the file declaring s when it is still
// pending.
func (e *Engine) ensureEvaluated(ctx context.Context, s *symbols.Symbol) {
	file := s.File()
	if e.builder == nil || file == nil || file.Status(symbols.StepArchEval) != symbols.StatusPending {
		return
	}
	if !e.builder.BuildNow(ctx, file, symbols.StepArchEval) {
		e.logger.Debug("eval: on-demand build skipped", "file", file.Tree().String())
	}
}

// nextRefs returns the evaluations one step further than sym. For a class
// read through an attribute (base_attr set) the class is a descriptor and
// its __get__ evaluations are substituted.
func (e *Engine) nextRefs(ctx context.Context, sym *symbols.Symbol, symCtx symbols.Context, opts FollowOptions) []*symbols.Evaluation {
	if !opts.StopOnType {
		base, ok := symCtx[BaseAttr]
		if !ok {
			base, ok = opts.Context[BaseAttr]
		}
		if ok {
			if receiver := base.Symbol(); receiver != nil && receiver.Kind() == symbols.KindClass {
				if get := first(e.MemberSymbol(ctx, sym, "__get__", nil)); get != nil && get.Kind() == symbols.KindFunction {
					var res []*symbols.Evaluation
					for _, ret := range get.Evaluations() {
						target := ret.Symbol()
						if target == nil || target == sym {
							continue
						}
						res = append(res, ret.WithContext(BaseAttr, symbols.SymbolContext(receiver)))
					}
					return res
				}
			}
		}
	}
	if sym.Kind() != symbols.KindVariable {
		return nil
	}
	var res []*symbols.Evaluation
	for _, ev := range sym.Evaluations() {
		if ev.Symbol() == nil {
			continue
		}
		if base, ok := symCtx[BaseAttr]; ok {
			ev = ev.WithContext(BaseAttr, base)
		}
		res = append(res, ev)
	}
	return res
}

// FollowRefAndGetValue returns the literal ev ultimately carries.
func (e *Engine) FollowRefAndGetValue(ctx context.Context, ev *symbols.Evaluation) (symbols.Value, bool) {
	if ev.Value != nil {
		return *ev.Value, true
	}
	if ev.Symbol() == nil {
		return symbols.Value{}, false
	}
	terminals := e.FollowRef(ctx, ev, FollowOptions{StopOnValue: true})
	if len(terminals) != 1 {
		return symbols.Value{}, false
	}
	t := terminals[0]
	if t.Value != nil {
		return *t.Value, true
	}
	if s := t.Symbol(); s != nil {
		if evals := s.Evaluations(); len(evals) == 1 && evals[0].Value != nil {
			return *evals[0].Value, true
		}
	}
	return symbols.Value{}, false
}

// Terminals follows every evaluation of sym and returns the distinct
// terminal symbols.
func (e *Engine) Terminals(ctx context.Context, sym *symbols.Symbol) []*symbols.Symbol {
	var out []*symbols.Symbol
	seen := map[*symbols.Symbol]bool{}
	for _, t := range e.FollowRef(ctx, FromSymbol(sym), FollowOptions{}) {
		if s := t.Symbol(); s != nil && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func first(syms []*symbols.Symbol) *symbols.Symbol {
	if len(syms) == 0 {
		return nil
	}
	return syms[0]
}
