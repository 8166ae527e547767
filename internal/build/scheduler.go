// Package build drains the per-stage rebuild queues of a symbol graph.
//
// Symbols are picked greedily: among the queued symbols of a stage, the one
// with the fewest same-or-earlier dependencies still queued goes first. The
// order approximates a topological sort without requiring one to exist, so
// import cycles degrade to partial information on a first pass that later
// invalidations fix up.
package build

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync/atomic"
	"weak"

	"github.com/jward/trellis/internal/symbols"
)

// InitState is how far the session initialisation went.
type InitState int

const (
	NotReady InitState = iota
	PythonReady
	OdooReady
)

func (s InitState) String() string {
	switch s {
	case PythonReady:
		return "python_ready"
	case OdooReady:
		return "odoo_ready"
	}
	return "not_ready"
}

// Stages runs one build stage on one symbol. The scheduler owns statuses;
// a stage only does the analysis work.
type Stages interface {
	Arch(ctx context.Context, sym *symbols.Symbol)
	ArchEval(ctx context.Context, sym *symbols.Symbol)
	Odoo(ctx context.Context, sym *symbols.Symbol)
	Validate(ctx context.Context, sym *symbols.Symbol)
}

type queueIndex int

const (
	queueArch queueIndex = iota
	queueArchEval
	queueValidation
	queueCount
)

var queueSteps = [queueCount]symbols.BuildStep{symbols.StepArch, symbols.StepArchEval, symbols.StepValidation}

func queueFor(step symbols.BuildStep) queueIndex {
	switch step {
	case symbols.StepArch:
		return queueArch
	case symbols.StepArchEval:
		return queueArchEval
	}
	return queueValidation
}

type reload struct {
	parent weak.Pointer[symbols.Symbol]
	path   string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithContinuation sets the callback used to request a delayed drain. full
// asks for a complete reload instead of a drain.
func WithContinuation(fn func(full bool)) Option {
	return func(s *Scheduler) { s.continuation = fn }
}

// Scheduler owns the rebuild queues and runs stages in dependency order.
// It is not safe for concurrent use except for Interrupt and Terminate;
// callers hold the session lock.
type Scheduler struct {
	logger       *slog.Logger
	stages       Stages
	reg          symbols.Registry
	continuation func(full bool)

	queues     [queueCount]symbols.Set
	mustReload []reload
	// odooPending holds the validation entries whose ODOO stage has not run.
	odooPending symbols.Set
	building   map[*symbols.Symbol]bool

	interrupt   atomic.Bool
	terminate   atomic.Bool
	state       InitState
	needRebuild bool

	runs [len(symbols.Steps)]int
}

// New returns a scheduler running stages. reg is used to recreate
// self-import roots.
func New(stages Stages, reg symbols.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:   slog.Default(),
		stages:   stages,
		reg:      reg,
		building: make(map[*symbols.Symbol]bool),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) State() InitState { return s.state }
func (s *Scheduler) SetState(state InitState) { s.state = state }

// Interrupt asks the running drain to yield at its next validation pop.
func (s *Scheduler) Interrupt() { s.interrupt.Store(true) }

// Terminate makes every drain return false at its next pop.
func (s *Scheduler) Terminate() { s.terminate.Store(true) }

// RequestRebuild makes the running drain stop and ask for a full reload.
func (s *Scheduler) RequestRebuild() { s.needRebuild = true }

// Runs returns how many times stage step ran since the scheduler was created.
func (s *Scheduler) Runs(step symbols.BuildStep) int {
	if !step.Valid() {
		return 0
	}
	return s.runs[step]
}

// QueueSize returns the number of queued symbols over every stage.
func (s *Scheduler) QueueSize() int {
	n := 0
	for i := range s.queues {
		n += s.queues[i].Len()
	}
	return n
}

// Reset empties the queues and pending reloads.
func (s *Scheduler) Reset() {
	for i := range s.queues {
		s.queues[i].Clear()
	}
	s.odooPending.Clear()
	s.mustReload = nil
	s.needRebuild = false
	s.interrupt.Store(false)
	s.state = NotReady
}

// buildTarget maps a symbol to the queue entry standing for it: files and
// packages are queued themselves, declarations through their file.
func buildTarget(sym *symbols.Symbol) *symbols.Symbol {
	if sym == nil || sym.IsUnloaded() {
		return nil
	}
	switch {
	case sym.Kind().HoldsSource():
		return sym
	case sym.Kind().IsDecl():
		return sym.File()
	}
	return nil
}

// AddToRebuildArch queues sym for ARCH and marks every stage pending.
func (s *Scheduler) AddToRebuildArch(sym *symbols.Symbol) {
	sym = buildTarget(sym)
	if sym == nil || sym.Status(symbols.StepArch) == symbols.StatusInProgress {
		return
	}
	for _, st := range symbols.Steps {
		sym.SetStatus(st, symbols.StatusPending)
	}
	s.queues[queueArch].Add(sym)
}

// AddToRebuildArchEval queues sym for ARCH_EVAL and marks the later
// stages pending.
func (s *Scheduler) AddToRebuildArchEval(sym *symbols.Symbol) {
	sym = buildTarget(sym)
	if sym == nil || sym.Status(symbols.StepArchEval) == symbols.StatusInProgress {
		return
	}
	for _, st := range symbols.Steps[symbols.StepArchEval:] {
		sym.SetStatus(st, symbols.StatusPending)
	}
	s.queues[queueArchEval].Add(sym)
}

// AddToValidations queues sym for ODOO and VALIDATION.
func (s *Scheduler) AddToValidations(sym *symbols.Symbol) {
	sym = buildTarget(sym)
	if sym == nil || sym.Status(symbols.StepValidation) == symbols.StatusInProgress {
		return
	}
	sym.SetStatus(symbols.StepOdoo, symbols.StatusPending)
	sym.SetStatus(symbols.StepValidation, symbols.StatusPending)
	s.queues[queueValidation].Add(sym)
	s.odooPending.Add(sym)
}

// MustReload records that path must be recreated under parent by the next
// drain.
func (s *Scheduler) MustReload(parent *symbols.Symbol, path string) {
	s.mustReload = append(s.mustReload, reload{parent: weak.Make(parent), path: path})
}

// IsInRebuild reports whether sym is queued for step.
func (s *Scheduler) IsInRebuild(sym *symbols.Symbol, step symbols.BuildStep) bool {
	return s.queues[queueFor(step)].Contains(sym)
}

// Queued returns the symbols waiting for step.
func (s *Scheduler) Queued(step symbols.BuildStep) []*symbols.Symbol {
	return s.queues[queueFor(step)].All()
}

// RemoveFromRebuild drops sym from the queue of step.
func (s *Scheduler) RemoveFromRebuild(sym *symbols.Symbol, step symbols.BuildStep) {
	q := queueFor(step)
	s.queues[q].Remove(sym)
	if q == queueValidation {
		s.odooPending.Remove(sym)
	}
}

// RemoveFromAll drops sym from every queue.
func (s *Scheduler) RemoveFromAll(sym *symbols.Symbol) {
	for i := range s.queues {
		s.queues[i].Remove(sym)
	}
	s.odooPending.Remove(sym)
}

// ProcessRebuilds drains the queues: ARCH first, then ARCH_EVAL, then
// VALIDATION, restarting from ARCH after every pop. It returns false when
// terminated or cancelled. Once the session is ready, a pending interrupt
// makes a validation pop put its symbol back, request a delayed
// continuation and return true.
func (s *Scheduler) ProcessRebuilds(ctx context.Context) bool {
	s.interrupt.Store(false)
	s.addFromSelfReload()
	var already [queueCount]map[string]bool
	for i := range already {
		already[i] = make(map[string]bool)
	}
	for !s.needRebuild {
		if s.terminate.Load() || ctx.Err() != nil {
			return false
		}
		if sym := s.popItem(queueArch); sym != nil {
			if firstTime(already[queueArch], sym) {
				s.runArch(ctx, sym)
			}
			continue
		}
		if sym := s.popItem(queueArchEval); sym != nil {
			if firstTime(already[queueArchEval], sym) {
				s.runArchEval(ctx, sym)
			}
			continue
		}
		if s.odooPhase(ctx) {
			continue
		}
		if sym := s.popItem(queueValidation); sym != nil {
			if s.state == OdooReady && s.interrupt.Load() {
				s.interrupt.Store(false)
				s.logger.Debug("build: drain interrupted", "symbol", sym.Tree().String())
				s.AddToValidations(sym)
				s.request(false)
				return true
			}
			if firstTime(already[queueValidation], sym) {
				s.runValidation(ctx, sym)
			}
			continue
		}
		break
	}
	if s.needRebuild {
		s.needRebuild = false
		s.logger.Info("build: full reload requested")
		s.request(true)
	}
	return true
}

func firstTime(seen map[string]bool, sym *symbols.Symbol) bool {
	key := sym.Tree().String()
	if seen[key] {
		return false
	}
	seen[key] = true
	return true
}

func (s *Scheduler) request(full bool) {
	if s.continuation != nil {
		s.continuation(full)
	}
}

// popItem removes and returns the queued symbol of q with the fewest
// dependencies still queued. First seen wins ties.
func (s *Scheduler) popItem(q queueIndex) *symbols.Symbol {
	step := queueSteps[q]
	var selected *symbols.Symbol
	best := math.MaxInt
	for _, sym := range s.queues[q].All() {
		file := sym.File()
		if file == nil {
			file = sym
		}
		count := 0
		for _, level := range symbols.Steps[:step+1] {
			queue := &s.queues[queueFor(level)]
			for _, dep := range file.Dependencies(step, level) {
				if queue.Contains(dep) {
					count++
				}
			}
		}
		if count < best {
			selected, best = sym, count
			if count == 0 {
				break
			}
		}
	}
	if selected == nil {
		s.queues[q].Clear()
		return nil
	}
	s.queues[q].Remove(selected)
	return selected
}

func (s *Scheduler) addFromSelfReload() {
	pending := s.mustReload
	s.mustReload = nil
	for _, r := range pending {
		parent := r.parent.Value()
		if parent == nil || parent.IsUnloaded() {
			continue
		}
		inAddons := slices.Equal(s.reg.MainEntryTree(parent), []string{"odoo", "addons"})
		sym := symbols.CreateFromPath(s.reg, r.path, parent, inAddons)
		if sym == nil {
			s.logger.Warn("build: unable to reload self import", "path", r.path)
			continue
		}
		sym.SetExternal(false)
		sym.SetSelfImport(true)
		s.AddToRebuildArch(sym)
	}
}

func (s *Scheduler) runArch(ctx context.Context, sym *symbols.Symbol) {
	if sym.IsUnloaded() {
		return
	}
	s.arch(ctx, sym)
	s.AddToRebuildArchEval(sym)
}

func (s *Scheduler) arch(ctx context.Context, sym *symbols.Symbol) {
	sym.ResetDependencies(symbols.StepArch)
	sym.SetStatus(symbols.StepArch, symbols.StatusInProgress)
	s.stages.Arch(ctx, sym)
	sym.SetStatus(symbols.StepArch, symbols.StatusDone)
	s.runs[symbols.StepArch]++
}

func (s *Scheduler) runArchEval(ctx context.Context, sym *symbols.Symbol) {
	if sym.IsUnloaded() {
		return
	}
	s.archEval(ctx, sym)
	s.AddToValidations(sym)
}

func (s *Scheduler) archEval(ctx context.Context, sym *symbols.Symbol) {
	if sym.Status(symbols.StepArch) != symbols.StatusDone {
		s.RemoveFromRebuild(sym, symbols.StepArch)
		s.arch(ctx, sym)
	}
	sym.ResetDependencies(symbols.StepArchEval)
	sym.SetStatus(symbols.StepArchEval, symbols.StatusInProgress)
	s.stages.ArchEval(ctx, sym)
	sym.SetStatus(symbols.StepArchEval, symbols.StatusDone)
	s.runs[symbols.StepArchEval]++
}

func (s *Scheduler) runValidation(ctx context.Context, sym *symbols.Symbol) {
	if sym.IsUnloaded() {
		return
	}
	sym.SetStatus(symbols.StepValidation, symbols.StatusInProgress)
	if sym.Status(symbols.StepArchEval) != symbols.StatusDone {
		s.RemoveFromRebuild(sym, symbols.StepArchEval)
		s.archEval(ctx, sym)
	}
	if sym.Status(symbols.StepOdoo) != symbols.StatusDone {
		s.odoo(ctx, sym)
	}
	sym.ResetDependencies(symbols.StepValidation)
	s.stages.Validate(ctx, sym)
	sym.SetStatus(symbols.StepValidation, symbols.StatusDone)
	s.runs[symbols.StepValidation]++
}

// odooPhase runs ODOO on every symbol waiting for VALIDATION, so that the
// model registry is complete before validations read it. It reports
// whether anything ran. Only entries queued since the last phase are
// visited; one whose ARCH_EVAL is pending again is re-added by it.
func (s *Scheduler) odooPhase(ctx context.Context) bool {
	if s.odooPending.Empty() {
		return false
	}
	pending := s.odooPending.All()
	s.odooPending.Clear()
	ran := false
	for _, sym := range pending {
		if sym.IsUnloaded() || !s.queues[queueValidation].Contains(sym) ||
			sym.Status(symbols.StepArchEval) != symbols.StatusDone ||
			sym.Status(symbols.StepOdoo) == symbols.StatusDone {
			continue
		}
		s.odoo(ctx, sym)
		ran = true
	}
	return ran
}

func (s *Scheduler) odoo(ctx context.Context, sym *symbols.Symbol) {
	sym.ResetDependencies(symbols.StepOdoo)
	sym.SetStatus(symbols.StepOdoo, symbols.StatusInProgress)
	s.stages.Odoo(ctx, sym)
	sym.SetStatus(symbols.StepOdoo, symbols.StatusDone)
	s.runs[symbols.StepOdoo]++
}

// BuildNow runs step on sym immediately when it is pending, building its
// ARCH and ARCH_EVAL dependencies first. Stages other than ARCH only run
// when sym is queued for them. It reports whether the stage ran.
func (s *Scheduler) BuildNow(ctx context.Context, sym *symbols.Symbol, step symbols.BuildStep) bool {
	if sym == nil || sym.IsUnloaded() || !sym.Kind().HoldsSource() || !step.Valid() {
		return false
	}
	if sym.Status(step) != symbols.StatusPending {
		return false
	}
	if step != symbols.StepArch && !s.IsInRebuild(sym, step) {
		return false
	}
	if s.building[sym] {
		return false
	}
	s.building[sym] = true
	s.buildNowDependencies(ctx, sym, step)
	delete(s.building, sym)
	if sym.Status(step) != symbols.StatusPending {
		return false
	}
	s.RemoveFromRebuild(sym, step)
	switch step {
	case symbols.StepArch:
		s.runArch(ctx, sym)
	case symbols.StepArchEval:
		s.runArchEval(ctx, sym)
	default:
		s.runValidation(ctx, sym)
	}
	return true
}

func (s *Scheduler) buildNowDependencies(ctx context.Context, sym *symbols.Symbol, step symbols.BuildStep) {
	for _, toBuild := range []symbols.BuildStep{symbols.StepArch, symbols.StepArchEval} {
		for _, level := range symbols.Steps[:toBuild+1] {
			for _, dep := range sym.Dependencies(toBuild, level) {
				s.BuildNow(ctx, dep, level)
			}
		}
		if toBuild == step {
			break
		}
	}
}
