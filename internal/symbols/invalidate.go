package symbols

// Invalidate re-queues every symbol that depends on s, or on one of its
// module-children, at step or any later level. Each dependent goes back
// into the queue of the step it recorded the edge at. Dependents lying
// inside s are skipped: they are being rebuilt with it.
func Invalidate(env Env, s *Symbol, step BuildStep) {
	if !step.Valid() {
		return
	}
	pending := []*Symbol{s}
	for len(pending) > 0 {
		sym := pending[0]
		pending = pending[1:]
		if sym.build != nil && sym.kind.HoldsSource() {
			invalidateDependents(env, s, sym, step)
		}
		pending = append(pending, sym.ModuleChildren()...)
	}
}

func invalidateDependents(env Env, target, sym *Symbol, step BuildStep) {
	for level := step; level <= StepValidation; level++ {
		for depStep := level; depStep <= StepValidation; depStep++ {
			for _, dep := range sym.build.dependents[level][depStep].All() {
				if dep.IsInParents(target) {
					continue
				}
				requeue(env, dep, depStep)
			}
		}
	}
	if step <= StepArchEval {
		for _, class := range sym.ContentSymbols() {
			if class.class != nil && class.class.Model != nil {
				env.ModelChanged(class)
			}
		}
	}
}

func requeue(env Queue, sym *Symbol, step BuildStep) {
	switch step {
	case StepArch:
		env.AddToRebuildArch(sym)
	case StepArchEval:
		env.AddToRebuildArchEval(sym)
	default:
		InvalidateSubFunctions(sym)
		env.AddToValidations(sym)
	}
}

// InvalidateSubFunctions drops the evaluations of every function declared
// in a file or package, methods included, and marks them pending.
func InvalidateSubFunctions(s *Symbol) {
	if !s.kind.HoldsSource() {
		return
	}
	var walk func(*Symbol)
	walk = func(parent *Symbol) {
		for _, sym := range parent.ContentSymbols() {
			switch sym.kind {
			case KindFunction:
				sym.decl.Evaluations = nil
				sym.SetStatus(StepArchEval, StatusPending)
				sym.SetStatus(StepValidation, StatusPending)
			case KindClass:
				walk(sym)
			}
		}
	}
	walk(s)
}

// Unload tears s down depth first. File-like symbols invalidate their ARCH
// dependents while their edges still exist; self-import roots ask for a
// reload under their parent; modules and model classes leave their
// registries. s is detached from its parent last.
func Unload(env Env, s *Symbol) {
	for _, child := range s.AllSymbols() {
		Unload(env, child)
	}
	if s.kind.HoldsSource() {
		Invalidate(env, s, StepArch)
	}
	parent := s.Parent()
	if s.SelfImport() && parent != nil && len(s.Paths()) > 0 {
		env.MustReload(parent, s.Paths()[0])
	}
	if s.kind == KindModule {
		env.UnregisterModule(s)
	}
	if s.class != nil && s.class.Model != nil {
		env.RemoveModelClass(s)
	}
	if parent != nil {
		parent.removeChild(s)
	}
	s.unloaded = true
}

// UnloadContent unloads every declaration of s and resets its sections,
// leaving module-children untouched.
func UnloadContent(env Env, s *Symbol) {
	if s.scope == nil {
		return
	}
	for _, sym := range s.ContentSymbols() {
		Unload(env, sym)
	}
	s.scope.Reset()
}
