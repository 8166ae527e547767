package trellis

import (
	"context"
	"fmt"

	"github.com/jward/trellis/internal/config"
	"github.com/jward/trellis/internal/symbols"
	"github.com/jward/trellis/internal/watch"
)

// adaptiveQueueLimit is the queue size under which an adaptive refresh
// drains at once instead of waiting for the continuation window.
const adaptiveQueueLimit = 10

// Start runs the delayed continuation until ctx is done or Stop is called.
// Without it every refresh drains synchronously.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debouncer != nil {
		return fmt.Errorf("trellis: start: %w", watch.ErrStarted)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.runCtx, s.stop = ctx, cancel
	s.runDone = make(chan struct{})
	d := watch.NewDebouncer(s.cfg.Delay(), s.delayed, watch.WithDebouncerLogger(s.logger))
	s.debouncer = d
	done := s.runDone
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	return nil
}

// Stop ends the delayed continuation started by Start. Pending requests
// are dropped.
func (s *Session) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.runDone
	s.debouncer, s.stop, s.runDone = nil, nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

// delayed is run by the debouncer when a window closes.
func (s *Session) delayed(full bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx := s.runCtx
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if full {
		if err := s.reset(ctx); err != nil {
			s.logger.Error("trellis: delayed reset", "error", err)
		}
		return
	}
	s.processRebuilds(ctx)
}

// continuation is called by the scheduler, under the session lock, when a
// drain yields or asks for a full reload.
func (s *Session) continuation(full bool) {
	if s.debouncer != nil {
		if full {
			s.debouncer.Rebuild()
		} else {
			s.debouncer.Process()
		}
		return
	}
	if full {
		s.resetPending = true
	} else {
		s.drainPending = true
	}
}

// processRebuilds parses the queued files in parallel, drains the queues,
// publishes the diagnostics that changed and exports the snapshot. It
// reports false when the drain was terminated or cancelled.
func (s *Session) processRebuilds(ctx context.Context) bool {
	for {
		s.preparse(ctx)
		ok := s.sched.ProcessRebuilds(ctx)
		s.entries.CleanEntries()
		s.publish()
		if !ok {
			return false
		}
		if s.resetPending {
			s.resetPending = false
			if err := s.reset(ctx); err != nil {
				s.logger.Error("trellis: reset", "error", err)
			}
			return true
		}
		if !s.drainPending {
			return true
		}
		s.drainPending = false
	}
}

func (s *Session) preparse(ctx context.Context) {
	queued := s.sched.Queued(symbols.StepArch)
	if len(queued) < 2 {
		return
	}
	paths := make([]string, 0, len(queued))
	for _, sym := range queued {
		path := sym.SourcePath()
		if path == "" {
			continue
		}
		if _, err := s.files.Ensure(path); err != nil {
			continue
		}
		paths = append(paths, path)
	}
	if err := s.files.Preparse(ctx, paths); err != nil {
		s.logger.Debug("trellis: preparse", "error", err)
	}
}

func (s *Session) publish() {
	n := s.files.Publish(s.publisher)
	if n > 0 {
		s.logger.Debug("trellis: diagnostics published", "files", n)
	}
	runs := s.stageRuns()
	if n == 0 && !s.graphChanged && runs == s.exportedRuns {
		return
	}
	if err := s.exportSnapshot(); err != nil {
		s.logger.Error("trellis: snapshot export", "error", err)
		return
	}
	s.graphChanged, s.exportedRuns = false, runs
}

// stageRuns totals the stage runs of the scheduler.
func (s *Session) stageRuns() int {
	n := 0
	for _, step := range symbols.Steps {
		n += s.sched.Runs(step)
	}
	return n
}

// requestProcess drains now, or hands the drain to the continuation when
// it runs and the refresh is not adaptive or the queue is large.
func (s *Session) requestProcess(ctx context.Context) {
	if s.debouncer == nil ||
		(s.cfg.Refresh == config.RefreshAdaptive && s.sched.QueueSize() < adaptiveQueueLimit) {
		s.processRebuilds(ctx)
		return
	}
	s.debouncer.Process()
}

// RequestReload asks for a full reset, delayed when the continuation runs.
func (s *Session) RequestReload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.debouncer != nil {
		s.debouncer.Rebuild()
		return nil
	}
	return s.reset(ctx)
}

// ProcessRebuilds drains the rebuild queues. It reports false when the
// session was closed or ctx cancelled during the drain.
func (s *Session) ProcessRebuilds(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processRebuilds(ctx)
}

// AddToRebuildArch queues sym for ARCH.
func (s *Session) AddToRebuildArch(sym *Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.AddToRebuildArch(sym)
}

// AddToRebuildArchEval queues sym for ARCH_EVAL.
func (s *Session) AddToRebuildArchEval(sym *Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.AddToRebuildArchEval(sym)
}

// AddToValidations queues sym for ODOO and VALIDATION.
func (s *Session) AddToValidations(sym *Symbol) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sched.AddToValidations(sym)
}

// BuildNow runs step on sym immediately if it is pending.
func (s *Session) BuildNow(ctx context.Context, sym *Symbol, step symbols.BuildStep) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched.BuildNow(ctx, sym, step)
}

// RefreshEvaluations queues every workspace file for ARCH_EVAL and drains.
func (s *Session) RefreshEvaluations(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshEvaluations(ctx)
}

func (s *Session) refreshEvaluations(ctx context.Context) {
	for _, e := range s.entries.IterAll() {
		pending := []*symbols.Symbol{e.Root()}
		for len(pending) > 0 {
			sym := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			if sym.Kind().HoldsSource() && !sym.IsExternal() {
				s.sched.AddToRebuildArchEval(sym)
			}
			pending = append(pending, sym.ModuleChildren()...)
		}
	}
	s.processRebuilds(ctx)
}
