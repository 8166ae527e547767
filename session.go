package trellis

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jward/trellis/internal/build"
	"github.com/jward/trellis/internal/config"
	"github.com/jward/trellis/internal/entrypoint"
	"github.com/jward/trellis/internal/files"
	"github.com/jward/trellis/internal/model"
	"github.com/jward/trellis/internal/python"
	"github.com/jward/trellis/internal/rules"
	"github.com/jward/trellis/internal/store"
	"github.com/jward/trellis/internal/symbols"
	"github.com/jward/trellis/internal/watch"
)

// Metadata keys of the snapshot.
const (
	metaRulesHash = "rules_hash"
	metaSession   = "session"
)

// env is the view of the session the graph and the stages report to: the
// entry and model registries and the scheduler queues.
type env struct {
	*entrypoint.Manager
	*model.Registry
	*build.Scheduler
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithStore exports a snapshot to the SQLite database at dbPath after
// every drain.
func WithStore(dbPath string) Option {
	return func(s *Session) { s.dbPath = dbPath }
}

// WithRulesFS replaces the embedded rule catalogue with the validate/
// directory of fsys.
func WithRulesFS(fsys fs.FS) Option {
	return func(s *Session) { s.rulesFS = fsys }
}

// WithPublisher sets the function receiving the diagnostics of every file
// changed by a drain.
func WithPublisher(fn files.PublishFunc) Option {
	return func(s *Session) { s.publisher = fn }
}

// Session owns the whole mutable state of one analysis: files, entry
// points, symbol graph, model registry and rebuild queues. Every exported
// method takes the session lock, except Interrupt.
type Session struct {
	mu sync.Mutex

	id        string
	cfg       config.Config
	logger    *slog.Logger
	dbPath    string
	rulesFS   fs.FS
	publisher files.PublishFunc

	files   *files.Manager
	entries *entrypoint.Manager
	models  *model.Registry
	sched   *build.Scheduler
	builder *python.Builder
	rules   *rules.Engine
	env     *env
	store   *store.Store

	// debouncer is set while Start runs.
	debouncer *watch.Debouncer
	runCtx    context.Context
	stop      context.CancelFunc
	runDone   chan struct{}

	// Continuations requested by a drain when no debouncer runs.
	drainPending bool
	resetPending bool

	rulesChanged bool

	// The snapshot is rewritten only when the graph changed since the last
	// export: a stage ran, diagnostics moved, or symbols were dropped.
	graphChanged bool
	exportedRuns int
}

// New creates a session for cfg. The graph stays empty until Init.
func New(cfg config.Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trellis: %w", err)
	}
	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		logger: slog.Default(),

		graphChanged: true,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("session", s.id)

	fm, err := files.New(files.WithLogger(s.logger), files.WithOverrides(cfg.Diagnostics))
	if err != nil {
		return nil, fmt.Errorf("trellis: %w", err)
	}
	s.files = fm
	ruleOpts := []rules.Option{rules.WithDir(cfg.RulesDir), rules.WithLogger(s.logger)}
	if s.rulesFS != nil {
		ruleOpts = append(ruleOpts, rules.WithFS(s.rulesFS))
	}
	s.rules = rules.New(ruleOpts...)
	s.entries = entrypoint.New(entrypoint.WithLogger(s.logger))
	s.models = model.NewRegistry(model.WithLogger(s.logger), model.WithManifestReader(python.ReadManifest))
	s.builder = python.New(s.files, s.entries, s.models,
		python.WithLogger(s.logger),
		python.WithRules(s.rules),
		python.WithMissingImports(cfg.MissingImports))
	s.env = &env{Manager: s.entries, Registry: s.models}
	s.sched = build.New(s.builder, s.env,
		build.WithLogger(s.logger),
		build.WithContinuation(s.continuation))
	s.env.Scheduler = s.sched
	s.models.Bind(s.env)
	s.builder.Bind(s.env)

	if s.dbPath != "" {
		if err := s.openStore(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Session) openStore() error {
	st, err := store.NewStore(s.dbPath)
	if err != nil {
		return fmt.Errorf("trellis: create store: %w", err)
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return fmt.Errorf("trellis: migrate: %w", err)
	}
	hash, err := s.rules.Hash()
	if err != nil {
		st.Close()
		return fmt.Errorf("trellis: rules: %w", err)
	}
	current := strconv.FormatUint(hash, 16)
	stored, err := st.GetMetadata(metaRulesHash)
	if err != nil {
		st.Close()
		return fmt.Errorf("trellis: %w", err)
	}
	s.rulesChanged = stored != current
	if err := st.SetMetadata(metaRulesHash, current); err != nil {
		st.Close()
		return fmt.Errorf("trellis: %w", err)
	}
	if err := st.SetMetadata(metaSession, s.id); err != nil {
		st.Close()
		return fmt.Errorf("trellis: %w", err)
	}
	s.store = st
	return nil
}

// ID returns the session identifier attached to every log record.
func (s *Session) ID() string { return s.id }

// Config returns the configuration in use.
func (s *Session) Config() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// RulesChanged reports whether the rule catalogue differs from the one
// used for the previous snapshot in the same database.
func (s *Session) RulesChanged() bool { return s.rulesChanged }

// Store returns the snapshot store, or nil without WithStore.
func (s *Session) Store() *store.Store { return s.store }

// State returns how far initialisation went.
func (s *Session) State() InitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched.State()
}

// Close stops the delayed continuation and releases the snapshot store.
func (s *Session) Close() error {
	s.Stop()
	s.sched.Terminate()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// Interrupt asks a running drain to yield before its next validation. It
// does not take the session lock.
func (s *Session) Interrupt() { s.sched.Interrupt() }

// =============================================================================
// Initialisation
// =============================================================================

// Init builds the entry points from the configuration: the interpreter's
// stdlib and site-packages, the stub directories, the Odoo tree and its
// addon paths, then loads every module and drains the queues. A failing
// interpreter query leaves the session not ready.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.init(ctx)
}

func (s *Session) init(ctx context.Context) error {
	start := time.Now()
	s.sched.SetState(build.NotReady)
	if err := s.loadPython(ctx); err != nil {
		s.logger.Error("trellis: python environment unavailable", "error", err)
		return fmt.Errorf("trellis: init: %w", err)
	}
	s.sched.SetState(build.PythonReady)
	if s.cfg.OdooPath == "" {
		s.logger.Info("trellis: no odoo path configured, running on custom entries only")
		s.processRebuilds(ctx)
		return nil
	}
	if s.entries.SetMainEntry(s.env, s.cfg.OdooPath) == nil {
		return fmt.Errorf("trellis: init: odoo path %s is not importable", s.cfg.OdooPath)
	}
	for _, dir := range s.cfg.Addons {
		s.entries.AddEntryToAddons(dir)
	}
	if s.builder.AddonsNamespace(ctx) == nil {
		return fmt.Errorf("trellis: init: no odoo/addons package under %s", s.cfg.OdooPath)
	}
	modules := s.builder.LoadModules(ctx, newSkipper(s.addonDirs()).Skip)
	s.sched.SetState(build.OdooReady)
	s.processRebuilds(ctx)
	s.logger.Info("trellis: database built",
		"modules", len(modules),
		"models", len(s.models.Models()),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func (s *Session) addonDirs() []string {
	var dirs []string
	if main := s.entries.Main(); main != nil {
		dirs = append(dirs, main.Path)
	}
	for _, e := range s.entries.Addons() {
		dirs = append(dirs, e.Path)
	}
	return dirs
}

// Reset drops the whole graph and initialises again. Opened buffers are
// kept.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reset(ctx)
}

type buffer struct {
	path    string
	source  []byte
	version int
}

func (s *Session) reset(ctx context.Context) error {
	s.logger.Info("trellis: reset")
	var opened []buffer
	for _, p := range s.files.Paths() {
		if f := s.files.Get(p); f.Opened {
			opened = append(opened, buffer{path: p, source: f.Source(), version: f.Version})
		}
	}
	s.sched.Reset()
	s.entries.Reset(false)
	s.models.Reset()
	s.files.Reset()
	s.drainPending, s.resetPending = false, false
	s.graphChanged = true
	if err := s.init(ctx); err != nil {
		return err
	}
	for _, b := range opened {
		if err := s.didOpen(ctx, b.path, b.source, b.version); err != nil {
			s.logger.Warn("trellis: reopen after reset", "path", b.path, "error", err)
		}
	}
	return nil
}

// UpdateConfig applies a new configuration. A change of any search path
// resets the session; a change of the missing-import mode re-evaluates
// every workspace file; a new refresh delay is handed to the running
// continuation.
func (s *Session) UpdateConfig(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("trellis: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if searchPathsChanged(old, cfg) {
		return s.reset(ctx)
	}
	if old.MissingImports != cfg.MissingImports {
		s.builder.SetMissingImports(cfg.MissingImports)
		s.refreshEvaluations(ctx)
	}
	if old.Delay() != cfg.Delay() && s.debouncer != nil {
		s.debouncer.UpdateDelay(cfg.Delay())
	}
	return nil
}

func searchPathsChanged(a, b config.Config) bool {
	return a.OdooPath != b.OdooPath || a.Python != b.Python || a.Stdlib != b.Stdlib ||
		!slices.Equal(a.Addons, b.Addons) || !slices.Equal(a.StubPaths, b.StubPaths)
}

// =============================================================================
// Queries
// =============================================================================

// QueueSize returns the number of symbols waiting in the rebuild queues.
func (s *Session) QueueSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched.QueueSize()
}

// Modules returns the names of the loaded Odoo modules.
func (s *Session) Modules() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.models.Modules()
}

// Models returns the names of the registered Odoo models.
func (s *Session) Models() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.models.Models()
}

// Diagnostics returns the current diagnostics of path.
func (s *Session) Diagnostics(path string) []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.files.Diagnostics(path)
}

// Lookup returns the symbol at tree (a dotted name such as
// "odoo.addons.sale.models") under the main entry, or nil.
func (s *Session) Lookup(tree ...string) *symbols.Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	main := s.entries.Main()
	if main == nil {
		return nil
	}
	full := append(append([]string{}, main.Tree...), tree...)
	return main.Root().GetOne(symbols.PathTree(full...), symbols.EndOfFile)
}
