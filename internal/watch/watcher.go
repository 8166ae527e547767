// Package watch turns file system activity into session events and paces
// the drains they trigger: Watcher wraps fsnotify with recursive watching,
// glob exclusion and per-path debouncing, Debouncer is the delayed
// continuation that coalesces bursts of changes into one drain.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
)

// DefaultDebounce is the per-path quiet period before an event is emitted.
const DefaultDebounce = 100 * time.Millisecond

var (
	// ErrNoPathsConfigured indicates no watch paths were specified.
	ErrNoPathsConfigured = errors.New("watch: no paths configured")

	// ErrPathNotExist indicates a watch path does not exist.
	ErrPathNotExist = errors.New("watch: path does not exist")

	// ErrPathNotDirectory indicates a watch path is not a directory.
	ErrPathNotDirectory = errors.New("watch: path is not a directory")

	// ErrInvalidPattern indicates an exclude pattern could not be compiled.
	ErrInvalidPattern = errors.New("watch: invalid exclude pattern")

	// ErrStarted indicates Start was called twice.
	ErrStarted = errors.New("watch: already started")
)

// Op is the kind of change an Event reports.
type Op int

const (
	OpCreate Op = iota
	OpChange
	OpDelete
	OpRename
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpChange:
		return "change"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	}
	return "unknown"
}

// Event is one debounced change of a path.
type Event struct {
	Path string
	Op   Op
	Time time.Time
}

// Config configures a Watcher.
type Config struct {
	// Paths are the directories watched recursively.
	Paths []string
	// Excludes are glob patterns ('/' separated) of paths to ignore.
	Excludes []string
	// Debounce is the per-path quiet period. Defaults to DefaultDebounce.
	Debounce time.Duration
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

type pendingEvent struct {
	event Event
	timer *time.Timer
}

// Watcher monitors file system changes under a set of directories.
type Watcher struct {
	config   Config
	watcher  *fsnotify.Watcher
	excludes []glob.Glob
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
	events  chan Event
	started bool
	stopped bool
}

// New validates cfg and creates a Watcher.
func New(cfg Config, opts ...Option) (*Watcher, error) {
	if err := validatePaths(cfg.Paths); err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	excludes, err := CompileExcludes(cfg.Excludes)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: new watcher: %w", err)
	}
	w := &Watcher{
		config:   cfg,
		watcher:  fw,
		excludes: excludes,
		logger:   slog.Default(),
		pending:  make(map[string]*pendingEvent),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

func validatePaths(paths []string) error {
	if len(paths) == 0 {
		return ErrNoPathsConfigured
	}
	for _, path := range paths {
		info, err := os.Stat(path)
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrPathNotExist, path)
		}
		if err != nil {
			return fmt.Errorf("watch: stat %s: %w", path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s", ErrPathNotDirectory, path)
		}
	}
	return nil
}

// CompileExcludes compiles exclusion patterns with '/' as separator.
func CompileExcludes(patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Excluded reports whether path matches one of the exclusion patterns.
func (w *Watcher) Excluded(path string) bool {
	slashed := filepath.ToSlash(path)
	for _, g := range w.excludes {
		if g.Match(slashed) || g.Match(slashed+"/") {
			return true
		}
	}
	return false
}

// Start begins watching. The returned channel is closed when ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) (<-chan Event, error) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil, ErrStarted
	}
	w.started = true
	w.events = make(chan Event, 256)
	w.mu.Unlock()

	for _, path := range w.config.Paths {
		if err := w.addRecursive(path); err != nil {
			w.Stop()
			return nil, fmt.Errorf("watch: add %s: %w", path, err)
		}
	}
	go w.loop(ctx)
	return w.events, nil
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if w.Excluded(path) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch: fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if w.Excluded(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				w.logger.Warn("watch: unable to watch new directory", "path", ev.Name, "error", err)
			}
		}
	}
	w.schedule(ev.Name, mapOp(ev.Op))
}

var opMappings = []struct {
	fs fsnotify.Op
	op Op
}{
	{fsnotify.Create, OpCreate},
	{fsnotify.Write, OpChange},
	{fsnotify.Remove, OpDelete},
	{fsnotify.Rename, OpRename},
}

func mapOp(op fsnotify.Op) Op {
	for _, m := range opMappings {
		if op.Has(m.fs) {
			return m.op
		}
	}
	return OpChange
}

// schedule (re)arms the debounce timer of path. A create followed by
// writes stays a create.
func (w *Watcher) schedule(path string, op Op) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	ev := Event{Path: path, Op: op, Time: time.Now()}
	if existing, ok := w.pending[path]; ok {
		existing.timer.Stop()
		if existing.event.Op == OpCreate && op == OpChange {
			ev.Op = OpCreate
		}
	}
	w.pending[path] = &pendingEvent{
		event: ev,
		timer: time.AfterFunc(w.config.Debounce, func() { w.emit(path) }),
	}
}

func (w *Watcher) emit(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	p, ok := w.pending[path]
	if !ok {
		return
	}
	delete(w.pending, path)
	select {
	case w.events <- p.event:
	default:
		w.logger.Warn("watch: event buffer full, dropping event", "path", path, "op", p.event.Op.String())
	}
}

// Stop releases the fsnotify watcher and closes the event channel.
// Idempotent.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = nil
	w.watcher.Close()
	if w.events != nil {
		close(w.events)
	}
}
