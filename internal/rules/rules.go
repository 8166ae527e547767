// Package rules runs the Risor rule catalogue over validated files. Each
// script sees the parsed file and reports diagnostics and extra
// dependencies through host functions.
package rules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/zeebo/xxh3"

	"github.com/jward/trellis/internal/diag"
	"github.com/jward/trellis/scripts"
)

// Dir is the directory of validation scripts inside a scripts FS.
const Dir = "validate"

// Input is the view of one file handed to the scripts.
type Input struct {
	Path    string
	Source  []byte
	Tree    *sitter.Tree
	Module  string
	Depends []string
	// Models are the model names declared or extended by the file.
	Models []string
}

// Result collects what the scripts reported. Depends holds dotted module
// paths, or "model:<name>" for a model.
type Result struct {
	Diagnostics []diag.Diagnostic
	Depends     []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithFS replaces the embedded catalogue with the validate/ directory of
// fsys.
func WithFS(fsys fs.FS) Option {
	return func(e *Engine) { e.fsys = fsys }
}

// WithDir adds the scripts of a directory on disk after the catalogue.
func WithDir(dir string) Option {
	return func(e *Engine) { e.dir = dir }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine runs rule scripts.
type Engine struct {
	fsys    fs.FS
	dir     string
	logger  *slog.Logger
	sources *sourceStore
}

// New creates an Engine over the embedded catalogue.
func New(opts ...Option) *Engine {
	e := &Engine{
		fsys:    scripts.FS,
		logger:  slog.Default(),
		sources: newSourceStore(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// script is one loaded rule.
type script struct {
	name   string
	source string
	// local scripts import from their own directory.
	local bool
}

// Scripts returns the names of the rules, catalogue first.
func (e *Engine) Scripts() ([]string, error) {
	list, err := e.load()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.name
	}
	return names, nil
}

func (e *Engine) load() ([]script, error) {
	var out []script
	if e.fsys != nil {
		paths, err := fs.Glob(e.fsys, path.Join(Dir, "*.risor"))
		if err != nil {
			return nil, fmt.Errorf("rules: list catalogue: %w", err)
		}
		slices.Sort(paths)
		for _, p := range paths {
			data, err := fs.ReadFile(e.fsys, p)
			if err != nil {
				return nil, fmt.Errorf("rules: loading script %s from fs: %w", p, err)
			}
			out = append(out, script{name: strings.TrimSuffix(path.Base(p), ".risor"), source: string(data)})
		}
	}
	if e.dir != "" {
		paths, err := filepath.Glob(filepath.Join(e.dir, "*.risor"))
		if err != nil {
			return nil, fmt.Errorf("rules: list %s: %w", e.dir, err)
		}
		slices.Sort(paths)
		for _, p := range paths {
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("rules: loading script %s: %w", p, err)
			}
			out = append(out, script{name: strings.TrimSuffix(filepath.Base(p), ".risor"), source: string(data), local: true})
		}
	}
	return out, nil
}

// Hash identifies the loaded scripts, so snapshots taken with another
// catalogue can be told apart.
func (e *Engine) Hash() (uint64, error) {
	list, err := e.load()
	if err != nil {
		return 0, err
	}
	h := xxh3.New()
	for _, s := range list {
		h.WriteString(s.name)
		h.WriteString(s.source)
	}
	return h.Sum64(), nil
}

// Run executes every rule against in. A failing script does not stop the
// others; their errors are joined.
func (e *Engine) Run(ctx context.Context, in Input) (Result, error) {
	list, err := e.load()
	if err != nil {
		return Result{}, err
	}
	if in.Tree == nil {
		return Result{}, nil
	}
	e.sources.store(in.Tree, in.Source, python())
	defer e.sources.forget(in.Tree)

	var res Result
	var errs []error
	for _, s := range list {
		c := &collector{path: in.Path, rule: s.name}
		if err := e.eval(ctx, s, in, c); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Diagnostics = append(res.Diagnostics, c.diags...)
		for _, dep := range c.depends {
			if !slices.Contains(res.Depends, dep) {
				res.Depends = append(res.Depends, dep)
			}
		}
	}
	return res, errors.Join(errs...)
}

// RunSource executes one script given as source. Useful for testing rules
// without script files.
func (e *Engine) RunSource(ctx context.Context, name, source string, in Input) (Result, error) {
	if in.Tree != nil {
		e.sources.store(in.Tree, in.Source, python())
		defer e.sources.forget(in.Tree)
	}
	c := &collector{path: in.Path, rule: name}
	if err := e.eval(ctx, script{name: name, source: source}, in, c); err != nil {
		return Result{}, err
	}
	return Result{Diagnostics: c.diags, Depends: c.depends}, nil
}

func (e *Engine) eval(ctx context.Context, s script, in Input, c *collector) error {
	globals := e.globals(in, c, s.name)

	opts := make([]risor.Option, 0, len(globals)+1)
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := e.importer(globals, s.local); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	if _, err := risor.Eval(ctx, s.source, opts...); err != nil {
		return fmt.Errorf("rules: script %s: %w", s.name, err)
	}
	return nil
}

// importer resolves Risor import statements from the directory the script
// came from.
func (e *Engine) importer(globals map[string]any, local bool) importer.Importer {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	if local {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: names,
			SourceDir:   e.dir,
			Extensions:  []string{".risor"},
		})
	}
	if e.fsys == nil {
		return nil
	}
	sub, err := fs.Sub(e.fsys, Dir)
	if err != nil {
		return nil
	}
	return importer.NewFSImporter(importer.FSImporterOptions{
		GlobalNames: names,
		SourceFS:    sub,
		Extensions:  []string{".risor"},
	})
}

func (e *Engine) globals(in Input, c *collector, rule string) map[string]any {
	globals := map[string]any{
		"path":       object.NewString(in.Path),
		"module":     object.NewString(in.Module),
		"depends":    stringList(in.Depends),
		"models":     stringList(in.Models),
		"parse_src":  makeParseSrcFn(e.sources),
		"node_text":  makeNodeTextFn(e.sources),
		"node_child": makeNodeChildFn(),
		"query":      makeQueryFn(e.sources),
		"report":     makeReportFn(c),
		"depends_on": makeDependsOnFn(c),
		"log":        mustProxy(&logObject{logger: e.logger.With("rule", rule, "path", in.Path)}),
	}
	if in.Tree != nil {
		globals["root"] = mustProxy(in.Tree.RootNode())
	} else {
		globals["root"] = object.Nil
	}
	return globals
}

func stringList(ss []string) *object.List {
	items := make([]object.Object, len(ss))
	for i, s := range ss {
		items[i] = object.NewString(s)
	}
	return object.NewList(items)
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("rules: proxy error: %v", err))
	}
	return p
}
