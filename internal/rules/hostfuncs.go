package rules

import (
	"context"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"
	sitterpython "github.com/smacker/go-tree-sitter/python"

	"github.com/jward/trellis/internal/diag"
	"github.com/jward/trellis/internal/symbols"
)

var (
	grammar     *sitter.Language
	grammarOnce sync.Once
)

func python() *sitter.Language {
	grammarOnce.Do(func() { grammar = sitterpython.GetLanguage() })
	return grammar
}

// sourceStore maps the root node of each tree handed to scripts to its
// source. node_text and query recover the source from any node by walking
// up Parent().
type sourceStore struct {
	mu      sync.RWMutex
	sources map[uintptr][]byte
	langs   map[uintptr]*sitter.Language
}

func newSourceStore() *sourceStore {
	return &sourceStore{
		sources: make(map[uintptr][]byte),
		langs:   make(map[uintptr]*sitter.Language),
	}
}

func (s *sourceStore) store(tree *sitter.Tree, src []byte, lang *sitter.Language) {
	key := uintptr(unsafe.Pointer(tree.RootNode()))
	s.mu.Lock()
	s.sources[key] = src
	s.langs[key] = lang
	s.mu.Unlock()
}

func (s *sourceStore) forget(tree *sitter.Tree) {
	key := uintptr(unsafe.Pointer(tree.RootNode()))
	s.mu.Lock()
	delete(s.sources, key)
	delete(s.langs, key)
	s.mu.Unlock()
}

func rootOf(node *sitter.Node) *sitter.Node {
	for node.Parent() != nil {
		node = node.Parent()
	}
	return node
}

func (s *sourceStore) sourceForNode(node *sitter.Node) ([]byte, bool) {
	key := uintptr(unsafe.Pointer(rootOf(node)))
	s.mu.RLock()
	src, ok := s.sources[key]
	s.mu.RUnlock()
	return src, ok
}

func (s *sourceStore) languageForNode(node *sitter.Node) (*sitter.Language, bool) {
	key := uintptr(unsafe.Pointer(rootOf(node)))
	s.mu.RLock()
	lang, ok := s.langs[key]
	s.mu.RUnlock()
	return lang, ok
}

func nodeArg(name string, arg object.Object) (*sitter.Node, *object.Error) {
	proxy, ok := arg.(*object.Proxy)
	if !ok {
		return nil, object.Errorf("%s: expected proxy (Node), got %s", name, arg.Type())
	}
	node, ok := proxy.Interface().(*sitter.Node)
	if !ok {
		return nil, object.Errorf("%s: expected *sitter.Node, got %T", name, proxy.Interface())
	}
	return node, nil
}

// makeParseSrcFn creates "parse_src", which parses python source. The
// tree lives until the end of the run.
//
// parse_src(source) → *sitter.Tree
func makeParseSrcFn(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("parse_src", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("parse_src", 1, len(args))
		}
		srcStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("parse_src: source must be a string, got %s", args[0].Type())
		}
		src := []byte(srcStr.Value())

		parser := sitter.NewParser()
		defer parser.Close()
		parser.SetLanguage(python())
		tree, err := parser.ParseCtx(ctx, nil, src)
		if err != nil {
			return object.Errorf("parse_src: tree-sitter parse failed: %v", err)
		}
		ss.store(tree, src, python())

		proxy, err := object.NewProxy(tree)
		if err != nil {
			return object.Errorf("parse_src: proxy error: %v", err)
		}
		return proxy
	})
}

// makeNodeTextFn creates "node_text".
//
// node_text(node) → string
func makeNodeTextFn(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("node_text", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_text", 1, len(args))
		}
		node, errObj := nodeArg("node_text", args[0])
		if errObj != nil {
			return errObj
		}
		src, found := ss.sourceForNode(node)
		if !found {
			return object.Errorf("node_text: no source found for node's tree")
		}
		return object.NewString(node.Content(src))
	})
}

// makeQueryFn creates "query". Each match maps capture names to nodes;
// #eq? and #match? predicates are honoured.
//
// query(pattern, node) → []map[string]Node
func makeQueryFn(ss *sourceStore) *object.Builtin {
	return object.NewBuiltin("query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("query", 2, len(args))
		}
		patternStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("query: pattern must be a string, got %s", args[0].Type())
		}
		node, errObj := nodeArg("query", args[1])
		if errObj != nil {
			return errObj
		}
		lang, found := ss.languageForNode(node)
		if !found {
			return object.Errorf("query: no language found for node's tree")
		}
		src, _ := ss.sourceForNode(node)

		q, err := sitter.NewQuery([]byte(patternStr.Value()), lang)
		if err != nil {
			return object.Errorf("query: invalid pattern: %v", err)
		}
		defer q.Close()

		cursor := sitter.NewQueryCursor()
		defer cursor.Close()
		cursor.Exec(q, node)

		results := []object.Object{}
		for {
			match, ok := cursor.NextMatch()
			if !ok {
				break
			}
			match = cursor.FilterPredicates(match, src)
			if len(match.Captures) == 0 {
				continue
			}
			captures := make(map[string]object.Object, len(match.Captures))
			for _, capture := range match.Captures {
				name := q.CaptureNameForId(capture.Index)
				p, err := object.NewProxy(capture.Node)
				if err != nil {
					return object.Errorf("query: proxy error for capture %q: %v", name, err)
				}
				captures[name] = p
			}
			results = append(results, object.NewMap(captures))
		}
		return object.NewList(results)
	})
}

// makeNodeChildFn creates "node_child", a ChildByFieldName that returns
// Risor nil instead of a proxied Go nil pointer.
//
// node_child(node, field) → Node or nil
func makeNodeChildFn() *object.Builtin {
	return object.NewBuiltin("node_child", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("node_child", 2, len(args))
		}
		node, errObj := nodeArg("node_child", args[0])
		if errObj != nil {
			return errObj
		}
		fieldStr, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("node_child: field must be a string, got %s", args[1].Type())
		}
		child := node.ChildByFieldName(fieldStr.Value())
		if child == nil {
			return object.Nil
		}
		p, err := object.NewProxy(child)
		if err != nil {
			return object.Errorf("node_child: proxy error: %v", err)
		}
		return p
	})
}

// collector gathers the output of one script run.
type collector struct {
	path    string
	rule    string
	diags   []diag.Diagnostic
	depends []string
}

// makeReportFn creates "report". The severity defaults to warning.
//
// report(node, message[, severity])
func makeReportFn(c *collector) *object.Builtin {
	return object.NewBuiltin("report", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 2 || len(args) > 3 {
			return object.NewArgsRangeError("report", 2, 3, len(args))
		}
		node, errObj := nodeArg("report", args[0])
		if errObj != nil {
			return errObj
		}
		msg, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("report: message must be a string, got %s", args[1].Type())
		}
		sev := diag.Warning
		if len(args) == 3 {
			s, ok := args[2].(*object.String)
			if !ok {
				return object.Errorf("report: severity must be a string, got %s", args[2].Type())
			}
			parsed, err := diag.ParseSeverity(s.Value())
			if err != nil || parsed == diag.Disabled {
				return object.Errorf("report: invalid severity %q", s.Value())
			}
			sev = parsed
		}
		start := node.StartPoint()
		c.diags = append(c.diags, diag.Diagnostic{
			Path:     c.path,
			Range:    symbols.Range{Start: node.StartByte(), End: node.EndByte()},
			Line:     start.Row,
			Column:   start.Column,
			Severity: sev,
			Code:     diag.CodeRule,
			Message:  msg.Value(),
			Source:   "rule:" + c.rule,
		})
		return object.Nil
	})
}

// makeDependsOnFn creates "depends_on": the file is revalidated when the
// named module or "model:<name>" changes.
//
// depends_on(target)
func makeDependsOnFn(c *collector) *object.Builtin {
	return object.NewBuiltin("depends_on", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("depends_on", 1, len(args))
		}
		target, ok := args[0].(*object.String)
		if !ok || target.Value() == "" {
			return object.Errorf("depends_on: target must be a non-empty string, got %s", args[0].Type())
		}
		c.depends = append(c.depends, target.Value())
		return object.Nil
	})
}

// logObject provides log.info/warn/error methods for Risor scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string)  { l.logger.Info(msg) }
func (l *logObject) Warn(msg string)  { l.logger.Warn(msg) }
func (l *logObject) Error(msg string) { l.logger.Error(msg) }
