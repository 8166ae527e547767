package python

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/files"
	"github.com/jward/trellis/internal/symbols"
)

// ManifestFile is the name of the file describing an Odoo module.
const ManifestFile = "__manifest__.py"

// ReadManifest parses the manifest of the module in dir. It is used as
// the module registry's manifest reader.
func ReadManifest(dir string) (symbols.Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	src, err := os.ReadFile(path)
	if err != nil {
		return symbols.Manifest{}, fmt.Errorf("python: read manifest: %w", err)
	}
	m, err := ParseManifest(src)
	if err != nil {
		return symbols.Manifest{}, fmt.Errorf("python: manifest %s: %w", path, err)
	}
	return m, nil
}

// ParseManifest reads the dictionary literal of a manifest source.
func ParseManifest(src []byte) (symbols.Manifest, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(files.Python())
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return symbols.Manifest{}, fmt.Errorf("parse: %w", err)
	}
	dict := manifestDict(tree.RootNode())
	if dict == nil {
		return symbols.Manifest{}, errors.New("no dictionary literal")
	}
	m := symbols.Manifest{Installable: true}
	for _, pair := range namedChildren(dict) {
		if pair.Type() != "pair" {
			continue
		}
		key, ok := stringLiteral(pair.ChildByFieldName("key"), src)
		if !ok {
			continue
		}
		value, ok := literal(pair.ChildByFieldName("value"), src)
		if !ok {
			continue
		}
		switch key {
		case "name":
			m.Name, _ = value.Constant.(string)
		case "version":
			m.Version, _ = value.Constant.(string)
		case "depends":
			m.Depends = value.Strings()
		case "data":
			m.Data = value.Strings()
		case "installable":
			if b, ok := value.Constant.(bool); ok {
				m.Installable = b
			}
		case "auto_install":
			if b, ok := value.Constant.(bool); ok {
				m.AutoInstall = b
			} else {
				m.AutoInstall = len(value.Items) > 0
			}
		}
	}
	return m, nil
}

// manifestDict returns the top-level dictionary of a manifest module.
func manifestDict(root *sitter.Node) *sitter.Node {
	for _, stmt := range namedChildren(root) {
		if stmt.Type() != "expression_statement" {
			continue
		}
		for _, c := range namedChildren(stmt) {
			for c.Type() == "parenthesized_expression" && c.NamedChildCount() == 1 {
				c = c.NamedChild(0)
			}
			if c.Type() == "dictionary" {
				return c
			}
		}
	}
	return nil
}

// dependsEntries returns the string nodes of the depends list of a
// manifest, keyed by module name.
func dependsEntries(root *sitter.Node, src []byte) map[string]*sitter.Node {
	out := map[string]*sitter.Node{}
	dict := manifestDict(root)
	if dict == nil {
		return out
	}
	for _, pair := range namedChildren(dict) {
		if pair.Type() != "pair" {
			continue
		}
		if key, _ := stringLiteral(pair.ChildByFieldName("key"), src); key != "depends" {
			continue
		}
		for _, item := range namedChildren(pair.ChildByFieldName("value")) {
			if s, ok := stringLiteral(item, src); ok {
				out[s] = item
			}
		}
	}
	return out
}
