package files

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// extToLanguage maps file extensions to canonical language names. Stubs
// parse with the python grammar.
var extToLanguage = map[string]string{
	".py":  "python",
	".pyi": "python",
}

var (
	langToGrammar map[string]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		langToGrammar = map[string]*sitter.Language{
			"python": python.GetLanguage(),
		}
	})
}

// LanguageForFile returns the canonical language name for a path based on
// its extension.
func LanguageForFile(path string) (string, bool) {
	lang, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// ParserForLanguage returns the tree-sitter grammar of a language.
func ParserForLanguage(lang string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[lang]
	return l, ok
}

// Python returns the python grammar.
func Python() *sitter.Language {
	l, _ := ParserForLanguage("python")
	return l
}
