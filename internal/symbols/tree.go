package symbols

import (
	"path/filepath"
	"slices"
	"strings"
)

// Tree is a dotted address: Path walks module-children, Content walks
// declarations inside the file reached by Path.
type Tree struct {
	Path    []string
	Content []string
}

// PathTree returns a tree addressing module-children only.
func PathTree(names ...string) Tree { return Tree{Path: names} }

// Flatten concatenates both halves.
func (t Tree) Flatten() []string {
	out := make([]string, 0, len(t.Path)+len(t.Content))
	out = append(out, t.Path...)
	return append(out, t.Content...)
}

// Equal reports whether both halves match.
func (t Tree) Equal(o Tree) bool {
	return slices.Equal(t.Path, o.Path) && slices.Equal(t.Content, o.Content)
}

// Empty reports whether t addresses nothing.
func (t Tree) Empty() bool { return len(t.Path) == 0 && len(t.Content) == 0 }

func (t Tree) String() string { return strings.Join(t.Flatten(), ".") }

// TreeFromPath splits a cleaned absolute path into its components, dropping
// a python extension on the last one.
func TreeFromPath(path string) []string {
	path = filepath.ToSlash(filepath.Clean(path))
	var out []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			out = append(out, part)
		}
	}
	if n := len(out); n > 0 {
		out[n-1] = strings.TrimSuffix(strings.TrimSuffix(out[n-1], ".pyi"), ".py")
		if out[n-1] == "__init__" {
			out = out[:n-1]
		}
	}
	return out
}

// HasPrefix reports whether prefix is a leading part of tree.
func HasPrefix(tree, prefix []string) bool {
	return len(prefix) <= len(tree) && slices.Equal(tree[:len(prefix)], prefix)
}

// PrefixMatch reports whether one of a or b is a prefix of the other.
func PrefixMatch(a, b []string) bool {
	n := min(len(a), len(b))
	return slices.Equal(a[:n], b[:n])
}
