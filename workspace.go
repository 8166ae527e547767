package trellis

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/jward/trellis/internal/files"
)

// skipDirs are never descended into when looking for python files.
var skipDirs = map[string]struct{}{
	"__pycache__":  {},
	"node_modules": {},
	"venv":         {},
	"egg-info":     {},
}

// skipper applies the .gitignore found at the root of each search path.
type skipper struct {
	roots []ignoreRoot
}

type ignoreRoot struct {
	dir string
	gi  *ignore.GitIgnore
}

func newSkipper(dirs []string) *skipper {
	k := &skipper{}
	for _, dir := range dirs {
		if gi := loadGitignore(dir); gi != nil {
			k.roots = append(k.roots, ignoreRoot{dir: dir, gi: gi})
		}
	}
	return k
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}

// Skip reports whether path is ignored by the .gitignore of a root that
// contains it.
func (k *skipper) Skip(path string) bool {
	for _, r := range k.roots {
		rel, err := filepath.Rel(r.dir, path)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		rel = filepath.ToSlash(rel)
		if r.gi.MatchesPath(rel) || r.gi.MatchesPath(rel+"/") {
			return true
		}
	}
	return false
}

func isPython(path string) bool {
	_, ok := files.LanguageForFile(path)
	return ok
}

// PythonFiles lists the python files under root, sorted, honouring the
// .gitignore at root and skipping hidden and cache directories.
func PythonFiles(root string) ([]string, error) {
	root = filepath.Clean(root)
	k := newSkipper([]string{root})
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path == root {
				return nil
			}
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, ".") || k.Skip(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 || !strings.HasSuffix(name, ".py") || k.Skip(path) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("trellis: walk %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

// IndexFiles loads paths and builds each one that no configured entry
// covers as a custom entry, then drains the queues once. Per-file failures
// do not stop the others; they are returned together.
func (s *Session) IndexFiles(ctx context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		path = filepath.Clean(path)
		if _, _, err := s.files.Update(path, nil, 0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if s.symbolAt(path) != nil {
			continue
		}
		if !s.entries.CreateNewCustomEntryForPath(s.env, path) {
			errs = append(errs, fmt.Errorf("%s: not an importable python file", path))
		}
	}
	s.processRebuilds(ctx)
	if len(errs) > 0 {
		return fmt.Errorf("indexing had %d error(s): %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// IndexDirectory indexes every python file under root.
func (s *Session) IndexDirectory(ctx context.Context, root string) error {
	paths, err := PythonFiles(root)
	if err != nil {
		return err
	}
	return s.IndexFiles(ctx, paths)
}
