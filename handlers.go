package trellis

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jward/trellis/internal/build"
	"github.com/jward/trellis/internal/config"
	"github.com/jward/trellis/internal/entrypoint"
	"github.com/jward/trellis/internal/python"
	"github.com/jward/trellis/internal/symbols"
	"github.com/jward/trellis/internal/watch"
)

// =============================================================================
// Path to symbol
// =============================================================================

// symbolAt returns the symbol standing for a disk path in the most
// specific entry that holds it, then in the custom entries whose directory
// holds it.
func (s *Session) symbolAt(path string) *symbols.Symbol {
	for _, e := range s.entries.EntriesFor(path) {
		if sym := entrySymbol(e, path); sym != nil {
			return sym
		}
	}
	for _, e := range s.entries.Customs() {
		if !e.CanImport(path) {
			continue
		}
		if sym := entrySymbol(e, path); sym != nil {
			return sym
		}
	}
	return nil
}

// symbolsAt returns every materialisation of path: one per entry that can
// import it, without repeats when entries share a root.
func (s *Session) symbolsAt(path string) []*symbols.Symbol {
	var out []*symbols.Symbol
	for _, e := range s.entries.IterAll() {
		if !e.CanImport(path) {
			continue
		}
		if sym := entrySymbol(e, path); sym != nil && !slices.Contains(out, sym) {
			out = append(out, sym)
		}
	}
	return out
}

func entrySymbol(e *entrypoint.Entry, path string) *symbols.Symbol {
	tree := e.TreeForEntry(path)
	return e.Root().GetOne(symbols.PathTree(tree...), symbols.EndOfFile)
}

// mainSymbol returns the symbol of path under the main entry or one of
// its addon paths.
func (s *Session) mainSymbol(path string) *symbols.Symbol {
	for _, e := range s.entries.IterMain() {
		if !e.IsValidFor(path) {
			continue
		}
		if sym := entrySymbol(e, path); sym != nil {
			return sym
		}
	}
	return nil
}

// GetSymbolOfOpenedFile returns the symbol of an opened file: from the main
// entry if it holds it, else from the custom entry rooted at path, which is
// created and built when missing.
func (s *Session) GetSymbolOfOpenedFile(ctx context.Context, path string) *Symbol {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.symbolOfOpenedFile(ctx, filepath.Clean(path), true)
}

func (s *Session) symbolOfOpenedFile(ctx context.Context, path string, create bool) *symbols.Symbol {
	if sym := s.mainSymbol(path); sym != nil {
		return sym
	}
	found := false
	for _, e := range s.entries.Customs() {
		if e.IsPublic() || e.Path != path {
			continue
		}
		found = true
		if sym := entrySymbol(e, path); sym != nil {
			return sym
		}
	}
	if found || !create {
		return nil
	}
	s.logger.Info("trellis: path not found, creating new entry", "path", path)
	if !s.entries.CreateNewCustomEntryForPath(s.env, path) {
		return nil
	}
	s.processRebuilds(ctx)
	return s.symbolOfOpenedFile(ctx, path, false)
}

// =============================================================================
// Editor events
// =============================================================================

func (s *Session) refreshOff() bool {
	return s.cfg.Refresh == config.RefreshOff || s.sched.State() == build.NotReady
}

// DidOpen records an editor buffer for path. A file no entry holds gets a
// custom entry of its own.
func (s *Session) DidOpen(ctx context.Context, path string, content []byte, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.didOpen(ctx, filepath.Clean(path), content, version)
}

func (s *Session) didOpen(ctx context.Context, path string, content []byte, version int) error {
	if !isPython(path) {
		return nil
	}
	s.logger.Info("trellis: file opened", "path", path, "version", version)
	_, updated, err := s.files.Open(path, content, version)
	if err != nil {
		return fmt.Errorf("trellis: open %s: %w", path, err)
	}
	if s.refreshOff() {
		return nil
	}
	if s.mainSymbol(path) != nil {
		if updated {
			s.updateFileIndex(ctx, path, false)
		}
		return nil
	}
	for _, e := range s.entries.Customs() {
		if e.Path == path {
			if updated {
				s.updateFileIndex(ctx, path, false)
			}
			return nil
		}
	}
	s.entries.CreateNewCustomEntryForPath(s.env, path)
	s.processRebuilds(ctx)
	return nil
}

// DidChange replaces the buffer of path. The file is rebuilt in adaptive
// mode only.
func (s *Session) DidChange(ctx context.Context, path string, content []byte, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = filepath.Clean(path)
	if !isPython(path) {
		return nil
	}
	_, updated, err := s.files.Update(path, content, version)
	if err != nil {
		return fmt.Errorf("trellis: change %s: %w", path, err)
	}
	if !updated || s.refreshOff() || s.cfg.Refresh != config.RefreshAdaptive {
		s.publish()
		return nil
	}
	s.updateFileIndex(ctx, path, false)
	return nil
}

// DidSave rebuilds path from disk in on-save mode, unless the saved
// content does not parse.
func (s *Session) DidSave(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = filepath.Clean(path)
	if !isPython(path) || s.cfg.Refresh != config.RefreshOnSave || s.sched.State() == build.NotReady {
		return nil
	}
	s.logger.Info("trellis: file saved", "path", path)
	f, _, err := s.files.Update(path, nil, 0)
	if err != nil {
		return fmt.Errorf("trellis: save %s: %w", path, err)
	}
	tree, err := s.files.Tree(ctx, f)
	if err != nil {
		return fmt.Errorf("trellis: save %s: %w", path, err)
	}
	if tree.RootNode().HasError() {
		s.logger.Debug("trellis: saved file has syntax errors, keeping previous build", "path", path)
		s.publish()
		return nil
	}
	s.updateFileIndex(ctx, path, false)
	return nil
}

// DidClose releases the buffer of path and drops the custom entry rooted
// at it.
func (s *Session) DidClose(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	path = filepath.Clean(path)
	s.logger.Info("trellis: file closed", "path", path)
	_, changed, err := s.files.Close(path)
	s.entries.RemoveEntriesWithPath(path)
	s.graphChanged = true
	if err != nil {
		return fmt.Errorf("trellis: close %s: %w", path, err)
	}
	if changed && !s.refreshOff() && s.mainSymbol(path) != nil {
		s.updateFileIndex(ctx, path, false)
	}
	return nil
}

// updateFileIndex rebuilds every symbol of path from ARCH. forceDelay sends
// the drain to the continuation when it runs.
func (s *Session) updateFileIndex(ctx context.Context, path string, forceDelay bool) {
	if !strings.HasSuffix(path, ".py") {
		return
	}
	syms := s.symbolsAt(path)
	if len(syms) == 0 {
		return
	}
	for _, sym := range syms {
		symbols.Invalidate(s.env, sym, symbols.StepArch)
		s.sched.AddToRebuildArch(sym)
	}
	if forceDelay && s.debouncer != nil {
		s.debouncer.Process()
		return
	}
	s.requestProcess(ctx)
}

// =============================================================================
// File system events
// =============================================================================

// unloadPath unloads the symbol of path from every entry that can import
// it.
func (s *Session) unloadPath(path string) {
	for _, sym := range s.symbolsAt(path) {
		symbols.Unload(s.env, sym)
	}
	s.graphChanged = true
}

// forgetPath drops the file contents at or below path.
func (s *Session) forgetPath(path string) {
	prefix := path + string(filepath.Separator)
	for _, p := range s.files.Paths() {
		if p == path || strings.HasPrefix(p, prefix) {
			s.files.Remove(p)
			s.graphChanged = true
		}
	}
}

// searchSymbolsToRebuild re-queues what path may now satisfy, and loads
// path as a module when it is a new directory of an addon path or the
// manifest of one.
func (s *Session) searchSymbolsToRebuild(ctx context.Context, path string) {
	s.entries.SearchSymbolsToRebuild(s.sched, path)
	dir := path
	if filepath.Base(path) == python.ManifestFile {
		dir = filepath.Dir(path)
	}
	if s.entries.IsAddonsDir(filepath.Dir(dir)) && isDir(dir) {
		if module := s.builder.LoadModule(ctx, dir); module != nil {
			s.logger.Info("trellis: module created", "module", module.Name())
		}
	}
}

// promotePackage unloads the namespace that a new __init__ file turns into
// a package, so the next import rebuilds it as one. Entry roots and addon
// directories stay namespaces.
func (s *Session) promotePackage(path string) {
	base := filepath.Base(path)
	if base != "__init__.py" && base != "__init__.pyi" {
		return
	}
	dir := filepath.Dir(path)
	sym := s.symbolAt(dir)
	if sym == nil || sym.Kind() != symbols.KindNamespace || s.entries.IsAddonsDir(dir) {
		return
	}
	for _, e := range s.entries.IterAll() {
		if e.Symbol() == sym {
			return
		}
	}
	s.logger.Debug("trellis: directory became a package", "path", dir)
	symbols.Unload(s.env, sym)
	s.graphChanged = true
}

// DidCreate takes newly created paths into account: blocked imports they
// satisfy are rebuilt and module directories are loaded. An opened file
// that no entry picked up gets a custom entry.
func (s *Session) DidCreate(ctx context.Context, paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.didCreate(ctx, paths)
}

func (s *Session) didCreate(ctx context.Context, paths []string) {
	if s.refreshOff() {
		return
	}
	for _, path := range paths {
		path = filepath.Clean(path)
		s.logger.Info("trellis: created", "path", path)
		s.promotePackage(path)
		s.searchSymbolsToRebuild(ctx, path)
		s.entries.CleanEntries()
	}
	s.processRebuilds(ctx)
	for _, path := range paths {
		path = filepath.Clean(path)
		if f := s.files.Get(path); f == nil || !f.Opened || s.symbolAt(path) != nil {
			continue
		}
		s.entries.CreateNewCustomEntryForPath(s.env, path)
		s.processRebuilds(ctx)
	}
}

// DidDelete unloads deleted paths; everything that depended on them is
// queued again and reports the missing names.
func (s *Session) DidDelete(ctx context.Context, paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.didDelete(ctx, paths)
}

func (s *Session) didDelete(ctx context.Context, paths []string) {
	if s.refreshOff() {
		return
	}
	for _, path := range paths {
		path = filepath.Clean(path)
		s.logger.Info("trellis: deleted", "path", path)
		s.unloadPath(path)
		s.forgetPath(path)
		s.entries.RemoveEntriesWithPath(path)
	}
	s.processRebuilds(ctx)
}

// DidRename is a delete of oldPath followed by a creation of newPath. An
// opened buffer follows the rename.
func (s *Session) DidRename(ctx context.Context, oldPath, newPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshOff() {
		return
	}
	oldPath, newPath = filepath.Clean(oldPath), filepath.Clean(newPath)
	s.logger.Info("trellis: renamed", "from", oldPath, "to", newPath)
	opened := false
	if f := s.files.Get(oldPath); f != nil && f.Opened {
		opened = true
		s.files.Rename(oldPath, newPath)
	}
	s.unloadPath(oldPath)
	if !opened {
		s.forgetPath(oldPath)
	}
	s.entries.RemoveEntriesWithPath(oldPath)
	s.processRebuilds(ctx)

	s.promotePackage(newPath)
	s.searchSymbolsToRebuild(ctx, newPath)
	s.processRebuilds(ctx)
	if opened && s.symbolAt(newPath) == nil {
		s.entries.CreateNewCustomEntryForPath(s.env, newPath)
		s.processRebuilds(ctx)
	}
}

// DidChangeWatchedFiles dispatches watcher events: creations first, then
// deletions, then content changes. Paths inside .git are ignored.
func (s *Session) DidChangeWatchedFiles(ctx context.Context, events []watch.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var created, deleted, changed []string
	for _, ev := range events {
		if strings.Contains(filepath.ToSlash(ev.Path), "/.git/") {
			continue
		}
		switch ev.Op {
		case watch.OpCreate:
			created = append(created, ev.Path)
		case watch.OpDelete, watch.OpRename:
			deleted = append(deleted, ev.Path)
		case watch.OpChange:
			changed = append(changed, ev.Path)
		}
	}
	if len(created) > 0 {
		s.didCreate(ctx, created)
	}
	if len(deleted) > 0 {
		s.didDelete(ctx, deleted)
	}
	if len(changed) > 0 {
		s.fileUpdate(ctx, changed)
	}
}

// fileUpdate reloads changed files from disk. Opened buffers win over the
// disk content.
func (s *Session) fileUpdate(ctx context.Context, paths []string) {
	if s.refreshOff() {
		return
	}
	for _, path := range paths {
		path = filepath.Clean(path)
		if !strings.HasSuffix(path, ".py") {
			continue
		}
		if f := s.files.Get(path); f != nil && f.Opened {
			continue
		}
		s.logger.Info("trellis: file update", "path", path)
		_, updated, err := s.files.Update(path, nil, 0)
		if err != nil {
			s.logger.Warn("trellis: file update", "path", path, "error", err)
			continue
		}
		if updated {
			s.updateFileIndex(ctx, path, true)
		}
	}
	s.publish()
}
