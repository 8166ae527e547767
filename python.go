package trellis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// interpreterTimeout bounds the sys.path query.
const interpreterTimeout = 10 * time.Second

const sysPathScript = `import json, sys
print(json.dumps({"version": list(sys.version_info[:3]), "path": sys.path}))`

// interpreter is what the configured python reports about itself.
type interpreter struct {
	Version []int    `json:"version"`
	Path    []string `json:"path"`
}

func (i interpreter) version() string {
	parts := make([]string, len(i.Version))
	for n, v := range i.Version {
		parts[n] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

// queryInterpreter runs python and decodes its version and sys.path.
func queryInterpreter(ctx context.Context, python string) (interpreter, error) {
	ctx, cancel := context.WithTimeout(ctx, interpreterTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, python, "-c", sysPathScript).Output()
	if err != nil {
		return interpreter{}, fmt.Errorf("query %s: %w", python, err)
	}
	var info interpreter
	if err := json.Unmarshal(out, &info); err != nil {
		return interpreter{}, fmt.Errorf("decode %s output: %w", python, err)
	}
	return info, nil
}

// isSitePackages reports whether a sys.path entry holds third-party code.
func isSitePackages(dir string) bool {
	base := filepath.Base(dir)
	return base == "site-packages" || base == "dist-packages"
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// loadPython registers the builtin and public entries: the configured
// stdlib, the interpreter's sys.path, then the stub directories.
func (s *Session) loadPython(ctx context.Context) error {
	if s.cfg.Stdlib != "" {
		s.entries.AddEntryToBuiltins(s.env, s.cfg.Stdlib)
	}
	if s.cfg.Python != "" {
		info, err := queryInterpreter(ctx, s.cfg.Python)
		if err != nil {
			return err
		}
		s.logger.Info("trellis: python detected",
			"python", s.cfg.Python,
			"version", info.version())
		for _, dir := range info.Path {
			if dir == "" || !filepath.IsAbs(dir) || !isDir(dir) {
				continue
			}
			if isSitePackages(dir) {
				s.entries.AddEntryToPublic(s.env, dir)
			} else {
				s.entries.AddEntryToBuiltins(s.env, dir)
			}
		}
	}
	for _, dir := range s.cfg.StubPaths {
		if !isDir(dir) {
			s.logger.Warn("trellis: stub path is not a directory", "path", dir)
			continue
		}
		s.entries.AddEntryToPublic(s.env, dir)
	}
	return nil
}
