// Package config holds the session configuration and its YAML form.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/jward/trellis/internal/diag"
)

// RefreshMode selects when edits are rebuilt.
type RefreshMode int

const (
	RefreshOff RefreshMode = iota
	RefreshOnSave
	RefreshAdaptive
)

func (m RefreshMode) String() string {
	switch m {
	case RefreshOff:
		return "off"
	case RefreshOnSave:
		return "on_save"
	case RefreshAdaptive:
		return "adaptive"
	}
	return fmt.Sprintf("refresh(%d)", int(m))
}

// ParseRefreshMode parses the configuration spelling of a refresh mode.
func ParseRefreshMode(s string) (RefreshMode, error) {
	switch strings.TrimSpace(s) {
	case "off":
		return RefreshOff, nil
	case "on_save", "onSave":
		return RefreshOnSave, nil
	case "adaptive", "afterDelay":
		return RefreshAdaptive, nil
	}
	return RefreshOff, fmt.Errorf("config: unknown refresh mode %q", s)
}

func (m *RefreshMode) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := ParseRefreshMode(raw)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m RefreshMode) MarshalYAML() (any, error) { return m.String(), nil }

// MissingImports selects which unresolved imports are reported.
type MissingImports int

const (
	MissingImportsAll MissingImports = iota
	MissingImportsOdoo
	MissingImportsNone
)

func (m MissingImports) String() string {
	switch m {
	case MissingImportsAll:
		return "all"
	case MissingImportsOdoo:
		return "only_odoo"
	case MissingImportsNone:
		return "none"
	}
	return fmt.Sprintf("missing_imports(%d)", int(m))
}

// ParseMissingImports parses the configuration spelling of a mode.
func ParseMissingImports(s string) (MissingImports, error) {
	switch strings.TrimSpace(s) {
	case "all":
		return MissingImportsAll, nil
	case "only_odoo", "onlyOdoo":
		return MissingImportsOdoo, nil
	case "none":
		return MissingImportsNone, nil
	}
	return MissingImportsAll, fmt.Errorf("config: unknown missing imports mode %q", s)
}

func (m *MissingImports) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	v, err := ParseMissingImports(raw)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m MissingImports) MarshalYAML() (any, error) { return m.String(), nil }

// MaxRefreshDelay bounds the adaptive refresh window.
const MaxRefreshDelay = 15 * time.Second

// Config is the configuration of one session.
type Config struct {
	// OdooPath is the root of the Odoo source tree. Empty runs without a
	// main entry.
	OdooPath string `yaml:"odoo_path"`
	// Addons are addon search paths mounted under odoo.addons.
	Addons []string `yaml:"addons"`
	// Python is the interpreter queried for sys.path. Empty skips it.
	Python    string   `yaml:"python"`
	Stdlib    string   `yaml:"stdlib"`
	StubPaths []string `yaml:"stubs"`
	// Refresh selects when edits are rebuilt; RefreshDelay is the adaptive
	// window in milliseconds.
	Refresh        RefreshMode    `yaml:"refresh_mode"`
	RefreshDelay   int            `yaml:"auto_refresh_delay"`
	MissingImports MissingImports `yaml:"diag_missing_imports"`
	Diagnostics    diag.Overrides `yaml:"diagnostic_overrides"`
	// WatchExcludes are glob patterns matched against watched paths.
	WatchExcludes []string `yaml:"watch_excludes"`
	// RulesDir holds extra rule scripts run at VALIDATION.
	RulesDir string `yaml:"rules_dir"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Refresh:        RefreshAdaptive,
		RefreshDelay:   1000,
		MissingImports: MissingImportsAll,
		WatchExcludes:  []string{"**/.git/**", "**/__pycache__/**", "**/node_modules/**"},
	}
}

// Load reads the YAML file at path over the defaults. Unknown keys are an
// error; relative paths are resolved against the file's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: load: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) resolve(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.OdooPath = abs(c.OdooPath)
	c.Stdlib = abs(c.Stdlib)
	c.RulesDir = abs(c.RulesDir)
	for i := range c.Addons {
		c.Addons[i] = abs(c.Addons[i])
	}
	for i := range c.StubPaths {
		c.StubPaths[i] = abs(c.StubPaths[i])
	}
}

// Validate reports every problem of c at once.
func (c Config) Validate() error {
	var errs []error
	if c.RefreshDelay < 0 {
		errs = append(errs, fmt.Errorf("auto_refresh_delay must not be negative, got %d", c.RefreshDelay))
	}
	for _, dir := range c.Addons {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Errorf("addons path %s is not a directory", dir))
		}
	}
	if c.OdooPath != "" {
		if info, err := os.Stat(c.OdooPath); err != nil || !info.IsDir() {
			errs = append(errs, fmt.Errorf("odoo_path %s is not a directory", c.OdooPath))
		}
	}
	for _, pattern := range c.WatchExcludes {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errs = append(errs, fmt.Errorf("watch exclude %q: %w", pattern, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: validate: %w", err)
	}
	return nil
}

// Delay returns the adaptive refresh window, clamped to MaxRefreshDelay.
func (c Config) Delay() time.Duration {
	return min(time.Duration(c.RefreshDelay)*time.Millisecond, MaxRefreshDelay)
}
