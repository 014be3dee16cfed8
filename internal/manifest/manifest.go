// Package manifest decodes wassel.toml and plugin.toml, the two on-disk
// manifest formats described in spec.md §3/§6, and performs the CLI-time-only
// `${VAR}` environment substitution described in §9 ("Environment
// substitution in manifests").
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// StackManifest is `wassel.toml`'s `[stack]` table. It is consumed only by
// the build-time CLI (spec.md §6): the runtime stack loader instead
// enumerates `<base>/plugins/*/` directly.
type StackManifest struct {
	Stack StackSection `toml:"stack"`
}

// StackSection lists the plugin source directories a `stack build`/`stack
// serve` invocation should build, in declaration order.
type StackSection struct {
	Plugins []string `toml:"plugins"`
}

// PluginManifest is `plugin.toml`. The same file serves both the CLI build
// step (id, component, build, data_folder) and, once deployed under
// plugins/<id>/, the runtime stack loader (id, name, version, description,
// variables, data_folder, endpoint) — TOML decoding ignores keys the
// consuming side doesn't recognize, exactly as the original's two separate
// Rust structs did over the same file.
type PluginManifest struct {
	ID          string            `toml:"id"`
	Component   string            `toml:"component"`
	Build       *BuildSection     `toml:"build"`
	DataFolder  string            `toml:"data_folder"`
	Name        string            `toml:"name"`
	Version     string            `toml:"version"`
	Description string            `toml:"description"`
	Variables   map[string]string `toml:"variables"`
	Endpoint    string            `toml:"endpoint"`
}

// BuildSection is `plugin.toml`'s optional `[build]` table.
type BuildSection struct {
	Cmd  string            `toml:"cmd"`
	Data map[string]string `toml:"data"`
}

const (
	defaultDataFolder = "data"
	defaultVersion    = "0.0.0"
	defaultEndpoint   = "/"
)

// LoadStackManifest reads `<dir>/wassel.toml`. A missing file is not an
// error: it returns the zero-value manifest, matching the original's "read
// wassel.toml if present (otherwise use empty defaults)" (spec.md §4.5 step 1).
func LoadStackManifest(dir string) (*StackManifest, error) {
	path := filepath.Join(dir, "wassel.toml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &StackManifest{}, nil
	}

	var m StackManifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("manifest: decoding %s: %w", path, err)
	}
	return &m, nil
}

// LoadPluginManifest reads and decodes a plugin.toml file at path, applying
// the field defaults spec.md §3 specifies.
func LoadPluginManifest(path string) (*PluginManifest, error) {
	var m PluginManifest
	if _, err := toml.DecodeFile(path, &m); err != nil {
		return nil, fmt.Errorf("manifest: decoding %s: %w", path, err)
	}

	if m.ID == "" {
		return nil, fmt.Errorf("manifest: %s: `id` is required", path)
	}
	if m.DataFolder == "" {
		m.DataFolder = defaultDataFolder
	}
	if m.Version == "" {
		m.Version = defaultVersion
	}
	if m.Endpoint == "" {
		m.Endpoint = defaultEndpoint
	}
	if m.Variables == nil {
		m.Variables = map[string]string{}
	}
	return &m, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Substitute expands `${NAME}` references in s against the process
// environment. It is only ever invoked by the CLI build pipeline
// (spec.md §9 forbids runtime expansion); an undefined variable expands to
// the empty string, matching a typical shell-style substitution.
func Substitute(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
