// Package buildpipeline implements the CLI build pipeline: spec.md §4.8,
// external to the plugin runtime's core but required for a complete
// `wassel plugin/stack build` binary. It shells out to a plugin's declared
// build command, verifies the resulting component exists, and deploys
// plugin.wasm/plugin.toml/data into the on-disk layout the Stack Loader
// reads (spec.md §6), grounded on
// original_source/crates/cli/src/common.rs's build_plugin_at /
// copy_plugin_to_plugins_folder / copy_all.
package buildpipeline

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/n0emo/wassel/internal/logging"
	"github.com/n0emo/wassel/internal/manifest"
)

// BuildInfo is the result of building one plugin directory: everything
// needed to deploy it into a stack's plugins/ layout.
type BuildInfo struct {
	Path       string
	ID         string
	Component  string
	DataFolder string
	Data       map[string]string
}

// BuildPluginAt reads dir/plugin.toml, runs its optional build command, and
// resolves/verifies the compiled component file, returning a BuildInfo ready
// for DeployPlugin.
func BuildPluginAt(dir string) (*BuildInfo, error) {
	metaPath := filepath.Join(dir, "plugin.toml")
	meta, err := manifest.LoadPluginManifest(metaPath)
	if err != nil {
		return nil, fmt.Errorf("buildpipeline: %w", err)
	}

	logging.Info("building plugin", zap.String("id", meta.ID), zap.String("dir", dir))

	if meta.Build != nil && meta.Build.Cmd != "" {
		cmd := manifest.Substitute(meta.Build.Cmd)
		logging.Info("running build command", zap.String("id", meta.ID), zap.String("cmd", cmd))

		c := exec.Command("sh", "-c", cmd)
		c.Dir = dir
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return nil, fmt.Errorf("buildpipeline: plugin %q: build command failed: %w", meta.ID, err)
		}
	} else {
		logging.Info("no build step declared; assuming component is prebuilt", zap.String("id", meta.ID))
	}

	component := manifest.Substitute(meta.Component)
	if !filepath.IsAbs(component) {
		component = filepath.Join(dir, component)
	}
	if _, err := os.Stat(component); err != nil {
		return nil, fmt.Errorf("buildpipeline: plugin %q: component not present after build (missing file %q)", meta.ID, component)
	}

	var data map[string]string
	if meta.Build != nil {
		data = meta.Build.Data
	}

	return &BuildInfo{
		Path:       dir,
		ID:         meta.ID,
		Component:  component,
		DataFolder: meta.DataFolder,
		Data:       data,
	}, nil
}

// DeployPlugin copies info's built artifacts into pluginsDir/<id>/, creating
// the data folder and expanding every build.data entry. Source keys may be
// doublestar glob patterns (SPEC_FULL.md §4.8 ADDED); a plain path with no
// glob metacharacters behaves as a single recursive copy, matching the
// original's copy_all.
func DeployPlugin(pluginsDir string, info *BuildInfo) error {
	pluginDir := filepath.Join(pluginsDir, info.ID)
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return fmt.Errorf("buildpipeline: creating plugin directory: %w", err)
	}

	if err := copyFile(info.Component, filepath.Join(pluginDir, "plugin.wasm")); err != nil {
		return fmt.Errorf("buildpipeline: copying plugin %q component: %w", info.ID, err)
	}
	if err := copyFile(filepath.Join(info.Path, "plugin.toml"), filepath.Join(pluginDir, "plugin.toml")); err != nil {
		return fmt.Errorf("buildpipeline: copying plugin %q metadata: %w", info.ID, err)
	}

	dataFolder := filepath.Join(pluginDir, info.DataFolder)
	if err := os.MkdirAll(dataFolder, 0o755); err != nil {
		return fmt.Errorf("buildpipeline: creating plugin data folder: %w", err)
	}

	for srcPattern, dest := range info.Data {
		if err := copyDataEntry(info.Path, srcPattern, dataFolder, dest); err != nil {
			return fmt.Errorf("buildpipeline: copying plugin %q data %q -> %q: %w", info.ID, srcPattern, dest, err)
		}
	}

	return nil
}

// copyDataEntry resolves srcPattern (a plain path or a doublestar glob)
// relative to pluginPath and copies every match into destDir/dest.
func copyDataEntry(pluginPath, srcPattern, destDir, dest string) error {
	if !doublestar.ValidatePattern(srcPattern) || !hasGlobMeta(srcPattern) {
		return copyAll(filepath.Join(pluginPath, srcPattern), filepath.Join(destDir, dest))
	}

	matches, err := doublestar.Glob(os.DirFS(pluginPath), srcPattern)
	if err != nil {
		return fmt.Errorf("expanding glob %q: %w", srcPattern, err)
	}
	for _, m := range matches {
		if err := copyAll(filepath.Join(pluginPath, m), filepath.Join(destDir, dest, filepath.Base(m))); err != nil {
			return err
		}
	}
	return nil
}

func hasGlobMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// copyAll recursively copies from (a file or directory) to to, mirroring
// the original's copy_all.
func copyAll(from, to string) error {
	info, err := os.Stat(from)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(from, to)
	}

	if err := os.MkdirAll(to, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(from)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := copyAll(filepath.Join(from, e.Name()), filepath.Join(to, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(to)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}
