// Package stack loads a directory of plugins into a routable, dispatchable
// unit: the Stack Loader of spec.md §4.5. It enumerates `<base>/plugins/*/`
// directly at load time (wassel.toml's `[stack]` table is consumed only by
// the build-time CLI — see original_source/crates/plugin-stack/src/config.rs),
// compiles each plugin's component, and wires it into a router.
package stack

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/n0emo/wassel/internal/logging"
	"github.com/n0emo/wassel/internal/manifest"
	"github.com/n0emo/wassel/internal/metrics"
	"github.com/n0emo/wassel/internal/pluginrt"
	"github.com/n0emo/wassel/internal/router"
	"go.uber.org/zap"
)

// Stats summarizes a load, mirroring the original's "Loaded N plugins with M
// errors" log line (spec.md §7's admin stats surface).
type Stats struct {
	Loaded int
	Errors int
}

// PluginStat is one loaded plugin's admin-surface identity, the per-plugin
// detail SPEC_FULL.md §3's "Admin introspection model" adds to the
// aggregate load outcome spec.md §4.5 step 5 already reports.
type PluginStat struct {
	ID            string `json:"id"`
	Endpoint      string `json:"endpoint"`
	Version       string `json:"version"`
	ComponentHash string `json:"component_hash"`
}

// Snapshot is the read-only view the admin listener's /stats endpoint
// serves.
type Snapshot struct {
	Successes int          `json:"successes"`
	Errors    int          `json:"errors"`
	Plugins   []PluginStat `json:"plugins"`
}

// Stack is an immutable, loaded set of plugins and the router dispatching
// requests to them. It is rebuilt wholesale on restart; wassel has no
// hot-reload (spec.md Non-goals).
type Stack struct {
	engine *pluginrt.Engine
	router *router.PluginRouter
	images map[string]*pluginrt.PluginImage
	Stats  Stats
}

// Load reads baseDir's plugins/*/ directory (it does not read wassel.toml),
// compiling every plugin it finds. A plugin that fails to compile, or whose
// mount collides with an already-registered one, is skipped and counted as
// an error. The load itself fails on a duplicate plugin id
// (original_source's StackConfig::load bails in exactly this case), on a
// plugin.toml that cannot be read or parsed, and on a plugins directory
// that exists but cannot be read.
func Load(ctx context.Context, baseDir string, engine *pluginrt.Engine) (*Stack, error) {
	logger := logging.Global()

	entries, err := os.ReadDir(filepath.Join(baseDir, "plugins"))
	if err != nil {
		if os.IsNotExist(err) {
			entries = nil
		} else {
			return nil, fmt.Errorf("stack: reading plugins directory: %w", err)
		}
	}

	s := &Stack{
		engine: engine,
		router: router.New(),
		images: make(map[string]*pluginrt.PluginImage),
	}

	seen := make(map[string]bool)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pluginDir := filepath.Join(baseDir, "plugins", entry.Name())

		meta, err := manifest.LoadPluginManifest(filepath.Join(pluginDir, "plugin.toml"))
		if err != nil {
			return nil, fmt.Errorf("stack: %w", err)
		}

		if seen[meta.ID] {
			return nil, fmt.Errorf("stack: multiple plugins with the same id %q", meta.ID)
		}
		seen[meta.ID] = true

		if err := s.loadOne(ctx, pluginDir, meta); err != nil {
			logger.Error("failed to load plugin", zap.String("id", meta.ID), zap.String("dir", pluginDir), zap.Error(err))
			s.Stats.Errors++
			metrics.PluginLoadErrors.Inc()
			continue
		}
		s.Stats.Loaded++
	}

	metrics.PluginsLoaded.Set(float64(s.Stats.Loaded))
	logger.Info("loaded plugins", zap.Int("successes", s.Stats.Loaded), zap.Int("errors", s.Stats.Errors))
	return s, nil
}

func (s *Stack) loadOne(ctx context.Context, pluginDir string, meta *manifest.PluginManifest) error {
	wasmPath := filepath.Join(pluginDir, "plugin.wasm")
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", wasmPath, err)
	}

	dataDir := filepath.Join(pluginDir, meta.DataFolder)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", dataDir, err)
	}

	img, err := s.engine.CompileImage(ctx, meta.ID, wasmBytes, meta, dataDir)
	if err != nil {
		return err
	}

	if err := s.router.Insert(img.MountPrefix, img.ID); err != nil {
		img.Close(ctx)
		return err
	}

	s.images[img.ID] = img
	return nil
}

// Resolve finds the plugin mounted at r's path and creates a fresh instance
// to handle it, per-request and un-pooled (spec.md §4.4). It returns a nil
// instance and a nil error when no plugin claims the path — the caller
// should answer 404.
func (s *Stack) Resolve(ctx context.Context, r *http.Request) (*pluginrt.PluginInstance, *pluginrt.PluginImage, error) {
	id, ok := s.router.Match(r)
	if !ok {
		metrics.RouterMissesTotal.Inc()
		return nil, nil, nil
	}
	img, ok := s.images[id]
	if !ok {
		return nil, nil, nil
	}
	inst, err := img.Instantiate(ctx)
	if err != nil {
		return nil, img, err
	}
	return inst, img, nil
}

// Close releases every compiled image's resources. The shared Engine is
// owned by the caller and outlives any one Stack (a future stack reload
// would build a new Stack against the same Engine).
func (s *Stack) Close(ctx context.Context) {
	for _, img := range s.images {
		img.Close(ctx)
	}
}

// Snapshot returns the admin listener's read-only view of this stack.
func (s *Stack) Snapshot() Snapshot {
	snap := Snapshot{
		Successes: s.Stats.Loaded,
		Errors:    s.Stats.Errors,
		Plugins:   make([]PluginStat, 0, len(s.images)),
	}
	for _, img := range s.images {
		snap.Plugins = append(snap.Plugins, PluginStat{
			ID:            img.ID,
			Endpoint:      img.MountPrefix,
			Version:       img.Meta.Version,
			ComponentHash: fmt.Sprintf("%016x", img.ContentHash),
		})
	}
	sort.Slice(snap.Plugins, func(i, j int) bool { return snap.Plugins[i].ID < snap.Plugins[j].ID })
	return snap
}
