package pluginrt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"

	"github.com/n0emo/wassel/internal/manifest"
)

// handleRequestExport is the guest export every plugin component must
// provide. It stands in for wassel:foundation/http-handler.handle-request,
// the single entry point the component-model world exposes; see the package
// doc comment for why the ABI is call-with-no-args instead of
// resource-typed.
const handleRequestExport = "handle_request"

// defaultMaxMemoryPages caps a guest's linear memory at 16MiB.
const defaultMaxMemoryPages = 256

// Engine owns the shared wazero runtime and the compiled, pre-instantiated
// host module every plugin instance imports from. One Engine is created at
// process start and shared by every PluginImage, playing the role of the
// original's single wasmtime::Engine (original_source/crates/plugin-component/src/image.rs).
type Engine struct {
	runtime  wazero.Runtime
	envBuilt wazero.CompiledModule
}

// EngineConfig controls the shared wazero runtime's execution mode and
// memory ceiling.
type EngineConfig struct {
	Interpreter    bool
	MaxMemoryPages uint32
}

// NewEngine builds the shared runtime and instantiates the host module under
// the name "env" so every guest import resolves against it.
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	var rtCfg wazero.RuntimeConfig
	if cfg.Interpreter {
		rtCfg = wazero.NewRuntimeConfigInterpreter()
	} else {
		rtCfg = wazero.NewRuntimeConfigCompiler()
	}

	maxPages := cfg.MaxMemoryPages
	if maxPages == 0 {
		maxPages = defaultMaxMemoryPages
	}
	rtCfg = rtCfg.WithMemoryLimitPages(maxPages)

	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	envCompiled, err := registerHostFunctions(rt)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("pluginrt: registering host functions: %w", err)
	}
	if _, err := rt.InstantiateModule(ctx, envCompiled, wazero.NewModuleConfig().WithName("env")); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("pluginrt: instantiating host module: %w", err)
	}

	return &Engine{runtime: rt, envBuilt: envCompiled}, nil
}

// Close releases the runtime and every module compiled against it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// PluginImage is a compiled, verified guest component bound to a data
// directory and its manifest-declared configuration variables. It is the
// unit the stack loader keeps one of per plugin id, and Instantiate is
// called fresh for every dispatched request (spec.md §4.3/§4.4 — no pooling).
type PluginImage struct {
	ID          string
	Meta        *manifest.PluginManifest
	MountPrefix string
	ContentHash uint64
	engine      *Engine
	compiled    wazero.CompiledModule
	dataDir     string
	loadedAt    time.Time
}

// CompileImage compiles wasmBytes, verifies it exports handle_request, and
// computes its content hash for the admin `component_hash` observability
// field (spec.md §7).
func (e *Engine) CompileImage(ctx context.Context, id string, wasmBytes []byte, meta *manifest.PluginManifest, dataDir string) (*PluginImage, error) {
	mountPrefix, err := normalizePluginEndpoint(meta.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("pluginrt: plugin %q: %w", id, err)
	}

	compiled, err := e.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("pluginrt: plugin %q: compiling component: %w", id, err)
	}
	if !hasExport(compiled, handleRequestExport) {
		compiled.Close(ctx)
		return nil, fmt.Errorf("pluginrt: plugin %q: component does not export %q", id, handleRequestExport)
	}

	return &PluginImage{
		ID:          id,
		Meta:        meta,
		MountPrefix: mountPrefix,
		ContentHash: xxhash.Sum64(wasmBytes),
		engine:      e,
		compiled:    compiled,
		dataDir:     dataDir,
		loadedAt:    time.Now(),
	}, nil
}

// Close releases the compiled module. Safe to call once all instances
// derived from it have also been closed.
func (img *PluginImage) Close(ctx context.Context) error {
	return img.compiled.Close(ctx)
}

// Instantiate creates a fresh guest module instance bound to a new
// linear memory, the "asynchronously instantiate a fresh Store+Instance from
// the pre-instance" step of spec.md §4.4. Each call gets a unique module
// name since wazero's namespace rejects re-instantiating the same name
// twice concurrently.
func (img *PluginImage) Instantiate(ctx context.Context) (*PluginInstance, error) {
	name := img.ID + "-" + uuid.NewString()
	mod, err := img.engine.runtime.InstantiateModule(ctx, img.compiled, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return nil, newHandleError(ErrCreateResource, err)
	}
	return &PluginInstance{image: img, module: mod}, nil
}

// hasExport reports whether compiled exports a function named name.
func hasExport(compiled wazero.CompiledModule, name string) bool {
	for _, exp := range compiled.ExportedFunctions() {
		for _, n := range exp.ExportNames() {
			if n == name {
				return true
			}
		}
	}
	return false
}

// normalizePluginEndpoint validates and trims a plugin manifest's `endpoint`
// field. spec.md requires a load-time configuration error when it does not
// start with "/".
func normalizePluginEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		endpoint = "/"
	}
	if !strings.HasPrefix(endpoint, "/") {
		return "", fmt.Errorf("endpoint %q must start with \"/\"", endpoint)
	}
	if len(endpoint) > 1 {
		endpoint = strings.TrimRight(endpoint, "/")
	}
	if endpoint == "" {
		endpoint = "/"
	}
	return endpoint, nil
}
