// Package router maps an incoming request path to the plugin mounted at
// its longest matching prefix: longest-prefix-wins semantics implemented
// with a bare path plus a `/*wasselrest` catch-all registered per mount
// (the root mount "/" is matched as a fallback instead of by a catch-all).
package router

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/julienschmidt/httprouter"
)

// standardMethods lists the HTTP methods registered per mount. A plugin's
// guest export decides which methods it actually accepts; the router only
// needs to get requests to the right plugin.
var standardMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions,
	http.MethodConnect, http.MethodTrace,
}

const catchAllParam = "wasselrest"

// PluginRouter resolves request paths to plugin ids using an httprouter
// radix tree, stripped to the one thing wassel needs: "which plugin owns
// this path".
type PluginRouter struct {
	mu   sync.RWMutex
	tree *httprouter.Router
}

// New creates an empty PluginRouter.
func New() *PluginRouter {
	tree := httprouter.New()
	tree.RedirectTrailingSlash = false
	tree.RedirectFixedPath = false
	tree.HandleMethodNotAllowed = false
	return &PluginRouter{tree: tree}
}

// Insert registers pluginID at mount, both as an exact match and as a
// catch-all for any subpath beneath it. Returns an error instead of
// panicking when mount collides with an already-registered route, so the
// stack loader can treat a collision as a non-fatal, countable error
// exactly as spec.md requires.
func (pr *PluginRouter) Insert(mount, pluginID string) (err error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	mount = normalizeMount(mount)
	handler := pluginHandler(pluginID)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("router: mount %q conflicts with an existing route: %v", mount, rec)
		}
	}()

	catchAll := mount + "/*" + catchAllParam

	for _, m := range standardMethods {
		pr.tree.Handler(m, mount, handler)
		// httprouter rejects "/*rest" next to "/" or any other route, so
		// the root mount registers only its bare route; Match falls back to it.
		if mount != "/" {
			pr.tree.Handler(m, catchAll, handler)
		}
	}
	return nil
}

// Match returns the plugin id mounted at the longest prefix matching the
// request path, and false if no plugin claims it. A path no other mount
// claims resolves to the root mount "/", if one is registered.
func (pr *PluginRouter) Match(r *http.Request) (string, bool) {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	cw := newCaptureWriter()
	pr.tree.ServeHTTP(cw, r)
	if cw.pluginID == "" && r.URL.Path != "/" {
		root := r.Clone(r.Context())
		root.URL.Path, root.URL.RawPath = "/", ""
		pr.tree.ServeHTTP(cw, root)
	}
	return cw.pluginID, cw.pluginID != ""
}

func pluginHandler(pluginID string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if cw, ok := w.(*captureWriter); ok {
			cw.pluginID = pluginID
		}
	})
}

func normalizeMount(mount string) string {
	if mount == "" {
		return "/"
	}
	if !strings.HasPrefix(mount, "/") {
		mount = "/" + mount
	}
	if len(mount) > 1 {
		mount = strings.TrimRight(mount, "/")
	}
	if mount == "" {
		mount = "/"
	}
	return mount
}

// captureWriter is a no-op http.ResponseWriter used solely to pull the
// matched plugin id out of an httprouter dispatch without writing a real
// HTTP response.
type captureWriter struct {
	header   http.Header
	pluginID string
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: make(http.Header)}
}

func (cw *captureWriter) Header() http.Header       { return cw.header }
func (cw *captureWriter) Write([]byte) (int, error) { return 0, nil }
func (cw *captureWriter) WriteHeader(int)           {}
