package pluginrt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

var errMissingHandleRequest = errors.New("component does not export handle_request")

// Response is what a successfully handled request produces.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// PluginInstance is one guest module instance, created fresh for a single
// request and dropped once its response resolves (spec.md §4.4). It holds
// no state beyond the module it wraps and the image it was instantiated
// from; it does not strip the mount prefix itself.
type PluginInstance struct {
	image  *PluginImage
	module api.Module
}

// Close drops the instance's module, releasing its linear memory. Per
// spec.md there is no pooling: every instance is closed after its one
// request completes, regardless of outcome.
func (pi *PluginInstance) Close(ctx context.Context) error {
	return pi.module.Close(ctx)
}

// Handle invokes the guest's handle_request export against r, with r.URL.Path
// already stripped of the plugin's mount prefix by the caller (the HTTP
// service layer in internal/service — see spec.md §4.4 step 2). On success it
// returns the response the guest resolved the outparam with; on failure it
// returns a *PluginHandleError classifying why.
func (pi *PluginInstance) Handle(ctx context.Context, r *http.Request) (*Response, error) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, newHandleError(ErrCreateResource, err)
		}
		body = b
	}

	state := newPluginState(pi.image.dataDir, pi.image.Meta.Variables)
	state.reqMethod = r.Method
	state.reqPath = r.URL.Path
	state.reqQuery = r.URL.RawQuery
	state.reqHost = r.Host
	state.reqScheme = schemeFromRequest(r)
	state.reqHeader = r.Header.Clone()
	state.reqBody = body

	ctx = contextWithState(ctx, state)

	fn := pi.module.ExportedFunction(handleRequestExport)
	if fn == nil {
		return nil, newHandleError(ErrGuest, errMissingHandleRequest)
	}

	if _, err := fn.Call(ctx); err != nil {
		return nil, newHandleError(ErrCallingHandleMethod, err)
	}

	select {
	case <-state.sent:
	default:
		return nil, &PluginHandleError{Kind: ErrReceiveResponse}
	}

	switch state.outcome {
	case outcomeOk:
		return &Response{Status: state.respStatus, Header: state.respHeader, Body: state.respBody}, nil
	case outcomeErr:
		return nil, newErrorCodeHandleError(state.respErr)
	default:
		return nil, &PluginHandleError{Kind: ErrReceiveResponse}
	}
}

// StripPrefix removes the plugin's mount prefix from an incoming path,
// leaving a leading "/". It is applied by the HTTP service layer before a
// PluginInstance ever sees the request (spec.md invariant 3).
func StripPrefix(mountPrefix, path string) string {
	if mountPrefix == "" || mountPrefix == "/" {
		return path
	}
	rest := strings.TrimPrefix(path, mountPrefix)
	if rest == "" || rest == path {
		rest = "/"
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return rest
}

func schemeFromRequest(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	return "http"
}
