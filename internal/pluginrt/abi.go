package pluginrt

import (
	"context"
	"net/http"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Log levels a guest may pass to host_log.
const (
	LogLevelTrace = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

type stateCtxKey struct{}

func contextWithState(ctx context.Context, s *pluginState) context.Context {
	return context.WithValue(ctx, stateCtxKey{}, s)
}

func stateFromContext(ctx context.Context) *pluginState {
	if v := ctx.Value(stateCtxKey{}); v != nil {
		return v.(*pluginState)
	}
	return nil
}

// readGuestString reads a string out of guest linear memory.
func readGuestString(mod api.Module, ptr, length uint32) (string, bool) {
	if length == 0 {
		return "", true
	}
	data, ok := mod.Memory().Read(ptr, length)
	if !ok {
		return "", false
	}
	return string(data), true
}

// writeGuestMemory copies data into guest memory at ptr, failing if it
// doesn't fit in cap bytes. Returns the number of bytes written, or -1 on
// overflow/out-of-bounds.
func writeGuestMemory(mod api.Module, ptr, cap uint32, data []byte) int32 {
	if uint32(len(data)) > cap {
		return -1
	}
	if len(data) == 0 {
		return 0
	}
	if !mod.Memory().Write(ptr, data) {
		return -1
	}
	return int32(len(data))
}

// requestProperty keys accepted by host_get_property, mirroring the fields
// of wassel:foundation/http-handler.request-info.
const (
	propMethod = "method"
	propPath   = "path"
	propQuery  = "query"
	propHost   = "host"
	propScheme = "scheme"
)

// registerHostFunctions builds the "env" host module every plugin instance
// imports from, using wazero's NewHostModuleBuilder/NewFunctionBuilder
// pattern for wassel's single handle-request contract: a guest discovers
// its inbound request through host_get_property/host_get_header/
// host_get_body, and resolves the response outparam through
// host_response_set_* plus a terminal host_response_send/
// host_response_send_error.
func registerHostFunctions(rt wazero.Runtime) (wazero.CompiledModule, error) {
	env := rt.NewHostModuleBuilder("env")

	env.NewFunctionBuilder().
		WithFunc(hostLog).
		WithParameterNames("level", "msg_ptr", "msg_len").
		Export("host_log")

	env.NewFunctionBuilder().
		WithFunc(hostGetProperty).
		WithParameterNames("key_ptr", "key_len", "val_ptr", "val_cap").
		Export("host_get_property")

	env.NewFunctionBuilder().
		WithFunc(hostConfigGet).
		WithParameterNames("key_ptr", "key_len", "val_ptr", "val_cap").
		Export("host_config_get")

	env.NewFunctionBuilder().
		WithFunc(hostGetHeader).
		WithParameterNames("key_ptr", "key_len", "val_ptr", "val_cap").
		Export("host_get_header")

	env.NewFunctionBuilder().
		WithFunc(hostGetBody).
		WithParameterNames("buf_ptr", "buf_cap").
		Export("host_get_body")

	env.NewFunctionBuilder().
		WithFunc(hostResponseSetStatus).
		WithParameterNames("status").
		Export("host_response_set_status")

	env.NewFunctionBuilder().
		WithFunc(hostResponseSetHeader).
		WithParameterNames("key_ptr", "key_len", "val_ptr", "val_len").
		Export("host_response_set_header")

	env.NewFunctionBuilder().
		WithFunc(hostResponseSetBody).
		WithParameterNames("buf_ptr", "buf_len").
		Export("host_response_set_body")

	env.NewFunctionBuilder().
		WithFunc(hostResponseSend).
		WithParameterNames().
		Export("host_response_send")

	env.NewFunctionBuilder().
		WithFunc(hostResponseSendError).
		WithParameterNames("code").
		Export("host_response_send_error")

	env.NewFunctionBuilder().
		WithFunc(hostHTTPSend).
		WithParameterNames(
			"method_ptr", "method_len", "url_ptr", "url_len",
			"headers_ptr", "headers_len", "body_ptr", "body_len",
			"out_status_ptr",
		).
		Export("host_http_send")

	env.NewFunctionBuilder().
		WithFunc(hostHTTPReadResponse).
		WithParameterNames("buf_ptr", "buf_cap").
		Export("host_http_read_response")

	env.NewFunctionBuilder().
		WithFunc(hostReadFile).
		WithParameterNames("path_ptr", "path_len", "buf_ptr", "buf_cap").
		Export("host_read_file")

	env.NewFunctionBuilder().
		WithFunc(hostWriteFile).
		WithParameterNames("path_ptr", "path_len", "buf_ptr", "buf_len").
		Export("host_write_file")

	return env.Compile(context.Background())
}

// --- Host function implementations ---

func hostLog(ctx context.Context, mod api.Module, level, msgPtr, msgLen uint32) {
	s := stateFromContext(ctx)
	if s == nil {
		return
	}
	msg, ok := readGuestString(mod, msgPtr, msgLen)
	if !ok {
		return
	}
	w := s.stdout
	if level >= LogLevelWarn {
		w = s.stderr
	}
	w.Write([]byte(msg + "\n"))
}

func hostGetProperty(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valCap uint32) int32 {
	s := stateFromContext(ctx)
	if s == nil {
		return -1
	}
	key, ok := readGuestString(mod, keyPtr, keyLen)
	if !ok {
		return -1
	}
	var val string
	switch key {
	case propMethod:
		val = s.reqMethod
	case propPath:
		val = s.reqPath
	case propQuery:
		val = s.reqQuery
	case propHost:
		val = s.reqHost
	case propScheme:
		val = s.reqScheme
	default:
		return -1
	}
	if val == "" {
		return 0
	}
	return writeGuestMemory(mod, valPtr, valCap, []byte(val))
}

func hostConfigGet(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valCap uint32) int32 {
	s := stateFromContext(ctx)
	if s == nil {
		return -1
	}
	key, ok := readGuestString(mod, keyPtr, keyLen)
	if !ok {
		return -1
	}
	val, found := s.variables[key]
	if !found {
		return -1
	}
	if val == "" {
		return 0
	}
	return writeGuestMemory(mod, valPtr, valCap, []byte(val))
}

func hostGetHeader(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valCap uint32) int32 {
	s := stateFromContext(ctx)
	if s == nil {
		return -1
	}
	key, ok := readGuestString(mod, keyPtr, keyLen)
	if !ok {
		return -1
	}
	val := s.reqHeader.Get(key)
	if val == "" {
		return 0
	}
	return writeGuestMemory(mod, valPtr, valCap, []byte(val))
}

func hostGetBody(ctx context.Context, mod api.Module, bufPtr, bufCap uint32) int32 {
	s := stateFromContext(ctx)
	if s == nil {
		return -1
	}
	return writeGuestMemory(mod, bufPtr, bufCap, s.reqBody)
}

func hostResponseSetStatus(ctx context.Context, status uint32) {
	s := stateFromContext(ctx)
	if s == nil {
		return
	}
	s.respStatus = int(status)
}

func hostResponseSetHeader(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valLen uint32) {
	s := stateFromContext(ctx)
	if s == nil {
		return
	}
	key, ok := readGuestString(mod, keyPtr, keyLen)
	if !ok {
		return
	}
	val, ok := readGuestString(mod, valPtr, valLen)
	if !ok {
		return
	}
	s.respHeader.Add(key, val)
}

func hostResponseSetBody(ctx context.Context, mod api.Module, bufPtr, bufLen uint32) {
	s := stateFromContext(ctx)
	if s == nil {
		return
	}
	data, ok := mod.Memory().Read(bufPtr, bufLen)
	if !ok {
		return
	}
	s.respBody = append([]byte(nil), data...)
}

func hostResponseSend(ctx context.Context) {
	s := stateFromContext(ctx)
	if s == nil {
		return
	}
	if s.respStatus == 0 {
		s.respStatus = http.StatusOK
	}
	s.resolveOk(s.respStatus, s.respHeader, s.respBody)
}

func hostResponseSendError(ctx context.Context, code uint32) {
	s := stateFromContext(ctx)
	if s == nil {
		return
	}
	s.resolveErr(ErrorCode(code))
}

func hostHTTPSend(ctx context.Context, mod api.Module, methodPtr, methodLen, urlPtr, urlLen, headersPtr, headersLen, bodyPtr, bodyLen, outStatusPtr uint32) int32 {
	s := stateFromContext(ctx)
	if s == nil {
		return -1
	}
	method, ok := readGuestString(mod, methodPtr, methodLen)
	if !ok {
		return -1
	}
	url, ok := readGuestString(mod, urlPtr, urlLen)
	if !ok {
		return -1
	}
	headerBlob, ok := readGuestString(mod, headersPtr, headersLen)
	if !ok {
		return -1
	}
	var body []byte
	if bodyLen > 0 {
		b, ok := mod.Memory().Read(bodyPtr, bodyLen)
		if !ok {
			return -1
		}
		body = b
	}

	header := decodeHeaderBlob(headerBlob)
	code, err := s.sendOutbound(ctx, method, url, header, body)
	if err != nil {
		return -int32(ErrorCodeInternal)
	}
	if code != 0 {
		return -int32(code)
	}

	if !mod.Memory().WriteUint32Le(outStatusPtr, uint32(s.lastOutResp.status)) {
		return -int32(ErrorCodeInternal)
	}
	return int32(len(s.lastOutResp.body))
}

func hostHTTPReadResponse(ctx context.Context, mod api.Module, bufPtr, bufCap uint32) int32 {
	s := stateFromContext(ctx)
	if s == nil || s.lastOutResp == nil {
		return -1
	}
	return writeGuestMemory(mod, bufPtr, bufCap, s.lastOutResp.body)
}

func hostReadFile(ctx context.Context, mod api.Module, pathPtr, pathLen, bufPtr, bufCap uint32) int32 {
	s := stateFromContext(ctx)
	if s == nil {
		return -1
	}
	path, ok := readGuestString(mod, pathPtr, pathLen)
	if !ok {
		return -1
	}
	data, err := s.readDataFile(path)
	if err != nil {
		return -1
	}
	return writeGuestMemory(mod, bufPtr, bufCap, data)
}

func hostWriteFile(ctx context.Context, mod api.Module, pathPtr, pathLen, bufPtr, bufLen uint32) int32 {
	s := stateFromContext(ctx)
	if s == nil {
		return -1
	}
	path, ok := readGuestString(mod, pathPtr, pathLen)
	if !ok {
		return -1
	}
	data, ok := mod.Memory().Read(bufPtr, bufLen)
	if !ok {
		return -1
	}
	if err := s.writeDataFile(path, data); err != nil {
		return -1
	}
	return 0
}

// decodeHeaderBlob parses the "k1\nv1\nk2\nv2\n..." wire encoding a guest
// uses to pass headers across the ABI boundary, the simplest representation
// that needs no allocator callback from the host into the guest.
func decodeHeaderBlob(blob string) http.Header {
	h := make(http.Header)
	lines := splitLines(blob)
	for i := 0; i+1 < len(lines); i += 2 {
		if lines[i] == "" {
			continue
		}
		h.Add(lines[i], lines[i+1])
	}
	return h
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
