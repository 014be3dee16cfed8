// Package pluginrt hosts compiled plugin components and dispatches requests
// into per-request instances. It implements the plugin lifecycle described
// in spec.md §4.3/§4.4 on top of wazero, which runs core WebAssembly rather
// than the full component model: a plugin's wit-bindgen "handle-request"
// export and its resource-typed request/response params are collapsed into
// a small host-function ABI (see abi.go) that a guest module calls
// directly. See DESIGN.md for the full rationale.
package pluginrt

import "fmt"

// HandleErrorKind classifies why a plugin instance failed to produce a
// response, mirroring the original's PluginHandleError enum
// (original_source/crates/plugin-component/src/instance.rs).
type HandleErrorKind int

const (
	// ErrCreateResource means the host could not allocate the guest-visible
	// request/response state needed before invoking the plugin.
	ErrCreateResource HandleErrorKind = iota
	// ErrGuest means the instantiated module does not expose the
	// handle-request export, so there is nothing to call.
	ErrGuest
	// ErrCallingHandleMethod means invoking the handle-request export
	// returned an error from the runtime, including a guest trap.
	ErrCallingHandleMethod
	// ErrReceiveResponse means the guest returned without ever resolving the
	// response outparam (neither host_response_send nor
	// host_response_send_error was called).
	ErrReceiveResponse
	// ErrCode means the guest explicitly resolved the response outparam with
	// an error code (wassel:foundation/types.error-code).
	ErrCode
)

func (k HandleErrorKind) String() string {
	switch k {
	case ErrCreateResource:
		return "create-resource"
	case ErrGuest:
		return "guest"
	case ErrCallingHandleMethod:
		return "calling-handle-method"
	case ErrReceiveResponse:
		return "receive-response"
	case ErrCode:
		return "error-code"
	default:
		return "unknown"
	}
}

// ErrorCode mirrors wassel:foundation/types.error-code, the variant a guest
// can resolve the response outparam with instead of a status/body pair.
type ErrorCode int32

const (
	ErrorCodeInternal ErrorCode = iota + 1
	ErrorCodeHTTPRequestMethodInvalid
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeInternal:
		return "internal-error"
	case ErrorCodeHTTPRequestMethodInvalid:
		return "http-request-method-invalid"
	default:
		return fmt.Sprintf("error-code(%d)", int32(c))
	}
}

// PluginHandleError is the error type returned by PluginInstance.Handle. The
// HTTP service layer maps every variant to a 500 (spec.md §4.2).
type PluginHandleError struct {
	Kind HandleErrorKind
	Code ErrorCode
	Err  error
}

func (e *PluginHandleError) Error() string {
	switch e.Kind {
	case ErrCode:
		return fmt.Sprintf("pluginrt: plugin resolved error code %s", e.Code)
	case ErrReceiveResponse:
		return "pluginrt: guest returned without sending a response"
	default:
		if e.Err != nil {
			return fmt.Sprintf("pluginrt: %s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("pluginrt: %s", e.Kind)
	}
}

func (e *PluginHandleError) Unwrap() error { return e.Err }

func newHandleError(kind HandleErrorKind, err error) *PluginHandleError {
	return &PluginHandleError{Kind: kind, Err: err}
}

func newErrorCodeHandleError(code ErrorCode) *PluginHandleError {
	return &PluginHandleError{Kind: ErrCode, Code: code}
}
