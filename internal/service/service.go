// Package service adapts the stack's dispatcher to a plain net/http server:
// the HTTP Service Layer of spec.md §4.7. It maps a dispatch outcome to a
// status code and body, and layers request-id assignment, tracing, and
// response compression negotiation around the core 404/500/200 rules
// (SPEC_FULL.md §4.7 ADDED notes).
package service

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/n0emo/wassel/internal/logging"
	"github.com/n0emo/wassel/internal/metrics"
	"github.com/n0emo/wassel/internal/pluginrt"
	"github.com/n0emo/wassel/internal/stack"
	"github.com/n0emo/wassel/internal/tracing"
)

// RequestIDHeader is set on every response.
const RequestIDHeader = "X-Request-ID"

// Service is the main HTTP listener's handler: it resolves the request to a
// plugin, dispatches it, and writes the result.
type Service struct {
	stack      *stack.Stack
	tracer     *tracing.Tracer
	compressor *Compressor
}

// New builds a Service dispatching through st, tracing requests with t, and
// negotiating response compression with cmp.
func New(st *stack.Stack, t *tracing.Tracer, cmp *Compressor) *Service {
	return &Service{stack: st, tracer: t, compressor: cmp}
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	w.Header().Set(RequestIDHeader, reqID)

	ctx, span := s.tracer.StartRequestSpan(r.Context(), r)
	r = r.WithContext(ctx)

	inst, img, err := s.stack.Resolve(ctx, r)
	if err != nil {
		logging.Error("dispatcher error resolving plugin",
			zap.String("request_id", reqID), zap.String("path", r.URL.Path), zap.Error(err))
		tracing.EndRequestSpan(span, http.StatusInternalServerError)
		writeEmpty(w, http.StatusInternalServerError)
		return
	}
	if inst == nil {
		tracing.EndRequestSpan(span, http.StatusNotFound)
		writeEmpty(w, http.StatusNotFound)
		return
	}
	defer inst.Close(ctx)

	stripped := r.Clone(ctx)
	stripped.URL.Path = pluginrt.StripPrefix(img.MountPrefix, r.URL.Path)
	start := time.Now()
	resp, err := inst.Handle(ctx, stripped)
	metrics.PluginHandleDuration.WithLabelValues(img.ID).Observe(time.Since(start).Seconds())
	if err != nil {
		var phe *pluginrt.PluginHandleError
		kind := "unknown"
		if errors.As(err, &phe) {
			kind = phe.Kind.String()
		}
		logging.Error("plugin handle error",
			zap.String("request_id", reqID),
			zap.String("plugin", img.ID),
			zap.String("kind", kind),
			zap.Error(err))
		metrics.PluginHandleErrorsTotal.WithLabelValues(img.ID, kind).Inc()
		tracing.EndRequestSpan(span, http.StatusInternalServerError)
		writeEmpty(w, http.StatusInternalServerError)
		return
	}

	tracing.EndRequestSpan(span, resp.Status)
	s.writeResponse(w, r, resp)
}

func (s *Service) writeResponse(w http.ResponseWriter, r *http.Request, resp *pluginrt.Response) {
	header := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	if s.compressor == nil || !s.compressor.IsEnabled() {
		w.WriteHeader(resp.Status)
		w.Write(resp.Body)
		return
	}

	algo := s.compressor.NegotiateEncoding(r)
	ct := header.Get("Content-Type")
	if algo == "" || (ct != "" && !s.compressor.isCompressibleType(ct)) || len(resp.Body) < s.compressor.minSize {
		w.WriteHeader(resp.Status)
		w.Write(resp.Body)
		return
	}

	header.Del("Content-Length")
	header.Set("Content-Encoding", algo)
	header.Add("Vary", "Accept-Encoding")
	w.WriteHeader(resp.Status)

	enc := s.compressor.newEncodingWriter(w, algo)
	enc.Write(resp.Body)
	enc.Close()
	s.compressor.record(algo, len(resp.Body))
}

func writeEmpty(w http.ResponseWriter, status int) {
	w.WriteHeader(status)
}
