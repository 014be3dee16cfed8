package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/n0emo/wassel/internal/pluginrt"
	"github.com/n0emo/wassel/internal/stack"
)

func TestStatsHandlerReturnsSnapshot(t *testing.T) {
	base := t.TempDir()

	engine, err := pluginrt.NewEngine(context.Background(), pluginrt.EngineConfig{Interpreter: true})
	if err != nil {
		t.Fatalf("NewEngine error = %v", err)
	}
	defer engine.Close(context.Background())

	st, err := stack.Load(context.Background(), base, engine)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	defer st.Close(context.Background())

	h := Handler(st)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var snap stack.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal error = %v, body = %s", err, rec.Body.String())
	}
	if snap.Successes != 0 || snap.Errors != 0 {
		t.Errorf("snapshot = %+v, want zero-value stats for an empty stack", snap)
	}
}

func TestMetricsHandlerServesPrometheusExposition(t *testing.T) {
	base := t.TempDir()
	engine, err := pluginrt.NewEngine(context.Background(), pluginrt.EngineConfig{Interpreter: true})
	if err != nil {
		t.Fatalf("NewEngine error = %v", err)
	}
	defer engine.Close(context.Background())
	st, err := stack.Load(context.Background(), base, engine)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	defer st.Close(context.Background())

	h := Handler(st)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
