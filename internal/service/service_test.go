package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/n0emo/wassel/internal/pluginrt"
	"github.com/n0emo/wassel/internal/serverconfig"
	"github.com/n0emo/wassel/internal/stack"
	"github.com/n0emo/wassel/internal/tracing"
)

// echoBodyWasm builds a guest module exporting handle_request that reads the
// whole request body and echoes it back with status 200, the minimal fixture
// needed to exercise the service layer's compression path with a body large
// enough to cross minSize. Binary-encoding helpers duplicated in miniature
// from internal/pluginrt's test helpers, as elsewhere in this module (wazero
// has no WAT parser).
func echoBodyWasm() []byte {
	var b bytes.Buffer
	b.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	types := [][]byte{
		{0x60, 2, 0x7f, 0x7f, 1, 0x7f}, // (i32,i32)->i32  host_get_body
		{0x60, 2, 0x7f, 0x7f, 0},       // (i32,i32)->()   host_response_set_body
		{0x60, 0, 0},                  // ()->()          host_response_send
	}
	b.Write(section(1, vector(types)))

	imports := [][]byte{
		importEntry("env", "host_get_body", 0),
		importEntry("env", "host_response_set_body", 1),
		importEntry("env", "host_response_send", 2),
	}
	b.Write(section(2, vector(imports)))
	b.Write(section(3, []byte{1, 2})) // 1 func, type 2 (handle_request: ()->())
	b.Write(section(5, []byte{1, 0x00, 16}))

	exports := [][]byte{
		exportEntry("memory", 0x02, 0),
		exportEntry("handle_request", 0x00, 3),
	}
	b.Write(section(7, vector(exports)))

	// local 0: i32 (body length)
	body := []byte{0x41, 0x80, 0x08, 0x41, 0x80, 0x80, 0x01, 0x10, 0x00, 0x21, 0x00} // i32.const 1024; i32.const 16384; call get_body; local.set 0
	body = append(body, 0x41, 0x80, 0x08, 0x20, 0x00, 0x10, 0x01)                    // i32.const 1024; local.get 0; call set_body
	body = append(body, 0x10, 0x02)                                                 // call send
	body = append(body, 0x0b)

	code := append([]byte{1, 1, 0x7f}, body...) // 1 local decl group: 1 local of type i32
	codeFramed := append(leb128(uint32(len(code))), code...)
	b.Write(section(10, vector([][]byte{codeFramed})))

	return b.Bytes()
}

func section(id byte, content []byte) []byte {
	return append([]byte{id}, append(leb128(uint32(len(content))), content...)...)
}

func vector(items [][]byte) []byte {
	out := leb128(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func importEntry(module, name string, typeIdx byte) []byte {
	out := leb128(uint32(len(module)))
	out = append(out, module...)
	out = append(out, leb128(uint32(len(name)))...)
	out = append(out, name...)
	out = append(out, 0x00, typeIdx)
	return out
}

func exportEntry(name string, kind, idx byte) []byte {
	out := leb128(uint32(len(name)))
	out = append(out, name...)
	out = append(out, kind, idx)
	return out
}

func leb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func writePlugin(t *testing.T, base, id, endpoint string, wasm []byte) {
	t.Helper()
	dir := filepath.Join(base, "plugins", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "plugin.wasm"), wasm, 0o644); err != nil {
		t.Fatal(err)
	}
	toml := "id = \"" + id + "\"\ncomponent = \"plugin.wasm\"\nendpoint = \"" + endpoint + "\"\n"
	if err := os.WriteFile(filepath.Join(dir, "plugin.toml"), []byte(toml), 0o644); err != nil {
		t.Fatal(err)
	}
}

func testTracer(t *testing.T) *tracing.Tracer {
	t.Helper()
	tr, err := tracing.New(serverconfig.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("tracing.New error = %v", err)
	}
	return tr
}

func TestServiceNoRouteIs404(t *testing.T) {
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

	svc := New(st, testTracer(t), NewCompressor(CompressionConfig{}))
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body = %q, want empty", rec.Body.String())
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}
}

func TestServiceEchoesBodyCompressed(t *testing.T) {
	base := t.TempDir()
	writePlugin(t, base, "echo", "/echo", echoBodyWasm())

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

	cmp := NewCompressor(CompressionConfig{Enabled: true, MinSize: 16})
	svc := New(st, testTracer(t), cmp)

	payload := bytes.Repeat([]byte("a"), 2048)
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewReader(payload))
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	svc.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", rec.Header().Get("Content-Encoding"))
	}

	gz, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader error = %v", err)
	}
	got, err := io.ReadAll(gz)
	if err != nil {
		t.Fatalf("reading gzip body error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("decompressed body mismatch, got %d bytes want %d", len(got), len(payload))
	}
}
