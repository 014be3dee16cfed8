package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMatchExactAndSubpath(t *testing.T) {
	r := New()
	if err := r.Insert("/echo", "echo-plugin"); err != nil {
		t.Fatalf("Insert error: %v", err)
	}

	cases := []struct {
		path   string
		wantID string
		wantOK bool
	}{
		{"/echo", "echo-plugin", true},
		{"/echo/", "echo-plugin", true},
		{"/echo/sub/path", "echo-plugin", true},
		{"/other", "", false},
	}

	for _, c := range cases {
		req := httptest.NewRequest(http.MethodGet, c.path, nil)
		id, ok := r.Match(req)
		if ok != c.wantOK || id != c.wantID {
			t.Errorf("Match(%q) = (%q, %v), want (%q, %v)", c.path, id, ok, c.wantID, c.wantOK)
		}
	}
}

func TestMatchRootMount(t *testing.T) {
	r := New()
	if err := r.Insert("/", "root-plugin"); err != nil {
		t.Fatalf("Insert error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/anything/here", nil)
	id, ok := r.Match(req)
	if !ok || id != "root-plugin" {
		t.Errorf("Match(/anything/here) = (%q, %v), want (root-plugin, true)", id, ok)
	}
}

func TestLongestPrefixWins(t *testing.T) {
	r := New()
	if err := r.Insert("/", "root-plugin"); err != nil {
		t.Fatalf("Insert(/) error: %v", err)
	}
	if err := r.Insert("/api", "api-plugin"); err != nil {
		t.Fatalf("Insert(/api) error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/things", nil)
	id, ok := r.Match(req)
	if !ok || id != "api-plugin" {
		t.Errorf("Match(/api/v1/things) = (%q, %v), want (api-plugin, true)", id, ok)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/other", nil)
	id2, ok2 := r.Match(req2)
	if !ok2 || id2 != "root-plugin" {
		t.Errorf("Match(/other) = (%q, %v), want (root-plugin, true)", id2, ok2)
	}
}

func TestInsertCollisionIsNonFatal(t *testing.T) {
	r := New()
	if err := r.Insert("/api", "first-plugin"); err != nil {
		t.Fatalf("Insert error: %v", err)
	}

	err := r.Insert("/api", "second-plugin")
	if err == nil {
		t.Fatal("expected an error registering a mount that collides with an existing one")
	}
}

func TestMatchNoRoutes(t *testing.T) {
	r := New()
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	if id, ok := r.Match(req); ok {
		t.Errorf("Match() on empty router = (%q, true), want ok=false", id)
	}
}
