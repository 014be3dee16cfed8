// Package admin implements wassel's second, unauthenticated-by-design HTTP
// listener: Prometheus metrics and a JSON stack snapshot. It never serves
// plugin traffic (SPEC_FULL.md §6 ADDED "Admin surface").
package admin

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/n0emo/wassel/internal/metrics"
	"github.com/n0emo/wassel/internal/stack"
)

// Handler builds the admin mux: /metrics (Prometheus exposition) and /stats
// (JSON stack.Snapshot).
func Handler(st *stack.Stack) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/stats", statsHandler(st))
	return mux
}

func statsHandler(st *stack.Stack) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		if err := enc.Encode(st.Snapshot()); err != nil {
			http.Error(w, `{"error":"encoding stats"}`, http.StatusInternalServerError)
		}
	}
}
