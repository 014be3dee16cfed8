// Package metrics exposes the Prometheus counters and histograms the rest
// of wassel records against. Everything here is observability-only: no
// metric recorded in this package feeds back into dispatch or error
// handling.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OutboundRequestsTotal is a counter for outbound HTTP bridge calls,
	// labeled by the plugin id and outcome ("ok", "error"). The bridge in
	// internal/pluginrt does not increment it, so it stays at zero.
	OutboundRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wassel_outbound_requests_total",
			Help: "Total number of outbound HTTP bridge calls made by plugins",
		},
		[]string{"plugin", "outcome"},
	)

	// PluginHandleDuration records wall time spent in a plugin instance's
	// handle call, from resource creation through the response outparam
	// resolving.
	PluginHandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wassel_plugin_handle_duration_seconds",
			Help:    "Time spent dispatching a request to a plugin instance",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin"},
	)

	// PluginHandleErrorsTotal counts handle() failures by the
	// PluginHandleError taxonomy's error kind.
	PluginHandleErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wassel_plugin_handle_errors_total",
			Help: "Total number of plugin handle() failures by error kind",
		},
		[]string{"plugin", "kind"},
	)

	// RouterMissesTotal counts requests that matched no plugin mount.
	RouterMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wassel_router_misses_total",
			Help: "Total number of requests that matched no registered plugin route",
		},
	)

	// PluginsLoaded is a gauge of successfully loaded plugin images in the
	// current stack.
	PluginsLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wassel_plugins_loaded",
			Help: "Number of plugin images currently loaded",
		},
	)

	// PluginLoadErrors is a gauge of plugins that failed to load (a
	// route-collision or image-load error) in the current stack.
	PluginLoadErrors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wassel_plugin_load_errors",
			Help: "Number of plugins that failed to load in the current stack",
		},
	)
)

// Handler returns the HTTP handler the admin listener mounts at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
