package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshp123/zinguo/internal/core"
)

// HealthHandler returns a simple OK for liveness checks.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadyHandler reports 503 while any plugin is in the error state.
func ReadyHandler(plugins []core.Plugin) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		type pluginHealth struct {
			Status  string `json:"status"`
			Message string `json:"message,omitempty"`
		}
		body := make(map[string]pluginHealth, len(plugins))
		code := http.StatusOK
		for _, p := range plugins {
			health := p.Health()
			if !health.Ready() {
				code = http.StatusServiceUnavailable
			}
			body[p.ID()] = pluginHealth{Status: string(health.Status), Message: health.Message}
		}
		WriteJSON(w, code, body)
	}
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// MetricsHandler serves registry in text or OpenMetrics format. Collection
// errors are logged and the remaining metrics are still served.
func MetricsHandler(registry *prometheus.Registry, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		ErrorHandling:     promhttp.ContinueOnError,
		Registry:          registry,
		EnableOpenMetrics: true,
	})
}

// DashboardsHandler serves embedded dashboards by path. The bare prefix
// returns the list of available paths.
func DashboardsHandler(prefix string, dashboards map[string][]byte) http.Handler {
	paths := make([]string, 0, len(dashboards))
	for path := range dashboards {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == prefix {
			WriteJSON(w, http.StatusOK, map[string][]string{"dashboards": paths})
			return
		}
		data, ok := dashboards[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}
