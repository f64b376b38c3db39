package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/zinguo/internal/core"
)

type fakePlugin struct {
	health core.HealthStatus
}

func (f fakePlugin) ID() string { return "demo" }
func (f fakePlugin) Manifest() core.Manifest {
	return core.Manifest{PluginID: "demo", DisplayName: "Demo", Version: "0.1.0"}
}
func (f fakePlugin) AgentsMD() string                         { return "" }
func (f fakePlugin) Dashboards() []core.Dashboard             { return nil }
func (f fakePlugin) RegisterGRPC(grpc.ServiceRegistrar) error { return nil }
func (f fakePlugin) Collectors() []prometheus.Collector       { return nil }

func (f fakePlugin) Health() core.Health {
	return core.Health{Status: f.health, Message: "detail"}
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		health core.HealthStatus
		want   int
	}{
		{core.HealthHealthy, http.StatusOK},
		{core.HealthDegraded, http.StatusOK},
		{core.HealthError, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		ReadyHandler([]core.Plugin{fakePlugin{health: tt.health}})(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rec.Code != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.health, tt.want, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), string(tt.health)) {
			t.Fatalf("%s: body missing status: %s", tt.health, rec.Body.String())
		}
	}
}

func TestDashboardsHandler(t *testing.T) {
	handler := DashboardsHandler("/dashboards/", map[string][]byte{"/dashboards/demo/main.json": []byte(`{"title":"x"}`)})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/demo/main.json", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected response: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if rec.Body.String() != `{"title":"x"}` {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/dashboards/demo/main.json") {
		t.Fatalf("unexpected index: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/dashboards/demo/missing.json", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/dashboards/demo/main.json", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "zinguo_test_total", Help: "test"})
	registry.MustRegister(counter)
	counter.Inc()

	rec := httptest.NewRecorder()
	MetricsHandler(registry, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "zinguo_test_total 1") {
		t.Fatalf("unexpected metrics response: %d %s", rec.Code, rec.Body.String())
	}
}
