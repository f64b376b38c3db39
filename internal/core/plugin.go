package core

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// HealthStatus is the coarse state reported by /ready and the registry.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "HEALTHY"
	HealthDegraded HealthStatus = "DEGRADED"
	HealthError    HealthStatus = "ERROR"
)

// Health pairs a status with a human-readable reason.
type Health struct {
	Status  HealthStatus
	Message string
}

// Ready reports whether the plugin should keep the daemon in rotation.
// Degraded plugins still serve cached state.
func (h Health) Ready() bool {
	return h.Status != HealthError
}

// Dashboard is an embedded Grafana dashboard.
type Dashboard struct {
	Name string
	JSON []byte
}

// Manifest is the registry metadata for a plugin.
type Manifest struct {
	PluginID    string
	DisplayName string
	Version     string
	Services    []string
}

// Plugin is what zinguod needs from every compiled-in integration.
type Plugin interface {
	ID() string
	Manifest() Manifest
	AgentsMD() string
	Dashboards() []Dashboard
	RegisterGRPC(grpc.ServiceRegistrar) error
	Collectors() []prometheus.Collector
	Health() Health
}

// HTTPRegistrant is implemented by plugins that add routes to the HTTP mux.
type HTTPRegistrant interface {
	RegisterHTTP(*http.ServeMux)
}

// Runner is implemented by plugins with background work. Start must not
// block; Close stops that work within ctx.
type Runner interface {
	Start(ctx context.Context) error
	Close(ctx context.Context) error
}
