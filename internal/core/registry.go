package core

import (
	context "context"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/zinguo/internal/rpc"
)

const RegistryServiceName = "zinguo.registry.v1.Registry"

// PluginSummary is one row of ListPlugins.
type PluginSummary struct {
	PluginID    string
	DisplayName string
	Version     string
	Status      string
}

// PluginDescriptor is the full DescribePlugin answer.
type PluginDescriptor struct {
	PluginSummary
	Services      []string
	AgentsMD      string
	HealthMessage string
	Dashboards    []DashboardRef
}

type DashboardRef struct {
	Name string
	Path string
}

// RegistryService provides plugin discovery to clients.
type RegistryService struct {
	plugins []Plugin
	mu      sync.RWMutex
}

func NewRegistryService(plugins []Plugin) *RegistryService {
	return &RegistryService{plugins: plugins}
}

func (r *RegistryService) ListPlugins(ctx context.Context) []PluginSummary {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]PluginSummary, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, summarize(p, p.Health()))
	}
	return out
}

func (r *RegistryService) DescribePlugin(ctx context.Context, pluginID string) (PluginDescriptor, bool) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		manifest := p.Manifest()
		if manifest.PluginID != pluginID {
			continue
		}

		health := p.Health()
		descriptor := PluginDescriptor{
			PluginSummary: summarize(p, health),
			Services:      manifest.Services,
			AgentsMD:      p.AgentsMD(),
			HealthMessage: health.Message,
		}
		for _, d := range p.Dashboards() {
			descriptor.Dashboards = append(descriptor.Dashboards, DashboardRef{
				Name: d.Name,
				Path: dashboardPath(manifest.PluginID, d.Name),
			})
		}
		return descriptor, true
	}
	return PluginDescriptor{}, false
}

// Service exposes the registry over gRPC.
func (r *RegistryService) Service() rpc.Service {
	return rpc.Service{
		Package: "zinguo.registry.v1",
		Name:    "Registry",
		Methods: []rpc.Method{
			{Name: "ListPlugins", Handler: r.listPluginsRPC},
			{Name: "DescribePlugin", Handler: r.describePluginRPC},
		},
	}
}

func (r *RegistryService) listPluginsRPC(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	plugins := make([]any, 0)
	for _, p := range r.ListPlugins(ctx) {
		plugins = append(plugins, summaryFields(p))
	}
	return structpb.NewStruct(map[string]any{"plugins": plugins})
}

func (r *RegistryService) describePluginRPC(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["plugin_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "plugin_id is required")
	}
	d, ok := r.DescribePlugin(ctx, id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "plugin %q not found", id)
	}

	fields := summaryFields(d.PluginSummary)
	services := make([]any, 0, len(d.Services))
	for _, svc := range d.Services {
		services = append(services, svc)
	}
	dashboards := make([]any, 0, len(d.Dashboards))
	for _, dash := range d.Dashboards {
		dashboards = append(dashboards, map[string]any{"name": dash.Name, "path": dash.Path})
	}
	fields["services"] = services
	fields["dashboards"] = dashboards
	fields["agents_md"] = d.AgentsMD
	fields["health_message"] = d.HealthMessage
	return structpb.NewStruct(map[string]any{"plugin": fields})
}

func summarize(p Plugin, health Health) PluginSummary {
	manifest := p.Manifest()
	return PluginSummary{
		PluginID:    manifest.PluginID,
		DisplayName: manifest.DisplayName,
		Version:     manifest.Version,
		Status:      string(health.Status),
	}
}

func summaryFields(s PluginSummary) map[string]any {
	return map[string]any{
		"plugin_id":    s.PluginID,
		"display_name": s.DisplayName,
		"version":      s.Version,
		"status":       s.Status,
	}
}
