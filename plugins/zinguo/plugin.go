package zinguo

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	"github.com/joshp123/zinguo/internal/audit"
	"github.com/joshp123/zinguo/internal/config"
	"github.com/joshp123/zinguo/internal/core"
	"github.com/joshp123/zinguo/internal/history"
	"github.com/joshp123/zinguo/internal/mqtt"
	"github.com/joshp123/zinguo/internal/rate"
	"github.com/joshp123/zinguo/internal/server"
	"github.com/joshp123/zinguo/internal/tokenstore"
)

//go:embed AGENTS.md
var agentsMD string

//go:embed dashboard.json
var dashboardJSON []byte

const (
	pluginID          = "zinguo"
	historyMeasure    = "zinguo_device"
	auditWriteTimeout = 5 * time.Second
)

// Plugin implements the zinguod plugin contract around one Coordinator.
type Plugin struct {
	cfg    *config.Config
	logger *slog.Logger

	coordinator *Coordinator
	commands    *audit.Log
	pruner      *audit.Pruner
	stream      *StatusStream

	sink               *history.Sink
	broker             *mqtt.Client
	bridge             *Bridge
	unsubscribeHistory func()

	initErr error
}

// NewPlugin builds the plugin from config. ok is false when the zinguo
// section is absent. Construction problems surface through Health.
func NewPlugin(cfg *config.Config, logger *slog.Logger) (*Plugin, bool) {
	if cfg == nil || cfg.Zinguo == nil {
		return nil, false
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Plugin{cfg: cfg, logger: logger}

	runtimeCfg, err := ConfigFromFile(cfg.Zinguo)
	if err != nil {
		p.initErr = err
		return p, true
	}

	httpClient, err := newHTTPClient(cfg.RateLimit, runtimeCfg.RequestTimeout)
	if err != nil {
		p.initErr = err
		return p, true
	}
	opts := []Option{
		WithLogger(logger),
		WithHTTPClient(httpClient),
	}

	store, err := tokenstore.FromConfig(cfg.TokenStore, runtimeCfg.MAC, logger)
	if err != nil {
		p.initErr = fmt.Errorf("token store: %w", err)
		return p, true
	}
	if store != nil {
		opts = append(opts, WithTokenStore(store))
	}

	if cfg.Audit.Enabled {
		commands, err := audit.Open(cfg.Audit.Path)
		if err != nil {
			p.initErr = fmt.Errorf("audit log: %w", err)
			return p, true
		}
		p.commands = commands
		opts = append(opts, WithCommandObserver(p.recordCommand))
	}

	coordinator, err := New(runtimeCfg, opts...)
	if err != nil {
		p.initErr = err
		return p, true
	}
	p.coordinator = coordinator
	p.stream = NewStatusStream(coordinator, logger)
	return p, true
}

func newHTTPClient(cfg config.RateLimitConfig, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	if cfg.Enabled == nil || !*cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return client, nil
	}
	budget := rate.Budget{
		Provider:  pluginID,
		PerMinute: cfg.RequestsPerMinute,
		Floor:     cfg.BudgetFloorPerMinute,
		Headers:   rate.DefaultHeaders(),
	}
	if err := budget.Validate(); err != nil {
		return nil, err
	}
	return rate.Client(budget, client), nil
}

func (p *Plugin) ID() string {
	return pluginID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    pluginID,
		DisplayName: "Zinguo",
		Version:     "0.1.0",
		Services:    []string{ServiceName},
	}
}

func (p *Plugin) AgentsMD() string {
	return agentsMD
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "zinguo-overview", JSON: dashboardJSON}}
}

func (p *Plugin) RegisterGRPC(server grpc.ServiceRegistrar) error {
	var commands CommandLog
	if p.commands != nil {
		commands = p.commands
	}
	return RegisterZinguoService(server, p.coordinator, commands)
}

// RegisterHTTP exposes /status with the cached snapshot and availability,
// and /status/stream as a websocket feed of the same view.
func (p *Plugin) RegisterHTTP(mux *http.ServeMux) {
	if p.stream != nil {
		mux.Handle("/status/stream", p.stream)
	}
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		if p.coordinator == nil {
			server.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"available": false,
				"error":     p.Health().Message,
			})
			return
		}
		server.WriteJSON(w, http.StatusOK, statusFields(p.coordinator))
	})
}

func (p *Plugin) Collectors() []prometheus.Collector {
	if p.coordinator == nil {
		return nil
	}
	return []prometheus.Collector{NewMetricsCollector(p.coordinator)}
}

// Health is ERROR when the coordinator could not be built or the cloud
// rejected the credentials, DEGRADED while polls fail or none has finished.
func (p *Plugin) Health() core.Health {
	if p.initErr != nil {
		return core.Health{Status: core.HealthError, Message: p.initErr.Error()}
	}
	if p.coordinator == nil {
		return core.Health{Status: core.HealthError, Message: "zinguo coordinator not configured"}
	}
	outcome := p.coordinator.Outcome()
	switch {
	case outcome.OK():
		return core.Health{
			Status:  core.HealthHealthy,
			Message: "last update " + outcome.CompletedAt.UTC().Format(time.RFC3339),
		}
	case outcome.Err == nil:
		return core.Health{Status: core.HealthDegraded, Message: "waiting for first poll"}
	case IsTerminal(outcome.Err):
		return core.Health{Status: core.HealthError, Message: Kind(outcome.Err).String() + ": " + outcome.Err.Error()}
	default:
		return core.Health{Status: core.HealthDegraded, Message: Kind(outcome.Err).String() + ": " + outcome.Err.Error()}
	}
}

// Coordinator exposes the underlying coordinator, nil if construction failed.
func (p *Plugin) Coordinator() *Coordinator {
	return p.coordinator
}

// Start connects the optional sinks and starts polling. Sink failures
// are logged; they never stop the device from being coordinated.
func (p *Plugin) Start(ctx context.Context) error {
	if p.coordinator == nil {
		return p.initErr
	}

	if p.cfg.InfluxDB.Enabled {
		sink, err := history.Connect(p.cfg.InfluxDB, p.logger)
		if err != nil {
			p.logger.Warn("history sink disabled", "error", err)
		} else {
			p.sink = sink
			p.unsubscribeHistory = p.coordinator.Subscribe(p.writeHistory)
		}
	}

	if p.cfg.MQTT.Enabled {
		topics := Topics{Prefix: p.cfg.MQTT.TopicPrefix, MAC: p.coordinator.Config().MAC}
		broker, err := mqtt.Connect(p.cfg.MQTT, topics.Will(), p.logger)
		if err != nil {
			p.logger.Warn("mqtt bridge disabled", "error", err)
		} else {
			p.broker = broker
			p.bridge = NewBridge(broker, p.coordinator, topics, p.logger)
			if err := p.bridge.Start(); err != nil {
				p.logger.Warn("mqtt bridge start failed", "error", err)
			}
		}
	}

	if p.commands != nil && p.cfg.Audit.Retention > 0 {
		pruner, err := audit.StartPruner(p.commands, p.cfg.Audit.Retention, p.cfg.Audit.PruneInterval, p.logger)
		if err != nil {
			p.logger.Warn("audit pruning disabled", "error", err)
		} else {
			p.pruner = pruner
		}
	}

	return p.coordinator.Start(ctx)
}

// Close stops the coordinator first so no new outcomes reach the sinks.
func (p *Plugin) Close(ctx context.Context) error {
	var errs []error
	if p.coordinator != nil {
		if err := p.coordinator.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("coordinator: %w", err))
		}
	}
	if p.stream != nil {
		p.stream.Close()
	}
	if p.bridge != nil {
		p.bridge.Close()
	}
	if p.broker != nil {
		if err := p.broker.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if p.unsubscribeHistory != nil {
		p.unsubscribeHistory()
	}
	if p.sink != nil {
		if err := p.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
	}
	if p.pruner != nil {
		if err := p.pruner.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("audit pruner: %w", err))
		}
	}
	if p.commands != nil {
		if err := p.commands.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (p *Plugin) writeHistory(outcome PollOutcome) {
	if !outcome.OK() {
		return
	}
	snap := outcome.Snapshot
	tags := map[string]string{"mac": snap.MAC, "name": snap.Name}
	if err := p.sink.Write(historyMeasure, tags, historyFields(*snap), snap.FetchedAt); err != nil {
		p.logger.Warn("history write failed", "error", err)
	}
}

func (p *Plugin) recordCommand(ctx context.Context, record CommandRecord) {
	ctx, cancel := context.WithTimeout(ctx, auditWriteTimeout)
	defer cancel()
	if err := p.commands.Record(ctx, commandEntry(record)); err != nil {
		p.logger.Warn("audit write failed", "error", err)
	}
}

func commandEntry(record CommandRecord) *audit.Entry {
	entry := &audit.Entry{
		MAC:        record.MAC,
		Fields:     record.Overlay,
		Result:     "success",
		Attempts:   record.Attempts,
		DurationMS: record.Duration.Milliseconds(),
		CreatedAt:  record.Started.UTC(),
	}
	if record.Err != nil {
		entry.Result = Kind(record.Err).String()
		entry.Error = record.Err.Error()
	}
	return entry
}
