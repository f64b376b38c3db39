package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/zinguo/internal/config"
	"github.com/joshp123/zinguo/internal/core"
	"github.com/joshp123/zinguo/internal/history"
	"github.com/joshp123/zinguo/internal/logging"
	"github.com/joshp123/zinguo/internal/plugins"
	"github.com/joshp123/zinguo/internal/rate"
	"github.com/joshp123/zinguo/internal/router"
	"github.com/joshp123/zinguo/internal/server"
	"github.com/joshp123/zinguo/internal/tokenstore"
	"github.com/joshp123/zinguo/plugins/zinguo"
)

const shutdownTimeout = 15 * time.Second

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "check-config" {
		checkConfigMain(os.Args[2:])
		return
	}

	configPath := flag.String("config", envOrDefault("ZINGUO_CONFIG", config.DefaultPath), "Path to config.yaml")
	envFile := flag.String("env-file", envOrDefault("ZINGUO_ENV_FILE", config.DefaultEnvFile), "Optional dotenv file with ZINGUO_* overrides")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatalf("config: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Logging, version)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("zinguod exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	enabled := config.EnabledPlugins(cfg)
	compiled := plugins.Compiled(cfg, logger)
	if err := core.ValidateEnabledPlugins(compiled, enabled, false); err != nil {
		return err
	}
	active := core.FilterPlugins(compiled, enabled, false)
	if err := core.ValidatePlugins(active); err != nil {
		return fmt.Errorf("plugin validation: %w", err)
	}
	if len(active) == 0 {
		logger.Warn("no plugins enabled; serving core endpoints only")
	}

	if written, err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		logger.Warn("dashboard provisioning failed", "dir", cfg.Core.DashboardDir, "error", err)
	} else if written > 0 {
		logger.Info("dashboards provisioned", "dir", cfg.Core.DashboardDir, "written", written)
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GRPCAddr, logger)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	if err := router.RegisterPlugins(grpcServer.Server, active); err != nil {
		return err
	}

	metricsRegistry := core.MetricsRegistry(active, sharedCollectors()...)
	metricsRegistry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "zinguo_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version},
	}, func() float64 { return 1 }))

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/health", server.HealthHandler)
	httpMux.Handle("/ready", server.ReadyHandler(active))
	httpMux.Handle("/metrics", server.MetricsHandler(metricsRegistry, logger))
	httpMux.Handle(core.DashboardPrefix, server.DashboardsHandler(core.DashboardPrefix, core.DashboardsMap(active)))
	for _, p := range active {
		if registrant, ok := p.(core.HTTPRegistrant); ok {
			registrant.RegisterHTTP(httpMux)
		}
	}
	httpServer := server.NewHTTPServer(cfg.Core.HTTPAddr, httpMux)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runners []core.Runner
	for _, p := range active {
		runner, ok := p.(core.Runner)
		if !ok {
			continue
		}
		if err := runner.Start(ctx); err != nil {
			logger.Error("plugin start failed", "plugin", p.ID(), "error", err)
			continue
		}
		runners = append(runners, runner)
	}

	for _, p := range active {
		for _, svc := range p.Manifest().Services {
			grpcServer.SetServing(svc, true)
		}
	}
	grpcServer.SetServing("", true)

	errCh := make(chan error, 2)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	logger.Info("zinguod started",
		"grpc_addr", cfg.Core.GRPCAddr,
		"http_addr", cfg.Core.HTTPAddr,
		"plugins", len(active),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case serveErr = <-errCh:
		logger.Error("server failed; shutting down", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	for _, runner := range runners {
		if err := runner.Close(shutdownCtx); err != nil {
			logger.Warn("plugin close", "error", err)
		}
	}
	return serveErr
}

func sharedCollectors() []prometheus.Collector {
	var out []prometheus.Collector
	out = append(out, rate.MetricsCollectors()...)
	out = append(out, tokenstore.MetricsCollectors()...)
	out = append(out, history.MetricsCollectors()...)
	out = append(out, zinguo.MetricsCollectors()...)
	return out
}

func checkConfigMain(args []string) {
	flags := flag.NewFlagSet("check-config", flag.ExitOnError)
	configPath := flags.String("config", envOrDefault("ZINGUO_CONFIG", config.DefaultPath), "Path to config.yaml")
	envFile := flags.String("env-file", envOrDefault("ZINGUO_ENV_FILE", config.DefaultEnvFile), "Optional dotenv file with ZINGUO_* overrides")
	_ = flags.Parse(args)

	if err := checkConfig(os.Stdout, *configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "invalid: %v\n", err)
		os.Exit(1)
	}
}

// checkConfig loads and validates the config the daemon would start with and
// lists which compiled plugins it enables.
func checkConfig(w io.Writer, configPath, envFile string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if z := cfg.Zinguo; z != nil {
		if _, err := zinguo.ConfigFromFile(z); err != nil {
			return err
		}
	}
	enabled := config.EnabledPlugins(cfg)
	for _, id := range plugins.Names() {
		state := "disabled"
		if enabled[id] {
			state = "enabled"
		}
		fmt.Fprintf(w, "plugin %s %s\n", id, state)
	}
	fmt.Fprintln(w, "ok")
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
