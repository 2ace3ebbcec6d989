// Package app wires C1 through C14 together into one running process: the
// outbound manager, the loading orchestrator, the capability aggregator,
// the preset manager, the notification fabric, the health/metrics surface,
// and the OAuth provider. cmd/1mcp's "serve" command is a thin cobra
// wrapper around New/Run.
package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/1mcp-ai/1mcp/internal/aggregator"
	"github.com/1mcp-ai/1mcp/internal/config"
	"github.com/1mcp-ai/1mcp/internal/health"
	"github.com/1mcp-ai/1mcp/internal/httpapi"
	"github.com/1mcp-ai/1mcp/internal/loading"
	"github.com/1mcp-ai/1mcp/internal/metrics"
	"github.com/1mcp-ai/1mcp/internal/oauthprovider"
	"github.com/1mcp-ai/1mcp/internal/outbound"
	"github.com/1mcp-ai/1mcp/internal/preset"
	"github.com/1mcp-ai/1mcp/internal/secureenv"
	"github.com/1mcp-ai/1mcp/internal/session"
	"github.com/1mcp-ai/1mcp/internal/tracing"
)

// App owns every long-lived component one process instance needs. Build it
// with New, then call Run to start the loading orchestrator, the config
// watcher, and the OAuth cleanup sweep.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Outbound     *outbound.Manager
	Aggregator   *aggregator.Aggregator
	Orchestrator *loading.Orchestrator
	Presets      *preset.Manager
	Fabric       *session.Fabric
	Registry     *session.Registry
	Router       *session.Router
	OAuth        *oauthprovider.Provider
	Health       *health.View
	Metrics      *metrics.Manager
	HTTP         *httpapi.Server
	Tracing      *tracing.Manager

	watcher *config.Watcher
	envMgr  *secureenv.Manager
}

// New constructs every component from cfg but does not start dialing or
// watching; call Run for that.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	oauthProvider, err := oauthprovider.New(cfg.DataDir, logger)
	if err != nil {
		return nil, err
	}
	for _, desc := range cfg.Servers {
		oauthProvider.RegisterServer(desc)
	}

	envMgr := secureenv.NewManager()
	mgr := outbound.NewManager(cfg.Load, envMgr, oauthProvider, logger)

	agg := aggregator.New(mgr, logger)
	registry := session.NewRegistry()
	presets, err := preset.Initialize(cfg.DataDir, mgr, logger)
	if err != nil {
		return nil, err
	}

	fabric := session.NewFabric(registry, presets, logger)

	tracingCfg := tracing.DefaultConfig()
	if cfg.Tracing != nil {
		tracingCfg = *cfg.Tracing
	}
	tracer, err := tracing.New(tracingCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build tracing manager: %w", err)
	}

	orchestrator := loading.New(mgr, agg, fabric, logger).WithTracer(tracer)
	router := session.NewRouter(agg, mgr, logger).WithTracer(tracer)

	healthView := health.New(mgr)
	metricsManager := metrics.New()
	httpServer := httpapi.NewServer(healthView, logger)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Outbound:     mgr,
		Aggregator:   agg,
		Orchestrator: orchestrator,
		Presets:      presets,
		Fabric:       fabric,
		Registry:     registry,
		Router:       router,
		OAuth:        oauthProvider,
		Health:       healthView,
		Metrics:      metricsManager,
		HTTP:         httpServer,
		Tracing:      tracer,
		envMgr:       envMgr,
	}, nil
}

// Run starts the loading orchestrator against the configured descriptors,
// a config-file watcher that re-dials on change, the OAuth cleanup sweep,
// and a metrics-sync loop, returning once ctx is canceled.
func (a *App) Run(ctx context.Context, configPath string) error {
	descriptors := sortedDescriptors(a.Config)
	a.Orchestrator.Start(ctx, descriptors)

	go a.OAuth.RunCleanupSweep(ctx)
	go a.syncMetrics(ctx)

	if configPath != "" {
		w, err := config.NewWatcher(configPath, a.Config, a.Logger)
		if err != nil {
			return fmt.Errorf("app: start config watcher: %w", err)
		}
		a.watcher = w
		go a.watchConfig(ctx)
	}

	<-ctx.Done()
	a.Shutdown()
	return nil
}

// Shutdown tears down every outbound connection, the config watcher, and
// flushes any pending trace spans.
func (a *App) Shutdown() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	a.Outbound.Shutdown()
	_ = a.Tracing.Close(context.Background())
}

func (a *App) watchConfig(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-a.watcher.Changes():
			if !ok {
				return
			}
			a.applyConfigChange(ctx, update)
		}
	}
}

// applyConfigChange reconciles an on-disk edit: added descriptors are
// dialed, removed ones closed, changed ones redialed. OAuth registrations
// are refreshed first so a newly-added oauth block is visible to the
// first dial attempt.
func (a *App) applyConfigChange(ctx context.Context, update config.Update) {
	a.Config = update.Config

	for _, name := range update.Diff.Removed {
		a.OAuth.Unregister(name)
	}
	for _, name := range append(update.Diff.Added, update.Diff.Changed...) {
		if desc, ok := update.Config.Servers[name]; ok {
			a.OAuth.RegisterServer(desc)
		}
	}

	a.Orchestrator.Start(ctx, sortedDescriptors(update.Config))
}

func (a *App) syncMetrics(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Metrics.SetFromSummary(a.Health.Summary())
			a.Metrics.SetActiveSessions(a.Registry.Count())
		}
	}
}

func sortedDescriptors(cfg *config.Config) []*config.OutboundServerDescriptor {
	descriptors := make([]*config.OutboundServerDescriptor, 0, len(cfg.Servers))
	for _, desc := range cfg.Servers {
		if desc.Disabled {
			continue
		}
		descriptors = append(descriptors, desc)
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	return descriptors
}
