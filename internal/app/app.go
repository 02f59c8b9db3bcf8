// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the chat gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"aichat/config"
	"aichat/internal/core"
	"aichat/internal/gateway"
	"aichat/internal/graph"
	"aichat/internal/httpclient"
	"aichat/internal/llmclient"
	"aichat/internal/observability"
	"aichat/internal/providers"
	"aichat/internal/server"
	"aichat/internal/usage"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config   *config.Config
	registry *providers.Registry
	gateway  *gateway.Gateway
	usage    *usage.Result
	server   *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the configuration produced by config.Load.
	AppConfig *config.Config

	// Metrics receives the upstream metrics and is served at the metrics
	// endpoint. Nil uses the default Prometheus registry.
	Metrics *prometheus.Registry

	// HTTPClient is used for upstream calls. Nil builds one from
	// AppConfig.HTTP.
	HTTPClient *http.Client
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig

	app := &App{
		config: appCfg,
	}

	usageResult, err := usage.New(ctx, appCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize usage tracking: %w", err)
	}
	app.usage = usageResult

	registry, err := providers.NewRegistry(providers.DefaultEntries(), endpointOverrides(appCfg.Providers))
	if err != nil {
		if closeErr := app.usage.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to build provider registry: %w (also: usage close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}
	app.registry = registry

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := httpclient.DefaultConfig().WithTimeouts(appCfg.HTTP.Timeout.Std(), appCfg.HTTP.ResponseHeaderTimeout.Std())
		httpClient = httpclient.NewHTTPClient(&clientCfg)
	}

	gatewayOpts := gateway.Options{Usage: usageResult.Logger}
	var hooks llmclient.Hooks
	// A nil *prometheus.Registry must not reach the interface fields below.
	var registerer prometheus.Registerer
	var gatherer prometheus.Gatherer
	if cfg.Metrics != nil {
		registerer = cfg.Metrics
		gatherer = cfg.Metrics
	}
	if appCfg.Metrics.Enabled {
		metrics := observability.NewPrometheusHooks(registerer)
		hooks = metrics.Hooks()
		gatewayOpts.OnFragment = metrics.RecordFragment
	}
	app.gateway = gateway.New(registry, llmclient.New(httpClient, hooks), gatewayOpts)

	app.logStartupInfo()

	schema := graph.NewSchema(graph.NewResolver(app.gateway, registry, usageResult.Reader))

	app.server = server.New(schema, &server.Config{
		Environment:     appCfg.Server.Environment,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
		CORSOrigins:     appCfg.Server.CORSOrigins,
		GraphiQLEnabled: appCfg.Server.GraphiQLEnabled,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		MetricsGatherer: gatherer,
	})

	return app, nil
}

func endpointOverrides(cfgs map[string]config.ProviderConfig) map[core.ProviderID]string {
	overrides := make(map[core.ProviderID]string, len(cfgs))
	for id, p := range cfgs {
		if p.EndpointURL != "" {
			overrides[core.ProviderID(id)] = p.EndpointURL
		}
	}
	return overrides
}

// ChatService returns the gateway behind the GraphQL resolvers.
func (a *App) ChatService() core.ChatService {
	if a.gateway == nil {
		return nil
	}
	return a.gateway
}

// UsageLogger returns the usage logger interface.
func (a *App) UsageLogger() usage.LoggerInterface {
	if a.usage == nil {
		return nil
	}
	return a.usage.Logger
}

// Handler returns the HTTP handler of the server, for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server first, honoring ctx, then the usage logger, which flushes
// pending entries and closes storage.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every step and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	// Stop accepting new requests before flushing usage.
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.usage != nil {
		if err := a.usage.Close(); err != nil {
			slog.Error("usage logger close error", "error", err)
			errs = append(errs, fmt.Errorf("usage close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	for _, id := range a.registry.IDs() {
		p, _ := a.registry.Resolve(id)
		slog.Info("provider configured", "provider", id, "endpoint", p.EndpointURL, "default_model", p.DefaultModel)
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	if cfg.Server.GraphiQLEnabled {
		slog.Info("graphiql enabled", "path", server.GraphQLPath)
	}

	if cfg.Usage.Enabled {
		slog.Info("usage tracking enabled",
			"storage", cfg.Storage.Type,
			"buffer_size", cfg.Usage.BufferSize,
			"flush_interval", cfg.Usage.FlushInterval.Std(),
			"retention_days", cfg.Usage.RetentionDays,
		)
	} else {
		slog.Info("usage tracking disabled")
	}
}
