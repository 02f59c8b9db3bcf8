// Package server provides the HTTP entrypoint of the chat gateway.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"aichat/internal/core"
	"aichat/internal/graph"
)

// Route paths.
const (
	GraphQLPath       = "/graphql"
	GraphQLStreamPath = "/graphql/stream"
	HealthPath        = "/health"
)

// corsMaxAge is how long browsers may cache a preflight answer, in seconds.
const corsMaxAge = 86400

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	// Environment is reported by the health endpoint.
	Environment string
	// BodySizeLimit caps request bodies, e.g. "1M". Empty disables the limit.
	BodySizeLimit   string
	CORSOrigins     []string
	GraphiQLEnabled bool
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
	// MetricsGatherer is served at the metrics endpoint. Nil serves the
	// default registry.
	MetricsGatherer prometheus.Gatherer
}

// New creates a new HTTP server
func New(schema *graph.Schema, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	handler := NewHandler(schema, cfg.Environment, cfg.GraphiQLEnabled)

	// Global middleware stack (order matters)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:        uuid.NewString,
		RequestIDHandler: attachRequestID,
	}))
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(corsConfig(cfg.CORSOrigins)))
	if cfg.BodySizeLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodySizeLimit))
	}

	e.GET(HealthPath, handler.Health)
	if cfg.MetricsEnabled {
		metricsPath := "/metrics"
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean(cfg.MetricsEndpoint)
		}
		metricsHandler := promhttp.Handler()
		if cfg.MetricsGatherer != nil {
			metricsHandler = promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{})
		}
		e.GET(metricsPath, echo.WrapHandler(metricsHandler))
	}

	e.GET(GraphQLPath, handler.GraphQL)
	e.POST(GraphQLPath, handler.GraphQL)
	e.GET(GraphQLStreamPath, handler.GraphQLStream)
	e.POST(GraphQLStreamPath, handler.GraphQLStream)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

func corsConfig(origins []string) middleware.CORSConfig {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return middleware.CORSConfig{
		AllowOrigins:  origins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderContentType, echo.HeaderAuthorization},
		ExposeHeaders: []string{echo.HeaderXRequestID},
		MaxAge:        corsMaxAge,
	}
}

// attachRequestID makes the request id available to resolvers and the
// upstream client.
func attachRequestID(c echo.Context, id string) {
	req := c.Request()
	c.SetRequest(req.WithContext(core.WithRequestID(req.Context(), id)))
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func acceptsHTML(r *http.Request) bool {
	return strings.Contains(r.Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}
