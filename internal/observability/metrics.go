// Package observability exposes Prometheus metrics for upstream calls.
package observability

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"aichat/internal/core"
	"aichat/internal/llmclient"
)

// PrometheusHooks records upstream request metrics.
type PrometheusHooks struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  *prometheus.GaugeVec
	fragments *prometheus.CounterVec
}

// NewPrometheusHooks registers the metrics with reg. A nil reg uses the
// default registerer.
func NewPrometheusHooks(reg prometheus.Registerer) *PrometheusHooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusHooks{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aichat_upstream_requests_total",
			Help: "Total number of chat completion requests sent to providers",
		}, []string{"provider", "model", "stream", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aichat_upstream_request_duration_seconds",
			Help:    "Time until the provider answered with response headers",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "model", "stream"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aichat_upstream_requests_in_flight",
			Help: "Number of provider requests waiting for response headers",
		}, []string{"provider"}),
		fragments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "aichat_stream_fragments_total",
			Help: "Total number of streamed fragments emitted to callers",
		}, []string{"provider", "model"}),
	}
}

// Hooks returns the llmclient hooks that feed the request metrics.
func (h *PrometheusHooks) Hooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestStart: h.onRequestStart,
		OnRequestEnd:   h.onRequestEnd,
	}
}

// RecordFragment counts one emitted stream fragment.
func (h *PrometheusHooks) RecordFragment(provider core.ProviderID, model string) {
	h.fragments.WithLabelValues(string(provider), model).Inc()
}

func (h *PrometheusHooks) onRequestStart(ctx context.Context, info llmclient.RequestInfo) context.Context {
	h.inFlight.WithLabelValues(string(info.Provider)).Inc()
	return ctx
}

func (h *PrometheusHooks) onRequestEnd(_ context.Context, info llmclient.ResponseInfo) {
	provider := string(info.Provider)
	stream := strconv.FormatBool(info.Stream)

	h.inFlight.WithLabelValues(provider).Dec()
	h.requests.WithLabelValues(provider, info.Model, stream, statusLabel(info)).Inc()
	h.duration.WithLabelValues(provider, info.Model, stream).Observe(info.Duration.Seconds())
}

// statusLabel is the HTTP status, or "error" when no response arrived.
func statusLabel(info llmclient.ResponseInfo) string {
	if info.StatusCode > 0 {
		return strconv.Itoa(info.StatusCode)
	}
	if info.Err != nil {
		return "error"
	}
	return "unknown"
}
