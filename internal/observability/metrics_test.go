package observability

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat/internal/core"
	"aichat/internal/llmclient"
)

func TestPrometheusHooks_Requests(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewPrometheusHooks(reg)
	hooks := h.Hooks()

	info := llmclient.RequestInfo{Provider: core.ProviderOpenAI, Model: "gpt-4", Stream: true}
	ctx := hooks.OnRequestStart(context.Background(), info)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.inFlight.WithLabelValues("OPENAI")))

	hooks.OnRequestEnd(ctx, llmclient.ResponseInfo{RequestInfo: info, StatusCode: 200, Duration: 150 * time.Millisecond})

	assert.Equal(t, 0.0, testutil.ToFloat64(h.inFlight.WithLabelValues("OPENAI")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.requests.WithLabelValues("OPENAI", "gpt-4", "true", "200")))
	assert.Equal(t, 1, testutil.CollectAndCount(h.duration))
}

func TestPrometheusHooks_StatusLabels(t *testing.T) {
	tests := []struct {
		name string
		info llmclient.ResponseInfo
		want string
	}{
		{"http status", llmclient.ResponseInfo{StatusCode: 401, Err: errors.New("API Error")}, "401"},
		{"transport failure", llmclient.ResponseInfo{Err: errors.New("connection refused")}, "error"},
		{"nothing known", llmclient.ResponseInfo{}, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusLabel(tt.info))
		})
	}
}

func TestPrometheusHooks_Fragments(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewPrometheusHooks(reg)

	h.RecordFragment(core.ProviderDeepSeek, "deepseek-chat")
	h.RecordFragment(core.ProviderDeepSeek, "deepseek-chat")

	expected := `
# HELP aichat_stream_fragments_total Total number of streamed fragments emitted to callers
# TYPE aichat_stream_fragments_total counter
aichat_stream_fragments_total{model="deepseek-chat",provider="DEEPSEEK"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "aichat_stream_fragments_total"))
}

func TestNewPrometheusHooks_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusHooks(reg)
	assert.Panics(t, func() { NewPrometheusHooks(reg) })
}
