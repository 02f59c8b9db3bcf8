package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aichat/config"
	"aichat/internal/usage"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), `"stream":true`) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, "data: {\"id\":\"s1\",\"choices\":[{\"delta\":{\"content\":\"He\"}}]}\n\n")
			_, _ = io.WriteString(w, "data: {\"id\":\"s1\",\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n")
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"chatcmpl-1","choices":[{"message":{"role":"assistant","content":"hi there"}}]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(upstreamURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:          "0",
			Environment:   "test",
			BodySizeLimit: "1M",
		},
		HTTP: config.HTTPConfig{
			Timeout:               config.Duration(5 * time.Second),
			ResponseHeaderTimeout: config.Duration(5 * time.Second),
		},
		Metrics: config.MetricsConfig{Enabled: true, Endpoint: "/metrics"},
		Providers: map[string]config.ProviderConfig{
			"OPENAI":   {EndpointURL: upstreamURL},
			"DEEPSEEK": {EndpointURL: upstreamURL},
		},
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), Config{AppConfig: cfg, Metrics: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const sendMessageQuery = `{"query":"mutation { sendMessage(input: {message: \"hello\", provider: OPENAI, apiKey: \"sk-test\"}) { id content provider model error } }"}`

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app config is required")
}

func TestNew_UnknownProviderOverride(t *testing.T) {
	cfg := testConfig("http://localhost:1")
	cfg.Providers["ANTHROPIC"] = config.ProviderConfig{EndpointURL: "http://localhost:2"}

	_, err := New(context.Background(), Config{AppConfig: cfg, Metrics: prometheus.NewRegistry()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to build provider registry")
}

func TestApp_SendMessageEndToEnd(t *testing.T) {
	upstream := newUpstream(t)
	a := newTestApp(t, testConfig(upstream.URL))

	rec := post(t, a.Handler(), "/graphql", sendMessageQuery)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Contains(t, body, `"id":"chatcmpl-1"`)
	assert.Contains(t, body, `"content":"hi there"`)
	assert.Contains(t, body, `"model":"gpt-3.5-turbo"`)
	assert.Contains(t, body, `"error":null`)
}

func TestApp_StreamEndToEnd(t *testing.T) {
	upstream := newUpstream(t)
	a := newTestApp(t, testConfig(upstream.URL))

	query := `{"query":"subscription { messageStream(input: {message: \"hello\", provider: DEEPSEEK, apiKey: \"sk-test\"}) { content } }"}`
	rec := post(t, a.Handler(), "/graphql/stream", query)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := rec.Body.String()
	assert.Contains(t, body, `"content":"He"`)
	assert.Contains(t, body, `"content":"llo"`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(body), "event: complete"), "got %q", body)
}

func TestApp_MetricsServedFromCustomRegistry(t *testing.T) {
	upstream := newUpstream(t)
	a := newTestApp(t, testConfig(upstream.URL))

	post(t, a.Handler(), "/graphql", sendMessageQuery)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `aichat_upstream_requests_total{model="gpt-3.5-turbo",provider="OPENAI",status="200",stream="false"} 1`)
}

func TestApp_UsageDisabledUsesNoopLogger(t *testing.T) {
	a := newTestApp(t, testConfig("http://localhost:1"))

	_, ok := a.UsageLogger().(*usage.NoopLogger)
	assert.True(t, ok)
	assert.NotNil(t, a.ChatService())
}

func TestApp_UsageEnabledWithSQLite(t *testing.T) {
	upstream := newUpstream(t)
	cfg := testConfig(upstream.URL)
	cfg.Usage = config.UsageConfig{
		Enabled:       true,
		BufferSize:    10,
		FlushInterval: config.Duration(time.Hour),
		RetentionDays: 0,
	}
	cfg.Storage = config.StorageConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteStorageConfig{Path: filepath.Join(t.TempDir(), "usage.db")},
	}
	a := newTestApp(t, cfg)

	_, isNoop := a.UsageLogger().(*usage.NoopLogger)
	assert.False(t, isNoop)

	rec := post(t, a.Handler(), "/graphql", sendMessageQuery)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = post(t, a.Handler(), "/graphql", `{"query":"{ usageSummary { totalRequests } }"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"usageSummary":{"totalRequests":`)
}

func TestApp_ShutdownIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), Config{AppConfig: testConfig("http://localhost:1"), Metrics: prometheus.NewRegistry()})
	require.NoError(t, err)

	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()))
}
