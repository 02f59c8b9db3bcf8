//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"aichat/config"
	"aichat/internal/app"
)

// TestServerConfig configures how the test server is set up.
type TestServerConfig struct {
	// DBType is either "postgresql" or "mongodb"
	DBType string

	// UsageEnabled enables usage tracking
	UsageEnabled bool

	// FlushInterval overrides how often usage entries are flushed.
	// Zero keeps entries buffered until FlushAndClose.
	FlushInterval time.Duration
}

// TestServerFixture holds test server resources.
type TestServerFixture struct {
	// ServerURL is the base URL of the test server
	ServerURL string

	// App is the running application
	App *app.App

	// MockLLM is the mock LLM server
	MockLLM *MockLLMServer

	// PgPool is the PostgreSQL connection pool (for DB assertions)
	PgPool *pgxpool.Pool

	// MongoDb is the MongoDB database (for DB assertions)
	MongoDb *mongo.Database

	// DBType is the configured database type
	DBType string

	cancelFunc context.CancelFunc
}

// SetupTestServer creates a test server with the specified configuration.
func SetupTestServer(t *testing.T, cfg TestServerConfig) *TestServerFixture {
	t.Helper()

	ctx, cancel := context.WithCancel(GetTestContext())

	mockLLM := NewMockLLMServer()

	port, err := findAvailablePort()
	require.NoError(t, err, "failed to find available port")

	appCfg := buildAppConfig(t, cfg, mockLLM.EndpointURL(), port)

	application, err := app.New(ctx, app.Config{
		AppConfig: appCfg,
		Metrics:   prometheus.NewRegistry(),
	})
	require.NoError(t, err, "failed to create app")

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	go func() {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		_ = application.Start(addr)
	}()

	err = waitForServer(serverURL + "/health")
	require.NoError(t, err, "server failed to become healthy")

	fixture := &TestServerFixture{
		ServerURL:  serverURL,
		App:        application,
		MockLLM:    mockLLM,
		DBType:     cfg.DBType,
		cancelFunc: cancel,
	}

	switch cfg.DBType {
	case "postgresql":
		fixture.PgPool = GetPostgreSQLPool()
	case "mongodb":
		fixture.MongoDb = GetMongoDatabase()
	}

	t.Cleanup(func() { fixture.Shutdown(t) })

	return fixture
}

// FlushAndClose flushes all pending usage entries and closes the app.
// CRITICAL: Call this before making any DB assertions.
func (f *TestServerFixture) FlushAndClose(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if f.App != nil {
		err := f.App.Shutdown(ctx)
		require.NoError(t, err, "failed to shutdown app")
	}
}

// Shutdown gracefully shuts down the test server.
func (f *TestServerFixture) Shutdown(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if f.App != nil {
		_ = f.App.Shutdown(ctx)
	}

	if f.MockLLM != nil {
		f.MockLLM.Close()
	}

	if f.cancelFunc != nil {
		f.cancelFunc()
	}
}

// buildAppConfig creates an application config for testing.
func buildAppConfig(t *testing.T, cfg TestServerConfig, endpointURL string, port int) *config.Config {
	t.Helper()

	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = time.Hour
	}

	appCfg := &config.Config{
		Server: config.ServerConfig{
			Port:          fmt.Sprintf("%d", port),
			Environment:   "integration",
			BodySizeLimit: "1M",
		},
		HTTP: config.HTTPConfig{
			Timeout:               config.Duration(10 * time.Second),
			ResponseHeaderTimeout: config.Duration(10 * time.Second),
		},
		Usage: config.UsageConfig{
			Enabled:       cfg.UsageEnabled,
			BufferSize:    100,
			FlushInterval: config.Duration(flushInterval),
			RetentionDays: 0,
		},
		Storage: config.StorageConfig{
			Type: cfg.DBType,
		},
		Providers: map[string]config.ProviderConfig{
			"OPENAI":   {EndpointURL: endpointURL},
			"DEEPSEEK": {EndpointURL: endpointURL},
		},
	}

	switch cfg.DBType {
	case "postgresql":
		appCfg.Storage.PostgreSQL = config.PostgreSQLStorageConfig{
			URL:      GetPostgreSQLURL(),
			MaxConns: 5,
		}
	case "mongodb":
		appCfg.Storage.MongoDB = config.MongoDBStorageConfig{
			URL:      GetMongoURL(),
			Database: testDatabase,
		}
	}

	return appCfg
}

// waitForServer polls the health endpoint until it responds with 200.
func waitForServer(healthURL string) error {
	client := &http.Client{Timeout: 1 * time.Second}
	for range 50 {
		resp, err := client.Get(healthURL)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server at %s did not become healthy", healthURL)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// MockLLMServer is a mock chat completions upstream.
type MockLLMServer struct {
	server *httptest.Server
}

// NewMockLLMServer creates a new mock LLM server. An apiKey of "bad-key"
// is rejected with 401.
func NewMockLLMServer() *MockLLMServer {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"error":{"message":"invalid api key"}}`)
			return
		}

		body, _ := io.ReadAll(r.Body)
		var req struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if req.Stream {
			handleChatCompletionStream(w)
			return
		}
		handleChatCompletion(w, req.Model)
	}))

	return &MockLLMServer{server: server}
}

// EndpointURL returns the chat completions URL of the mock.
func (m *MockLLMServer) EndpointURL() string {
	return m.server.URL + "/chat/completions"
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// mockContent is the answer of every non-streamed completion.
const mockContent = "Hello from the mock provider"

func handleChatCompletion(w http.ResponseWriter, model string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-integration",
		"object": "chat.completion",
		"model":  model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": mockContent},
			"finish_reason": "stop",
		}},
	})
}

// streamFragments are sent in order by the streaming mock.
var streamFragments = []string{"Hel", "lo ", "world"}

func handleChatCompletionStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, f := range streamFragments {
		data, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-integration-stream",
			"choices": []map[string]any{{"delta": map[string]string{"content": f}}},
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
}

// streamedContentLength is the byte length of all stream fragments.
var streamedContentLength = len(strings.Join(streamFragments, ""))
