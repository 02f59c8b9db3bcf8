package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestIDMiddleware(t *testing.T) {
	srv := newTestServer(&fakeChat{}, nil)

	t.Run("generates request ID when missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()

		srv.ServeHTTP(rec, req)

		got := rec.Header().Get("X-Request-ID")
		if got == "" {
			t.Fatal("expected X-Request-ID in response header, got empty")
		}
		// Validate UUID format (8-4-4-4-12 hex digits)
		if len(got) != 36 {
			t.Errorf("expected UUID (36 chars), got %q (%d chars)", got, len(got))
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "my-custom-id")
		rec := httptest.NewRecorder()

		srv.ServeHTTP(rec, req)

		respID := rec.Header().Get("X-Request-ID")
		if respID != "my-custom-id" {
			t.Errorf("expected response header X-Request-ID to be %q, got %q", "my-custom-id", respID)
		}
	})

	t.Run("request ID reaches the gateway", func(t *testing.T) {
		chat := &fakeChat{}
		srv := newTestServer(chat, nil)

		rec := postGraphQL(t, srv, GraphQLPath, sendMessageBody("hi"), map[string]string{"X-Request-ID": "trace-7"})

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if chat.lastRequestID() != "trace-7" {
			t.Errorf("gateway saw request id %q, want trace-7", chat.lastRequestID())
		}
	})
}

func TestCORS(t *testing.T) {
	t.Run("preflight", func(t *testing.T) {
		srv := newTestServer(&fakeChat{}, nil)
		req := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := httptest.NewRecorder()

		srv.ServeHTTP(rec, req)

		if rec.Code >= 300 {
			t.Fatalf("preflight status = %d", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Allow-Origin = %q, want *", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET,POST,OPTIONS" {
			t.Errorf("Allow-Methods = %q", got)
		}
		if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type,Authorization" {
			t.Errorf("Allow-Headers = %q", got)
		}
		if got := rec.Header().Get("Access-Control-Max-Age"); got != "86400" {
			t.Errorf("Max-Age = %q, want 86400", got)
		}
	})

	t.Run("simple request carries allow-origin", func(t *testing.T) {
		srv := newTestServer(&fakeChat{}, nil)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := httptest.NewRecorder()

		srv.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
			t.Errorf("Allow-Origin = %q, want *", got)
		}
	})

	t.Run("restricted origins", func(t *testing.T) {
		srv := newTestServer(&fakeChat{}, &Config{CORSOrigins: []string{"https://chat.example.com"}})
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()

		srv.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want none for a foreign origin", got)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		config         *Config
		requestPath    string
		expectedStatus int
		expectBody     string // substring to check in response body
	}{
		{
			name: "metrics enabled - default endpoint accessible",
			config: &Config{
				MetricsEnabled:  true,
				MetricsEndpoint: "/metrics",
			},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines", // Standard Go runtime metric
		},
		{
			name: "metrics enabled - empty endpoint defaults to /metrics",
			config: &Config{
				MetricsEnabled:  true,
				MetricsEndpoint: "",
			},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name: "metrics enabled - custom endpoint",
			config: &Config{
				MetricsEnabled:  true,
				MetricsEndpoint: "/internal/prometheus",
			},
			requestPath:    "/internal/prometheus",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name: "metrics enabled - path is normalized",
			config: &Config{
				MetricsEnabled:  true,
				MetricsEndpoint: "/internal/../metrics/",
			},
			requestPath:    "/metrics",
			expectedStatus: http.StatusOK,
			expectBody:     "go_goroutines",
		},
		{
			name: "metrics disabled - endpoint not found",
			config: &Config{
				MetricsEnabled:  false,
				MetricsEndpoint: "/metrics",
			},
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "nil config - metrics disabled",
			config:         nil,
			requestPath:    "/metrics",
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeChat{}, tt.config)

			req := httptest.NewRequest(http.MethodGet, tt.requestPath, nil)
			rec := httptest.NewRecorder()

			srv.ServeHTTP(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectBody != "" && !strings.Contains(rec.Body.String(), tt.expectBody) {
				t.Errorf("expected body to contain %q", tt.expectBody)
			}
		})
	}
}

func TestBodySizeLimit(t *testing.T) {
	srv := newTestServer(&fakeChat{}, &Config{BodySizeLimit: "1K"})

	body := `{"query":"{ health }","variables":{"pad":"` + strings.Repeat("x", 2048) + `"}}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}
