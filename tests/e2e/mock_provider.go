//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// chatCompletionsPath is where the mock serves both providers.
const chatCompletionsPath = "/chat/completions"

// MockLLMServer simulates an OpenAI-compatible chat completions upstream.
type MockLLMServer struct {
	server        *httptest.Server
	mu            sync.Mutex
	requests      []RecordedRequest
	responseDelay time.Duration
	customHandler func(w http.ResponseWriter, r *http.Request) bool
	failNext      bool
	failWithCode  int
	failMessage   string
}

// RecordedRequest stores information about a received request.
type RecordedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
}

// upstreamRequest is the body the gateway sends upstream.
type upstreamRequest struct {
	Model       string            `json:"model"`
	Messages    []upstreamMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature float64           `json:"temperature"`
	Stream      bool              `json:"stream"`
}

type upstreamMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewMockLLMServer creates a new mock LLM server.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{}

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewBuffer(body))

		m.mu.Lock()
		m.requests = append(m.requests, RecordedRequest{
			Method:  r.Method,
			Path:    r.URL.Path,
			Headers: r.Header.Clone(),
			Body:    body,
		})

		if m.failNext {
			m.failNext = false
			code := m.failWithCode
			msg := m.failMessage
			m.mu.Unlock()
			w.WriteHeader(code)
			_, _ = fmt.Fprintf(w, `{"error": {"message": "%s", "type": "api_error"}}`, msg)
			return
		}

		if m.customHandler != nil {
			handler := m.customHandler
			m.mu.Unlock()
			if handler(w, r) {
				return
			}
			m.mu.Lock()
		}

		delay := m.responseDelay
		m.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}

		m.handleRequest(w, r, body)
	}))

	return m
}

func (m *MockLLMServer) handleRequest(w http.ResponseWriter, r *http.Request, body []byte) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "Missing API key", "type": "invalid_request_error"}}`))
		return
	}

	if r.Method != http.MethodPost || r.URL.Path != chatCompletionsPath {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"message": "Not found", "type": "invalid_request_error"}}`))
		return
	}

	var req upstreamRequest
	if err := json.Unmarshal(body, &req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "Invalid request body", "type": "invalid_request_error"}}`))
		return
	}

	if req.Stream {
		m.handleStreamingResponse(w, req)
		return
	}

	response := map[string]any{
		"id":      "chatcmpl-test-" + time.Now().Format("20060102150405"),
		"object":  "chat.completion",
		"model":   req.Model,
		"created": time.Now().Unix(),
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": generateMockResponse(req)},
			"finish_reason": "stop",
		}},
		"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// handleStreamingResponse sends the mock answer as SSE chunks of five
// bytes followed by [DONE].
func (m *MockLLMServer) handleStreamingResponse(w http.ResponseWriter, req upstreamRequest) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}

	chunks := splitIntoChunks(generateMockResponse(req), 5)
	for i, chunk := range chunks {
		finish := any(nil)
		if i == len(chunks)-1 {
			finish = "stop"
		}
		data, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-test-stream",
			"object":  "chat.completion.chunk",
			"model":   req.Model,
			"created": time.Now().Unix(),
			"choices": []map[string]any{{
				"index":         0,
				"delta":         map[string]string{"content": chunk},
				"finish_reason": finish,
			}},
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		time.Sleep(10 * time.Millisecond)
	}

	_, _ = fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// generateMockResponse echoes the last message.
func generateMockResponse(req upstreamRequest) string {
	if len(req.Messages) == 0 {
		return "Hello! How can I help you today?"
	}
	return fmt.Sprintf("Mock response to: %s", req.Messages[len(req.Messages)-1].Content)
}

// splitIntoChunks splits a string into chunks of approximately n bytes.
func splitIntoChunks(s string, n int) []string {
	chunks := make([]string, 0, len(s)/n+1)
	for i := 0; i < len(s); i += n {
		chunks = append(chunks, s[i:min(i+n, len(s))])
	}
	return chunks
}

// URL returns the mock server's URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// EndpointURL returns the chat completions URL to configure providers with.
func (m *MockLLMServer) EndpointURL() string {
	return m.server.URL + chatCompletionsPath
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// FailNext makes the next request fail with code and message.
func (m *MockLLMServer) FailNext(code int, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = true
	m.failWithCode = code
	m.failMessage = message
}

// SetCustomHandler installs a handler that runs before the default one.
// Returning true marks the request as handled. Nil removes it.
func (m *MockLLMServer) SetCustomHandler(h func(w http.ResponseWriter, r *http.Request) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customHandler = h
}

// Requests returns a copy of the recorded requests.
func (m *MockLLMServer) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// LastRequest returns the most recent request, decoded.
func (m *MockLLMServer) LastRequest() (RecordedRequest, upstreamRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return RecordedRequest{}, upstreamRequest{}, false
	}
	rec := m.requests[len(m.requests)-1]
	var body upstreamRequest
	_ = json.Unmarshal(rec.Body, &body)
	return rec, body, true
}

// Reset clears recorded requests and failure settings.
func (m *MockLLMServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.failNext = false
	m.customHandler = nil
	m.responseDelay = 0
}

// SetResponseDelay delays every default response by d.
func (m *MockLLMServer) SetResponseDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responseDelay = d
}
