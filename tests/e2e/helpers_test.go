//go:build e2e

package e2e

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// API endpoints
const (
	graphqlPath       = "/graphql"
	graphqlStreamPath = "/graphql/stream"
	healthPath        = "/health"
	metricsPath       = "/metrics"
)

const sendMessageMutation = `mutation Send($input: ChatRequest!) {
  sendMessage(input: $input) { id content provider model timestamp error }
}`

const messageStreamSubscription = `subscription Stream($input: ChatRequest!) {
  messageStream(input: $input) { id content provider model timestamp error }
}`

// graphQLRequest is the body of a GraphQL POST.
type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// ChatResponse mirrors the GraphQL ChatResponse type.
type ChatResponse struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	Provider  string  `json:"provider"`
	Model     string  `json:"model"`
	Timestamp string  `json:"timestamp"`
	Error     *string `json:"error"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type sendMessageResult struct {
	Data struct {
		SendMessage ChatResponse `json:"sendMessage"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// chatInput builds the ChatRequest input variable.
func chatInput(provider, message string) map[string]any {
	return map[string]any{
		"message":  message,
		"provider": provider,
		"apiKey":   "sk-e2e-test",
	}
}

// sendMessage runs the sendMessage mutation and decodes the response.
func sendMessage(t *testing.T, input map[string]any) sendMessageResult {
	t.Helper()
	resp := sendJSONRequest(t, gatewayURL+graphqlPath, graphQLRequest{
		Query:     sendMessageMutation,
		Variables: map[string]any{"input": input},
	})
	defer closeBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result sendMessageResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// sendJSONRequest sends a JSON POST request and returns the response.
func sendJSONRequest(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	return resp
}

// sendJSONRequestNoT sends a JSON POST request without using testing.T.
//
// This is specifically for concurrency tests, where calling t.FailNow / require from
// goroutines is unsafe.
func sendJSONRequestNoT(url string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	return client.Do(req)
}

// closeBody is a helper to close response body in defer statements.
func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

// StreamEvent is one SSE event from /graphql/stream.
type StreamEvent struct {
	Name string
	Data string
}

// readStreamEvents reads SSE events until the stream ends.
func readStreamEvents(t *testing.T, body io.Reader) []StreamEvent {
	t.Helper()
	events := make([]StreamEvent, 0)
	scanner := bufio.NewScanner(body)

	var current StreamEvent
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current.Name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if current.Name != "" || current.Data != "" {
				events = append(events, current)
				current = StreamEvent{}
			}
		}
	}
	if current.Name != "" || current.Data != "" {
		events = append(events, current)
	}
	require.NoError(t, scanner.Err())

	return events
}

// streamResponses decodes the ChatResponse payloads of "next" events.
func streamResponses(t *testing.T, events []StreamEvent) []ChatResponse {
	t.Helper()
	out := make([]ChatResponse, 0, len(events))
	for _, e := range events {
		if e.Name != "next" {
			continue
		}
		var payload struct {
			Data struct {
				MessageStream ChatResponse `json:"messageStream"`
			} `json:"data"`
			Errors []graphQLError `json:"errors"`
		}
		require.NoError(t, json.Unmarshal([]byte(e.Data), &payload), e.Data)
		require.Empty(t, payload.Errors)
		out = append(out, payload.Data.MessageStream)
	}
	return out
}

// extractStreamContent concatenates the streamed fragments.
func extractStreamContent(responses []ChatResponse) string {
	var content strings.Builder
	for _, r := range responses {
		content.WriteString(r.Content)
	}
	return content.String()
}
