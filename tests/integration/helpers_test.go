//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

const sendMessageMutation = `mutation Send($input: ChatRequest!) {
  sendMessage(input: $input) { id content provider model error }
}`

const messageStreamSubscription = `subscription Stream($input: ChatRequest!) {
  messageStream(input: $input) { id content }
}`

const usageSummaryQuery = `query Summary($provider: AIProvider, $since: String) {
  usageSummary(provider: $provider, since: $since) {
    totalRequests successCount errorCount streamRequests
    totalFragments totalContentLength avgDurationMs
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// usageSummary mirrors the GraphQL UsageSummary type.
type usageSummary struct {
	TotalRequests      int     `json:"totalRequests"`
	SuccessCount       int     `json:"successCount"`
	ErrorCount         int     `json:"errorCount"`
	StreamRequests     int     `json:"streamRequests"`
	TotalFragments     int     `json:"totalFragments"`
	TotalContentLength int     `json:"totalContentLength"`
	AvgDurationMs      float64 `json:"avgDurationMs"`
}

// chatInput builds the ChatRequest input variable.
func chatInput(provider, message, apiKey string) map[string]any {
	return map[string]any{
		"message":  message,
		"provider": provider,
		"apiKey":   apiKey,
	}
}

// sendGraphQL posts a GraphQL request to path with extra headers.
func sendGraphQL(t *testing.T, url, query string, variables map[string]any, headers map[string]string) *http.Response {
	t.Helper()
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// sendMessage runs the sendMessage mutation with the given request id.
func sendMessage(t *testing.T, serverURL string, input map[string]any, requestID string) {
	t.Helper()
	resp := sendGraphQL(t, serverURL+"/graphql", sendMessageMutation,
		map[string]any{"input": input}, map[string]string{"X-Request-ID": requestID})
	defer closeBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

// streamMessage runs the messageStream subscription and drains the stream.
func streamMessage(t *testing.T, serverURL string, input map[string]any, requestID string) string {
	t.Helper()
	resp := sendGraphQL(t, serverURL+"/graphql/stream", messageStreamSubscription,
		map[string]any{"input": input}, map[string]string{"X-Request-ID": requestID})
	defer closeBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

// getUsageSummary runs the usageSummary query.
func getUsageSummary(t *testing.T, serverURL string, variables map[string]any) *usageSummary {
	t.Helper()
	resp := sendGraphQL(t, serverURL+"/graphql", usageSummaryQuery, variables, nil)
	defer closeBody(resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result struct {
		Data struct {
			UsageSummary *usageSummary `json:"usageSummary"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Empty(t, result.Errors)
	return result.Data.UsageSummary
}

// closeBody is a helper to close response body in defer statements.
func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}
