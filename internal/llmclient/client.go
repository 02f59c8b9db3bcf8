// Package llmclient provides the HTTP client for OpenAI-compatible chat
// completion endpoints:
// - Request marshaling/unmarshaling
// - Bearer authentication and request id forwarding
// - Standardized upstream error parsing
// - Request hooks for metrics
//
// Calls are never retried. A single upstream failure is final.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"aichat/internal/core"
)

// maxErrorBodySize caps how much of a failed response body is read.
// Longer bodies are cut and end with truncatedMarker.
const maxErrorBodySize = 64 * 1024

const truncatedMarker = "... (truncated)"

// RequestInfo describes an upstream call for hooks.
type RequestInfo struct {
	Provider core.ProviderID
	Model    string
	Stream   bool
}

// ResponseInfo describes the outcome of an upstream call. For streams it is
// reported once the response headers arrive.
type ResponseInfo struct {
	RequestInfo
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Hooks observe upstream calls. Either function may be nil.
type Hooks struct {
	// OnRequestStart may return a derived context that is passed to OnRequestEnd.
	OnRequestStart func(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd   func(ctx context.Context, info ResponseInfo)
}

// Request is one chat completion call.
type Request struct {
	Provider core.ProviderID
	Model    string
	URL      string
	APIKey   string
	Body     any
	Stream   bool
}

// Client sends requests to provider endpoints.
type Client struct {
	httpClient *http.Client
	hooks      Hooks
}

// New creates a client on top of httpClient. A nil httpClient falls back to
// http.DefaultClient.
func New(httpClient *http.Client, hooks Hooks) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, hooks: hooks}
}

// Do executes a non-streaming request and unmarshals the response into result.
func (c *Client) Do(ctx context.Context, req Request, result any) error {
	resp, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.NewTransportError(req.Provider, "failed to read response: "+err.Error(), err)
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return core.NewTransportError(req.Provider, "failed to decode response: "+err.Error(), err)
		}
	}
	return nil
}

// DoStream executes a streaming request and returns the open response body.
// The caller must close it.
func (c *Client) DoStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	req.Stream = true
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// send performs the HTTP exchange. On a non-2xx status the body is read and
// closed and an upstream error carrying the body text is returned.
func (c *Client) send(ctx context.Context, req Request) (*http.Response, error) {
	info := RequestInfo{Provider: req.Provider, Model: req.Model, Stream: req.Stream}
	hookCtx := ctx
	if c.hooks.OnRequestStart != nil {
		hookCtx = c.hooks.OnRequestStart(ctx, info)
	}
	start := time.Now()

	resp, err := c.roundTrip(ctx, req)

	if c.hooks.OnRequestEnd != nil {
		end := ResponseInfo{RequestInfo: info, Duration: time.Since(start), Err: err}
		if resp != nil {
			end.StatusCode = resp.StatusCode
		}
		c.hooks.OnRequestEnd(hookCtx, end)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, req Request) (*http.Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewTransportError(req.Provider, "failed to send request: "+err.Error(), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() {
			_ = resp.Body.Close()
		}()
		// resp is returned alongside the error so hooks can see the status.
		return resp, core.NewUpstreamError(req.Provider, resp.StatusCode, readErrorBody(resp.Body))
	}

	return resp, nil
}

// readErrorBody returns the text of a failed response, at most
// maxErrorBodySize bytes plus truncatedMarker.
func readErrorBody(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize+1))
	if err != nil {
		return "failed to read error response"
	}
	if len(body) > maxErrorBodySize {
		return string(body[:maxErrorBodySize]) + truncatedMarker
	}
	return string(body)
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	bodyBytes, err := json.Marshal(req.Body)
	if err != nil {
		return nil, core.NewTransportError(req.Provider, "failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, core.NewTransportError(req.Provider, fmt.Sprintf("failed to create request: %v", err), err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	if requestID := core.GetRequestID(ctx); core.IsForwardableRequestID(requestID) {
		httpReq.Header.Set("X-Client-Request-Id", requestID)
	}

	return httpReq, nil
}
