// Package gateway turns normalized chat requests into upstream
// chat-completion calls and normalizes what comes back.
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"aichat/internal/core"
	"aichat/internal/llmclient"
	"aichat/internal/providers"
	"aichat/internal/usage"
)

// Fixed sampling parameters sent with every completion.
const (
	maxTokens   = 2000
	temperature = 0.7
)

// unknownModel is echoed when the provider could not be resolved and no
// model override was given.
const unknownModel = "unknown"

// ProviderResolver looks up provider connection parameters.
type ProviderResolver interface {
	Resolve(id core.ProviderID) (providers.ProviderConfig, error)
}

// FragmentFunc is called once per emitted stream fragment.
type FragmentFunc func(provider core.ProviderID, model string)

// Options holds the optional collaborators of a Gateway.
type Options struct {
	// Usage receives one entry per call. Nil disables usage tracking.
	Usage usage.LoggerInterface
	// OnFragment is called for every streamed fragment. May be nil.
	OnFragment FragmentFunc
}

// Gateway implements core.ChatService.
type Gateway struct {
	resolver   ProviderResolver
	client     *llmclient.Client
	usage      usage.LoggerInterface
	onFragment FragmentFunc
}

var _ core.ChatService = (*Gateway)(nil)

// New creates a gateway.
func New(resolver ProviderResolver, client *llmclient.Client, opts Options) *Gateway {
	g := &Gateway{
		resolver:   resolver,
		client:     client,
		usage:      opts.Usage,
		onFragment: opts.OnFragment,
	}
	if g.usage == nil {
		g.usage = &usage.NoopLogger{}
	}
	return g
}

// chatCompletionRequest is the upstream request body.
type chatCompletionRequest struct {
	Model       string                  `json:"model"`
	Messages    []core.ConversationTurn `json:"messages"`
	MaxTokens   int                     `json:"max_tokens"`
	Temperature float64                 `json:"temperature"`
	Stream      bool                    `json:"stream"`
}

// chatCompletionResponse is the part of a non-streaming response we read.
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// SendMessage performs a single-shot completion. Every failure is folded
// into the returned result.
func (g *Gateway) SendMessage(ctx context.Context, req *core.ChatRequest) core.ChatResult {
	start := time.Now()
	result, upstreamErr := g.sendMessage(ctx, req)

	entry := g.newEntry(ctx, usage.OperationSendMessage, result.Provider, result.Model, start)
	entry.ResponseID = result.ID
	if err := result.Err(); err != nil {
		entry.Status = usage.StatusError
		entry.ErrorType = string(core.ErrorTypeOf(err))
		entry.UpstreamStatus = core.UpstreamStatus(upstreamErr)
	} else {
		entry.Fragments = 1
		entry.ContentLength = len(result.Content())
	}
	g.usage.Write(entry)

	return result
}

func (g *Gateway) sendMessage(ctx context.Context, req *core.ChatRequest) (core.ChatResult, error) {
	cfg, err := g.resolver.Resolve(req.Provider)
	if err != nil {
		model := req.Model
		if model == "" {
			model = unknownModel
		}
		logFailure(ctx, "chat request failed", req.Provider, model, err)
		return core.NewFailureResult(req.Provider, model, err), err
	}

	model := cfg.EffectiveModel(req.Model)
	logRequest(ctx, "sending chat request", req, model)

	var resp chatCompletionResponse
	err = g.client.Do(ctx, g.buildRequest(req, cfg, model, false), &resp)
	if err == nil && len(resp.Choices) == 0 {
		err = core.NewEmptyCompletionError(req.Provider)
	}
	if err != nil {
		logFailure(ctx, "chat request failed", req.Provider, model, err)
		return core.NewFailureResult(req.Provider, model, err), err
	}

	id := resp.ID
	if id == "" {
		id = core.SyntheticID("msg")
	}
	slog.Debug("chat request completed",
		"provider", req.Provider,
		"model", model,
		"request_id", core.GetRequestID(ctx),
	)
	return core.NewSuccessResult(id, req.Provider, model, resp.Choices[0].Message.Content), nil
}

// StreamMessage starts a streamed completion. An unknown provider, a
// transport failure or a non-2xx status is returned as an error because no
// stream exists yet. The returned stream must be closed or fully ranged.
func (g *Gateway) StreamMessage(ctx context.Context, req *core.ChatRequest) (core.ChatStream, error) {
	start := time.Now()

	cfg, err := g.resolver.Resolve(req.Provider)
	if err != nil {
		model := req.Model
		if model == "" {
			model = unknownModel
		}
		logFailure(ctx, "stream setup failed", req.Provider, model, err)
		g.writeSetupFailure(ctx, req.Provider, model, start, err)
		return nil, err
	}

	model := cfg.EffectiveModel(req.Model)
	logRequest(ctx, "starting chat stream", req, model)

	body, err := g.client.DoStream(ctx, g.buildRequest(req, cfg, model, true))
	if err != nil {
		logFailure(ctx, "stream setup failed", req.Provider, model, err)
		g.writeSetupFailure(ctx, req.Provider, model, start, err)
		return nil, err
	}

	s := newStream(ctx, body, req.Provider, model)
	s.onFragment = g.onFragment
	s.onClose = func(s *Stream) {
		entry := g.newEntry(ctx, usage.OperationMessageStream, req.Provider, model, start)
		entry.ResponseID = s.lastID
		entry.Fragments = s.fragments
		entry.ContentLength = s.contentLength
		entry.StreamEnd = s.end
		if s.end == usage.StreamEndError {
			entry.Status = usage.StatusError
			entry.ErrorType = string(core.ErrorTypeTransport)
		}
		g.usage.Write(entry)
	}
	return s, nil
}

func (g *Gateway) buildRequest(req *core.ChatRequest, cfg providers.ProviderConfig, model string, stream bool) llmclient.Request {
	return llmclient.Request{
		Provider: req.Provider,
		Model:    model,
		URL:      cfg.EndpointURL,
		APIKey:   req.APIKey,
		Stream:   stream,
		Body: chatCompletionRequest{
			Model:       model,
			Messages:    req.Messages(),
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Stream:      stream,
		},
	}
}

func (g *Gateway) writeSetupFailure(ctx context.Context, provider core.ProviderID, model string, start time.Time, err error) {
	entry := g.newEntry(ctx, usage.OperationMessageStream, provider, model, start)
	entry.Status = usage.StatusError
	entry.ErrorType = string(core.ErrorTypeOf(err))
	entry.UpstreamStatus = core.UpstreamStatus(err)
	entry.StreamEnd = usage.StreamEndError
	g.usage.Write(entry)
}

func (g *Gateway) newEntry(ctx context.Context, operation string, provider core.ProviderID, model string, start time.Time) *usage.UsageEntry {
	return &usage.UsageEntry{
		ID:         uuid.NewString(),
		RequestID:  core.GetRequestID(ctx),
		Timestamp:  start.UTC(),
		Provider:   string(provider),
		Model:      model,
		Operation:  operation,
		Status:     usage.StatusSuccess,
		DurationMs: time.Since(start).Milliseconds(),
	}
}

// logRequest never logs the key itself, only its length.
func logRequest(ctx context.Context, msg string, req *core.ChatRequest, model string) {
	slog.Info(msg,
		"provider", req.Provider,
		"model", model,
		"history_length", len(req.ConversationHistory),
		"api_key_length", len(req.APIKey),
		"request_id", core.GetRequestID(ctx),
	)
}

func logFailure(ctx context.Context, msg string, provider core.ProviderID, model string, err error) {
	slog.Error(msg,
		"provider", provider,
		"model", model,
		"error_type", core.ErrorTypeOf(err),
		"error", err,
		"request_id", core.GetRequestID(ctx),
	)
}
