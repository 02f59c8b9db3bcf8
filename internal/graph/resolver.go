package graph

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	graphql "github.com/graph-gophers/graphql-go"

	"aichat/internal/core"
	"aichat/internal/usage"
)

// HealthMessage is the answer of the health query.
const HealthMessage = "AI Chat API is running!"

// Resolver is the root resolver of the schema.
type Resolver struct {
	chat    core.ChatService
	catalog core.ModelCatalog
	usage   usage.UsageReader
}

// NewResolver creates the root resolver. reader may be nil when usage
// tracking is disabled.
func NewResolver(chat core.ChatService, catalog core.ModelCatalog, reader usage.UsageReader) *Resolver {
	return &Resolver{chat: chat, catalog: catalog, usage: reader}
}

// ChatRequestInput mirrors the ChatRequest input type.
type ChatRequestInput struct {
	Message             string
	Provider            string
	Model               *string
	APIKey              string
	ConversationHistory *[]MessageInput
}

// MessageInput mirrors the MessageInput input type.
type MessageInput struct {
	Role    string
	Content string
}

// toChatRequest checks the caller input and converts it. Validation
// failures become GraphQL errors before anything is sent upstream.
func (in ChatRequestInput) toChatRequest() (*core.ChatRequest, error) {
	if strings.TrimSpace(in.Message) == "" {
		return nil, core.NewValidationError("Message cannot be empty")
	}
	if strings.TrimSpace(in.APIKey) == "" {
		return nil, core.NewValidationError("API Key is required")
	}

	req := &core.ChatRequest{
		Message:  in.Message,
		Provider: core.ProviderID(in.Provider),
		APIKey:   in.APIKey,
	}
	if in.Model != nil {
		req.Model = *in.Model
	}
	if in.ConversationHistory != nil {
		req.ConversationHistory = make([]core.ConversationTurn, 0, len(*in.ConversationHistory))
		for _, m := range *in.ConversationHistory {
			role := core.Role(m.Role)
			if !role.Valid() {
				return nil, core.NewValidationError("Invalid conversation role: " + m.Role)
			}
			req.ConversationHistory = append(req.ConversationHistory, core.ConversationTurn{Role: role, Content: m.Content})
		}
	}
	return req, nil
}

// Health resolves Query.health.
func (r *Resolver) Health() string {
	return HealthMessage
}

// SupportedModels resolves Query.supportedModels.
func (r *Resolver) SupportedModels(args struct{ Provider string }) []string {
	return r.catalog.ListModels(core.ProviderID(args.Provider))
}

// UsageSummary resolves Query.usageSummary.
func (r *Resolver) UsageSummary(ctx context.Context, args struct {
	Provider *string
	Since    *string
}) (*usageSummaryResolver, error) {
	if r.usage == nil {
		return nil, nil
	}

	var params usage.SummaryParams
	if args.Provider != nil {
		params.Provider = *args.Provider
	}
	if args.Since != nil && *args.Since != "" {
		since, err := time.Parse(time.RFC3339, *args.Since)
		if err != nil {
			return nil, core.NewValidationError("since must be an RFC 3339 timestamp")
		}
		params.Since = since
	}

	summary, err := r.usage.GetSummary(ctx, params)
	if err != nil {
		slog.Error("failed to read usage summary", "error", err, "request_id", core.GetRequestID(ctx))
		return nil, err
	}
	return &usageSummaryResolver{s: summary}, nil
}

// SendMessage resolves Mutation.sendMessage. Upstream failures are carried
// in the error field of the response, never as GraphQL errors.
func (r *Resolver) SendMessage(ctx context.Context, args struct{ Input ChatRequestInput }) (*chatResponseResolver, error) {
	req, err := args.Input.toChatRequest()
	if err != nil {
		return nil, err
	}
	result := r.chat.SendMessage(ctx, req)
	return &chatResponseResolver{r: result.Flatten()}, nil
}

// MessageStream resolves Subscription.messageStream. The stream is closed
// when it ends or when ctx is cancelled.
func (r *Resolver) MessageStream(ctx context.Context, args struct{ Input ChatRequestInput }) (<-chan *chatResponseResolver, error) {
	req, err := args.Input.toChatRequest()
	if err != nil {
		return nil, err
	}
	stream, err := r.chat.StreamMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan *chatResponseResolver)
	go func() {
		defer close(ch)
		for result := range stream.All() {
			select {
			case ch <- &chatResponseResolver{r: result.Flatten()}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type chatResponseResolver struct {
	r core.ChatResponse
}

func (c *chatResponseResolver) ID() graphql.ID    { return graphql.ID(c.r.ID) }
func (c *chatResponseResolver) Content() string   { return c.r.Content }
func (c *chatResponseResolver) Provider() string  { return string(c.r.Provider) }
func (c *chatResponseResolver) Model() string     { return c.r.Model }
func (c *chatResponseResolver) Timestamp() string { return c.r.Timestamp }
func (c *chatResponseResolver) Error() *string    { return c.r.Error }

type usageSummaryResolver struct {
	s *usage.Summary
}

// saturate maps a total onto GraphQL Int, which is 32-bit.
func saturate(n int64) int32 {
	return int32(min(max(n, math.MinInt32), math.MaxInt32))
}

func (u *usageSummaryResolver) TotalRequests() int32      { return saturate(u.s.TotalRequests) }
func (u *usageSummaryResolver) SuccessCount() int32       { return saturate(u.s.SuccessCount) }
func (u *usageSummaryResolver) ErrorCount() int32         { return saturate(u.s.ErrorCount) }
func (u *usageSummaryResolver) StreamRequests() int32     { return saturate(u.s.StreamRequests) }
func (u *usageSummaryResolver) TotalFragments() int32     { return saturate(u.s.TotalFragments) }
func (u *usageSummaryResolver) TotalContentLength() int32 { return saturate(u.s.TotalContentLength) }
func (u *usageSummaryResolver) AvgDurationMs() float64    { return u.s.AvgDurationMs }
