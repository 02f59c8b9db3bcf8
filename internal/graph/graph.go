// Package graph exposes the chat gateway as a GraphQL schema.
package graph

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"aichat/internal/core"
)

//go:embed schema.graphql
var schemaSDL string

// maxQueryDepth bounds nested selections.
const maxQueryDepth = 10

// Request is a GraphQL-over-HTTP request body.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

// Schema executes operations against the resolvers.
type Schema struct {
	schema *graphql.Schema
}

// NewSchema parses the embedded SDL and binds it to resolver. It panics
// when the resolver does not match the SDL.
func NewSchema(resolver *Resolver) *Schema {
	return &Schema{
		schema: graphql.MustParseSchema(schemaSDL, resolver,
			graphql.MaxDepth(maxQueryDepth),
			graphql.Logger(panicLogger{}),
		),
	}
}

// SDL returns the schema definition.
func SDL() string {
	return schemaSDL
}

// Exec runs a query or mutation.
func (s *Schema) Exec(ctx context.Context, req Request) *graphql.Response {
	return s.schema.Exec(ctx, req.Query, req.OperationName, req.Variables)
}

// Subscribe runs a subscription. Every value received from the channel is a
// *graphql.Response; the channel is closed when the subscription ends.
func (s *Schema) Subscribe(ctx context.Context, req Request) (<-chan any, error) {
	ch, err := s.schema.Subscribe(ctx, req.Query, req.OperationName, req.Variables)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return ch, nil
}

// IsSubscription reports whether the operation selected by req is a
// subscription. Documents that do not parse, or where no operation matches
// OperationName, report false and are left for Exec to reject.
func IsSubscription(req Request) bool {
	doc, err := parser.ParseQuery(&ast.Source{Input: req.Query})
	if err != nil {
		return false
	}
	op := doc.Operations.ForName(req.OperationName)
	return op != nil && op.Operation == ast.Subscription
}

// panicLogger reports resolver panics through slog.
type panicLogger struct{}

func (panicLogger) LogPanic(ctx context.Context, value any) {
	slog.Error("graphql resolver panic", "panic", value, "request_id", core.GetRequestID(ctx))
}

// defaultDocument pre-fills the GraphiQL editor.
var defaultDocument = strings.TrimSpace(`
query Health {
  health
}

query SupportedModels {
  openaiModels: supportedModels(provider: OPENAI)
  deepseekModels: supportedModels(provider: DEEPSEEK)
}

mutation SendMessage($input: ChatRequest!) {
  sendMessage(input: $input) {
    id
    content
    provider
    model
    timestamp
    error
  }
}
`)
