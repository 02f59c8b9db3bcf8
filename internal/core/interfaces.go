package core

import (
	"context"
	"iter"
)

// ModelCatalog lists the providers and the models each one offers.
type ModelCatalog interface {
	// ListModels returns the supported models for a provider, or an empty
	// slice when the provider is unknown.
	ListModels(id ProviderID) []string

	// IDs returns every registered provider in a stable order.
	IDs() []ProviderID
}

// ChatStream is a lazy, single-pass sequence of streamed results.
type ChatStream interface {
	// All ranges over the remaining results and closes the stream when the
	// loop ends, including on break.
	All() iter.Seq[ChatResult]

	// Err returns the read error that ended the stream early, if any.
	Err() error

	// Close releases the upstream body. Safe to call more than once.
	Close() error
}

// ChatService sends chat requests to upstream providers.
type ChatService interface {
	// SendMessage performs a single-shot completion. Failures are reported
	// inside the result, never as an error.
	SendMessage(ctx context.Context, req *ChatRequest) ChatResult

	// StreamMessage starts a streamed completion. Setup failures are
	// returned as errors since no stream exists yet.
	StreamMessage(ctx context.Context, req *ChatRequest) (ChatStream, error)
}
