// Package usage records per-call metadata for chat requests: which provider
// and model served it, how it ended, how long it took and how much text came
// back. Message content is never stored.
package usage

import (
	"context"
	"time"
)

// Operation names the gateway call that produced an entry.
const (
	OperationSendMessage   = "send_message"
	OperationMessageStream = "message_stream"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// StreamEnd values describe how a streamed call finished.
const (
	// StreamEndDone means the provider sent the [DONE] sentinel.
	StreamEndDone = "done"
	// StreamEndEOF means the body ended without a sentinel.
	StreamEndEOF = "eof"
	// StreamEndClosed means the consumer stopped reading first.
	StreamEndClosed = "closed"
	// StreamEndError means reading the body failed.
	StreamEndError = "error"
)

// UsageStore defines the interface for usage storage backends.
// Implementations must be safe for concurrent use.
type UsageStore interface {
	// WriteBatch writes multiple usage entries to storage.
	// This is called by the Logger when flushing buffered entries.
	WriteBatch(ctx context.Context, entries []*UsageEntry) error

	// Flush forces any pending writes to complete.
	// Called during graceful shutdown.
	Flush(ctx context.Context) error

	// Close releases resources and flushes pending writes.
	Close() error
}

// UsageEntry is the record of one gateway call.
type UsageEntry struct {
	// ID is a unique identifier for this usage entry (UUID)
	ID string `json:"id" bson:"_id"`

	// RequestID is the inbound X-Request-ID
	RequestID string `json:"request_id" bson:"request_id"`

	// ResponseID is the id of the returned result (provider id or synthetic)
	ResponseID string `json:"response_id" bson:"response_id"`

	Timestamp time.Time `json:"timestamp" bson:"timestamp"`

	Provider  string `json:"provider" bson:"provider"`
	Model     string `json:"model" bson:"model"`
	Operation string `json:"operation" bson:"operation"`

	Status         string `json:"status" bson:"status"`
	ErrorType      string `json:"error_type,omitempty" bson:"error_type,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty" bson:"upstream_status,omitempty"`

	// Fragments is the number of streamed items emitted (1 for single-shot success)
	Fragments     int    `json:"fragments" bson:"fragments"`
	ContentLength int    `json:"content_length" bson:"content_length"`
	StreamEnd     string `json:"stream_end,omitempty" bson:"stream_end,omitempty"`
	DurationMs    int64  `json:"duration_ms" bson:"duration_ms"`
}

// Config holds usage tracking configuration
type Config struct {
	// Enabled controls whether usage tracking is active
	Enabled bool

	// BufferSize is the number of usage entries to buffer before flushing
	BufferSize int

	// FlushInterval is how often to flush buffered entries
	FlushInterval time.Duration

	// RetentionDays is how long to keep usage data (0 = forever)
	RetentionDays int
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
		RetentionDays: 90,
	}
}
