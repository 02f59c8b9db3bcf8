package core

import "context"

type contextKey string

const requestIDKey contextKey = "request-id"

// maxClientRequestIDLength is the longest request id forwarded upstream.
const maxClientRequestIDLength = 512

// WithRequestID returns a new context with the request ID attached.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not found.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// IsForwardableRequestID reports whether id may be sent to providers as
// X-Client-Request-Id: ASCII only, at most 512 bytes.
func IsForwardableRequestID(id string) bool {
	if id == "" || len(id) > maxClientRequestIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] > 127 {
			return false
		}
	}
	return true
}
