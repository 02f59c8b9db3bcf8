// Package core provides core types and interfaces for the chat gateway.
package core

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeUnsupportedProvider indicates an unknown provider identifier
	ErrorTypeUnsupportedProvider ErrorType = "unsupported_provider"
	// ErrorTypeUpstream indicates a non-2xx status from the provider
	ErrorTypeUpstream ErrorType = "upstream_error"
	// ErrorTypeEmptyCompletion indicates the provider returned zero choices
	ErrorTypeEmptyCompletion ErrorType = "empty_completion"
	// ErrorTypeMalformedStreamEvent indicates an SSE data line that is not valid JSON
	ErrorTypeMalformedStreamEvent ErrorType = "malformed_stream_event"
	// ErrorTypeValidation indicates invalid caller input
	ErrorTypeValidation ErrorType = "validation_error"
	// ErrorTypeTransport indicates the request could not be sent or the response not read
	ErrorTypeTransport ErrorType = "transport_error"
)

// GatewayError is the base error type for all gateway errors.
// Message is the human-readable text surfaced to callers verbatim.
type GatewayError struct {
	Type       ErrorType  `json:"type"`
	Message    string     `json:"message"`
	StatusCode int        `json:"status_code,omitempty"`
	Provider   ProviderID `json:"provider,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	return e.Message
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	switch e.Type {
	case ErrorTypeValidation, ErrorTypeUnsupportedProvider:
		return http.StatusBadRequest
	case ErrorTypeUpstream:
		if e.StatusCode >= 400 && e.StatusCode < 500 {
			return e.StatusCode
		}
		return http.StatusBadGateway
	case ErrorTypeEmptyCompletion, ErrorTypeTransport, ErrorTypeMalformedStreamEvent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewUnsupportedProviderError creates an error for an unknown provider identifier.
func NewUnsupportedProviderError(provider ProviderID) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeUnsupportedProvider,
		Message:  fmt.Sprintf("Unsupported provider: %s", provider),
		Provider: provider,
	}
}

// NewUpstreamError creates an error for a non-2xx provider response. The raw
// body text is kept in the message.
func NewUpstreamError(provider ProviderID, statusCode int, body string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeUpstream,
		Message:    fmt.Sprintf("API Error (%d): %s", statusCode, body),
		StatusCode: statusCode,
		Provider:   provider,
	}
}

// NewEmptyCompletionError creates an error for a response without choices.
func NewEmptyCompletionError(provider ProviderID) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeEmptyCompletion,
		Message:  "No response from AI provider",
		Provider: provider,
	}
}

// NewMalformedStreamEventError creates an error for an undecodable SSE payload.
func NewMalformedStreamEventError(provider ProviderID, payload string) *GatewayError {
	if len(payload) > 120 {
		payload = payload[:120] + "..."
	}
	return &GatewayError{
		Type:     ErrorTypeMalformedStreamEvent,
		Message:  "invalid stream event: " + strconv.Quote(payload),
		Provider: provider,
	}
}

// NewValidationError creates an error for rejected caller input.
func NewValidationError(message string) *GatewayError {
	return &GatewayError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewTransportError creates an error for a failed send or an unreadable response.
func NewTransportError(provider ProviderID, message string, err error) *GatewayError {
	return &GatewayError{
		Type:     ErrorTypeTransport,
		Message:  message,
		Provider: provider,
		Err:      err,
	}
}

// ErrorTypeOf returns the GatewayError type in err's chain, or "" when err
// is not a gateway error.
func ErrorTypeOf(err error) ErrorType {
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Type
	}
	return ""
}

// IsErrorType reports whether err is a GatewayError of the given type.
func IsErrorType(err error, t ErrorType) bool {
	return err != nil && ErrorTypeOf(err) == t
}

// UpstreamStatus returns the provider HTTP status carried by err, or 0.
func UpstreamStatus(err error) int {
	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) && gatewayErr.Type == ErrorTypeUpstream {
		return gatewayErr.StatusCode
	}
	return 0
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
