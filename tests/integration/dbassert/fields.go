//go:build integration

package dbassert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// ExpectedUsage contains expected values for usage assertions.
// Zero values are not checked, allowing partial matching.
type ExpectedUsage struct {
	RequestID      string
	ResponseID     string
	Provider       string
	Model          string
	Operation      string
	Status         string
	ErrorType      string
	UpstreamStatus int
	Fragments      int
	ContentLength  int
	StreamEnd      string
}

// AssertUsageFieldCompleteness verifies that all required fields are populated.
func AssertUsageFieldCompleteness(t *testing.T, entry UsageEntry) {
	t.Helper()

	assert.NotEmpty(t, entry.ID, "usage ID should not be empty")
	assert.NotEmpty(t, entry.RequestID, "usage request ID should not be empty")
	assert.False(t, entry.Timestamp.IsZero(), "usage timestamp should not be zero")
	assert.NotEmpty(t, entry.Provider, "usage provider should not be empty")
	assert.NotEmpty(t, entry.Model, "usage model should not be empty")
	assert.NotEmpty(t, entry.Operation, "usage operation should not be empty")
	assert.NotEmpty(t, entry.Status, "usage status should not be empty")
	assert.GreaterOrEqual(t, entry.DurationMs, int64(0), "usage duration should not be negative")
}

// AssertUsageMatches verifies that the actual entry matches expected values.
// Only non-zero expected values are checked.
func AssertUsageMatches(t *testing.T, expected ExpectedUsage, actual UsageEntry) {
	t.Helper()

	if expected.RequestID != "" {
		assert.Equal(t, expected.RequestID, actual.RequestID, "request ID mismatch")
	}
	if expected.ResponseID != "" {
		assert.Equal(t, expected.ResponseID, actual.ResponseID, "response ID mismatch")
	}
	if expected.Provider != "" {
		assert.Equal(t, expected.Provider, actual.Provider, "provider mismatch")
	}
	if expected.Model != "" {
		assert.Equal(t, expected.Model, actual.Model, "model mismatch")
	}
	if expected.Operation != "" {
		assert.Equal(t, expected.Operation, actual.Operation, "operation mismatch")
	}
	if expected.Status != "" {
		assert.Equal(t, expected.Status, actual.Status, "status mismatch")
	}
	if expected.ErrorType != "" {
		assert.Equal(t, expected.ErrorType, actual.ErrorType, "error type mismatch")
	}
	if expected.UpstreamStatus != 0 {
		assert.Equal(t, expected.UpstreamStatus, actual.UpstreamStatus, "upstream status mismatch")
	}
	if expected.Fragments != 0 {
		assert.Equal(t, expected.Fragments, actual.Fragments, "fragments mismatch")
	}
	if expected.ContentLength != 0 {
		assert.Equal(t, expected.ContentLength, actual.ContentLength, "content length mismatch")
	}
	if expected.StreamEnd != "" {
		assert.Equal(t, expected.StreamEnd, actual.StreamEnd, "stream end mismatch")
	}
}

// AssertNoErrorType verifies that the entry has no error type set.
func AssertNoErrorType(t *testing.T, entry UsageEntry) {
	t.Helper()
	assert.Empty(t, entry.ErrorType, "expected no error type, got: %s", entry.ErrorType)
}
