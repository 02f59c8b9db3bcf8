package usage

import (
	"context"
	"strings"
	"time"
)

// SummaryParams filters the entries a summary covers. Zero values match all.
type SummaryParams struct {
	Since    time.Time
	Provider string
}

// Summary aggregates usage entries.
type Summary struct {
	TotalRequests      int64   `json:"total_requests"`
	SuccessCount       int64   `json:"success_count"`
	ErrorCount         int64   `json:"error_count"`
	StreamRequests     int64   `json:"stream_requests"`
	TotalFragments     int64   `json:"total_fragments"`
	TotalContentLength int64   `json:"total_content_length"`
	AvgDurationMs      float64 `json:"avg_duration_ms"`
}

// UsageReader provides read access to recorded usage.
type UsageReader interface {
	GetSummary(ctx context.Context, params SummaryParams) (*Summary, error)
}

// summaryColumns is shared by the SQL readers.
const summaryColumns = `COUNT(*),
	COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN operation = 'message_stream' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(fragments), 0),
	COALESCE(SUM(content_length), 0),
	COALESCE(AVG(duration_ms), 0)`

// buildWhereClause joins condition strings into a SQL WHERE clause.
// Returns an empty string when conditions is empty.
func buildWhereClause(conditions []string) string {
	if len(conditions) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conditions, " AND ")
}
