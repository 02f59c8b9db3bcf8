package usage

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteReader implements UsageReader for SQLite databases.
type SQLiteReader struct {
	db *sql.DB
}

// NewSQLiteReader creates a new SQLite usage reader.
func NewSQLiteReader(db *sql.DB) (*SQLiteReader, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteReader{db: db}, nil
}

func (r *SQLiteReader) GetSummary(ctx context.Context, params SummaryParams) (*Summary, error) {
	var conditions []string
	var args []any

	if !params.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, params.Since.UTC().Format(sqliteTimeFormat))
	}
	if params.Provider != "" {
		conditions = append(conditions, "provider = ?")
		args = append(args, params.Provider)
	}

	query := "SELECT " + summaryColumns + " FROM " + tableName + buildWhereClause(conditions)

	s := &Summary{}
	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&s.TotalRequests, &s.SuccessCount, &s.ErrorCount, &s.StreamRequests,
		&s.TotalFragments, &s.TotalContentLength, &s.AvgDurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	return s, nil
}
