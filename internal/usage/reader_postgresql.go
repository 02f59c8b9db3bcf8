package usage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLReader implements UsageReader for PostgreSQL databases.
type PostgreSQLReader struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLReader creates a new PostgreSQL usage reader.
func NewPostgreSQLReader(pool *pgxpool.Pool) (*PostgreSQLReader, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLReader{pool: pool}, nil
}

func (r *PostgreSQLReader) GetSummary(ctx context.Context, params SummaryParams) (*Summary, error) {
	var conditions []string
	var args []any

	if !params.Since.IsZero() {
		args = append(args, params.Since.UTC())
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", len(args)))
	}
	if params.Provider != "" {
		args = append(args, params.Provider)
		conditions = append(conditions, fmt.Sprintf("provider = $%d", len(args)))
	}

	query := "SELECT " + summaryColumns + " FROM " + tableName + buildWhereClause(conditions)

	s := &Summary{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&s.TotalRequests, &s.SuccessCount, &s.ErrorCount, &s.StreamRequests,
		&s.TotalFragments, &s.TotalContentLength, &s.AvgDurationMs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	return s, nil
}
