package usage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertPostgreSQL = `
	INSERT INTO ` + tableName + ` (id, request_id, response_id, timestamp, provider, model,
		operation, status, error_type, upstream_status, fragments, content_length, stream_end, duration_ms)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO NOTHING`

// PostgreSQLStore implements UsageStore for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLStore creates the usage table and indexes if needed and
// starts retention cleanup when retentionDays is positive.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL,
			response_id TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			error_type TEXT NOT NULL DEFAULT '',
			upstream_status INTEGER NOT NULL DEFAULT 0,
			fragments INTEGER NOT NULL DEFAULT 0,
			content_length INTEGER NOT NULL DEFAULT 0,
			stream_end TEXT NOT NULL DEFAULT '',
			duration_ms BIGINT NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_chat_usage_timestamp ON " + tableName + "(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_chat_usage_request_id ON " + tableName + "(request_id)",
		"CREATE INDEX IF NOT EXISTS idx_chat_usage_provider ON " + tableName + "(provider)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, CleanupInterval, store.cleanup)
	}

	return store, nil
}

// WriteBatch sends all inserts in one pgx batch inside a transaction.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insertPostgreSQL,
			e.ID, e.RequestID, e.ResponseID, e.Timestamp.UTC(), e.Provider, e.Model,
			e.Operation, e.Status, e.ErrorType, e.UpstreamStatus, e.Fragments,
			e.ContentLength, e.StreamEnd, e.DurationMs)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert %d usage entries: %w", len(entries), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Flush is a no-op for PostgreSQL as writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The pool belongs to the storage layer.
// Safe to call multiple times.
func (s *PostgreSQLStore) Close() error {
	if s.retentionDays > 0 && s.stopCleanup != nil {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

func (s *PostgreSQLStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.pool.Exec(ctx, "DELETE FROM "+tableName+" WHERE timestamp < $1", retentionCutoff(time.Now(), s.retentionDays))
	if err != nil {
		slog.Error("failed to cleanup old usage entries", "error", err)
		return
	}

	if result.RowsAffected() > 0 {
		slog.Info("cleaned up old usage entries", "deleted", result.RowsAffected())
	}
}
