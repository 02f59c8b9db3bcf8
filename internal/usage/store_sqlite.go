package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite has a default limit of 999 bindable parameters per query (SQLITE_MAX_VARIABLE_NUMBER).
const (
	maxSQLiteParams      = 999
	columnsPerUsageEntry = 14
	maxEntriesPerBatch   = maxSQLiteParams / columnsPerUsageEntry
)

// sqliteTimeFormat is fixed width so stored timestamps sort as text.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements UsageStore for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore creates the usage table and indexes if needed and starts
// retention cleanup when retentionDays is positive.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ` + tableName + ` (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			response_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			operation TEXT NOT NULL,
			status TEXT NOT NULL,
			error_type TEXT NOT NULL DEFAULT '',
			upstream_status INTEGER NOT NULL DEFAULT 0,
			fragments INTEGER NOT NULL DEFAULT 0,
			content_length INTEGER NOT NULL DEFAULT 0,
			stream_end TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0
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
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, CleanupInterval, store.cleanup)
	}

	return store, nil
}

// WriteBatch inserts entries in chunks that stay within SQLite's parameter limit.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*UsageEntry) error {
	if len(entries) == 0 {
		return nil
	}

	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		end := min(i+maxEntriesPerBatch, len(entries))
		chunk := entries[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]any, 0, len(chunk)*columnsPerUsageEntry)

		for j, e := range chunk {
			placeholders[j] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
			values = append(values,
				e.ID,
				e.RequestID,
				e.ResponseID,
				e.Timestamp.UTC().Format(sqliteTimeFormat),
				e.Provider,
				e.Model,
				e.Operation,
				e.Status,
				e.ErrorType,
				e.UpstreamStatus,
				e.Fragments,
				e.ContentLength,
				e.StreamEnd,
				e.DurationMs,
			)
		}

		query := `INSERT OR IGNORE INTO ` + tableName + ` (id, request_id, response_id, timestamp, provider, model,
			operation, status, error_type, upstream_status, fragments, content_length, stream_end, duration_ms) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert usage batch %d: %w", i/maxEntriesPerBatch, err)
		}
	}

	return nil
}

// Flush is a no-op for SQLite as writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The database itself belongs to the
// storage layer. Safe to call multiple times.
func (s *SQLiteStore) Close() error {
	if s.retentionDays > 0 && s.stopCleanup != nil {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

func (s *SQLiteStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	cutoff := retentionCutoff(time.Now(), s.retentionDays).Format(sqliteTimeFormat)

	result, err := s.db.Exec("DELETE FROM "+tableName+" WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old usage entries", "error", err)
		return
	}

	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected > 0 {
		slog.Info("cleaned up old usage entries", "deleted", rowsAffected)
	}
}
