//go:build integration

// Package dbassert reads usage rows straight from the databases and asserts
// on them.
package dbassert

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// usageTable is the table (or collection) the usage stores write to.
const usageTable = "chat_usage"

// UsageEntry mirrors usage.UsageEntry for test assertions.
type UsageEntry struct {
	ID             string
	RequestID      string
	ResponseID     string
	Timestamp      time.Time
	Provider       string
	Model          string
	Operation      string
	Status         string
	ErrorType      string
	UpstreamStatus int
	Fragments      int
	ContentLength  int
	StreamEnd      string
	DurationMs     int64
}

// QueryUsageByRequestID queries usage entries by request ID from PostgreSQL.
func QueryUsageByRequestID(t *testing.T, pool *pgxpool.Pool, requestID string) []UsageEntry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query := `
		SELECT id::text, request_id, response_id, timestamp, provider, model, operation,
		       status, error_type, upstream_status, fragments, content_length, stream_end, duration_ms
		FROM ` + usageTable + `
		WHERE request_id = $1
		ORDER BY timestamp ASC
	`

	rows, err := pool.Query(ctx, query, requestID)
	require.NoError(t, err, "failed to query usage entries")
	defer rows.Close()

	var entries []UsageEntry
	for rows.Next() {
		var e UsageEntry
		err := rows.Scan(
			&e.ID, &e.RequestID, &e.ResponseID, &e.Timestamp, &e.Provider, &e.Model, &e.Operation,
			&e.Status, &e.ErrorType, &e.UpstreamStatus, &e.Fragments, &e.ContentLength, &e.StreamEnd, &e.DurationMs,
		)
		require.NoError(t, err, "failed to scan usage row")
		entries = append(entries, e)
	}
	require.NoError(t, rows.Err(), "error iterating usage rows")

	return entries
}

// QueryUsageByRequestIDMongo queries usage entries by request ID from MongoDB.
func QueryUsageByRequestIDMongo(t *testing.T, db *mongo.Database, requestID string) []UsageEntry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cursor, err := db.Collection(usageTable).Find(ctx, bson.M{"request_id": requestID})
	require.NoError(t, err, "failed to query usage entries from MongoDB")
	defer cursor.Close(ctx)

	var entries []UsageEntry
	for cursor.Next(ctx) {
		var doc bson.M
		require.NoError(t, cursor.Decode(&doc), "failed to decode usage document")
		entries = append(entries, bsonToUsageEntry(doc))
	}
	require.NoError(t, cursor.Err(), "error iterating usage cursor")

	return entries
}

// CountUsage returns the total count of usage entries in PostgreSQL.
func CountUsage(t *testing.T, pool *pgxpool.Pool) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var count int
	err := pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+usageTable).Scan(&count)
	require.NoError(t, err, "failed to count usage entries")

	return count
}

// ClearUsage deletes all usage entries from PostgreSQL.
func ClearUsage(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := pool.Exec(ctx, "DELETE FROM "+usageTable)
	require.NoError(t, err, "failed to clear usage entries")
}

// ClearUsageMongo deletes all usage entries from MongoDB.
func ClearUsageMongo(t *testing.T, db *mongo.Database) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := db.Collection(usageTable).DeleteMany(ctx, bson.M{})
	require.NoError(t, err, "failed to clear usage entries from MongoDB")
}

// bsonToUsageEntry converts a BSON document to a UsageEntry.
func bsonToUsageEntry(doc bson.M) UsageEntry {
	e := UsageEntry{
		ID:         stringField(doc, "_id"),
		RequestID:  stringField(doc, "request_id"),
		ResponseID: stringField(doc, "response_id"),
		Provider:   stringField(doc, "provider"),
		Model:      stringField(doc, "model"),
		Operation:  stringField(doc, "operation"),
		Status:     stringField(doc, "status"),
		ErrorType:  stringField(doc, "error_type"),
		StreamEnd:  stringField(doc, "stream_end"),

		UpstreamStatus: int(intField(doc, "upstream_status")),
		Fragments:      int(intField(doc, "fragments")),
		ContentLength:  int(intField(doc, "content_length")),
		DurationMs:     intField(doc, "duration_ms"),
	}

	switch v := doc["timestamp"].(type) {
	case time.Time:
		e.Timestamp = v
	case bson.DateTime:
		e.Timestamp = v.Time()
	}

	return e
}

func stringField(doc bson.M, key string) string {
	v, _ := doc[key].(string)
	return v
}

// intField reads an integer that BSON may have stored as int32 or int64.
func intField(doc bson.M, key string) int64 {
	switch v := doc[key].(type) {
	case int32:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
