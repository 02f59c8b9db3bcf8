package usage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// MongoDBReader implements UsageReader for MongoDB.
type MongoDBReader struct {
	collection *mongo.Collection
}

// NewMongoDBReader creates a new MongoDB usage reader.
func NewMongoDBReader(database *mongo.Database) (*MongoDBReader, error) {
	if database == nil {
		return nil, fmt.Errorf("database is required")
	}
	return &MongoDBReader{collection: database.Collection(tableName)}, nil
}

func countIf(field, value string) bson.D {
	return bson.D{{Key: "$sum", Value: bson.D{{Key: "$cond", Value: bson.A{
		bson.D{{Key: "$eq", Value: bson.A{"$" + field, value}}}, 1, 0,
	}}}}}
}

func (r *MongoDBReader) GetSummary(ctx context.Context, params SummaryParams) (*Summary, error) {
	match := bson.D{}
	if !params.Since.IsZero() {
		match = append(match, bson.E{Key: "timestamp", Value: bson.D{{Key: "$gte", Value: params.Since.UTC()}}})
	}
	if params.Provider != "" {
		match = append(match, bson.E{Key: "provider", Value: params.Provider})
	}

	pipeline := bson.A{}
	if len(match) > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$match", Value: match}})
	}
	pipeline = append(pipeline, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: nil},
		{Key: "total_requests", Value: bson.D{{Key: "$sum", Value: 1}}},
		{Key: "success_count", Value: countIf("status", StatusSuccess)},
		{Key: "error_count", Value: countIf("status", StatusError)},
		{Key: "stream_requests", Value: countIf("operation", OperationMessageStream)},
		{Key: "total_fragments", Value: bson.D{{Key: "$sum", Value: "$fragments"}}},
		{Key: "total_content_length", Value: bson.D{{Key: "$sum", Value: "$content_length"}}},
		{Key: "avg_duration_ms", Value: bson.D{{Key: "$avg", Value: "$duration_ms"}}},
	}}})

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage summary: %w", err)
	}
	defer cursor.Close(ctx)

	s := &Summary{}
	if cursor.Next(ctx) {
		var row struct {
			TotalRequests      int64   `bson:"total_requests"`
			SuccessCount       int64   `bson:"success_count"`
			ErrorCount         int64   `bson:"error_count"`
			StreamRequests     int64   `bson:"stream_requests"`
			TotalFragments     int64   `bson:"total_fragments"`
			TotalContentLength int64   `bson:"total_content_length"`
			AvgDurationMs      float64 `bson:"avg_duration_ms"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode usage summary: %w", err)
		}
		*s = Summary(row)
	}

	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage summary cursor: %w", err)
	}

	return s, nil
}
