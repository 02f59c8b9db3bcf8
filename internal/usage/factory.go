package usage

import (
	"context"
	"errors"
	"fmt"

	"aichat/config"
	"aichat/internal/storage"
)

// Result holds the initialized usage logger and its dependencies.
// The caller is responsible for calling Close() to release resources.
type Result struct {
	Logger LoggerInterface
	// Reader is nil when usage tracking is disabled.
	Reader  UsageReader
	Storage storage.Storage
}

// Close flushes the logger and then closes storage.
// Safe to call multiple times.
func (r *Result) Close() error {
	var errs []error
	if r.Logger != nil {
		if err := r.Logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("logger close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
		r.Storage = nil
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates a usage logger from configuration. When usage tracking is
// disabled it returns a NoopLogger and opens no storage.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if !cfg.Usage.Enabled {
		return &Result{Logger: &NoopLogger{}}, nil
	}

	store, err := storage.New(ctx, buildStorageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	usageStore, reader, err := createBackend(ctx, store, cfg.Usage.RetentionDays)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Result{
		Logger:  NewLogger(usageStore, buildLoggerConfig(cfg.Usage)),
		Reader:  reader,
		Storage: store,
	}, nil
}

// buildStorageConfig creates a storage.Config from the application config.
func buildStorageConfig(cfg *config.Config) storage.Config {
	defaults := storage.DefaultConfig()
	storageCfg := storage.Config{
		Type: cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLite.Path,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgreSQL.URL,
			MaxConns: cfg.Storage.PostgreSQL.MaxConns,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoDB.URL,
			Database: cfg.Storage.MongoDB.Database,
		},
	}

	if storageCfg.Type == "" {
		storageCfg.Type = defaults.Type
	}
	if storageCfg.SQLite.Path == "" {
		storageCfg.SQLite.Path = defaults.SQLite.Path
	}
	if storageCfg.MongoDB.Database == "" {
		storageCfg.MongoDB.Database = defaults.MongoDB.Database
	}

	return storageCfg
}

// createBackend builds the store and reader for the active storage backend.
func createBackend(ctx context.Context, store storage.Storage, retentionDays int) (UsageStore, UsageReader, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		s, err := NewSQLiteStore(store.SQLiteDB(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewSQLiteReader(store.SQLiteDB())
		return withReader(s, r, err)

	case storage.TypePostgreSQL:
		s, err := NewPostgreSQLStore(ctx, store.PostgreSQLPool(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewPostgreSQLReader(store.PostgreSQLPool())
		return withReader(s, r, err)

	case storage.TypeMongoDB:
		s, err := NewMongoDBStore(ctx, store.MongoDatabase(), retentionDays)
		if err != nil {
			return nil, nil, err
		}
		r, err := NewMongoDBReader(store.MongoDatabase())
		return withReader(s, r, err)

	default:
		return nil, nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}

// withReader pairs a store with its reader. When the reader could not be
// built the store is closed, which stops its cleanup loop.
func withReader(s UsageStore, r UsageReader, err error) (UsageStore, UsageReader, error) {
	if err != nil {
		if closeErr := s.Close(); closeErr != nil {
			return nil, nil, errors.Join(err, fmt.Errorf("store close: %w", closeErr))
		}
		return nil, nil, err
	}
	return s, r, nil
}

// buildLoggerConfig creates a usage.Config from config.UsageConfig.
func buildLoggerConfig(usageCfg config.UsageConfig) Config {
	defaults := DefaultConfig()
	cfg := Config{
		Enabled:       usageCfg.Enabled,
		BufferSize:    usageCfg.BufferSize,
		FlushInterval: usageCfg.FlushInterval.Std(),
		RetentionDays: usageCfg.RetentionDays,
	}

	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaults.BufferSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}

	return cfg
}
