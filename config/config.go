// Package config provides configuration management for the application.
//
// Values are resolved in this order, later sources winning:
//  1. built-in defaults
//  2. config.yaml (path from CONFIG_FILE), with ${VAR} and ${VAR:-default} expansion
//  3. environment variables, including those loaded from a .env file
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig              `yaml:"server"`
	HTTP      HTTPConfig                `yaml:"http"`
	Logging   LogConfig                 `yaml:"logging"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Usage     UsageConfig               `yaml:"usage"`
	Storage   StorageConfig             `yaml:"storage"`
	Providers map[string]ProviderConfig `yaml:"providers"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `yaml:"port"`
	// Environment is reported by the health endpoint.
	Environment string `yaml:"environment"`
	// BodySizeLimit caps request bodies, e.g. "1M" or "512K".
	BodySizeLimit   string   `yaml:"body_size_limit"`
	CORSOrigins     []string `yaml:"cors_origins"`
	GraphiQLEnabled bool     `yaml:"graphiql_enabled"`
}

// HTTPConfig holds the outbound HTTP client timeouts.
type HTTPConfig struct {
	Timeout               Duration `yaml:"timeout"`
	ResponseHeaderTimeout Duration `yaml:"response_header_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	// Format is "json", "pretty" or "auto" (pretty on a terminal).
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// UsageConfig holds usage tracking configuration
type UsageConfig struct {
	Enabled       bool     `yaml:"enabled"`
	BufferSize    int      `yaml:"buffer_size"`
	FlushInterval Duration `yaml:"flush_interval"`
	RetentionDays int      `yaml:"retention_days"`
}

// StorageConfig selects and configures the usage database.
type StorageConfig struct {
	// Type is "sqlite", "postgresql" or "mongodb".
	Type       string                  `yaml:"type"`
	SQLite     SQLiteStorageConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLStorageConfig `yaml:"postgresql"`
	MongoDB    MongoDBStorageConfig    `yaml:"mongodb"`
}

// SQLiteStorageConfig holds SQLite-specific storage configuration
type SQLiteStorageConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLStorageConfig holds PostgreSQL-specific storage configuration
type PostgreSQLStorageConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBStorageConfig holds MongoDB-specific storage configuration
type MongoDBStorageConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// ProviderConfig overrides settings of a built-in provider.
// Keys in Config.Providers are provider ids such as OPENAI.
type ProviderConfig struct {
	EndpointURL string `yaml:"endpoint_url"`
}

// Duration is a time.Duration that reads either integer seconds or a Go
// duration string ("90s", "10m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// providerIDs are the providers whose endpoints can be overridden from the
// environment as <ID>_ENDPOINT_URL.
var providerIDs = []string{"OPENAI", "DEEPSEEK"}

// Load reads configuration from defaults, the optional YAML file and the
// environment. A missing .env or config file is not an error.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := buildDefaultConfig()

	path, err := findConfigFile()
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := loadYAML(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// buildDefaultConfig returns the configuration used when nothing is set.
func buildDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Environment:     "unknown",
			BodySizeLimit:   "1M",
			CORSOrigins:     []string{"*"},
			GraphiQLEnabled: true,
		},
		HTTP: HTTPConfig{
			Timeout:               Duration(600 * time.Second),
			ResponseHeaderTimeout: Duration(600 * time.Second),
		},
		Logging: LogConfig{
			Format: "auto",
			Level:  "info",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
		Usage: UsageConfig{
			Enabled:       false,
			BufferSize:    1000,
			FlushInterval: Duration(5 * time.Second),
			RetentionDays: 90,
		},
		Storage: StorageConfig{
			Type: "sqlite",
			SQLite: SQLiteStorageConfig{
				Path: "data/aichat.db",
			},
			PostgreSQL: PostgreSQLStorageConfig{
				MaxConns: 10,
			},
			MongoDB: MongoDBStorageConfig{
				Database: "aichat",
			},
		},
		Providers: map[string]ProviderConfig{},
	}
}

// findConfigFile returns the YAML file to read, or "" when there is none.
// CONFIG_FILE must exist when set.
func findConfigFile() (string, error) {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}
	for _, candidate := range []string{"config.yaml", "config/config.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", nil
}

func loadYAML(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal([]byte(expandString(string(raw))), cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Provider keys are matched case-insensitively.
	normalized := make(map[string]ProviderConfig, len(cfg.Providers))
	for id, p := range cfg.Providers {
		normalized[strings.ToUpper(id)] = p
	}
	cfg.Providers = normalized
	return nil
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} with the value of VAR and ${VAR:-default}
// with the value of VAR or default when VAR is unset or empty. ${VAR}
// placeholders without a default whose variable is unset or empty are left
// as-is so they are visible in validation errors.
func expandString(s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]

		if val := os.Getenv(name); val != "" {
			return val
		}
		if hasDefault {
			return def
		}
		return match
	})
}

// applyEnvOverrides overwrites config values with any set environment variables.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid boolean %q", key, v))
				return
			}
			*dst = b
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: invalid integer %q", key, v))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = Duration(d)
		}
	}

	setString("PORT", &cfg.Server.Port)
	setString("ENVIRONMENT", &cfg.Server.Environment)
	setString("BODY_SIZE_LIMIT", &cfg.Server.BodySizeLimit)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	setBool("GRAPHIQL_ENABLED", &cfg.Server.GraphiQLEnabled)

	setDuration("HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	setDuration("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout)

	setString("LOG_FORMAT", &cfg.Logging.Format)
	setString("LOG_LEVEL", &cfg.Logging.Level)

	setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	setString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	setBool("USAGE_ENABLED", &cfg.Usage.Enabled)
	setInt("USAGE_BUFFER_SIZE", &cfg.Usage.BufferSize)
	setDuration("USAGE_FLUSH_INTERVAL", &cfg.Usage.FlushInterval)
	setInt("USAGE_RETENTION_DAYS", &cfg.Usage.RetentionDays)

	setString("STORAGE_TYPE", &cfg.Storage.Type)
	setString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	setInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	setString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	setString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	for _, id := range providerIDs {
		if v := os.Getenv(id + "_ENDPOINT_URL"); v != "" {
			if cfg.Providers == nil {
				cfg.Providers = map[string]ProviderConfig{}
			}
			p := cfg.Providers[id]
			p.EndpointURL = v
			cfg.Providers[id] = p
		}
	}

	return errors.Join(errs...)
}

// parseDuration accepts plain integers (seconds) or Go duration strings.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
