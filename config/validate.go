package config

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	minBodySizeLimit = 1 << 10   // 1K
	maxBodySizeLimit = 100 << 20 // 100M
)

var bodySizePattern = regexp.MustCompile(`^(\d+)([KMG]B?)?$`)

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port <= 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: invalid port %q", c.Server.Port))
	}
	if err := ValidateBodySizeLimit(c.Server.BodySizeLimit); err != nil {
		errs = append(errs, fmt.Errorf("server.body_size_limit: %w", err))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "pretty", "auto":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q (valid: json, pretty, auto)", c.Logging.Format))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Endpoint, "/") {
		errs = append(errs, fmt.Errorf("metrics.endpoint: must start with '/', got %q", c.Metrics.Endpoint))
	}

	if c.HTTP.Timeout < 0 || c.HTTP.ResponseHeaderTimeout < 0 {
		errs = append(errs, errors.New("http: timeouts must not be negative"))
	}

	if c.Usage.Enabled {
		if c.Usage.BufferSize < 0 {
			errs = append(errs, fmt.Errorf("usage.buffer_size: must not be negative"))
		}
		if c.Usage.RetentionDays < 0 {
			errs = append(errs, fmt.Errorf("usage.retention_days: must not be negative"))
		}
		switch c.Storage.Type {
		case "sqlite":
		case "postgresql":
			if c.Storage.PostgreSQL.URL == "" {
				errs = append(errs, errors.New("storage.postgresql.url is required"))
			}
		case "mongodb":
			if c.Storage.MongoDB.URL == "" {
				errs = append(errs, errors.New("storage.mongodb.url is required"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.type: unknown type %q (valid: sqlite, postgresql, mongodb)", c.Storage.Type))
		}
	}

	for id, p := range c.Providers {
		if strings.Contains(p.EndpointURL, "${") {
			errs = append(errs, fmt.Errorf("providers.%s.endpoint_url: unresolved placeholder in %q", id, p.EndpointURL))
		}
	}

	return errors.Join(errs...)
}

// ValidateBodySizeLimit checks a size such as "512K", "10M" or "10MB".
// Empty means the default. The value must be between 1K and 100M.
func ValidateBodySizeLimit(s string) error {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return nil
	}

	m := bodySizePattern.FindStringSubmatch(s)
	if m == nil {
		return fmt.Errorf("invalid size %q (expected e.g. 512K, 10M)", s)
	}

	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	switch strings.TrimSuffix(m[2], "B") {
	case "K":
		n <<= 10
	case "M":
		n <<= 20
	case "G":
		n <<= 30
	}

	if n < minBodySizeLimit || n > maxBodySizeLimit {
		return fmt.Errorf("size %q out of range (1K to 100M)", s)
	}
	return nil
}
