package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Lookup reads one variable and reports whether it was set.
type Lookup func(key string) (string, bool)

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom fills a Config from lookup using each field's tags:
//
//	env:"NAME"      variable to read
//	envAlt:"NAME"   fallback variable when the first is empty
//	default:"..."   value used when neither is set
//	unit:"bytes"    integer that also accepts KB/MB/GB and KiB/MiB/GiB
//
// Every malformed value is reported before validation runs.
func LoadFrom(lookup Lookup) (*Config, error) {
	cfg := &Config{}

	var errs []string
	bind(reflect.ValueOf(cfg).Elem(), lookup, &errs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("config load:\n  - %s", strings.Join(errs, "\n  - "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func bind(v reflect.Value, lookup Lookup, errs *[]string) {
	t := v.Type()
	for i := range t.NumField() {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Struct {
			bind(v.Field(i), lookup, errs)
			continue
		}

		key := field.Tag.Get("env")
		if key == "" {
			continue
		}
		raw, source := resolve(lookup, key, field.Tag.Get("envAlt"), field.Tag.Get("default"))
		if raw == "" {
			continue
		}
		if err := decode(v.Field(i), raw, field.Tag.Get("unit")); err != nil {
			*errs = append(*errs, fmt.Sprintf("%s=%q: %v", source, raw, err))
		}
	}
}

// resolve returns the raw value and the name to blame when it is invalid.
func resolve(lookup Lookup, key, alt, def string) (string, string) {
	if v, ok := lookup(key); ok && v != "" {
		return v, key
	}
	if alt != "" {
		if v, ok := lookup(alt); ok && v != "" {
			return v, alt
		}
	}
	return def, key + " (default)"
}

func decode(field reflect.Value, raw, unit string) error {
	switch p := field.Addr().Interface().(type) {
	case *string:
		*p = raw
	case *bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean")
		}
		*p = b
	case *time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration")
		}
		*p = d
	case *int:
		n, err := parseInt(raw, unit)
		if err != nil {
			return err
		}
		*p = int(n)
	case *int64:
		n, err := parseInt(raw, unit)
		if err != nil {
			return err
		}
		*p = n
	case *[]string:
		*p = splitList(raw)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

func parseInt(raw, unit string) (int64, error) {
	if unit == "bytes" {
		return ParseBytes(raw)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer")
	}
	return n, nil
}

var byteUnits = []struct {
	suffix string
	factor int64
}{
	{"kib", 1 << 10}, {"mib", 1 << 20}, {"gib", 1 << 30},
	{"kb", 1000}, {"mb", 1000 * 1000}, {"gb", 1000 * 1000 * 1000},
	{"b", 1},
}

// ParseBytes reads a byte count such as "32768", "32KiB" or "1.5 GB".
func ParseBytes(raw string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	factor := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, factor = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.factor
			break
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n < 0 || (n > 0 && factor > (1<<63-1)/n) {
			return 0, fmt.Errorf("byte size out of range")
		}
		return n * factor, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size")
	}
	total := f * float64(factor)
	if f < 0 || total >= 1<<63 {
		return 0, fmt.Errorf("byte size out of range")
	}
	return int64(total), nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Store validation
	switch strings.ToLower(c.Store.Driver) {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER (%q) must be one of: postgres, memory", c.Store.Driver))
	}

	for _, entry := range c.Store.SeedActors {
		if parts := strings.Split(strings.TrimSpace(entry), ":"); len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			errs = append(errs, fmt.Sprintf("SEED_ACTORS entry %q must look like id:role[:name]", entry))
		}
	}

	// Database validation
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}
	if c.Database.MaxConns <= 0 {
		errs = append(errs, "DB_MAX_CONNS must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "DB_MIN_CONNS must be non-negative")
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Server.MaxUploadSize <= 0 {
		errs = append(errs, "SERVER_MAX_UPLOAD_SIZE must be positive")
	}

	// Exchange validation
	if c.Exchange.SchemaVersion == "" {
		errs = append(errs, "EXCHANGE_SCHEMA_VERSION must not be empty")
	}
	if c.Exchange.ChunkSize <= 0 {
		errs = append(errs, "EXCHANGE_CHUNK_SIZE must be positive")
	}
	if c.Exchange.MaxEntrySize <= 0 {
		errs = append(errs, "EXCHANGE_MAX_ENTRY_SIZE must be positive")
	}
	if c.Exchange.MaxConcurrent <= 0 {
		errs = append(errs, "EXCHANGE_MAX_CONCURRENT must be positive")
	}
	if c.Exchange.MaxWaitTime <= 0 {
		errs = append(errs, "EXCHANGE_MAX_WAIT_TIME must be positive")
	}
	if c.Exchange.ExportParallelism <= 0 {
		errs = append(errs, "EXCHANGE_EXPORT_PARALLELISM must be positive")
	}
	if m := strings.ToLower(c.Exchange.DefaultMode); m != "merge" && m != "append" {
		errs = append(errs, fmt.Sprintf("EXCHANGE_DEFAULT_MODE (%q) must be one of: merge, append", c.Exchange.DefaultMode))
	}
	if c.Exchange.ImportActor == "" {
		errs = append(errs, "EXCHANGE_IMPORT_ACTOR must not be empty")
	}

	// Cache validation
	if c.Cache.ActorSize <= 0 {
		errs = append(errs, "CACHE_ACTOR_SIZE must be positive")
	}
	if c.Cache.ActorTTL <= 0 {
		errs = append(errs, "CACHE_ACTOR_TTL must be positive")
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if c.Rate.Enabled && c.Rate.ExchangeLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_EXCHANGE must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Metrics validation
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, fmt.Sprintf("METRICS_PATH (%q) must start with /", c.Metrics.Path))
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true, "pretty": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json, pretty", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Store: {Driver: %q}, ", c.Store.Driver))
	b.WriteString(fmt.Sprintf("Database: {URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Exchange: {SchemaVersion: %q, MaxConcurrent: %d, DefaultMode: %q}, ",
		c.Exchange.SchemaVersion, c.Exchange.MaxConcurrent, c.Exchange.DefaultMode))
	b.WriteString(fmt.Sprintf("Security: {RequireAPIKey: %v, APIKeys: [%d MASKED]}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
