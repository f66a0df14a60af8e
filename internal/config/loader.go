package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/companyimport/internal/core"
)

// Store driver names.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables, applies defaults for
// unset values and validates the result.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// envTags is the parsed tag set of one config field.
type envTags struct {
	name     string
	alt      string
	def      string
	unit     string
	required bool
}

func tagsOf(f reflect.StructField) envTags {
	return envTags{
		name:     f.Tag.Get("env"),
		alt:      f.Tag.Get("envAlt"),
		def:      f.Tag.Get("default"),
		unit:     f.Tag.Get("unit"),
		required: f.Tag.Get("required") == "true",
	}
}

// lookup returns the primary variable, then the alternate, then the default.
func (t envTags) lookup() (string, error) {
	if v := os.Getenv(t.name); v != "" {
		return v, nil
	}
	if t.alt != "" {
		if v := os.Getenv(t.alt); v != "" {
			return v, nil
		}
	}
	if t.required {
		return "", fmt.Errorf("required environment variable %s is not set", t.name)
	}
	return t.def, nil
}

// loadStruct populates tagged fields from the environment, recursing into
// nested section structs.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		tags := tagsOf(field)
		if tags.name == "" {
			continue
		}

		value, err := tags.lookup()
		if err != nil {
			return err
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value, tags.unit); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", tags.name, value, err)
		}
	}

	return nil
}

// setField parses value into field according to its kind.
func setField(field reflect.Value, value, unit string) error {
	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))

	case field.Kind() == reflect.Int64 && unit == "bytes":
		n, err := parseByteSize(value)
		if err != nil {
			return err
		}
		field.SetInt(n)

	case field.Kind() == reflect.Int || field.Kind() == reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case field.Kind() == reflect.String:
		field.SetString(value)

	case field.Kind() == reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		field.Set(reflect.ValueOf(splitList(value)))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}

	return nil
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var byteUnits = []struct {
	suffix string
	mult   int64
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// parseByteSize accepts a plain byte count or a binary size such as "50MB" or "512KB".
func parseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size: %w", err)
	}
	if n < 0 || n > (1<<62)/mult {
		return 0, fmt.Errorf("size out of range")
	}
	return n * mult, nil
}

// Validate checks every section and reports all failures at once.
func (c *Config) Validate() error {
	var errs []string
	errs = append(errs, c.Database.validate()...)
	errs = append(errs, c.Server.validate()...)
	errs = append(errs, c.Upload.validate()...)
	errs = append(errs, c.Ingest.validate()...)
	errs = append(errs, c.Rate.validate()...)
	errs = append(errs, c.Security.validate()...)
	errs = append(errs, c.Events.validate()...)
	errs = append(errs, c.Logging.validate()...)
	errs = append(errs, c.validateUploadBudget()...)

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validateUploadBudget rejects a write timeout that can close the connection
// while a synchronous upload is still allowed to run or commit.
func (c *Config) validateUploadBudget() []string {
	if c.Server.WriteTimeout <= 0 {
		return nil
	}
	budget := c.Upload.MaxWaitTime + c.Upload.Timeout + c.Upload.CommitTimeout
	if c.Server.WriteTimeout <= budget {
		return []string{fmt.Sprintf(
			"SERVER_WRITE_TIMEOUT (%s) must exceed UPLOAD_MAX_WAIT_TIME + UPLOAD_TIMEOUT + UPLOAD_COMMIT_TIMEOUT (%s)",
			c.Server.WriteTimeout, budget)}
	}
	return nil
}

func (d *DatabaseConfig) validate() []string {
	var errs []string
	switch strings.ToLower(d.Driver) {
	case DriverPostgres:
		if d.MaxConns < d.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", d.MaxConns, d.MinConns))
		}
		if d.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if d.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	case DriverSQLite:
		// single connection, pool sizes do not apply
	default:
		errs = append(errs, fmt.Sprintf("DB_DRIVER (%q) must be one of: postgres, sqlite", d.Driver))
	}
	if d.URL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	return errs
}

func (s *ServerConfig) validate() []string {
	var errs []string
	if s.Port <= 0 || s.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", s.Port))
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}
	return errs
}

func (u *UploadConfig) validate() []string {
	var errs []string
	positive := []struct {
		name string
		ok   bool
	}{
		{"UPLOAD_MAX_FILE_SIZE", u.MaxFileSize > 0},
		{"UPLOAD_MAX_CONCURRENT", u.MaxConcurrent > 0},
		{"UPLOAD_MAX_WAIT_TIME", u.MaxWaitTime > 0},
		{"UPLOAD_TIMEOUT", u.Timeout > 0},
		{"UPLOAD_COMMIT_TIMEOUT", u.CommitTimeout > 0},
	}
	for _, p := range positive {
		if !p.ok {
			errs = append(errs, p.name+" must be positive")
		}
	}
	return errs
}

func (i *IngestConfig) validate() []string {
	if _, err := core.ParseDedupPolicy(i.DedupPolicy); err != nil {
		return []string{fmt.Sprintf("INGEST_DEDUP_POLICY: %v", err)}
	}
	return nil
}

func (r *RateLimitConfig) validate() []string {
	if !r.Enabled {
		return nil
	}
	var errs []string
	if r.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}
	if r.UploadLimit <= 0 {
		errs = append(errs, "RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}
	return errs
}

func (s *SecurityConfig) validate() []string {
	var errs []string
	if s.RequireAPIKey && len(s.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}
	if strings.TrimSpace(s.OwnerHeader) == "" {
		errs = append(errs, "OWNER_HEADER must not be empty")
	}
	return errs
}

func (e *EventsConfig) validate() []string {
	if len(e.KafkaBrokers) > 0 && e.KafkaTopic == "" {
		return []string{"EVENTS_KAFKA_TOPIC is required when EVENTS_KAFKA_BROKERS is set"}
	}
	return nil
}

func (l *LoggingConfig) validate() []string {
	var errs []string
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", l.Level))
	}
	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", l.Format))
	}
	return errs
}

// String returns a loggable summary of the config. The database URL is
// masked and API keys are reported by count only.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Config{Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Database: {Driver: %q, URL: [MASKED], MaxConns: %d, MinConns: %d}, ",
		c.Database.Driver, c.Database.MaxConns, c.Database.MinConns)
	fmt.Fprintf(&b, "Upload: {MaxFileSize: %d, MaxConcurrent: %d, Timeout: %s}, ",
		c.Upload.MaxFileSize, c.Upload.MaxConcurrent, c.Upload.Timeout)
	fmt.Fprintf(&b, "Ingest: {DedupPolicy: %q, VerifyINNChecksum: %v}, ",
		c.Ingest.DedupPolicy, c.Ingest.VerifyINNChecksum)
	fmt.Fprintf(&b, "Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: %d}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Events: {KafkaBrokers: %d, KafkaTopic: %q}, ",
		len(c.Events.KafkaBrokers), c.Events.KafkaTopic)
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}}", c.Logging.Level, c.Logging.Format)
	return b.String()
}
