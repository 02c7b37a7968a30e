// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server, storage,
// webhook ingestion, scheduling, alerting, notification and observability
// settings for the reconciler.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects the record store driver and its connection string.
type DBConfig struct {
	Driver string // sqlite|postgres|mysql
	DSN    string // DB_DSN, or DB_PATH for sqlite
}

// WebhookConfig controls inbound gateway event ingestion.
type WebhookConfig struct {
	Secret            string        // shared secret; empty disables the check
	Timeout           time.Duration // per-event processing bound
	IdempotencyWindow time.Duration // fingerprint time bucket
	IdempotencyTTL    time.Duration // ledger record lifetime
	Retention         time.Duration // webhook log retention
	MaxBodyBytes      int64
}

// SchedulerConfig controls the periodic jobs.
type SchedulerConfig struct {
	ProbeInterval       time.Duration
	ProbeWindow         time.Duration // trailing window for rate/count probes
	StaleAfter          time.Duration // unprocessed webhook age considered stale
	SweepInterval       time.Duration
	ConsistencyInterval time.Duration
	ThresholdsFile      string // optional YAML ladder overrides
}

// NotifyConfig selects the notification dispatcher backend.
type NotifyConfig struct {
	Backend       string // outbox|redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Queue         string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	DB DBConfig

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	Webhook   WebhookConfig
	Scheduler SchedulerConfig
	Notify    NotifyConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadDotenv reads key=value pairs from the given files (default ".env")
// into the process environment without overriding variables already set.
// Missing files are ignored.
func LoadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	return godotenv.Load(present...)
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DSN:    getenv("DB_DSN", getenv("DB_PATH", "reconciler.db")),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Webhook: WebhookConfig{
			Secret:            getenv("WEBHOOK_SECRET", ""),
			Timeout:           getdur("WEBHOOK_TIMEOUT", 10*time.Second),
			IdempotencyWindow: getdur("IDEMPOTENCY_WINDOW", 5*time.Minute),
			IdempotencyTTL:    getdur("IDEMPOTENCY_TTL", 24*time.Hour),
			Retention:         getdur("WEBHOOK_RETENTION", 90*24*time.Hour),
			MaxBodyBytes:      int64(getint("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},

		Scheduler: SchedulerConfig{
			ProbeInterval:       getdur("PROBE_INTERVAL", 5*time.Minute),
			ProbeWindow:         getdur("PROBE_WINDOW", time.Hour),
			StaleAfter:          getdur("STALE_AFTER", 10*time.Minute),
			SweepInterval:       getdur("SWEEP_INTERVAL", time.Hour),
			ConsistencyInterval: getdur("CONSISTENCY_INTERVAL", 6*time.Hour),
			ThresholdsFile:      getenv("THRESHOLDS_FILE", ""),
		},

		Notify: NotifyConfig{
			Backend:       strings.ToLower(getenv("NOTIFY_BACKEND", "outbox")),
			RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getint("REDIS_DB", 0),
			Queue:         getenv("NOTIFY_QUEUE", "reconciler:notifications"),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "billing-reconciler"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "postgresql" {
		cfg.DB.Driver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres, mysql")
	}
	if strings.TrimSpace(cfg.DB.DSN) == "" {
		return cfg, errors.New("DB_DSN must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.Webhook.Timeout <= 0 {
		return cfg, errors.New("WEBHOOK_TIMEOUT must be > 0")
	}
	if cfg.Webhook.IdempotencyWindow <= 0 {
		return cfg, errors.New("IDEMPOTENCY_WINDOW must be > 0")
	}
	if cfg.Webhook.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.Webhook.Retention <= 0 {
		return cfg, errors.New("WEBHOOK_RETENTION must be > 0")
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		return cfg, errors.New("WEBHOOK_MAX_BODY_BYTES must be > 0")
	}
	s := cfg.Scheduler
	if s.ProbeInterval <= 0 || s.ProbeWindow <= 0 || s.StaleAfter <= 0 || s.SweepInterval <= 0 || s.ConsistencyInterval <= 0 {
		return cfg, errors.New("scheduler intervals must be positive durations")
	}
	switch cfg.Notify.Backend {
	case "outbox", "redis":
	default:
		return cfg, errors.New("NOTIFY_BACKEND must be one of: outbox, redis")
	}
	if cfg.Notify.Backend == "redis" && strings.TrimSpace(cfg.Notify.RedisAddr) == "" {
		return cfg, errors.New("REDIS_ADDR must not be empty when NOTIFY_BACKEND=redis")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
