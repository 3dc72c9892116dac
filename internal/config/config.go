// Package config loads the runtime configuration from the environment and the
// scoring constants from their YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rival420/donwatcher/internal/domain"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DONWATCHER_"

var validate = validator.New()

// Load returns the default configuration overlaid with DONWATCHER_*
// environment variables. Malformed values and failed validation are errors.
func Load() (*domain.Config, error) {
	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv overlays the environment without validating, so callers can apply
// flag overrides before Validate.
func FromEnv() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	env := &envReader{}

	// Server
	env.str("HOST", &cfg.Server.Host)
	env.int("PORT", &cfg.Server.Port)
	env.int("READ_TIMEOUT", &cfg.Server.ReadTimeout)
	env.int("WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	env.float("RATE_LIMIT_RPS", &cfg.Server.RateLimitRPS)
	env.int("RATE_LIMIT_BURST", &cfg.Server.RateBurst)

	// Repository
	env.str("DB_DRIVER", &cfg.Repository.Driver)
	env.str("SQLITE_PATH", &cfg.Repository.SQLitePath)
	env.str("POSTGRES_HOST", &cfg.Repository.PostgresHost)
	env.int("POSTGRES_PORT", &cfg.Repository.PostgresPort)
	env.str("POSTGRES_USER", &cfg.Repository.PostgresUser)
	env.str("POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	env.str("POSTGRES_DB", &cfg.Repository.PostgresDB)
	env.str("POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)
	env.int("DB_MAX_OPEN_CONNS", &cfg.Repository.MaxOpenConns)
	env.int("DB_MAX_IDLE_CONNS", &cfg.Repository.MaxIdleConns)
	env.duration("DB_CONN_MAX_LIFETIME", &cfg.Repository.ConnMaxLifetime)

	// Cache
	env.str("CACHE_TYPE", &cfg.Cache.Type)
	env.int("CACHE_MAX_ENTRIES", &cfg.Cache.MaxEntries)
	env.duration("CACHE_TTL", &cfg.Cache.TTL)
	env.str("REDIS_ADDR", &cfg.Cache.RedisAddr)
	env.str("REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	env.int("REDIS_DB", &cfg.Cache.RedisDB)
	env.str("BADGER_PATH", &cfg.Cache.BadgerPath)

	// Event bus
	env.str("BUS_TYPE", &cfg.EventBus.Type)
	env.int("BUS_BUFFER_SIZE", &cfg.EventBus.ChannelBufferSize)
	env.str("NATS_URL", &cfg.EventBus.NATSUrl)
	env.str("NATS_TOKEN", &cfg.EventBus.NATSToken)
	env.int("NATS_MAX_RECONNECTS", &cfg.EventBus.NATSMaxReconnects)
	env.int("NATS_RECONNECT_WAIT", &cfg.EventBus.NATSReconnectWait)

	// History store calls
	env.duration("HISTORY_TIMEOUT", &cfg.History.Timeout)
	env.uint("HISTORY_MAX_RETRIES", &cfg.History.MaxRetries)
	env.duration("HISTORY_RETRY_BASE", &cfg.History.RetryBase)

	// Scoring
	env.str("SCORING_CONFIG", &cfg.Scoring.ConfigPath)
	env.bool("SCORING_WATCH", &cfg.Scoring.Watch)

	// Scheduler. An explicitly empty schedule disables it.
	if v, ok := os.LookupEnv(EnvPrefix + "RECALC_SCHEDULE"); ok {
		cfg.Scheduler.Schedule = strings.TrimSpace(v)
	}
	env.int("RECALC_CONCURRENCY", &cfg.Scheduler.Concurrency)

	// Export
	env.str("INFLUX_URL", &cfg.Export.InfluxURL)
	env.str("INFLUX_TOKEN", &cfg.Export.InfluxToken)
	env.str("INFLUX_ORG", &cfg.Export.InfluxOrg)
	env.str("INFLUX_BUCKET", &cfg.Export.InfluxBucket)

	// Observability
	env.str("LOG_LEVEL", &cfg.Logging.Level)
	env.str("LOG_FORMAT", &cfg.Logging.Format)
	if os.Getenv(EnvPrefix+"DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}
	env.bool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	env.str("SERVICE_NAME", &cfg.Tracing.ServiceName)

	if err := env.err(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the settings that depend on each other.
func Validate(cfg *domain.Config) error {
	if cfg.Scoring.ConfigPath == "" {
		return fmt.Errorf("%w: %sSCORING_CONFIG must point to the scoring constants file", domain.ErrMissingConfig, EnvPrefix)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	switch {
	case cfg.Cache.Type == "redis" && cfg.Cache.RedisAddr == "":
		return fmt.Errorf("%w: %sREDIS_ADDR is required for the redis cache", domain.ErrMissingConfig, EnvPrefix)
	case cfg.Cache.Type == "badger" && cfg.Cache.BadgerPath == "":
		return fmt.Errorf("%w: %sBADGER_PATH is required for the badger cache", domain.ErrMissingConfig, EnvPrefix)
	case cfg.EventBus.Type == "nats" && cfg.EventBus.NATSUrl == "":
		return fmt.Errorf("%w: %sNATS_URL is required for the nats bus", domain.ErrMissingConfig, EnvPrefix)
	case cfg.Repository.Driver == "postgres" && cfg.Repository.PostgresHost == "":
		return fmt.Errorf("%w: %sPOSTGRES_HOST is required for postgres", domain.ErrMissingConfig, EnvPrefix)
	}
	return nil
}

// SlogLevel maps the configured level to an slog.Level.
func SlogLevel(cfg domain.LoggingConfig) slog.Level {
	switch strings.ToLower(cfg.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger: JSON by default, text on request.
func NewLogger(cfg domain.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: SlogLevel(cfg)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// envReader overlays environment values and collects parse failures.
type envReader struct {
	errs []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *envReader) fail(key, v string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%w: %s%s=%q: %v", domain.ErrInvalidInput, EnvPrefix, key, v, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) uint(key string, dst *uint64) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

func (e *envReader) bool(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) duration(key string, dst *time.Duration) {
	if v, ok := e.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}
