package domain

import "time"

// Config holds the complete DonWatcher runtime configuration.
// Scoring constants live in a separate YAML file referenced by Scoring.ConfigPath.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	History    HistoryConfig    `json:"history"`
	Scoring    ScoringSource    `json:"scoring"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Export     ExportConfig     `json:"export"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string  `json:"host"`
	Port         int     `json:"port" validate:"gt=0,lte=65535"`
	ReadTimeout  int     `json:"readTimeout"`  // seconds
	WriteTimeout int     `json:"writeTimeout"` // seconds
	RateLimitRPS float64 `json:"rateLimitRps" validate:"gte=0"`
	RateBurst    int     `json:"rateBurst" validate:"gte=0"`
}

// HistoryConfig bounds calls to the RiskHistoryStore.
type HistoryConfig struct {
	Timeout    time.Duration `json:"timeout" validate:"gt=0"`
	MaxRetries uint64        `json:"maxRetries"`
	RetryBase  time.Duration `json:"retryBase" validate:"gt=0"`
}

// ScoringSource locates the scoring constants file.
type ScoringSource struct {
	ConfigPath string `json:"configPath" validate:"required"`
	Watch      bool   `json:"watch"`
}

// SchedulerConfig drives periodic recalculation. An empty Schedule disables it.
type SchedulerConfig struct {
	Schedule    string `json:"schedule"`
	Concurrency int    `json:"concurrency" validate:"gte=0"`
}

// ExportConfig configures the optional InfluxDB score sink.
type ExportConfig struct {
	InfluxURL    string `json:"influxUrl" validate:"omitempty,url"`
	InfluxToken  string `json:"-"`
	InfluxOrg    string `json:"influxOrg"`
	InfluxBucket string `json:"influxBucket"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" validate:"oneof=debug info warn error"`
	Format string `json:"format" validate:"oneof=json text"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// DefaultConfig returns the single node configuration: SQLite, in-process
// cache and channel bus. Scoring.ConfigPath has no default and must be set.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			RateLimitRPS: 50,
			RateBurst:    100,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./donwatcher.db",
		},
		Cache: CacheConfig{
			Type:       "memory",
			MaxEntries: 1000,
			TTL:        5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 256,
		},
		History: HistoryConfig{
			Timeout:    5 * time.Second,
			MaxRetries: 3,
			RetryBase:  100 * time.Millisecond,
		},
		Scheduler: SchedulerConfig{
			Schedule:    "@every 6h",
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "donwatcher",
		},
	}
}
