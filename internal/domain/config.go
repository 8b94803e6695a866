package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backing services are used
	Tier Tier `json:"tier"`

	// Pipeline settings
	Pipeline PipelineConfig `json:"pipeline"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// PipelineConfig holds batch pipeline settings.
type PipelineConfig struct {
	// Source CSV paths for the four subledgers and two reference tables.
	Sources SourcePaths `json:"sources"`

	// OutputDir receives the four scored CSVs and the journal export.
	OutputDir string `json:"outputDir"`

	// YearEnd is the close date used for late-posting detection.
	YearEnd time.Time `json:"yearEnd"`

	// ReviewThreshold is the default minimum risk score surfaced for
	// review and journal synthesis (overridable per request).
	ReviewThreshold float64 `json:"reviewThreshold"`
}

// SourcePaths locates the six raw input tables.
type SourcePaths struct {
	AP       string `json:"ap"`
	Bank     string `json:"bank"`
	Tax      string `json:"tax"`
	Lease    string `json:"lease"`
	GL       string `json:"gl"`
	TaxRates string `json:"taxRates"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the single-node tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro adds PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Pipeline: PipelineConfig{
			Sources: SourcePaths{
				AP:       "data/ap_subledger.csv",
				Bank:     "data/bank_transactions.csv",
				Tax:      "data/tax_detail.csv",
				Lease:    "data/lease_schedule.csv",
				GL:       "data/gl_trial_balance_summary.csv",
				TaxRates: "data/tax_rate_reference.csv",
			},
			OutputDir:       "output",
			YearEnd:         time.Date(2025, time.December, 31, 0, 0, 0, 0, time.UTC),
			ReviewThreshold: 60,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		EnableTwoPhase: true,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
