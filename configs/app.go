package configs

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/n0rdy/tableq/common"
)

const envPrefix = "TABLEQ_"

type AppConfigs struct {
	Env                        string        `env:"ENV"`
	Storage                    StorageConfig `envPrefix:"DB_"`
	ApiAddr                    string        `env:"API_ADDR"`
	AuthSecret                 string        `env:"AUTH_SECRET"`
	LogLevel                   string        `env:"LOG_LEVEL"`
	PrettyLogs                 bool          `env:"LOG_PRETTY"`
	MetricsEnabled             bool          `env:"METRICS_ENABLED"`
	MessageContentMaxSizeBytes int           `env:"MESSAGE_CONTENT_MAX_SIZE_BYTES"`
	MaxProcessAfterDelay       time.Duration `env:"MAX_PROCESS_AFTER_DELAY"` // Maximum delay after which a message can be processed. Applies to delays provided by the users via API.
	MaxFetchLimit              int           `env:"MAX_FETCH_LIMIT"`         // Upper bound of the number of messages claimed by one fetch
	PollingDuration            time.Duration `env:"POLLING_DURATION"`        // Duration for which the queue is polled for new messages via HTTP2 long-polling
	PollingInterval            time.Duration `env:"POLLING_INTERVAL"`
	PendingTimeout             time.Duration `env:"PENDING_TIMEOUT"` // Time after which an unacknowledged message is considered lost
	PendingPolicy              string        `env:"PENDING_POLICY"`  // "requeue" (at-least-once) or "undeliverable" (at-most-once)
	Retention                  time.Duration `env:"RETENTION"`       // Time resolved messages are kept before being deleted
	CleanBitmask               int           `env:"CLEAN_BITMASK"`
	JobsIntervals              JobsIntervals `envPrefix:"JOBS_"`
	Tracing                    TracingConfig `envPrefix:"TRACING_"`
	ServerConfig               ServerConfig  // Configuration for the server, including timeouts
}

type StorageConfig struct {
	Driver string `env:"DRIVER"` // "sqlite" or "postgres"
	DSN    string `env:"DSN"`    // postgres DSN or sqlite file path, the default sqlite path is used when empty
	Table  string `env:"TABLE"`
}

type JobsIntervals struct {
	MessagesCleanup   time.Duration `env:"MESSAGES_CLEANUP"`    // Interval for deleting resolved messages older than the retention
	PendingMessages   time.Duration `env:"PENDING_MESSAGES"`    // Interval for recovering messages stuck in ACK_PENDING
	DbOptimization    time.Duration `env:"DB_OPTIMIZATION"`     // Interval for running SQLite optimizations
	QueueDepthMetrics time.Duration `env:"QUEUE_DEPTH_METRICS"` // Interval for refreshing the queue depth gauges
}

// TracingConfig controls the OTLP/HTTP span export. Spans are still created when disabled, but never leave the process.
type TracingConfig struct {
	Enabled     bool    `env:"ENABLED"`
	Endpoint    string  `env:"ENDPOINT"` // full URL of the collector, e.g. http://localhost:4318/v1/traces; OTEL_EXPORTER_OTLP_* applies when empty
	Insecure    bool    `env:"INSECURE"`
	SampleRatio float64 `env:"SAMPLE_RATIO"`
}

type ServerConfig struct {
	Timeouts ServerTimeouts
}

type ServerTimeouts struct {
	Handle     time.Duration
	Write      time.Duration
	Read       time.Duration
	ReadHeader time.Duration
	Idle       time.Duration
}

func NewAppConfig() *AppConfigs {
	pollingDuration := 30 * time.Second

	return &AppConfigs{
		Env: common.LocalEnv,
		Storage: StorageConfig{
			Driver: string(SQLiteDialect),
			Table:  DefaultTable,
		},
		ApiAddr:                    "localhost:8080",
		LogLevel:                   "info",
		MessageContentMaxSizeBytes: 256 * 1024,           // 256 KB
		MaxProcessAfterDelay:       366 * 24 * time.Hour, // 366 days
		MaxFetchLimit:              common.DefaultMaxLimit,
		PollingDuration:            pollingDuration,
		PollingInterval:            100 * time.Millisecond,
		PendingTimeout:             5 * time.Minute,
		PendingPolicy:              common.RequeuePendingPolicy,
		Retention:                  24 * time.Hour, // 1 day
		CleanBitmask:               common.DeleteSafe,
		JobsIntervals: JobsIntervals{
			MessagesCleanup:   5 * time.Minute,
			PendingMessages:   1 * time.Minute,
			DbOptimization:    1 * time.Hour,
			QueueDepthMetrics: 30 * time.Second,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
		ServerConfig: ServerConfig{
			Timeouts: serverTimeouts(pollingDuration),
		},
	}
}

// serverTimeouts leaves a long-polling fetch enough time to return before the server gives up on it.
func serverTimeouts(pollingDuration time.Duration) ServerTimeouts {
	return ServerTimeouts{
		Handle:     pollingDuration + 10*time.Second, // polling + buffer
		Write:      pollingDuration + 15*time.Second, // handle + write buffer
		Read:       pollingDuration + 15*time.Second, // same as write
		ReadHeader: 10 * time.Second,                 // headers shouldn't take long
		Idle:       5 * time.Minute,                  // keep connections alive
	}
}

// LoadAppConfig starts from the defaults and overrides them with TABLEQ_* environment variables.
// Server timeouts follow the resulting polling duration.
func LoadAppConfig() (*AppConfigs, error) {
	appConfigs := NewAppConfig()
	if err := env.ParseWithOptions(appConfigs, env.Options{Prefix: envPrefix}); err != nil {
		return nil, common.NewConfigurationError("parse environment: %v", err)
	}
	appConfigs.ServerConfig.Timeouts = serverTimeouts(appConfigs.PollingDuration)
	if err := appConfigs.Validate(); err != nil {
		return nil, err
	}
	return appConfigs, nil
}

func (ac *AppConfigs) Validate() error {
	if !common.SupportedEnvs[ac.Env] {
		return common.NewConfigurationError("unsupported env %q", ac.Env)
	}
	switch Dialect(ac.Storage.Driver) {
	case SQLiteDialect, PostgresDialect:
	default:
		return common.NewConfigurationError("unsupported storage driver %q", ac.Storage.Driver)
	}
	if Dialect(ac.Storage.Driver) == PostgresDialect {
		if ac.Storage.DSN == "" {
			return common.NewConfigurationError("postgres storage requires a DSN")
		}
		// migrations only understand the URL form
		if !IsPostgresURL(ac.Storage.DSN) {
			return common.NewConfigurationError("postgres DSN must be a postgres:// or postgresql:// URL")
		}
	}
	if !common.SupportedPendingPolicies[ac.PendingPolicy] {
		return common.NewConfigurationError("unsupported pending policy %q", ac.PendingPolicy)
	}
	if ac.CleanBitmask <= 0 || ac.CleanBitmask > common.DeleteAll {
		return common.NewConfigurationError("clean bitmask %#x is out of range", ac.CleanBitmask)
	}
	if ac.MaxFetchLimit < 1 {
		return common.NewConfigurationError("max fetch limit must be greater than 0")
	}
	if ac.PollingInterval <= 0 {
		return common.NewConfigurationError("polling interval must be positive")
	}
	if ac.PollingDuration >= ac.ServerConfig.Timeouts.Handle {
		return common.NewConfigurationError("polling duration %s must be shorter than the handler timeout %s", ac.PollingDuration, ac.ServerConfig.Timeouts.Handle)
	}
	if ac.Tracing.SampleRatio < 0 || ac.Tracing.SampleRatio > 1 {
		return common.NewConfigurationError("tracing sample ratio %v is out of range [0, 1]", ac.Tracing.SampleRatio)
	}
	return nil
}

// IsPostgresURL reports whether dsn is in the URL form rather than the key=value one.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func (ac *AppConfigs) SchemaConfig() (*SchemaConfig, error) {
	return NewSchemaConfig(
		WithDialect(Dialect(ac.Storage.Driver)),
		WithTable(ac.Storage.Table),
	)
}
