// pkg/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/go-playground/validator/v10"

	"github.com/releasegate/releasegate/pkg/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Config represents the controller's configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Logging    LoggingConfig    `mapstructure:"logging" validate:"required"`
	Storage    StorageConfig    `mapstructure:"storage" validate:"required"`
	Metrics    MetricsConfig    `mapstructure:"metrics" validate:"required"`
	Rollout    RolloutConfig    `mapstructure:"rollout" validate:"required"`
	Triggers   TriggersConfig   `mapstructure:"triggers" validate:"required"`
	Automation AutomationConfig `mapstructure:"automation" validate:"required"`
	Rollback   RollbackConfig   `mapstructure:"rollback" validate:"required"`
	Actions    ActionsConfig    `mapstructure:"actions" validate:"required"`
	Events     EventsConfig     `mapstructure:"events"`
}

// ServerConfig defines the HTTP API settings
type ServerConfig struct {
	Port      string          `mapstructure:"port" validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig defines HTTP request rate limiting
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" validate:"boolean"`
	RequestsPerSecond int  `mapstructure:"requests_per_second" validate:"required_if=Enabled true,min=0"`
	Burst             int  `mapstructure:"burst" validate:"min=0"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level string      `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Path  string      `mapstructure:"path" validate:"required"`
	Audit AuditConfig `mapstructure:"audit"`
}

// AuditConfig specifies audit logging settings
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" validate:"boolean"`
	Path    string `mapstructure:"path" validate:"required_if=Enabled true"`
}

// StorageConfig defines state store settings
type StorageConfig struct {
	Type    string        `mapstructure:"type" validate:"required,oneof=memory mongodb"`
	MongoDB MongoDBConfig `mapstructure:"mongodb"`
}

// MongoDBConfig specifies MongoDB connection settings
type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// MetricsConfig defines the deployment metrics provider
type MetricsConfig struct {
	Provider     string           `mapstructure:"provider" validate:"required,oneof=prometheus static"`
	FetchTimeout time.Duration    `mapstructure:"fetch_timeout" validate:"required,min=1s"`
	Prometheus   PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig specifies the Prometheus-backed provider. Queries maps a
// metric name (error_rate, response_time, availability, throughput,
// conversion_rate, user_satisfaction or a custom name) to a PromQL template;
// the {{deployment}} placeholder is substituted per fetch.
type PrometheusConfig struct {
	URL      string            `mapstructure:"url"`
	Queries  map[string]string `mapstructure:"queries"`
	CacheTTL time.Duration     `mapstructure:"cache_ttl"`
}

// RolloutConfig defines progressive rollout behavior
type RolloutConfig struct {
	InitialPercentage float64               `mapstructure:"initial_percentage" validate:"min=0,max=100"`
	IncrementInterval time.Duration         `mapstructure:"increment_interval" validate:"required,min=1s"`
	MaxDuration       time.Duration         `mapstructure:"max_duration"`
	Criteria          types.SuccessCriteria `mapstructure:"criteria" validate:"required"`
}

// TriggersConfig defines rollback trigger polling and definitions
type TriggersConfig struct {
	PollInterval time.Duration           `mapstructure:"poll_interval" validate:"required,min=1s"`
	Definitions  []types.RollbackTrigger `mapstructure:"definitions" validate:"dive"`
}

// AutomationConfig governs whether tripped triggers roll back automatically
type AutomationConfig struct {
	Enabled          bool          `mapstructure:"enabled" validate:"boolean"`
	ApprovalRequired bool          `mapstructure:"approval_required" validate:"boolean"`
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"required,min=1"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
}

// RollbackConfig defines rollback strategy and verification
type RollbackConfig struct {
	Strategy     string                    `mapstructure:"strategy" validate:"required,oneof=immediate gradual blue_green"`
	Steps        []types.RollbackStep      `mapstructure:"steps" validate:"dive"`
	StepTimeout  time.Duration             `mapstructure:"step_timeout" validate:"required,min=1s"`
	StepRetries  int                       `mapstructure:"step_retries" validate:"min=0"`
	RetryDelay   time.Duration             `mapstructure:"retry_delay"`
	RungDelay    time.Duration             `mapstructure:"rung_delay"`
	Verification []types.VerificationCheck `mapstructure:"verification" validate:"dive"`
}

// ActionsConfig specifies the webhook collaborators that execute rollback
// side effects
type ActionsConfig struct {
	ExecutorURL string        `mapstructure:"executor_url" validate:"required,uri"`
	ActuatorURL string        `mapstructure:"actuator_url" validate:"required,uri"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"required,min=1s"`
}

// EventsConfig defines the lifecycle event sinks
type EventsConfig struct {
	BufferSize int             `mapstructure:"buffer_size" validate:"min=0"`
	Kafka      KafkaSinkConfig `mapstructure:"kafka"`
	Redis      RedisSinkConfig `mapstructure:"redis"`
}

// KafkaSinkConfig specifies the Kafka event sink
type KafkaSinkConfig struct {
	Enabled bool     `mapstructure:"enabled" validate:"boolean"`
	Brokers []string `mapstructure:"brokers" validate:"required_if=Enabled true"`
	Topic   string   `mapstructure:"topic" validate:"required_if=Enabled true"`
}

// RedisSinkConfig specifies the Redis pub/sub event sink
type RedisSinkConfig struct {
	Enabled bool   `mapstructure:"enabled" validate:"boolean"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
	Channel string `mapstructure:"channel" validate:"required_if=Enabled true"`
}

// LoadConfig reads configuration from the specified path
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.path", "stderr")
	v.SetDefault("storage.type", "memory")
	v.SetDefault("metrics.provider", "static")
	v.SetDefault("metrics.fetch_timeout", "10s")
	v.SetDefault("metrics.prometheus.cache_ttl", "15s")
	v.SetDefault("rollout.initial_percentage", 5)
	v.SetDefault("rollout.increment_interval", "30m")
	v.SetDefault("triggers.poll_interval", "30s")
	v.SetDefault("automation.max_attempts", 3)
	v.SetDefault("automation.cooldown", "30m")
	v.SetDefault("rollback.strategy", "immediate")
	v.SetDefault("rollback.step_timeout", "1m")
	v.SetDefault("rollback.retry_delay", "5s")
	v.SetDefault("rollback.rung_delay", "30s")
	v.SetDefault("actions.timeout", "30s")
	v.SetDefault("events.buffer_size", 256)
}
