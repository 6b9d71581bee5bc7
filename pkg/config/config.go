// Package config loads TOML configuration with environment variable override
// and schema validation.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration of the allocator daemon.
type Config struct {
	// Service name, reported in logs and metrics
	ServiceName string `mapstructure:"service_name"`
	// Service version
	Version string `mapstructure:"version"`
	// Environment: dev, staging, prod
	Environment string `mapstructure:"environment"`
	// Ops HTTP server (health, readiness)
	HTTP HTTPConfig `mapstructure:"http"`
	// Database settings
	Database DatabaseConfig `mapstructure:"database"`
	// Kafka settings
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Logger settings
	Logger LoggerConfig `mapstructure:"logger"`
	// Metrics settings
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Allocation engine settings
	Allocation AllocationConfig `mapstructure:"allocation"`
	// Market rate source settings
	Rates RatesConfig `mapstructure:"rates"`
}

// HTTPConfig configures the ops HTTP server.
type HTTPConfig struct {
	Host string `mapstructure:"host" default:"0.0.0.0"`
	Port int    `mapstructure:"port" default:"8080"`
	// Read timeout in seconds
	ReadTimeout int `mapstructure:"read_timeout" default:"30"`
	// Write timeout in seconds
	WriteTimeout int `mapstructure:"write_timeout" default:"30"`
}

// DatabaseConfig configures the MySQL connection.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" default:"mysql"`
	DSN    string `mapstructure:"dsn"`
	// Max open connections
	MaxOpenConns int `mapstructure:"max_open_conns" default:"25"`
	// Max idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns" default:"5"`
	// Connection max lifetime in seconds
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime" default:"300"`
	// Enable SQL logging
	LogEnabled bool `mapstructure:"log_enabled" default:"false"`
	// Slow query threshold in milliseconds
	SlowQueryThreshold int `mapstructure:"slow_query_threshold" default:"1000"`
}

// KafkaConfig configures the event relay.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	GroupID string   `mapstructure:"group_id"`
	// Topic for transaction lifecycle events
	TransactionTopic string `mapstructure:"transaction_topic" default:"payments.transactions"`
	// Topic for balance delta events
	BalanceTopic string `mapstructure:"balance_topic" default:"payments.balances"`
	// Dead letter topic
	DeadLetterTopic string `mapstructure:"dead_letter_topic" default:"payments.dlq"`
	// Session timeout in seconds
	SessionTimeout int `mapstructure:"session_timeout" default:"10"`
	// Producer retry attempts
	MaxRetries int `mapstructure:"max_retries" default:"3"`
	// Retry backoff in milliseconds
	RetryBackoff int `mapstructure:"retry_backoff" default:"100"`
	// Outbox relay poll interval in milliseconds
	RelayInterval int `mapstructure:"relay_interval" default:"500"`
	// Outbox relay batch size
	RelayBatchSize int `mapstructure:"relay_batch_size" default:"100"`
}

// LoggerConfig mirrors pkg/logger.Config.
type LoggerConfig struct {
	Level          string `mapstructure:"level" default:"info"`
	Format         string `mapstructure:"format" default:"json"`
	Output         string `mapstructure:"output" default:"stdout"`
	FilePath       string `mapstructure:"file_path" default:"logs/app.log"`
	MaxSize        int    `mapstructure:"max_size" default:"100"`
	MaxBackups     int    `mapstructure:"max_backups" default:"10"`
	MaxAge         int    `mapstructure:"max_age" default:"30"`
	Compress       bool   `mapstructure:"compress" default:"true"`
	WithCaller     bool   `mapstructure:"with_caller" default:"true"`
	WithStacktrace bool   `mapstructure:"with_stacktrace" default:"false"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" default:"true"`
	Port    int    `mapstructure:"port" default:"9090"`
	Path    string `mapstructure:"path" default:"/metrics"`
}

// AllocationConfig tunes the allocation engine.
type AllocationConfig struct {
	// Platform markup percent applied to the market rate (KKK)
	MarkupPercent float64 `mapstructure:"markup_percent" default:"0"`
	// Transaction lifetime in seconds before expiry
	TransactionTTL int `mapstructure:"transaction_ttl" default:"86400"`
	// Expiry watcher scan interval in seconds
	ExpiryInterval int `mapstructure:"expiry_interval" default:"30"`
	// Snowflake node id for transaction numbering
	NodeID int64 `mapstructure:"node_id" default:"1"`
}

// RatesConfig configures the market rate source.
type RatesConfig struct {
	// Base URL of the rate source
	BaseURL string `mapstructure:"base_url"`
	// Request timeout in seconds
	Timeout int `mapstructure:"timeout" default:"5"`
	// Fallback rate used when the source is down and no cached value exists
	FallbackRate float64 `mapstructure:"fallback_rate" default:"95"`
	// Cache TTL in seconds
	CacheTTL int `mapstructure:"cache_ttl" default:"10"`
}

// Load reads a TOML config file and applies APP_ environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	if c.Allocation.MarkupPercent < 0 || c.Allocation.MarkupPercent >= 100 {
		return fmt.Errorf("invalid markup percent: %v", c.Allocation.MarkupPercent)
	}
	if c.Allocation.TransactionTTL <= 0 {
		return fmt.Errorf("transaction_ttl must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)

	v.SetDefault("kafka.transaction_topic", "payments.transactions")
	v.SetDefault("kafka.balance_topic", "payments.balances")
	v.SetDefault("kafka.dead_letter_topic", "payments.dlq")
	v.SetDefault("kafka.session_timeout", 10)
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)
	v.SetDefault("kafka.relay_interval", 500)
	v.SetDefault("kafka.relay_batch_size", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/app.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("allocation.markup_percent", 0)
	v.SetDefault("allocation.transaction_ttl", 86400)
	v.SetDefault("allocation.expiry_interval", 30)
	v.SetDefault("allocation.node_id", 1)

	v.SetDefault("rates.timeout", 5)
	v.SetDefault("rates.fallback_rate", 95)
	v.SetDefault("rates.cache_ttl", 10)
}

// GetEnv returns an environment variable or a default value.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
