// Package config provides centralized configuration management for all
// CartPulse services. Configuration is read from
// $CARTPULSE_CONFIG_DIR/config.yaml with environment variable overrides;
// callers load once at startup and pass the result to the components
// that need it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the master configuration struct containing all service
// configs and shared infrastructure.
type Config struct {
	// Service-specific configurations
	Materializer MaterializerConfig `mapstructure:"materializer"`
	Features     FeaturesConfig     `mapstructure:"features"`
	Traingen     TraingenConfig     `mapstructure:"traingen"`

	// Shared infrastructure configurations
	NATS       NATSConfig       `mapstructure:"nats"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// MaterializerConfig holds stream materializer configuration.
type MaterializerConfig struct {
	Server        ServerConfig  `mapstructure:"server"`
	ConsumerGroup string        `mapstructure:"consumer_group"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	FetchMaxWait  time.Duration `mapstructure:"fetch_max_wait"`
	AckWait       time.Duration `mapstructure:"ack_wait"`
	MaxAckPending int           `mapstructure:"max_ack_pending"`
}

// FeaturesConfig holds feature aggregation job configuration.
type FeaturesConfig struct {
	Server           ServerConfig  `mapstructure:"server"`
	Interval         time.Duration `mapstructure:"interval"`
	ActiveWindowDays int           `mapstructure:"active_window_days"`
	FeatureTTL       time.Duration `mapstructure:"feature_ttl"`
	MaxEntities      int           `mapstructure:"max_entities"`
	MaxTenants       int           `mapstructure:"max_tenants"`
}

// TraingenConfig holds training sample generator configuration.
type TraingenConfig struct {
	TriggerEventType string        `mapstructure:"trigger_event_type"`
	LabelEventType   string        `mapstructure:"label_event_type"`
	LabelWindow      time.Duration `mapstructure:"label_window"`
	SchemaVersion    string        `mapstructure:"schema_version"`
	PageSize         int           `mapstructure:"page_size"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// NATSConfig holds NATS message broker configuration.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

// OpenSearchConfig holds event store connection settings.
type OpenSearchConfig struct {
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	Insecure      bool   `mapstructure:"insecure"`
	EventsIndex   string `mapstructure:"events_index"`
	TrainingIndex string `mapstructure:"training_index"`
}

// RedisConfig holds feature store connection settings.
type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
	PoolSize  int    `mapstructure:"pool_size"`
}

// PostgresConfig holds run-bookkeeping database settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ConnString returns a pgx-compatible connection string.
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from $CARTPULSE_CONFIG_DIR/config.yaml and
// environment variables. A missing config file is not an error; defaults
// and environment overrides still apply.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	configDir := os.Getenv("CARTPULSE_CONFIG_DIR")
	if configDir == "" {
		configDir = "/etc/cartpulse"
	}

	v.SetEnvPrefix("CARTPULSE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	configPath := fmt.Sprintf("%s/config.yaml", configDir)
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// Materializer defaults
	v.SetDefault("materializer.server.port", 8091)
	v.SetDefault("materializer.server.read_timeout", "15s")
	v.SetDefault("materializer.server.write_timeout", "15s")
	v.SetDefault("materializer.server.idle_timeout", "60s")
	v.SetDefault("materializer.consumer_group", "materializer-workers")
	v.SetDefault("materializer.batch_size", 100)
	v.SetDefault("materializer.batch_timeout", "5s")
	v.SetDefault("materializer.fetch_max_wait", "1s")
	v.SetDefault("materializer.ack_wait", "30s")
	v.SetDefault("materializer.max_ack_pending", 1000)

	// Feature aggregation defaults
	v.SetDefault("features.server.port", 8092)
	v.SetDefault("features.server.read_timeout", "15s")
	v.SetDefault("features.server.write_timeout", "15s")
	v.SetDefault("features.server.idle_timeout", "60s")
	v.SetDefault("features.interval", "15m")
	v.SetDefault("features.active_window_days", 30)
	v.SetDefault("features.feature_ttl", "48h")
	v.SetDefault("features.max_entities", 10000)
	v.SetDefault("features.max_tenants", 1000)

	// Training sample generator defaults
	v.SetDefault("traingen.trigger_event_type", "cart.add")
	v.SetDefault("traingen.label_event_type", "order.completed")
	v.SetDefault("traingen.label_window", "168h") // 7 days
	v.SetDefault("traingen.schema_version", "v1")
	v.SetDefault("traingen.page_size", 500)

	// NATS defaults
	v.SetDefault("nats.url", "nats://nats:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", "2s")

	// OpenSearch defaults
	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "admin")
	v.SetDefault("opensearch.insecure", true)
	v.SetDefault("opensearch.events_index", "cartpulse-events")
	v.SetDefault("opensearch.training_index", "cartpulse-training")

	// Redis defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.key_prefix", "features")
	v.SetDefault("redis.pool_size", 10)

	// Postgres defaults
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "cartpulse")
	v.SetDefault("postgres.user", "cartpulse")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.sslmode", "disable")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}
