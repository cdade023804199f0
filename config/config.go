package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shelfwise/action-engine/pkg/logging"
	"github.com/shelfwise/action-engine/usecase"
)

// Config is the full configuration for the action engine service
type Config struct {
	Service  ServiceConfig              `mapstructure:"service"`
	Server   ServerConfig               `mapstructure:"server"`
	Database DatabaseConfig             `mapstructure:"database"`
	Redis    RedisConfig                `mapstructure:"redis"`
	Kafka    KafkaConfig                `mapstructure:"kafka"`
	Commerce CommerceConfig             `mapstructure:"commerce"`
	Executor ExecutorConfig             `mapstructure:"executor"`
	Risk     usecase.RiskConfig         `mapstructure:"risk"`
	Approval usecase.ApprovalGateConfig `mapstructure:"approval"`
	Logging  logging.Config             `mapstructure:"logging"`
	Metrics  MetricsConfig              `mapstructure:"metrics"`
}

// ServiceConfig identifies the running service instance
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// DatabaseConfig contains PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
}

// RedisConfig contains cache configuration
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// Addr returns the host:port pair for the Redis client
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig contains the audit mirror configuration
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	ClientID     string        `mapstructure:"client_id"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// CommerceConfig contains the downstream commerce platform client settings
type CommerceConfig struct {
	BaseURL                 string        `mapstructure:"base_url"`
	APIKey                  string        `mapstructure:"api_key"`
	RequestTimeout          time.Duration `mapstructure:"request_timeout"`
	BreakerMaxRequests      uint32        `mapstructure:"breaker_max_requests"`
	BreakerInterval         time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout          time.Duration `mapstructure:"breaker_timeout"`
	BreakerFailureThreshold uint32        `mapstructure:"breaker_failure_threshold"`
}

// ExecutorConfig contains execution behavior settings
type ExecutorConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig reads configuration from file and environment. Environment
// variables use the ACTION_ENGINE prefix with underscores, e.g.
// ACTION_ENGINE_DATABASE_HOST overrides database.host.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("ACTION_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults plus environment carry the load
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service.name", "action-engine")
	v.SetDefault("service.version", "1.0.0")
	v.SetDefault("service.environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 100)

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "shelfwise")
	v.SetDefault("database.database", "shelfwise")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.run_migrations", true)

	// Redis defaults
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", "5m")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "action-audit-events")
	v.SetDefault("kafka.client_id", "action-engine")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "1s")
	v.SetDefault("kafka.write_timeout", "10s")
	v.SetDefault("kafka.max_retries", 3)

	// Commerce defaults
	v.SetDefault("commerce.base_url", "http://localhost:8090")
	v.SetDefault("commerce.request_timeout", "15s")
	v.SetDefault("commerce.breaker_max_requests", 3)
	v.SetDefault("commerce.breaker_interval", "60s")
	v.SetDefault("commerce.breaker_timeout", "30s")
	v.SetDefault("commerce.breaker_failure_threshold", 5)

	// Executor defaults
	v.SetDefault("executor.timeout", "60s")

	// Risk defaults
	v.SetDefault("risk.absolute_impact_threshold", 1000)
	v.SetDefault("risk.critical_impact_threshold", 10000)
	v.SetDefault("risk.percent_impact_threshold", 10)
	v.SetDefault("risk.confidence_floor", 0.5)
	v.SetDefault("risk.reorder_quantity_threshold", 500)

	// Approval defaults
	v.SetDefault("approval.ttl", "24h")
	v.SetDefault("approval.reminder_interval", "4h")
	v.SetDefault("approval.sweep_interval", "1m")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.service_name", "action-engine")
	v.SetDefault("logging.development", false)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
}

// Validate checks the configuration for obvious misconfiguration
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor timeout must be positive")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	if c.Risk.CriticalImpactThreshold < c.Risk.AbsoluteImpactThreshold {
		return fmt.Errorf("critical impact threshold must not be below the high threshold")
	}
	return nil
}
