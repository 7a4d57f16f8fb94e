package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App         AppConfig         `yaml:"app"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Progress    ProgressConfig    `yaml:"progress"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Database    DatabaseConfig    `yaml:"database"`
	Worker      WorkerConfig      `yaml:"worker"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
	TimeFormat   string `yaml:"time_format"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ProgressConfig configures the progress store
type ProgressConfig struct {
	KeyPrefix           string        `yaml:"key_prefix"`
	HeartbeatExpiration time.Duration `yaml:"heartbeat_expiration"`
	// RestrictedProxy disables MULTI/EXEC and multi-key commands for
	// proxies such as twemproxy. Defaults to true.
	RestrictedProxy *bool `yaml:"restricted_proxy"`
}

// IsRestrictedProxy returns the effective proxy mode
func (p ProgressConfig) IsRestrictedProxy() bool {
	return p.RestrictedProxy == nil || *p.RestrictedProxy
}

// MaintenanceConfig configures the background sweeps of the worker service
type MaintenanceConfig struct {
	StaleInterval   time.Duration `yaml:"stale_interval"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Retention       time.Duration `yaml:"retention"`
	SweepTimeout    time.Duration `yaml:"sweep_timeout"`
	Archive         bool          `yaml:"archive"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	ReportTimeout   time.Duration `yaml:"report_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads the configuration file, expands ${VAR} references from the
// environment and fills unset values with defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults sets every unset value that has a sensible default
func (c *Config) ApplyDefaults() {
	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "console")
	setDefault(&c.Logging.Output, "stdout")
	setDefault(&c.Logging.TimeFormat, time.RFC3339)

	setDefault(&c.Server.ReadTimeout, 10*time.Second)
	setDefault(&c.Server.WriteTimeout, 10*time.Second)
	setDefault(&c.Server.IdleTimeout, 60*time.Second)
	setDefault(&c.Server.ShutdownTimeout, 15*time.Second)

	setDefault(&c.Redis.Addr, "localhost:6379")
	setDefault(&c.Redis.PoolSize, 10)
	setDefault(&c.Redis.DialTimeout, 5*time.Second)

	setDefault(&c.Progress.KeyPrefix, "jobprogress")
	setDefault(&c.Progress.HeartbeatExpiration, time.Hour)

	setDefault(&c.Maintenance.SweepTimeout, time.Minute)

	setDefault(&c.RabbitMQ.Port, 5672)
	setDefault(&c.RabbitMQ.Exchange.Type, "direct")
	setDefault(&c.RabbitMQ.Connection.RetryAttempts, 5)
	setDefault(&c.RabbitMQ.Connection.RetryInterval, 2*time.Second)
	setDefault(&c.RabbitMQ.Connection.Heartbeat, 10*time.Second)
	setDefault(&c.RabbitMQ.Publish.RetryAttempts, 3)
	setDefault(&c.RabbitMQ.Publish.RetryInterval, 100*time.Millisecond)

	setDefault(&c.Database.Port, 5432)
	setDefault(&c.Database.SSLMode, "disable")
	setDefault(&c.Database.MaxOpenConns, 10)
	setDefault(&c.Database.MaxIdleConns, 5)

	setDefault(&c.Worker.Concurrency, 4)
	setDefault(&c.Worker.ReportTimeout, 10*time.Second)
	setDefault(&c.Worker.ShutdownTimeout, 30*time.Second)
	setDefault(&c.RabbitMQ.Consumer.PrefetchCount, c.Worker.Concurrency*2)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// ValidateAPIConfig checks the sections used by the API service. RabbitMQ is
// optional there: without it asynchronous progress reports are disabled.
func (c *Config) ValidateAPIConfig() error {
	if err := validatePort("server", c.Server.Port); err != nil {
		return err
	}

	if err := c.validateStore(); err != nil {
		return err
	}

	if c.RabbitMQ.Host != "" {
		return c.validateRabbitMQ()
	}
	return nil
}

// ValidateWorkerConfig checks the sections used by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateStore(); err != nil {
		return err
	}

	if c.RabbitMQ.Host == "" {
		return errors.New("rabbitmq host is required")
	}
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be greater than 0")
	}
	if c.Worker.ReportTimeout <= 0 {
		return errors.New("worker report_timeout must be greater than 0")
	}
	if c.Worker.ShutdownTimeout <= 0 {
		return errors.New("worker shutdown_timeout must be greater than 0")
	}

	if c.Maintenance.StaleInterval < 0 || c.Maintenance.CleanupInterval < 0 {
		return errors.New("maintenance intervals must not be negative")
	}
	if c.Maintenance.Retention < 0 {
		return errors.New("maintenance retention must not be negative")
	}

	if c.Maintenance.Archive {
		if c.Maintenance.CleanupInterval == 0 {
			return errors.New("maintenance archive requires cleanup_interval")
		}
		if c.Database.Host == "" {
			return errors.New("database host is required when archive is enabled")
		}
		if err := validatePort("database", c.Database.Port); err != nil {
			return err
		}
		if c.Database.Database == "" {
			return errors.New("database name is required when archive is enabled")
		}
	}

	return nil
}

func (c *Config) validateStore() error {
	if c.Redis.Addr == "" {
		return errors.New("redis addr is required")
	}
	if c.Progress.KeyPrefix == "" {
		return errors.New("progress key_prefix is required")
	}
	if c.Progress.HeartbeatExpiration < time.Second {
		return fmt.Errorf("progress heartbeat_expiration must be at least 1s, got %s", c.Progress.HeartbeatExpiration)
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	if err := validatePort("rabbitmq", c.RabbitMQ.Port); err != nil {
		return err
	}
	if c.RabbitMQ.Exchange.Name == "" {
		return errors.New("rabbitmq exchange name is required")
	}
	if c.RabbitMQ.Queue.Name == "" {
		return errors.New("rabbitmq queue name is required")
	}
	return nil
}

func validatePort(section string, port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("invalid %s port: %d (must be between %d and %d)", section, port, MinPort, MaxPort)
	}
	return nil
}
