package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the appjob daemon.
type Config struct {
	Server     ServerConfig
	Dispatcher DispatcherConfig
	Pool       PoolConfig
	Scheduler  SchedulerConfig
	Database   DatabaseConfig
	RabbitMQ   RabbitMQConfig
	Redis      RedisConfig
	Tracing    TracingConfig
}

type ServerConfig struct {
	Port            int           `mapstructure:"API_PORT"`
	ReadTimeout     time.Duration `mapstructure:"API_READ_TIMEOUT"`
	WriteTimeout    time.Duration `mapstructure:"API_WRITE_TIMEOUT"`
	RateLimit       int           `mapstructure:"API_RATE_LIMIT"`
	GinMode         string        `mapstructure:"GIN_MODE"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

type DispatcherConfig struct {
	IdleInterval    time.Duration `mapstructure:"DISPATCH_IDLE_INTERVAL"`
	MinReportPeriod time.Duration `mapstructure:"DISPATCH_MIN_REPORT_PERIOD"`
	ErrorBuffer     int           `mapstructure:"DISPATCH_ERROR_BUFFER"`
}

type PoolConfig struct {
	Size      int `mapstructure:"POOL_SIZE"`
	QueueSize int `mapstructure:"POOL_QUEUE_SIZE"`
}

// SchedulerConfig gives the scheduler its own ticker when TickInterval is
// set. Zero leaves it to the dispatcher's idle loop.
type SchedulerConfig struct {
	TickInterval time.Duration `mapstructure:"SCHEDULER_TICK_INTERVAL"`
}

// DatabaseConfig enables transition history when URL is set.
type DatabaseConfig struct {
	URL string `mapstructure:"DATABASE_URL"`
}

// RabbitMQConfig enables event publishing and request intake when URL is set.
type RabbitMQConfig struct {
	URL      string `mapstructure:"RABBITMQ_URL"`
	Prefetch int    `mapstructure:"RABBITMQ_PREFETCH"`
}

// RedisConfig enables idempotency keys and distributed resource locks when URL is set.
type RedisConfig struct {
	URL     string        `mapstructure:"REDIS_URL"`
	LockTTL time.Duration `mapstructure:"REDIS_LOCK_TTL"`
}

type TracingConfig struct {
	Enabled        bool   `mapstructure:"TRACING_ENABLED"`
	Exporter       string `mapstructure:"TRACING_EXPORTER"`
	ZipkinEndpoint string `mapstructure:"ZIPKIN_ENDPOINT"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("API_PORT", 8080)
	v.SetDefault("API_READ_TIMEOUT", "10s")
	v.SetDefault("API_WRITE_TIMEOUT", "30s")
	v.SetDefault("API_RATE_LIMIT", 100)
	v.SetDefault("GIN_MODE", "release")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("DISPATCH_IDLE_INTERVAL", "100ms")
	v.SetDefault("DISPATCH_MIN_REPORT_PERIOD", "3s")
	v.SetDefault("DISPATCH_ERROR_BUFFER", 64)
	v.SetDefault("POOL_SIZE", 4)
	v.SetDefault("POOL_QUEUE_SIZE", 64)
	v.SetDefault("SCHEDULER_TICK_INTERVAL", "0s")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("RABBITMQ_PREFETCH", 4)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_LOCK_TTL", "30s")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("ZIPKIN_ENDPOINT", "http://localhost:9411/api/v2/spans")
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// Attempt to read .env file (non-fatal if missing)
	_ = v.ReadInConfig()

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	cfg.Server.Port = v.GetInt("API_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("API_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("API_WRITE_TIMEOUT")
	cfg.Server.RateLimit = v.GetInt("API_RATE_LIMIT")
	cfg.Server.GinMode = v.GetString("GIN_MODE")
	cfg.Server.ShutdownTimeout = v.GetDuration("SHUTDOWN_TIMEOUT")
	cfg.Dispatcher.IdleInterval = v.GetDuration("DISPATCH_IDLE_INTERVAL")
	cfg.Dispatcher.MinReportPeriod = v.GetDuration("DISPATCH_MIN_REPORT_PERIOD")
	cfg.Dispatcher.ErrorBuffer = v.GetInt("DISPATCH_ERROR_BUFFER")
	cfg.Pool.Size = v.GetInt("POOL_SIZE")
	cfg.Pool.QueueSize = v.GetInt("POOL_QUEUE_SIZE")
	cfg.Scheduler.TickInterval = v.GetDuration("SCHEDULER_TICK_INTERVAL")
	cfg.Database.URL = v.GetString("DATABASE_URL")
	cfg.RabbitMQ.URL = v.GetString("RABBITMQ_URL")
	cfg.RabbitMQ.Prefetch = v.GetInt("RABBITMQ_PREFETCH")
	cfg.Redis.URL = v.GetString("REDIS_URL")
	cfg.Redis.LockTTL = v.GetDuration("REDIS_LOCK_TTL")
	cfg.Tracing.Enabled = v.GetBool("TRACING_ENABLED")
	cfg.Tracing.Exporter = v.GetString("TRACING_EXPORTER")
	cfg.Tracing.ZipkinEndpoint = v.GetString("ZIPKIN_ENDPOINT")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("API_PORT out of range: %d", c.Server.Port))
	}
	if c.Pool.Size < 1 {
		errs = append(errs, fmt.Errorf("POOL_SIZE must be positive: %d", c.Pool.Size))
	}
	if c.Pool.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("POOL_QUEUE_SIZE must be positive: %d", c.Pool.QueueSize))
	}
	if c.Dispatcher.IdleInterval <= 0 {
		errs = append(errs, errors.New("DISPATCH_IDLE_INTERVAL must be positive"))
	}
	if c.Scheduler.TickInterval < 0 {
		errs = append(errs, errors.New("SCHEDULER_TICK_INTERVAL must not be negative"))
	}
	if c.Dispatcher.MinReportPeriod < 0 {
		errs = append(errs, errors.New("DISPATCH_MIN_REPORT_PERIOD must not be negative"))
	}
	return errors.Join(errs...)
}
