package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the terminal and the intake service
type Config struct {
	Terminal     TerminalConfig     `yaml:"terminal"`
	Storage      StorageConfig      `yaml:"storage"`
	Remote       RemoteConfig       `yaml:"remote"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Database     DatabaseConfig     `yaml:"database"`
	Intake       IntakeConfig       `yaml:"intake"`
}

// TerminalConfig identifies the terminal session and its local API
type TerminalConfig struct {
	OutletID string  `yaml:"outlet_id"`
	StaffID  string  `yaml:"staff_id"`
	TaxRate  float64 `yaml:"tax_rate"`
	HTTPPort int     `yaml:"http_port"`
}

// StorageConfig selects the device-local persistence driver
type StorageConfig struct {
	Driver    string `yaml:"driver"` // sqlite | redis | memory
	Path      string `yaml:"path"`
	RedisAddr string `yaml:"redis_addr"`
}

// RemoteConfig points at the backend order service
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RabbitMQConfig holds RabbitMQ connection configuration. Terminals
// authenticate with their session token as the password.
type RabbitMQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
}

// RealtimeConfig drives the event hub reconnect policy and heartbeat
type RealtimeConfig struct {
	ClientType        string        `yaml:"client_type"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	// RetryAfter is how long the terminal waits before starting a new
	// connect cycle once the hub has given up.
	RetryAfter time.Duration `yaml:"retry_after"`
}

// ConnectivityConfig controls the reachability probe of the order service
type ConnectivityConfig struct {
	ProbeInterval time.Duration `yaml:"probe_interval"`
	StartOffline  bool          `yaml:"start_offline"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// IntakeConfig configures the backend order intake service
type IntakeConfig struct {
	HTTPPort int     `yaml:"http_port"`
	TaxRate  float64 `yaml:"tax_rate"`
	// TerminalHeartbeat is the interval terminals are expected to ping at
	TerminalHeartbeat time.Duration `yaml:"terminal_heartbeat"`
}

// Default returns the configuration used when a key is absent from the file
func Default() *Config {
	return &Config{
		Terminal: TerminalConfig{
			TaxRate:  0.10,
			HTTPPort: 3000,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "pos-terminal.db",
		},
		Remote: RemoteConfig{
			BaseURL: "http://localhost:3001",
			Timeout: 10 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Host:  "localhost",
			Port:  5672,
			User:  "guest",
			VHost: "/",
		},
		Realtime: RealtimeConfig{
			ClientType:        "pos",
			HeartbeatInterval: 30 * time.Second,
			MaxAttempts:       5,
			BaseDelay:         time.Second,
			MaxDelay:          30 * time.Second,
			RetryAfter:        2 * time.Minute,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 5432,
		},
		Intake: IntakeConfig{
			HTTPPort:          3001,
			TaxRate:           0.10,
			TerminalHeartbeat: 30 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file, then applies .env and
// environment overrides on top of it
func Load(filename string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg := Default()

	content, err := os.ReadFile(filename)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Terminal.OutletID = getEnvString("POS_OUTLET_ID", c.Terminal.OutletID)
	c.Terminal.StaffID = getEnvString("POS_STAFF_ID", c.Terminal.StaffID)
	c.Terminal.HTTPPort = getEnvInt("POS_HTTP_PORT", c.Terminal.HTTPPort)

	c.Storage.Driver = getEnvString("POS_STORAGE_DRIVER", c.Storage.Driver)
	c.Storage.Path = getEnvString("POS_STORAGE_PATH", c.Storage.Path)
	c.Storage.RedisAddr = getEnvString("POS_REDIS_ADDR", c.Storage.RedisAddr)

	c.Remote.BaseURL = getEnvString("POS_REMOTE_URL", c.Remote.BaseURL)

	c.RabbitMQ.Host = getEnvString("POS_RABBITMQ_HOST", c.RabbitMQ.Host)
	c.RabbitMQ.Port = getEnvInt("POS_RABBITMQ_PORT", c.RabbitMQ.Port)
	c.RabbitMQ.User = getEnvString("POS_RABBITMQ_USER", c.RabbitMQ.User)
	c.RabbitMQ.Password = getEnvString("POS_RABBITMQ_TOKEN", c.RabbitMQ.Password)

	c.Database.Host = getEnvString("POS_DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("POS_DB_PORT", c.Database.Port)
	c.Database.User = getEnvString("POS_DB_USER", c.Database.User)
	c.Database.Password = getEnvString("POS_DB_PASSWORD", c.Database.Password)
	c.Database.Database = getEnvString("POS_DB_NAME", c.Database.Database)

	c.Intake.HTTPPort = getEnvInt("POS_INTAKE_PORT", c.Intake.HTTPPort)
}

// Validate checks values that would otherwise fail much later at runtime
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}
	if c.Storage.Driver == "redis" && c.Storage.RedisAddr == "" {
		return fmt.Errorf("storage.redis_addr is required for the redis driver")
	}
	if c.Terminal.TaxRate < 0 {
		return fmt.Errorf("terminal.tax_rate must not be negative")
	}
	if c.Realtime.MaxAttempts < 1 {
		return fmt.Errorf("realtime.max_attempts must be at least 1")
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("realtime.heartbeat_interval must be positive")
	}
	if c.Connectivity.ProbeInterval <= 0 {
		return fmt.Errorf("connectivity.probe_interval must be positive")
	}
	return nil
}

// DatabaseURL returns a PostgreSQL connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.Database)
}

// RabbitMQURL returns an AMQP connection URL
func (c *Config) RabbitMQURL() string {
	vhost := c.RabbitMQ.VHost
	if vhost == "/" {
		vhost = ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%d/%s",
		c.RabbitMQ.User, c.RabbitMQ.Password, c.RabbitMQ.Host, c.RabbitMQ.Port, vhost)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
