package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database" json:"database"`
	Session  SessionConfig  `yaml:"session" toml:"session" json:"session"`
	Retry    RetryConfig    `yaml:"retry" toml:"retry" json:"retry"`
	HTTP     HTTPConfig     `yaml:"http" toml:"http" json:"http"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging" json:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics" json:"metrics"`
}

// DatabaseConfig selects the backend. Driver is one of "postgres", "mysql", "sqlite3".
// When DSN is set it wins over the discrete fields.
type DatabaseConfig struct {
	Driver           string   `yaml:"driver" toml:"driver" json:"driver"`
	Host             string   `yaml:"host" toml:"host" json:"host"`
	Port             int      `yaml:"port" toml:"port" json:"port"`
	Name             string   `yaml:"name" toml:"name" json:"name"`
	User             string   `yaml:"user" toml:"user" json:"user"`
	Password         string   `yaml:"password" toml:"password" json:"password"`
	DSN              string   `yaml:"dsn" toml:"dsn" json:"dsn"`
	MaxConns         int      `yaml:"max_conns" toml:"max_conns" json:"max_conns"`
	ApplicationName  string   `yaml:"application_name" toml:"application_name" json:"application_name"`
	StatementTimeout Duration `yaml:"statement_timeout" toml:"statement_timeout" json:"statement_timeout"`
	// IdleInTxTimeout ends PostgreSQL transactions left idle this long. When
	// unset the session eviction window is used.
	IdleInTxTimeout Duration `yaml:"idle_in_transaction_timeout" toml:"idle_in_transaction_timeout" json:"idle_in_transaction_timeout"`
	ConnectTimeout   Duration `yaml:"connect_timeout" toml:"connect_timeout" json:"connect_timeout"`
}

type SessionConfig struct {
	// EvictionWindow is the fixed, non-renewing lifetime of a registered connection.
	EvictionWindow Duration `yaml:"eviction_window" toml:"eviction_window" json:"eviction_window"`
}

type RetryConfig struct {
	MaxRetries int      `yaml:"max_retries" toml:"max_retries" json:"max_retries"`
	BaseDelay  Duration `yaml:"base_delay" toml:"base_delay" json:"base_delay"`
	MaxBackoff Duration `yaml:"max_backoff" toml:"max_backoff" json:"max_backoff"`
}

type HTTPConfig struct {
	ListenHost  string   `yaml:"listen_host" toml:"listen_host" json:"listen_host"`
	ListenPort  int      `yaml:"listen_port" toml:"listen_port" json:"listen_port"`
	SessionTTL  Duration `yaml:"session_ttl" toml:"session_ttl" json:"session_ttl"`
	MaxSessions int      `yaml:"max_sessions" toml:"max_sessions" json:"max_sessions"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	File   string `yaml:"file" toml:"file" json:"file"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled" json:"enabled"`
}

// ConfigResult is the loaded config plus the file it came from ("" when defaults/env only).
type ConfigResult struct {
	Config     *Config
	ConfigPath string
}

// defaultConfigNames are searched in the working directory when no path is given.
var defaultConfigNames = []string{"sessiondb.yaml", "sessiondb.yml", "sessiondb.toml"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           "postgres",
			Host:             "localhost",
			Port:             5432,
			Name:             "postgres",
			User:             "postgres",
			MaxConns:         20,
			ApplicationName:  "sessiondb",
			StatementTimeout: Duration{0},
			ConnectTimeout:   Duration{30 * time.Second},
		},
		Session: SessionConfig{
			EvictionWindow: Duration{60 * time.Second},
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  Duration{100 * time.Millisecond},
			MaxBackoff: Duration{8 * time.Second},
		},
		HTTP: HTTPConfig{
			ListenHost:  "127.0.0.1",
			ListenPort:  8080,
			SessionTTL:  Duration{30 * time.Minute},
			MaxSessions: 10000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// LoadConfig loads configPath (if it exists) over the defaults, then applies env overrides.
func LoadConfig(configPath string) (*Config, error) {
	cfg := Default()
	if configPath != "" {
		if err := decodeFile(configPath, cfg); err != nil {
			return nil, err
		}
	}
	loadFromEnv(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigWithPath is LoadConfig with a search over defaultConfigNames when configPath is empty.
func LoadConfigWithPath(configPath string) (*ConfigResult, error) {
	if configPath == "" {
		configPath = findConfigFile()
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("config file %s: %w", configPath, err)
	}
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return &ConfigResult{Config: cfg, ConfigPath: configPath}, nil
}

func findConfigFile() string {
	for _, name := range defaultConfigNames {
		if _, err := os.Stat(name); err == nil {
			abs, err := filepath.Abs(name)
			if err != nil {
				return name
			}
			return abs
		}
	}
	return ""
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return nil
}

func loadFromEnv(config *Config) {
	if driver := os.Getenv("SESSIONDB_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if dsn := os.Getenv("SESSIONDB_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	// POSTGRES_* kept for compatibility with existing deployments
	if host := firstEnv("SESSIONDB_DB_HOST", "POSTGRES_HOST"); host != "" {
		config.Database.Host = host
	}
	if port := firstEnv("SESSIONDB_DB_PORT", "POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Database.Port = p
		}
	}
	if db := firstEnv("SESSIONDB_DB_NAME", "POSTGRES_DB"); db != "" {
		config.Database.Name = db
	}
	if user := firstEnv("SESSIONDB_DB_USER", "POSTGRES_USER"); user != "" {
		config.Database.User = user
	}
	if pass := firstEnv("SESSIONDB_DB_PASSWORD", "POSTGRES_PASSWORD"); pass != "" {
		config.Database.Password = pass
	}

	if window := os.Getenv("SESSIONDB_EVICTION_WINDOW"); window != "" {
		if d, err := time.ParseDuration(window); err == nil {
			config.Session.EvictionWindow = Duration{d}
		}
	}
	if retries := os.Getenv("SESSIONDB_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil {
			config.Retry.MaxRetries = n
		}
	}

	if port := os.Getenv("SESSIONDB_LISTEN_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.ListenPort = p
		}
	}
	if host := os.Getenv("SESSIONDB_LISTEN_HOST"); host != "" {
		config.HTTP.ListenHost = host
	}

	if level := os.Getenv("SESSIONDB_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if file := os.Getenv("SESSIONDB_LOG_FILE"); file != "" {
		config.Logging.File = file
	}
	if format := os.Getenv("SESSIONDB_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func validateConfig(config *Config) error {
	switch config.Database.Driver {
	case "postgres", "mysql", "sqlite3":
	default:
		return fmt.Errorf("database.driver %q is not supported (postgres, mysql, sqlite3)", config.Database.Driver)
	}
	if config.Database.DSN == "" && config.Database.Driver != "sqlite3" {
		if config.Database.Host == "" {
			return fmt.Errorf("database.host is required")
		}
		if config.Database.Port == 0 {
			return fmt.Errorf("database.port is required")
		}
		if config.Database.User == "" {
			return fmt.Errorf("database.user is required")
		}
	}
	if config.Database.Name == "" && config.Database.DSN == "" {
		return fmt.Errorf("database.name is required")
	}
	if config.Session.EvictionWindow.Duration <= 0 {
		return fmt.Errorf("session.eviction_window must be positive")
	}
	if config.Database.IdleInTxTimeout.Duration < 0 {
		return fmt.Errorf("database.idle_in_transaction_timeout must not be negative")
	}
	if config.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if config.Retry.MaxBackoff.Duration <= 0 {
		return fmt.Errorf("retry.max_backoff must be positive")
	}
	return nil
}

// IdleInTxTimeout returns the PostgreSQL idle-in-transaction timeout, falling
// back to the eviction window.
func (c *Config) IdleInTxTimeout() time.Duration {
	if c.Database.IdleInTxTimeout.Duration > 0 {
		return c.Database.IdleInTxTimeout.Duration
	}
	return c.Session.EvictionWindow.Duration
}

// ConfigForAPI returns a copy safe to expose over HTTP (password and DSN masked).
func ConfigForAPI(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	out := *cfg
	if out.Database.Password != "" {
		out.Database.Password = "********"
	}
	if out.Database.DSN != "" {
		out.Database.DSN = "********"
	}
	return &out
}
