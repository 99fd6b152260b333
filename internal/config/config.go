// Package config loads service configuration from an optional YAML file
// overlaid with environment variables. Environment always wins, so container
// deployments can run without any file at all.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for all orchard-platform binaries.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
	Refresh RefreshConfig `yaml:"refresh"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CORSOrigins  []string      `yaml:"cors_origins"`
}

// StoreConfig holds persistence settings. Driver selects between "postgres"
// and "sqlite"; the sqlite path is used only for that driver.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RefreshConfig holds the background refresher's cron schedules.
type RefreshConfig struct {
	PriceSchedule     string `yaml:"price_schedule"`
	AnomalySchedule   string `yaml:"anomaly_schedule"`
	EvolutionSchedule string `yaml:"evolution_schedule"`
}

// Defaults returns a configuration suitable for local development: an
// embedded SQLite store and a server on :8080.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORSOrigins:  []string{"*"},
		},
		Store: StoreConfig{
			Driver:          "sqlite",
			Host:            "localhost",
			Port:            5432,
			User:            "orchard",
			Password:        "orchard",
			Database:        "orchard_platform",
			SSLMode:         "disable",
			Path:            "orchard.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
		},
		Logging: LoggingConfig{
			Level: "INFO",
		},
		Refresh: RefreshConfig{
			PriceSchedule:     "@every 3h",
			AnomalySchedule:   "@every 1h",
			EvolutionSchedule: "@daily",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// ORCHARD_CONFIG (if set), then individual environment overrides.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("ORCHARD_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Server.Host, "ORCHARD_SERVER_HOST")
	setInt(&c.Server.Port, "ORCHARD_SERVER_PORT")
	setDuration(&c.Server.ReadTimeout, "ORCHARD_SERVER_READ_TIMEOUT")
	setDuration(&c.Server.WriteTimeout, "ORCHARD_SERVER_WRITE_TIMEOUT")
	setDuration(&c.Server.IdleTimeout, "ORCHARD_SERVER_IDLE_TIMEOUT")

	setString(&c.Store.Driver, "ORCHARD_STORE_DRIVER")
	setString(&c.Store.Host, "ORCHARD_STORE_HOST")
	setInt(&c.Store.Port, "ORCHARD_STORE_PORT")
	setString(&c.Store.User, "ORCHARD_STORE_USER")
	setString(&c.Store.Password, "ORCHARD_STORE_PASSWORD")
	setString(&c.Store.Database, "ORCHARD_STORE_DATABASE")
	setString(&c.Store.SSLMode, "ORCHARD_STORE_SSLMODE")
	setString(&c.Store.Path, "ORCHARD_STORE_PATH")
	setInt(&c.Store.MaxOpenConns, "ORCHARD_STORE_MAX_OPEN_CONNS")
	setInt(&c.Store.MaxIdleConns, "ORCHARD_STORE_MAX_IDLE_CONNS")

	setString(&c.Logging.Level, "ORCHARD_LOG_LEVEL")

	setString(&c.Refresh.PriceSchedule, "ORCHARD_REFRESH_PRICE_SCHEDULE")
	setString(&c.Refresh.AnomalySchedule, "ORCHARD_REFRESH_ANOMALY_SCHEDULE")
	setString(&c.Refresh.EvolutionSchedule, "ORCHARD_REFRESH_EVOLUTION_SCHEDULE")
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.Host == "" || c.Store.Database == "" {
			return fmt.Errorf("postgres driver requires host and database")
		}
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("sqlite driver requires a database path")
		}
	default:
		return fmt.Errorf("unsupported store driver: %q", c.Store.Driver)
	}

	if c.Store.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive, got %d", c.Store.MaxOpenConns)
	}
	if c.Store.MaxIdleConns < 0 {
		return fmt.Errorf("max_idle_conns must not be negative, got %d", c.Store.MaxIdleConns)
	}

	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = cast.ToInt(v)
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d := cast.ToDuration(v); d > 0 {
			*dst = d
		}
	}
}
