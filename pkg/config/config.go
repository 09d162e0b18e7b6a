package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for listing-engine.
// Configuration can come from YAML file (config.yaml) or environment
// variables. Environment variables override YAML values; secrets (the
// database password) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Listings API behavior
	Listings ListingsConfig `yaml:"listings"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"listings"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"listings"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	// MigrationsPath is the directory golang-migrate reads SQL files from.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// ListingsConfig holds request-shaping settings for the listings API.
type ListingsConfig struct {
	// DefaultPageLimit is used when a query request omits the limit parameter.
	DefaultPageLimit int `yaml:"default_page_limit" env:"LISTINGS_DEFAULT_PAGE_LIMIT" env-default:"100"`
	// MaxPageLimit caps the limit parameter on query requests.
	MaxPageLimit int `yaml:"max_page_limit" env:"LISTINGS_MAX_PAGE_LIMIT" env-default:"500"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Load reads configuration from config.yaml with environment overrides.
// When config.yaml is absent, configuration comes from environment variables
// and defaults alone.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Listings.DefaultPageLimit <= 0 {
		return fmt.Errorf("default_page_limit must be positive, got %d", c.Listings.DefaultPageLimit)
	}
	if c.Listings.MaxPageLimit < c.Listings.DefaultPageLimit {
		return fmt.Errorf("max_page_limit (%d) must be >= default_page_limit (%d)",
			c.Listings.MaxPageLimit, c.Listings.DefaultPageLimit)
	}
	return nil
}
