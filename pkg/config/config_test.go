package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("test-version")
	require.NoError(t, err)

	assert.Equal(t, "test-version", cfg.Version)
	assert.Equal(t, "127.0.0.1", cfg.BindAddr)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "migrations", cfg.Database.MigrationsPath)
	assert.Equal(t, 100, cfg.Listings.DefaultPageLimit)
	assert.Equal(t, 500, cfg.Listings.MaxPageLimit)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("PGHOST", "db.internal")
	t.Setenv("PGPASSWORD", "secret")
	t.Setenv("LISTINGS_DEFAULT_PAGE_LIMIT", "25")

	cfg, err := Load("dev")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "secret", cfg.Database.Password)
	assert.Equal(t, 25, cfg.Listings.DefaultPageLimit)
}

func TestLoad_RejectsBadLimits(t *testing.T) {
	t.Setenv("LISTINGS_DEFAULT_PAGE_LIMIT", "1000")
	t.Setenv("LISTINGS_MAX_PAGE_LIMIT", "100")

	_, err := Load("dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_page_limit")
}

// The checked-in config.yaml must stay in sync with the struct defaults so
// that deleting the file does not change behavior.
func TestCheckedInConfigMatchesDefaults(t *testing.T) {
	data, err := os.ReadFile("../../config.yaml")
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, yaml.Unmarshal(data, &cfg))

	defaults, err := Load("test")
	require.NoError(t, err)

	assert.Equal(t, defaults.BindAddr, cfg.BindAddr)
	assert.Equal(t, defaults.Port, cfg.Port)
	assert.Equal(t, defaults.Database.Host, cfg.Database.Host)
	assert.Equal(t, defaults.Database.Port, cfg.Database.Port)
	assert.Equal(t, defaults.Database.MigrationsPath, cfg.Database.MigrationsPath)
	assert.Equal(t, defaults.Listings, cfg.Listings)
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "listings",
		Password: "pw",
		Database: "listings",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=listings password=pw dbname=listings sslmode=disable",
		cfg.ConnectionString())
}
