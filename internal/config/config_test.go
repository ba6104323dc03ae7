package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northcloud/crawlctl/internal/config"
)

func TestLoad_NoFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "crawlctl", cfg.App.Name)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 4, cfg.Worker.WorkerCount)
}

func TestLoad_EnvironmentOverridesDefault(t *testing.T) {
	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("WORKER_COUNT", "8")

	cfg, err := config.Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 8, cfg.Worker.WorkerCount)
}

func TestLoad_LegacyEnvAliasIsHonored(t *testing.T) {
	t.Setenv("PGHOST", "legacy-host")
	cfg, err := config.Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, "legacy-host", cfg.Database.Host)
}

func TestLoad_DevelopmentEnvironmentRaisesLogLevel(t *testing.T) {
	t.Setenv("APP_ENVIRONMENT", "development")
	cfg, err := config.Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.True(t, cfg.Logger.Development)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestLoad_InvalidSSLModeFailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("database:\n  ssl_mode: bogus\n"), 0o644))

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_ProductionEnvironmentKeepsConfiguredLogLevel(t *testing.T) {
	t.Setenv("APP_ENVIRONMENT", "production")
	cfg, err := config.Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.False(t, cfg.Logger.Development)
	assert.Equal(t, "info", cfg.Logger.Level)
}
