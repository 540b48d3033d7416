package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 60*time.Second, cfg.Session.EvictionWindow.Duration)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxBackoff.Duration)
	assert.Equal(t, 60*time.Second, cfg.IdleInTxTimeout())
}

func TestLoadConfig_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessiondb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  driver: mysql
  host: db.internal
  port: 3306
  name: orders
  user: app
  idle_in_transaction_timeout: 2m
session:
  eviction_window: 90s
retry:
  max_retries: 5
logging:
  level: debug
  format: json
`), 0o600))

	res, err := LoadConfigWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, path, res.ConfigPath)

	cfg := res.Config
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 3306, cfg.Database.Port)
	assert.Equal(t, 90*time.Second, cfg.Session.EvictionWindow.Duration)
	assert.Equal(t, 2*time.Minute, cfg.IdleInTxTimeout())
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, "json", cfg.Logging.Format)
	// untouched keys keep their defaults
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.BaseDelay.Duration)
}

func TestLoadConfig_TOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessiondb.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[database]
driver = "sqlite3"
dsn = "file::memory:?cache=shared"

[session]
eviction_window = "5s"
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Session.EvictionWindow.Duration)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "pg.example")
	t.Setenv("SESSIONDB_DB_PORT", "6543")
	t.Setenv("SESSIONDB_EVICTION_WINDOW", "2m")
	t.Setenv("SESSIONDB_LOG_LEVEL", "warn")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "pg.example", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 2*time.Minute, cfg.Session.EvictionWindow.Duration)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("SESSIONDB_DRIVER", "oracle")
	_, err := LoadConfig("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestLoadConfigWithPath_MissingFile(t *testing.T) {
	_, err := LoadConfigWithPath(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfigForAPI_MasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Database.Password = "hunter2"
	cfg.Database.DSN = "postgres://u:hunter2@h/db"

	out := ConfigForAPI(cfg)
	assert.Equal(t, "********", out.Database.Password)
	assert.Equal(t, "********", out.Database.DSN)
	assert.Equal(t, "hunter2", cfg.Database.Password, "original must not be modified")
}
