package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "limsflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, defaultLogPath, cfg.Log.Path)
	assert.Equal(t, defaultConnMaxLifetime, cfg.Store.ConnMaxLifetime)
	assert.False(t, cfg.Workflow.EnforceRoles)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
store:
  driver: mysql
  dsn: "approve:approve@tcp(127.0.0.1:3306)/approval_system?parseTime=true"
  connMaxLifetime: 5m
workflow:
  definitionsFile: workflows.yaml
  enforceRoles: true
  roleAssignments:
    bob: [sales_manager]
tracing:
  enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, defaultLogPath, cfg.Log.Path)
	assert.Equal(t, DriverMySQL, cfg.Store.Driver)
	assert.Equal(t, 5*time.Minute, cfg.Store.ConnMaxLifetime)
	assert.Equal(t, "workflows.yaml", cfg.Workflow.DefinitionsFile)
	assert.True(t, cfg.Workflow.EnforceRoles)
	assert.Equal(t, []string{"sales_manager"}, cfg.Workflow.RoleAssignments["bob"])
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvStoreDriver, DriverMySQL)
	t.Setenv(EnvMySQLDSN, "u:p@tcp(db:3306)/lims?parseTime=true")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvTracingEnabled, "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverMySQL, cfg.Store.Driver)
	assert.Equal(t, "u:p@tcp(db:3306)/lims?parseTime=true", cfg.Store.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoadDriverFromDSN(t *testing.T) {
	t.Run("dsn selects mysql", func(t *testing.T) {
		t.Setenv(EnvMySQLDSN, "u:p@tcp(db:3306)/lims")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DriverMySQL, cfg.Store.Driver)
	})
	t.Run("dsn in file selects mysql", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "store:\n  dsn: u:p@tcp(db:3306)/lims\n"))
		require.NoError(t, err)
		assert.Equal(t, DriverMySQL, cfg.Store.Driver)
	})
	t.Run("explicit memory wins", func(t *testing.T) {
		t.Setenv(EnvMySQLDSN, "u:p@tcp(db:3306)/lims")
		t.Setenv(EnvStoreDriver, DriverMemory)
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, DriverMemory, cfg.Store.Driver)
	})
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
	t.Run("mysql without dsn", func(t *testing.T) {
		_, err := Load(writeConfig(t, "store:\n  driver: mysql\n"))
		assert.ErrorContains(t, err, "store.dsn is required")
	})
	t.Run("unknown driver", func(t *testing.T) {
		_, err := Load(writeConfig(t, "store:\n  driver: redis\n"))
		assert.ErrorContains(t, err, "unsupported store driver")
	})
	t.Run("bad bool", func(t *testing.T) {
		t.Setenv(EnvEnforceRoles, "maybe")
		_, err := Load("")
		assert.ErrorContains(t, err, EnvEnforceRoles)
	})
}
