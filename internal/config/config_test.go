package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigetidwh/pkg/errors"
	"sigetidwh/pkg/models"
)

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	require.NoError(t, os.Setenv(key, value))
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, old)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{EnvSourceDSN, EnvTargetDSN, EnvTimeoutSec, EnvLogLevel} {
		setEnv(t, key, "")
		_ = os.Unsetenv(key)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	setEnv(t, EnvSourceDSN, "postgres://sigeti:pw@localhost:5432/sigeti?sslmode=disable")
	setEnv(t, EnvTargetDSN, "postgres://sigeti:pw@localhost:5432/sigeti_dwh?sslmode=disable")
	setEnv(t, EnvTimeoutSec, "120")
	setEnv(t, EnvLogLevel, "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Contains(t, cfg.Source.DSN, "sigeti?")
	assert.Contains(t, cfg.Target.DSN, "sigeti_dwh")
	assert.Equal(t, 120*time.Second, cfg.Refresh.StatementTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	setEnv(t, EnvSourceDSN, "postgres://localhost/src")
	setEnv(t, EnvTargetDSN, "postgres://localhost/dst")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Refresh.StatementTimeout)
	assert.Equal(t, 4, cfg.Refresh.MaxParallel)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadMissingDSN(t *testing.T) {
	clearEnv(t)

	_, err := Load("")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetErrorCode(err))
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), EnvSourceDSN)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)

	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := []byte(`
source:
  dsn: postgres://localhost/src
target:
  dsn: postgres://localhost/dst
refresh:
  max_parallel: 2
log_level: warn
`)
	require.NoError(t, os.WriteFile(file, content, 0o600))

	cfg, err := Load(file)
	require.NoError(t, err)

	// dsn is the only connection field; no host/port assembly happens.
	assert.Equal(t, "postgres://localhost/src", cfg.Source.DSN)
	assert.Equal(t, "postgres://localhost/dst", cfg.Target.DSN)
	assert.Equal(t, 2, cfg.Refresh.MaxParallel)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadBadConfigFile(t *testing.T) {
	clearEnv(t)

	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestValidate(t *testing.T) {
	valid := func() *models.Config {
		return &models.Config{
			Source:  models.Database{DSN: "postgres://localhost/src"},
			Target:  models.Database{DSN: "postgres://localhost/dst"},
			Refresh: models.Refresh{StatementTimeout: time.Minute, MaxParallel: 4},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*models.Config)
		wantErr string
	}{
		{"valid", func(c *models.Config) {}, ""},
		{"missing source", func(c *models.Config) { c.Source.DSN = "" }, "source DSN"},
		{"missing target", func(c *models.Config) { c.Target.DSN = "" }, "target DSN"},
		{"zero timeout", func(c *models.Config) { c.Refresh.StatementTimeout = 0 }, "timeout"},
		{"zero parallel", func(c *models.Config) { c.Refresh.MaxParallel = 0 }, "max_parallel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}
