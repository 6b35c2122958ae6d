package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"sigetidwh/pkg/errors"
	"sigetidwh/pkg/models"
)

// Environment variables understood by the refresh service. A config file is
// optional; the environment always wins.
const (
	EnvSourceDSN  = "DWH_SOURCE_DSN"
	EnvTargetDSN  = "DWH_TARGET_DSN"
	EnvTimeoutSec = "DWH_REFRESH_TIMEOUT_SEC"
	EnvLogLevel   = "DWH_LOG_LEVEL"
)

const defaultStatementTimeout = 10 * time.Minute

// Load reads configuration from the environment (and an optional .env file)
// plus an optional YAML config file, then validates it. Configuration errors
// are fatal: the refresh must not start with a partial environment.
func Load(configFile string) (*models.Config, error) {
	// .env is a developer convenience, absence is not an error
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("refresh.statement_timeout", defaultStatementTimeout)
	v.SetDefault("refresh.max_parallel", 4)
	v.SetDefault("log_level", "info")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeConfigInvalid,
				fmt.Sprintf("failed to read config file %s", configFile)).
				WithSeverity(errors.SeverityCritical)
		}
	}

	_ = v.BindEnv("source.dsn", EnvSourceDSN)
	_ = v.BindEnv("target.dsn", EnvTargetDSN)
	_ = v.BindEnv("refresh.statement_timeout_sec", EnvTimeoutSec)
	_ = v.BindEnv("log_level", EnvLogLevel)

	cfg := &models.Config{}
	cfg.Source.DSN = v.GetString("source.dsn")
	cfg.Target.DSN = v.GetString("target.dsn")
	cfg.LogLevel = v.GetString("log_level")
	cfg.Refresh.MaxParallel = v.GetInt("refresh.max_parallel")
	cfg.Refresh.MappingFile = v.GetString("refresh.mapping_file")
	cfg.Refresh.StatementTimeout = v.GetDuration("refresh.statement_timeout")

	if secs := v.GetInt("refresh.statement_timeout_sec"); secs > 0 {
		cfg.Refresh.StatementTimeout = time.Duration(secs) * time.Second
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is complete enough to run a refresh.
func Validate(cfg *models.Config) error {
	if cfg.Source.DSN == "" {
		return errors.ConfigError("source DSN is required", EnvSourceDSN)
	}
	if cfg.Target.DSN == "" {
		return errors.ConfigError("target DSN is required", EnvTargetDSN)
	}
	if cfg.Refresh.StatementTimeout <= 0 {
		return errors.ConfigError("statement timeout must be positive", EnvTimeoutSec)
	}
	if cfg.Refresh.MaxParallel <= 0 {
		return errors.ConfigError("max_parallel must be positive", "refresh.max_parallel")
	}
	return nil
}
