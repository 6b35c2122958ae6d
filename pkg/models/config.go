package models

import "time"

// Config holds the full runtime configuration of the refresh service.
type Config struct {
	Source   Database `yaml:"source"`
	Target   Database `yaml:"target"`
	Refresh  Refresh  `yaml:"refresh"`
	LogLevel string   `yaml:"log_level"`
}

// Database describes one Postgres endpoint. lib/pq accepts both URL and
// key/value DSNs, so a single string covers every deployment.
type Database struct {
	DSN string `yaml:"dsn"`
}

// Refresh holds orchestrator tuning.
type Refresh struct {
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	MaxParallel      int           `yaml:"max_parallel"`
	MappingFile      string        `yaml:"mapping_file"`
}
