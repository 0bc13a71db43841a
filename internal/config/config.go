// Package config provides centralized configuration for patientsync.
// It loads configuration from environment variables (optionally seeded from
// a .env file by main) with defaults, and validates all settings on startup
// to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Database  DatabaseConfig
	Logging   LoggingConfig
	Reconcile ReconcileConfig
	Insert    InsertConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string (required)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 4)
	MaxConns int `env:"DB_MAX_CONNS" default:"4"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`

	// ConnectTimeout bounds connecting and pinging the database (default: 10s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"10s"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// ReconcileConfig holds settings for the reconciliation stage.
type ReconcileConfig struct {
	// TenantID is stamped on every new patient. Required by reconcile only.
	TenantID string `env:"TENANT_ID"`

	// CreatedByID is the user recorded as creator. Required by reconcile only.
	CreatedByID string `env:"CREATED_BY_ID"`

	// Input is the partner CSV export (default: patients.csv)
	Input string `env:"RECONCILE_INPUT" default:"patients.csv"`

	// OutputCSV is the annotated copy of the input (default: patients_updated.csv)
	OutputCSV string `env:"RECONCILE_OUTPUT_CSV" default:"patients_updated.csv"`

	// BatchFile is the pending-insert batch (default: patients_to_create.json)
	BatchFile string `env:"RECONCILE_BATCH_FILE" default:"patients_to_create.json"`

	// ProgressEvery is how often (in rows) progress is logged (default: 100)
	ProgressEvery int `env:"RECONCILE_PROGRESS_EVERY" default:"100"`
}

// InsertConfig holds settings for the insertion stage.
type InsertConfig struct {
	// BatchFile is the pending-insert batch to replay (default: patients_to_create.json)
	BatchFile string `env:"INSERT_BATCH_FILE" default:"patients_to_create.json"`

	// Timeout bounds a whole insertion run (default: 30m)
	Timeout time.Duration `env:"INSERT_TIMEOUT" default:"30m"`
}
