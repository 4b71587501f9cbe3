package database

import (
	"fmt"
	"time"
)

// BackendType identifies the relational engine behind the repository.
type BackendType string

const (
	BackendSQLite     BackendType = "sqlite"
	BackendPostgreSQL BackendType = "postgresql"
)

// Config represents the complete database configuration.
type Config struct {
	// Backend is the engine to use (default: "sqlite")
	Backend BackendType `yaml:"backend"`

	// SQLite configuration
	SQLite SQLiteConfig `yaml:"sqlite"`

	// PostgreSQL configuration
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
}

// SQLiteConfig holds SQLite-specific configuration.
type SQLiteConfig struct {
	// Path to the database file (default: "./data/healthclaw.db")
	Path string `yaml:"path"`

	// Journal mode (default: WAL)
	JournalMode string `yaml:"journal_mode"`

	// Busy timeout in milliseconds (default: 5000)
	BusyTimeout int `yaml:"busy_timeout"`

	// Enable foreign keys (default: true)
	ForeignKeys bool `yaml:"foreign_keys"`

	// MaxOpenConns caps the pool (default: 4)
	MaxOpenConns int `yaml:"max_open_conns"`
}

// PostgreSQLConfig holds PostgreSQL configuration.
type PostgreSQLConfig struct {
	// DSN overrides the individual fields when set.
	DSN string `yaml:"dsn"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`

	// Password for authentication (supports ${ENV_VAR} expansion)
	Password string `yaml:"password"`

	// SSL mode: disable, require, verify-ca, verify-full
	SSLMode string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// DefaultConfig returns the default configuration (SQLite).
func DefaultConfig() Config {
	return Config{
		Backend: BackendSQLite,
		SQLite: SQLiteConfig{
			Path:         "./data/healthclaw.db",
			JournalMode:  "WAL",
			BusyTimeout:  5000,
			ForeignKeys:  true,
			MaxOpenConns: 4,
		},
		PostgreSQL: PostgreSQLConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
	}
}

// Effective returns a copy with default values filled in for zero fields.
func (c Config) Effective() Config {
	def := DefaultConfig()
	out := c

	if out.Backend == "" {
		out.Backend = def.Backend
	}

	if out.SQLite.Path == "" {
		out.SQLite.Path = def.SQLite.Path
	}
	if out.SQLite.JournalMode == "" {
		out.SQLite.JournalMode = def.SQLite.JournalMode
	}
	if out.SQLite.BusyTimeout == 0 {
		out.SQLite.BusyTimeout = def.SQLite.BusyTimeout
	}
	if out.SQLite.MaxOpenConns == 0 {
		out.SQLite.MaxOpenConns = def.SQLite.MaxOpenConns
	}

	pg := &out.PostgreSQL
	if pg.Host == "" {
		pg.Host = def.PostgreSQL.Host
	}
	if pg.Port == 0 {
		pg.Port = def.PostgreSQL.Port
	}
	if pg.SSLMode == "" {
		pg.SSLMode = def.PostgreSQL.SSLMode
	}
	if pg.MaxOpenConns == 0 {
		pg.MaxOpenConns = def.PostgreSQL.MaxOpenConns
	}
	if pg.MaxIdleConns == 0 {
		pg.MaxIdleConns = def.PostgreSQL.MaxIdleConns
	}
	if pg.ConnMaxLifetime == 0 {
		pg.ConnMaxLifetime = def.PostgreSQL.ConnMaxLifetime
	}
	if pg.ConnMaxIdleTime == 0 {
		pg.ConnMaxIdleTime = def.PostgreSQL.ConnMaxIdleTime
	}

	return out
}

// Validate checks the backend selection.
func (c Config) Validate() error {
	switch c.Backend {
	case "", BackendSQLite, BackendPostgreSQL:
		return nil
	default:
		return fmt.Errorf("unsupported database backend: %q", c.Backend)
	}
}
