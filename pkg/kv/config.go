package kv

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Config.Backend.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config selects and parameterizes the state backend.
type Config struct {
	Backend    string `toml:"backend"`
	Dir        string `toml:"dir"`
	SQLitePath string `toml:"sqlite_path"`
}

// Env maps config fields to environment variable names for override injection.
type Env struct {
	Backend    string
	Dir        string
	SQLitePath string
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *Config) Finalize(env *Env) error {
	c.loadDefaults()
	if env != nil {
		c.loadEnv(env)
	}
	if c.SQLitePath == "" {
		c.SQLitePath = filepath.Join(c.Dir, "billwatch.db")
	}
	return c.validate()
}

// Merge overwrites non-zero fields from overlay.
func (c *Config) Merge(overlay *Config) {
	if overlay.Backend != "" {
		c.Backend = overlay.Backend
	}
	if overlay.Dir != "" {
		c.Dir = overlay.Dir
	}
	if overlay.SQLitePath != "" {
		c.SQLitePath = overlay.SQLitePath
	}
}

// UsesDatabase reports whether the backend needs the shared Postgres pool.
func (c *Config) UsesDatabase() bool {
	return c.Backend == BackendPostgres
}

// Open constructs the configured Store. db is only consulted by the postgres backend.
func Open(cfg *Config, db *sql.DB) (Store, error) {
	switch cfg.Backend {
	case BackendFile:
		return NewFile(cfg.Dir)
	case BackendSQLite:
		return NewSQLite(cfg.SQLitePath)
	case BackendPostgres:
		if db == nil {
			return nil, fmt.Errorf("postgres state backend requires a database connection")
		}
		return NewPostgres(db), nil
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.Backend)
	}
}

func (c *Config) loadDefaults() {
	if c.Backend == "" {
		c.Backend = BackendFile
	}
	if c.Dir == "" {
		c.Dir = "state"
	}
}

func (c *Config) loadEnv(env *Env) {
	if env.Backend != "" {
		if v := os.Getenv(env.Backend); v != "" {
			c.Backend = v
		}
	}
	if env.Dir != "" {
		if v := os.Getenv(env.Dir); v != "" {
			c.Dir = v
		}
	}
	if env.SQLitePath != "" {
		if v := os.Getenv(env.SQLitePath); v != "" {
			c.SQLitePath = v
		}
	}
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendFile, BackendSQLite, BackendPostgres, BackendMemory:
		return nil
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
}
