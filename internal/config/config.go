// Package config loads the billwatch configuration from config.toml, an
// optional per-environment overlay, and BILLWATCH_* environment variables.
package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/JaimeStill/billwatch/internal/pipeline"
	"github.com/JaimeStill/billwatch/internal/rows"
	"github.com/JaimeStill/billwatch/pkg/database"
	"github.com/JaimeStill/billwatch/pkg/kv"
	"github.com/JaimeStill/billwatch/pkg/pagination"
	"github.com/JaimeStill/billwatch/pkg/storage"
)

const (
	BaseConfigFile       = "config.toml"
	OverlayConfigPattern = "config.%s.toml"

	EnvBillwatchEnv = "BILLWATCH_ENV"
	EnvLogFormat    = "BILLWATCH_LOG_FORMAT"
	EnvLogLevel     = "BILLWATCH_LOG_LEVEL"
	EnvVersion      = "BILLWATCH_VERSION"
)

// DatabaseEnv names the BILLWATCH_DB_* variables read by the database config.
var DatabaseEnv = &database.Env{
	Host:            "BILLWATCH_DB_HOST",
	Port:            "BILLWATCH_DB_PORT",
	Name:            "BILLWATCH_DB_NAME",
	User:            "BILLWATCH_DB_USER",
	Password:        "BILLWATCH_DB_PASSWORD",
	SSLMode:         "BILLWATCH_DB_SSL_MODE",
	MaxOpenConns:    "BILLWATCH_DB_MAX_OPEN_CONNS",
	ConnMaxLifetime: "BILLWATCH_DB_CONN_MAX_LIFETIME",
	ConnTimeout:     "BILLWATCH_DB_CONN_TIMEOUT",
}

var storageEnv = &storage.Env{
	Backend:          "BILLWATCH_STORAGE_BACKEND",
	ContainerName:    "BILLWATCH_STORAGE_CONTAINER_NAME",
	ConnectionString: "BILLWATCH_STORAGE_CONNECTION_STRING",
	AccountURL:       "BILLWATCH_STORAGE_ACCOUNT_URL",
	RootDir:          "BILLWATCH_STORAGE_ROOT_DIR",
	MaxRetries:       "BILLWATCH_STORAGE_MAX_RETRIES",
}

var paginationEnv = &pagination.ConfigEnv{
	DefaultPageSize: "BILLWATCH_PAGINATION_DEFAULT_PAGE_SIZE",
	MaxPageSize:     "BILLWATCH_PAGINATION_MAX_PAGE_SIZE",
}

var stateEnv = &kv.Env{
	Backend:    "BILLWATCH_STATE_BACKEND",
	Dir:        "BILLWATCH_STATE_DIR",
	SQLitePath: "BILLWATCH_STATE_SQLITE_PATH",
}

// Config is the root configuration for billwatch.
type Config struct {
	Run        RunConfig         `toml:"run"`
	Hash       HashConfig        `toml:"hash"`
	Audit      AuditConfig       `toml:"audit"`
	State      kv.Config         `toml:"state"`
	Database   database.Config   `toml:"database"`
	Storage    storage.Config    `toml:"storage"`
	Render     RenderConfig      `toml:"render"`
	Source     SourceConfig      `toml:"source"`
	Sink       SinkConfig        `toml:"sink"`
	Pagination pagination.Config `toml:"pagination"`
	Columns    rows.Columns      `toml:"columns"`
	LogFormat  string            `toml:"log_format"`
	LogLevel   string            `toml:"log_level"`
	Version    string            `toml:"version"`
}

// Env returns the BILLWATCH_ENV value, defaulting to "local".
func (c *Config) Env() string {
	if env := os.Getenv(EnvBillwatchEnv); env != "" {
		return env
	}
	return "local"
}

// UsesDatabase reports whether any configured backend needs Postgres.
func (c *Config) UsesDatabase() bool {
	return c.State.UsesDatabase() || c.Sink.Backend == SinkPostgres
}

// Pipeline returns the run settings for pipeline.New.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Workers:       c.Run.Workers,
		Retry:         c.Run.RetryPolicy(),
		Force:         c.Run.Force,
		Extended:      c.Hash.Extended,
		Columns:       c.Columns,
		AuditFields:   c.Audit.SensitiveFields,
		AuditWorkers:  c.Audit.Workers,
		Thresholds:    c.Audit.Thresholds(),
		VarianceRatio: c.Audit.VarianceRatio(),
	}
}

// Load reads the base config (if present), applies any environment overlay,
// and finalizes all values. If no config.toml exists, defaults and environment
// variables provide all configuration.
func Load() (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(BaseConfigFile); err == nil {
		loaded, err := load(BaseConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if path := overlayPath(); path != "" {
		overlay, err := load(path)
		if err != nil {
			return nil, fmt.Errorf("load overlay %s: %w", path, err)
		}
		cfg.Merge(overlay)
	}

	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("finalize config: %w", err)
	}

	return cfg, nil
}

// Merge overwrites non-zero fields from overlay across all sub-configs.
func (c *Config) Merge(overlay *Config) {
	if overlay.LogFormat != "" {
		c.LogFormat = overlay.LogFormat
	}
	if overlay.LogLevel != "" {
		c.LogLevel = overlay.LogLevel
	}
	if overlay.Version != "" {
		c.Version = overlay.Version
	}
	c.Run.Merge(&overlay.Run)
	c.Hash.Merge(&overlay.Hash)
	c.Audit.Merge(&overlay.Audit)
	c.State.Merge(&overlay.State)
	c.Database.Merge(&overlay.Database)
	c.Storage.Merge(&overlay.Storage)
	c.Render.Merge(&overlay.Render)
	c.Source.Merge(&overlay.Source)
	c.Sink.Merge(&overlay.Sink)
	c.Pagination.Merge(&overlay.Pagination)
	c.Columns.Merge(&overlay.Columns)
}

func (c *Config) finalize() error {
	c.loadDefaults()
	c.loadEnv()

	if err := c.validate(); err != nil {
		return err
	}
	if err := c.Run.Finalize(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if err := c.Hash.Finalize(); err != nil {
		return fmt.Errorf("hash: %w", err)
	}
	if err := c.Audit.Finalize(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := c.State.Finalize(stateEnv); err != nil {
		return fmt.Errorf("state: %w", err)
	}
	if err := c.Storage.Finalize(storageEnv); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Render.Finalize(); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if err := c.Source.Finalize(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Sink.Finalize(); err != nil {
		return fmt.Errorf("sink: %w", err)
	}
	if err := c.Pagination.Finalize(paginationEnv); err != nil {
		return fmt.Errorf("pagination: %w", err)
	}
	c.Columns.Finalize()

	// database settings are only required when a backend uses Postgres
	if c.UsesDatabase() {
		if err := c.Database.Finalize(DatabaseEnv); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	return nil
}

func (c *Config) loadDefaults() {
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Version == "" {
		c.Version = "0.1.0"
	}
}

func (c *Config) loadEnv() {
	if v := os.Getenv(EnvLogFormat); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvVersion); v != "" {
		c.Version = v
	}
}

func (c *Config) validate() error {
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

func overlayPath() string {
	if env := os.Getenv(EnvBillwatchEnv); env != "" {
		path := fmt.Sprintf(OverlayConfigPattern, env)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
