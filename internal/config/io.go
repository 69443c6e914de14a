package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	EnvSourcePath   = "BILLWATCH_SOURCE_PATH"
	EnvSinkBackend  = "BILLWATCH_SINK_BACKEND"
	EnvSinkPath     = "BILLWATCH_SINK_PATH"
	EnvRenderPrefix = "BILLWATCH_RENDER_PREFIX"
)

// Sink backends.
const (
	SinkFile     = "file"
	SinkPostgres = "postgres"
)

// SourceConfig locates the row snapshot.
type SourceConfig struct {
	Path string `toml:"path"`
}

// Finalize applies defaults and environment variable overrides.
func (c *SourceConfig) Finalize() error {
	if c.Path == "" {
		c.Path = "rows.yaml"
	}
	if v := os.Getenv(EnvSourcePath); v != "" {
		c.Path = v
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *SourceConfig) Merge(overlay *SourceConfig) {
	if overlay.Path != "" {
		c.Path = overlay.Path
	}
}

// SinkConfig selects where audit batches are appended.
type SinkConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// Finalize applies defaults, environment variable overrides, and validation.
func (c *SinkConfig) Finalize() error {
	if c.Backend == "" {
		c.Backend = SinkFile
	}
	if c.Path == "" {
		c.Path = filepath.Join("state", "audit.jsonl")
	}
	if v := os.Getenv(EnvSinkBackend); v != "" {
		c.Backend = v
	}
	if v := os.Getenv(EnvSinkPath); v != "" {
		c.Path = v
	}

	switch c.Backend {
	case SinkFile, SinkPostgres:
		return nil
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// Merge overwrites non-zero fields from overlay.
func (c *SinkConfig) Merge(overlay *SinkConfig) {
	if overlay.Backend != "" {
		c.Backend = overlay.Backend
	}
	if overlay.Path != "" {
		c.Path = overlay.Path
	}
}

// RenderConfig places generated artifacts within blob storage.
type RenderConfig struct {
	Prefix string `toml:"prefix"`
}

// Finalize applies environment variable overrides.
func (c *RenderConfig) Finalize() error {
	if v := os.Getenv(EnvRenderPrefix); v != "" {
		c.Prefix = v
	}
	return nil
}

// Merge overwrites non-zero fields from overlay.
func (c *RenderConfig) Merge(overlay *RenderConfig) {
	if overlay.Prefix != "" {
		c.Prefix = overlay.Prefix
	}
}
