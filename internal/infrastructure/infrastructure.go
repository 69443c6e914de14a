// Package infrastructure provides core system initialization for a billwatch
// process. It assembles the dependencies the pipeline drives: logging, the
// optional database, artifact storage, and the state store.
package infrastructure

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JaimeStill/billwatch/internal/config"
	"github.com/JaimeStill/billwatch/pkg/database"
	"github.com/JaimeStill/billwatch/pkg/kv"
	"github.com/JaimeStill/billwatch/pkg/lifecycle"
	"github.com/JaimeStill/billwatch/pkg/storage"
)

// Infrastructure holds the core systems required by every command.
type Infrastructure struct {
	Lifecycle *lifecycle.Coordinator
	Logger    *slog.Logger
	// Database is nil unless a configured backend uses Postgres.
	Database database.System
	Storage  storage.System
	State    kv.Store
}

// New creates an Infrastructure from the application configuration.
// It initializes all systems but does not start them; call Start separately.
func New(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	lc := lifecycle.New(ctx)
	logger := NewLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	var (
		db   database.System
		conn *sql.DB
		err  error
	)
	if cfg.UsesDatabase() {
		db, err = database.New(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("database init failed: %w", err)
		}
		conn = db.Connection()
	}

	store, err := storage.New(&cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	state, err := kv.Open(&cfg.State, conn)
	if err != nil {
		return nil, fmt.Errorf("state init failed: %w", err)
	}

	return &Infrastructure{
		Lifecycle: lc,
		Logger:    logger,
		Database:  db,
		Storage:   store,
		State:     state,
	}, nil
}

// Start registers all infrastructure systems with the lifecycle coordinator
// and waits for their startup hooks.
func (i *Infrastructure) Start() error {
	if i.Database != nil {
		if err := i.Database.Start(i.Lifecycle); err != nil {
			return fmt.Errorf("database start failed: %w", err)
		}
	}
	if err := i.Storage.Start(i.Lifecycle); err != nil {
		return fmt.Errorf("storage start failed: %w", err)
	}

	i.Lifecycle.OnShutdown(func() {
		<-i.Lifecycle.Context().Done()
		if err := i.State.Close(); err != nil {
			i.Logger.Error("state store close failed", "error", err)
		}
	})

	return i.Lifecycle.WaitForStartup()
}

// NewLogger builds the root logger. format is "text" or "json"; level is one
// of debug, info, warn, error.
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
