// Package database manages the Postgres connection pool used by the state
// store and the audit sink. Startup pings the server and refuses to continue
// until cmd/migrate has brought the schema to a clean version.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/JaimeStill/billwatch/pkg/lifecycle"
	"github.com/JaimeStill/billwatch/pkg/retry"
)

// System manages the connection pool and its lifecycle hooks.
type System interface {
	Connection() *sql.DB
	// Start registers startup and shutdown hooks with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error
	// SchemaVersion returns the migration version seen at startup.
	SchemaVersion() uint
}

type database struct {
	conn    *sql.DB
	logger  *slog.Logger
	policy  retry.Policy
	version uint
}

// New opens a pool for cfg. No connection is made until Start.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	db, err := sql.Open("pgx", cfg.Dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetimeDuration())

	timeout := cfg.ConnTimeoutDuration()
	return &database{
		conn:   db,
		logger: logger.With("system", "database"),
		policy: retry.Policy{
			MaxAttempts: 3,
			Timeout:     timeout,
			BaseDelay:   timeout / 10,
			MaxDelay:    timeout,
		},
	}, nil
}

func (d *database) Connection() *sql.DB {
	return d.conn
}

func (d *database) SchemaVersion() uint {
	return d.version
}

func (d *database) Start(lc *lifecycle.Coordinator) error {
	lc.OnStartup(func(ctx context.Context) error {
		err := retry.Do(ctx, d.policy, d.conn.PingContext)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNotReady, err)
		}

		version, err := CheckSchema(ctx, d.conn)
		if err != nil {
			return err
		}
		d.version = version

		d.logger.Info("database connection established", "schema_version", version)
		return nil
	})

	lc.OnShutdown(func() {
		<-lc.Context().Done()

		if err := d.conn.Close(); err != nil {
			d.logger.Error("database close failed", "error", err)
			return
		}
		d.logger.Info("database connection closed")
	})

	return nil
}

const schemaQuery = `SELECT version, dirty FROM schema_migrations LIMIT 1`

// CheckSchema reads the version recorded by golang-migrate. It returns
// ErrNotMigrated when no migration has been applied and ErrDirtySchema when
// the last migration failed part way.
func CheckSchema(ctx context.Context, db *sql.DB) (uint, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		version int64
		dirty   bool
	)
	err := db.QueryRowContext(ctx, schemaQuery).Scan(&version, &dirty)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrNotMigrated
	case err != nil:
		return 0, fmt.Errorf("%w: %w", ErrNotMigrated, err)
	case dirty:
		return uint(version), fmt.Errorf("%w: version %d", ErrDirtySchema, version)
	}
	return uint(version), nil
}
