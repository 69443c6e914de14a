package database

import "errors"

var (
	// ErrNotReady indicates the database did not answer the startup ping.
	ErrNotReady = errors.New("database not ready")
	// ErrNotMigrated indicates the schema_migrations table is missing or empty.
	ErrNotMigrated = errors.New("database schema not migrated; run cmd/migrate -up")
	// ErrDirtySchema indicates the last migration did not complete.
	ErrDirtySchema = errors.New("database schema is dirty")
)
