package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JaimeStill/billwatch/pkg/repository"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS state_documents (
	name       TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// dialect holds the statements that differ between sqlite and Postgres.
type dialect struct {
	get string
	put string
}

var sqliteDialect = dialect{
	get: `SELECT body FROM state_documents WHERE name = ?`,
	put: `
		INSERT INTO state_documents(name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
}

var postgresDialect = dialect{
	get: `SELECT body::text FROM state_documents WHERE name = $1`,
	put: `
		INSERT INTO state_documents(name, body, updated_at) VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
}

type sqlStore struct {
	db      *sql.DB
	dialect dialect
	owned   bool
}

// NewSQLite opens (creating if needed) a sqlite database at path and returns
// a Store backed by its state_documents table.
func NewSQLite(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		sqliteSchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
	}

	return &sqlStore{db: db, dialect: sqliteDialect, owned: true}, nil
}

// NewPostgres returns a Store backed by the state_documents table created by
// cmd/migrate. The connection pool is owned by the caller.
func NewPostgres(db *sql.DB) Store {
	return &sqlStore{db: db, dialect: postgresDialect}
}

func (s *sqlStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	body, err := repository.QueryOne(ctx, s.db, s.dialect.get, []any{name}, scanBody)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	return []byte(body), nil
}

func (s *sqlStore) Put(ctx context.Context, name string, value []byte) error {
	if err := validateName(name); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := repository.WithTx(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		return struct{}{}, repository.ExecExpectOne(ctx, tx, s.dialect.put, name, string(value), now)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

func (s *sqlStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func scanBody(sc repository.Scanner) (string, error) {
	var body string
	err := sc.Scan(&body)
	return body, err
}
