package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"
	_ "modernc.org/sqlite"

	"github.com/JaimeStill/billwatch/pkg/repository"
)

var (
	errNotFound  = errors.New("not found")
	errDuplicate = errors.New("duplicate")
)

func TestMapError(t *testing.T) {
	other := errors.New("some other error")
	fk := &pgconn.PgError{Code: "23503"}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", sql.ErrNoRows, errNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505"}, errDuplicate},
		{"other pg error", fk, fk},
		{"passthrough", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := repository.MapError(tt.err, errNotFound, errDuplicate)
			if !errors.Is(got, tt.want) && got != tt.want {
				t.Errorf("MapError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "repo.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

type item struct {
	ID   int
	Name string
}

func scanItem(s repository.Scanner) (item, error) {
	var it item
	err := s.Scan(&it.ID, &it.Name)
	return it, err
}

func TestWithTxCommitsAndQueries(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	n, err := repository.WithTx(ctx, db, func(tx *sql.Tx) (int, error) {
		return repository.ExecEach(ctx, tx, `INSERT INTO items (id, name) VALUES (?, ?)`, [][]any{
			{1, "alpha"},
			{2, "beta"},
		})
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	if n != 2 {
		t.Errorf("ExecEach count = %d, want 2", n)
	}

	got, err := repository.QueryMany(ctx, db, `SELECT id, name FROM items ORDER BY id`, nil, scanItem)
	if err != nil {
		t.Fatalf("QueryMany: %v", err)
	}
	want := []item{{1, "alpha"}, {2, "beta"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}

	one, err := repository.QueryOne(ctx, db, `SELECT id, name FROM items WHERE id = ?`, []any{2}, scanItem)
	if err != nil {
		t.Fatalf("QueryOne: %v", err)
	}
	if one.Name != "beta" {
		t.Errorf("QueryOne name = %q, want beta", one.Name)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	_, err := repository.WithTx(ctx, db, func(tx *sql.Tx) (int, error) {
		return repository.ExecEach(ctx, tx, `INSERT INTO items (id, name) VALUES (?, ?)`, [][]any{
			{1, "alpha"},
			{1, "duplicate"},
		})
	})
	if err == nil {
		t.Fatal("expected constraint error")
	}

	got, err := repository.QueryMany(ctx, db, `SELECT id, name FROM items`, nil, scanItem)
	if err != nil {
		t.Fatalf("QueryMany: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("rows after rollback = %v, want none", got)
	}
}

func TestExecExpectOne(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	if err := repository.ExecExpectOne(ctx, db, `INSERT INTO items (id, name) VALUES (?, ?)`, 1, "alpha"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	err := repository.ExecExpectOne(ctx, db, `UPDATE items SET name = ? WHERE id = ?`, "gamma", 99)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("update missing row: got %v, want sql.ErrNoRows", err)
	}
}

func TestQueryOneNoRows(t *testing.T) {
	db := openDB(t)

	_, err := repository.QueryOne(context.Background(), db, `SELECT id, name FROM items WHERE id = ?`, []any{1}, scanItem)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("got %v, want sql.ErrNoRows", err)
	}
}
