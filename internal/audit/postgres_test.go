package audit_test

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JaimeStill/billwatch/internal/audit"
)

func TestRunInsertError(t *testing.T) {
	other := errors.New("connection refused")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"inserted", nil, nil},
		{"no row affected", sql.ErrNoRows, audit.ErrRunNotRecorded},
		{"unique violation", &pgconn.PgError{Code: "23505"}, audit.ErrDuplicateRun},
		{"other error", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := audit.RunInsertError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("RunInsertError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRunNotRecordedIsNotDuplicate(t *testing.T) {
	if errors.Is(audit.RunInsertError(sql.ErrNoRows), audit.ErrDuplicateRun) {
		t.Error("zero affected rows reported as a duplicate run")
	}
}
