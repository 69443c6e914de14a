package audit

import (
	"bufio"
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JaimeStill/billwatch/pkg/pagination"
	"github.com/JaimeStill/billwatch/pkg/query"
	"github.com/JaimeStill/billwatch/pkg/repository"
)

// ErrUnknownSort indicates a listing was asked to sort on a field it does not expose.
var ErrUnknownSort = errors.New("unknown sort field")

// Filters narrows an event listing. Nil fields are ignored. Since is an
// inclusive lower bound on DetectedAt.
type Filters struct {
	RunID         *string    `json:"runId,omitempty"`
	WorkRequestID *string    `json:"workRequestId,omitempty"`
	Field         *string    `json:"field,omitempty"`
	Since         *time.Time `json:"since,omitempty"`
}

// Log lists recorded events a page at a time. Search matches the work
// request, sheet, and row ids case-insensitively.
type Log interface {
	List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Event], error)
}

var defaultSort = query.SortField{Field: "detectedAt", Descending: true}

var projection = query.NewProjectionMap("public", "audit_events", "e").
	Project("run_id", "runId").
	Project("sheet_id", "sheetId").
	Project("row_id", "rowId").
	Project("work_request_id", "workRequestId").
	Project("week_ending", "weekEnding").
	Project("field", "field").
	Project("old_value", "oldValue").
	Project("new_value", "newValue").
	Project("delta", "delta").
	Project("detected_at", "detectedAt").
	Project("modified_by", "modifiedBy").
	Project("modified_at", "modifiedAt")

// PostgresLog lists events written by PostgresSink.
type PostgresLog struct {
	db         *sql.DB
	pagination pagination.Config
}

// NewPostgresLog returns a PostgresLog reading from db.
func NewPostgresLog(db *sql.DB, cfg pagination.Config) *PostgresLog {
	return &PostgresLog{db: db, pagination: cfg}
}

func (l *PostgresLog) List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Event], error) {
	page.Normalize(l.pagination)

	for _, f := range page.Sort {
		if !projection.Has(f.Field) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSort, f.Field)
		}
	}

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "workRequestId", "sheetId", "rowId").
		WhereEquals("runId", filters.RunID).
		WhereEquals("workRequestId", filters.WorkRequestID).
		WhereEquals("field", filters.Field).
		WhereAtLeast("detectedAt", filters.Since)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := l.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audit events: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	events, err := repository.QueryMany(ctx, l.db, pageSQL, pageArgs, scanEvent)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	result := pagination.NewPageResult(events, total, page.Page, page.PageSize)
	return &result, nil
}

func scanEvent(s repository.Scanner) (Event, error) {
	var (
		e          Event
		weekEnding sql.NullTime
		delta      decimal.NullDecimal
		modifiedBy sql.NullString
		modifiedAt sql.NullTime
	)

	err := s.Scan(
		&e.RunID, &e.Source.SheetID, &e.Source.RowID, &e.WorkRequestID, &weekEnding,
		&e.Field, &e.OldValue, &e.NewValue, &delta, &e.DetectedAt,
		&modifiedBy, &modifiedAt,
	)
	if err != nil {
		return Event{}, err
	}

	e.WeekEnding = weekEnding.Time
	e.Delta = delta.Decimal
	e.ModifiedBy = modifiedBy.String
	if modifiedAt.Valid {
		e.ModifiedAt = &modifiedAt.Time
	}
	return e, nil
}

var eventOrder = map[string]func(a, b Event) int{
	"runId":         func(a, b Event) int { return cmp.Compare(a.RunID, b.RunID) },
	"sheetId":       func(a, b Event) int { return cmp.Compare(a.Source.SheetID, b.Source.SheetID) },
	"rowId":         func(a, b Event) int { return cmp.Compare(a.Source.RowID, b.Source.RowID) },
	"workRequestId": func(a, b Event) int { return cmp.Compare(a.WorkRequestID, b.WorkRequestID) },
	"weekEnding":    func(a, b Event) int { return a.WeekEnding.Compare(b.WeekEnding) },
	"field":         func(a, b Event) int { return cmp.Compare(a.Field, b.Field) },
	"oldValue":      func(a, b Event) int { return cmp.Compare(a.OldValue, b.OldValue) },
	"newValue":      func(a, b Event) int { return cmp.Compare(a.NewValue, b.NewValue) },
	"delta":         func(a, b Event) int { return a.Delta.Cmp(b.Delta) },
	"detectedAt":    func(a, b Event) int { return a.DetectedAt.Compare(b.DetectedAt) },
	"modifiedBy":    func(a, b Event) int { return cmp.Compare(a.ModifiedBy, b.ModifiedBy) },
	"modifiedAt":    compareModifiedAt,
}

// compareModifiedAt orders unknown modification times last, as Postgres
// orders NULLs in an ascending sort.
func compareModifiedAt(a, b Event) int {
	switch {
	case a.ModifiedAt == nil && b.ModifiedAt == nil:
		return 0
	case a.ModifiedAt == nil:
		return 1
	case b.ModifiedAt == nil:
		return -1
	}
	return a.ModifiedAt.Compare(*b.ModifiedAt)
}

// FileLog lists events written by FileSink. Batches without a commit line
// are skipped.
type FileLog struct {
	path       string
	pagination pagination.Config
}

// NewFileLog returns a FileLog reading the JSON lines log at path.
func NewFileLog(path string, cfg pagination.Config) *FileLog {
	return &FileLog{path: path, pagination: cfg}
}

func (l *FileLog) List(ctx context.Context, page pagination.PageRequest, filters Filters) (*pagination.PageResult[Event], error) {
	page.Normalize(l.pagination)

	sortBy := []query.SortField(page.Sort)
	if len(sortBy) == 0 {
		sortBy = []query.SortField{defaultSort}
	}
	for _, f := range sortBy {
		if _, ok := eventOrder[f.Field]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSort, f.Field)
		}
	}

	events, err := l.committed(ctx)
	if err != nil {
		return nil, err
	}

	matched := slices.DeleteFunc(events, func(e Event) bool {
		return !filters.match(e) || !searchMatch(page.Search, e)
	})

	slices.SortStableFunc(matched, func(a, b Event) int {
		for _, f := range sortBy {
			c := eventOrder[f.Field](a, b)
			if f.Descending {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})

	start, end := page.Bounds(len(matched))
	result := pagination.NewPageResult(matched[start:end], len(matched), page.Page, page.PageSize)
	return &result, nil
}

func (l *FileLog) committed(ctx context.Context) ([]Event, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var (
		events  []Event
		pending = make(map[string][]Event)
	)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for line := 1; scanner.Scan(); line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var rec fileRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("audit log line %d: %w", line, err)
		}

		switch rec.Kind {
		case "run":
			pending[rec.RunID] = []Event{}
		case "event":
			if rec.Event != nil {
				pending[rec.RunID] = append(pending[rec.RunID], *rec.Event)
			}
		case "commit":
			events = append(events, pending[rec.RunID]...)
			delete(pending, rec.RunID)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	return events, nil
}

func (f Filters) match(e Event) bool {
	if f.RunID != nil && e.RunID != *f.RunID {
		return false
	}
	if f.WorkRequestID != nil && e.WorkRequestID != *f.WorkRequestID {
		return false
	}
	if f.Field != nil && e.Field != *f.Field {
		return false
	}
	if f.Since != nil && e.DetectedAt.Before(*f.Since) {
		return false
	}
	return true
}

func searchMatch(search *string, e Event) bool {
	if search == nil || *search == "" {
		return true
	}
	s := strings.ToLower(*search)
	for _, v := range []string{e.WorkRequestID, e.Source.SheetID, e.Source.RowID} {
		if strings.Contains(strings.ToLower(v), s) {
			return true
		}
	}
	return false
}
