package audit_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/JaimeStill/billwatch/internal/audit"
	"github.com/JaimeStill/billwatch/internal/rows"
	"github.com/JaimeStill/billwatch/pkg/pagination"
	"github.com/JaimeStill/billwatch/pkg/query"
)

var logPages = pagination.Config{DefaultPageSize: 2, MaxPageSize: 10}

func logEvent(runID, wr, rowID, field string, at time.Time) audit.Event {
	return audit.Event{
		Source:        rows.SourceRef{SheetID: "sheet", RowID: rowID},
		WorkRequestID: wr,
		Field:         field,
		OldValue:      "1",
		NewValue:      "2",
		Delta:         decimal.NewFromInt(1),
		DetectedAt:    at,
		RunID:         runID,
	}
}

func seedLog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink := audit.NewFileSink(path)
	ctx := context.Background()

	t1 := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	if err := sink.AppendBatch(ctx, "run-1", []audit.Event{
		logEvent("run-1", "WR-1", "r1", audit.FieldUnitPrice, t1),
		logEvent("run-1", "WR-2", "r2", audit.FieldQuantity, t1),
	}, audit.Report{RunID: "run-1", Timestamp: t1}); err != nil {
		t.Fatalf("append run-1: %v", err)
	}
	if err := sink.AppendBatch(ctx, "run-2", []audit.Event{
		logEvent("run-2", "WR-1", "r1", audit.FieldQuantity, t2),
	}, audit.Report{RunID: "run-2", Timestamp: t2}); err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	partial := `{"kind":"run","runId":"run-3"}
{"kind":"event","runId":"run-3","event":{"workRequestId":"WR-9","field":"quantity","runId":"run-3"}}
`
	if _, err := f.WriteString(partial); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	return path
}

func runIDs(events []audit.Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.RunID + "/" + e.WorkRequestID
	}
	return ids
}

func TestFileLogListsCommittedEvents(t *testing.T) {
	log := audit.NewFileLog(seedLog(t), logPages)

	got, err := log.List(context.Background(), pagination.PageRequest{PageSize: 10}, audit.Filters{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}

	if got.Total != 3 {
		t.Errorf("Total = %d, want 3 (uncommitted run excluded)", got.Total)
	}
	want := []string{"run-2/WR-1", "run-1/WR-1", "run-1/WR-2"}
	if diff := cmp.Diff(want, runIDs(got.Data)); diff != "" {
		t.Errorf("default order mismatch (-want +got):\n%s", diff)
	}
}

func TestFileLogFiltersAndPages(t *testing.T) {
	log := audit.NewFileLog(seedLog(t), logPages)
	ctx := context.Background()
	wr := "WR-1"

	got, err := log.List(ctx, pagination.PageRequest{}, audit.Filters{WorkRequestID: &wr})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got.Total != 2 || got.PageSize != 2 || got.TotalPages != 1 {
		t.Errorf("page = %+v", got)
	}

	since := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	got, err = log.List(ctx, pagination.PageRequest{}, audit.Filters{Since: &since})
	if err != nil {
		t.Fatalf("List since: %v", err)
	}
	if diff := cmp.Diff([]string{"run-2/WR-1"}, runIDs(got.Data)); diff != "" {
		t.Errorf("since mismatch (-want +got):\n%s", diff)
	}

	search := "wr-2"
	got, err = log.List(ctx, pagination.PageRequest{Search: &search}, audit.Filters{})
	if err != nil {
		t.Fatalf("List search: %v", err)
	}
	if diff := cmp.Diff([]string{"run-1/WR-2"}, runIDs(got.Data)); diff != "" {
		t.Errorf("search mismatch (-want +got):\n%s", diff)
	}

	got, err = log.List(ctx, pagination.PageRequest{
		Page: 2,
		Sort: pagination.SortFields{{Field: "workRequestId"}, {Field: "runId"}},
	}, audit.Filters{})
	if err != nil {
		t.Fatalf("List page 2: %v", err)
	}
	if got.TotalPages != 2 {
		t.Errorf("TotalPages = %d, want 2", got.TotalPages)
	}
	if diff := cmp.Diff([]string{"run-1/WR-2"}, runIDs(got.Data)); diff != "" {
		t.Errorf("page 2 mismatch (-want +got):\n%s", diff)
	}
}

func TestFileLogSortsByEveryProjectedField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink := audit.NewFileSink(path)
	ctx := context.Background()
	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	early := at.Add(-48 * time.Hour)
	late := at.Add(-24 * time.Hour)

	a := logEvent("run-1", "WR-A", "r1", audit.FieldUnitPrice, at)
	a.OldValue, a.NewValue, a.ModifiedBy, a.ModifiedAt = "$30.00", "$10.00", "Lee", &late
	b := logEvent("run-1", "WR-B", "r2", audit.FieldUnitPrice, at)
	b.OldValue, b.NewValue, b.ModifiedBy, b.ModifiedAt = "$10.00", "$30.00", "", nil
	c := logEvent("run-1", "WR-C", "r3", audit.FieldUnitPrice, at)
	c.OldValue, c.NewValue, c.ModifiedBy, c.ModifiedAt = "$20.00", "$20.00", "Kim", &early

	if err := sink.AppendBatch(ctx, "run-1", []audit.Event{a, b, c}, audit.Report{RunID: "run-1", Timestamp: at}); err != nil {
		t.Fatalf("append: %v", err)
	}
	log := audit.NewFileLog(path, logPages)

	tests := []struct {
		field string
		desc  bool
		want  []string
	}{
		{"oldValue", false, []string{"run-1/WR-B", "run-1/WR-C", "run-1/WR-A"}},
		{"newValue", true, []string{"run-1/WR-B", "run-1/WR-C", "run-1/WR-A"}},
		{"modifiedBy", false, []string{"run-1/WR-B", "run-1/WR-C", "run-1/WR-A"}},
		{"modifiedAt", false, []string{"run-1/WR-C", "run-1/WR-A", "run-1/WR-B"}},
		{"modifiedAt", true, []string{"run-1/WR-B", "run-1/WR-A", "run-1/WR-C"}},
	}

	for _, tt := range tests {
		name := tt.field
		if tt.desc {
			name += " desc"
		}
		t.Run(name, func(t *testing.T) {
			got, err := log.List(ctx, pagination.PageRequest{
				PageSize: 10,
				Sort:     pagination.SortFields{{Field: tt.field, Descending: tt.desc}},
			}, audit.Filters{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if diff := cmp.Diff(tt.want, runIDs(got.Data)); diff != "" {
				t.Errorf("order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFileLogUnknownSort(t *testing.T) {
	log := audit.NewFileLog(seedLog(t), logPages)

	_, err := log.List(context.Background(), pagination.PageRequest{
		Sort: pagination.SortFields{query.SortField{Field: "oldValue; DROP"}},
	}, audit.Filters{})
	if !errors.Is(err, audit.ErrUnknownSort) {
		t.Errorf("got %v, want ErrUnknownSort", err)
	}
}

func TestFileLogMissingFile(t *testing.T) {
	log := audit.NewFileLog(filepath.Join(t.TempDir(), "absent.jsonl"), logPages)

	got, err := log.List(context.Background(), pagination.PageRequest{}, audit.Filters{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got.Total != 0 || len(got.Data) != 0 {
		t.Errorf("got %+v, want empty page", got)
	}
}
