package audit_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"go.uber.org/goleak"

	"github.com/JaimeStill/billwatch/internal/audit"
	"github.com/JaimeStill/billwatch/internal/grouping"
	"github.com/JaimeStill/billwatch/internal/risk"
	"github.com/JaimeStill/billwatch/internal/rows"
	"github.com/JaimeStill/billwatch/pkg/kv"
	"github.com/JaimeStill/billwatch/pkg/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var clock = time.Date(2025, 8, 25, 6, 0, 0, 0, time.UTC)

type history struct {
	values map[string]audit.Observation
	fail   map[string]bool
	calls  atomic.Int32
}

func hkey(ref rows.SourceRef, field string) string {
	return ref.String() + "/" + field
}

func (h *history) HistoricalValue(_ context.Context, ref rows.SourceRef, field string) (audit.Observation, bool, error) {
	h.calls.Add(1)
	if h.fail[ref.RowID] {
		return audit.Observation{}, false, errors.New("sheet api timeout")
	}
	v, ok := h.values[hkey(ref, field)]
	return v, ok, nil
}

type revisioned struct {
	*history
	revs map[string][]audit.Observation
}

func (r revisioned) Revisions(_ context.Context, ref rows.SourceRef, field string, n int) ([]audit.Observation, error) {
	revs := r.revs[hkey(ref, field)]
	return revs[:min(n, len(revs))], nil
}

func row(id, price string) rows.Row {
	return rows.Row{
		Source:        rows.SourceRef{SheetID: "s1", RowID: id},
		WorkRequestID: "1000",
		WeekEnding:    time.Date(2025, 8, 24, 0, 0, 0, 0, time.UTC),
		Quantity:      decimal.NewFromInt(1),
		UnitPrice:     decimal.RequireFromString(price),
		Completed:     true,
	}
}

func tracker(t *testing.T, h audit.History) *audit.Tracker {
	t.Helper()
	tr, err := audit.NewTracker(h, audit.TrackerConfig{
		Workers: 4,
		Retry:   retry.Policy{MaxAttempts: 2},
	}, discard())
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	return tr.WithClock(func() time.Time { return clock })
}

func TestDetectChangesPriceEdit(t *testing.T) {
	h := &history{values: map[string]audit.Observation{
		hkey(rows.SourceRef{SheetID: "s1", RowID: "r1"}, audit.FieldUnitPrice): {Value: "$100.00"},
		hkey(rows.SourceRef{SheetID: "s1", RowID: "r2"}, audit.FieldUnitPrice): {Value: "$100.00"},
		hkey(rows.SourceRef{SheetID: "s1", RowID: "r3"}, audit.FieldUnitPrice): {Value: "$50.00", ModifiedBy: "ops@example.com"},
		hkey(rows.SourceRef{SheetID: "s1", RowID: "r3"}, audit.FieldQuantity):  {Value: 1.0},
	}}

	det, err := tracker(t, h).DetectChanges(context.Background(), "run-1", []rows.Row{
		row("r1", "100"), row("r2", "100"), row("r3", "300"),
	})
	if err != nil {
		t.Fatalf("DetectChanges: %v", err)
	}

	want := []audit.Event{{
		Source:        rows.SourceRef{SheetID: "s1", RowID: "r3"},
		WorkRequestID: "1000",
		WeekEnding:    time.Date(2025, 8, 24, 0, 0, 0, 0, time.UTC),
		Field:         audit.FieldUnitPrice,
		OldValue:      "50.00",
		NewValue:      "300.00",
		Delta:         decimal.RequireFromString("250"),
		DetectedAt:    clock,
		RunID:         "run-1",
		ModifiedBy:    "ops@example.com",
	}}
	if diff := cmp.Diff(want, det.Events); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if det.Checked != 3 || det.Unknown != 0 || len(det.Failures) != 0 {
		t.Errorf("detection = checked %d unknown %d failures %v", det.Checked, det.Unknown, det.Failures)
	}
}

func TestDetectChangesWeekEndingMatchesWorkUnit(t *testing.T) {
	r := row("r3", "300")
	r.WeekEnding = time.Date(2025, 8, 20, 0, 0, 0, 0, time.UTC) // Wednesday

	h := &history{values: map[string]audit.Observation{
		hkey(r.Source, audit.FieldUnitPrice): {Value: "$50.00"},
	}}

	det, err := tracker(t, h).DetectChanges(context.Background(), "run-1", []rows.Row{r})
	if err != nil {
		t.Fatalf("DetectChanges: %v", err)
	}
	if len(det.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(det.Events))
	}

	unit := grouping.KeyFor(r).WeekEndingDate()
	got := det.Events[0].WeekEnding
	if !got.Equal(time.Date(2025, 8, 24, 0, 0, 0, 0, time.UTC)) || !got.Equal(unit) {
		t.Errorf("event week ending = %s, work unit week ending = %s, want both 2025-08-24", got.Format(time.DateOnly), unit.Format(time.DateOnly))
	}
}

func TestDetectChangesUnchanged(t *testing.T) {
	h := &history{values: map[string]audit.Observation{
		hkey(rows.SourceRef{SheetID: "s1", RowID: "r1"}, audit.FieldUnitPrice): {Value: "$1,250.00"},
		hkey(rows.SourceRef{SheetID: "s1", RowID: "r1"}, audit.FieldQuantity):  {Value: "1"},
	}}

	det, err := tracker(t, h).DetectChanges(context.Background(), "run-1", []rows.Row{row("r1", "1250")})
	if err != nil {
		t.Fatal(err)
	}
	if len(det.Events) != 0 {
		t.Errorf("events = %+v, want none", det.Events)
	}
}

func TestDetectChangesDeduplicates(t *testing.T) {
	h := &history{values: map[string]audit.Observation{
		hkey(rows.SourceRef{SheetID: "s1", RowID: "r1"}, audit.FieldUnitPrice): {Value: "90"},
	}}

	r := row("r1", "100")
	det, err := tracker(t, h).DetectChanges(context.Background(), "run-1", []rows.Row{r, r, r})
	if err != nil {
		t.Fatal(err)
	}
	if len(det.Events) != 1 || det.Checked != 1 {
		t.Errorf("events = %d checked = %d, want 1 and 1", len(det.Events), det.Checked)
	}
	if got := h.calls.Load(); got != 2 {
		t.Errorf("history calls = %d, want one per field", got)
	}
}

func TestDetectChangesNoHistory(t *testing.T) {
	det, err := tracker(t, &history{}).DetectChanges(context.Background(), "run-1", []rows.Row{row("r1", "100")})
	if err != nil {
		t.Fatal(err)
	}
	if len(det.Events) != 0 || det.Unknown != 1 {
		t.Errorf("events = %d unknown = %d, want 0 and 1", len(det.Events), det.Unknown)
	}
}

func TestDetectChangesRevisions(t *testing.T) {
	ref := rows.SourceRef{SheetID: "s1", RowID: "r1"}
	edited := time.Date(2025, 8, 23, 14, 0, 0, 0, time.UTC)
	h := revisioned{
		history: &history{},
		revs: map[string][]audit.Observation{
			hkey(ref, audit.FieldQuantity): {
				{Value: "3", ModifiedBy: "crew@example.com", ModifiedAt: edited},
				{Value: "2"},
			},
			hkey(ref, audit.FieldUnitPrice): {{Value: "100"}},
		},
	}

	det, err := tracker(t, h).DetectChanges(context.Background(), "run-1", []rows.Row{row("r1", "100")})
	if err != nil {
		t.Fatal(err)
	}
	if len(det.Events) != 1 {
		t.Fatalf("events = %+v, want one quantity change", det.Events)
	}
	e := det.Events[0]
	if e.Field != audit.FieldQuantity || e.OldValue != "2" || e.NewValue != "3" {
		t.Errorf("event = %+v", e)
	}
	if !e.Delta.Equal(decimal.NewFromInt(1)) {
		t.Errorf("delta = %s, want 1", e.Delta)
	}
	if e.ModifiedBy != "crew@example.com" || e.ModifiedAt == nil || !e.ModifiedAt.Equal(edited) {
		t.Errorf("attribution = %q %v", e.ModifiedBy, e.ModifiedAt)
	}
}

func TestDetectChangesCollectsFailures(t *testing.T) {
	h := &history{
		values: map[string]audit.Observation{
			hkey(rows.SourceRef{SheetID: "s1", RowID: "r2"}, audit.FieldUnitPrice): {Value: "80"},
		},
		fail: map[string]bool{"r1": true},
	}

	det, err := tracker(t, h).DetectChanges(context.Background(), "run-1", []rows.Row{row("r1", "100"), row("r2", "100")})
	if err != nil {
		t.Fatal(err)
	}
	if len(det.Failures) != 1 || !errors.Is(det.Failures[0], retry.ErrExhausted) {
		t.Errorf("failures = %v, want one exhausted retry", det.Failures)
	}
	if len(det.Events) != 1 || det.Events[0].Source.RowID != "r2" {
		t.Errorf("events = %+v, want r2 change", det.Events)
	}
}

func TestNewTrackerUnknownField(t *testing.T) {
	_, err := audit.NewTracker(&history{}, audit.TrackerConfig{Fields: []string{"foreman"}}, discard())
	if !errors.Is(err, audit.ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField", err)
	}
}

func TestSummarize(t *testing.T) {
	events := []audit.Event{{Field: audit.FieldUnitPrice}, {Field: audit.FieldQuantity}, {Field: audit.FieldUnitPrice}}
	anomalies := []risk.Anomaly{{WorkRequestID: "1000"}}

	got := audit.Summarize(events, anomalies, risk.DefaultThresholds())
	want := risk.Summary{
		TotalIssues: 4,
		RiskLevel:   risk.Medium,
		Categories: map[string]int{
			risk.CategoryPriceChange:    2,
			risk.CategoryQuantityChange: 1,
			risk.CategoryPriceVariance:  1,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("summary (-want +got):\n%s", diff)
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()

	first, err := audit.LoadState(ctx, store)
	if err != nil {
		t.Fatalf("LoadState on empty store: %v", err)
	}
	if !first.IsZero() {
		t.Fatal("empty store should yield zero state")
	}

	next := first.Advance(audit.Report{
		RunID:     "run-1",
		Timestamp: clock,
		Summary:   risk.Summary{TotalIssues: 1, RiskLevel: risk.Low},
		Trend:     risk.Trend{Direction: risk.Baseline},
	})
	if err := audit.SaveState(ctx, store, next); err != nil {
		t.Fatal(err)
	}

	got, err := audit.LoadState(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(next, got); diff != "" {
		t.Errorf("state (-want +got):\n%s", diff)
	}
}

func TestLoadStateTolerant(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		body     string
		degraded bool
		previous bool
	}{
		{"corrupt", "][", true, false},
		{"future", `{"version":7}`, true, false},
		{"unversioned", `{"lastRunTimestamp":"2025-08-18T06:00:00Z","lastSummary":{"totalIssues":2,"riskLevel":"MEDIUM"}}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := kv.NewMemory()
			if err := store.Put(ctx, audit.StateDocument, []byte(tt.body)); err != nil {
				t.Fatal(err)
			}

			s, err := audit.LoadState(ctx, store)
			if got := errors.Is(err, audit.ErrStoreUnavailable); got != tt.degraded {
				t.Errorf("degraded = %v (%v), want %v", got, err, tt.degraded)
			}
			if got := !s.IsZero(); got != tt.previous {
				t.Errorf("has previous = %v, want %v", got, tt.previous)
			}
			if s.Version != audit.StateVersion {
				t.Errorf("version = %d, want %d", s.Version, audit.StateVersion)
			}
		})
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "events.jsonl")
	sink := audit.NewFileSink(path)
	ctx := context.Background()

	events := []audit.Event{{RunID: "run-1", Field: audit.FieldUnitPrice}, {RunID: "run-1", Field: audit.FieldQuantity}}
	if err := sink.AppendBatch(ctx, "run-1", events, audit.Report{RunID: "run-1"}); err != nil {
		t.Fatal(err)
	}
	if err := sink.AppendBatch(ctx, "run-2", nil, audit.Report{RunID: "run-2"}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var kinds []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec struct {
			Kind  string `json:"kind"`
			RunID string `json:"runId"`
		}
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatal(err)
		}
		kinds = append(kinds, rec.RunID+":"+rec.Kind)
	}

	want := []string{"run-1:run", "run-1:event", "run-1:event", "run-1:commit", "run-2:run", "run-2:commit"}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("log lines (-want +got):\n%s", diff)
	}
}
