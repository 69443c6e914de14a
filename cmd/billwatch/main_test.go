package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JaimeStill/billwatch/internal/audit"
	"github.com/JaimeStill/billwatch/internal/pipeline"
	"github.com/JaimeStill/billwatch/internal/risk"
	"github.com/JaimeStill/billwatch/internal/rows"
	"github.com/JaimeStill/billwatch/pkg/pagination"
)

func TestParseSince(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{"rfc3339", "2024-03-04T10:00:00Z", time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), false},
		{"date only", "2024-03-04", time.Date(2024, 3, 4, 0, 0, 0, 0, time.Local), false},
		{"invalid", "03/04/2024", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSince(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseSince(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSince(%q): %v", tt.input, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("parseSince(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestOptional(t *testing.T) {
	if optional("") != nil {
		t.Error("optional(\"\") should be nil")
	}
	if v := optional("WR-1"); v == nil || *v != "WR-1" {
		t.Errorf("optional(WR-1) = %v", v)
	}
}

func TestPrintEvents(t *testing.T) {
	page := pagination.NewPageResult([]audit.Event{{
		Source:        rows.SourceRef{SheetID: "s1", RowID: "r7"},
		WorkRequestID: "1000",
		WeekEnding:    time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		Field:         audit.FieldUnitPrice,
		OldValue:      "100.00",
		NewValue:      "350.00",
		Delta:         decimal.NewFromInt(250),
		DetectedAt:    time.Date(2024, 3, 11, 8, 30, 0, 0, time.UTC),
		RunID:         "run-2",
	}}, 1, 1, 20)

	var buf bytes.Buffer
	printEvents(&buf, &page)
	out := buf.String()

	for _, want := range []string{"WORK REQUEST", "1000", "2024-03-09", "s1/r7", "unit_price", "350.00", "250", "page 1 of 1 (1 events)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintSummary(t *testing.T) {
	sum := &pipeline.Summary{
		RunID:    "run-2",
		Rows:     3,
		Valid:    3,
		Units:    1,
		Counts:   map[pipeline.Outcome]int{pipeline.OutcomeRegenerated: 1},
		Audit:    risk.Summary{TotalIssues: 2, RiskLevel: risk.Medium},
		Trend:    risk.Trend{Direction: risk.Worsening, LevelDelta: 1, IssueCountDelta: 1},
		Errors:   []string{"sink unavailable"},
		Complete: true,
	}

	var buf bytes.Buffer
	printSummary(&buf, sum)
	out := buf.String()

	for _, want := range []string{"run-2", "regenerated 1", "MEDIUM (2 issues)", "worsening (level +1, issues +1)", "sink unavailable"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
