// Package audit detects modifications to already-billed rows, records them as
// append-only events, and carries the per-deployment audit state between runs.
package audit

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JaimeStill/billwatch/internal/risk"
	"github.com/JaimeStill/billwatch/internal/rows"
)

var (
	// ErrStoreUnavailable indicates the audit state could not be loaded and an
	// empty state is in use.
	ErrStoreUnavailable = errors.New("audit state unavailable")
	// ErrUnknownField indicates a sensitive field the tracker cannot read from a row.
	ErrUnknownField = errors.New("unknown audit field")
	// ErrDuplicateRun indicates the sink already holds a batch for the run id.
	ErrDuplicateRun = errors.New("audit run already recorded")
	// ErrRunNotRecorded indicates the sink accepted the run insert but stored no row.
	ErrRunNotRecorded = errors.New("audit run not recorded")
)

// Sensitive field names.
const (
	FieldQuantity  = "quantity"
	FieldUnitPrice = "unit_price"
)

// DefaultFields returns the fields tracked when none are configured.
func DefaultFields() []string {
	return []string{FieldQuantity, FieldUnitPrice}
}

// Event is one detected field-level change. Events are immutable once built.
type Event struct {
	Source        rows.SourceRef  `json:"source"`
	WorkRequestID string          `json:"workRequestId"`
	WeekEnding    time.Time       `json:"weekEnding"`
	Field         string          `json:"field"`
	OldValue      string          `json:"oldValue"`
	NewValue      string          `json:"newValue"`
	Delta         decimal.Decimal `json:"delta"`
	DetectedAt    time.Time       `json:"detectedAt"`
	RunID         string          `json:"runId"`
	ModifiedBy    string          `json:"modifiedBy,omitempty"`
	ModifiedAt    *time.Time      `json:"modifiedAt,omitempty"`
}

// Category returns the summary category counted for a change to field.
func Category(field string) string {
	switch field {
	case FieldQuantity:
		return risk.CategoryQuantityChange
	case FieldUnitPrice:
		return risk.CategoryPriceChange
	default:
		return field + "_change"
	}
}

// Summarize counts events and anomalies by category and classifies the run.
// Risk is classified on change events; anomalies add to the issue total.
func Summarize(events []Event, anomalies []risk.Anomaly, th risk.Thresholds) risk.Summary {
	cats := make(map[string]int)
	for _, e := range events {
		cats[Category(e.Field)]++
	}
	if len(anomalies) > 0 {
		cats[risk.CategoryPriceVariance] = len(anomalies)
	}

	return risk.Summary{
		TotalIssues: len(events) + len(anomalies),
		RiskLevel:   th.Classify(len(events)),
		Categories:  cats,
	}
}

// Report is the run-level record written alongside a batch of events.
type Report struct {
	RunID     string         `json:"runId"`
	Timestamp time.Time      `json:"timestamp"`
	Summary   risk.Summary   `json:"summary"`
	Trend     risk.Trend     `json:"trend"`
	Anomalies []risk.Anomaly `json:"anomalies,omitempty"`
}
