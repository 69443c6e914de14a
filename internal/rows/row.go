// Package rows defines billing rows and normalizes raw spreadsheet cells into them.
// A Row is a value: it is built once by the Normalizer and never modified after.
package rows

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SourceRef identifies the spreadsheet row a Row was read from.
// It is used for audit attribution and deduplication only.
type SourceRef struct {
	SheetID string `json:"sheet_id" yaml:"sheet_id"`
	RowID   string `json:"row_id" yaml:"row_id"`
}

func (r SourceRef) String() string {
	return fmt.Sprintf("%s/%s", r.SheetID, r.RowID)
}

// RawRow is one unvalidated source record keyed by column title.
type RawRow struct {
	Source SourceRef
	Cells  map[string]any
}

// Row is one normalized billing record.
type Row struct {
	Source          SourceRef       `json:"source"`
	WorkRequestID   string          `json:"work_request_id"`
	WeekEnding      time.Time       `json:"week_ending"`
	SnapshotDate    time.Time       `json:"snapshot_date"`
	UnitCode        string          `json:"unit_code"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	Completed       bool            `json:"completed"`
	Foreman         string          `json:"foreman"`
	Department      string          `json:"department"`
	Scope           string          `json:"scope"`
	Customer        string          `json:"customer"`
	HelperForeman   string          `json:"helper_foreman,omitempty"`
	HelperCompleted bool            `json:"helper_completed,omitempty"`
}

// IsHelper reports whether the row bills to a helper crew: the helper foreman
// is named, the helper completion box is checked, and the row itself is completed.
func (r Row) IsHelper() bool {
	return r.HelperForeman != "" && r.HelperCompleted && r.Completed
}

// Columns maps Row fields to the source column titles they are read from.
type Columns struct {
	WorkRequestID   string `toml:"work_request_id"`
	WeekEnding      string `toml:"week_ending"`
	SnapshotDate    string `toml:"snapshot_date"`
	UnitCode        string `toml:"unit_code"`
	Quantity        string `toml:"quantity"`
	UnitPrice       string `toml:"unit_price"`
	Completed       string `toml:"completed"`
	Foreman         string `toml:"foreman"`
	Department      string `toml:"department"`
	Scope           string `toml:"scope"`
	Customer        string `toml:"customer"`
	HelperForeman   string `toml:"helper_foreman"`
	HelperCompleted string `toml:"helper_completed"`
}

// DefaultColumns returns the column titles used by the billing sheets.
func DefaultColumns() Columns {
	return Columns{
		WorkRequestID:   "Work Request #",
		WeekEnding:      "Weekly Reference Logged Date",
		SnapshotDate:    "Snapshot Date",
		UnitCode:        "CU",
		Quantity:        "Quantity",
		UnitPrice:       "Units Total Price",
		Completed:       "Units Completed?",
		Foreman:         "Foreman",
		Department:      "Dept #",
		Scope:           "Scope #",
		Customer:        "Customer Name",
		HelperForeman:   "Foreman Helping?",
		HelperCompleted: "Helping Foreman Completed Unit?",
	}
}

// Merge overwrites non-empty titles from overlay.
func (c *Columns) Merge(overlay *Columns) {
	for dst, v := range c.pairs(overlay) {
		if v != "" {
			*dst = v
		}
	}
}

// Finalize fills any unset title with its default.
func (c *Columns) Finalize() {
	def := DefaultColumns()
	for dst, v := range c.pairs(&def) {
		if *dst == "" {
			*dst = v
		}
	}
}

func (c *Columns) pairs(other *Columns) map[*string]string {
	return map[*string]string{
		&c.WorkRequestID:   other.WorkRequestID,
		&c.WeekEnding:      other.WeekEnding,
		&c.SnapshotDate:    other.SnapshotDate,
		&c.UnitCode:        other.UnitCode,
		&c.Quantity:        other.Quantity,
		&c.UnitPrice:       other.UnitPrice,
		&c.Completed:       other.Completed,
		&c.Foreman:         other.Foreman,
		&c.Department:      other.Department,
		&c.Scope:           other.Scope,
		&c.Customer:        other.Customer,
		&c.HelperForeman:   other.HelperForeman,
		&c.HelperCompleted: other.HelperCompleted,
	}
}
