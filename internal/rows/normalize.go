package rows

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JaimeStill/billwatch/pkg/formatting"
)

// Normalizer converts raw cells into Rows using a fixed column mapping.
type Normalizer struct {
	columns Columns
}

// NewNormalizer returns a Normalizer reading the given columns.
func NewNormalizer(columns Columns) *Normalizer {
	columns.Finalize()
	return &Normalizer{columns: columns}
}

// Normalize builds a Row from raw. Malformed optional fields are replaced with
// zero values and reported as warnings. An error is returned only when the
// work request id is present but cannot be read as an identifier.
func (n *Normalizer) Normalize(raw RawRow) (Row, []Warning, error) {
	c := n.columns
	var warnings []Warning

	wr, err := workRequestID(raw.Cells[c.WorkRequestID])
	if err != nil {
		return Row{}, nil, &NormalizationError{
			Source: raw.Source,
			Field:  "work_request_id",
			Value:  raw.Cells[c.WorkRequestID],
			Err:    err,
		}
	}

	warn := func(field string, v any, err error) {
		warnings = append(warnings, Warning{Source: raw.Source, Field: field, Value: v, Err: err})
	}

	date := func(field, column string) time.Time {
		v := raw.Cells[column]
		d, err := formatting.ParseDate(v)
		if err != nil && !errors.Is(err, formatting.ErrEmptyValue) {
			warn(field, v, err)
		}
		return d
	}

	number := func(field, column string, parse func(any) (decimal.Decimal, error)) decimal.Decimal {
		v := raw.Cells[column]
		d, err := parse(v)
		if err != nil {
			warn(field, v, err)
			return decimal.Zero
		}
		return d
	}

	row := Row{
		Source:          raw.Source,
		WorkRequestID:   wr,
		WeekEnding:      date("week_ending", c.WeekEnding),
		SnapshotDate:    date("snapshot_date", c.SnapshotDate),
		UnitCode:        text(raw.Cells[c.UnitCode]),
		Quantity:        number("quantity", c.Quantity, formatting.ParseDecimal),
		UnitPrice:       number("unit_price", c.UnitPrice, formatting.ParseMoney),
		Completed:       formatting.ParseCheckbox(raw.Cells[c.Completed]),
		Foreman:         text(raw.Cells[c.Foreman]),
		Department:      text(raw.Cells[c.Department]),
		Scope:           text(raw.Cells[c.Scope]),
		Customer:        text(raw.Cells[c.Customer]),
		HelperForeman:   text(raw.Cells[c.HelperForeman]),
		HelperCompleted: formatting.ParseCheckbox(raw.Cells[c.HelperCompleted]),
	}

	return row, warnings, nil
}

// workRequestID reads identifiers that arrive as text or as numbers
// (spreadsheets often export 1000 as 1000.0).
func workRequestID(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", nil
	case string:
		s := strings.TrimSpace(id)
		if f, err := strconv.ParseFloat(s, 64); err == nil && strings.Contains(s, ".") && f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10), nil
		}
		return s, nil
	case float64:
		if id != float64(int64(id)) {
			return "", fmt.Errorf("%w: fractional id %v", ErrRequiredField, id)
		}
		return strconv.FormatInt(int64(id), 10), nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	case json.Number:
		return workRequestID(id.String())
	default:
		return "", fmt.Errorf("%w: unsupported type %T", ErrRequiredField, v)
	}
}

func text(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(s)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(s))
	}
}
