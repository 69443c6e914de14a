// Package grouping partitions billable rows into work units keyed by work
// request, week ending, and variant. Each row belongs to exactly one work unit.
package grouping

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/JaimeStill/billwatch/internal/rows"
	"github.com/JaimeStill/billwatch/pkg/formatting"
)

// ErrInvariantViolation indicates a row was mapped to more than one work unit.
// A run that observes it must stop before writing any artifact or state.
var ErrInvariantViolation = errors.New("invariant violation")

// Variant distinguishes the primary crew's work unit from a helper crew's.
type Variant string

const (
	VariantPrimary Variant = "primary"
	VariantHelper  Variant = "helper"
)

const weekLayout = time.DateOnly

// Key identifies a work unit.
type Key struct {
	WorkRequestID string  `json:"work_request_id"`
	WeekEnding    string  `json:"week_ending"`
	Variant       Variant `json:"variant"`
	VariantID     string  `json:"variant_id,omitempty"`
}

// WeekEndingDate returns the week-ending Sunday as a date.
func (k Key) WeekEndingDate() time.Time {
	d, _ := time.Parse(weekLayout, k.WeekEnding)
	return d
}

// WeekCode returns the week ending as MMDDYY.
func (k Key) WeekCode() string {
	return k.WeekEndingDate().Format("010206")
}

// String returns the persisted key form "{wr}|{weekCode}|{variant}|{variantID}".
func (k Key) String() string {
	return strings.Join([]string{k.WorkRequestID, k.WeekCode(), string(k.Variant), k.VariantID}, "|")
}

// Unit is one work unit: the rows billed on a single report.
type Unit struct {
	Key  Key
	Rows []rows.Row
}

// WeekEnding returns the Sunday on or after d.
func WeekEnding(d time.Time) time.Time {
	d = formatting.DateOf(d)
	return d.AddDate(0, 0, (7-int(d.Weekday()))%7)
}

// KeyFor returns the work unit key a row belongs to.
func KeyFor(r rows.Row) Key {
	k := Key{
		WorkRequestID: r.WorkRequestID,
		WeekEnding:    WeekEnding(r.WeekEnding).Format(weekLayout),
		Variant:       VariantPrimary,
	}
	if r.IsHelper() {
		k.Variant = VariantHelper
		k.VariantID = r.HelperForeman
	}
	return k
}

// Group partitions rows by KeyFor. A helper row is placed only in its helper
// work unit and never in the primary unit for the same work request and week.
// Rows inside each group are ordered by source reference.
func Group(rs []rows.Row) map[Key][]rows.Row {
	groups := make(map[Key][]rows.Row)
	for _, r := range rs {
		k := KeyFor(r)
		groups[k] = append(groups[k], r)
	}
	for _, g := range groups {
		slices.SortStableFunc(g, compareSource)
	}
	return groups
}

// Units returns the groups as work units ordered by key.
func Units(groups map[Key][]rows.Row) []Unit {
	keys := slices.SortedFunc(maps.Keys(groups), CompareKeys)

	units := make([]Unit, 0, len(keys))
	for _, k := range keys {
		units = append(units, Unit{Key: k, Rows: groups[k]})
	}
	return units
}

// VerifyExclusive returns ErrInvariantViolation if any source row appears
// more than once across all groups.
func VerifyExclusive(groups map[Key][]rows.Row) error {
	seen := make(map[rows.SourceRef]Key)

	for _, u := range Units(groups) {
		for _, r := range u.Rows {
			if prev, dup := seen[r.Source]; dup {
				return fmt.Errorf(
					"%w: row %s mapped to %s and %s",
					ErrInvariantViolation, r.Source, prev, u.Key,
				)
			}
			seen[r.Source] = u.Key
		}
	}
	return nil
}

// CompareKeys orders keys by work request, week ending, variant, then variant id.
func CompareKeys(a, b Key) int {
	return cmp.Or(
		cmp.Compare(a.WorkRequestID, b.WorkRequestID),
		cmp.Compare(a.WeekEnding, b.WeekEnding),
		cmp.Compare(a.Variant, b.Variant),
		cmp.Compare(a.VariantID, b.VariantID),
	)
}

func compareSource(a, b rows.Row) int {
	return cmp.Or(
		cmp.Compare(a.Source.SheetID, b.Source.SheetID),
		cmp.Compare(a.Source.RowID, b.Source.RowID),
	)
}
