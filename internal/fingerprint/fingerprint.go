// Package fingerprint computes a deterministic content digest for a work
// unit's rows. The digest does not depend on row order, and equal amounts
// written in different currency formats produce the same digest.
package fingerprint

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JaimeStill/billwatch/internal/rows"
	"github.com/JaimeStill/billwatch/pkg/formatting"
)

// FilenameLength is the number of hex characters of a fingerprint used in
// artifact names.
const FilenameLength = 16

// Hasher computes fingerprints. In extended mode descriptive fields and
// aggregate totals are included, so edits to foreman, department, scope, or
// customer also register as changes.
type Hasher struct {
	extended bool
}

// New returns a Hasher. Legacy mode hashes identity, quantity, price, and
// completion only.
func New(extended bool) Hasher {
	return Hasher{extended: extended}
}

// Extended reports whether the hasher runs in extended mode.
func (h Hasher) Extended() bool {
	return h.extended
}

type entry struct {
	row  rows.Row
	line string
}

// Fingerprint returns the hex SHA-256 digest of rs.
func (h Hasher) Fingerprint(rs []rows.Row) string {
	entries := make([]entry, len(rs))
	for i, r := range rs {
		entries[i] = entry{row: r, line: h.line(r)}
	}

	slices.SortFunc(entries, func(a, b entry) int {
		return cmp.Or(
			cmp.Compare(a.row.WorkRequestID, b.row.WorkRequestID),
			cmp.Compare(a.row.Source.SheetID, b.row.Source.SheetID),
			cmp.Compare(a.row.Source.RowID, b.row.Source.RowID),
			cmp.Compare(a.line, b.line),
		)
	})

	sum := sha256.New()
	for _, e := range entries {
		io.WriteString(sum, e.line)
	}

	if h.extended {
		total, quantity := decimal.Zero, decimal.Zero
		for _, r := range rs {
			total = total.Add(r.UnitPrice)
			quantity = quantity.Add(r.Quantity)
		}
		fmt.Fprintf(sum, "totals|%d|%s|%s\n", len(rs), formatting.FormatMoney(total), quantity.String())
	}

	return hex.EncodeToString(sum.Sum(nil))
}

func (h Hasher) line(r rows.Row) string {
	fields := []string{
		r.WorkRequestID,
		day(r.WeekEnding),
		day(r.SnapshotDate),
		r.UnitCode,
		r.Quantity.String(),
		formatting.FormatMoney(r.UnitPrice),
		strconv.FormatBool(r.Completed),
	}
	if h.extended {
		fields = append(fields, r.Foreman, r.Department, r.Scope, r.Customer, r.HelperForeman)
	}

	var line []byte
	for _, f := range fields {
		line = strconv.AppendQuote(line, f)
		line = append(line, '|')
	}
	return string(append(line, '\n'))
}

// Truncate shortens a fingerprint to FilenameLength characters.
func Truncate(fp string) string {
	if len(fp) <= FilenameLength {
		return fp
	}
	return fp[:FilenameLength]
}

func day(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}
