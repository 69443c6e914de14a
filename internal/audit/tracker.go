package audit

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/billwatch/internal/grouping"
	"github.com/JaimeStill/billwatch/internal/rows"
	"github.com/JaimeStill/billwatch/pkg/formatting"
	"github.com/JaimeStill/billwatch/pkg/retry"
)

// Observation is a field value as recorded by the row source, with its
// attribution when the source knows it.
type Observation struct {
	Value      any
	ModifiedBy string
	ModifiedAt time.Time
}

// History returns the last known value of a field for a source row.
type History interface {
	HistoricalValue(ctx context.Context, ref rows.SourceRef, field string) (Observation, bool, error)
}

// Revisions is implemented by history sources that expose revision history.
// Revisions returns up to n observations of the field, newest first.
type Revisions interface {
	Revisions(ctx context.Context, ref rows.SourceRef, field string, n int) ([]Observation, error)
}

// TrackerConfig configures a Tracker.
type TrackerConfig struct {
	Fields  []string
	Workers int
	Retry   retry.Policy
}

// Detection is the result of one DetectChanges call.
type Detection struct {
	Events []Event
	// Checked is the number of distinct source rows compared.
	Checked int
	// Unknown is the number of distinct source rows with no prior value.
	Unknown int
	// Failures holds one error per row whose history could not be read.
	Failures []error
}

// Tracker compares sensitive field values against their last known values.
type Tracker struct {
	history   History
	revisions Revisions
	fields    []string
	workers   int
	policy    retry.Policy
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker returns a Tracker reading prior values from history. If history
// also implements Revisions, rows without a prior value are compared across
// their two most recent revisions.
func NewTracker(history History, cfg TrackerConfig, logger *slog.Logger) (*Tracker, error) {
	fields := cfg.Fields
	if len(fields) == 0 {
		fields = DefaultFields()
	}
	for _, f := range fields {
		if _, err := current(rows.Row{}, f); err != nil {
			return nil, err
		}
	}

	t := &Tracker{
		history: history,
		fields:  slices.Clone(fields),
		workers: max(cfg.Workers, 1),
		policy:  cfg.Retry,
		logger:  logger.With("system", "audit"),
		now:     time.Now,
	}
	if r, ok := history.(Revisions); ok {
		t.revisions = r
	}
	return t, nil
}

// WithClock replaces the detection timestamp source.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// DetectChanges emits an event for every sensitive field whose current value
// differs from its last known value. Each source row is checked once no matter
// how many times it appears in rs. Read failures are collected, not returned,
// so one unreachable row never hides changes found on the others.
func (t *Tracker) DetectChanges(ctx context.Context, runID string, rs []rows.Row) (Detection, error) {
	unique := dedupe(rs)
	detectedAt := t.now().UTC()

	var (
		mu  sync.Mutex
		det Detection
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)

	for _, r := range unique {
		g.Go(func() error {
			events, known, err := t.compare(gctx, runID, detectedAt, r)

			mu.Lock()
			defer mu.Unlock()

			det.Checked++
			switch {
			case err != nil:
				det.Failures = append(det.Failures, fmt.Errorf("row %s: %w", r.Source, err))
			case !known:
				det.Unknown++
			default:
				det.Events = append(det.Events, events...)
			}

			if ctxErr := gctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return ctxErr
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return det, err
	}

	slices.SortFunc(det.Events, compareEvents)

	t.logger.InfoContext(ctx, "audit comparison complete",
		"run_id", runID,
		"rows", det.Checked,
		"events", len(det.Events),
		"unknown", det.Unknown,
		"failures", len(det.Failures),
	)
	return det, nil
}

// compare reports whether any prior value was known for the row.
func (t *Tracker) compare(ctx context.Context, runID string, at time.Time, r rows.Row) ([]Event, bool, error) {
	var (
		events []Event
		known  bool
	)

	for _, field := range t.fields {
		cur, err := current(r, field)
		if err != nil {
			return nil, false, err
		}

		oldObs, newObs, ok, err := t.prior(ctx, r.Source, field)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		known = true

		old, err := parse(field, oldObs.Value)
		if err != nil {
			t.logger.Warn("unparseable historical value", "row", r.Source.String(), "field", field, "value", oldObs.Value)
			continue
		}
		if newObs != nil {
			if cur, err = parse(field, newObs.Value); err != nil {
				t.logger.Warn("unparseable revision value", "row", r.Source.String(), "field", field, "value", newObs.Value)
				continue
			}
		}

		if old.Equal(cur) {
			continue
		}

		e := Event{
			Source:        r.Source,
			WorkRequestID: r.WorkRequestID,
			WeekEnding:    weekEnding(r),
			Field:         field,
			OldValue:      format(field, old),
			NewValue:      format(field, cur),
			Delta:         cur.Sub(old),
			DetectedAt:    at,
			RunID:         runID,
		}
		attr := oldObs
		if newObs != nil {
			attr = *newObs
		}
		e.ModifiedBy = attr.ModifiedBy
		if !attr.ModifiedAt.IsZero() {
			m := attr.ModifiedAt.UTC()
			e.ModifiedAt = &m
		}
		events = append(events, e)
	}

	return events, known, nil
}

// prior returns the value to compare against. When the row has no historical
// value but the source keeps revisions, the two most recent revisions are
// returned as old and new.
func (t *Tracker) prior(ctx context.Context, ref rows.SourceRef, field string) (Observation, *Observation, bool, error) {
	type result struct {
		obs Observation
		ok  bool
	}

	res, err := retry.Value(ctx, t.policy, func(ctx context.Context) (result, error) {
		obs, ok, err := t.history.HistoricalValue(ctx, ref, field)
		return result{obs, ok}, err
	})
	if err != nil {
		return Observation{}, nil, false, err
	}
	if res.ok {
		return res.obs, nil, true, nil
	}

	if t.revisions == nil {
		return Observation{}, nil, false, nil
	}

	revs, err := retry.Value(ctx, t.policy, func(ctx context.Context) ([]Observation, error) {
		return t.revisions.Revisions(ctx, ref, field, 2)
	})
	if err != nil {
		return Observation{}, nil, false, err
	}
	if len(revs) < 2 {
		return Observation{}, nil, false, nil
	}
	return revs[1], &revs[0], true, nil
}

func current(r rows.Row, field string) (decimal.Decimal, error) {
	switch field {
	case FieldQuantity:
		return r.Quantity, nil
	case FieldUnitPrice:
		return r.UnitPrice, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
}

func parse(field string, v any) (decimal.Decimal, error) {
	if field == FieldUnitPrice {
		return formatting.ParseMoney(v)
	}
	return formatting.ParseDecimal(v)
}

func format(field string, d decimal.Decimal) string {
	if field == FieldUnitPrice {
		return formatting.FormatMoney(d)
	}
	return d.String()
}

func dedupe(rs []rows.Row) []rows.Row {
	seen := make(map[rows.SourceRef]struct{}, len(rs))
	out := make([]rows.Row, 0, len(rs))
	for _, r := range rs {
		if _, dup := seen[r.Source]; dup {
			continue
		}
		seen[r.Source] = struct{}{}
		out = append(out, r)
	}
	return out
}

func compareEvents(a, b Event) int {
	return cmp.Or(
		cmp.Compare(a.WorkRequestID, b.WorkRequestID),
		cmp.Compare(a.Source.SheetID, b.Source.SheetID),
		cmp.Compare(a.Source.RowID, b.Source.RowID),
		cmp.Compare(a.Field, b.Field),
	)
}

// weekEnding is the week the row is billed under, matching its work unit key.
func weekEnding(r rows.Row) time.Time {
	if r.WeekEnding.IsZero() {
		return time.Time{}
	}
	return grouping.WeekEnding(r.WeekEnding)
}
