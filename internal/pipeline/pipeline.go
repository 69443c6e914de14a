// Package pipeline runs one scheduled pass: it normalizes and groups the
// source rows, regenerates the work units whose content changed, and audits
// already-billed rows for modifications.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/JaimeStill/billwatch/internal/audit"
	"github.com/JaimeStill/billwatch/internal/decision"
	"github.com/JaimeStill/billwatch/internal/fingerprint"
	"github.com/JaimeStill/billwatch/internal/grouping"
	"github.com/JaimeStill/billwatch/internal/hashstore"
	"github.com/JaimeStill/billwatch/internal/render"
	"github.com/JaimeStill/billwatch/internal/risk"
	"github.com/JaimeStill/billwatch/internal/rows"
	"github.com/JaimeStill/billwatch/internal/source"
	"github.com/JaimeStill/billwatch/pkg/kv"
	"github.com/JaimeStill/billwatch/pkg/retry"
)

// Config holds the finalized run settings.
type Config struct {
	Workers       int
	Retry         retry.Policy
	Force         bool
	Extended      bool
	Columns       rows.Columns
	AuditFields   []string
	AuditWorkers  int
	Thresholds    risk.Thresholds
	VarianceRatio decimal.Decimal
}

// Deps are the collaborators a Runner drives.
type Deps struct {
	Source   source.RowSource
	Renderer render.Renderer
	Sink     audit.Sink
	State    kv.Store
	// Baseline, when set, answers history lookups the source cannot and is
	// updated with the audited values after each completed run.
	Baseline *source.Baseline
	Logger   *slog.Logger
}

// Runner executes runs.
type Runner struct {
	cfg      Config
	deps     Deps
	hasher   fingerprint.Hasher
	tracker  *audit.Tracker
	norm     *rows.Normalizer
	logger   *slog.Logger
	now      func() time.Time
	newRunID func() string
	locks    *keyLocks
}

// New validates cfg and returns a Runner.
func New(cfg Config, deps Deps) (*Runner, error) {
	if deps.Source == nil || deps.Renderer == nil || deps.Sink == nil || deps.State == nil {
		return nil, errors.New("pipeline: source, renderer, sink and state are required")
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.VarianceRatio.IsZero() {
		cfg.VarianceRatio = risk.DefaultVarianceRatio
	}
	cfg.Workers = max(cfg.Workers, 1)
	cfg.Columns.Finalize()

	logger := deps.Logger.With("system", "pipeline")

	var history audit.History = deps.Source
	if deps.Baseline != nil {
		history = source.Chain(deps.Source, deps.Baseline)
	}

	tracker, err := audit.NewTracker(history, audit.TrackerConfig{
		Fields:  cfg.AuditFields,
		Workers: max(cfg.AuditWorkers, cfg.Workers),
		Retry:   cfg.Retry,
	}, deps.Logger)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:      cfg,
		deps:     deps,
		hasher:   fingerprint.New(cfg.Extended),
		tracker:  tracker,
		norm:     rows.NewNormalizer(cfg.Columns),
		logger:   logger,
		now:      time.Now,
		newRunID: uuid.NewString,
		locks:    newKeyLocks(),
	}, nil
}

// WithClock replaces the run timestamp source.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	r.tracker.WithClock(now)
	return r
}

// WithRunIDs replaces the run id generator.
func (r *Runner) WithRunIDs(next func() string) *Runner {
	r.newRunID = next
	return r
}

// Run executes one run. The returned Summary is never nil. A non-nil error
// means the run stopped early: the rows could not be fetched, an invariant
// was violated, or ctx was cancelled. Nothing is written after an invariant
// violation.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		RunID:     r.newRunID(),
		StartedAt: r.now().UTC(),
		Counts:    make(map[Outcome]int),
	}
	logger := r.logger.With("run_id", sum.RunID)
	defer func() { sum.FinishedAt = r.now().UTC() }()

	logger.InfoContext(ctx, "run started", "force", r.cfg.Force, "extended", r.cfg.Extended)

	raw, err := retry.Value(ctx, r.cfg.Retry, r.deps.Source.FetchRows)
	if err != nil {
		logger.ErrorContext(ctx, "fetch rows failed", "error", err)
		return sum, fmt.Errorf("fetch rows: %w", err)
	}

	audited, valid := r.prepare(raw, sum, logger)

	groups := grouping.Group(valid)
	if err := grouping.VerifyExclusive(groups); err != nil {
		logger.ErrorContext(ctx, "grouping invariant violated, aborting before any write", "error", err)
		return sum, err
	}
	units := grouping.Units(groups)
	sum.Units = len(units)

	hashes := hashstore.Open(ctx, r.deps.State, r.deps.Logger)
	if err := hashes.Degraded(); err != nil {
		sum.Degraded = append(sum.Degraded, err.Error())
	}

	state, err := audit.LoadState(ctx, r.deps.State)
	if err != nil {
		logger.WarnContext(ctx, "audit state unavailable, trend restarts from baseline", "error", err)
		sum.Degraded = append(sum.Degraded, err.Error())
	}

	r.processUnits(ctx, units, hashes, sum, logger)

	// completed units are recorded even when the run was cancelled
	if err := hashes.Save(context.WithoutCancel(ctx)); err != nil {
		logger.ErrorContext(ctx, "hash history not saved", "error", err)
		sum.addError(err)
	}

	if err := ctx.Err(); err != nil {
		logger.WarnContext(ctx, "run cancelled, audit skipped", "error", err)
		return sum, err
	}

	if err := r.audit(ctx, sum, state, audited, valid, logger); err != nil {
		return sum, err
	}

	sum.Complete = true
	logger.InfoContext(ctx, "run complete",
		"units", sum.Units,
		"regenerated", sum.Regenerated(),
		"skipped", sum.Skipped(),
		"failed", sum.Failed(),
		"audit_events", sum.AuditEvents,
		"risk", sum.Audit.RiskLevel,
		"trend", sum.Trend.Direction,
		"errors", len(sum.Errors),
	)
	return sum, nil
}

// prepare normalizes raw rows and applies the validity filter. It returns the
// rows to audit (every row with a work request id) and the billable rows.
func (r *Runner) prepare(raw []rows.RawRow, sum *Summary, logger *slog.Logger) (audited, valid []rows.Row) {
	sum.Rows = len(raw)
	normalized := make([]rows.Row, 0, len(raw))

	for _, rr := range raw {
		row, warnings, err := r.norm.Normalize(rr)
		if err != nil {
			logger.Warn("row dropped", "error", err)
			sum.Rejected = append(sum.Rejected, rows.Rejected{Source: rr.Source, Reason: rows.RejectInvalidWorkRequest})
			continue
		}
		for _, w := range warnings {
			logger.Debug("data quality warning", "warning", w.String())
		}
		sum.Warnings += len(warnings)
		normalized = append(normalized, row)
	}

	valid, rejected := rows.Filter(normalized)
	sum.Rejected = append(sum.Rejected, rejected...)
	sum.Valid = len(valid)

	for _, row := range normalized {
		if row.WorkRequestID != "" {
			audited = append(audited, row)
		}
	}

	if sum.Warnings > 0 || len(sum.Rejected) > 0 {
		logger.Warn("rows needed attention", "warnings", sum.Warnings, "rejected", len(sum.Rejected))
	}
	return audited, valid
}

// processUnits decides and regenerates work units on a bounded pool. Each key
// is held by at most one worker at a time.
func (r *Runner) processUnits(ctx context.Context, units []grouping.Unit, hashes *hashstore.Store, sum *Summary, logger *slog.Logger) {
	decider := decision.New(hashes, r.cfg.Force)
	results := make([]UnitResult, len(units))

	var g errgroup.Group
	g.SetLimit(r.cfg.Workers)

	for i, u := range units {
		if ctx.Err() != nil {
			results[i] = UnitResult{Key: u.Key, Rows: len(u.Rows), Outcome: OutcomeAbandoned}
			continue
		}
		g.Go(func() error {
			unlock := r.locks.lock(u.Key)
			defer unlock()
			results[i] = r.processUnit(ctx, u, decider, hashes, logger)
			return nil
		})
	}
	_ = g.Wait()

	sum.Results = results
	for _, res := range results {
		sum.Counts[res.Outcome]++
		if res.Error != "" {
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %s", res.Key, res.Error))
		}
	}
}

func (r *Runner) processUnit(ctx context.Context, u grouping.Unit, decider *decision.Decider, hashes *hashstore.Store, logger *slog.Logger) UnitResult {
	fp := r.hasher.Fingerprint(u.Rows)
	res := UnitResult{Key: u.Key, Rows: len(u.Rows), Fingerprint: fp}
	logger = logger.With("key", u.Key.String())

	var dec decision.Decision
	exists, err := retry.Value(ctx, r.cfg.Retry, func(ctx context.Context) (bool, error) {
		return r.deps.Renderer.Exists(ctx, u.Key, fp)
	})
	if err != nil {
		logger.WarnContext(ctx, "artifact state unknown, regenerating", "error", err)
		res.Error = fmt.Sprintf("artifact check: %v", err)
		dec = decider.Unknown(u.Key)
	} else if dec, err = decider.Decide(u.Key, fp, exists); err != nil {
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		return res
	}

	res.Action, res.Reason = dec.Action, dec.Reason
	logger.DebugContext(ctx, "decision", "action", dec.Action, "reason", dec.Reason)

	if dec.Action == decision.Skip {
		res.Outcome = OutcomeSkipped
		return res
	}

	if ctx.Err() != nil {
		res.Outcome = OutcomeAbandoned
		return res
	}

	id, err := retry.Value(ctx, r.cfg.Retry, func(ctx context.Context) (string, error) {
		return r.deps.Renderer.Render(ctx, u.Key, u.Rows, fp)
	})
	if err != nil {
		logger.WarnContext(ctx, "regeneration failed, unit stays pending", "error", err)
		res.Outcome = OutcomeFailed
		res.Error = fmt.Sprintf("render: %v", err)
		return res
	}

	hashes.Put(u.Key, hashstore.Record{
		Fingerprint: fp,
		RowCount:    len(u.Rows),
		UpdatedAt:   r.now().UTC(),
		Foreman:     foreman(u),
		Variant:     u.Key.Variant,
		VariantID:   u.Key.VariantID,
	})
	res.Outcome = OutcomeRegenerated
	res.ArtifactID = id

	if prev := dec.Previous; prev != nil && prev.Fingerprint != fp {
		err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
			return r.deps.Renderer.Prune(ctx, u.Key, prev.Fingerprint)
		})
		if err != nil {
			logger.WarnContext(ctx, "previous artifact not pruned", "fingerprint", prev.Fingerprint, "error", err)
		}
	}

	logger.InfoContext(ctx, "work unit regenerated", "artifact", id, "reason", dec.Reason)
	return res
}

// audit detects changes, classifies the run, appends the batch to the sink,
// and advances the audit state. State advances only after the sink accepted
// the batch.
func (r *Runner) audit(ctx context.Context, sum *Summary, state audit.State, audited, valid []rows.Row, logger *slog.Logger) error {
	det, err := r.tracker.DetectChanges(ctx, sum.RunID, audited)
	if err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	for _, f := range det.Failures {
		sum.addError(f)
	}

	anomalies := risk.PriceVariance(valid, r.cfg.VarianceRatio)
	for _, a := range anomalies {
		logger.WarnContext(ctx, "price variance anomaly",
			"work_request", a.WorkRequestID,
			"min", a.Min.String(),
			"max", a.Max.String(),
			"average", a.Average.StringFixed(2),
		)
	}

	summary := audit.Summarize(det.Events, anomalies, r.cfg.Thresholds)
	trend := risk.Compare(summary, state.LastSummary)

	sum.AuditEvents = len(det.Events)
	sum.AuditUnknown = det.Unknown
	sum.Anomalies = anomalies
	sum.Audit = summary
	sum.Trend = trend

	report := audit.Report{
		RunID:     sum.RunID,
		Timestamp: r.now().UTC(),
		Summary:   summary,
		Trend:     trend,
		Anomalies: anomalies,
	}

	err = retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		err := r.deps.Sink.AppendBatch(ctx, sum.RunID, det.Events, report)
		if errors.Is(err, audit.ErrDuplicateRun) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		logger.ErrorContext(ctx, "audit batch not recorded, state not advanced", "error", err)
		sum.addError(fmt.Errorf("audit sink: %w", err))
		return nil
	}

	if err := audit.SaveState(ctx, r.deps.State, state.Advance(report)); err != nil {
		logger.ErrorContext(ctx, "audit state not saved", "error", err)
		sum.addError(err)
	}

	if r.deps.Baseline != nil {
		if err := r.deps.Baseline.Record(ctx, audited, r.trackedFields(), report.Timestamp); err != nil {
			logger.ErrorContext(ctx, "audit baseline not saved", "error", err)
			sum.addError(err)
		}
	}

	if len(det.Events) > 0 {
		logger.WarnContext(ctx, "billed rows modified", "events", len(det.Events), "risk", summary.RiskLevel)
	}
	return nil
}

func (r *Runner) trackedFields() []string {
	if len(r.cfg.AuditFields) == 0 {
		return audit.DefaultFields()
	}
	return r.cfg.AuditFields
}

func foreman(u grouping.Unit) string {
	if u.Key.Variant == grouping.VariantHelper {
		return u.Key.VariantID
	}
	for _, r := range u.Rows {
		if r.Foreman != "" {
			return r.Foreman
		}
	}
	return ""
}

// keyLocks serializes work on the same key across overlapping runs of one Runner.
type keyLocks struct {
	mu    sync.Mutex
	locks map[grouping.Key]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[grouping.Key]*sync.Mutex)}
}

func (k *keyLocks) lock(key grouping.Key) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
