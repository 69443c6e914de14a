package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JaimeStill/billwatch/internal/audit"
	"github.com/JaimeStill/billwatch/internal/rows"
	"github.com/JaimeStill/billwatch/pkg/formatting"
	"github.com/JaimeStill/billwatch/pkg/kv"
)

const (
	// BaselineDocument is the kv document holding recorded field values.
	BaselineDocument = "audit_baseline"
	// BaselineVersion is the current baseline document version.
	BaselineVersion = 1
)

type baselineDoc struct {
	Version    int                          `json:"version"`
	RecordedAt time.Time                    `json:"recordedAt"`
	Values     map[string]map[string]string `json:"values"`
}

// Baseline is a History built from the field values this system observed on
// its previous completed run. It lets sources without their own history feed
// the audit.
type Baseline struct {
	store  kv.Store
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]map[string]string
	at     time.Time
}

// LoadBaseline reads the recorded values. A missing or unreadable document
// yields an empty baseline; unreadable documents are logged.
func LoadBaseline(ctx context.Context, store kv.Store, logger *slog.Logger) *Baseline {
	b := &Baseline{
		store:  store,
		logger: logger.With("system", "baseline"),
		values: make(map[string]map[string]string),
	}

	data, err := store.Get(ctx, BaselineDocument)
	if errors.Is(err, kv.ErrNotFound) {
		return b
	}
	if err != nil {
		b.logger.Warn("baseline unavailable, audit will treat rows as unseen", "error", err)
		return b
	}

	var doc baselineDoc
	if err := json.Unmarshal(data, &doc); err != nil || doc.Version != BaselineVersion {
		b.logger.Warn("baseline unreadable, audit will treat rows as unseen", "error", err, "version", doc.Version)
		return b
	}
	if doc.Values != nil {
		b.values = doc.Values
	}
	b.at = doc.RecordedAt
	return b
}

func (b *Baseline) HistoricalValue(_ context.Context, ref rows.SourceRef, field string) (audit.Observation, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v, ok := b.values[ref.String()][field]
	if !ok {
		return audit.Observation{}, false, nil
	}
	return audit.Observation{Value: v}, true, nil
}

// Len returns the number of recorded rows.
func (b *Baseline) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}

// Record replaces the recorded values of the given fields for every row in rs
// and persists the baseline. Rows absent from rs keep their previous values.
func (b *Baseline) Record(ctx context.Context, rs []rows.Row, fields []string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range rs {
		key := r.Source.String()
		vals := b.values[key]
		if vals == nil {
			vals = make(map[string]string, len(fields))
			b.values[key] = vals
		}
		for _, f := range fields {
			switch f {
			case audit.FieldQuantity:
				vals[f] = r.Quantity.String()
			case audit.FieldUnitPrice:
				vals[f] = formatting.FormatMoney(r.UnitPrice)
			}
		}
	}
	b.at = at

	data, err := json.Marshal(baselineDoc{Version: BaselineVersion, RecordedAt: at, Values: b.values})
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	if err := b.store.Put(ctx, BaselineDocument, data); err != nil {
		return fmt.Errorf("save baseline: %w", err)
	}
	return nil
}
