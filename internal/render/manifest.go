package render

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JaimeStill/billwatch/internal/grouping"
	"github.com/JaimeStill/billwatch/internal/rows"
	"github.com/JaimeStill/billwatch/pkg/storage"
)

const contentType = "application/json"

// Manifest is the stored description of one work unit.
type Manifest struct {
	Key         grouping.Key `json:"key"`
	WeekCode    string       `json:"weekCode"`
	Fingerprint string       `json:"fingerprint"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Foreman     string       `json:"foreman"`
	Totals      Totals       `json:"totals"`
	Rows        []rows.Row   `json:"rows"`
}

// Totals aggregates a work unit's rows.
type Totals struct {
	Rows     int             `json:"rows"`
	Quantity decimal.Decimal `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// ManifestRenderer stores each work unit as a JSON manifest in blob storage.
type ManifestRenderer struct {
	store  storage.System
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewManifest returns a ManifestRenderer writing under prefix in store.
func NewManifest(store storage.System, prefix string, logger *slog.Logger) *ManifestRenderer {
	return &ManifestRenderer{
		store:  store,
		prefix: prefix,
		logger: logger.With("system", "render"),
		now:    time.Now,
	}
}

func (m *ManifestRenderer) key(key grouping.Key, fp string) string {
	return path.Join(m.prefix, ArtifactName(key, fp))
}

func (m *ManifestRenderer) Render(ctx context.Context, key grouping.Key, rs []rows.Row, fp string) (string, error) {
	manifest := Manifest{
		Key:         key,
		WeekCode:    key.WeekCode(),
		Fingerprint: fp,
		GeneratedAt: m.now().UTC(),
		Totals:      totals(rs),
		Rows:        rs,
	}
	if len(rs) > 0 {
		manifest.Foreman = rs[0].Foreman
	}
	if key.Variant == grouping.VariantHelper {
		manifest.Foreman = key.VariantID
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}

	id := m.key(key, fp)
	if err := m.store.Upload(ctx, id, bytes.NewReader(data), contentType); err != nil {
		return "", fmt.Errorf("upload %s: %w", id, err)
	}

	m.logger.DebugContext(ctx, "artifact stored", "artifact", id, "rows", len(rs))
	return id, nil
}

func (m *ManifestRenderer) Exists(ctx context.Context, key grouping.Key, fp string) (bool, error) {
	return m.store.Exists(ctx, m.key(key, fp))
}

func (m *ManifestRenderer) Prune(ctx context.Context, key grouping.Key, fp string) error {
	err := m.store.Delete(ctx, m.key(key, fp))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func totals(rs []rows.Row) Totals {
	t := Totals{Rows: len(rs)}
	for _, r := range rs {
		t.Quantity = t.Quantity.Add(r.Quantity)
		t.Amount = t.Amount.Add(r.UnitPrice)
	}
	return t
}
