// Package source provides the row source collaborators: where raw billing
// rows and the historical field values used by the audit come from.
package source

import (
	"context"
	"errors"

	"github.com/JaimeStill/billwatch/internal/audit"
	"github.com/JaimeStill/billwatch/internal/rows"
)

// ErrInvalidSnapshot indicates a snapshot file could not be decoded.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// RowSource supplies raw rows and their historical field values.
type RowSource interface {
	audit.History
	FetchRows(ctx context.Context) ([]rows.RawRow, error)
}

// Chain returns a History that asks each history in order and answers with
// the first known value.
func Chain(histories ...audit.History) audit.History {
	return chain(histories)
}

type chain []audit.History

func (c chain) HistoricalValue(ctx context.Context, ref rows.SourceRef, field string) (audit.Observation, bool, error) {
	for _, h := range c {
		obs, ok, err := h.HistoricalValue(ctx, ref, field)
		if err != nil || ok {
			return obs, ok, err
		}
	}
	return audit.Observation{}, false, nil
}

// Revisions forwards to the first history that keeps revisions and has some
// for the field.
func (c chain) Revisions(ctx context.Context, ref rows.SourceRef, field string, n int) ([]audit.Observation, error) {
	for _, h := range c {
		r, ok := h.(audit.Revisions)
		if !ok {
			continue
		}
		revs, err := r.Revisions(ctx, ref, field, n)
		if err != nil || len(revs) > 0 {
			return revs, err
		}
	}
	return nil, nil
}
