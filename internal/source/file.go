package source

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JaimeStill/billwatch/internal/audit"
	"github.com/JaimeStill/billwatch/internal/rows"
)

type snapshot struct {
	Sheets []sheet `yaml:"sheets"`
}

type sheet struct {
	ID   string     `yaml:"id"`
	Rows []sheetRow `yaml:"rows"`
}

type sheetRow struct {
	ID        string                   `yaml:"id"`
	Cells     map[string]any           `yaml:"cells"`
	History   map[string]observation   `yaml:"history"`
	Revisions map[string][]observation `yaml:"revisions"`
}

type observation struct {
	Value      any       `yaml:"value"`
	ModifiedBy string    `yaml:"modified_by"`
	ModifiedAt time.Time `yaml:"modified_at"`
}

func (o observation) toAudit() audit.Observation {
	return audit.Observation{Value: o.Value, ModifiedBy: o.ModifiedBy, ModifiedAt: o.ModifiedAt}
}

// File reads rows from a YAML (or JSON) snapshot of the billing sheets:
//
//	sheets:
//	  - id: "4821"
//	    rows:
//	      - id: "1"
//	        cells: {"Work Request #": 1000, "Units Total Price": "$100.00"}
//	        history: {unit_price: {value: "$90.00", modified_by: ops}}
//	        revisions: {quantity: [{value: 3}, {value: 2}]}
//
// The file is re-read on every FetchRows; history lookups use the most
// recently fetched snapshot.
type File struct {
	path string

	mu   sync.RWMutex
	rows map[rows.SourceRef]sheetRow
}

// NewFile returns a File source reading path.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) FetchRows(ctx context.Context) ([]rows.RawRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidSnapshot, f.path, err)
	}

	index := make(map[rows.SourceRef]sheetRow)
	var out []rows.RawRow
	for _, s := range snap.Sheets {
		for _, r := range s.Rows {
			ref := rows.SourceRef{SheetID: s.ID, RowID: r.ID}
			if _, dup := index[ref]; dup {
				return nil, fmt.Errorf("%w: duplicate row %s", ErrInvalidSnapshot, ref)
			}
			index[ref] = r
			out = append(out, rows.RawRow{Source: ref, Cells: r.Cells})
		}
	}

	f.mu.Lock()
	f.rows = index
	f.mu.Unlock()

	return out, nil
}

func (f *File) HistoricalValue(ctx context.Context, ref rows.SourceRef, field string) (audit.Observation, bool, error) {
	if err := ctx.Err(); err != nil {
		return audit.Observation{}, false, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	obs, ok := f.rows[ref].History[field]
	if !ok {
		return audit.Observation{}, false, nil
	}
	return obs.toAudit(), true, nil
}

func (f *File) Revisions(ctx context.Context, ref rows.SourceRef, field string, n int) ([]audit.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	revs := f.rows[ref].Revisions[field]
	out := make([]audit.Observation, 0, min(n, len(revs)))
	for _, r := range revs[:min(n, len(revs))] {
		out = append(out, r.toAudit())
	}
	return out, nil
}
