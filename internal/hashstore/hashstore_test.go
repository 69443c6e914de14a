package hashstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/JaimeStill/billwatch/internal/grouping"
	"github.com/JaimeStill/billwatch/internal/hashstore"
	"github.com/JaimeStill/billwatch/pkg/kv"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func primary(wr string) grouping.Key {
	return grouping.Key{WorkRequestID: wr, WeekEnding: "2025-08-24", Variant: grouping.VariantPrimary}
}

func helper(wr, foreman string) grouping.Key {
	return grouping.Key{WorkRequestID: wr, WeekEnding: "2025-08-24", Variant: grouping.VariantHelper, VariantID: foreman}
}

type failingKV struct{ kv.Store }

func (failingKV) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

// flakyKV fails the first n reads, then serves from the wrapped store.
type flakyKV struct {
	kv.Store
	n int
}

func (f *flakyKV) Get(ctx context.Context, name string) ([]byte, error) {
	if f.n > 0 {
		f.n--
		return nil, errors.New("connection reset")
	}
	return f.Store.Get(ctx, name)
}

func TestOpenMissing(t *testing.T) {
	s := hashstore.Open(context.Background(), kv.NewMemory(), discard())

	if s.Degraded() != nil {
		t.Errorf("missing history should not degrade: %v", s.Degraded())
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestOpenDegraded(t *testing.T) {
	tests := []struct {
		name  string
		store func(t *testing.T) kv.Store
	}{
		{
			name:  "unreadable",
			store: func(*testing.T) kv.Store { return failingKV{kv.NewMemory()} },
		},
		{
			name: "corrupt",
			store: func(t *testing.T) kv.Store {
				m := kv.NewMemory()
				if err := m.Put(context.Background(), hashstore.DocumentName, []byte("{not json")); err != nil {
					t.Fatal(err)
				}
				return m
			},
		},
		{
			name: "future version",
			store: func(t *testing.T) kv.Store {
				m := kv.NewMemory()
				if err := m.Put(context.Background(), hashstore.DocumentName, []byte(`{"version":99,"records":{}}`)); err != nil {
					t.Fatal(err)
				}
				return m
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := hashstore.Open(context.Background(), tt.store(t), discard())

			if !errors.Is(s.Degraded(), hashstore.ErrStoreUnavailable) {
				t.Errorf("Degraded() = %v, want ErrStoreUnavailable", s.Degraded())
			}
			if _, ok := s.Get(primary("1000")); ok {
				t.Error("degraded store should be empty")
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	now := time.Date(2025, 8, 25, 6, 0, 0, 0, time.UTC)

	s := hashstore.Open(ctx, backing, discard())
	rec := hashstore.Record{Fingerprint: "abc", RowCount: 3, UpdatedAt: now, Foreman: "R. Alvarez", Variant: grouping.VariantPrimary}
	s.Put(primary("1000"), rec)
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := backing.Get(ctx, hashstore.DocumentName)
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Version int                         `json:"version"`
		Records map[string]hashstore.Record `json:"records"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Version != hashstore.SchemaVersion {
		t.Errorf("version = %d, want %d", doc.Version, hashstore.SchemaVersion)
	}
	if _, ok := doc.Records["1000|082425|primary|"]; !ok {
		t.Errorf("records keyed unexpectedly: %v", doc.Records)
	}

	reopened := hashstore.Open(ctx, backing, discard())
	got, ok := reopened.Get(primary("1000"))
	if !ok {
		t.Fatal("record missing after reopen")
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestHelperCrewsDoNotCollide(t *testing.T) {
	s := hashstore.Open(context.Background(), kv.NewMemory(), discard())

	s.Put(primary("1000"), hashstore.Record{Fingerprint: "p"})
	s.Put(helper("1000", "J. Kim"), hashstore.Record{Fingerprint: "k"})
	s.Put(helper("1000", "L. Ortiz"), hashstore.Record{Fingerprint: "o"})

	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", s.Len())
	}
	for key, want := range map[grouping.Key]string{
		primary("1000"):            "p",
		helper("1000", "J. Kim"):   "k",
		helper("1000", "L. Ortiz"): "o",
	} {
		if got, _ := s.Get(key); got.Fingerprint != want {
			t.Errorf("Get(%s) = %q, want %q", key, got.Fingerprint, want)
		}
	}
}

func TestLegacyMigration(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	legacy := `{"1000|082425|primary|":{"fingerprint":"old","row_count":2,"foreman":"R. Alvarez","variant":"primary"}}`
	if err := backing.Put(ctx, hashstore.DocumentName, []byte(legacy)); err != nil {
		t.Fatal(err)
	}

	s := hashstore.Open(ctx, backing, discard())
	if s.Degraded() != nil {
		t.Fatalf("legacy document degraded: %v", s.Degraded())
	}
	got, ok := s.Get(primary("1000"))
	if !ok || got.Fingerprint != "old" || got.RowCount != 2 {
		t.Fatalf("legacy record = %+v, %v", got, ok)
	}

	if err := s.Save(ctx); err != nil {
		t.Fatal(err)
	}
	raw, _ := backing.Get(ctx, hashstore.DocumentName)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatal(err)
	}
	if _, ok := fields["version"]; !ok {
		t.Error("saved document is not versioned")
	}
}

func TestRemoveWorkRequest(t *testing.T) {
	s := hashstore.Open(context.Background(), kv.NewMemory(), discard())
	s.Put(primary("1000"), hashstore.Record{})
	s.Put(helper("1000", "J. Kim"), hashstore.Record{})
	s.Put(primary("10001"), hashstore.Record{})

	if n := s.RemoveWorkRequest("1000"); n != 2 {
		t.Errorf("RemoveWorkRequest = %d, want 2", n)
	}
	if _, ok := s.Get(primary("10001")); !ok {
		t.Error("prefix-sharing work request was removed")
	}
	if n := s.RemoveWorkRequest(""); n != 1 {
		t.Errorf("RemoveWorkRequest(all) = %d, want 1", n)
	}
}

func TestSaveAfterReadFailureKeepsStoredRecords(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()

	seed := hashstore.Open(ctx, backing, discard())
	seed.Put(primary("1000"), hashstore.Record{Fingerprint: "old-1000"})
	seed.Put(primary("2000"), hashstore.Record{Fingerprint: "old-2000"})
	if err := seed.Save(ctx); err != nil {
		t.Fatal(err)
	}

	s := hashstore.Open(ctx, &flakyKV{Store: backing, n: 1}, discard())
	if !errors.Is(s.Degraded(), hashstore.ErrStoreUnavailable) {
		t.Fatalf("Degraded() = %v, want ErrStoreUnavailable", s.Degraded())
	}
	s.Put(primary("1000"), hashstore.Record{Fingerprint: "new-1000"})
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened := hashstore.Open(ctx, backing, discard())
	for key, want := range map[grouping.Key]string{
		primary("1000"): "new-1000",
		primary("2000"): "old-2000",
	} {
		if got, _ := reopened.Get(key); got.Fingerprint != want {
			t.Errorf("Get(%s) = %q, want %q", key, got.Fingerprint, want)
		}
	}
}

func TestSaveRefusesWhileHistoryUnreadable(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()

	seed := hashstore.Open(ctx, backing, discard())
	seed.Put(primary("2000"), hashstore.Record{Fingerprint: "old-2000"})
	if err := seed.Save(ctx); err != nil {
		t.Fatal(err)
	}

	s := hashstore.Open(ctx, &flakyKV{Store: backing, n: 2}, discard())
	s.Put(primary("1000"), hashstore.Record{Fingerprint: "new-1000"})

	err := s.Save(ctx)
	if !errors.Is(err, hashstore.ErrStoreUnavailable) {
		t.Fatalf("Save error = %v, want ErrStoreUnavailable", err)
	}

	reopened := hashstore.Open(ctx, backing, discard())
	if got, ok := reopened.Get(primary("2000")); !ok || got.Fingerprint != "old-2000" {
		t.Errorf("stored record = %+v, %v; want it untouched", got, ok)
	}
	if _, ok := reopened.Get(primary("1000")); ok {
		t.Error("unreadable history was overwritten")
	}
}

func TestSaveReplacesCorruptHistory(t *testing.T) {
	ctx := context.Background()
	backing := kv.NewMemory()
	if err := backing.Put(ctx, hashstore.DocumentName, []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	s := hashstore.Open(ctx, backing, discard())
	s.Put(primary("1000"), hashstore.Record{Fingerprint: "new-1000"})
	if err := s.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened := hashstore.Open(ctx, backing, discard())
	if reopened.Degraded() != nil {
		t.Fatalf("history still degraded after save: %v", reopened.Degraded())
	}
	if reopened.Len() != 1 {
		t.Errorf("Len() = %d, want 1", reopened.Len())
	}
}
