// Package hashstore persists the fingerprint of every generated work unit so
// the next run can tell whether the unit changed. A missing or unreadable
// history degrades to an empty one: every unit then looks new and is
// regenerated, which is safe.
package hashstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/JaimeStill/billwatch/internal/grouping"
	"github.com/JaimeStill/billwatch/pkg/kv"
)

const (
	// DocumentName is the kv document holding the hash history.
	DocumentName = "hash_history"
	// SchemaVersion is the current document version.
	SchemaVersion = 1
)

// ErrStoreUnavailable indicates the history could not be loaded and an empty
// one is in use.
var ErrStoreUnavailable = errors.New("hash store unavailable")

// Record is the persisted state of one generated work unit.
type Record struct {
	Fingerprint string           `json:"fingerprint"`
	RowCount    int              `json:"row_count"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Foreman     string           `json:"foreman"`
	Variant     grouping.Variant `json:"variant"`
	VariantID   string           `json:"variant_id,omitempty"`
}

type document struct {
	Version int               `json:"version"`
	Records map[string]Record `json:"records"`
}

// Store holds the hash history in memory for the duration of a run.
// Get and Put are safe for concurrent use; Save writes the whole history
// back in one atomic replace.
type Store struct {
	kv     kv.Store
	logger *slog.Logger

	mu       sync.RWMutex
	records  map[string]Record
	degraded error
	migrated bool
	unread   bool
}

// Open loads the hash history from store.
func Open(ctx context.Context, store kv.Store, logger *slog.Logger) *Store {
	s := &Store{
		kv:      store,
		logger:  logger.With("system", "hashstore"),
		records: make(map[string]Record),
	}

	data, err := store.Get(ctx, DocumentName)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		s.logger.Info("no hash history found, starting empty")
		return s
	case err != nil:
		s.unread = true
		s.degrade(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		return s
	}

	records, migrated, err := decode(data)
	if err != nil {
		s.degrade(fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		return s
	}

	s.records = records
	s.migrated = migrated
	s.logger.Info("hash history loaded", "records", len(records), "migrated", migrated)
	return s
}

func (s *Store) degrade(err error) {
	s.degraded = err
	s.logger.Warn("hash history unavailable, every work unit will regenerate", "error", err)
}

// Degraded returns the reason the history could not be loaded, or nil.
func (s *Store) Degraded() error {
	return s.degraded
}

// Get returns the record for k.
func (s *Store) Get(k grouping.Key) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[k.String()]
	return r, ok
}

// Put replaces the record for k.
func (s *Store) Put(k grouping.Key, r Record) {
	s.mu.Lock()
	s.records[k.String()] = r
	s.mu.Unlock()
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// RemoveWorkRequest drops every record for the work request and returns how
// many were removed. An empty id removes all records.
func (s *Store) RemoveWorkRequest(workRequestID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.records {
		if workRequestID == "" || strings.HasPrefix(key, workRequestID+"|") {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// Save atomically replaces the persisted history with the in-memory records.
// When the history could not be read at Open, Save reads it again and keeps
// stored records this run did not touch; if it still cannot be read nothing
// is written.
func (s *Store) Save(ctx context.Context) error {
	if err := s.reconcile(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	data, err := json.MarshalIndent(document{Version: SchemaVersion, Records: s.records}, "", "  ")
	count := len(s.records)
	s.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("encode hash history: %w", err)
	}

	if err := s.kv.Put(ctx, DocumentName, data); err != nil {
		return fmt.Errorf("save hash history: %w", err)
	}

	s.logger.Info("hash history saved", "records", count)
	return nil
}

// reconcile merges the stored history under the in-memory records when the
// initial read failed. A corrupt document is replaced outright.
func (s *Store) reconcile(ctx context.Context) error {
	if !s.unread {
		return nil
	}

	data, err := s.kv.Get(ctx, DocumentName)
	switch {
	case errors.Is(err, kv.ErrNotFound):
		s.unread = false
		return nil
	case err != nil:
		return fmt.Errorf("%w: hash history not saved: %w", ErrStoreUnavailable, err)
	}

	stored, _, err := decode(data)
	if err != nil {
		s.logger.Warn("stored hash history is corrupt, replacing it", "error", err)
		s.unread = false
		return nil
	}

	s.mu.Lock()
	kept := 0
	for key, rec := range stored {
		if _, ok := s.records[key]; !ok {
			s.records[key] = rec
			kept++
		}
	}
	s.mu.Unlock()

	s.unread = false
	s.logger.Info("hash history merged with stored records", "kept", kept)
	return nil
}

// decode reads a versioned document, or migrates an unversioned one written
// as a bare map of key to record.
func decode(data []byte) (map[string]Record, bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, false, fmt.Errorf("parse hash history: %w", err)
	}

	if _, versioned := fields["version"]; !versioned {
		legacy := make(map[string]Record, len(fields))
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, false, fmt.Errorf("parse legacy hash history: %w", err)
		}
		return legacy, true, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("parse hash history: %w", err)
	}
	if doc.Version != SchemaVersion {
		return nil, false, fmt.Errorf("unsupported hash history version %d", doc.Version)
	}
	if doc.Records == nil {
		doc.Records = make(map[string]Record)
	}
	return doc.Records, false, nil
}
