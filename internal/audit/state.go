package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JaimeStill/billwatch/internal/risk"
	"github.com/JaimeStill/billwatch/pkg/kv"
)

const (
	// StateDocument is the kv document holding the audit state.
	StateDocument = "audit_state"
	// StateVersion is the current audit state version.
	StateVersion = 1
)

// State is the audit result of the most recent completed run.
type State struct {
	Version          int           `json:"version"`
	LastRunTimestamp time.Time     `json:"lastRunTimestamp"`
	LastRunID        string        `json:"lastRunId,omitempty"`
	LastSummary      *risk.Summary `json:"lastSummary,omitempty"`
	LastTrend        *risk.Trend   `json:"lastTrend,omitempty"`
}

// IsZero reports whether no run has been recorded.
func (s State) IsZero() bool {
	return s.LastSummary == nil
}

// Advance returns the state recorded after a run.
func (s State) Advance(r Report) State {
	summary, trend := r.Summary, r.Trend
	return State{
		Version:          StateVersion,
		LastRunTimestamp: r.Timestamp,
		LastRunID:        r.RunID,
		LastSummary:      &summary,
		LastTrend:        &trend,
	}
}

// LoadState reads the audit state. A missing document yields an empty state
// and no error. An unreadable one yields an empty state and an error wrapping
// ErrStoreUnavailable; callers continue with the empty state.
func LoadState(ctx context.Context, store kv.Store) (State, error) {
	data, err := store.Get(ctx, StateDocument)
	if errors.Is(err, kv.ErrNotFound) {
		return State{Version: StateVersion}, nil
	}
	if err != nil {
		return State{Version: StateVersion}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{Version: StateVersion}, fmt.Errorf("%w: parse: %w", ErrStoreUnavailable, err)
	}

	switch s.Version {
	case 0:
		// unversioned documents share the version 1 layout
		s.Version = StateVersion
	case StateVersion:
	default:
		return State{Version: StateVersion}, fmt.Errorf("%w: unsupported version %d", ErrStoreUnavailable, s.Version)
	}
	return s, nil
}

// SaveState atomically replaces the persisted audit state.
func SaveState(ctx context.Context, store kv.Store, s State) error {
	s.Version = StateVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode audit state: %w", err)
	}
	if err := store.Put(ctx, StateDocument, data); err != nil {
		return fmt.Errorf("save audit state: %w", err)
	}
	return nil
}
