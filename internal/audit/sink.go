package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink appends a run's events to the audit log. Events are never updated in
// place; a batch is tagged with its run id so a partially written batch can
// be told apart from a complete one.
type Sink interface {
	AppendBatch(ctx context.Context, runID string, events []Event, report Report) error
}

// fileRecord is one line of the JSON lines audit log.
type fileRecord struct {
	Kind   string  `json:"kind"`
	RunID  string  `json:"runId"`
	Event  *Event  `json:"event,omitempty"`
	Report *Report `json:"report,omitempty"`
}

// FileSink appends batches to a JSON lines file. Each batch is written with a
// single append: a run line, one line per event, then a commit line. A batch
// missing its commit line was interrupted.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink returns a FileSink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) AppendBatch(ctx context.Context, runID string, events []Event, report Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	if err := enc.Encode(fileRecord{Kind: "run", RunID: runID, Report: &report}); err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	for i := range events {
		if err := enc.Encode(fileRecord{Kind: "event", RunID: runID, Event: &events[i]}); err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
	}
	if err := enc.Encode(fileRecord{Kind: "commit", RunID: runID}); err != nil {
		return fmt.Errorf("encode commit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create audit log dir: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("append audit log: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync audit log: %w", err)
	}
	return f.Close()
}
