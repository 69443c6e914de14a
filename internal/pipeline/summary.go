package pipeline

import (
	"time"

	"github.com/JaimeStill/billwatch/internal/decision"
	"github.com/JaimeStill/billwatch/internal/grouping"
	"github.com/JaimeStill/billwatch/internal/risk"
	"github.com/JaimeStill/billwatch/internal/rows"
)

// Outcome is what happened to a work unit during a run.
type Outcome string

const (
	OutcomeRegenerated Outcome = "regenerated"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
	OutcomeAbandoned   Outcome = "abandoned"
)

// UnitResult records the handling of one work unit.
type UnitResult struct {
	Key         grouping.Key    `json:"key"`
	Rows        int             `json:"rows"`
	Fingerprint string          `json:"fingerprint"`
	Action      decision.Action `json:"action,omitempty"`
	Reason      decision.Reason `json:"reason,omitempty"`
	Outcome     Outcome         `json:"outcome"`
	ArtifactID  string          `json:"artifactId,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// Summary reports a run. It is produced even when parts of the run failed;
// Complete is false only when the run stopped before processing work units.
type Summary struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	Rows     int             `json:"rows"`
	Valid    int             `json:"valid"`
	Rejected []rows.Rejected `json:"rejected,omitempty"`
	Warnings int             `json:"warnings"`
	Units    int             `json:"units"`
	Results  []UnitResult    `json:"results,omitempty"`
	Counts   map[Outcome]int `json:"counts"`

	AuditEvents  int            `json:"auditEvents"`
	AuditUnknown int            `json:"auditUnknown"`
	Anomalies    []risk.Anomaly `json:"anomalies,omitempty"`
	Audit        risk.Summary   `json:"audit"`
	Trend        risk.Trend     `json:"trend"`

	// Degraded lists state that could not be loaded and was treated as empty.
	Degraded []string `json:"degraded,omitempty"`
	// Errors lists recovered failures: units marked for regeneration, audit
	// rows that could not be read, state or sink writes that failed.
	Errors   []string `json:"errors,omitempty"`
	Complete bool     `json:"complete"`
}

// Regenerated returns the number of work units regenerated.
func (s *Summary) Regenerated() int { return s.Counts[OutcomeRegenerated] }

// Skipped returns the number of work units skipped.
func (s *Summary) Skipped() int { return s.Counts[OutcomeSkipped] }

// Failed returns the number of work units that could not be regenerated.
func (s *Summary) Failed() int { return s.Counts[OutcomeFailed] }

func (s *Summary) addError(err error) {
	s.Errors = append(s.Errors, err.Error())
}
