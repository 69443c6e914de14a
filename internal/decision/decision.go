// Package decision decides whether a work unit's artifact must be regenerated.
package decision

import (
	"errors"

	"github.com/JaimeStill/billwatch/internal/grouping"
	"github.com/JaimeStill/billwatch/internal/hashstore"
)

// ErrEmptyFingerprint indicates Decide was called without a current fingerprint.
var ErrEmptyFingerprint = errors.New("empty fingerprint")

// Action is the outcome of a decision.
type Action string

const (
	Skip       Action = "skip"
	Regenerate Action = "regenerate"
)

// Reason records which rule produced the action.
type Reason string

const (
	ReasonNew             Reason = "new"
	ReasonUnchanged       Reason = "unchanged"
	ReasonArtifactMissing Reason = "artifact_missing"
	ReasonChanged         Reason = "changed"
	ReasonForced          Reason = "forced"
	ReasonUnknown         Reason = "unknown"
)

// Decision is the action for one work unit and the previous record, if any.
type Decision struct {
	Action   Action
	Reason   Reason
	Previous *hashstore.Record
}

// Lookup returns the stored record for a key.
type Lookup interface {
	Get(k grouping.Key) (hashstore.Record, bool)
}

// Decider applies the skip rules against stored fingerprints.
type Decider struct {
	lookup Lookup
	force  bool
}

// New returns a Decider. When force is set every decision is Regenerate.
func New(lookup Lookup, force bool) *Decider {
	return &Decider{lookup: lookup, force: force}
}

// Decide returns Skip only when the stored fingerprint equals the current one
// and the artifact is present.
func (d *Decider) Decide(key grouping.Key, current string, artifactExists bool) (Decision, error) {
	if current == "" {
		return Decision{}, ErrEmptyFingerprint
	}

	var previous *hashstore.Record
	rec, ok := d.lookup.Get(key)
	if ok {
		previous = &rec
	}

	switch {
	case d.force:
		return Decision{Action: Regenerate, Reason: ReasonForced, Previous: previous}, nil
	case !ok:
		return Decision{Action: Regenerate, Reason: ReasonNew}, nil
	case rec.Fingerprint != current:
		return Decision{Action: Regenerate, Reason: ReasonChanged, Previous: previous}, nil
	case !artifactExists:
		return Decision{Action: Regenerate, Reason: ReasonArtifactMissing, Previous: previous}, nil
	default:
		return Decision{Action: Skip, Reason: ReasonUnchanged, Previous: previous}, nil
	}
}

// Unknown is the fail-safe decision used when the artifact state could not be
// determined.
func (d *Decider) Unknown(key grouping.Key) Decision {
	dec := Decision{Action: Regenerate, Reason: ReasonUnknown}
	if rec, ok := d.lookup.Get(key); ok {
		dec.Previous = &rec
	}
	return dec
}
