// Package risk classifies a run's audit findings and compares them with the
// previous run.
package risk

import (
	"fmt"
	"maps"
	"slices"
)

// Level is the coarse risk classification of a run.
type Level string

const (
	Low    Level = "LOW"
	Medium Level = "MEDIUM"
	High   Level = "HIGH"
)

// Ordinal maps the level onto 1..3. Unknown levels map to 0.
func (l Level) Ordinal() int {
	switch l {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	default:
		return 0
	}
}

const (
	// MediumThreshold is the default event count at which risk becomes MEDIUM.
	MediumThreshold = 1
	// HighThreshold is the default event count at which risk becomes HIGH.
	HighThreshold = 4
)

// Thresholds are the event counts at which risk escalates.
type Thresholds struct {
	Medium int
	High   int
}

// DefaultThresholds returns MediumThreshold and HighThreshold.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: MediumThreshold, High: HighThreshold}
}

// Validate reports whether the thresholds are ordered and positive.
func (t Thresholds) Validate() error {
	if t.Medium < 1 || t.High <= t.Medium {
		return fmt.Errorf("invalid risk thresholds: medium=%d high=%d", t.Medium, t.High)
	}
	return nil
}

// Classify returns the level for a run that detected the given number of
// change events. The result never decreases as events increases.
func (t Thresholds) Classify(events int) Level {
	switch {
	case events >= t.High:
		return High
	case events >= t.Medium:
		return Medium
	default:
		return Low
	}
}

// Category names used in a Summary.
const (
	CategoryQuantityChange = "quantity_change"
	CategoryPriceChange    = "price_change"
	CategoryPriceVariance  = "price_variance"
)

// Summary is a run's audit result as persisted for the next run.
type Summary struct {
	TotalIssues int            `json:"totalIssues"`
	RiskLevel   Level          `json:"riskLevel"`
	Categories  map[string]int `json:"categories,omitempty"`
}

// CategoryNames returns the summary's categories in sorted order.
func (s Summary) CategoryNames() []string {
	return slices.Sorted(maps.Keys(s.Categories))
}
