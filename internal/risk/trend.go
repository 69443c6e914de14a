package risk

// Direction is the movement of risk between consecutive runs.
type Direction string

const (
	Baseline  Direction = "baseline"
	Worsening Direction = "worsening"
	Improving Direction = "improving"
	Stable    Direction = "stable"
)

// Trend compares a run with the previous one.
type Trend struct {
	Direction       Direction `json:"direction"`
	LevelDelta      int       `json:"levelDelta"`
	IssueCountDelta int       `json:"issueCountDelta"`
}

// Compare returns the trend from previous to current. A nil previous is the
// first run and yields Baseline with zero deltas. When the level is unchanged
// the issue counts break the tie.
func Compare(current Summary, previous *Summary) Trend {
	if previous == nil {
		return Trend{Direction: Baseline}
	}

	t := Trend{
		LevelDelta:      current.RiskLevel.Ordinal() - previous.RiskLevel.Ordinal(),
		IssueCountDelta: current.TotalIssues - previous.TotalIssues,
	}

	switch {
	case t.LevelDelta > 0:
		t.Direction = Worsening
	case t.LevelDelta < 0:
		t.Direction = Improving
	case t.IssueCountDelta > 0:
		t.Direction = Worsening
	case t.IssueCountDelta < 0:
		t.Direction = Improving
	default:
		t.Direction = Stable
	}
	return t
}
