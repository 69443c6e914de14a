package rows

// Rejection names the reason a row failed the validity filter.
type Rejection string

const (
	RejectMissingWorkRequest Rejection = "missing work request id"
	RejectMissingWeekEnding  Rejection = "missing week ending date"
	RejectNonPositivePrice   Rejection = "price not positive"
	RejectNotCompleted       Rejection = "units not completed"
	// RejectInvalidWorkRequest is recorded by callers for rows the Normalizer
	// refused with ErrRequiredField.
	RejectInvalidWorkRequest Rejection = "unparseable work request id"
)

// Rejected records a dropped row and why.
type Rejected struct {
	Source SourceRef `json:"source"`
	Reason Rejection `json:"reason"`
}

// Validate reports whether r is billable. Checks run in a fixed order and the
// first failure is returned.
func Validate(r Row) (Rejection, bool) {
	switch {
	case r.WorkRequestID == "":
		return RejectMissingWorkRequest, false
	case r.WeekEnding.IsZero():
		return RejectMissingWeekEnding, false
	case !r.UnitPrice.IsPositive():
		return RejectNonPositivePrice, false
	case !r.Completed:
		return RejectNotCompleted, false
	}
	return "", true
}

// Filter splits rows into billable rows and rejections, preserving input order.
func Filter(rows []Row) ([]Row, []Rejected) {
	valid := make([]Row, 0, len(rows))
	var rejected []Rejected

	for _, r := range rows {
		if reason, ok := Validate(r); !ok {
			rejected = append(rejected, Rejected{Source: r.Source, Reason: reason})
			continue
		}
		valid = append(valid, r)
	}

	return valid, rejected
}
