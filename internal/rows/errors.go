package rows

import (
	"errors"
	"fmt"
)

// ErrRequiredField indicates a field the row cannot exist without was unparseable.
var ErrRequiredField = errors.New("required field unparseable")

// NormalizationError reports a field that could not be normalized.
type NormalizationError struct {
	Source SourceRef
	Field  string
	Value  any
	Err    error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("row %s: field %s (%v): %v", e.Source, e.Field, e.Value, e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// Warning is a recovered data-quality problem: the field was replaced with a
// safe default and the row remains eligible for processing.
type Warning struct {
	Source SourceRef
	Field  string
	Value  any
	Err    error
}

func (w Warning) String() string {
	return fmt.Sprintf("row %s: %s=%v: %v", w.Source, w.Field, w.Value, w.Err)
}
