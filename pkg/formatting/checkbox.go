package formatting

import "strings"

var truthy = map[string]struct{}{
	"true":    {},
	"checked": {},
	"yes":     {},
	"on":      {},
	"1":       {},
}

// ParseCheckbox reads a checkbox cell. Booleans pass through, integers are
// checked only when equal to 1, and strings are checked when they match one
// of the truthy words case-insensitively. Everything else is unchecked.
func ParseCheckbox(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int:
		return b == 1
	case int64:
		return b == 1
	case int32:
		return b == 1
	case float64:
		return b == 1
	case string:
		_, ok := truthy[strings.ToLower(strings.TrimSpace(b))]
		return ok
	default:
		return false
	}
}
