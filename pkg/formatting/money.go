// Package formatting provides tolerant parsing of spreadsheet cell values
// (currency amounts, checkbox states, calendar dates) into canonical typed values.
package formatting

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// MoneyScale is the number of fractional digits money values are rounded to.
const MoneyScale = 2

var (
	// ErrEmptyValue indicates the cell held no value.
	ErrEmptyValue = errors.New("empty value")
	// ErrInvalidNumber indicates the cell could not be read as a number.
	ErrInvalidNumber = errors.New("invalid number")
	// ErrInvalidDate indicates the cell could not be read as a calendar date.
	ErrInvalidDate = errors.New("invalid date")
)

// ParseMoney parses a currency amount into a fixed-point decimal rounded to
// MoneyScale places. Strings may carry currency symbols, thousands separators,
// surrounding whitespace, or accounting parentheses for negatives.
func ParseMoney(v any) (decimal.Decimal, error) {
	d, err := ParseDecimal(v)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Round(MoneyScale), nil
}

// FormatMoney renders a money value with exactly MoneyScale fractional digits.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(MoneyScale)
}

// ParseDecimal parses a numeric cell into a decimal without rounding.
// It accepts the same string forms as ParseMoney.
func ParseDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, ErrEmptyValue
	case decimal.Decimal:
		return n, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case int32:
		return decimal.NewFromInt32(n), nil
	case json.Number:
		return parseNumericString(n.String())
	case string:
		return parseNumericString(n)
	default:
		return decimal.Zero, fmt.Errorf("%w: unsupported type %T", ErrInvalidNumber, v)
	}
}

func parseNumericString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrEmptyValue
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) || unicode.Is(unicode.Sc, r) {
			return -1
		}
		return r
	}, s)

	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}

	if negative {
		d = d.Neg()
	}
	return d, nil
}
