package formatting_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JaimeStill/billwatch/pkg/formatting"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"currency with separators", "$1,250.00", "1250.00"},
		{"plain string", "1250.00", "1250.00"},
		{"separator without cents", "1,250", "1250.00"},
		{"float", 1250.0, "1250.00"},
		{"int", 1250, "1250.00"},
		{"padded", "  $ 99.5 ", "99.50"},
		{"accounting negative", "($12.34)", "-12.34"},
		{"euro symbol", "€7", "7.00"},
		{"rounds half up", "10.005", "10.01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatting.ParseMoney(tt.input)
			if err != nil {
				t.Fatalf("ParseMoney(%v) error = %v", tt.input, err)
			}
			if s := formatting.FormatMoney(got); s != tt.want {
				t.Errorf("ParseMoney(%v) = %s, want %s", tt.input, s, tt.want)
			}
		})
	}
}

func TestParseMoneyEquivalentForms(t *testing.T) {
	forms := []any{"$1,250.00", "1250.00", "1,250", 1250.0}

	first, err := formatting.ParseMoney(forms[0])
	if err != nil {
		t.Fatalf("ParseMoney(%v) error = %v", forms[0], err)
	}

	for _, f := range forms[1:] {
		got, err := formatting.ParseMoney(f)
		if err != nil {
			t.Fatalf("ParseMoney(%v) error = %v", f, err)
		}
		if !got.Equal(first) {
			t.Errorf("ParseMoney(%v) = %s, want %s", f, got, first)
		}
	}
}

func TestParseMoneyErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		wantErr error
	}{
		{"nil", nil, formatting.ErrEmptyValue},
		{"blank", "   ", formatting.ErrEmptyValue},
		{"words", "n/a", formatting.ErrInvalidNumber},
		{"symbol only", "$", formatting.ErrInvalidNumber},
		{"unsupported type", []string{"1"}, formatting.ErrInvalidNumber},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatting.ParseMoney(tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseMoney(%v) error = %v, want %v", tt.input, err, tt.wantErr)
			}
			if !got.Equal(decimal.Zero) {
				t.Errorf("ParseMoney(%v) = %s on error, want 0", tt.input, got)
			}
		})
	}
}

func TestParseDecimalNormalizesTrailingZeros(t *testing.T) {
	a, _ := formatting.ParseDecimal("3.00")
	b, _ := formatting.ParseDecimal(3)
	if a.String() != b.String() {
		t.Errorf("ParseDecimal string forms differ: %s vs %s", a.String(), b.String())
	}
}

func TestParseCheckbox(t *testing.T) {
	tests := []struct {
		input any
		want  bool
	}{
		{true, true},
		{false, false},
		{1, true},
		{0, false},
		{2, false},
		{1.0, true},
		{"true", true},
		{"Checked", true},
		{" YES ", true},
		{"on", true},
		{"1", true},
		{"no", false},
		{"", false},
		{"maybe", false},
		{nil, false},
		{[]int{1}, false},
	}

	for _, tt := range tests {
		if got := formatting.ParseCheckbox(tt.input); got != tt.want {
			t.Errorf("ParseCheckbox(%#v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, time.August, 24, 0, 0, 0, 0, time.UTC)

	inputs := []any{
		"2025-08-24",
		"2025-08-24T17:45:00Z",
		"2025-08-24 08:00:00",
		"08/24/2025",
		"8/24/25",
		time.Date(2025, time.August, 24, 23, 59, 0, 0, time.UTC),
	}

	for _, in := range inputs {
		got, err := formatting.ParseDate(in)
		if err != nil {
			t.Errorf("ParseDate(%v) error = %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseDate(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestParseDateErrors(t *testing.T) {
	if _, err := formatting.ParseDate(""); !errors.Is(err, formatting.ErrEmptyValue) {
		t.Errorf("ParseDate(\"\") error = %v, want ErrEmptyValue", err)
	}
	if _, err := formatting.ParseDate("next tuesday"); !errors.Is(err, formatting.ErrInvalidDate) {
		t.Errorf("ParseDate(words) error = %v, want ErrInvalidDate", err)
	}
	if _, err := formatting.ParseDate(42); !errors.Is(err, formatting.ErrInvalidDate) {
		t.Errorf("ParseDate(int) error = %v, want ErrInvalidDate", err)
	}
}
