package risk

import (
	"cmp"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/JaimeStill/billwatch/internal/rows"
)

// DefaultVarianceRatio flags a work request whose price range exceeds half of
// its average price.
var DefaultVarianceRatio = decimal.RequireFromString("0.5")

// Anomaly is a work request whose row prices vary more than the ratio allows.
type Anomaly struct {
	WorkRequestID string          `json:"workRequestId"`
	Rows          int             `json:"rows"`
	Min           decimal.Decimal `json:"min"`
	Max           decimal.Decimal `json:"max"`
	Average       decimal.Decimal `json:"average"`
}

// Range returns Max - Min.
func (a Anomaly) Range() decimal.Decimal {
	return a.Max.Sub(a.Min)
}

// PriceVariance returns one anomaly per work request with at least two rows
// whose price range is greater than ratio times the average price. Results
// are ordered by work request id.
func PriceVariance(rs []rows.Row, ratio decimal.Decimal) []Anomaly {
	byWR := make(map[string][]decimal.Decimal)
	for _, r := range rs {
		byWR[r.WorkRequestID] = append(byWR[r.WorkRequestID], r.UnitPrice)
	}

	var out []Anomaly
	for wr, prices := range byWR {
		if len(prices) < 2 {
			continue
		}

		a := Anomaly{
			WorkRequestID: wr,
			Rows:          len(prices),
			Min:           decimal.Min(prices[0], prices[1:]...),
			Max:           decimal.Max(prices[0], prices[1:]...),
			Average:       decimal.Avg(prices[0], prices[1:]...),
		}
		if !a.Average.IsPositive() {
			continue
		}
		if a.Range().GreaterThan(a.Average.Mul(ratio)) {
			out = append(out, a)
		}
	}

	slices.SortFunc(out, func(a, b Anomaly) int {
		return cmp.Compare(a.WorkRequestID, b.WorkRequestID)
	})
	return out
}
