package timeline

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Point is one month of an aggregated series.
type Point struct {
	Month  Month           `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

// Monthly is an aggregated, month-indexed series sorted by month with no
// duplicate months. A nil Monthly is a valid empty series.
type Monthly []Point

// FromMap builds a sorted Monthly from month totals.
func FromMap(totals map[Month]decimal.Decimal) Monthly {
	if len(totals) == 0 {
		return nil
	}
	out := make(Monthly, 0, len(totals))
	for m, amt := range totals {
		out = append(out, Point{Month: m, Amount: amt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.Before(out[j].Month) })
	return out
}

// Len returns the number of months.
func (s Monthly) Len() int { return len(s) }

// IsEmpty reports whether the series has no months.
func (s Monthly) IsEmpty() bool { return len(s) == 0 }

// Months returns the month axis.
func (s Monthly) Months() []Month {
	out := make([]Month, len(s))
	for i, p := range s {
		out[i] = p.Month
	}
	return out
}

// At returns the amount for m, or zero when m is absent.
func (s Monthly) At(m Month) decimal.Decimal {
	i := sort.Search(len(s), func(i int) bool { return !s[i].Month.Before(m) })
	if i < len(s) && s[i].Month == m {
		return s[i].Amount
	}
	return decimal.Zero
}

// Total sums every month.
func (s Monthly) Total() decimal.Decimal {
	total := decimal.Zero
	for _, p := range s {
		total = total.Add(p.Amount)
	}
	return total
}

// Neg flips the sign of every month.
func (s Monthly) Neg() Monthly {
	if s == nil {
		return nil
	}
	out := make(Monthly, len(s))
	for i, p := range s {
		out[i] = Point{Month: p.Month, Amount: p.Amount.Neg()}
	}
	return out
}

// CumSum returns the running total.
func (s Monthly) CumSum() Monthly {
	if s == nil {
		return nil
	}
	out := make(Monthly, len(s))
	running := decimal.Zero
	for i, p := range s {
		running = running.Add(p.Amount)
		out[i] = Point{Month: p.Month, Amount: running}
	}
	return out
}

// Dense fills every missing month between the first and last with zero, so a
// running total carries through quiet months.
func (s Monthly) Dense() Monthly {
	if len(s) < 2 {
		return s
	}
	first, last := s[0].Month, s[len(s)-1].Month
	out := make(Monthly, 0, last.Ordinal()-first.Ordinal()+1)
	i := 0
	for m := first; !last.Before(m); m = m.AddMonths(1) {
		if s[i].Month == m {
			out = append(out, s[i])
			i++
			continue
		}
		out = append(out, Point{Month: m, Amount: decimal.Zero})
	}
	return out
}

// Equal compares month axes and amounts exactly.
func (s Monthly) Equal(o Monthly) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i].Month != o[i].Month || !s[i].Amount.Equal(o[i].Amount) {
			return false
		}
	}
	return true
}

// Add returns a+b over the union of both month axes, zero-filling gaps.
func Add(a, b Monthly) Monthly {
	return combine(a, b, decimal.Decimal.Add)
}

// Sub returns a-b over the union of both month axes, zero-filling gaps.
func Sub(a, b Monthly) Monthly {
	return combine(a, b, decimal.Decimal.Sub)
}

// Sum adds any number of series with zero-fill alignment.
func Sum(series ...Monthly) Monthly {
	var out Monthly
	for _, s := range series {
		out = Add(out, s)
	}
	return out
}

// Align returns both series expanded to the union of their months.
func Align(a, b Monthly) (Monthly, Monthly) {
	first := func(x, _ decimal.Decimal) decimal.Decimal { return x }
	second := func(_, y decimal.Decimal) decimal.Decimal { return y }
	return combine(a, b, first), combine(a, b, second)
}

func combine(a, b Monthly, op func(x, y decimal.Decimal) decimal.Decimal) Monthly {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(Monthly, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].Month.Before(b[j].Month)):
			out = append(out, Point{Month: a[i].Month, Amount: op(a[i].Amount, decimal.Zero)})
			i++
		case i >= len(a) || b[j].Month.Before(a[i].Month):
			out = append(out, Point{Month: b[j].Month, Amount: op(decimal.Zero, b[j].Amount)})
			j++
		default:
			out = append(out, Point{Month: a[i].Month, Amount: op(a[i].Amount, b[j].Amount)})
			i++
			j++
		}
	}
	return out
}
