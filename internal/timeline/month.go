// Package timeline holds the period axis shared by every producer and query in an
// analysis run: calendar months, raw input series and aggregated monthly series.
package timeline

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

const monthLayout = "2006-01"

// Month is a calendar month. The zero value is not a valid month.
type Month struct {
	Year  int
	Month time.Month
}

// NewMonth returns a normalized month, so NewMonth(2024, 13) is 2025-01.
func NewMonth(year int, month time.Month) Month {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Month{Year: t.Year(), Month: t.Month()}
}

// MonthOf returns the month containing d.
func MonthOf(d civil.Date) Month {
	return Month{Year: d.Year, Month: d.Month}
}

// ParseMonth parses a "YYYY-MM" string.
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("ParseMonth: invalid month %q: %w", s, err)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

// String formats the month as "YYYY-MM".
func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month))
}

// IsZero reports whether m is the zero Month.
func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}

// FirstDay returns the first calendar day of the month.
func (m Month) FirstDay() civil.Date {
	return civil.Date{Year: m.Year, Month: m.Month, Day: 1}
}

// AddMonths returns m shifted by n months (n may be negative).
func (m Month) AddMonths(n int) Month {
	return NewMonth(m.Year, m.Month+time.Month(n))
}

// Ordinal is a monotonically increasing month number, handy for arithmetic.
func (m Month) Ordinal() int {
	return m.Year*12 + int(m.Month) - 1
}

// Compare returns -1, 0 or +1.
func (m Month) Compare(o Month) int {
	a, b := m.Ordinal(), o.Ordinal()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Before reports whether m is strictly earlier than o.
func (m Month) Before(o Month) bool {
	return m.Ordinal() < o.Ordinal()
}

// MarshalText implements encoding.TextMarshaler ("YYYY-MM").
func (m Month) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Month) UnmarshalText(b []byte) error {
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Timeline is the analysis horizon shared by all producers of one run.
type Timeline struct {
	Start  Month `json:"start"`
	Months int   `json:"months"`
}

// NewTimeline validates and returns a timeline of n months starting at start.
func NewTimeline(start Month, n int) (Timeline, error) {
	if start.IsZero() {
		return Timeline{}, fmt.Errorf("NewTimeline: start month is required")
	}
	if n <= 0 {
		return Timeline{}, fmt.Errorf("NewTimeline: months must be positive, got %d", n)
	}
	return Timeline{Start: start, Months: n}, nil
}

// End returns the last month in the timeline.
func (t Timeline) End() Month {
	return t.Start.AddMonths(t.Months - 1)
}

// Contains reports whether m falls inside the timeline.
func (t Timeline) Contains(m Month) bool {
	return !m.Before(t.Start) && !t.End().Before(m)
}

// Index returns the month axis of the timeline.
func (t Timeline) Index() MonthIndex {
	idx := make(MonthIndex, t.Months)
	for i := range idx {
		idx[i] = t.Start.AddMonths(i)
	}
	return idx
}
