package timeline

import (
	"fmt"

	"cloud.google.com/go/civil"
)

// IndexKind identifies the axis a raw series is indexed by.
type IndexKind int

const (
	// IndexMonth is a period axis of calendar months.
	IndexMonth IndexKind = iota + 1
	// IndexDate is a daily date axis.
	IndexDate
	// IndexPositional is a plain integer axis with no calendar meaning.
	IndexPositional
)

func (k IndexKind) String() string {
	switch k {
	case IndexMonth:
		return "month"
	case IndexDate:
		return "date"
	case IndexPositional:
		return "positional"
	}
	return fmt.Sprintf("IndexKind(%d)", int(k))
}

// Index is the axis of a raw series.
type Index interface {
	Len() int
	Kind() IndexKind
}

// MonthIndex is a period axis.
type MonthIndex []Month

func (i MonthIndex) Len() int        { return len(i) }
func (i MonthIndex) Kind() IndexKind { return IndexMonth }

// DateIndex is a date axis.
type DateIndex []civil.Date

func (i DateIndex) Len() int        { return len(i) }
func (i DateIndex) Kind() IndexKind { return IndexDate }

// PositionalIndex is an integer axis. Converters reject it.
type PositionalIndex []int

func (i PositionalIndex) Len() int        { return len(i) }
func (i PositionalIndex) Kind() IndexKind { return IndexPositional }

// Series is a raw amount series emitted by a producer. Values[i] belongs to the
// i-th entry of Index.
type Series struct {
	Index  Index
	Values []float64
}

// NewSeries pairs an index with values of the same length.
func NewSeries(idx Index, values []float64) (Series, error) {
	if idx == nil {
		return Series{}, fmt.Errorf("NewSeries: index is required")
	}
	if idx.Len() != len(values) {
		return Series{}, fmt.Errorf("NewSeries: index has %d entries, values has %d", idx.Len(), len(values))
	}
	return Series{Index: idx, Values: values}, nil
}

// MonthSeries builds a series of consecutive months starting at start.
func MonthSeries(start Month, values ...float64) Series {
	idx := make(MonthIndex, len(values))
	for i := range idx {
		idx[i] = start.AddMonths(i)
	}
	return Series{Index: idx, Values: values}
}

// Len returns the number of points.
func (s Series) Len() int {
	return len(s.Values)
}

// IsEmpty reports whether the series has no points.
func (s Series) IsEmpty() bool {
	return s.Index == nil || len(s.Values) == 0
}
