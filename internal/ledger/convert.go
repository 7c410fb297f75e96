package ledger

import (
	"fmt"
	"math"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/proforma/internal/timeline"
)

// DefaultZeroEpsilon is the magnitude below which a point counts as zero.
const DefaultZeroEpsilon = 1e-9

// SeriesPair is one raw series with its classification.
type SeriesPair struct {
	Series   timeline.Series
	Metadata SeriesMetadata
}

// ConvertOptions controls flattening.
type ConvertOptions struct {
	SkipZeros bool
	Epsilon   float64
	// NewID generates transaction IDs. Defaults to uuid.NewString.
	NewID func() string
}

// DefaultConvertOptions skips zeros at DefaultZeroEpsilon.
func DefaultConvertOptions() ConvertOptions {
	return ConvertOptions{SkipZeros: true, Epsilon: DefaultZeroEpsilon}
}

func (o ConvertOptions) isZero(v float64) bool {
	return o.SkipZeros && math.Abs(v) < o.epsilon()
}

func (o ConvertOptions) epsilon() float64 {
	if o.Epsilon <= 0 {
		return DefaultZeroEpsilon
	}
	return o.Epsilon
}

func (o ConvertOptions) newID() string {
	if o.NewID != nil {
		return o.NewID()
	}
	return uuid.NewString()
}

// ConvertSeries flattens one series into records in index order. Only month and
// date indexes are accepted; anything else fails with an *IndexTypeError before
// any record is produced.
func ConvertSeries(s timeline.Series, m SeriesMetadata, opts ConvertOptions) ([]TransactionRecord, error) {
	dates, err := seriesDates(s.Index)
	if err != nil {
		return nil, err
	}
	if len(dates) != len(s.Values) {
		return nil, fmt.Errorf("ConvertSeries: index has %d entries, values has %d", len(dates), len(s.Values))
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("ConvertSeries: %w", err)
	}

	tag := m.Tag()
	out := make([]TransactionRecord, 0, len(s.Values))
	for i, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("ConvertSeries: %s: point %d (%s) is not a finite amount", m.ItemName, i, dates[i])
		}
		if opts.isZero(v) {
			continue
		}
		out = append(out, newRecord(opts.newID(), dates[i], decimal.NewFromFloat(v), m, tag))
	}
	return out, nil
}

// ConvertAll flattens every pair and concatenates the results. Order within a
// pair follows its index; order across pairs follows the batch.
func ConvertAll(batch []SeriesPair, opts ConvertOptions) ([]TransactionRecord, error) {
	var out []TransactionRecord
	for i, p := range batch {
		recs, err := ConvertSeries(p.Series, p.Metadata, opts)
		if err != nil {
			return nil, fmt.Errorf("series %d (%s): %w", i, p.Metadata.ItemName, err)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func seriesDates(idx timeline.Index) ([]civil.Date, error) {
	switch ix := idx.(type) {
	case timeline.MonthIndex:
		dates := make([]civil.Date, len(ix))
		for i, m := range ix {
			if m.IsZero() {
				return nil, fmt.Errorf("ConvertSeries: month index entry %d is the zero month", i)
			}
			dates[i] = m.FirstDay()
			if !dates[i].IsValid() {
				return nil, fmt.Errorf("ConvertSeries: month index entry %d (%d-%02d) is not a valid month", i, m.Year, int(m.Month))
			}
		}
		return dates, nil
	case timeline.DateIndex:
		for i, d := range ix {
			if !d.IsValid() {
				return nil, fmt.Errorf("ConvertSeries: date index entry %d (%s) is not a valid date", i, d)
			}
		}
		return ix, nil
	case nil:
		return nil, &IndexTypeError{}
	default:
		return nil, &IndexTypeError{Kind: idx.Kind()}
	}
}
