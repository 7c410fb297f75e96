// Package ledger is the append-only store of signed financial facts accumulated by
// the producers of one analysis run. Producers queue raw series with AddSeries;
// Materialize converts only what was queued since the previous call and appends
// it to a columnar table that queries read through an immutable Snapshot.
//
// A Ledger is owned by one goroutine. Concurrent analyses use separate ledgers.
package ledger

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/proforma/internal/timeline"
)

// Options configures a Ledger.
type Options struct {
	SkipZeros   bool
	ZeroEpsilon float64
	// OptimizeThreshold is the row count above which per-purpose posting lists
	// are maintained. Results never depend on it.
	OptimizeThreshold int
	// NewID overrides transaction ID generation (tests).
	NewID    func() string
	Logger   zerolog.Logger
	Observer Observer
}

// DefaultOptions returns options with zero-skipping on and a disabled logger.
func DefaultOptions() Options {
	return Options{
		SkipZeros:         true,
		ZeroEpsilon:       DefaultZeroEpsilon,
		OptimizeThreshold: DefaultOptimizeThreshold,
		Logger:            zerolog.Nop(),
	}
}

// MaterializeEvent describes one Materialize call that did work.
type MaterializeEvent struct {
	Generation      uint64
	SeriesConverted int
	RowsAppended    int
	TotalRows       int
	Duration        time.Duration
	Err             error
}

// Observer receives materialization events, e.g. to export metrics.
type Observer interface {
	ObserveMaterialize(MaterializeEvent)
}

// Stats are cumulative counters since the ledger was created or cleared.
type Stats struct {
	Materializations int // calls that converted pending input
	CacheHits        int // calls answered from the cached snapshot
	Failures         int
	SeriesConverted  int
	RowsConverted    int
	// LastSeriesConverted and LastRowsConverted describe the latest successful build.
	LastSeriesConverted int
	LastRowsConverted   int
}

// Ledger owns pending input, committed rows and the cached snapshot.
type Ledger struct {
	opts Options
	log  zerolog.Logger

	table          *Table
	pending        []SeriesPair
	pendingRecords []TransactionRecord
	pendingRows    int // points across pending series, before zero-skipping
	committedSer   int

	// gen advances on every write; builtGen is the generation of snap.
	gen      uint64
	builtGen uint64
	snap     Snapshot

	stats Stats
}

// New creates an empty ledger.
func New(opts Options) *Ledger {
	if opts.OptimizeThreshold <= 0 {
		opts.OptimizeThreshold = DefaultOptimizeThreshold
	}
	l := &Ledger{opts: opts, log: opts.Logger.With().Str("component", "ledger").Logger()}
	l.reset()
	return l
}

func (l *Ledger) reset() {
	l.table = newTable(l.opts.OptimizeThreshold)
	l.pending = nil
	l.pendingRecords = nil
	l.pendingRows = 0
	l.committedSer = 0
	l.gen = 1
	l.builtGen = 0
	l.snap = Snapshot{}
	l.stats = Stats{}
}

func (l *Ledger) convertOptions() ConvertOptions {
	return ConvertOptions{SkipZeros: l.opts.SkipZeros, Epsilon: l.opts.ZeroEpsilon, NewID: l.opts.NewID}
}

// AddSeries queues one series. Empty series are ignored. Metadata is validated
// now; the index is checked at Materialize.
func (l *Ledger) AddSeries(s timeline.Series, m SeriesMetadata) error {
	return l.AddSeriesBatch([]SeriesPair{{Series: s, Metadata: m}})
}

// AddSeriesBatch queues several series. If any metadata is invalid nothing is queued.
func (l *Ledger) AddSeriesBatch(pairs []SeriesPair) error {
	accepted := make([]SeriesPair, 0, len(pairs))
	rows := 0
	for i, p := range pairs {
		if p.Series.IsEmpty() {
			continue
		}
		if err := p.Metadata.Validate(); err != nil {
			return fmt.Errorf("AddSeriesBatch: series %d: %w", i, err)
		}
		accepted = append(accepted, p)
		rows += p.Series.Len()
	}
	if len(accepted) == 0 {
		return nil
	}
	l.pending = append(l.pending, accepted...)
	l.pendingRows += rows
	l.gen++
	return nil
}

// AddRecords queues pre-built records. Missing IDs are generated; item tags and
// flow purposes are re-derived from the classification, so a caller-set purpose
// is replaced. If any record is invalid nothing is queued.
func (l *Ledger) AddRecords(records []TransactionRecord, skipZeros bool) error {
	opts := l.convertOptions()
	accepted := make([]TransactionRecord, 0, len(records))
	for i, r := range records {
		if skipZeros && r.Amount.Abs().LessThan(decimal.NewFromFloat(opts.epsilon())) {
			continue
		}
		if r.TransactionID == "" {
			r.TransactionID = opts.newID()
		}
		r.ItemTag = TagItem(r.Category, r.Subcategory, r.ItemName)
		r.FlowPurpose = DeterminePurposeWithSubcategory(r.Category, r.Subcategory, r.ItemName, r.Amount)
		if err := r.Validate(); err != nil {
			return fmt.Errorf("AddRecords: record %d: %w", i, err)
		}
		accepted = append(accepted, r)
	}
	if len(accepted) == 0 {
		return nil
	}
	l.pendingRecords = append(l.pendingRecords, accepted...)
	l.gen++
	return nil
}

// Materialize commits pending input and returns the current snapshot. Without
// intervening writes it returns the cached snapshot. Only input queued since the
// previous successful call is converted. On failure nothing is committed, the
// pending input is kept and the error wraps ErrConversion.
func (l *Ledger) Materialize() (Snapshot, error) {
	if l.builtGen == l.gen {
		l.stats.CacheHits++
		return l.snap, nil
	}

	start := time.Now()
	batch, err := ConvertAll(l.pending, l.convertOptions())
	if err == nil {
		batch = append(batch, l.pendingRecords...)
		err = l.table.checkIDs(batch)
	}
	if err != nil {
		l.stats.Failures++
		cerr := &ConversionError{Generation: l.gen, Err: err}
		l.log.Error().Err(err).Uint64("generation", l.gen).Int("pending_series", len(l.pending)).Msg("materialize failed")
		l.observe(MaterializeEvent{Generation: l.gen, SeriesConverted: len(l.pending), TotalRows: l.table.Len(), Duration: time.Since(start), Err: cerr})
		return Snapshot{}, cerr
	}

	l.table.append(batch)
	series := len(l.pending)
	l.committedSer += series
	l.pending = nil
	l.pendingRecords = nil
	l.pendingRows = 0
	l.builtGen = l.gen
	l.snap = l.table.snapshot(l.gen)

	l.stats.Materializations++
	l.stats.SeriesConverted += series
	l.stats.RowsConverted += len(batch)
	l.stats.LastSeriesConverted = series
	l.stats.LastRowsConverted = len(batch)

	ev := MaterializeEvent{
		Generation:      l.gen,
		SeriesConverted: series,
		RowsAppended:    len(batch),
		TotalRows:       l.table.Len(),
		Duration:        time.Since(start),
	}
	l.log.Debug().
		Uint64("generation", ev.Generation).
		Int("series", ev.SeriesConverted).
		Int("rows_appended", ev.RowsAppended).
		Int("total_rows", ev.TotalRows).
		Dur("duration", ev.Duration).
		Msg("materialized")
	l.observe(ev)
	return l.snap, nil
}

// LedgerTable is an alias for Materialize.
func (l *Ledger) LedgerTable() (Snapshot, error) { return l.Materialize() }

func (l *Ledger) observe(ev MaterializeEvent) {
	if l.opts.Observer != nil {
		l.opts.Observer.ObserveMaterialize(ev)
	}
}

// DiscardPending drops input queued since the last successful Materialize,
// e.g. after a failed conversion. Committed rows are kept.
func (l *Ledger) DiscardPending() {
	if l.builtGen == l.gen {
		return
	}
	l.pending = nil
	l.pendingRecords = nil
	l.pendingRows = 0
	l.gen++
	l.builtGen = l.gen
	l.snap = l.table.snapshot(l.gen)
}

// Clear drops every record and all pending input. Snapshots taken before Clear
// remain readable.
func (l *Ledger) Clear() {
	l.reset()
	l.log.Debug().Msg("cleared")
}

// RecordCount returns the number of committed rows.
func (l *Ledger) RecordCount() int { return l.table.Len() }

// SeriesCount returns the number of non-empty series accepted, committed or pending.
func (l *Ledger) SeriesCount() int { return l.committedSer + len(l.pending) }

// PendingSeriesCount returns the number of series awaiting Materialize.
func (l *Ledger) PendingSeriesCount() int { return len(l.pending) }

// EstimateFinalCount is an upper bound on the row count after the next
// Materialize: committed rows plus every pending point and record.
func (l *Ledger) EstimateFinalCount() int {
	return l.table.Len() + l.pendingRows + len(l.pendingRecords)
}

// Generation advances on every write. A snapshot with the same generation is current.
func (l *Ledger) Generation() uint64 { return l.gen }

// Stats returns the cumulative counters.
func (l *Ledger) Stats() Stats { return l.stats }
