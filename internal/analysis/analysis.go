// Package analysis runs cash-flow producers against one ledger in dependency
// passes. Producers of pass 1 are independent; a producer of pass n may read
// aggregates of passes below n, which are materialized before it runs.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/logger"
	"github.com/dvloznov/proforma/internal/query"
	"github.com/dvloznov/proforma/internal/timeline"
)

// ErrInvalidAnalysis is wrapped by every validation failure of an Analysis.
var ErrInvalidAnalysis = errors.New("invalid analysis")

// Producer emits one or more series into the ledger during its pass.
type Producer interface {
	Name() string
	Pass() int
	Produce(ctx context.Context, c *Context) error
}

// Analysis is one run request: a timeline and the producers sharing a ledger.
type Analysis struct {
	ID        string // generated when empty
	Name      string
	AssetID   string
	DealID    string
	Timeline  timeline.Timeline
	Producers []Producer
}

func (a Analysis) validate() error {
	if a.Timeline.Start.IsZero() || a.Timeline.Months <= 0 {
		return fmt.Errorf("%w: timeline needs a start month and a positive length", ErrInvalidAnalysis)
	}
	if len(a.Producers) == 0 {
		return fmt.Errorf("%w: no producers", ErrInvalidAnalysis)
	}
	seen := make(map[string]bool, len(a.Producers))
	for i, p := range a.Producers {
		if p == nil {
			return fmt.Errorf("%w: producer %d is nil", ErrInvalidAnalysis, i)
		}
		if p.Name() == "" {
			return fmt.Errorf("%w: producer %d has no name", ErrInvalidAnalysis, i)
		}
		if seen[p.Name()] {
			return fmt.Errorf("%w: duplicate producer name %q", ErrInvalidAnalysis, p.Name())
		}
		seen[p.Name()] = true
		if p.Pass() < ledger.MinPass || p.Pass() > ledger.MaxPass {
			return fmt.Errorf("%w: producer %q has pass %d, want %d..%d",
				ErrInvalidAnalysis, p.Name(), p.Pass(), ledger.MinPass, ledger.MaxPass)
		}
	}
	return nil
}

// PassStats summarises one executed pass.
type PassStats struct {
	Pass      int           `json:"pass"`
	Producers int           `json:"producers"`
	Rows      int           `json:"rows"` // rows committed by this pass
	Duration  time.Duration `json:"duration"`
}

// Result is a finished run.
type Result struct {
	RunID    string
	Name     string
	AssetID  string
	DealID   string
	Timeline timeline.Timeline
	Snapshot ledger.Snapshot
	Queries  *query.Queries
	Passes   []PassStats
	Stats    ledger.Stats
	Duration time.Duration
}

// Options configure a Runner.
type Options struct {
	Ledger  ledger.Options
	Backend query.Backend // defaults to the in-memory backend
	Logger  zerolog.Logger
}

// DefaultOptions returns ledger defaults, the memory backend and a disabled logger.
func DefaultOptions() Options {
	return Options{
		Ledger:  ledger.DefaultOptions(),
		Backend: query.NewMemoryBackend(),
		Logger:  zerolog.Nop(),
	}
}

// Runner executes analyses. A Runner is safe for concurrent use as long as its
// Backend is; every Run gets its own ledger.
type Runner struct {
	opts Options
	log  zerolog.Logger
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	if opts.Backend == nil {
		opts.Backend = query.NewMemoryBackend()
	}
	return &Runner{opts: opts, log: logger.Component(opts.Logger, "analysis")}
}

// Run executes every producer, pass by pass, materializing after each pass.
// The first producer error aborts the run.
func (r *Runner) Run(ctx context.Context, a Analysis) (*Result, error) {
	if err := a.validate(); err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	start := time.Now()
	log := r.log.With().Str("run_id", a.ID).Str("analysis", a.Name).Logger()

	lopts := r.opts.Ledger
	lopts.Logger = log
	l := ledger.New(lopts)

	byPass := make(map[int][]Producer)
	for _, p := range a.Producers {
		byPass[p.Pass()] = append(byPass[p.Pass()], p)
	}
	passes := make([]int, 0, len(byPass))
	for p := range byPass {
		passes = append(passes, p)
	}
	sort.Ints(passes)

	res := &Result{RunID: a.ID, Name: a.Name, AssetID: a.AssetID, DealID: a.DealID, Timeline: a.Timeline}
	for _, pass := range passes {
		passStart := time.Now()
		before := l.RecordCount()
		c := &Context{
			Timeline: a.Timeline,
			AssetID:  a.AssetID,
			DealID:   a.DealID,
			Pass:     pass,
			ledger:   l,
			backend:  r.opts.Backend,
		}
		for _, p := range byPass[pass] {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("Run: %w", err)
			}
			c.producer = p.Name()
			if err := p.Produce(ctx, c); err != nil {
				log.Error().Err(err).Str("producer", p.Name()).Int("pass", pass).Msg("producer failed")
				return nil, fmt.Errorf("Run: producer %q (pass %d): %w", p.Name(), pass, err)
			}
		}
		if _, err := l.Materialize(); err != nil {
			return nil, fmt.Errorf("Run: pass %d: %w", pass, err)
		}
		ps := PassStats{Pass: pass, Producers: len(byPass[pass]), Rows: l.RecordCount() - before, Duration: time.Since(passStart)}
		res.Passes = append(res.Passes, ps)
		log.Debug().Int("pass", pass).Int("producers", ps.Producers).Int("rows", ps.Rows).Msg("pass complete")
	}

	snap, err := l.Materialize()
	if err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	res.Snapshot = snap
	res.Queries = query.New(r.opts.Backend, snap)
	res.Stats = l.Stats()
	res.Duration = time.Since(start)

	log.Info().
		Int("rows", snap.Len()).
		Int("passes", len(res.Passes)).
		Dur("duration", res.Duration).
		Msg("analysis complete")
	return res, nil
}

// Context is handed to producers. It is valid only during Produce.
type Context struct {
	Timeline timeline.Timeline
	AssetID  string
	DealID   string
	Pass     int

	producer string
	ledger   *ledger.Ledger
	backend  query.Backend
}

// Months returns a month series over the whole timeline built from values.
// Extra values are an error; missing trailing values are zero.
func (c *Context) Months(values []float64) (timeline.Series, error) {
	if len(values) > c.Timeline.Months {
		return timeline.Series{}, fmt.Errorf("Months: %d values for a %d month timeline", len(values), c.Timeline.Months)
	}
	full := make([]float64, c.Timeline.Months)
	copy(full, values)
	return timeline.MonthSeries(c.Timeline.Start, full...), nil
}

// AddSeries records a series for the running producer. Empty pass, source,
// asset and deal fields are filled from the context; a different pass is rejected.
func (c *Context) AddSeries(s timeline.Series, m ledger.SeriesMetadata) error {
	if m.PassNum == 0 {
		m.PassNum = c.Pass
	}
	if m.PassNum != c.Pass {
		return fmt.Errorf("AddSeries: producer %q runs in pass %d but tagged its series pass %d", c.producer, c.Pass, m.PassNum)
	}
	if m.SourceID == "" {
		m.SourceID = c.producer
	}
	if m.AssetID == "" {
		m.AssetID = c.AssetID
	}
	if m.DealID == "" {
		m.DealID = c.DealID
	}
	return c.ledger.AddSeries(s, m)
}

// Queries returns queries over the rows of all earlier passes. Pass 1
// producers have nothing to read.
func (c *Context) Queries(ctx context.Context) (*query.Queries, error) {
	if c.Pass <= ledger.MinPass {
		return nil, fmt.Errorf("Queries: pass %d producers cannot read the ledger", c.Pass)
	}
	snap, err := c.ledger.Materialize()
	if err != nil {
		return nil, fmt.Errorf("Queries: %w", err)
	}
	return query.New(c.backend, snap).ForPass(c.Pass - 1), nil
}
