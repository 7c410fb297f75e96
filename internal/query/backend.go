package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/timeline"
)

// ErrQueryFailed marks a metric that could not be computed, as opposed to one
// that matched no rows.
var ErrQueryFailed = errors.New("query failed")

// Aggregate is a filtered monthly sum. With Abs set each amount is summed by
// magnitude.
type Aggregate struct {
	Where Expr
	Abs   bool
}

// Backend is the relational capability queries need: filter, group by month, sum.
// An empty result is a nil Monthly with a nil error.
type Backend interface {
	SumByMonth(ctx context.Context, snap ledger.Snapshot, agg Aggregate) (timeline.Monthly, error)
}

// MemoryBackend scans the snapshot columns in process.
type MemoryBackend struct{}

// NewMemoryBackend returns the in-process backend.
func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

const cancelCheckEvery = 1 << 14

// SumByMonth implements Backend.
func (b *MemoryBackend) SumByMonth(ctx context.Context, snap ledger.Snapshot, agg Aggregate) (timeline.Monthly, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	match, err := Compile(agg.Where)
	if err != nil {
		return nil, err
	}

	totals := make(map[timeline.Month]decimal.Decimal)
	add := func(i int) {
		if !match(snap, i) {
			return
		}
		amt := snap.Amount(i)
		if agg.Abs {
			amt = amt.Abs()
		}
		m := timeline.MonthOf(snap.Date(i))
		totals[m] = totals[m].Add(amt)
	}

	rows, err := candidates(ctx, snap, agg.Where)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		for i := 0; i < snap.Len(); i++ {
			if i%cancelCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			add(i)
		}
	} else {
		for _, i := range rows {
			add(i)
		}
	}
	return timeline.FromMap(totals), nil
}

// candidates narrows the scan using the snapshot's purpose posting lists when
// where pins the purpose. It returns nil when a full scan is needed.
func candidates(ctx context.Context, snap ledger.Snapshot, where Expr) ([]int, error) {
	purposes, ok := purposeHint(where)
	if !ok {
		return nil, nil
	}
	seen := make(map[ledger.FlowPurpose]bool, len(purposes))
	out := []int{}
	for _, p := range purposes {
		if seen[p] {
			continue
		}
		seen[p] = true
		list, indexed := snap.PurposeRows(p)
		if !indexed {
			return nil, nil
		}
		for _, r := range list {
			out = append(out, int(r))
		}
	}
	return out, ctx.Err()
}

// Matching returns the positions of rows matching where, in row order.
func Matching(snap ledger.Snapshot, where Expr) ([]int, error) {
	match, err := Compile(where)
	if err != nil {
		return nil, err
	}
	var out []int
	for i := 0; i < snap.Len(); i++ {
		if match(snap, i) {
			out = append(out, i)
		}
	}
	return out, nil
}

func wrapFailure(metric string, err error) error {
	return fmt.Errorf("%s: %w: %w", metric, ErrQueryFailed, err)
}
