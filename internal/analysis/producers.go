package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/query"
)

// Classification is the part of SeriesMetadata a producer is configured with.
type Classification struct {
	Category    ledger.Category
	Subcategory ledger.Subcategory
	ItemName    string
	FlowPurpose ledger.FlowPurpose // optional override
	EntityID    string
	EntityType  ledger.EntityType
}

func (c Classification) metadata() ledger.SeriesMetadata {
	return ledger.SeriesMetadata{
		Category:    c.Category,
		Subcategory: c.Subcategory,
		ItemName:    c.ItemName,
		FlowPurpose: c.FlowPurpose,
		EntityID:    c.EntityID,
		EntityType:  c.EntityType,
	}
}

// StaticSeries emits fixed monthly amounts starting StartOffset months into
// the timeline. Amounts past the timeline end are an error.
type StaticSeries struct {
	ID          string
	PassNum     int
	Class       Classification
	StartOffset int
	Amounts     []float64
}

func (p *StaticSeries) Name() string { return p.ID }
func (p *StaticSeries) Pass() int    { return p.PassNum }

func (p *StaticSeries) Produce(_ context.Context, c *Context) error {
	if p.StartOffset < 0 {
		return fmt.Errorf("start offset %d is negative", p.StartOffset)
	}
	values := make([]float64, p.StartOffset+len(p.Amounts))
	copy(values[p.StartOffset:], p.Amounts)
	s, err := c.Months(values)
	if err != nil {
		return err
	}
	return c.AddSeries(s, p.Class.metadata())
}

// GrowthSeries emits Monthly every month from StartOffset for Months months
// (to the timeline end when zero), compounding by AnnualGrowth every twelve months.
type GrowthSeries struct {
	ID           string
	PassNum      int
	Class        Classification
	Monthly      float64
	AnnualGrowth float64 // 0.03 = 3% a year
	StartOffset  int
	Months       int
}

func (p *GrowthSeries) Name() string { return p.ID }
func (p *GrowthSeries) Pass() int    { return p.PassNum }

func (p *GrowthSeries) Produce(_ context.Context, c *Context) error {
	if p.StartOffset < 0 || p.StartOffset >= c.Timeline.Months {
		return fmt.Errorf("start offset %d outside a %d month timeline", p.StartOffset, c.Timeline.Months)
	}
	if p.AnnualGrowth <= -1 {
		return fmt.Errorf("annual growth %v would make amounts non-positive", p.AnnualGrowth)
	}
	n := p.Months
	if n == 0 || p.StartOffset+n > c.Timeline.Months {
		n = c.Timeline.Months - p.StartOffset
	}
	values := make([]float64, p.StartOffset+n)
	for i := 0; i < n; i++ {
		year := i / 12
		values[p.StartOffset+i] = p.Monthly * math.Pow(1+p.AnnualGrowth, float64(year))
	}
	s, err := c.Months(values)
	if err != nil {
		return err
	}
	return c.AddSeries(s, p.Class.metadata())
}

// PercentOfMetric emits Percent times a named metric of the lower passes,
// month by month. A negative Percent turns an inflow metric into a cost,
// e.g. a management fee of -3% of EGI.
type PercentOfMetric struct {
	ID      string
	PassNum int
	Class   Classification
	Metric  string
	Percent float64
}

func (p *PercentOfMetric) Name() string { return p.ID }
func (p *PercentOfMetric) Pass() int    { return p.PassNum }

func (p *PercentOfMetric) Produce(ctx context.Context, c *Context) error {
	if _, err := query.LookupMetric(p.Metric); err != nil {
		return err
	}
	q, err := c.Queries(ctx)
	if err != nil {
		return err
	}
	base, err := q.Metric(ctx, p.Metric)
	if err != nil {
		return err
	}
	values := make([]float64, c.Timeline.Months)
	for i := range values {
		v := base.At(c.Timeline.Start.AddMonths(i)).InexactFloat64()
		values[i] = v * p.Percent
	}
	s, err := c.Months(values)
	if err != nil {
		return err
	}
	return c.AddSeries(s, p.Class.metadata())
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc struct {
	ID      string
	PassNum int
	Fn      func(ctx context.Context, c *Context) error
}

func (p ProducerFunc) Name() string                                  { return p.ID }
func (p ProducerFunc) Pass() int                                     { return p.PassNum }
func (p ProducerFunc) Produce(ctx context.Context, c *Context) error { return p.Fn(ctx, c) }
