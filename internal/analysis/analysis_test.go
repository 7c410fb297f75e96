package analysis_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/proforma/internal/analysis"
	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/timeline"
)

var jan24 = timeline.NewMonth(2024, time.January)

func twoYears(t *testing.T) timeline.Timeline {
	t.Helper()
	tl, err := timeline.NewTimeline(jan24, 24)
	if err != nil {
		t.Fatalf("NewTimeline: %v", err)
	}
	return tl
}

func officeProducers() []analysis.Producer {
	return []analysis.Producer{
		// listed out of pass order on purpose
		&analysis.PercentOfMetric{
			ID: "mgmt-fee", PassNum: 2, Metric: "egi", Percent: -0.05,
			Class: analysis.Classification{Category: ledger.CategoryExpense, Subcategory: ledger.SubOpex, ItemName: "Management Fee"},
		},
		&analysis.GrowthSeries{
			ID: "rent", PassNum: 1, Monthly: 1000, AnnualGrowth: 0.03,
			Class: analysis.Classification{Category: ledger.CategoryRevenue, Subcategory: ledger.SubLease, ItemName: "Base Rent"},
		},
		&analysis.GrowthSeries{
			ID: "vacancy", PassNum: 1, Monthly: -50,
			Class: analysis.Classification{Category: ledger.CategoryRevenue, Subcategory: ledger.SubVacancyLoss, ItemName: "General Vacancy"},
		},
		&analysis.StaticSeries{
			ID: "startup-opex", PassNum: 1, Amounts: []float64{-200, -200, -200},
			Class: analysis.Classification{Category: ledger.CategoryExpense, Subcategory: ledger.SubOpex, ItemName: "Startup Costs"},
		},
	}
}

func TestRunPasses(t *testing.T) {
	runner := analysis.NewRunner(analysis.DefaultOptions())
	res, err := runner.Run(context.Background(), analysis.Analysis{
		Name: "office", AssetID: "bldg-1", Timeline: twoYears(t), Producers: officeProducers(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.RunID == "" {
		t.Error("RunID not generated")
	}
	if len(res.Passes) != 2 || res.Passes[0].Rows != 51 || res.Passes[1].Rows != 24 {
		t.Errorf("Passes = %+v", res.Passes)
	}

	noi, err := res.Queries.NOI(context.Background())
	if err != nil {
		t.Fatalf("NOI: %v", err)
	}
	tests := []struct {
		month timeline.Month
		want  string
	}{
		{jan24, "702.5"},              // 1000 - 50 - 47.5 - 200
		{jan24.AddMonths(3), "902.5"}, // startup costs over
		{jan24.AddMonths(12), "931"},  // 1030 - 50 - 49
	}
	for _, tt := range tests {
		if got := noi.At(tt.month); !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("NOI %s = %s, want %s", tt.month, got, tt.want)
		}
	}

	for i := 0; i < res.Snapshot.Len(); i++ {
		if res.Snapshot.SourceID(i) == "" || res.Snapshot.AssetID(i) != "bldg-1" {
			t.Fatalf("row %d missing context fields: %+v", i, res.Snapshot.Row(i))
		}
	}
}

func TestLaterPassesSeeOnlyLowerPasses(t *testing.T) {
	var seen []string
	recordPass := func(id string) analysis.ProducerFunc {
		return analysis.ProducerFunc{ID: id, PassNum: 2, Fn: func(ctx context.Context, c *analysis.Context) error {
			q, err := c.Queries(ctx)
			if err != nil {
				return err
			}
			total, err := q.TotalRevenue(ctx)
			if err != nil {
				return err
			}
			seen = append(seen, total.Total().String())
			s, err := c.Months([]float64{10})
			if err != nil {
				return err
			}
			return c.AddSeries(s, ledger.SeriesMetadata{Category: ledger.CategoryRevenue, Subcategory: ledger.SubMisc, ItemName: id})
		}}
	}
	producers := []analysis.Producer{
		recordPass("a"), recordPass("b"),
		&analysis.StaticSeries{ID: "rent", PassNum: 1, Amounts: []float64{100},
			Class: analysis.Classification{Category: ledger.CategoryRevenue, Subcategory: ledger.SubLease, ItemName: "Rent"}},
	}
	tl, _ := timeline.NewTimeline(jan24, 2)
	res, err := analysis.NewRunner(analysis.DefaultOptions()).Run(context.Background(), analysis.Analysis{Timeline: tl, Producers: producers})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 2 || seen[0] != "100" || seen[1] != "100" {
		t.Errorf("pass 2 producers saw %v, want [100 100]", seen)
	}
	if res.Snapshot.Len() != 3 {
		t.Errorf("rows = %d, want 3", res.Snapshot.Len())
	}
}

func TestRunValidation(t *testing.T) {
	rent := &analysis.StaticSeries{ID: "rent", PassNum: 1, Amounts: []float64{1},
		Class: analysis.Classification{Category: ledger.CategoryRevenue, Subcategory: ledger.SubLease, ItemName: "Rent"}}
	tests := []struct {
		name string
		a    analysis.Analysis
	}{
		{"no timeline", analysis.Analysis{Producers: []analysis.Producer{rent}}},
		{"no producers", analysis.Analysis{Timeline: twoYears(t)}},
		{"duplicate names", analysis.Analysis{Timeline: twoYears(t), Producers: []analysis.Producer{rent, rent}}},
		{"pass out of range", analysis.Analysis{Timeline: twoYears(t), Producers: []analysis.Producer{
			&analysis.StaticSeries{ID: "late", PassNum: 7, Class: rent.Class},
		}}},
	}
	runner := analysis.NewRunner(analysis.DefaultOptions())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.Run(context.Background(), tt.a)
			if !errors.Is(err, analysis.ErrInvalidAnalysis) {
				t.Errorf("Run error = %v, want ErrInvalidAnalysis", err)
			}
		})
	}
}

func TestRunProducerErrors(t *testing.T) {
	tl, _ := timeline.NewTimeline(jan24, 3)
	runner := analysis.NewRunner(analysis.DefaultOptions())
	rentClass := analysis.Classification{Category: ledger.CategoryRevenue, Subcategory: ledger.SubLease, ItemName: "Rent"}

	tests := []struct {
		name     string
		producer analysis.Producer
		wantMsg  string
	}{
		{"too many amounts", &analysis.StaticSeries{ID: "long", PassNum: 1, Class: rentClass, Amounts: []float64{1, 2, 3, 4}}, "values for a 3 month timeline"},
		{"pass 1 reads ledger", &analysis.PercentOfMetric{ID: "pct", PassNum: 1, Class: rentClass, Metric: "egi", Percent: 1}, "cannot read the ledger"},
		{"unknown metric", &analysis.PercentOfMetric{ID: "pct", PassNum: 2, Class: rentClass, Metric: "irr", Percent: 1}, "unknown metric"},
		{"pass mismatch", analysis.ProducerFunc{ID: "liar", PassNum: 2, Fn: func(_ context.Context, c *analysis.Context) error {
			s, _ := c.Months([]float64{1})
			m := ledger.SeriesMetadata{Category: ledger.CategoryRevenue, Subcategory: ledger.SubLease, ItemName: "Rent", PassNum: 1}
			return c.AddSeries(s, m)
		}}, "tagged its series pass 1"},
		{"schema error", &analysis.StaticSeries{ID: "bad", PassNum: 1, Amounts: []float64{1},
			Class: analysis.Classification{Category: ledger.CategoryRevenue, Subcategory: ledger.SubOpex, ItemName: "Rent"}}, "does not belong"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runner.Run(context.Background(), analysis.Analysis{Timeline: tl, Producers: []analysis.Producer{tt.producer}})
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Run error = %v, want it to contain %q", err, tt.wantMsg)
			}
		})
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := analysis.NewRunner(analysis.DefaultOptions()).Run(ctx, analysis.Analysis{
		Timeline: twoYears(t), Producers: officeProducers(),
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
}

func TestGrowthSeriesWindow(t *testing.T) {
	p := &analysis.GrowthSeries{
		ID: "rent", PassNum: 1, Monthly: 100, AnnualGrowth: 0.5, StartOffset: 10, Months: 5,
		Class: analysis.Classification{Category: ledger.CategoryRevenue, Subcategory: ledger.SubLease, ItemName: "Rent"},
	}
	res, err := analysis.NewRunner(analysis.DefaultOptions()).Run(context.Background(), analysis.Analysis{
		Timeline: twoYears(t), Producers: []analysis.Producer{p},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Snapshot.Len() != 5 {
		t.Fatalf("rows = %d, want 5", res.Snapshot.Len())
	}
	first, last := res.Snapshot.Row(0), res.Snapshot.Row(4)
	if first.Date != jan24.AddMonths(10).FirstDay() || !first.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("first row = %+v", first)
	}
	// growth applies per year of the series, not per calendar year
	if !last.Amount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("last row amount = %s, want 100", last.Amount)
	}
}
