package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/query"
	"github.com/dvloznov/proforma/internal/timeline"
)

// MockBackend is a function-field Backend.
type MockBackend struct {
	SumByMonthFunc func(ctx context.Context, snap ledger.Snapshot, agg query.Aggregate) (timeline.Monthly, error)
}

func (m *MockBackend) SumByMonth(ctx context.Context, snap ledger.Snapshot, agg query.Aggregate) (timeline.Monthly, error) {
	if m.SumByMonthFunc != nil {
		return m.SumByMonthFunc(ctx, snap, agg)
	}
	return nil, nil
}

var (
	jan = timeline.NewMonth(2024, time.January)
	feb = timeline.NewMonth(2024, time.February)
)

type line struct {
	month  timeline.Month
	amount float64
	meta   ledger.SeriesMetadata
}

func meta(c ledger.Category, s ledger.Subcategory, item string) ledger.SeriesMetadata {
	return ledger.SeriesMetadata{Category: c, Subcategory: s, ItemName: item, AssetID: "asset-1", PassNum: 1}
}

func withEntity(m ledger.SeriesMetadata, et ledger.EntityType) ledger.SeriesMetadata {
	m.EntityType = et
	m.EntityID = "partner-" + et.String()
	return m
}

func fixtureLines() []line {
	return []line{
		{jan, 1000, meta(ledger.CategoryRevenue, ledger.SubLease, "Base Rent")},
		{jan, -100, meta(ledger.CategoryRevenue, ledger.SubVacancyLoss, "General Vacancy")},
		{jan, -200, meta(ledger.CategoryExpense, ledger.SubOpex, "Utilities")},
		{jan, -300, meta(ledger.CategoryExpense, ledger.SubCapex, "Roof Replacement")},
		{jan, -500, meta(ledger.CategoryExpense, ledger.SubCapex, "Tenant Improvement - Suite 100")},
		{jan, -150, meta(ledger.CategoryCapital, ledger.SubLeasingCommission, "Broker")},
		{jan, -50, meta(ledger.CategoryCapital, ledger.SubHardCosts, "Lobby")},
		{jan, -10000, meta(ledger.CategoryCapital, ledger.SubPurchase, "Acquisition")},
		{jan, 7000, meta(ledger.CategoryFinancing, ledger.SubLoanProceeds, "Senior Loan")},
		{jan, 3000, withEntity(meta(ledger.CategoryFinancing, ledger.SubEquityContribution, "LP Equity"), ledger.EntityLP)},
		{jan, -40, meta(ledger.CategoryFinancing, ledger.SubInterestPayment, "Interest")},
		{jan, -60, meta(ledger.CategoryFinancing, ledger.SubPrincipalPayment, "Amortization")},
		{feb, 1000, meta(ledger.CategoryRevenue, ledger.SubLease, "Base Rent")},
		{feb, 12000, withEntity(meta(ledger.CategoryCapital, ledger.SubSaleProceeds, "Sale"), ledger.EntityLP)},
		{feb, -6940, meta(ledger.CategoryFinancing, ledger.SubRefinancingPayoff, "Loan Payoff")},
		{feb, -4000, withEntity(meta(ledger.CategoryFinancing, ledger.SubEquityDistribution, "LP Distribution"), ledger.EntityLP)},
		{feb, 15000, meta(ledger.CategoryValuation, ledger.SubAppraisal, "Appraisal")},
	}
}

func buildSnapshot(t *testing.T, threshold int, lines []line) ledger.Snapshot {
	t.Helper()
	opts := ledger.DefaultOptions()
	opts.OptimizeThreshold = threshold
	l := ledger.New(opts)
	for _, ln := range lines {
		if err := l.AddSeries(timeline.MonthSeries(ln.month, ln.amount), ln.meta); err != nil {
			t.Fatalf("AddSeries(%s): %v", ln.meta.ItemName, err)
		}
	}
	snap, err := l.Materialize()
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	return snap
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	q := query.New(query.NewMemoryBackend(), buildSnapshot(t, 0, fixtureLines()))

	tests := []struct {
		metric   string
		jan, feb string
	}{
		{"pgr", "1000", "1000"},
		{"vacancy_loss", "-100", "0"},
		{"egi", "900", "1000"},
		{"noi", "700", "1000"},
		{"opex", "200", "0"},
		{"capex", "350", "0"},
		{"ti", "500", "0"},
		{"lc", "150", "0"},
		{"ocf", "-300", "1000"},
		{"pcf", "-10300", "13000"},
		{"debt_service", "100", "0"},
		{"lcf", "-3400", "6060"},
		{"equity_partner_flows", "3000", "-4000"},
		{"debt_balance", "6940", "0"},
		{"capital_uses", "11000", "0"},
		{"capital_sources", "10000", "12000"},
		{"valuation", "0", "15000"},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			got, err := q.Metric(ctx, tt.metric)
			if err != nil {
				t.Fatalf("Metric(%s): %v", tt.metric, err)
			}
			if v := got.At(jan); !v.Equal(d(tt.jan)) {
				t.Errorf("%s jan = %s, want %s", tt.metric, v, tt.jan)
			}
			if v := got.At(feb); !v.Equal(d(tt.feb)) {
				t.Errorf("%s feb = %s, want %s", tt.metric, v, tt.feb)
			}
		})
	}
}

func TestOperationalCashFlowFormula(t *testing.T) {
	ctx := context.Background()
	q := query.New(query.NewMemoryBackend(), buildSnapshot(t, 0, fixtureLines()))

	noi, _ := q.NOI(ctx)
	capex, _ := q.Capex(ctx)
	ti, _ := q.TenantImprovements(ctx)
	lc, _ := q.LeasingCommissions(ctx)
	ocf, err := q.OperationalCashFlow(ctx)
	if err != nil {
		t.Fatalf("OperationalCashFlow: %v", err)
	}
	want := timeline.Sub(timeline.Sub(timeline.Sub(noi, capex), ti), lc)
	if !ocf.Equal(want) {
		t.Errorf("ocf = %v, want %v", ocf, want)
	}
}

func TestCapexPartition(t *testing.T) {
	snap := buildSnapshot(t, 0, fixtureLines())
	capex, err := query.Matching(snap, query.CapexFilter())
	if err != nil {
		t.Fatalf("Matching: %v", err)
	}
	ti, _ := query.Matching(snap, query.TenantImprovementFilter())
	lc, _ := query.Matching(snap, query.LeasingCommissionFilter())
	universe, _ := query.Matching(snap, query.CapitalUniverse())

	seen := map[string]int{}
	for _, set := range [][]int{capex, ti, lc} {
		for _, i := range set {
			seen[snap.TransactionID(i)]++
		}
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("row %s counted %d times", id, n)
		}
	}
	if len(seen) != len(universe) {
		t.Errorf("capex+ti+lc cover %d rows, universe has %d", len(seen), len(universe))
	}
	for _, i := range universe {
		if seen[snap.TransactionID(i)] != 1 {
			t.Errorf("universe row %s (%s) not in exactly one of capex/ti/lc", snap.TransactionID(i), snap.ItemName(i))
		}
	}
	if len(universe) != 4 {
		t.Errorf("universe = %d rows, want 4", len(universe))
	}
}

func TestScenarioB_TIExcludedFromCapex(t *testing.T) {
	june := timeline.NewMonth(2024, time.June)
	snap := buildSnapshot(t, 0, []line{
		{june, -5000, meta(ledger.CategoryExpense, ledger.SubCapex, "Tenant Improvement - Suite 100")},
	})
	q := query.New(query.NewMemoryBackend(), snap)
	ctx := context.Background()

	ti, err := q.TenantImprovements(ctx)
	if err != nil {
		t.Fatalf("TenantImprovements: %v", err)
	}
	if !ti.At(june).Equal(d("5000")) {
		t.Errorf("ti = %v", ti)
	}
	capex, err := q.Capex(ctx)
	if err != nil {
		t.Fatalf("Capex: %v", err)
	}
	if !capex.IsEmpty() {
		t.Errorf("capex = %v, want empty", capex)
	}
}

func TestOpexNamedLikeLeasingCommissionStaysInNOI(t *testing.T) {
	snap := buildSnapshot(t, 0, []line{
		{jan, 1000, meta(ledger.CategoryRevenue, ledger.SubLease, "Base Rent")},
		{jan, -100, meta(ledger.CategoryExpense, ledger.SubOpex, "LC fee reimbursement")},
	})
	q := query.New(query.NewMemoryBackend(), snap)
	ctx := context.Background()

	tests := []struct {
		metric string
		want   string
	}{
		{"noi", "900"},
		{"opex", "100"},
		{"lc", "0"},
		{"ocf", "900"},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			got, err := q.Metric(ctx, tt.metric)
			if err != nil {
				t.Fatalf("Metric(%s): %v", tt.metric, err)
			}
			if v := got.At(jan); !v.Equal(d(tt.want)) {
				t.Errorf("%s = %s, want %s", tt.metric, v, tt.want)
			}
		})
	}
}

func TestAddRecordsCapexCountedOnce(t *testing.T) {
	amount := d("-300")
	roof := ledger.TransactionRecord{
		TransactionID: "roof-1",
		Date:          jan.FirstDay(),
		Amount:        amount,
		FlowPurpose:   ledger.DeterminePurpose(ledger.CategoryExpense, amount),
		Category:      ledger.CategoryExpense,
		Subcategory:   ledger.SubCapex,
		ItemName:      "Roof",
		AssetID:       "asset-1",
		PassNum:       1,
	}
	l := ledger.New(ledger.DefaultOptions())
	if err := l.AddRecords([]ledger.TransactionRecord{roof}, false); err != nil {
		t.Fatalf("AddRecords: %v", err)
	}
	snap, err := l.Materialize()
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if got := snap.Purpose(0); got != ledger.PurposeCapitalUse {
		t.Fatalf("purpose = %v, want CapitalUse", got)
	}

	q := query.New(query.NewMemoryBackend(), snap)
	ctx := context.Background()
	noi, _ := q.NOI(ctx)
	capex, _ := q.Capex(ctx)
	ocf, err := q.OperationalCashFlow(ctx)
	if err != nil {
		t.Fatalf("OperationalCashFlow: %v", err)
	}
	if !noi.At(jan).IsZero() {
		t.Errorf("noi = %s, want 0", noi.At(jan))
	}
	if !capex.At(jan).Equal(d("300")) {
		t.Errorf("capex = %s, want 300", capex.At(jan))
	}
	if !ocf.At(jan).Equal(d("-300")) {
		t.Errorf("ocf = %s, want -300", ocf.At(jan))
	}
}

func TestScenarioD_ProjectCashFlowExcludesLoanProceeds(t *testing.T) {
	dec := timeline.NewMonth(2028, time.December)
	snap := buildSnapshot(t, 0, []line{
		{dec, 1_000_000, meta(ledger.CategoryFinancing, ledger.SubLoanProceeds, "Refi Loan")},
		{dec, 5_000_000, meta(ledger.CategoryCapital, ledger.SubSaleProceeds, "Disposition Proceeds")},
	})
	for i := 0; i < snap.Len(); i++ {
		if snap.Purpose(i) != ledger.PurposeCapitalSource {
			t.Fatalf("row %s purpose = %v, want CapitalSource", snap.ItemName(i), snap.Purpose(i))
		}
	}

	pcf, err := query.New(query.NewMemoryBackend(), snap).ProjectCashFlow(context.Background())
	if err != nil {
		t.Fatalf("ProjectCashFlow: %v", err)
	}
	if got := pcf.At(dec); !got.Equal(d("5000000")) {
		t.Errorf("pcf = %s, want 5000000", got)
	}
}

func TestEmptyVersusFailed(t *testing.T) {
	ctx := context.Background()

	empty, err := query.New(query.NewMemoryBackend(), ledger.Snapshot{}).NOI(ctx)
	if err != nil || empty != nil {
		t.Fatalf("empty snapshot: %v, %v", empty, err)
	}

	cause := errors.New("connection refused")
	mock := &MockBackend{SumByMonthFunc: func(context.Context, ledger.Snapshot, query.Aggregate) (timeline.Monthly, error) {
		return nil, cause
	}}
	_, err = query.New(mock, ledger.Snapshot{}).ProjectCashFlow(ctx)
	if !errors.Is(err, query.ErrQueryFailed) || !errors.Is(err, cause) {
		t.Fatalf("error = %v, want ErrQueryFailed wrapping cause", err)
	}
}

func TestScopes(t *testing.T) {
	lines := fixtureLines()
	other := meta(ledger.CategoryRevenue, ledger.SubLease, "Base Rent")
	other.AssetID = "asset-2"
	other.DealID = "deal-9"
	other.PassNum = 3
	lines = append(lines, line{jan, 400, other})

	ctx := context.Background()
	q := query.New(query.NewMemoryBackend(), buildSnapshot(t, 0, lines))

	all, _ := q.NOI(ctx)
	one, _ := q.ForAsset("asset-1").NOI(ctx)
	two, _ := q.ForAsset("asset-2").NOI(ctx)
	deal, _ := q.ForDeal("deal-9").NOI(ctx)
	early, _ := q.ForPass(2).NOI(ctx)

	if !all.At(jan).Equal(d("1100")) || !one.At(jan).Equal(d("700")) || !two.At(jan).Equal(d("400")) {
		t.Errorf("noi all=%s asset-1=%s asset-2=%s", all.At(jan), one.At(jan), two.At(jan))
	}
	if !deal.At(jan).Equal(d("400")) || !early.At(jan).Equal(d("700")) {
		t.Errorf("deal=%s pass<=2=%s", deal.At(jan), early.At(jan))
	}
	if nothing, _ := q.ForAsset("asset-1").ForAsset("asset-2").NOI(ctx); nothing != nil {
		t.Errorf("conflicting scopes = %v, want empty", nothing)
	}
}

func TestOptimizedSnapshotGivesSameResults(t *testing.T) {
	ctx := context.Background()
	plain := query.New(query.NewMemoryBackend(), buildSnapshot(t, 0, fixtureLines()))
	indexed := query.New(query.NewMemoryBackend(), buildSnapshot(t, 1, fixtureLines()))

	for _, m := range query.Metrics {
		a, err := m.Eval(plain, ctx)
		if err != nil {
			t.Fatalf("%s: %v", m.Name, err)
		}
		b, err := m.Eval(indexed, ctx)
		if err != nil {
			t.Fatalf("%s indexed: %v", m.Name, err)
		}
		if !a.Equal(b) {
			t.Errorf("%s differs: %v vs %v", m.Name, a, b)
		}
	}
}

func TestCompileRejectsWrongValueType(t *testing.T) {
	if _, err := query.Compile(query.Eq(query.ColPurpose, "Operating")); err == nil {
		t.Error("expected type error for string purpose")
	}
	if _, err := query.LookupMetric("irr"); err == nil {
		t.Error("expected unknown metric error")
	}
}
