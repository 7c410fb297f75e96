// Package query derives named monthly financial series from a ledger snapshot.
//
// Every metric returns (timeline.Monthly, error). No matching rows is a nil
// series with a nil error; a backend failure is an error wrapping
// ErrQueryFailed. Cost metrics (operating expenses, capex, TI, LC, debt service,
// capital uses) are positive magnitudes; every other metric keeps the ledger sign.
package query

import (
	"context"

	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/timeline"
)

var (
	potentialGrossSubcategories = []ledger.Subcategory{ledger.SubLease, ledger.SubMisc, ledger.SubRecovery}
	lossSubcategories           = []ledger.Subcategory{ledger.SubVacancyLoss, ledger.SubCreditLoss, ledger.SubAbatement}
	// acquisition and disposition rows are not capital expenditure
	transactionSubcategories = []ledger.Subcategory{ledger.SubPurchase, ledger.SubClosingCosts, ledger.SubTransactionCosts, ledger.SubSaleProceeds}
	debtServiceSubcategories = []ledger.Subcategory{ledger.SubInterestPayment, ledger.SubPrincipalPayment}
	// funding inflows that are not project cash
	fundingSubcategories     = []ledger.Subcategory{ledger.SubLoanProceeds, ledger.SubEquityContribution, ledger.SubRefinancingProceeds}
	debtIncreaseSubcategories = []ledger.Subcategory{ledger.SubLoanProceeds, ledger.SubRefinancingProceeds}
	debtDecreaseSubcategories = []ledger.Subcategory{ledger.SubPrincipalPayment, ledger.SubPrepayment, ledger.SubRefinancingPayoff}
	debtFlowSubcategories     = []ledger.Subcategory{
		ledger.SubLoanProceeds, ledger.SubRefinancingProceeds, ledger.SubInterestPayment,
		ledger.SubPrincipalPayment, ledger.SubPrepayment, ledger.SubRefinancingPayoff, ledger.SubOriginationFee,
	}
	equitySubcategories = []ledger.Subcategory{
		ledger.SubEquityContribution, ledger.SubEquityDistribution,
		ledger.SubPreferredReturn, ledger.SubPromoteDistribution,
	}
)

// CapitalUniverse matches Capital rows and Expense/Capex rows, less acquisition
// and disposition. Capex, TI and LC partition it.
func CapitalUniverse() Expr {
	return And(
		Or(
			Eq(ColCategory, ledger.CategoryCapital),
			And(Eq(ColCategory, ledger.CategoryExpense), Eq(ColSubcategory, ledger.SubCapex)),
		),
		Not(In(ColSubcategory, transactionSubcategories...)),
	)
}

// CapexFilter matches universe rows that are neither TI nor LC.
func CapexFilter() Expr {
	return And(CapitalUniverse(), Not(In(ColItemTag, ledger.TagTenantImprovement, ledger.TagLeasingCommission)))
}

// TenantImprovementFilter matches universe rows tagged TI.
func TenantImprovementFilter() Expr {
	return And(CapitalUniverse(), Eq(ColItemTag, ledger.TagTenantImprovement))
}

// LeasingCommissionFilter matches universe rows tagged LC.
func LeasingCommissionFilter() Expr {
	return And(CapitalUniverse(), Eq(ColItemTag, ledger.TagLeasingCommission))
}

// ProjectCapitalFilter matches capital flows charged to project cash flow on top
// of operational cash flow: capital uses and sources outside the capital
// universe, less funding inflows.
func ProjectCapitalFilter() Expr {
	outside := Not(CapitalUniverse())
	return Or(
		And(Eq(ColPurpose, ledger.PurposeCapitalUse), outside),
		And(Eq(ColPurpose, ledger.PurposeCapitalSource), outside, Not(In(ColSubcategory, fundingSubcategories...))),
	)
}

// EquityPartnerFilter matches equity financing rows and GP/LP capital sources
// other than disposition proceeds. A row matching both counts once.
func EquityPartnerFilter() Expr {
	return Or(
		And(Eq(ColCategory, ledger.CategoryFinancing), In(ColSubcategory, equitySubcategories...)),
		And(
			In(ColEntityType, ledger.EntityGP, ledger.EntityLP),
			Eq(ColPurpose, ledger.PurposeCapitalSource),
			Not(Eq(ColItemTag, ledger.TagDispositionProceeds)),
		),
	)
}

// Queries evaluates metrics over one snapshot. It is a value; scoping methods
// return narrowed copies.
type Queries struct {
	backend Backend
	snap    ledger.Snapshot
	scope   []Expr
}

// New returns queries over snap.
func New(b Backend, snap ledger.Snapshot) *Queries {
	return &Queries{backend: b, snap: snap}
}

// Snapshot returns the snapshot the queries read.
func (q *Queries) Snapshot() ledger.Snapshot { return q.snap }

func (q *Queries) with(e Expr) *Queries {
	scope := make([]Expr, len(q.scope), len(q.scope)+1)
	copy(scope, q.scope)
	return &Queries{backend: q.backend, snap: q.snap, scope: append(scope, e)}
}

// ForAsset restricts every metric to one asset.
func (q *Queries) ForAsset(assetID string) *Queries { return q.with(Eq(ColAssetID, assetID)) }

// ForDeal restricts every metric to one deal.
func (q *Queries) ForDeal(dealID string) *Queries { return q.with(Eq(ColDealID, dealID)) }

// ForPass restricts every metric to rows from passes 1..maxPass.
func (q *Queries) ForPass(maxPass int) *Queries { return q.with(PassAtMost(maxPass)) }

// Where restricts every metric by an arbitrary filter.
func (q *Queries) Where(e Expr) *Queries { return q.with(e) }

// Sum runs a scoped aggregate.
func (q *Queries) Sum(ctx context.Context, metric string, agg Aggregate) (timeline.Monthly, error) {
	agg.Where = And(append(append([]Expr{}, q.scope...), agg.Where)...)
	out, err := q.backend.SumByMonth(ctx, q.snap, agg)
	if err != nil {
		return nil, wrapFailure(metric, err)
	}
	if out.IsEmpty() {
		return nil, nil
	}
	return out, nil
}

func (q *Queries) signed(ctx context.Context, metric string, where Expr) (timeline.Monthly, error) {
	return q.Sum(ctx, metric, Aggregate{Where: where})
}

// cost reports −Σ amount so outflows read positive.
func (q *Queries) cost(ctx context.Context, metric string, where Expr) (timeline.Monthly, error) {
	out, err := q.signed(ctx, metric, where)
	return out.Neg(), err
}

// PotentialGrossRevenue sums operating Lease, Misc and Recovery revenue.
func (q *Queries) PotentialGrossRevenue(ctx context.Context) (timeline.Monthly, error) {
	return q.signed(ctx, "pgr", And(
		Eq(ColPurpose, ledger.PurposeOperating),
		Eq(ColCategory, ledger.CategoryRevenue),
		In(ColSubcategory, potentialGrossSubcategories...),
	))
}

// TotalRevenue sums every operating revenue row, losses included.
func (q *Queries) TotalRevenue(ctx context.Context) (timeline.Monthly, error) {
	return q.signed(ctx, "total_revenue", And(
		Eq(ColPurpose, ledger.PurposeOperating),
		Eq(ColCategory, ledger.CategoryRevenue),
	))
}

// VacancyLoss sums vacancy, credit loss and abatement rows (normally negative).
func (q *Queries) VacancyLoss(ctx context.Context) (timeline.Monthly, error) {
	return q.signed(ctx, "vacancy_loss", And(
		Eq(ColCategory, ledger.CategoryRevenue),
		In(ColSubcategory, lossSubcategories...),
	))
}

// EffectiveGrossIncome is PGR plus vacancy, credit loss and abatement.
func (q *Queries) EffectiveGrossIncome(ctx context.Context) (timeline.Monthly, error) {
	pgr, err := q.PotentialGrossRevenue(ctx)
	if err != nil {
		return nil, err
	}
	loss, err := q.VacancyLoss(ctx)
	if err != nil {
		return nil, err
	}
	return timeline.Add(pgr, loss), nil
}

// NOI sums every operating row.
func (q *Queries) NOI(ctx context.Context) (timeline.Monthly, error) {
	return q.signed(ctx, "noi", Eq(ColPurpose, ledger.PurposeOperating))
}

// OperatingExpenses is the magnitude of Expense/Opex rows, valuation excluded.
func (q *Queries) OperatingExpenses(ctx context.Context) (timeline.Monthly, error) {
	return q.cost(ctx, "opex", And(
		Eq(ColCategory, ledger.CategoryExpense),
		Eq(ColSubcategory, ledger.SubOpex),
		Not(Eq(ColPurpose, ledger.PurposeValuation)),
	))
}

// Capex is the magnitude of capital expenditure other than TI and LC.
func (q *Queries) Capex(ctx context.Context) (timeline.Monthly, error) {
	return q.cost(ctx, "capex", CapexFilter())
}

// TenantImprovements is the magnitude of TI spend.
func (q *Queries) TenantImprovements(ctx context.Context) (timeline.Monthly, error) {
	return q.cost(ctx, "ti", TenantImprovementFilter())
}

// LeasingCommissions is the magnitude of LC spend.
func (q *Queries) LeasingCommissions(ctx context.Context) (timeline.Monthly, error) {
	return q.cost(ctx, "lc", LeasingCommissionFilter())
}

// DebtService is the magnitude of interest and principal payments.
func (q *Queries) DebtService(ctx context.Context) (timeline.Monthly, error) {
	return q.cost(ctx, "debt_service", And(
		Eq(ColCategory, ledger.CategoryFinancing),
		In(ColSubcategory, debtServiceSubcategories...),
	))
}

// OperationalCashFlow is NOI − Capex − TI − LC over the union of months.
func (q *Queries) OperationalCashFlow(ctx context.Context) (timeline.Monthly, error) {
	noi, err := q.NOI(ctx)
	if err != nil {
		return nil, err
	}
	capex, err := q.Capex(ctx)
	if err != nil {
		return nil, err
	}
	ti, err := q.TenantImprovements(ctx)
	if err != nil {
		return nil, err
	}
	lc, err := q.LeasingCommissions(ctx)
	if err != nil {
		return nil, err
	}
	return timeline.Sub(timeline.Sub(timeline.Sub(noi, capex), ti), lc), nil
}

// ProjectCashFlow is operational cash flow plus capital flows outside the capex
// universe, excluding loan, refinancing and equity funding.
func (q *Queries) ProjectCashFlow(ctx context.Context) (timeline.Monthly, error) {
	ocf, err := q.OperationalCashFlow(ctx)
	if err != nil {
		return nil, err
	}
	capital, err := q.signed(ctx, "project_capital", ProjectCapitalFilter())
	if err != nil {
		return nil, err
	}
	return timeline.Add(ocf, capital), nil
}

// LeveredCashFlow is project cash flow plus debt flows: proceeds, debt service,
// prepayments, payoffs and fees.
func (q *Queries) LeveredCashFlow(ctx context.Context) (timeline.Monthly, error) {
	pcf, err := q.ProjectCashFlow(ctx)
	if err != nil {
		return nil, err
	}
	debt, err := q.signed(ctx, "debt_flows", And(
		Eq(ColCategory, ledger.CategoryFinancing),
		In(ColSubcategory, debtFlowSubcategories...),
	))
	if err != nil {
		return nil, err
	}
	return timeline.Add(pcf, debt), nil
}

// EquityPartnerFlows sums flows between the deal and its equity partners.
func (q *Queries) EquityPartnerFlows(ctx context.Context) (timeline.Monthly, error) {
	return q.signed(ctx, "equity_partner_flows", EquityPartnerFilter())
}

// DebtBalance is the running outstanding principal: loan and refinancing
// proceeds less principal, prepayments and payoffs, by magnitude.
func (q *Queries) DebtBalance(ctx context.Context) (timeline.Monthly, error) {
	financing := Eq(ColCategory, ledger.CategoryFinancing)
	up, err := q.Sum(ctx, "debt_balance", Aggregate{
		Where: And(financing, In(ColSubcategory, debtIncreaseSubcategories...)),
		Abs:   true,
	})
	if err != nil {
		return nil, err
	}
	down, err := q.Sum(ctx, "debt_balance", Aggregate{
		Where: And(financing, In(ColSubcategory, debtDecreaseSubcategories...)),
		Abs:   true,
	})
	if err != nil {
		return nil, err
	}
	return timeline.Sub(up, down).Dense().CumSum(), nil
}

// CapitalUses is the magnitude of CapitalUse rows.
func (q *Queries) CapitalUses(ctx context.Context) (timeline.Monthly, error) {
	return q.cost(ctx, "capital_uses", Eq(ColPurpose, ledger.PurposeCapitalUse))
}

// CapitalSources sums CapitalSource rows.
func (q *Queries) CapitalSources(ctx context.Context) (timeline.Monthly, error) {
	return q.signed(ctx, "capital_sources", Eq(ColPurpose, ledger.PurposeCapitalSource))
}

// Valuation sums valuation rows.
func (q *Queries) Valuation(ctx context.Context) (timeline.Monthly, error) {
	return q.signed(ctx, "valuation", Eq(ColPurpose, ledger.PurposeValuation))
}
