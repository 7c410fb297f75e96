package query

import (
	"context"
	"fmt"

	"github.com/dvloznov/proforma/internal/timeline"
)

// Metric is a named query method.
type Metric struct {
	Name        string
	Description string
	Eval        func(q *Queries, ctx context.Context) (timeline.Monthly, error)
}

// Metrics lists every named metric in report order.
var Metrics = []Metric{
	{"pgr", "Potential gross revenue", (*Queries).PotentialGrossRevenue},
	{"vacancy_loss", "Vacancy, credit loss and abatement", (*Queries).VacancyLoss},
	{"egi", "Effective gross income", (*Queries).EffectiveGrossIncome},
	{"total_revenue", "Total operating revenue", (*Queries).TotalRevenue},
	{"opex", "Operating expenses", (*Queries).OperatingExpenses},
	{"noi", "Net operating income", (*Queries).NOI},
	{"capex", "Capital expenditure", (*Queries).Capex},
	{"ti", "Tenant improvements", (*Queries).TenantImprovements},
	{"lc", "Leasing commissions", (*Queries).LeasingCommissions},
	{"ocf", "Operational cash flow", (*Queries).OperationalCashFlow},
	{"capital_uses", "Capital uses", (*Queries).CapitalUses},
	{"capital_sources", "Capital sources", (*Queries).CapitalSources},
	{"pcf", "Project cash flow", (*Queries).ProjectCashFlow},
	{"debt_service", "Debt service", (*Queries).DebtService},
	{"lcf", "Levered cash flow", (*Queries).LeveredCashFlow},
	{"equity_partner_flows", "Equity partner flows", (*Queries).EquityPartnerFlows},
	{"debt_balance", "Debt balance", (*Queries).DebtBalance},
	{"valuation", "Valuation", (*Queries).Valuation},
}

// LookupMetric finds a metric by name.
func LookupMetric(name string) (Metric, error) {
	for _, m := range Metrics {
		if m.Name == name {
			return m, nil
		}
	}
	return Metric{}, fmt.Errorf("LookupMetric: unknown metric %q", name)
}

// Metric evaluates a named metric.
func (q *Queries) Metric(ctx context.Context, name string) (timeline.Monthly, error) {
	m, err := LookupMetric(name)
	if err != nil {
		return nil, err
	}
	return m.Eval(q, ctx)
}
