package ledger

import "github.com/shopspring/decimal"

var (
	// acquisition, purchase, closing and capital expenditure
	capitalUseSubcategories = map[Subcategory]bool{
		SubPurchase:         true,
		SubClosingCosts:     true,
		SubTransactionCosts: true,
		SubHardCosts:        true,
		SubSoftCosts:        true,
		SubCapex:            true,
	}
	// sale, disposition and proceeds
	capitalSourceSubcategories = map[Subcategory]bool{
		SubSaleProceeds:        true,
		SubLoanProceeds:        true,
		SubRefinancingProceeds: true,
		SubEquityContribution:  true,
	}
)

// DeterminePurpose classifies by category and sign alone.
func DeterminePurpose(c Category, amount decimal.Decimal) FlowPurpose {
	switch c {
	case CategoryRevenue, CategoryExpense:
		return PurposeOperating
	case CategoryFinancing:
		return PurposeFinancingService
	case CategoryCapital:
		if amount.IsNegative() {
			return PurposeCapitalUse
		}
		return PurposeCapitalSource
	case CategoryValuation:
		return PurposeValuation
	default:
		return PurposeOperating
	}
}

// DeterminePurposeWithSubcategory refines DeterminePurpose. First match wins:
// TI/LC spend is CapitalUse regardless of sign, then acquisition and capex
// subcategories are CapitalUse, then proceeds are CapitalSource, then the
// category rule applies.
func DeterminePurposeWithSubcategory(c Category, s Subcategory, itemName string, amount decimal.Decimal) FlowPurpose {
	switch tag := TagItem(c, s, itemName); {
	case tag == TagTenantImprovement || tag == TagLeasingCommission:
		return PurposeCapitalUse
	case capitalUseSubcategories[s]:
		return PurposeCapitalUse
	case capitalSourceSubcategories[s]:
		return PurposeCapitalSource
	}
	return DeterminePurpose(c, amount)
}

// Classify returns the purpose for one point of a series: the metadata's explicit
// override when set, otherwise DeterminePurposeWithSubcategory.
func Classify(m SeriesMetadata, amount decimal.Decimal) FlowPurpose {
	if m.FlowPurpose.Valid() {
		return m.FlowPurpose
	}
	return DeterminePurposeWithSubcategory(m.Category, m.Subcategory, m.ItemName, amount)
}
