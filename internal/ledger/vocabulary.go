package ledger

import "regexp"

// Item-name vocabulary. Matching is case-insensitive on word boundaries so
// short tokens like "TI" never match inside "Utilities".
var (
	tenantImprovementRe = regexp.MustCompile(`(?i)\b(ti|tis|tenant\s+improvements?)\b`)
	leasingCommissionRe = regexp.MustCompile(`(?i)\b(lc|lcs|leasing\s+commissions?)\b`)
	dispositionRe       = regexp.MustCompile(`(?i)\b(sale|disposition|reversion)\b`)
)

// IsTenantImprovement reports whether name mentions tenant improvements.
func IsTenantImprovement(name string) bool { return tenantImprovementRe.MatchString(name) }

// IsLeasingCommission reports whether name mentions leasing commissions.
func IsLeasingCommission(name string) bool { return leasingCommissionRe.MatchString(name) }

// IsDispositionProceeds reports whether name describes sale proceeds.
func IsDispositionProceeds(name string) bool { return dispositionRe.MatchString(name) }

// TagItem derives the item tag for a classification. Subcategory wins over the
// item name. TI/LC name matching only applies to capital spend (Capital rows and
// Expense/Capex), so an opex or financing "LC fee" stays untagged.
func TagItem(c Category, s Subcategory, itemName string) ItemTag {
	switch s {
	case SubTenantImprovement:
		return TagTenantImprovement
	case SubLeasingCommission:
		return TagLeasingCommission
	case SubSaleProceeds:
		return TagDispositionProceeds
	}
	if c == CategoryCapital || (c == CategoryExpense && s == SubCapex) {
		switch {
		case IsTenantImprovement(itemName):
			return TagTenantImprovement
		case IsLeasingCommission(itemName):
			return TagLeasingCommission
		}
	}
	if IsDispositionProceeds(itemName) && (c == CategoryCapital || c == CategoryFinancing) {
		return TagDispositionProceeds
	}
	return TagNone
}
