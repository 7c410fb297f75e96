package ledger

import (
	"fmt"
	"strings"
)

// enumTable maps a closed uint8 enum to its canonical names. Value i+1 is names[i];
// the zero value is reserved for "unset".
type enumTable[T ~uint8] struct {
	kind  string
	names []string
	byKey map[string]T
}

func newEnumTable[T ~uint8](kind string, names ...string) enumTable[T] {
	tbl := enumTable[T]{kind: kind, names: names, byKey: make(map[string]T, len(names))}
	for i, n := range names {
		tbl.byKey[enumKey(n)] = T(i + 1)
	}
	return tbl
}

// enumKey folds case and separators so "Vacancy Loss", "vacancy_loss" and
// "VacancyLoss" resolve to the same value.
func enumKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "", "/", "").Replace(s)
}

func (t enumTable[T]) name(v T) string {
	if v == 0 || int(v) > len(t.names) {
		return ""
	}
	return t.names[v-1]
}

func (t enumTable[T]) valid(v T) bool {
	return v != 0 && int(v) <= len(t.names)
}

func (t enumTable[T]) parse(s string) (T, error) {
	if v, ok := t.byKey[enumKey(s)]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown %s %q", t.kind, s)
}

// FlowPurpose is the coarse economic role of a transaction.
type FlowPurpose uint8

const (
	PurposeOperating FlowPurpose = iota + 1
	PurposeCapitalUse
	PurposeCapitalSource
	PurposeFinancingService
	PurposeValuation
)

var purposes = newEnumTable[FlowPurpose]("flow purpose",
	"Operating", "CapitalUse", "CapitalSource", "FinancingService", "Valuation")

// purposeCount is the number of defined purposes plus the unset slot.
const purposeCount = 6

func (p FlowPurpose) String() string { return purposes.name(p) }

// Valid reports whether p is a defined purpose.
func (p FlowPurpose) Valid() bool { return purposes.valid(p) }

// ParseFlowPurpose resolves a purpose name.
func ParseFlowPurpose(s string) (FlowPurpose, error) { return purposes.parse(s) }

func (p FlowPurpose) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *FlowPurpose) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = 0
		return nil
	}
	v, err := ParseFlowPurpose(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Category is the top-level classification of a transaction.
type Category uint8

const (
	CategoryRevenue Category = iota + 1
	CategoryExpense
	CategoryCapital
	CategoryFinancing
	CategoryValuation
	CategoryOther
)

var categories = newEnumTable[Category]("category",
	"Revenue", "Expense", "Capital", "Financing", "Valuation", "Other")

func (c Category) String() string { return categories.name(c) }

// Valid reports whether c is a defined category.
func (c Category) Valid() bool { return categories.valid(c) }

// ParseCategory resolves a category name.
func ParseCategory(s string) (Category, error) { return categories.parse(s) }

func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Category) UnmarshalText(b []byte) error {
	v, err := ParseCategory(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Subcategory is the second-level classification. Every subcategory belongs to
// exactly one Category.
type Subcategory uint8

const (
	// Revenue
	SubLease Subcategory = iota + 1
	SubMisc
	SubRecovery
	SubVacancyLoss
	SubCreditLoss
	SubAbatement
	// Expense
	SubOpex
	SubCapex
	// Capital
	SubPurchase
	SubClosingCosts
	SubTransactionCosts
	SubHardCosts
	SubSoftCosts
	SubTenantImprovement
	SubLeasingCommission
	SubSaleProceeds
	SubCapitalOther
	// Financing
	SubLoanProceeds
	SubInterestPayment
	SubPrincipalPayment
	SubPrepayment
	SubRefinancingProceeds
	SubRefinancingPayoff
	SubOriginationFee
	SubEquityContribution
	SubEquityDistribution
	SubPreferredReturn
	SubPromoteDistribution
	// Valuation
	SubAssetValuation
	SubAppraisal
	// Other
	SubOther
)

var subcategories = newEnumTable[Subcategory]("subcategory",
	"Lease", "Misc", "Recovery", "VacancyLoss", "CreditLoss", "Abatement",
	"Opex", "Capex",
	"Purchase", "ClosingCosts", "TransactionCosts", "HardCosts", "SoftCosts",
	"TenantImprovement", "LeasingCommission", "SaleProceeds", "CapitalOther",
	"LoanProceeds", "InterestPayment", "PrincipalPayment", "Prepayment",
	"RefinancingProceeds", "RefinancingPayoff", "OriginationFee",
	"EquityContribution", "EquityDistribution", "PreferredReturn", "PromoteDistribution",
	"AssetValuation", "Appraisal",
	"Other",
)

var subcategoryParent = map[Subcategory]Category{
	SubLease: CategoryRevenue, SubMisc: CategoryRevenue, SubRecovery: CategoryRevenue,
	SubVacancyLoss: CategoryRevenue, SubCreditLoss: CategoryRevenue, SubAbatement: CategoryRevenue,

	SubOpex: CategoryExpense, SubCapex: CategoryExpense,

	SubPurchase: CategoryCapital, SubClosingCosts: CategoryCapital, SubTransactionCosts: CategoryCapital,
	SubHardCosts: CategoryCapital, SubSoftCosts: CategoryCapital, SubTenantImprovement: CategoryCapital,
	SubLeasingCommission: CategoryCapital, SubSaleProceeds: CategoryCapital, SubCapitalOther: CategoryCapital,

	SubLoanProceeds: CategoryFinancing, SubInterestPayment: CategoryFinancing,
	SubPrincipalPayment: CategoryFinancing, SubPrepayment: CategoryFinancing,
	SubRefinancingProceeds: CategoryFinancing, SubRefinancingPayoff: CategoryFinancing,
	SubOriginationFee: CategoryFinancing, SubEquityContribution: CategoryFinancing,
	SubEquityDistribution: CategoryFinancing, SubPreferredReturn: CategoryFinancing,
	SubPromoteDistribution: CategoryFinancing,

	SubAssetValuation: CategoryValuation, SubAppraisal: CategoryValuation,

	SubOther: CategoryOther,
}

func (s Subcategory) String() string { return subcategories.name(s) }

// Valid reports whether s is a defined subcategory.
func (s Subcategory) Valid() bool { return subcategories.valid(s) }

// Category returns the parent category of s.
func (s Subcategory) Category() Category { return subcategoryParent[s] }

// ParseSubcategory resolves a subcategory name. "Other" under Capital is
// spelled "CapitalOther"; use ParseSubcategoryFor to resolve it by parent.
func ParseSubcategory(s string) (Subcategory, error) { return subcategories.parse(s) }

// ParseSubcategoryFor resolves a subcategory name within a category, so
// ("Capital", "Other") yields SubCapitalOther.
func ParseSubcategoryFor(c Category, s string) (Subcategory, error) {
	if c == CategoryCapital && enumKey(s) == "other" {
		return SubCapitalOther, nil
	}
	sub, err := ParseSubcategory(s)
	if err != nil {
		return 0, err
	}
	if sub.Category() != c {
		return 0, fmt.Errorf("subcategory %q does not belong to category %q", s, c)
	}
	return sub, nil
}

// SubcategoriesOf lists the subcategories of c in declaration order.
func SubcategoriesOf(c Category) []Subcategory {
	var out []Subcategory
	for i := range subcategories.names {
		s := Subcategory(i + 1)
		if s.Category() == c {
			out = append(out, s)
		}
	}
	return out
}

func (s Subcategory) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Subcategory) UnmarshalText(b []byte) error {
	v, err := ParseSubcategory(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// EntityType identifies the kind of party on a transaction.
type EntityType uint8

const (
	EntityGP EntityType = iota + 1
	EntityLP
	EntityLender
	EntitySponsor
	EntityThirdParty
)

var entityTypes = newEnumTable[EntityType]("entity type", "GP", "LP", "Lender", "Sponsor", "ThirdParty")

func (e EntityType) String() string { return entityTypes.name(e) }

// Valid reports whether e is a defined entity type.
func (e EntityType) Valid() bool { return entityTypes.valid(e) }

// ParseEntityType resolves an entity type name.
func ParseEntityType(s string) (EntityType, error) { return entityTypes.parse(s) }

func (e EntityType) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *EntityType) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*e = 0
		return nil
	}
	v, err := ParseEntityType(string(b))
	if err != nil {
		return err
	}
	*e = v
	return nil
}

// ItemTag is derived from the subcategory and item name at conversion time so
// that TI/LC and disposition checks become plain equality filters.
type ItemTag uint8

const (
	TagNone ItemTag = iota
	TagTenantImprovement
	TagLeasingCommission
	TagDispositionProceeds
)

var itemTags = newEnumTable[ItemTag]("item tag", "TI", "LC", "Disposition")

func (t ItemTag) String() string {
	if t == TagNone {
		return "None"
	}
	return itemTags.name(t)
}

// ParseItemTag resolves a tag name; "None" and "" are TagNone.
func ParseItemTag(s string) (ItemTag, error) {
	if k := enumKey(s); k == "" || k == "none" {
		return TagNone, nil
	}
	return itemTags.parse(s)
}

func (t ItemTag) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *ItemTag) UnmarshalText(b []byte) error {
	v, err := ParseItemTag(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
