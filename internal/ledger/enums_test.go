package ledger

import (
	"encoding/json"
	"testing"
)

func TestParseSubcategory(t *testing.T) {
	tests := []struct {
		input   string
		want    Subcategory
		wantErr bool
	}{
		{"Lease", SubLease, false},
		{"vacancy loss", SubVacancyLoss, false},
		{"VACANCY_LOSS", SubVacancyLoss, false},
		{"  Tenant Improvement  ", SubTenantImprovement, false},
		{"loan-proceeds", SubLoanProceeds, false},
		{"Capex", SubCapex, false},
		{"Rent", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseSubcategory(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSubcategory(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseSubcategory(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSubcategoryNamesRoundTrip(t *testing.T) {
	for i := range subcategories.names {
		s := Subcategory(i + 1)
		got, err := ParseSubcategory(s.String())
		if err != nil {
			t.Fatalf("ParseSubcategory(%q): %v", s, err)
		}
		if got != s {
			t.Errorf("round trip %q = %v", s, got)
		}
		if !s.Category().Valid() {
			t.Errorf("%q has no parent category", s)
		}
	}
}

func TestSubcategoriesOf(t *testing.T) {
	want := map[Category]int{
		CategoryRevenue:   6,
		CategoryExpense:   2,
		CategoryCapital:   9,
		CategoryFinancing: 11,
		CategoryValuation: 2,
		CategoryOther:     1,
	}
	total := 0
	for c, n := range want {
		if got := len(SubcategoriesOf(c)); got != n {
			t.Errorf("SubcategoriesOf(%s) = %d entries, want %d", c, got, n)
		}
		total += n
	}
	if total != len(subcategories.names) {
		t.Errorf("categories cover %d subcategories, table has %d", total, len(subcategories.names))
	}
}

func TestParseSubcategoryFor(t *testing.T) {
	got, err := ParseSubcategoryFor(CategoryCapital, "Other")
	if err != nil || got != SubCapitalOther {
		t.Errorf("ParseSubcategoryFor(Capital, Other) = %v, %v", got, err)
	}
	got, err = ParseSubcategoryFor(CategoryOther, "Other")
	if err != nil || got != SubOther {
		t.Errorf("ParseSubcategoryFor(Other, Other) = %v, %v", got, err)
	}
	if _, err := ParseSubcategoryFor(CategoryRevenue, "Capex"); err == nil {
		t.Error("expected error for Capex under Revenue")
	}
}

func TestEnumText(t *testing.T) {
	type row struct {
		Purpose FlowPurpose `json:"purpose"`
		Entity  EntityType  `json:"entity"`
		Tag     ItemTag     `json:"tag"`
	}
	b, err := json.Marshal(row{Purpose: PurposeCapitalSource, Entity: EntityLP, Tag: TagTenantImprovement})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if got := string(b); got != `{"purpose":"CapitalSource","entity":"LP","tag":"TI"}` {
		t.Errorf("Marshal = %s", got)
	}

	var back row
	if err := json.Unmarshal([]byte(`{"purpose":"capital use","entity":"third party","tag":"none"}`), &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.Purpose != PurposeCapitalUse || back.Entity != EntityThirdParty || back.Tag != TagNone {
		t.Errorf("Unmarshal = %+v", back)
	}
}
