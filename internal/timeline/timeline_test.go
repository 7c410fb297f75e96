package timeline

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func TestParseMonth(t *testing.T) {
	tests := []struct {
		input   string
		want    Month
		wantErr bool
	}{
		{"2024-01", Month{Year: 2024, Month: time.January}, false},
		{"1999-12", Month{Year: 1999, Month: time.December}, false},
		{"2024-13", Month{}, true},
		{"2024/01", Month{}, true},
		{"", Month{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseMonth(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMonth(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMonth(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestMonthArithmetic(t *testing.T) {
	m := NewMonth(2024, time.November)
	if got := m.AddMonths(3).String(); got != "2025-02" {
		t.Errorf("AddMonths(3) = %s, want 2025-02", got)
	}
	if got := m.AddMonths(-11).String(); got != "2023-12" {
		t.Errorf("AddMonths(-11) = %s, want 2023-12", got)
	}
	if got := NewMonth(2024, 13).String(); got != "2025-01" {
		t.Errorf("NewMonth(2024, 13) = %s, want 2025-01", got)
	}
	if got := MonthOf(civil.Date{Year: 2024, Month: time.March, Day: 17}); got != NewMonth(2024, time.March) {
		t.Errorf("MonthOf = %v", got)
	}
	if !m.Before(m.AddMonths(1)) || m.Compare(m) != 0 {
		t.Error("ordering broken")
	}
}

func TestTimeline(t *testing.T) {
	tl, err := NewTimeline(NewMonth(2024, time.January), 12)
	if err != nil {
		t.Fatalf("NewTimeline: %v", err)
	}
	if got := tl.End().String(); got != "2024-12" {
		t.Errorf("End = %s, want 2024-12", got)
	}
	if !tl.Contains(NewMonth(2024, time.June)) || tl.Contains(NewMonth(2025, time.January)) {
		t.Error("Contains gave wrong answer")
	}
	if idx := tl.Index(); idx.Len() != 12 || idx[11] != tl.End() {
		t.Errorf("Index = %v", idx)
	}
	if _, err := NewTimeline(Month{}, 12); err == nil {
		t.Error("expected error for zero start")
	}
	if _, err := NewTimeline(NewMonth(2024, time.January), 0); err == nil {
		t.Error("expected error for zero months")
	}
}

func TestNewSeriesLengthMismatch(t *testing.T) {
	if _, err := NewSeries(MonthIndex{NewMonth(2024, 1)}, []float64{1, 2}); err == nil {
		t.Fatal("expected error")
	}
	s, err := NewSeries(PositionalIndex{0, 1}, []float64{1, 2})
	if err != nil {
		t.Fatalf("NewSeries: %v", err)
	}
	if s.Index.Kind() != IndexPositional {
		t.Errorf("kind = %v", s.Index.Kind())
	}
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMonthlyCombine(t *testing.T) {
	jan, feb, mar := NewMonth(2024, 1), NewMonth(2024, 2), NewMonth(2024, 3)
	a := Monthly{{jan, d("100")}, {mar, d("50")}}
	b := Monthly{{feb, d("10")}, {mar, d("20")}}

	diff := Sub(a, b)
	want := Monthly{{jan, d("100")}, {feb, d("-10")}, {mar, d("30")}}
	if !diff.Equal(want) {
		t.Errorf("Sub = %v, want %v", diff, want)
	}

	left, right := Align(a, b)
	if left.Len() != 3 || right.Len() != 3 {
		t.Fatalf("Align lengths = %d, %d", left.Len(), right.Len())
	}
	if !left.At(feb).IsZero() || !right.At(jan).IsZero() {
		t.Error("Align did not zero-fill")
	}

	if got := Sum(a, b, nil).Total(); !got.Equal(d("180")) {
		t.Errorf("Sum total = %s, want 180", got)
	}
	if Add(nil, nil) != nil {
		t.Error("Add of empties should be nil")
	}
}

func TestMonthlyCumSumAndAt(t *testing.T) {
	s := FromMap(map[Month]decimal.Decimal{
		NewMonth(2024, 3): d("-5"),
		NewMonth(2024, 1): d("10"),
	})
	if s[0].Month != NewMonth(2024, 1) {
		t.Fatalf("FromMap not sorted: %v", s)
	}
	cum := s.CumSum()
	if !cum.At(NewMonth(2024, 3)).Equal(d("5")) {
		t.Errorf("CumSum last = %s, want 5", cum.At(NewMonth(2024, 3)))
	}
	if !s.At(NewMonth(2024, 2)).IsZero() {
		t.Error("At on missing month should be zero")
	}
	if !s.Neg().Total().Equal(d("-5")) {
		t.Errorf("Neg total = %s", s.Neg().Total())
	}
}

func TestMonthlyDense(t *testing.T) {
	s := Monthly{{NewMonth(2024, 1), d("10")}, {NewMonth(2024, 4), d("-3")}}
	dense := s.Dense()
	if dense.Len() != 4 {
		t.Fatalf("Dense len = %d, want 4", dense.Len())
	}
	if got := dense.CumSum().At(NewMonth(2024, 3)); !got.Equal(d("10")) {
		t.Errorf("running total in quiet month = %s, want 10", got)
	}
	if Monthly(nil).Dense() != nil {
		t.Error("Dense of nil should be nil")
	}
}
