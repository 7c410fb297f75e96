package columnar

import (
	"bytes"
	"testing"
	"time"

	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/timeline"
)

func fixture(t *testing.T) ledger.Snapshot {
	t.Helper()
	l := ledger.New(ledger.DefaultOptions())
	jan := timeline.NewMonth(2024, time.January)
	if err := l.AddSeries(timeline.MonthSeries(jan, 1234.5678, -0.25), ledger.SeriesMetadata{
		Category: ledger.CategoryRevenue, Subcategory: ledger.SubMisc, ItemName: "Parking", AssetID: "a-1", PassNum: 1,
	}); err != nil {
		t.Fatalf("AddSeries: %v", err)
	}
	if err := l.AddSeries(timeline.MonthSeries(jan.AddMonths(2), 9500000), ledger.SeriesMetadata{
		Category: ledger.CategoryCapital, Subcategory: ledger.SubSaleProceeds, ItemName: "Reversion",
		PassNum: 6, DealID: "d-1", EntityID: "buyer", EntityType: ledger.EntityThirdParty,
	}); err != nil {
		t.Fatalf("AddSeries: %v", err)
	}
	snap, err := l.Materialize()
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	return snap
}

func TestBuildRecord(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	snap := fixture(t)
	rec, err := BuildRecord(mem, snap)
	if err != nil {
		t.Fatalf("BuildRecord: %v", err)
	}
	defer rec.Release()

	if rec.NumRows() != 3 || rec.NumCols() != int64(len(Schema.Fields())) {
		t.Fatalf("record shape = %dx%d", rec.NumRows(), rec.NumCols())
	}
	tags := rec.Column(colItemTag).(*array.String)
	if tags.Value(2) != "Disposition" {
		t.Errorf("item_tag[2] = %q, want Disposition", tags.Value(2))
	}
	deals := rec.Column(colDealID).(*array.String)
	if !deals.IsNull(0) || deals.Value(2) != "d-1" {
		t.Errorf("deal_id nulls wrong: null[0]=%v value[2]=%q", deals.IsNull(0), deals.Value(2))
	}
	amounts := rec.Column(colAmount).(*array.Decimal128)
	if got := fromDecimal128(amounts.Value(0)); !got.Equal(decimal.RequireFromString("1234.5678")) {
		t.Errorf("amount[0] = %s", got)
	}
}

func TestIPCRoundTrip(t *testing.T) {
	snap := fixture(t)
	var buf bytes.Buffer
	if err := WriteIPC(&buf, snap); err != nil {
		t.Fatalf("WriteIPC: %v", err)
	}
	recs, err := ReadIPC(&buf)
	if err != nil {
		t.Fatalf("ReadIPC: %v", err)
	}
	if len(recs) != snap.Len() {
		t.Fatalf("read %d rows, want %d", len(recs), snap.Len())
	}
	for i, r := range recs {
		want := snap.Row(i)
		if r.TransactionID != want.TransactionID || r.Date != want.Date || !r.Amount.Equal(want.Amount) ||
			r.Subcategory != want.Subcategory || r.ItemTag != want.ItemTag || r.EntityType != want.EntityType ||
			r.DealID != want.DealID || r.PassNum != want.PassNum {
			t.Errorf("row %d = %+v, want %+v", i, r, want)
		}
	}
}

func TestToDecimal128(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"-12.5", "-12.5"},
		{"0.0000000004", "0"},
		{"0.0000000005", "0.000000001"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n, err := toDecimal128(decimal.RequireFromString(tt.in))
			if err != nil {
				t.Fatalf("toDecimal128: %v", err)
			}
			if got := fromDecimal128(n); !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("round trip %s = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
	huge := decimal.New(1, 40)
	if _, err := toDecimal128(huge); err == nil {
		t.Error("expected overflow error")
	}
}
