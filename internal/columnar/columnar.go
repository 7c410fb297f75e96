// Package columnar converts ledger snapshots to Apache Arrow records and the
// Arrow IPC stream format.
package columnar

import (
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/civil"
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/decimal128"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/proforma/internal/ledger"
)

// AmountScale is the number of fractional digits kept in the amount column.
const AmountScale = 9

// Column positions in Schema.
const (
	colTransactionID = iota
	colDate
	colAmount
	colPurpose
	colCategory
	colSubcategory
	colItemName
	colItemTag
	colSourceID
	colAssetID
	colPassNum
	colDealID
	colEntityID
	colEntityType
)

var amountType = &arrow.Decimal128Type{Precision: 38, Scale: AmountScale}

// Schema is the Arrow layout of one ledger row. Optional identifiers are null
// when empty.
var Schema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "transaction_id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "date", Type: arrow.FixedWidthTypes.Date32, Nullable: false},
		{Name: "amount", Type: amountType, Nullable: false},
		{Name: "flow_purpose", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "category", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "subcategory", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "item_name", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "item_tag", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "source_id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "asset_id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "pass_num", Type: arrow.PrimitiveTypes.Int8, Nullable: false},
		{Name: "deal_id", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "entity_id", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "entity_type", Type: arrow.BinaryTypes.String, Nullable: true},
	},
	nil,
)

// BuildRecord copies every snapshot row into one Arrow record. The caller
// must Release the record.
func BuildRecord(mem memory.Allocator, snap ledger.Snapshot) (arrow.Record, error) {
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	n := snap.Len()
	for i := 0; i < b.Schema().NumFields(); i++ {
		b.Field(i).Reserve(n)
	}

	ids := b.Field(colTransactionID).(*array.StringBuilder)
	dates := b.Field(colDate).(*array.Date32Builder)
	amounts := b.Field(colAmount).(*array.Decimal128Builder)
	purposes := b.Field(colPurpose).(*array.StringBuilder)
	categories := b.Field(colCategory).(*array.StringBuilder)
	subcategories := b.Field(colSubcategory).(*array.StringBuilder)
	itemNames := b.Field(colItemName).(*array.StringBuilder)
	tags := b.Field(colItemTag).(*array.StringBuilder)
	sources := b.Field(colSourceID).(*array.StringBuilder)
	assets := b.Field(colAssetID).(*array.StringBuilder)
	passes := b.Field(colPassNum).(*array.Int8Builder)
	deals := b.Field(colDealID).(*array.StringBuilder)
	entities := b.Field(colEntityID).(*array.StringBuilder)
	entityTypes := b.Field(colEntityType).(*array.StringBuilder)

	for i := 0; i < n; i++ {
		amt, err := toDecimal128(snap.Amount(i))
		if err != nil {
			return nil, fmt.Errorf("BuildRecord: row %d: %w", i, err)
		}
		ids.Append(snap.TransactionID(i))
		dates.Append(arrow.Date32FromTime(snap.Date(i).In(time.UTC)))
		amounts.Append(amt)
		purposes.Append(snap.Purpose(i).String())
		categories.Append(snap.Category(i).String())
		subcategories.Append(snap.Subcategory(i).String())
		itemNames.Append(snap.ItemName(i))
		tags.Append(snap.Tag(i).String())
		sources.Append(snap.SourceID(i))
		assets.Append(snap.AssetID(i))
		passes.Append(int8(snap.PassNum(i)))
		appendOptional(deals, snap.DealID(i))
		appendOptional(entities, snap.EntityID(i))
		appendOptional(entityTypes, snap.EntityType(i).String())
	}
	return b.NewRecord(), nil
}

func appendOptional(b *array.StringBuilder, s string) {
	if s == "" {
		b.AppendNull()
		return
	}
	b.Append(s)
}

func toDecimal128(d decimal.Decimal) (decimal128.Num, error) {
	scaled := d.Shift(AmountScale).Round(0).BigInt()
	if scaled.BitLen() > 126 {
		return decimal128.Num{}, fmt.Errorf("amount %s does not fit decimal128", d)
	}
	return decimal128.FromBigInt(scaled), nil
}

func fromDecimal128(n decimal128.Num) decimal.Decimal {
	return decimal.NewFromBigInt(n.BigInt(), -AmountScale)
}

// WriteIPC writes snap to w as an Arrow IPC stream holding a single record batch.
func WriteIPC(w io.Writer, snap ledger.Snapshot) error {
	mem := memory.NewGoAllocator()
	rec, err := BuildRecord(mem, snap)
	if err != nil {
		return err
	}
	defer rec.Release()

	iw := ipc.NewWriter(w, ipc.WithSchema(Schema), ipc.WithAllocator(mem))
	if err := iw.Write(rec); err != nil {
		_ = iw.Close()
		return fmt.Errorf("WriteIPC: write record: %w", err)
	}
	if err := iw.Close(); err != nil {
		return fmt.Errorf("WriteIPC: close: %w", err)
	}
	return nil
}

// ReadIPC decodes every record batch of an IPC stream written by WriteIPC.
func ReadIPC(r io.Reader) ([]ledger.TransactionRecord, error) {
	ir, err := ipc.NewReader(r, ipc.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("ReadIPC: open stream: %w", err)
	}
	defer ir.Release()

	var out []ledger.TransactionRecord
	for ir.Next() {
		recs, err := recordsFrom(ir.Record())
		if err != nil {
			return nil, fmt.Errorf("ReadIPC: %w", err)
		}
		out = append(out, recs...)
	}
	if err := ir.Err(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("ReadIPC: %w", err)
	}
	return out, nil
}

func recordsFrom(rec arrow.Record) ([]ledger.TransactionRecord, error) {
	str := func(col, row int) string {
		a := rec.Column(col).(*array.String)
		if a.IsNull(row) {
			return ""
		}
		return a.Value(row)
	}
	dates := rec.Column(colDate).(*array.Date32)
	amounts := rec.Column(colAmount).(*array.Decimal128)
	passes := rec.Column(colPassNum).(*array.Int8)

	out := make([]ledger.TransactionRecord, int(rec.NumRows()))
	for i := range out {
		r := ledger.TransactionRecord{
			TransactionID: str(colTransactionID, i),
			Date:          civil.DateOf(dates.Value(i).ToTime()),
			Amount:        fromDecimal128(amounts.Value(i)),
			ItemName:      str(colItemName, i),
			SourceID:      str(colSourceID, i),
			AssetID:       str(colAssetID, i),
			PassNum:       int(passes.Value(i)),
			DealID:        str(colDealID, i),
			EntityID:      str(colEntityID, i),
		}
		var err error
		if r.FlowPurpose, err = ledger.ParseFlowPurpose(str(colPurpose, i)); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if r.Category, err = ledger.ParseCategory(str(colCategory, i)); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if r.Subcategory, err = ledger.ParseSubcategory(str(colSubcategory, i)); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if r.ItemTag, err = ledger.ParseItemTag(str(colItemTag, i)); err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if et := str(colEntityType, i); et != "" {
			if r.EntityType, err = ledger.ParseEntityType(et); err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
		}
		out[i] = r
	}
	return out, nil
}
