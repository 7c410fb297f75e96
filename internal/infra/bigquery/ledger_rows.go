package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/proforma/internal/ledger"
)

// LedgerRow is one committed ledger row as stored in the ledger_rows table.
type LedgerRow struct {
	RunID         string `bigquery:"run_id"`         // REQUIRED
	RowNum        int64  `bigquery:"row_num"`        // REQUIRED
	TransactionID string `bigquery:"transaction_id"` // REQUIRED

	Date   civil.Date `bigquery:"date"`   // REQUIRED
	Amount *big.Rat   `bigquery:"amount"` // REQUIRED NUMERIC, IN positive

	FlowPurpose string `bigquery:"flow_purpose"` // REQUIRED
	Category    string `bigquery:"category"`     // REQUIRED
	Subcategory string `bigquery:"subcategory"`  // REQUIRED
	ItemName    string `bigquery:"item_name"`    // REQUIRED
	ItemTag     string `bigquery:"item_tag"`     // REQUIRED, "None" for untagged rows

	SourceID string `bigquery:"source_id"`
	AssetID  string `bigquery:"asset_id"`
	PassNum  int64  `bigquery:"pass_num"`

	DealID     bigquery.NullString `bigquery:"deal_id"`
	EntityID   bigquery.NullString `bigquery:"entity_id"`
	EntityType bigquery.NullString `bigquery:"entity_type"`

	ExportedTS time.Time `bigquery:"exported_ts"`
}

// numericScale is the fractional digit count of the BigQuery NUMERIC type.
const numericScale = 9

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

// RowsFromSnapshot converts every snapshot row into a LedgerRow for runID.
func RowsFromSnapshot(runID string, snap ledger.Snapshot, exported time.Time) []*LedgerRow {
	rows := make([]*LedgerRow, snap.Len())
	for i := range rows {
		rows[i] = &LedgerRow{
			RunID:         runID,
			RowNum:        int64(i),
			TransactionID: snap.TransactionID(i),
			Date:          snap.Date(i),
			Amount:        snap.Amount(i).Rat(),
			FlowPurpose:   snap.Purpose(i).String(),
			Category:      snap.Category(i).String(),
			Subcategory:   snap.Subcategory(i).String(),
			ItemName:      snap.ItemName(i),
			ItemTag:       snap.Tag(i).String(),
			SourceID:      snap.SourceID(i),
			AssetID:       snap.AssetID(i),
			PassNum:       int64(snap.PassNum(i)),
			DealID:        nullString(snap.DealID(i)),
			EntityID:      nullString(snap.EntityID(i)),
			EntityType:    nullString(snap.EntityType(i).String()),
			ExportedTS:    exported,
		}
	}
	return rows
}

// Record converts the row back into a ledger record. The item tag is re-derived
// by the ledger when the record is added.
func (r *LedgerRow) Record() (ledger.TransactionRecord, error) {
	if r.Amount == nil {
		return ledger.TransactionRecord{}, fmt.Errorf("row %s: amount is null", r.TransactionID)
	}
	amount, err := decimal.NewFromString(r.Amount.FloatString(numericScale))
	if err != nil {
		return ledger.TransactionRecord{}, fmt.Errorf("row %s: amount: %w", r.TransactionID, err)
	}
	rec := ledger.TransactionRecord{
		TransactionID: r.TransactionID,
		Date:          r.Date,
		Amount:        amount,
		ItemName:      r.ItemName,
		SourceID:      r.SourceID,
		AssetID:       r.AssetID,
		PassNum:       int(r.PassNum),
		DealID:        r.DealID.StringVal,
		EntityID:      r.EntityID.StringVal,
	}
	if rec.FlowPurpose, err = ledger.ParseFlowPurpose(r.FlowPurpose); err != nil {
		return ledger.TransactionRecord{}, fmt.Errorf("row %s: %w", r.TransactionID, err)
	}
	if rec.Category, err = ledger.ParseCategory(r.Category); err != nil {
		return ledger.TransactionRecord{}, fmt.Errorf("row %s: %w", r.TransactionID, err)
	}
	if rec.Subcategory, err = ledger.ParseSubcategory(r.Subcategory); err != nil {
		return ledger.TransactionRecord{}, fmt.Errorf("row %s: %w", r.TransactionID, err)
	}
	if r.EntityType.Valid {
		if rec.EntityType, err = ledger.ParseEntityType(r.EntityType.StringVal); err != nil {
			return ledger.TransactionRecord{}, fmt.Errorf("row %s: %w", r.TransactionID, err)
		}
	}
	return rec, nil
}
