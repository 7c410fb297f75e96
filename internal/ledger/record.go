package ledger

import (
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

const (
	MinPass = 1
	MaxPass = 6
)

// TransactionRecord is one signed, dated, classified financial fact.
// Records are values; the ledger stores its own copy and never edits it.
type TransactionRecord struct {
	TransactionID string          `json:"transaction_id"`
	Date          civil.Date      `json:"date"`
	Amount        decimal.Decimal `json:"amount"` // IN = positive, OUT = negative
	FlowPurpose   FlowPurpose     `json:"flow_purpose"`
	Category      Category        `json:"category"`
	Subcategory   Subcategory     `json:"subcategory"`
	ItemName      string          `json:"item_name"`
	ItemTag       ItemTag         `json:"item_tag"`  // derived from subcategory + item name
	SourceID      string          `json:"source_id"` // producer name, lookup only
	AssetID       string          `json:"asset_id"`
	PassNum       int             `json:"pass_num"`

	DealID     string     `json:"deal_id,omitempty"`
	EntityID   string     `json:"entity_id,omitempty"`
	EntityType EntityType `json:"entity_type,omitempty"`
}

// Validate checks the record invariants.
func (r TransactionRecord) Validate() error {
	if strings.TrimSpace(r.TransactionID) == "" {
		return &SchemaError{Field: "transaction_id", Reason: "must not be empty"}
	}
	if r.Date.IsZero() || !r.Date.IsValid() {
		return &SchemaError{Field: "date", Reason: "must be a valid calendar date"}
	}
	if !r.FlowPurpose.Valid() {
		return &SchemaError{Field: "flow_purpose", Reason: "must be set"}
	}
	return validateClassification(r.Category, r.Subcategory, r.ItemName, r.PassNum, r.EntityType)
}

// SeriesMetadata classifies one raw series. Every nonzero point of the series
// becomes one record carrying these fields.
type SeriesMetadata struct {
	Category    Category
	Subcategory Subcategory
	ItemName    string
	SourceID    string
	AssetID     string
	PassNum     int

	DealID     string
	EntityID   string
	EntityType EntityType

	// FlowPurpose overrides the mapper when set.
	FlowPurpose FlowPurpose
}

// Validate checks the metadata invariants.
func (m SeriesMetadata) Validate() error {
	if m.FlowPurpose != 0 && !m.FlowPurpose.Valid() {
		return &SchemaError{Field: "flow_purpose", Reason: "unknown purpose"}
	}
	return validateClassification(m.Category, m.Subcategory, m.ItemName, m.PassNum, m.EntityType)
}

// Tag returns the item tag records of this series will carry.
func (m SeriesMetadata) Tag() ItemTag {
	return TagItem(m.Category, m.Subcategory, m.ItemName)
}

func validateClassification(c Category, s Subcategory, itemName string, pass int, et EntityType) error {
	if strings.TrimSpace(itemName) == "" {
		return &SchemaError{Field: "item_name", Reason: "must not be empty"}
	}
	if pass < MinPass || pass > MaxPass {
		return &SchemaError{Field: "pass_num", Reason: "must be between 1 and 6"}
	}
	if !c.Valid() {
		return &SchemaError{Field: "category", Reason: "must be set"}
	}
	if !s.Valid() {
		return &SchemaError{Field: "subcategory", Reason: "must be set"}
	}
	if s.Category() != c {
		return &SchemaError{Field: "subcategory", Reason: s.String() + " does not belong to " + c.String()}
	}
	if et != 0 && !et.Valid() {
		return &SchemaError{Field: "entity_type", Reason: "unknown entity type"}
	}
	return nil
}

// NewRecord builds a validated record from metadata and one dated amount.
// The purpose and item tag are derived; id must be unique within the ledger.
func NewRecord(id string, date civil.Date, amount decimal.Decimal, m SeriesMetadata) (TransactionRecord, error) {
	if err := m.Validate(); err != nil {
		return TransactionRecord{}, err
	}
	r := newRecord(id, date, amount, m, m.Tag())
	if err := r.Validate(); err != nil {
		return TransactionRecord{}, err
	}
	return r, nil
}

// newRecord assumes m is already validated.
func newRecord(id string, date civil.Date, amount decimal.Decimal, m SeriesMetadata, tag ItemTag) TransactionRecord {
	return TransactionRecord{
		TransactionID: id,
		Date:          date,
		Amount:        amount,
		FlowPurpose:   Classify(m, amount),
		Category:      m.Category,
		Subcategory:   m.Subcategory,
		ItemName:      m.ItemName,
		ItemTag:       tag,
		SourceID:      m.SourceID,
		AssetID:       m.AssetID,
		PassNum:       m.PassNum,
		DealID:        m.DealID,
		EntityID:      m.EntityID,
		EntityType:    m.EntityType,
	}
}
