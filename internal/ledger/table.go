package ledger

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// DefaultOptimizeThreshold is the row count above which the table keeps
// per-purpose posting lists.
const DefaultOptimizeThreshold = 50_000

// interner maps repeated strings (item names, asset IDs, ...) to small codes.
// Code 0 is always the empty string.
type interner struct {
	codes map[string]uint32
	strs  []string
}

func newInterner() *interner {
	return &interner{codes: map[string]uint32{"": 0}, strs: []string{""}}
}

func (in *interner) intern(s string) uint32 {
	if c, ok := in.codes[s]; ok {
		return c
	}
	c := uint32(len(in.strs))
	in.codes[s] = c
	in.strs = append(in.strs, s)
	return c
}

// columns is the column set of the table. Copying it copies slice headers only.
type columns struct {
	ids           []string
	dates         []civil.Date
	amounts       []decimal.Decimal
	purposes      []FlowPurpose
	categories    []Category
	subcategories []Subcategory
	tags          []ItemTag
	entityTypes   []EntityType
	passNums      []uint8
	itemNames     []uint32
	sourceIDs     []uint32
	assetIDs      []uint32
	dealIDs       []uint32
	entityIDs     []uint32
}

func (c *columns) truncate(n int) columns {
	return columns{
		ids:           c.ids[:n:n],
		dates:         c.dates[:n:n],
		amounts:       c.amounts[:n:n],
		purposes:      c.purposes[:n:n],
		categories:    c.categories[:n:n],
		subcategories: c.subcategories[:n:n],
		tags:          c.tags[:n:n],
		entityTypes:   c.entityTypes[:n:n],
		passNums:      c.passNums[:n:n],
		itemNames:     c.itemNames[:n:n],
		sourceIDs:     c.sourceIDs[:n:n],
		assetIDs:      c.assetIDs[:n:n],
		dealIDs:       c.dealIDs[:n:n],
		entityIDs:     c.entityIDs[:n:n],
	}
}

// Table is the append-only columnar store behind a ledger. Rows are never
// modified once appended, so a Snapshot taken at n rows stays valid while the
// table grows.
type Table struct {
	cols      columns
	strs      *interner
	ids       map[string]struct{}
	threshold int
	// byPurpose holds row positions per purpose once the table outgrows threshold.
	byPurpose [purposeCount][]int32
	indexed   bool
}

func newTable(threshold int) *Table {
	if threshold <= 0 {
		threshold = DefaultOptimizeThreshold
	}
	return &Table{strs: newInterner(), ids: make(map[string]struct{}), threshold: threshold}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.cols.ids) }

// checkIDs reports the first record whose ID is already in the table or
// repeated within recs.
func (t *Table) checkIDs(recs []TransactionRecord) error {
	seen := make(map[string]struct{}, len(recs))
	for _, r := range recs {
		if _, dup := t.ids[r.TransactionID]; dup {
			return &SchemaError{Field: "transaction_id", Reason: "duplicate id " + r.TransactionID}
		}
		if _, dup := seen[r.TransactionID]; dup {
			return &SchemaError{Field: "transaction_id", Reason: "duplicate id " + r.TransactionID}
		}
		seen[r.TransactionID] = struct{}{}
	}
	return nil
}

// append adds rows. Callers validate first; append cannot fail.
func (t *Table) append(recs []TransactionRecord) {
	c := &t.cols
	for _, r := range recs {
		row := int32(len(c.ids))
		c.ids = append(c.ids, r.TransactionID)
		c.dates = append(c.dates, r.Date)
		c.amounts = append(c.amounts, r.Amount)
		c.purposes = append(c.purposes, r.FlowPurpose)
		c.categories = append(c.categories, r.Category)
		c.subcategories = append(c.subcategories, r.Subcategory)
		c.tags = append(c.tags, r.ItemTag)
		c.entityTypes = append(c.entityTypes, r.EntityType)
		c.passNums = append(c.passNums, uint8(r.PassNum))
		c.itemNames = append(c.itemNames, t.strs.intern(r.ItemName))
		c.sourceIDs = append(c.sourceIDs, t.strs.intern(r.SourceID))
		c.assetIDs = append(c.assetIDs, t.strs.intern(r.AssetID))
		c.dealIDs = append(c.dealIDs, t.strs.intern(r.DealID))
		c.entityIDs = append(c.entityIDs, t.strs.intern(r.EntityID))
		t.ids[r.TransactionID] = struct{}{}
		if t.indexed {
			t.byPurpose[r.FlowPurpose] = append(t.byPurpose[r.FlowPurpose], row)
		}
	}
	if !t.indexed && len(c.ids) > t.threshold {
		t.buildIndex()
	}
}

func (t *Table) buildIndex() {
	for i, p := range t.cols.purposes {
		t.byPurpose[p] = append(t.byPurpose[p], int32(i))
	}
	t.indexed = true
}

func (t *Table) snapshot(gen uint64) Snapshot {
	n := t.Len()
	s := Snapshot{
		cols:    t.cols.truncate(n),
		strs:    t.strs.strs[:len(t.strs.strs):len(t.strs.strs)],
		gen:     gen,
		indexed: t.indexed,
	}
	if t.indexed {
		for p, rows := range t.byPurpose {
			s.byPurpose[p] = rows[:len(rows):len(rows)]
		}
	}
	return s
}

// Snapshot is an immutable view of the first Len() rows of a ledger table.
// The zero Snapshot is empty.
type Snapshot struct {
	cols      columns
	strs      []string
	gen       uint64
	byPurpose [purposeCount][]int32
	indexed   bool
}

// Len returns the row count.
func (s Snapshot) Len() int { return len(s.cols.ids) }

// Generation is the ledger generation the snapshot was built at.
func (s Snapshot) Generation() uint64 { return s.gen }

func (s Snapshot) TransactionID(i int) string     { return s.cols.ids[i] }
func (s Snapshot) Date(i int) civil.Date          { return s.cols.dates[i] }
func (s Snapshot) Amount(i int) decimal.Decimal   { return s.cols.amounts[i] }
func (s Snapshot) Purpose(i int) FlowPurpose      { return s.cols.purposes[i] }
func (s Snapshot) Category(i int) Category        { return s.cols.categories[i] }
func (s Snapshot) Subcategory(i int) Subcategory  { return s.cols.subcategories[i] }
func (s Snapshot) Tag(i int) ItemTag              { return s.cols.tags[i] }
func (s Snapshot) EntityType(i int) EntityType    { return s.cols.entityTypes[i] }
func (s Snapshot) PassNum(i int) int              { return int(s.cols.passNums[i]) }
func (s Snapshot) ItemName(i int) string          { return s.strs[s.cols.itemNames[i]] }
func (s Snapshot) SourceID(i int) string          { return s.strs[s.cols.sourceIDs[i]] }
func (s Snapshot) AssetID(i int) string           { return s.strs[s.cols.assetIDs[i]] }
func (s Snapshot) DealID(i int) string            { return s.strs[s.cols.dealIDs[i]] }
func (s Snapshot) EntityID(i int) string          { return s.strs[s.cols.entityIDs[i]] }

// Row reassembles row i as a record.
func (s Snapshot) Row(i int) TransactionRecord {
	return TransactionRecord{
		TransactionID: s.TransactionID(i),
		Date:          s.Date(i),
		Amount:        s.Amount(i),
		FlowPurpose:   s.Purpose(i),
		Category:      s.Category(i),
		Subcategory:   s.Subcategory(i),
		ItemName:      s.ItemName(i),
		ItemTag:       s.Tag(i),
		SourceID:      s.SourceID(i),
		AssetID:       s.AssetID(i),
		PassNum:       s.PassNum(i),
		DealID:        s.DealID(i),
		EntityID:      s.EntityID(i),
		EntityType:    s.EntityType(i),
	}
}

// Records copies every row out.
func (s Snapshot) Records() []TransactionRecord {
	out := make([]TransactionRecord, s.Len())
	for i := range out {
		out[i] = s.Row(i)
	}
	return out
}

// Filter returns the rows for which keep reports true.
func (s Snapshot) Filter(keep func(TransactionRecord) bool) []TransactionRecord {
	var out []TransactionRecord
	for i := 0; i < s.Len(); i++ {
		if r := s.Row(i); keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// TotalAmount sums every amount.
func (s Snapshot) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.cols.amounts {
		total = total.Add(a)
	}
	return total
}

// PurposeRows returns the positions of rows with purpose p in ascending order,
// and false when the table was not large enough to be indexed.
func (s Snapshot) PurposeRows(p FlowPurpose) ([]int32, bool) {
	if !s.indexed || int(p) >= purposeCount {
		return nil, s.indexed
	}
	return s.byPurpose[p], true
}
