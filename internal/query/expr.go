package query

import (
	"fmt"
	"strings"

	"github.com/dvloznov/proforma/internal/ledger"
)

// Column names a filterable ledger column. String() is the persisted column name.
type Column int

const (
	ColPurpose Column = iota + 1
	ColCategory
	ColSubcategory
	ColItemTag
	ColEntityType
	ColAssetID
	ColDealID
	ColEntityID
	ColPassNum
)

var columnNames = map[Column]string{
	ColPurpose:     "flow_purpose",
	ColCategory:    "category",
	ColSubcategory: "subcategory",
	ColItemTag:     "item_tag",
	ColEntityType:  "entity_type",
	ColAssetID:     "asset_id",
	ColDealID:      "deal_id",
	ColEntityID:    "entity_id",
	ColPassNum:     "pass_num",
}

func (c Column) String() string {
	if n, ok := columnNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Column(%d)", int(c))
}

// Expr is a row predicate over ledger columns. Backends either evaluate it in
// process (Compile) or render it to their own dialect by walking the node types.
type Expr interface {
	fmt.Stringer
	expr()
}

// EqExpr matches rows whose column equals Value.
type EqExpr struct {
	Col   Column
	Value any
}

// InExpr matches rows whose column is one of Values.
type InExpr struct {
	Col    Column
	Values []any
}

// NotExpr negates X.
type NotExpr struct{ X Expr }

// AndExpr matches when every operand matches. An empty And matches everything.
type AndExpr struct{ Xs []Expr }

// OrExpr matches when any operand matches. An empty Or matches nothing.
type OrExpr struct{ Xs []Expr }

// AllExpr matches every row.
type AllExpr struct{}

func (EqExpr) expr()  {}
func (InExpr) expr()  {}
func (NotExpr) expr() {}
func (AndExpr) expr() {}
func (OrExpr) expr()  {}
func (AllExpr) expr() {}

func (e EqExpr) String() string { return fmt.Sprintf("%s = %v", e.Col, e.Value) }

func (e InExpr) String() string {
	parts := make([]string, len(e.Values))
	for i, v := range e.Values {
		parts[i] = fmt.Sprint(v)
	}
	return fmt.Sprintf("%s IN (%s)", e.Col, strings.Join(parts, ", "))
}

func (e NotExpr) String() string { return "NOT (" + e.X.String() + ")" }
func (e AndExpr) String() string { return joinExprs(e.Xs, " AND ", "TRUE") }
func (e OrExpr) String() string  { return joinExprs(e.Xs, " OR ", "FALSE") }
func (AllExpr) String() string   { return "TRUE" }

func joinExprs(xs []Expr, sep, empty string) string {
	if len(xs) == 0 {
		return empty
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		parts[i] = "(" + x.String() + ")"
	}
	return strings.Join(parts, sep)
}

// Eq builds col = v.
func Eq(col Column, v any) Expr { return EqExpr{Col: col, Value: v} }

// In builds col IN (vs...).
func In[T any](col Column, vs ...T) Expr {
	values := make([]any, len(vs))
	for i, v := range vs {
		values[i] = v
	}
	return InExpr{Col: col, Values: values}
}

// Not builds NOT x.
func Not(x Expr) Expr { return NotExpr{X: x} }

// And builds the conjunction of xs, dropping AllExpr operands.
func And(xs ...Expr) Expr {
	kept := make([]Expr, 0, len(xs))
	for _, x := range xs {
		if _, all := x.(AllExpr); all || x == nil {
			continue
		}
		kept = append(kept, x)
	}
	switch len(kept) {
	case 0:
		return AllExpr{}
	case 1:
		return kept[0]
	}
	return AndExpr{Xs: kept}
}

// Or builds the disjunction of xs.
func Or(xs ...Expr) Expr {
	if len(xs) == 1 {
		return xs[0]
	}
	return OrExpr{Xs: xs}
}

// All matches every row.
func All() Expr { return AllExpr{} }

// PassAtMost matches rows produced in passes 1..n.
func PassAtMost(n int) Expr {
	passes := make([]int, 0, ledger.MaxPass)
	for p := ledger.MinPass; p <= n && p <= ledger.MaxPass; p++ {
		passes = append(passes, p)
	}
	return In(ColPassNum, passes...)
}

// Predicate is a compiled Expr evaluated against row i of a snapshot.
type Predicate func(s ledger.Snapshot, i int) bool

// Compile turns e into a Predicate, checking that every value has the Go type of
// its column (ledger enums for enum columns, string for IDs, int for pass_num).
func Compile(e Expr) (Predicate, error) {
	switch x := e.(type) {
	case nil, AllExpr:
		return func(ledger.Snapshot, int) bool { return true }, nil
	case EqExpr:
		return compileIn(x.Col, []any{x.Value})
	case InExpr:
		return compileIn(x.Col, x.Values)
	case NotExpr:
		p, err := Compile(x.X)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool { return !p(s, i) }, nil
	case AndExpr:
		ps, err := compileAll(x.Xs)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool {
			for _, p := range ps {
				if !p(s, i) {
					return false
				}
			}
			return true
		}, nil
	case OrExpr:
		ps, err := compileAll(x.Xs)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool {
			for _, p := range ps {
				if p(s, i) {
					return true
				}
			}
			return false
		}, nil
	}
	return nil, fmt.Errorf("Compile: unsupported expression %T", e)
}

func compileAll(xs []Expr) ([]Predicate, error) {
	ps := make([]Predicate, len(xs))
	for i, x := range xs {
		p, err := Compile(x)
		if err != nil {
			return nil, err
		}
		ps[i] = p
	}
	return ps, nil
}

func compileIn(col Column, values []any) (Predicate, error) {
	switch col {
	case ColPurpose:
		set, err := valueSet[ledger.FlowPurpose](col, values)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool { return set[s.Purpose(i)] }, nil
	case ColCategory:
		set, err := valueSet[ledger.Category](col, values)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool { return set[s.Category(i)] }, nil
	case ColSubcategory:
		set, err := valueSet[ledger.Subcategory](col, values)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool { return set[s.Subcategory(i)] }, nil
	case ColItemTag:
		set, err := valueSet[ledger.ItemTag](col, values)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool { return set[s.Tag(i)] }, nil
	case ColEntityType:
		set, err := valueSet[ledger.EntityType](col, values)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool { return set[s.EntityType(i)] }, nil
	case ColAssetID:
		set, err := valueSet[string](col, values)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool { return set[s.AssetID(i)] }, nil
	case ColDealID:
		set, err := valueSet[string](col, values)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool { return set[s.DealID(i)] }, nil
	case ColEntityID:
		set, err := valueSet[string](col, values)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool { return set[s.EntityID(i)] }, nil
	case ColPassNum:
		set, err := valueSet[int](col, values)
		if err != nil {
			return nil, err
		}
		return func(s ledger.Snapshot, i int) bool { return set[s.PassNum(i)] }, nil
	}
	return nil, fmt.Errorf("Compile: unknown column %s", col)
}

func valueSet[T comparable](col Column, values []any) (map[T]bool, error) {
	set := make(map[T]bool, len(values))
	for _, v := range values {
		tv, ok := v.(T)
		if !ok {
			var want T
			return nil, fmt.Errorf("Compile: column %s expects %T, got %T", col, want, v)
		}
		set[tv] = true
	}
	return set, nil
}

// purposeHint returns the purposes a row must have to match e, if e pins them.
func purposeHint(e Expr) ([]ledger.FlowPurpose, bool) {
	switch x := e.(type) {
	case EqExpr:
		if p, ok := x.Value.(ledger.FlowPurpose); ok && x.Col == ColPurpose {
			return []ledger.FlowPurpose{p}, true
		}
	case InExpr:
		if x.Col != ColPurpose {
			return nil, false
		}
		out := make([]ledger.FlowPurpose, 0, len(x.Values))
		for _, v := range x.Values {
			p, ok := v.(ledger.FlowPurpose)
			if !ok {
				return nil, false
			}
			out = append(out, p)
		}
		return out, true
	case AndExpr:
		for _, sub := range x.Xs {
			if ps, ok := purposeHint(sub); ok {
				return ps, true
			}
		}
	}
	return nil, false
}
