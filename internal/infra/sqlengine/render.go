package sqlengine

import (
	"fmt"
	"strings"

	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/query"
)

// Render turns a filter into a parameterised WHERE clause using ? placeholders.
// Enum values are bound by name, matching how rows are stored.
func Render(e query.Expr) (string, []any, error) {
	var args []any
	clause, err := render(e, &args)
	if err != nil {
		return "", nil, err
	}
	return clause, args, nil
}

func render(e query.Expr, args *[]any) (string, error) {
	switch x := e.(type) {
	case nil, query.AllExpr:
		return "1=1", nil
	case query.EqExpr:
		v, err := bindValue(x.Value)
		if err != nil {
			return "", err
		}
		*args = append(*args, v)
		return x.Col.String() + " = ?", nil
	case query.InExpr:
		if len(x.Values) == 0 {
			return "1=0", nil
		}
		marks := make([]string, len(x.Values))
		for i, raw := range x.Values {
			v, err := bindValue(raw)
			if err != nil {
				return "", err
			}
			*args = append(*args, v)
			marks[i] = "?"
		}
		return fmt.Sprintf("%s IN (%s)", x.Col, strings.Join(marks, ", ")), nil
	case query.NotExpr:
		inner, err := render(x.X, args)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	case query.AndExpr:
		return renderJoin(x.Xs, " AND ", "1=1", args)
	case query.OrExpr:
		return renderJoin(x.Xs, " OR ", "1=0", args)
	}
	return "", fmt.Errorf("Render: unsupported expression %T", e)
}

func renderJoin(xs []query.Expr, sep, empty string, args *[]any) (string, error) {
	if len(xs) == 0 {
		return empty, nil
	}
	parts := make([]string, len(xs))
	for i, x := range xs {
		s, err := render(x, args)
		if err != nil {
			return "", err
		}
		parts[i] = "(" + s + ")"
	}
	return strings.Join(parts, sep), nil
}

func bindValue(v any) (any, error) {
	switch x := v.(type) {
	case ledger.FlowPurpose:
		return x.String(), nil
	case ledger.Category:
		return x.String(), nil
	case ledger.Subcategory:
		return x.String(), nil
	case ledger.ItemTag:
		return x.String(), nil
	case ledger.EntityType:
		return x.String(), nil
	case string, int:
		return x, nil
	}
	return nil, fmt.Errorf("Render: unsupported value type %T", v)
}
