// Package sqlengine runs ledger queries on an embedded SQL engine. Snapshot rows
// are copied into a single table and each aggregate becomes one GROUP BY month
// statement. DuckDB and SQLite are supported through database/sql.
package sqlengine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/query"
	"github.com/dvloznov/proforma/internal/timeline"
)

// amountScale is the number of decimal places kept. Amounts are stored as
// integer micro-units so SUM is exact on both engines.
const amountScale = 6

const createTableSQL = `
CREATE TABLE IF NOT EXISTS ledger_rows (
    row_num INTEGER NOT NULL,
    transaction_id TEXT NOT NULL,
    tx_date TEXT NOT NULL,
    amount_micros BIGINT NOT NULL,
    flow_purpose TEXT NOT NULL,
    category TEXT NOT NULL,
    subcategory TEXT NOT NULL,
    item_name TEXT NOT NULL,
    item_tag TEXT NOT NULL,
    source_id TEXT NOT NULL,
    asset_id TEXT NOT NULL,
    pass_num INTEGER NOT NULL,
    deal_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    entity_type TEXT NOT NULL
)`

const insertRowSQL = `
INSERT INTO ledger_rows (
    row_num, transaction_id, tx_date, amount_micros, flow_purpose, category, subcategory,
    item_name, item_tag, source_id, asset_id, pass_num, deal_id, entity_id, entity_type
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Engine is a query.Backend over a SQL database. It remembers how many rows of
// the current snapshot lineage it has loaded and only inserts new ones.
type Engine struct {
	db   *sql.DB
	name string

	mu     sync.Mutex
	loaded int
	lastID string
}

// OpenDuckDB opens a DuckDB database; an empty dsn is in-memory.
func OpenDuckDB(dsn string) (*Engine, error) {
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("OpenDuckDB: open: %w", err)
	}
	return newEngine(db, "duckdb")
}

// OpenSQLite opens a SQLite database; ":memory:" is in-memory.
func OpenSQLite(dsn string) (*Engine, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("OpenSQLite: open: %w", err)
	}
	// an in-memory SQLite database exists per connection
	db.SetMaxOpenConns(1)
	return newEngine(db, "sqlite")
}

func newEngine(db *sql.DB, name string) (*Engine, error) {
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", name, err)
	}
	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger_rows on %s: %w", name, err)
	}
	return &Engine{db: db, name: name}, nil
}

// Name returns the engine name ("duckdb" or "sqlite").
func (e *Engine) Name() string { return e.name }

// Close closes the database handle.
func (e *Engine) Close() error {
	if e == nil || e.db == nil {
		return nil
	}
	return e.db.Close()
}

// SumByMonth implements query.Backend.
func (e *Engine) SumByMonth(ctx context.Context, snap ledger.Snapshot, agg query.Aggregate) (timeline.Monthly, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := query.Compile(agg.Where); err != nil {
		return nil, err
	}
	where, args, err := Render(agg.Where)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.sync(ctx, snap); err != nil {
		return nil, fmt.Errorf("SumByMonth: sync %s: %w", e.name, err)
	}

	amount := "amount_micros"
	if agg.Abs {
		amount = "ABS(amount_micros)"
	}
	stmt := fmt.Sprintf(`
		SELECT substr(tx_date, 1, 7) AS month, CAST(SUM(%s) AS BIGINT) AS total
		FROM ledger_rows
		WHERE row_num < ? AND (%s)
		GROUP BY month
		ORDER BY month`, amount, where)

	rows, err := e.db.QueryContext(ctx, stmt, append([]any{snap.Len()}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("SumByMonth: query %s: %w", e.name, err)
	}
	defer rows.Close()

	var out timeline.Monthly
	for rows.Next() {
		var month string
		var micros int64
		if err := rows.Scan(&month, &micros); err != nil {
			return nil, fmt.Errorf("SumByMonth: scan: %w", err)
		}
		m, err := timeline.ParseMonth(month)
		if err != nil {
			return nil, fmt.Errorf("SumByMonth: %w", err)
		}
		out = append(out, timeline.Point{Month: m, Amount: decimal.New(micros, -amountScale)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SumByMonth: rows: %w", err)
	}
	return out, nil
}

// sync loads snapshot rows the table does not hold yet. A snapshot from a
// different ledger (or a cleared one) replaces the table contents.
func (e *Engine) sync(ctx context.Context, snap ledger.Snapshot) error {
	n := snap.Len()
	sameLineage := n >= e.loaded && (e.loaded == 0 || snap.TransactionID(e.loaded-1) == e.lastID)
	if sameLineage && n == e.loaded {
		return nil
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	start := e.loaded
	if !sameLineage {
		if _, err := tx.ExecContext(ctx, "DELETE FROM ledger_rows"); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("reset: %w", err)
		}
		start = 0
	}

	stmt, err := tx.PrepareContext(ctx, insertRowSQL)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := start; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, rowArgs(snap, i)...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	e.loaded = n
	e.lastID = ""
	if n > 0 {
		e.lastID = snap.TransactionID(n - 1)
	}
	return nil
}

func rowArgs(snap ledger.Snapshot, i int) []any {
	return []any{
		i,
		snap.TransactionID(i),
		snap.Date(i).String(),
		ToMicros(snap.Amount(i)),
		snap.Purpose(i).String(),
		snap.Category(i).String(),
		snap.Subcategory(i).String(),
		snap.ItemName(i),
		snap.Tag(i).String(),
		snap.SourceID(i),
		snap.AssetID(i),
		snap.PassNum(i),
		snap.DealID(i),
		snap.EntityID(i),
		snap.EntityType(i).String(),
	}
}

// ToMicros converts an amount to integer micro-units, rounding half away from zero.
func ToMicros(d decimal.Decimal) int64 {
	return d.Shift(amountScale).Round(0).IntPart()
}
