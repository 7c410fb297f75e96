// Package sqlite persists committed analysis runs and their ledger rows.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/proforma/internal/infra/sqlite/migrations"
	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/platform/sqlitemigrate"
	"github.com/dvloznov/proforma/internal/timeline"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run is the header of one persisted analysis run.
type Run struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	AssetID     string            `json:"asset_id,omitempty"`
	DealID      string            `json:"deal_id,omitempty"`
	Timeline    timeline.Timeline `json:"timeline"`
	RowCount    int               `json:"row_count"`
	TotalAmount decimal.Decimal   `json:"total_amount"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Store persists runs in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func fileDSN(path string) string {
	return filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("Open: storage path is required")
	}
	return open(fileDSN(path))
}

// Migrate applies pending migrations to the database at path and returns the
// names of the files it applied.
func Migrate(ctx context.Context, path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("Migrate: storage path is required")
	}
	sqlDB, err := sql.Open("sqlite", fileDSN(path))
	if err != nil {
		return nil, fmt.Errorf("Migrate: open sqlite db: %w", err)
	}
	defer sqlDB.Close()
	applied, err := sqlitemigrate.Apply(ctx, sqlDB, migrations.FS, ".")
	if err != nil {
		return applied, fmt.Errorf("Migrate: %w", err)
	}
	return applied, nil
}

// OpenMemory opens a private in-memory store.
func OpenMemory() (*Store, error) {
	return open("file::memory:?_pragma=foreign_keys(1)")
}

func open(dsn string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if strings.Contains(dsn, ":memory:") {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlitemigrate.Apply(context.Background(), sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SaveRun writes the run header and every snapshot row in one transaction.
// RowCount and TotalAmount are taken from the snapshot.
func (s *Store) SaveRun(ctx context.Context, run Run, snap ledger.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(run.ID) == "" {
		return fmt.Errorf("SaveRun: run id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SaveRun: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	start := ""
	if !run.Timeline.Start.IsZero() {
		start = run.Timeline.Start.String()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, name, asset_id, deal_id, timeline_start, timeline_months, row_count, total_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, run.AssetID, run.DealID, start, run.Timeline.Months,
		snap.Len(), snap.TotalAmount().String(), run.CreatedAt.UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("SaveRun: insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transaction_records (
		    run_id, row_num, transaction_id, date, amount, flow_purpose, category, subcategory,
		    item_name, item_tag, source_id, asset_id, pass_num, deal_id, entity_id, entity_type
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("SaveRun: prepare: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < snap.Len(); i++ {
		if _, err := stmt.ExecContext(ctx,
			run.ID, i, snap.TransactionID(i), snap.Date(i).String(), snap.Amount(i).String(),
			snap.Purpose(i).String(), snap.Category(i).String(), snap.Subcategory(i).String(),
			snap.ItemName(i), snap.Tag(i).String(), snap.SourceID(i), snap.AssetID(i),
			snap.PassNum(i), snap.DealID(i), snap.EntityID(i), snap.EntityType(i).String(),
		); err != nil {
			return fmt.Errorf("SaveRun: insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SaveRun: commit: %w", err)
	}
	return nil
}

const runColumns = `run_id, name, asset_id, deal_id, timeline_start, timeline_months, row_count, total_amount, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run     Run
		start   string
		total   string
		created int64
	)
	if err := row.Scan(&run.ID, &run.Name, &run.AssetID, &run.DealID, &start, &run.Timeline.Months,
		&run.RowCount, &total, &created); err != nil {
		return Run{}, err
	}
	if start != "" {
		m, err := timeline.ParseMonth(start)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: %w", run.ID, err)
		}
		run.Timeline.Start = m
	}
	amt, err := decimal.NewFromString(total)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: total amount: %w", run.ID, err)
	}
	run.TotalAmount = amt
	run.CreatedAt = time.UnixMilli(created).UTC()
	return run, nil
}

// GetRun returns one run header.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	if err := ctx.Err(); err != nil {
		return Run{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("GetRun: %w", err)
	}
	return run, nil
}

// ListRuns returns run headers, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := `SELECT ` + runColumns + ` FROM runs ORDER BY created_at DESC, run_id`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.sqlDB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: query: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRuns: scan: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRuns: rows: %w", err)
	}
	return out, nil
}

// LoadRecords returns the rows of a run in their committed order.
func (s *Store) LoadRecords(ctx context.Context, runID string) ([]ledger.TransactionRecord, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT transaction_id, date, amount, flow_purpose, category, subcategory, item_name,
		       source_id, asset_id, pass_num, deal_id, entity_id, entity_type
		FROM transaction_records
		WHERE run_id = ?
		ORDER BY row_num`, runID)
	if err != nil {
		return nil, fmt.Errorf("LoadRecords: query: %w", err)
	}
	defer rows.Close()

	var out []ledger.TransactionRecord
	for rows.Next() {
		var (
			r                                    ledger.TransactionRecord
			date, amount, purpose, cat, sub, ent string
		)
		if err := rows.Scan(&r.TransactionID, &date, &amount, &purpose, &cat, &sub, &r.ItemName,
			&r.SourceID, &r.AssetID, &r.PassNum, &r.DealID, &r.EntityID, &ent); err != nil {
			return nil, fmt.Errorf("LoadRecords: scan: %w", err)
		}
		if err := decodeRecord(&r, date, amount, purpose, cat, sub, ent); err != nil {
			return nil, fmt.Errorf("LoadRecords: %s: %w", r.TransactionID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("LoadRecords: rows: %w", err)
	}
	return out, nil
}

func decodeRecord(r *ledger.TransactionRecord, date, amount, purpose, cat, sub, ent string) error {
	var err error
	if r.Date, err = civil.ParseDate(date); err != nil {
		return err
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return err
	}
	if r.FlowPurpose, err = ledger.ParseFlowPurpose(purpose); err != nil {
		return err
	}
	if r.Category, err = ledger.ParseCategory(cat); err != nil {
		return err
	}
	if r.Subcategory, err = ledger.ParseSubcategory(sub); err != nil {
		return err
	}
	if ent != "" {
		if r.EntityType, err = ledger.ParseEntityType(ent); err != nil {
			return err
		}
	}
	r.ItemTag = ledger.TagItem(r.Category, r.Subcategory, r.ItemName)
	return nil
}

// LoadSnapshot rebuilds a queryable snapshot of a persisted run.
func (s *Store) LoadSnapshot(ctx context.Context, runID string) (ledger.Snapshot, error) {
	recs, err := s.LoadRecords(ctx, runID)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	l := ledger.New(ledger.DefaultOptions())
	if err := l.AddRecords(recs, false); err != nil {
		return ledger.Snapshot{}, fmt.Errorf("LoadSnapshot: %w", err)
	}
	return l.Materialize()
}

// DeleteRun removes a run and its rows.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("DeleteRun: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transaction_records WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("DeleteRun: rows: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("DeleteRun: run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return tx.Commit()
}
