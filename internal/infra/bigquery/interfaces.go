package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/logger"
)

// LedgerRepository provides the warehouse operations used by the export command.
type LedgerRepository interface {
	// EnsureTables creates the ledger and runs tables when missing.
	EnsureTables(ctx context.Context) error

	// ExportSnapshot writes every snapshot row under run.RunID and records the
	// export status in the runs table.
	ExportSnapshot(ctx context.Context, run *ExportRunRow, snap ledger.Snapshot) error

	// LoadRecords reads back the records of a successful export.
	LoadRecords(ctx context.Context, runID string) ([]ledger.TransactionRecord, error)
}

// BigQueryLedgerRepository is the concrete implementation of LedgerRepository
// that interacts with BigQuery. It holds a shared client for all operations.
type BigQueryLedgerRepository struct {
	client *bigquery.Client
	target Target
}

var _ LedgerRepository = (*BigQueryLedgerRepository)(nil)

// NewBigQueryLedgerRepository creates a repository with a shared BigQuery client.
func NewBigQueryLedgerRepository(ctx context.Context, target Target) (*BigQueryLedgerRepository, error) {
	if err := target.validate(); err != nil {
		return nil, fmt.Errorf("NewBigQueryLedgerRepository: %w", err)
	}
	client, err := bigquery.NewClient(ctx, target.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("NewBigQueryLedgerRepository: creating client: %w", err)
	}
	return &BigQueryLedgerRepository{client: client, target: target}, nil
}

// Close closes the BigQuery client connection.
func (r *BigQueryLedgerRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// EnsureTables delegates to EnsureTablesWithClient with the shared client.
func (r *BigQueryLedgerRepository) EnsureTables(ctx context.Context) error {
	return EnsureTablesWithClient(ctx, r.client, r.target)
}

// ExportSnapshot starts an export run, streams the rows and marks the run
// succeeded or failed.
func (r *BigQueryLedgerRepository) ExportSnapshot(ctx context.Context, run *ExportRunRow, snap ledger.Snapshot) error {
	log := logger.FromContext(ctx)

	run.RowCount = int64(snap.Len())
	run.TotalAmount = snap.TotalAmount().Rat()
	if err := StartExportRunWithClient(ctx, r.client, r.target, run); err != nil {
		return fmt.Errorf("ExportSnapshot: %w", err)
	}

	rows := RowsFromSnapshot(run.RunID, snap, time.Now())
	if err := InsertLedgerRowsWithClient(ctx, r.client, r.target, rows); err != nil {
		MarkExportRunFailedWithClient(ctx, r.client, r.target, run.RunID, err)
		return fmt.Errorf("ExportSnapshot: %w", err)
	}
	if err := MarkExportRunSucceededWithClient(ctx, r.client, r.target, run.RunID); err != nil {
		return fmt.Errorf("ExportSnapshot: %w", err)
	}

	log.Info().
		Str("run_id", run.RunID).
		Int64("rows", run.RowCount).
		Str("table", r.target.DatasetID+"."+r.target.LedgerTable).
		Msg("exported ledger to bigquery")
	return nil
}

// LoadRecords delegates to QueryLedgerRowsByRunWithClient and converts the rows.
func (r *BigQueryLedgerRepository) LoadRecords(ctx context.Context, runID string) ([]ledger.TransactionRecord, error) {
	rows, err := QueryLedgerRowsByRunWithClient(ctx, r.client, r.target, runID)
	if err != nil {
		return nil, err
	}
	return RecordsFromRows(rows)
}

// RecordsFromRows converts warehouse rows back into ledger records.
func RecordsFromRows(rows []*LedgerRow) ([]ledger.TransactionRecord, error) {
	out := make([]ledger.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.Record()
		if err != nil {
			return nil, fmt.Errorf("RecordsFromRows: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}
