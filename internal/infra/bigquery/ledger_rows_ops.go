package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// insertBatchSize bounds one streaming insert request.
const insertBatchSize = 500

// Target names the dataset and tables ledger rows are exported to.
type Target struct {
	ProjectID   string
	DatasetID   string
	LedgerTable string
	RunsTable   string
}

// DefaultTarget returns the table names used when only the project and dataset are configured.
func DefaultTarget(projectID, datasetID string) Target {
	return Target{ProjectID: projectID, DatasetID: datasetID, LedgerTable: "ledger_rows", RunsTable: "runs"}
}

func (t Target) validate() error {
	if t.ProjectID == "" || t.DatasetID == "" || t.LedgerTable == "" || t.RunsTable == "" {
		return fmt.Errorf("bigquery target needs project, dataset and table names, got %+v", t)
	}
	return nil
}

func (t Target) ledgerTable(client *bigquery.Client) *bigquery.Table {
	return client.DatasetInProject(t.ProjectID, t.DatasetID).Table(t.LedgerTable)
}

// EnsureTablesWithClient creates the ledger and runs tables from the row
// schemas if they do not exist yet.
func EnsureTablesWithClient(ctx context.Context, client *bigquery.Client, target Target) error {
	if err := target.validate(); err != nil {
		return fmt.Errorf("EnsureTables: %w", err)
	}
	ledgerSchema, err := bigquery.InferSchema(LedgerRow{})
	if err != nil {
		return fmt.Errorf("EnsureTables: infer ledger schema: %w", err)
	}
	runsSchema, err := bigquery.InferSchema(ExportRunRow{})
	if err != nil {
		return fmt.Errorf("EnsureTables: infer runs schema: %w", err)
	}

	tables := map[string]*bigquery.TableMetadata{
		target.LedgerTable: {
			Schema: ledgerSchema,
			TimePartitioning: &bigquery.TimePartitioning{
				Type:  bigquery.MonthPartitioningType,
				Field: "date",
			},
			Clustering: &bigquery.Clustering{Fields: []string{"run_id", "flow_purpose"}},
		},
		target.RunsTable: {Schema: runsSchema},
	}
	ds := client.DatasetInProject(target.ProjectID, target.DatasetID)
	for name, meta := range tables {
		err := ds.Table(name).Create(ctx, meta)
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict {
			continue
		}
		if err != nil {
			return fmt.Errorf("EnsureTables: create %s.%s: %w", target.DatasetID, name, err)
		}
	}
	return nil
}

// InsertLedgerRows streams rows into the ledger table.
func InsertLedgerRows(ctx context.Context, target Target, rows []*LedgerRow) error {
	client, err := bigquery.NewClient(ctx, target.ProjectID)
	if err != nil {
		return fmt.Errorf("InsertLedgerRows: bigquery client: %w", err)
	}
	defer client.Close()

	return InsertLedgerRowsWithClient(ctx, client, target, rows)
}

// InsertLedgerRowsWithClient streams rows into the ledger table in batches using
// the provided BigQuery client.
func InsertLedgerRowsWithClient(ctx context.Context, client *bigquery.Client, target Target, rows []*LedgerRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := target.validate(); err != nil {
		return fmt.Errorf("InsertLedgerRows: %w", err)
	}

	inserter := target.ledgerTable(client).Inserter()
	for start := 0; start < len(rows); start += insertBatchSize {
		end := min(start+insertBatchSize, len(rows))
		if err := inserter.Put(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("InsertLedgerRows: inserting rows %d-%d: %w", start, end-1, err)
		}
	}
	return nil
}

// QueryLedgerRowsByRunWithClient reads back the rows of one run in row order.
// Only rows of a successful export are returned.
func QueryLedgerRowsByRunWithClient(ctx context.Context, client *bigquery.Client, target Target, runID string) ([]*LedgerRow, error) {
	if err := target.validate(); err != nil {
		return nil, fmt.Errorf("QueryLedgerRowsByRun: %w", err)
	}
	q := client.Query(fmt.Sprintf(`
		SELECT
			l.run_id,
			l.row_num,
			l.transaction_id,
			l.date,
			l.amount,
			l.flow_purpose,
			l.category,
			l.subcategory,
			l.item_name,
			l.item_tag,
			l.source_id,
			l.asset_id,
			l.pass_num,
			l.deal_id,
			l.entity_id,
			l.entity_type,
			l.exported_ts
		FROM `+"`%[1]s.%[2]s.%[3]s`"+` l
		INNER JOIN `+"`%[1]s.%[2]s.%[4]s`"+` r
		  ON l.run_id = r.run_id
		WHERE l.run_id = @run_id
		  AND r.status = @status
		ORDER BY l.row_num
	`, target.ProjectID, target.DatasetID, target.LedgerTable, target.RunsTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: runID},
		{Name: "status", Value: StatusSucceeded},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryLedgerRowsByRun: query read: %w", err)
	}

	var rows []*LedgerRow
	for {
		var r LedgerRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryLedgerRowsByRun: iter next: %w", err)
		}
		rows = append(rows, &r)
	}
	return rows, nil
}
