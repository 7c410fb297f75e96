package bigquery

import (
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
)

// Export run statuses.
const (
	StatusRunning   = "RUNNING"
	StatusSucceeded = "SUCCESS"
	StatusFailed    = "FAILED"
)

// ExportRunRow tracks one export of a run's ledger into BigQuery.
type ExportRunRow struct {
	RunID   string `bigquery:"run_id"`   // REQUIRED
	Name    string `bigquery:"name"`     // NULLABLE
	AssetID string `bigquery:"asset_id"` // NULLABLE
	DealID  string `bigquery:"deal_id"`  // NULLABLE

	RowCount    int64    `bigquery:"row_count"`    // REQUIRED
	TotalAmount *big.Rat `bigquery:"total_amount"` // REQUIRED NUMERIC

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	Status       string `bigquery:"status"`        // REQUIRED
	ErrorMessage string `bigquery:"error_message"` // NULLABLE
}
