package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/proforma/internal/logger"
)

// maxErrorMessage bounds error_message to keep DML statements small.
const maxErrorMessage = 2000

func runDML(ctx context.Context, q *bigquery.Query) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}

// StartExportRunWithClient records a RUNNING export for row.RunID.
func StartExportRunWithClient(ctx context.Context, client *bigquery.Client, target Target, row *ExportRunRow) error {
	if row.StartedTS.IsZero() {
		row.StartedTS = time.Now()
	}
	row.Status = StatusRunning

	q := client.Query(fmt.Sprintf(`
		INSERT `+"`%s.%s.%s`"+` (
			run_id,
			name,
			asset_id,
			deal_id,
			row_count,
			total_amount,
			started_ts,
			status
		)
		VALUES (
			@run_id,
			@name,
			@asset_id,
			@deal_id,
			@row_count,
			@total_amount,
			@started_ts,
			@status
		)
	`, target.ProjectID, target.DatasetID, target.RunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "name", Value: row.Name},
		{Name: "asset_id", Value: row.AssetID},
		{Name: "deal_id", Value: row.DealID},
		{Name: "row_count", Value: row.RowCount},
		{Name: "total_amount", Value: row.TotalAmount},
		{Name: "started_ts", Value: row.StartedTS},
		{Name: "status", Value: row.Status},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("StartExportRun: %w", err)
	}
	return nil
}

// MarkExportRunSucceededWithClient sets status=SUCCESS and finished_ts.
func MarkExportRunSucceededWithClient(ctx context.Context, client *bigquery.Client, target Target, runID string) error {
	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = ""
		WHERE run_id = @run_id AND status = @running
	`, target.ProjectID, target.DatasetID, target.RunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: StatusSucceeded},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "run_id", Value: runID},
		{Name: "running", Value: StatusRunning},
	}

	if err := runDML(ctx, q); err != nil {
		return fmt.Errorf("MarkExportRunSucceeded: %w", err)
	}
	return nil
}

// MarkExportRunFailedWithClient sets status=FAILED. Failures to record the
// failure are logged, not returned, so the original error reaches the caller.
func MarkExportRunFailedWithClient(ctx context.Context, client *bigquery.Client, target Target, runID string, exportErr error) {
	log := logger.FromContext(ctx)

	errMsg := ""
	if exportErr != nil {
		errMsg = exportErr.Error()
		if len(errMsg) > maxErrorMessage {
			errMsg = errMsg[:maxErrorMessage]
		}
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE `+"`%s.%s.%s`"+`
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id AND status = @running
	`, target.ProjectID, target.DatasetID, target.RunsTable))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: StatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errMsg},
		{Name: "run_id", Value: runID},
		{Name: "running", Value: StatusRunning},
	}

	if err := runDML(ctx, q); err != nil {
		log.Error().
			Err(err).
			Str("run_id", runID).
			Msg("MarkExportRunFailed: recording failure")
	}
}
