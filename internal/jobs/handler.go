package jobs

import (
	"context"
	"fmt"

	"github.com/dvloznov/proforma/internal/analysis"
	"github.com/dvloznov/proforma/internal/logger"
)

// ResultSink receives every successful analysis result, e.g. to persist it.
type ResultSink interface {
	SaveResult(ctx context.Context, job *AnalysisJob, res *analysis.Result) error
}

// ResultSinkFunc adapts a function to ResultSink.
type ResultSinkFunc func(ctx context.Context, job *AnalysisJob, res *analysis.Result) error

// SaveResult calls f.
func (f ResultSinkFunc) SaveResult(ctx context.Context, job *AnalysisJob, res *analysis.Result) error {
	return f(ctx, job, res)
}

// AnalysisHandler returns a JobHandler that runs analysis jobs with runner and
// hands each result to sink. sink may be nil.
func AnalysisHandler(runner *analysis.Runner, sink ResultSink) JobHandler {
	return func(ctx context.Context, job Job) error {
		aj, ok := job.(*AnalysisJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log := logger.FromContext(ctx)
		log.Info().
			Str("job_id", aj.JobID).
			Str("analysis", aj.Name).
			Int("attempt", aj.Attempts).
			Msg("Processing analysis job")

		res, err := runner.Run(ctx, aj.Analysis)
		if err != nil {
			return fmt.Errorf("AnalysisHandler: %w", err)
		}
		aj.RunID = res.RunID
		aj.Rows = res.Snapshot.Len()

		if sink != nil {
			if err := sink.SaveResult(ctx, aj, res); err != nil {
				return fmt.Errorf("AnalysisHandler: saving run %s: %w", res.RunID, err)
			}
		}

		log.Info().
			Str("job_id", aj.JobID).
			Str("run_id", aj.RunID).
			Int("rows", aj.Rows).
			Msg("Analysis job completed")
		return nil
	}
}
