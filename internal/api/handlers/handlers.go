package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/dvloznov/proforma/internal/api/middleware"
	"github.com/dvloznov/proforma/internal/infra/sqlite"
	"github.com/dvloznov/proforma/internal/jobs"
	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/query"
	"github.com/dvloznov/proforma/internal/report"
	"github.com/dvloznov/proforma/internal/scenario"
)

const (
	defaultListLimit = 50
	maxScenarioBytes = 1 << 20
)

// RunStore is the read side of persisted runs. *sqlite.Store implements it.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]sqlite.Run, error)
	GetRun(ctx context.Context, runID string) (sqlite.Run, error)
	LoadSnapshot(ctx context.Context, runID string) (ledger.Snapshot, error)
}

// RunsHandler serves persisted runs and the metrics derived from them.
type RunsHandler struct {
	store    RunStore
	backend  query.Backend
	recorder report.Recorder
	log      zerolog.Logger
}

// NewRunsHandler creates a new runs handler. recorder may be nil.
func NewRunsHandler(store RunStore, backend query.Backend, recorder report.Recorder, log zerolog.Logger) *RunsHandler {
	if backend == nil {
		backend = query.NewMemoryBackend()
	}
	return &RunsHandler{
		store:    store,
		backend:  backend,
		recorder: recorder,
		log:      log,
	}
}

// ListRuns handles GET /api/runs
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			middleware.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}
	if runs == nil {
		runs = []sqlite.Run{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /api/runs/{id}
func (h *RunsHandler) GetRun(w http.ResponseWriter, r *http.Request, runID string) {
	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		h.writeRunError(w, runID, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, run)
}

// GetReport handles GET /api/runs/{id}/report. The optional asset, deal and
// pass query parameters narrow the report.
func (h *RunsHandler) GetReport(w http.ResponseWriter, r *http.Request, runID string) {
	q, ok := h.queries(w, r, runID)
	if !ok {
		return
	}
	rep := report.Build(r.Context(), q, h.recorder)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"lines":  rep.Lines,
		"failed": len(rep.Failed()),
	})
}

// GetMetric handles GET /api/runs/{id}/metrics/{metric}
func (h *RunsHandler) GetMetric(w http.ResponseWriter, r *http.Request, runID, metric string) {
	m, err := query.LookupMetric(metric)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, fmt.Sprintf("Unknown metric %q", metric))
		return
	}
	q, ok := h.queries(w, r, runID)
	if !ok {
		return
	}

	series, err := m.Eval(q, r.Context())
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Str("metric", metric).Msg("Failed to evaluate metric")
		if h.recorder != nil {
			h.recorder.RecordMetricEval(metric, string(report.StatusFailed))
		}
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to evaluate metric")
		return
	}
	status := report.StatusOK
	if series.IsEmpty() {
		status = report.StatusEmpty
	}
	if h.recorder != nil {
		h.recorder.RecordMetricEval(metric, string(status))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"run_id": runID,
		"metric": m.Name,
		"status": status,
		"total":  series.Total(),
		"series": series,
	})
}

// queries loads the run snapshot and applies the scope parameters. It writes
// the error response itself and reports whether the caller may continue.
func (h *RunsHandler) queries(w http.ResponseWriter, r *http.Request, runID string) (*query.Queries, bool) {
	params := r.URL.Query()
	maxPass := 0
	if s := params.Get("pass"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < ledger.MinPass || n > ledger.MaxPass {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("pass must be between %d and %d", ledger.MinPass, ledger.MaxPass))
			return nil, false
		}
		maxPass = n
	}

	snap, err := h.store.LoadSnapshot(r.Context(), runID)
	if err != nil {
		h.writeRunError(w, runID, err)
		return nil, false
	}

	q := query.New(h.backend, snap)
	if asset := params.Get("asset"); asset != "" {
		q = q.ForAsset(asset)
	}
	if deal := params.Get("deal"); deal != "" {
		q = q.ForDeal(deal)
	}
	if maxPass > 0 {
		q = q.ForPass(maxPass)
	}
	return q, true
}

func (h *RunsHandler) writeRunError(w http.ResponseWriter, runID string, err error) {
	if errors.Is(err, sqlite.ErrRunNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Run not found")
		return
	}
	h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to load run")
	middleware.WriteError(w, http.StatusInternalServerError, "Failed to load run")
}

// Retrier re-runs failed jobs. *inmemory.Queue implements it.
type Retrier interface {
	Retry(ctx context.Context, jobID string) (*jobs.AnalysisJob, error)
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store     jobs.JobStore
	publisher jobs.Publisher
	retrier   Retrier
	log       zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, publisher jobs.Publisher, retrier Retrier, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:     store,
		publisher: publisher,
		retrier:   retrier,
		log:       log,
	}
}

// CreateJob handles POST /api/jobs. The body is a YAML scenario document.
func (h *JobsHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxScenarioBytes+1))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}
	if len(body) > maxScenarioBytes {
		middleware.WriteError(w, http.StatusRequestEntityTooLarge, "Scenario is too large")
		return
	}

	s, err := scenario.Parse(body)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, err := s.Analysis()
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &jobs.AnalysisJob{Name: s.Name, Source: "api", Analysis: a}
	if err := h.publisher.PublishAnalysis(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue analysis job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue analysis job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("analysis", job.Name).Msg("Analysis job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	job, err := h.store.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, jobID, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	filter := jobs.JobFilter{
		Name:   params.Get("name"),
		Status: jobs.JobStatus(params.Get("status")),
	}
	if limitStr := params.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if offsetStr := params.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(r.Context(), filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// RetryJob handles POST /api/jobs/{id}/retry
func (h *JobsHandler) RetryJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if h.retrier == nil {
		middleware.WriteError(w, http.StatusNotImplemented, "Retries are not supported")
		return
	}
	job, err := h.retrier.Retry(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		middleware.WriteError(w, http.StatusConflict, err.Error())
		return
	}
	middleware.WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.JobID,
		"status":   job.Status,
		"attempts": job.Attempts,
	})
}

func (h *JobsHandler) writeJobError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, jobs.ErrJobNotFound) {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}
	h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
	middleware.WriteError(w, http.StatusInternalServerError, "Failed to get job")
}
