// Package api assembles the HTTP routes of the proforma server.
package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/proforma/internal/api/handlers"
	"github.com/dvloznov/proforma/internal/api/middleware"
)

// Deps are the handlers and collaborators the router serves. Jobs, Metrics and
// Requests are optional.
type Deps struct {
	Runs     *handlers.RunsHandler
	Jobs     *handlers.JobsHandler
	Metrics  http.Handler
	Requests middleware.RequestRecorder
	Log      zerolog.Logger
}

// NewRouter returns the routed handler wrapped in the middleware chain.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/runs", d.Runs.ListRuns)
	mux.HandleFunc("GET /api/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		d.Runs.GetRun(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /api/runs/{id}/report", func(w http.ResponseWriter, r *http.Request) {
		d.Runs.GetReport(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /api/runs/{id}/metrics/{metric}", func(w http.ResponseWriter, r *http.Request) {
		d.Runs.GetMetric(w, r, r.PathValue("id"), r.PathValue("metric"))
	})

	if d.Jobs != nil {
		mux.HandleFunc("GET /api/jobs", d.Jobs.ListJobs)
		mux.HandleFunc("POST /api/jobs", d.Jobs.CreateJob)
		mux.HandleFunc("GET /api/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
			d.Jobs.GetJob(w, r, r.PathValue("id"))
		})
		mux.HandleFunc("POST /api/jobs/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
			d.Jobs.RetryJob(w, r, r.PathValue("id"))
		})
	}

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	return middleware.Recovery(d.Log)(
		middleware.RequestID(
			middleware.Logger(d.Log)(
				middleware.Instrument(d.Requests)(
					middleware.CORS(mux),
				),
			),
		),
	)
}
