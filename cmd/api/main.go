package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/proforma/internal/analysis"
	"github.com/dvloznov/proforma/internal/api"
	"github.com/dvloznov/proforma/internal/api/handlers"
	"github.com/dvloznov/proforma/internal/config"
	"github.com/dvloznov/proforma/internal/infra/sqlengine"
	"github.com/dvloznov/proforma/internal/infra/sqlite"
	"github.com/dvloznov/proforma/internal/jobs"
	"github.com/dvloznov/proforma/internal/jobs/inmemory"
	"github.com/dvloznov/proforma/internal/logger"
	"github.com/dvloznov/proforma/internal/metrics"
	"github.com/dvloznov/proforma/internal/query"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	port := flag.String("port", "", "HTTP server port (overrides config)")
	flag.Parse()

	log := logger.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	lvl, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	log = log.Level(lvl)
	if *port != "" {
		cfg.API.Port = *port
	}

	ctx := logger.WithContext(context.Background(), log)
	collector := metrics.New()

	var backend query.Backend = query.NewMemoryBackend()
	switch cfg.Query.Backend {
	case config.BackendSQLite, config.BackendDuckDB:
		open := sqlengine.OpenSQLite
		if cfg.Query.Backend == config.BackendDuckDB {
			open = sqlengine.OpenDuckDB
		}
		engine, err := open(cfg.Query.DSN)
		if err != nil {
			log.Fatal().Err(err).Str("backend", cfg.Query.Backend).Msg("Failed to open query backend")
		}
		defer engine.Close()
		backend = engine
	}

	store, err := sqlite.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Storage.SQLitePath).Msg("Failed to open run store")
	}
	defer store.Close()

	ledgerOpts := cfg.LedgerOptions()
	ledgerOpts.Observer = collector
	runner := analysis.NewRunner(analysis.Options{Ledger: ledgerOpts, Backend: backend, Logger: log})

	sink := jobs.ResultSinkFunc(func(ctx context.Context, job *jobs.AnalysisJob, res *analysis.Result) error {
		run := sqlite.Run{ID: res.RunID, Name: job.Name, AssetID: res.AssetID, DealID: res.DealID, Timeline: res.Timeline}
		return store.SaveRun(ctx, run, res.Snapshot)
	})
	runAnalysis := jobs.AnalysisHandler(runner, sink)
	handleJob := func(ctx context.Context, job jobs.Job) error {
		err := runAnalysis(ctx, job)
		status := jobs.JobStatusCompleted
		if err != nil {
			status = jobs.JobStatusFailed
		}
		collector.RecordRun(string(status))
		return err
	}

	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.Jobs.Buffer, cfg.Jobs.Workers, jobStore)
	jobQueue.SetObserver(collector)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	log.Info().Int("workers", cfg.Jobs.Workers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, handleJob); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	handler := api.NewRouter(api.Deps{
		Runs:     handlers.NewRunsHandler(store, backend, collector, log),
		Jobs:     handlers.NewJobsHandler(jobStore, jobQueue, jobQueue, log),
		Metrics:  collector.Handler(),
		Requests: collector,
		Log:      log,
	})

	server := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.API.Port).Str("backend", cfg.Query.Backend).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let queued analyses finish before the workers go away.
	if err := jobQueue.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Job queue not drained")
	}
	cancelWorker()
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Server exited")
}
