package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/dvloznov/proforma/internal/analysis"
	"github.com/dvloznov/proforma/internal/config"
	"github.com/dvloznov/proforma/internal/infra/sqlengine"
	"github.com/dvloznov/proforma/internal/infra/sqlite"
	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/logger"
	"github.com/dvloznov/proforma/internal/query"
	"github.com/dvloznov/proforma/internal/timeline"
)

// loadConfig reads the config file (optional) and returns it with a console
// logger at the configured level.
func loadConfig(path string) (config.Config, zerolog.Logger) {
	log := logger.New()
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	lvl, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid log level")
	}
	return cfg, log.Level(lvl)
}

// openBackend returns the configured query backend and its closer.
func openBackend(cfg config.Config) (query.Backend, func(), error) {
	var (
		e   *sqlengine.Engine
		err error
	)
	switch cfg.Query.Backend {
	case config.BackendSQLite:
		e, err = sqlengine.OpenSQLite(cfg.Query.DSN)
	case config.BackendDuckDB:
		e, err = sqlengine.OpenDuckDB(cfg.Query.DSN)
	default:
		return query.NewMemoryBackend(), func() {}, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("openBackend: %w", err)
	}
	return e, func() { _ = e.Close() }, nil
}

func newRunner(cfg config.Config, backend query.Backend, log zerolog.Logger) *analysis.Runner {
	return analysis.NewRunner(analysis.Options{
		Ledger:  cfg.LedgerOptions(),
		Backend: backend,
		Logger:  log,
	})
}

func openStore(cfg config.Config, log zerolog.Logger) *sqlite.Store {
	store, err := sqlite.Open(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Storage.SQLitePath).Msg("Failed to open run store")
	}
	return store
}

func runFromResult(res *analysis.Result, source string) sqlite.Run {
	name := res.Name
	if name == "" {
		name = source
	}
	return sqlite.Run{ID: res.RunID, Name: name, AssetID: res.AssetID, DealID: res.DealID, Timeline: res.Timeline}
}

// timelineOf spans the months of recs.
func timelineOf(recs []ledger.TransactionRecord) timeline.Timeline {
	if len(recs) == 0 {
		return timeline.Timeline{}
	}
	first, last := timeline.MonthOf(recs[0].Date), timeline.MonthOf(recs[0].Date)
	for _, r := range recs[1:] {
		m := timeline.MonthOf(r.Date)
		if m.Before(first) {
			first = m
		}
		if last.Before(m) {
			last = m
		}
	}
	return timeline.Timeline{Start: first, Months: last.Ordinal() - first.Ordinal() + 1}
}

func fatalUsage(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
