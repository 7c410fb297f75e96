package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/dvloznov/proforma/internal/config"
	infraBQ "github.com/dvloznov/proforma/internal/infra/bigquery"
	"github.com/dvloznov/proforma/internal/infra/sqlite"
	"github.com/dvloznov/proforma/internal/logger"
)

var (
	configPath = flag.String("config", "", "Path to a YAML config file")
	sqlitePath = flag.String("sqlite", "", "SQLite run store to migrate (defaults to storage.sqlite_path)")
	withBQ     = flag.Bool("bigquery", false, "Also create the BigQuery export dataset and tables")
	dryRun     = flag.Bool("dry-run", false, "Print what would be migrated without changing anything")
)

func main() {
	flag.Parse()

	log := logger.New()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	path := cfg.Storage.SQLitePath
	if *sqlitePath != "" {
		path = *sqlitePath
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var target infraBQ.Target
	if *withBQ {
		if cfg.Export.BigQueryProject == "" {
			log.Fatal().Msg("Error: export.bigquery_project (PROFORMA_BIGQUERY_PROJECT) is required with -bigquery")
		}
		target = infraBQ.DefaultTarget(cfg.Export.BigQueryProject, cfg.Export.BigQueryDataset)
		if cfg.Export.BigQueryTable != "" {
			target.LedgerTable = cfg.Export.BigQueryTable
		}
	}

	if *dryRun {
		fmt.Printf("Would migrate SQLite run store %s\n", path)
		if *withBQ {
			fmt.Printf("Would ensure BigQuery tables %s.%s.%s and %s\n",
				target.ProjectID, target.DatasetID, target.LedgerTable, target.RunsTable)
		}
		return
	}

	applied, err := sqlite.Migrate(ctx, path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("SQLite migration failed")
	}
	if len(applied) == 0 {
		fmt.Printf("SQLite run store %s is up to date\n", path)
	}
	for _, name := range applied {
		fmt.Printf("Applied %s to %s\n", name, path)
	}

	if !*withBQ {
		return
	}
	repo, err := infraBQ.NewBigQueryLedgerRepository(ctx, target)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()
	if err := repo.EnsureTables(ctx); err != nil {
		log.Fatal().Err(err).Msg("BigQuery migration failed")
	}
	fmt.Printf("BigQuery tables ready in %s.%s\n", target.ProjectID, target.DatasetID)
}
