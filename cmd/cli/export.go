package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/proforma/internal/archive"
	"github.com/dvloznov/proforma/internal/columnar"
	"github.com/dvloznov/proforma/internal/config"
	infraBQ "github.com/dvloznov/proforma/internal/infra/bigquery"
	"github.com/dvloznov/proforma/internal/infra/sqlite"
	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/logger"
)

const (
	formatJSONL    = "jsonl"
	formatArrow    = "arrow"
	formatGCS      = "gcs"
	formatBigQuery = "bigquery"
)

func bigQueryTarget(cfg config.Config, log zerolog.Logger) infraBQ.Target {
	if cfg.Export.BigQueryProject == "" {
		log.Fatal().Msg("Error: export.bigquery_project (PROFORMA_BIGQUERY_PROJECT) is required")
	}
	target := infraBQ.DefaultTarget(cfg.Export.BigQueryProject, cfg.Export.BigQueryDataset)
	if cfg.Export.BigQueryTable != "" {
		target.LedgerTable = cfg.Export.BigQueryTable
	}
	return target
}

func gcsURI(cfg config.Config, log zerolog.Logger, explicit, runID string) string {
	if explicit != "" {
		return explicit
	}
	if cfg.Export.GCSBucket == "" {
		log.Fatal().Msg("Error: -gcs-uri or export.gcs_bucket (PROFORMA_GCS_BUCKET) is required")
	}
	return archive.ObjectURI(cfg.Export.GCSBucket, runID)
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	runID := fs.String("run-id", "", "Run ID to export")
	format := fs.String("format", formatJSONL, "Export format: jsonl, arrow, gcs or bigquery")
	out := fs.String("out", "", "Output file for jsonl and arrow (defaults to stdout)")
	uri := fs.String("gcs-uri", "", "Destination gs:// URI (defaults to the configured bucket)")
	fs.Parse(os.Args[2:])

	if *runID == "" {
		fatalUsage("Usage: cli export -run-id ID -format jsonl|arrow|gcs|bigquery [-out FILE] [-gcs-uri URI]")
	}
	cfg, log := loadConfig(*configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	store := openStore(cfg, log)
	defer store.Close()
	run, err := store.GetRun(ctx, *runID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load run")
	}
	snap, err := store.LoadSnapshot(ctx, *runID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledger")
	}

	switch *format {
	case formatJSONL, formatArrow:
		w, closeOut := outputFile(log, *out)
		defer closeOut()
		if *format == formatJSONL {
			_, err = archive.WriteJSONL(w, snap)
		} else {
			err = columnar.WriteIPC(w, snap)
		}
		if err != nil {
			log.Fatal().Err(err).Str("format", *format).Msg("Export failed")
		}

	case formatGCS:
		gcs, err := archive.NewGCSStore(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create storage client")
		}
		defer gcs.Close()
		dest := gcsURI(cfg, log, *uri, *runID)
		n, err := archive.New(gcs).UploadSnapshot(ctx, dest, snap)
		if err != nil {
			log.Fatal().Err(err).Msg("Export failed")
		}
		fmt.Printf("Exported %d rows to %s\n", n, dest)

	case formatBigQuery:
		repo, err := infraBQ.NewBigQueryLedgerRepository(ctx, bigQueryTarget(cfg, log))
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create repository")
		}
		defer repo.Close()
		if err := repo.EnsureTables(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to create tables")
		}
		exportRun := &infraBQ.ExportRunRow{RunID: run.ID, Name: run.Name, AssetID: run.AssetID, DealID: run.DealID}
		if err := repo.ExportSnapshot(ctx, exportRun, snap); err != nil {
			log.Fatal().Err(err).Msg("Export failed")
		}
		fmt.Printf("Exported %d rows of run %s to BigQuery\n", snap.Len(), run.ID)

	default:
		fatalUsage(fmt.Sprintf("Unknown format %q", *format))
	}
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	format := fs.String("format", formatJSONL, "Import format: jsonl, arrow, gcs or bigquery")
	in := fs.String("in", "", "Input file for jsonl and arrow (defaults to stdin)")
	uri := fs.String("gcs-uri", "", "Source gs:// URI for the gcs format")
	sourceRun := fs.String("source-run-id", "", "Exported run ID for the bigquery format")
	name := fs.String("name", "imported", "Name of the new run")
	fs.Parse(os.Args[2:])

	cfg, log := loadConfig(*configPath)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	var (
		recs []ledger.TransactionRecord
		err  error
	)
	switch *format {
	case formatJSONL, formatArrow:
		r, closeIn := inputFile(log, *in)
		defer closeIn()
		if *format == formatJSONL {
			recs, err = archive.ReadJSONL(r)
		} else {
			recs, err = columnar.ReadIPC(r)
		}

	case formatGCS:
		if *uri == "" {
			fatalUsage("Usage: cli import -format gcs -gcs-uri gs://BUCKET/OBJECT")
		}
		gcs, gerr := archive.NewGCSStore(ctx)
		if gerr != nil {
			log.Fatal().Err(gerr).Msg("Failed to create storage client")
		}
		defer gcs.Close()
		recs, err = archive.New(gcs).FetchRecords(ctx, *uri)

	case formatBigQuery:
		if *sourceRun == "" {
			fatalUsage("Usage: cli import -format bigquery -source-run-id ID")
		}
		repo, rerr := infraBQ.NewBigQueryLedgerRepository(ctx, bigQueryTarget(cfg, log))
		if rerr != nil {
			log.Fatal().Err(rerr).Msg("Failed to create repository")
		}
		defer repo.Close()
		recs, err = repo.LoadRecords(ctx, *sourceRun)

	default:
		fatalUsage(fmt.Sprintf("Unknown format %q", *format))
	}
	if err != nil {
		log.Fatal().Err(err).Str("format", *format).Msg("Import failed")
	}

	l := ledger.New(cfg.LedgerOptions())
	if err := l.AddRecords(recs, false); err != nil {
		log.Fatal().Err(err).Msg("Imported records are invalid")
	}
	snap, err := l.Materialize()
	if err != nil {
		log.Fatal().Err(err).Msg("Imported records are invalid")
	}

	store := openStore(cfg, log)
	defer store.Close()
	run := sqlite.Run{ID: uuid.NewString(), Name: *name, Timeline: timelineOf(recs)}
	if err := store.SaveRun(ctx, run, snap); err != nil {
		log.Fatal().Err(err).Msg("Failed to save run")
	}
	fmt.Printf("Imported %d rows as run %s\n", snap.Len(), run.ID)
}

func outputFile(log zerolog.Logger, path string) (io.Writer, func()) {
	if path == "" {
		return os.Stdout, func() {}
	}
	f, err := os.Create(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to create output file")
	}
	return f, func() {
		if err := f.Close(); err != nil {
			log.Error().Err(err).Str("path", path).Msg("Failed to close output file")
		}
	}
}

func inputFile(log zerolog.Logger, path string) (io.Reader, func()) {
	if path == "" {
		return os.Stdin, func() {}
	}
	f, err := os.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("Failed to open input file")
	}
	return f, func() { _ = f.Close() }
}
