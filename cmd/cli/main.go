package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/proforma/internal/analysis"
	"github.com/dvloznov/proforma/internal/jobs"
	"github.com/dvloznov/proforma/internal/jobs/inmemory"
	"github.com/dvloznov/proforma/internal/logger"
	"github.com/dvloznov/proforma/internal/query"
	"github.com/dvloznov/proforma/internal/report"
	"github.com/dvloznov/proforma/internal/scenario"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runScenario()
	case "batch":
		runBatch()
	case "list":
		runList()
	case "inspect":
		runInspect()
	case "export":
		runExport()
	case "import":
		runImport()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Proforma CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  run       Run a scenario file and print its report")
	fmt.Println("  batch     Run several scenario files concurrently")
	fmt.Println("  list      List saved runs")
	fmt.Println("  inspect   Show a saved run, its report and its first rows")
	fmt.Println("  export    Export a saved run as JSON Lines, Arrow IPC, to GCS or to BigQuery")
	fmt.Println("  import    Import an exported ledger as a new saved run")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func runScenario() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	scenarioPath := fs.String("scenario", "", "Path to the scenario YAML file")
	save := fs.Bool("save", false, "Save the run to the SQLite store")
	monthly := fs.String("monthly", "", "Also print the monthly values of this metric")
	asJSON := fs.Bool("json", false, "Print the report as JSON")
	fs.Parse(os.Args[2:])

	if *scenarioPath == "" {
		fatalUsage("Usage: cli run -scenario FILE [-save] [-config FILE]")
	}
	cfg, log := loadConfig(*configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	s, err := scenario.Load(*scenarioPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid scenario")
	}
	a, err := s.Analysis()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid scenario")
	}

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open query backend")
	}
	defer closeBackend()

	res, err := newRunner(cfg, backend, log).Run(ctx, a)
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}

	if *save {
		store := openStore(cfg, log)
		defer store.Close()
		if err := store.SaveRun(ctx, runFromResult(res, *scenarioPath), res.Snapshot); err != nil {
			log.Fatal().Err(err).Msg("Failed to save run")
		}
		log.Info().Str("run_id", res.RunID).Str("path", cfg.Storage.SQLitePath).Msg("Run saved")
	}

	rep := report.Build(ctx, res.Queries, nil)
	printReport(log, res, rep, *monthly, *asJSON)
}

func printReport(log zerolog.Logger, res *analysis.Result, rep *report.Report, monthly string, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"run_id": res.RunID, "name": res.Name, "lines": rep.Lines}); err != nil {
			log.Fatal().Err(err).Msg("Failed to write report")
		}
		return
	}

	fmt.Printf("\n=== %s (%s) ===\n", res.Name, res.RunID)
	fmt.Printf("Timeline: %s .. %s\n", res.Timeline.Start, res.Timeline.End())
	fmt.Printf("Rows:     %d\n", res.Snapshot.Len())
	for _, p := range res.Passes {
		fmt.Printf("  pass %d: %d producers, %d rows\n", p.Pass, p.Producers, p.Rows)
	}
	fmt.Println()
	if err := rep.WriteTable(os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Failed to write report")
	}
	if monthly != "" {
		fmt.Println()
		if err := rep.WriteMonthly(os.Stdout, monthly); err != nil {
			log.Fatal().Err(err).Msg("Failed to write monthly values")
		}
	}
	if failed := rep.Failed(); len(failed) > 0 {
		fmt.Printf("\n%d metrics failed: %s\n", len(failed), strings.Join(failed, ", "))
	}
}

func runBatch() {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	scenarios := fs.String("scenario", "", "Comma-separated scenario YAML files")
	save := fs.Bool("save", false, "Save every successful run to the SQLite store")
	fs.Parse(os.Args[2:])

	if *scenarios == "" {
		fatalUsage("Usage: cli batch -scenario A.yaml,B.yaml [-save] [-config FILE]")
	}
	cfg, log := loadConfig(*configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open query backend")
	}
	defer closeBackend()

	var sink jobs.ResultSink
	if *save {
		store := openStore(cfg, log)
		defer store.Close()
		sink = jobs.ResultSinkFunc(func(ctx context.Context, job *jobs.AnalysisJob, res *analysis.Result) error {
			return store.SaveRun(ctx, runFromResult(res, job.Source), res.Snapshot)
		})
	}

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(cfg.Jobs.Buffer, cfg.Jobs.Workers, jobStore)
	if err := queue.Start(ctx, jobs.AnalysisHandler(newRunner(cfg, backend, log), sink)); err != nil {
		log.Fatal().Err(err).Msg("Failed to start workers")
	}
	defer queue.Close()

	for _, path := range strings.Split(*scenarios, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		s, err := scenario.Load(path)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid scenario")
		}
		a, err := s.Analysis()
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid scenario")
		}
		if err := queue.PublishAnalysis(ctx, &jobs.AnalysisJob{Name: s.Name, Source: path, Analysis: a}); err != nil {
			log.Fatal().Err(err).Msg("Failed to enqueue scenario")
		}
	}
	if err := queue.Drain(ctx); err != nil {
		log.Fatal().Err(err).Msg("Batch did not finish")
	}

	all, err := jobStore.ListJobs(ctx, jobs.JobFilter{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list jobs")
	}
	failed := 0
	fmt.Printf("\n=== Batch (%d scenarios) ===\n", len(all))
	for _, j := range all {
		fmt.Printf("%-10s %-30s run=%s rows=%d", j.Status, j.Source, j.RunID, j.Rows)
		if j.Error != "" {
			failed++
			fmt.Printf(" error=%q", j.Error)
		}
		fmt.Println()
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	limit := fs.Int("limit", 20, "Maximum number of runs to list")
	fs.Parse(os.Args[2:])

	cfg, log := loadConfig(*configPath)
	store := openStore(cfg, log)
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list runs")
	}
	fmt.Printf("\n=== Runs (%d) ===\n", len(runs))
	for _, r := range runs {
		fmt.Printf("%s  %-36s  %-30s  rows=%-6d  total=%s\n",
			r.CreatedAt.Format(time.RFC3339), r.ID, r.Name, r.RowCount, r.TotalAmount.StringFixed(2))
	}
}

func runInspect() {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to a YAML config file")
	runID := fs.String("run-id", "", "Run ID to inspect")
	rows := fs.Int("rows", 10, "Number of ledger rows to print")
	fs.Parse(os.Args[2:])

	if *runID == "" {
		fatalUsage("Usage: cli inspect -run-id ID [-rows N]")
	}
	cfg, log := loadConfig(*configPath)
	ctx := logger.WithContext(context.Background(), log)

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

	fmt.Println("\n=== Run Details ===")
	fmt.Printf("ID:       %s\n", run.ID)
	fmt.Printf("Name:     %s\n", run.Name)
	fmt.Printf("Asset:    %s\n", run.AssetID)
	fmt.Printf("Deal:     %s\n", run.DealID)
	fmt.Printf("Timeline: %s, %d months\n", run.Timeline.Start, run.Timeline.Months)
	fmt.Printf("Created:  %s\n", run.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Rows:     %d (total %s)\n", run.RowCount, run.TotalAmount.StringFixed(2))

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open query backend")
	}
	defer closeBackend()

	fmt.Println()
	rep := report.Build(ctx, query.New(backend, snap), nil)
	if err := rep.WriteTable(os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Failed to write report")
	}

	n := min(*rows, snap.Len())
	fmt.Printf("\n=== Rows (%d of %d) ===\n", n, snap.Len())
	for i := 0; i < n; i++ {
		fmt.Printf("%s  %12s  %-16s %-20s %-24s pass=%d\n",
			snap.Date(i), snap.Amount(i).StringFixed(2), snap.Purpose(i), snap.Subcategory(i), snap.ItemName(i), snap.PassNum(i))
	}
	fmt.Println()
}
