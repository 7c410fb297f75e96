package api_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/proforma/internal/analysis"
	"github.com/dvloznov/proforma/internal/api"
	"github.com/dvloznov/proforma/internal/api/handlers"
	"github.com/dvloznov/proforma/internal/infra/sqlite"
	"github.com/dvloznov/proforma/internal/jobs"
	"github.com/dvloznov/proforma/internal/jobs/inmemory"
	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/metrics"
	"github.com/dvloznov/proforma/internal/query"
	"github.com/dvloznov/proforma/internal/timeline"
)

const scenarioYAML = `
name: api case
asset_id: bldg-9
timeline: {start: 2024-01, months: 2}
producers:
  - {name: rent, kind: static, pass: 1, category: Revenue, subcategory: Lease, item_name: Base Rent, amounts: [500, 500]}
`

type fixture struct {
	server *httptest.Server
	store  *sqlite.Store
	queue  *inmemory.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	tl, _ := timeline.NewTimeline(timeline.NewMonth(2024, time.January), 2)
	runner := analysis.NewRunner(analysis.DefaultOptions())
	res, err := runner.Run(ctx, analysis.Analysis{
		ID: "run-1", Name: "seed", AssetID: "bldg-1", Timeline: tl,
		Producers: []analysis.Producer{
			&analysis.StaticSeries{ID: "rent", PassNum: 1, Amounts: []float64{1000, 1000},
				Class: analysis.Classification{Category: ledger.CategoryRevenue, Subcategory: ledger.SubLease, ItemName: "Base Rent"}},
			&analysis.StaticSeries{ID: "opex", PassNum: 1, Amounts: []float64{-200, -200},
				Class: analysis.Classification{Category: ledger.CategoryExpense, Subcategory: ledger.SubOpex, ItemName: "Utilities"}},
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	save := func(ctx context.Context, _ *jobs.AnalysisJob, res *analysis.Result) error {
		return store.SaveRun(ctx, sqlite.Run{ID: res.RunID, Name: res.Name, AssetID: res.AssetID, Timeline: res.Timeline}, res.Snapshot)
	}
	if err := save(ctx, nil, res); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	jobStore := inmemory.NewStore()
	queue := inmemory.NewQueue(4, 2, jobStore)
	workerCtx, cancel := context.WithCancel(ctx)
	if err := queue.Start(workerCtx, jobs.AnalysisHandler(runner, jobs.ResultSinkFunc(save))); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = queue.Close()
	})

	log := zerolog.Nop()
	collector := metrics.New()
	handler := api.NewRouter(api.Deps{
		Runs:     handlers.NewRunsHandler(store, query.NewMemoryBackend(), collector, log),
		Jobs:     handlers.NewJobsHandler(jobStore, queue, queue, log),
		Metrics:  collector.Handler(),
		Requests: collector,
		Log:      log,
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &fixture{server: srv, store: store, queue: queue}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, map[string]any, http.Header) {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, data, err)
		}
	}
	return resp.StatusCode, out, resp.Header
}

func TestRunRoutes(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{"health", "/health", http.StatusOK, func(t *testing.T, b map[string]any) {
			if b["status"] != "healthy" {
				t.Errorf("body = %v", b)
			}
		}},
		{"list runs", "/api/runs", http.StatusOK, func(t *testing.T, b map[string]any) {
			if b["count"] != float64(1) {
				t.Errorf("count = %v", b["count"])
			}
		}},
		{"bad limit", "/api/runs?limit=x", http.StatusBadRequest, nil},
		{"get run", "/api/runs/run-1", http.StatusOK, func(t *testing.T, b map[string]any) {
			if b["name"] != "seed" || b["row_count"] != float64(4) {
				t.Errorf("run = %v", b)
			}
		}},
		{"missing run", "/api/runs/nope", http.StatusNotFound, nil},
		{"report", "/api/runs/run-1/report", http.StatusOK, func(t *testing.T, b map[string]any) {
			lines, _ := b["lines"].([]any)
			if len(lines) != len(query.Metrics) || b["failed"] != float64(0) {
				t.Errorf("report = %v", b)
			}
		}},
		{"report bad pass", "/api/runs/run-1/report?pass=9", http.StatusBadRequest, nil},
		{"report missing run", "/api/runs/nope/report", http.StatusNotFound, nil},
		{"noi", "/api/runs/run-1/metrics/noi", http.StatusOK, func(t *testing.T, b map[string]any) {
			if b["total"] != "1600" || b["status"] != "ok" {
				t.Errorf("noi = %v", b)
			}
		}},
		{"noi other asset", "/api/runs/run-1/metrics/noi?asset=bldg-2", http.StatusOK, func(t *testing.T, b map[string]any) {
			if b["status"] != "empty" || b["total"] != "0" {
				t.Errorf("noi = %v", b)
			}
		}},
		{"unknown metric", "/api/runs/run-1/metrics/irr", http.StatusNotFound, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body, hdr := f.do(t, http.MethodGet, tt.path, "")
			if status != tt.status {
				t.Fatalf("status = %d, want %d (body %v)", status, tt.status, body)
			}
			if hdr.Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID header")
			}
			if tt.check != nil {
				tt.check(t, body)
			}
		})
	}

	resp, err := http.Get(f.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		"proforma_query_metric_evaluations_total",
		`proforma_http_requests_total{code="200",route="GET /api/runs/{id}/metrics/{metric}"}`,
		`proforma_http_requests_total{code="404",route="GET /api/runs/{id}"}`,
	} {
		if !strings.Contains(string(data), want) {
			t.Errorf("metrics output lacks %s", want)
		}
	}

	if status, _, _ := f.do(t, http.MethodPost, "/api/runs", ""); status != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/runs = %d", status)
	}
}

func TestJobRoutes(t *testing.T) {
	f := newFixture(t)

	status, body, _ := f.do(t, http.MethodPost, "/api/jobs", scenarioYAML)
	if status != http.StatusAccepted {
		t.Fatalf("POST /api/jobs = %d %v", status, body)
	}
	jobID, _ := body["job_id"].(string)
	if jobID == "" {
		t.Fatalf("no job id in %v", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := f.queue.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	status, job, _ := f.do(t, http.MethodGet, "/api/jobs/"+jobID, "")
	if status != http.StatusOK || job["status"] != "completed" || job["rows"] != float64(2) {
		t.Fatalf("GET job = %d %v", status, job)
	}
	runID, _ := job["run_id"].(string)
	if status, body, _ := f.do(t, http.MethodGet, "/api/runs/"+runID+"/metrics/pgr", ""); status != http.StatusOK || body["total"] != "1000" {
		t.Errorf("pgr of job run = %d %v", status, body)
	}

	if status, body, _ := f.do(t, http.MethodGet, "/api/jobs?status=completed", ""); status != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("list jobs = %d %v", status, body)
	}
	if status, _, _ := f.do(t, http.MethodPost, "/api/jobs/"+jobID+"/retry", ""); status != http.StatusConflict {
		t.Errorf("retry completed job = %d", status)
	}
	if status, _, _ := f.do(t, http.MethodPost, "/api/jobs/nope/retry", ""); status != http.StatusNotFound {
		t.Errorf("retry missing job = %d", status)
	}
	if status, _, _ := f.do(t, http.MethodGet, "/api/jobs/nope", ""); status != http.StatusNotFound {
		t.Errorf("get missing job = %d", status)
	}
	if status, body, _ := f.do(t, http.MethodPost, "/api/jobs", "name: x\nbogus: 1\n"); status != http.StatusBadRequest {
		t.Errorf("invalid scenario = %d %v", status, body)
	}
}
