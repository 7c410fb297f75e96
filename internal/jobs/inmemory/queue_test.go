package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/proforma/internal/analysis"
	"github.com/dvloznov/proforma/internal/jobs"
	"github.com/dvloznov/proforma/internal/ledger"
	"github.com/dvloznov/proforma/internal/timeline"
)

type countingObserver struct {
	started, finished atomic.Int64
}

func (o *countingObserver) JobStarted()  { o.started.Add(1) }
func (o *countingObserver) JobFinished() { o.finished.Add(1) }

func rentAnalysis(t *testing.T, name string) analysis.Analysis {
	t.Helper()
	tl, err := timeline.NewTimeline(timeline.NewMonth(2024, time.January), 3)
	if err != nil {
		t.Fatalf("NewTimeline: %v", err)
	}
	return analysis.Analysis{
		Name:     name,
		Timeline: tl,
		Producers: []analysis.Producer{
			&analysis.StaticSeries{
				ID: "rent", PassNum: 1, Amounts: []float64{100, 100, 100},
				Class: analysis.Classification{Category: ledger.CategoryRevenue, Subcategory: ledger.SubLease, ItemName: "Base Rent"},
			},
		},
	}
}

func TestQueueRunsAnalyses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewStore()
	q := NewQueue(8, 3, store)
	obs := &countingObserver{}
	q.SetObserver(obs)

	var saved atomic.Int64
	sink := jobs.ResultSinkFunc(func(_ context.Context, job *jobs.AnalysisJob, res *analysis.Result) error {
		saved.Add(1)
		return nil
	})
	if err := q.Start(ctx, jobs.AnalysisHandler(analysis.NewRunner(analysis.DefaultOptions()), sink)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Close()

	var ids []string
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		job := &jobs.AnalysisJob{Analysis: rentAnalysis(t, name)}
		if err := q.PublishAnalysis(ctx, job); err != nil {
			t.Fatalf("PublishAnalysis: %v", err)
		}
		if job.JobID == "" || job.Name != name || job.Status != jobs.JobStatusPending {
			t.Errorf("published job = %+v", job)
		}
		ids = append(ids, job.JobID)
	}
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	for _, id := range ids {
		job, err := store.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status != jobs.JobStatusCompleted || job.Rows != 3 || job.RunID == "" || job.Attempts != 1 {
			t.Errorf("job %s = %+v", id, job)
		}
	}
	if saved.Load() != 5 {
		t.Errorf("sink saw %d results, want 5", saved.Load())
	}
	if obs.started.Load() != 5 || obs.finished.Load() != 5 {
		t.Errorf("observer started=%d finished=%d", obs.started.Load(), obs.finished.Load())
	}
}

func TestQueueExplicitRetry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var healthy atomic.Bool
	a := rentAnalysis(t, "flaky")
	a.Producers = append(a.Producers, analysis.ProducerFunc{ID: "upstream-check", PassNum: 2, Fn: func(context.Context, *analysis.Context) error {
		if !healthy.Load() {
			return errors.New("upstream unavailable")
		}
		return nil
	}})

	store := NewStore()
	q := NewQueue(1, 1, store)
	if err := q.Start(ctx, jobs.AnalysisHandler(analysis.NewRunner(analysis.DefaultOptions()), nil)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer q.Close()

	job := &jobs.AnalysisJob{Analysis: a}
	if err := q.PublishAnalysis(ctx, job); err != nil {
		t.Fatalf("PublishAnalysis: %v", err)
	}
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	failed, _ := store.GetJob(ctx, job.JobID)
	if failed.Status != jobs.JobStatusFailed || failed.Attempts != 1 || failed.Error == "" {
		t.Fatalf("job after first attempt = %+v", failed)
	}

	if _, err := q.Retry(ctx, "missing"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("Retry(missing) = %v", err)
	}

	healthy.Store(true)
	if _, err := q.Retry(ctx, job.JobID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	done, _ := store.GetJob(ctx, job.JobID)
	if done.Status != jobs.JobStatusCompleted || done.Attempts != 2 || done.Error != "" {
		t.Errorf("job after retry = %+v", done)
	}
	if _, err := q.Retry(ctx, job.JobID); err == nil {
		t.Error("expected error retrying a completed job")
	}
}

func TestQueueStopFailsQueuedJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewStore()
	q := NewQueue(4, 1, store)

	var ids []string
	for _, name := range []string{"a", "b"} {
		job := &jobs.AnalysisJob{Analysis: rentAnalysis(t, name)}
		if err := q.PublishAnalysis(ctx, job); err != nil {
			t.Fatalf("PublishAnalysis: %v", err)
		}
		ids = append(ids, job.JobID)
	}

	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	for _, id := range ids {
		job, err := store.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job.Status != jobs.JobStatusFailed || job.Error == "" || job.Attempts != 0 || job.CompletedAt == nil {
			t.Errorf("job %s = %+v", id, job)
		}
	}
}

func TestQueueDrainAfterStopWithBusyWorker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewStore()
	q := NewQueue(4, 1, store)
	running := make(chan struct{})
	release := make(chan struct{})
	var once atomic.Bool
	handler := func(ctx context.Context, job jobs.Job) error {
		if once.CompareAndSwap(false, true) {
			close(running)
			<-release
		}
		return nil
	}
	if err := q.Start(ctx, handler); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		job := &jobs.AnalysisJob{Analysis: rentAnalysis(t, name)}
		if err := q.PublishAnalysis(ctx, job); err != nil {
			t.Fatalf("PublishAnalysis: %v", err)
		}
		ids = append(ids, job.JobID)
	}
	<-running

	stopped := make(chan error, 1)
	go func() { stopped <- q.Stop(ctx) }()
	close(release)
	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := q.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	for _, id := range ids {
		job, _ := store.GetJob(ctx, id)
		if job.Status != jobs.JobStatusCompleted && job.Status != jobs.JobStatusFailed {
			t.Errorf("job %s left %s", id, job.Status)
		}
	}
}

func TestQueueClosed(t *testing.T) {
	q := NewQueue(1, 0, nil)
	if q.workers != DefaultWorkers {
		t.Errorf("workers = %d, want %d", q.workers, DefaultWorkers)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.PublishAnalysis(context.Background(), &jobs.AnalysisJob{}); err == nil {
		t.Error("expected publish on closed queue to fail")
	}
	if err := q.Start(context.Background(), nil); err == nil {
		t.Error("expected start on closed queue to fail")
	}
}
