package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/proforma/internal/jobs"
	"github.com/dvloznov/proforma/internal/logger"
)

// DefaultWorkers is used when NewQueue is given a non-positive worker count.
const DefaultWorkers = 4

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// Failed jobs stay failed until Retry is called.
type Queue struct {
	jobChan   chan *jobs.AnalysisJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	inflight  sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	observer  jobs.Observer
	workers   int
	closed    bool
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishAnalysis blocks.
func NewQueue(bufferSize, workerCount int, store jobs.JobStore) *Queue {
	if workerCount <= 0 {
		workerCount = DefaultWorkers
	}
	return &Queue{
		jobChan:   make(chan *jobs.AnalysisJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   workerCount,
	}
}

// SetObserver registers o for worker start/finish notifications. Call it
// before Start.
func (q *Queue) SetObserver(o jobs.Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observer = o
}

// PublishAnalysis implements the Publisher interface. It fills in the job ID,
// status and creation time when unset, saves the job and enqueues a copy, so
// the caller's job is not touched by workers.
func (q *Queue) PublishAnalysis(ctx context.Context, job *jobs.AnalysisJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("PublishAnalysis: queue is closed")
	}

	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Name == "" {
		job.Name = job.Analysis.Name
	}

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("PublishAnalysis: failed to save job: %w", err)
		}
	}

	queued := *job
	q.inflight.Add(1)
	select {
	case q.jobChan <- &queued:
		return nil
	case <-ctx.Done():
		q.inflight.Done()
		return ctx.Err()
	case <-q.closeChan:
		q.inflight.Done()
		return fmt.Errorf("PublishAnalysis: queue is closed")
	}
}

// Retry re-enqueues a failed job. Its attempt count is kept.
func (q *Queue) Retry(ctx context.Context, jobID string) (*jobs.AnalysisJob, error) {
	if q.store == nil {
		return nil, fmt.Errorf("Retry: queue has no job store")
	}
	job, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("Retry: %w", err)
	}
	if job.Status != jobs.JobStatusFailed {
		return nil, fmt.Errorf("Retry: job %s is %s, only failed jobs can be retried", jobID, job.Status)
	}
	job.Status = jobs.JobStatusPending
	job.StartedAt = nil
	job.CompletedAt = nil
	job.Error = ""
	if err := q.PublishAnalysis(ctx, job); err != nil {
		return nil, fmt.Errorf("Retry: %w", err)
	}
	return job, nil
}

// Start implements the Consumer interface. It starts the configured number of
// workers, each calling handler for the jobs it receives.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("Start: queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}
	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			q.abandonQueued(ctx)
			return
		case <-q.closeChan:
			q.abandonQueued(ctx)
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob executes a single job and records its outcome.
func (q *Queue) processJob(ctx context.Context, job *jobs.AnalysisJob, handler jobs.JobHandler) {
	defer q.inflight.Done()

	q.mu.RLock()
	obs := q.observer
	q.mu.RUnlock()
	if obs != nil {
		obs.JobStarted()
		defer obs.JobFinished()
	}

	job.Status = jobs.JobStatusRunning
	job.Attempts++
	now := time.Now()
	job.StartedAt = &now
	if q.store != nil {
		_ = q.store.SaveJob(ctx, job)
	}

	err := handler(ctx, job)

	completedAt := time.Now()
	job.CompletedAt = &completedAt
	if err != nil {
		job.Status = jobs.JobStatusFailed
		job.Error = err.Error()
		log := logger.FromContext(ctx)
		log.Error().
			Err(err).
			Str("job_id", job.JobID).
			Int("attempts", job.Attempts).
			Msg("Job failed")
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
	}

	if q.store != nil {
		// the worker context may be canceled by now; the outcome is still recorded
		_ = q.store.SaveJob(context.WithoutCancel(ctx), job)
	}
}

// abandonQueued fails every job still buffered once workers stop taking jobs,
// so Drain does not wait for jobs nobody will run.
func (q *Queue) abandonQueued(ctx context.Context) {
	for {
		select {
		case job := <-q.jobChan:
			if job == nil {
				continue
			}
			now := time.Now()
			job.Status = jobs.JobStatusFailed
			job.Error = "queue stopped before the job ran"
			job.CompletedAt = &now
			if q.store != nil {
				_ = q.store.SaveJob(context.WithoutCancel(ctx), job)
			}
			log := logger.FromContext(ctx)
			log.Warn().
				Str("job_id", job.JobID).
				Str("analysis", job.Name).
				Msg("Job abandoned")
			q.inflight.Done()
		default:
			return
		}
	}
}

// Drain waits until every published job has been processed or abandoned. It must not be
// called concurrently with PublishAnalysis.
func (q *Queue) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete. Jobs still
// queued are marked failed.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		q.abandonQueued(ctx)
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var (
	_ jobs.Publisher = (*Queue)(nil)
	_ jobs.Consumer  = (*Queue)(nil)
)
