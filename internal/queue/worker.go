package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler executes one job type. OnFailure runs after every failed attempt
// and owns the business-side consequences; the queue only tracks attempts
// and scheduling. The job carries its payload and attempt counters.
type Handler interface {
	Execute(ctx context.Context, job *Job) error
	OnFailure(ctx context.Context, job *Job, jobErr error)
}

// UnknownJobTypeError marks a job whose type has no registered handler. It
// is permanently failed, never silently dropped.
type UnknownJobTypeError struct {
	JobType string
}

func (e *UnknownJobTypeError) Error() string {
	return fmt.Sprintf("no handler registered for job type %s", e.JobType)
}

func (e *UnknownJobTypeError) Permanent() bool { return true }

// IsPermanent reports whether an error must never be retried, regardless of
// remaining attempts.
func IsPermanent(err error) bool {
	var permanent interface{ Permanent() bool }
	return errors.As(err, &permanent) && permanent.Permanent()
}

// WorkerPool pulls jobs off one queue with a fixed number of concurrent
// workers and a promoter loop that requeues delayed jobs when their backoff
// elapses.
type WorkerPool struct {
	queue           *Queue
	client          *redis.Client
	handlers        map[string]Handler
	concurrency     int
	promoteInterval time.Duration
	dequeueTimeout  time.Duration
	leaseTTL        time.Duration
}

type WorkerOption func(*WorkerPool)

func WithConcurrency(n int) WorkerOption {
	return func(w *WorkerPool) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithPromoteInterval(interval time.Duration) WorkerOption {
	return func(w *WorkerPool) {
		if interval > 0 {
			w.promoteInterval = interval
		}
	}
}

// WithLeaseTTL overrides how long an in-flight job stays invisible to the
// stalled-job sweep between heartbeats.
func WithLeaseTTL(ttl time.Duration) WorkerOption {
	return func(w *WorkerPool) {
		if ttl > 0 {
			w.leaseTTL = ttl
		}
	}
}

func NewWorkerPool(client *redis.Client, queue *Queue, opts ...WorkerOption) *WorkerPool {
	pool := &WorkerPool{
		queue:           queue,
		client:          client,
		handlers:        make(map[string]Handler),
		concurrency:     2,
		promoteInterval: 500 * time.Millisecond,
		dequeueTimeout:  time.Second,
		leaseTTL:        30 * time.Second,
	}
	for _, opt := range opts {
		opt(pool)
	}
	return pool
}

// Register binds a handler to a job type. Not safe to call after Start.
func (w *WorkerPool) Register(jobType string, handler Handler) {
	w.handlers[jobType] = handler
}

// Start runs the pool until the context is cancelled, then drains in-flight
// jobs before returning.
func (w *WorkerPool) Start(ctx context.Context) error {
	log.Printf("🚀 Starting worker pool on queue %s with %d workers", w.queue.Name(), w.concurrency)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.promoteLoop(ctx)
	}()

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.worker(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	log.Println("⏹️ Shutting down workers...")
	wg.Wait()

	return ctx.Err()
}

func (w *WorkerPool) promoteLoop(ctx context.Context) {
	ticker := time.NewTicker(w.promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.queue.PromoteDelayed(ctx, time.Now()); err != nil && ctx.Err() == nil {
				log.Printf("⚠️ failed to promote delayed jobs: %v", err)
			}
			reclaimed, err := w.queue.ReclaimStalled(ctx)
			if err != nil && ctx.Err() == nil {
				log.Printf("⚠️ failed to reclaim stalled jobs: %v", err)
			}
			if reclaimed > 0 {
				log.Printf("🔄 Requeued %d stalled jobs", reclaimed)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *WorkerPool) worker(ctx context.Context, workerID int) {
	log.Printf("👷 Worker %d started", workerID)

	for {
		if ctx.Err() != nil {
			log.Printf("👷 Worker %d stopped", workerID)
			return
		}

		jobID, err := w.client.BRPopLPush(ctx, w.queue.keys.waiting(), w.queue.keys.active(), w.dequeueTimeout).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("👷 Worker %d stopped", workerID)
				return
			}
			log.Printf("❌ Worker %d: dequeue failed: %v", workerID, err)
			time.Sleep(w.dequeueTimeout)
			continue
		}

		w.acquireLease(ctx, jobID)
		w.processJob(ctx, workerID, jobID)
	}
}

// ProcessOne pulls and executes at most one waiting job, for tests and
// single-shot maintenance runs.
func (w *WorkerPool) ProcessOne(ctx context.Context) (bool, error) {
	jobID, err := w.client.RPopLPush(ctx, w.queue.keys.waiting(), w.queue.keys.active()).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to dequeue: %w", err)
	}
	w.acquireLease(ctx, jobID)
	w.processJob(ctx, 0, jobID)
	return true, nil
}

// acquireLease marks a job as held by a live worker so the stalled-job
// sweep leaves it alone. The heartbeat keeps it alive for long files.
func (w *WorkerPool) acquireLease(ctx context.Context, jobID string) {
	if err := w.client.Set(ctx, w.queue.keys.lease(jobID), "1", w.leaseTTL).Err(); err != nil {
		log.Printf("⚠️ failed to acquire lease for job %s: %v", jobID, err)
	}
}

func (w *WorkerPool) keepLease(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.leaseTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.client.Expire(ctx, w.queue.keys.lease(jobID), w.leaseTTL).Err(); err != nil {
				log.Printf("⚠️ failed to renew lease for job %s: %v", jobID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *WorkerPool) processJob(ctx context.Context, workerID int, jobID string) {
	// Bookkeeping must land even when the pool is draining: a cancelled
	// context would otherwise strand the job on the active list.
	finalizeCtx := context.WithoutCancel(ctx)

	heartbeatCtx, stopHeartbeat := context.WithCancel(finalizeCtx)
	defer stopHeartbeat()
	go w.keepLease(heartbeatCtx, jobID)

	job, err := w.queue.loadJob(finalizeCtx, jobID)
	if err != nil {
		log.Printf("❌ Worker %d: %v", workerID, err)
		return
	}
	if job == nil {
		// Hash expired or was cleaned up under us; nothing left to run.
		w.client.LRem(finalizeCtx, w.queue.keys.active(), 1, jobID)
		w.client.Del(finalizeCtx, w.queue.keys.lease(jobID))
		return
	}

	job.Attempts++
	if err := w.queue.storeJob(finalizeCtx, job); err != nil {
		log.Printf("⚠️ Worker %d: failed to persist attempt count for job %s: %v", workerID, jobID, err)
	}

	handler, ok := w.handlers[job.Type]
	if !ok {
		w.markFailed(finalizeCtx, job, &UnknownJobTypeError{JobType: job.Type})
		return
	}

	startTime := time.Now()
	log.Printf("📄 Worker %d: processing job %s (type: %s, attempt %d/%d)",
		workerID, job.ID, job.Type, job.Attempts, job.MaxAttempts)

	execErr := handler.Execute(ctx, job)
	if execErr == nil {
		w.markCompleted(finalizeCtx, job)
		log.Printf("✅ Worker %d: job %s completed in %v", workerID, job.ID, time.Since(startTime))
		return
	}

	log.Printf("❌ Worker %d: job %s failed: %v", workerID, job.ID, execErr)

	if IsPermanent(execErr) || job.Attempts >= job.MaxAttempts {
		w.markFailed(finalizeCtx, job, execErr)
		handler.OnFailure(finalizeCtx, job, execErr)
		return
	}

	backoff := job.NextBackoff()
	log.Printf("🔄 Worker %d: retrying job %s in %v (attempt %d/%d)",
		workerID, job.ID, backoff, job.Attempts, job.MaxAttempts)
	w.scheduleRetry(finalizeCtx, job, backoff, execErr)
	handler.OnFailure(finalizeCtx, job, execErr)
}

// markCompleted removes the job immediately, keeping only a scored marker
// for the monitoring counts.
func (w *WorkerPool) markCompleted(ctx context.Context, job *Job) {
	pipe := w.client.TxPipeline()
	pipe.LRem(ctx, w.queue.keys.active(), 1, job.ID)
	pipe.ZAdd(ctx, w.queue.keys.completed(), redis.Z{Member: job.ID, Score: float64(time.Now().UnixMilli())})
	pipe.Del(ctx, w.queue.keys.job(job.ID))
	pipe.Del(ctx, w.queue.keys.lease(job.ID))
	pipe.Incr(ctx, w.queue.keys.stat("processed"))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("⚠️ failed to finalize completed job %s: %v", job.ID, err)
	}
}

// markFailed retains the job with its failure reason for the configured
// window so operators can inspect it.
func (w *WorkerPool) markFailed(ctx context.Context, job *Job, jobErr error) {
	job.FailedReason = jobErr.Error()
	if err := w.queue.storeJob(ctx, job); err != nil {
		log.Printf("⚠️ failed to record failure reason for job %s: %v", job.ID, err)
	}

	pipe := w.client.TxPipeline()
	pipe.LRem(ctx, w.queue.keys.active(), 1, job.ID)
	pipe.ZAdd(ctx, w.queue.keys.failed(), redis.Z{Member: job.ID, Score: float64(time.Now().UnixMilli())})
	pipe.Expire(ctx, w.queue.keys.job(job.ID), job.KeepFailedFor)
	pipe.Del(ctx, w.queue.keys.lease(job.ID))
	pipe.Incr(ctx, w.queue.keys.stat("failed"))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("⚠️ failed to finalize failed job %s: %v", job.ID, err)
	}
}

func (w *WorkerPool) scheduleRetry(ctx context.Context, job *Job, backoff time.Duration, jobErr error) {
	job.FailedReason = jobErr.Error()
	if err := w.queue.storeJob(ctx, job); err != nil {
		log.Printf("⚠️ failed to record retry state for job %s: %v", job.ID, err)
	}

	readyAt := float64(time.Now().Add(backoff).UnixMilli())
	pipe := w.client.TxPipeline()
	pipe.LRem(ctx, w.queue.keys.active(), 1, job.ID)
	pipe.ZAdd(ctx, w.queue.keys.delayed(), redis.Z{Member: job.ID, Score: readyAt})
	pipe.Del(ctx, w.queue.keys.lease(job.ID))
	pipe.Incr(ctx, w.queue.keys.stat("retried"))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("⚠️ failed to schedule retry for job %s: %v", job.ID, err)
	}
}
