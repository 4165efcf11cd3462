// Package queue is a durable, retryable job queue on Redis. Each queue keeps
// a waiting list, an active list, and delayed/completed/failed sorted sets
// scored by time, with one hash per job carrying its metadata and attempt
// count. Delivery is at-least-once: a worker crash leaves the job in the
// active list until it is recovered or redelivered.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultBackoffBase   = 5 * time.Second
	DefaultBackoffCap    = 30 * time.Second
	DefaultKeepFailedFor = 48 * time.Hour
)

// Options tune durability and retry behavior for one enqueued job.
type Options struct {
	// MaxAttempts caps executions, 1 means fail-fast.
	MaxAttempts int
	// BackoffBase and BackoffCap bound the exponential retry delay.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// Delay postpones the first execution.
	Delay time.Duration
	// KeepFailedFor bounds how long a terminally failed job is retained.
	KeepFailedFor time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 1
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = DefaultBackoffCap
	}
	if o.KeepFailedFor <= 0 {
		o.KeepFailedFor = DefaultKeepFailedFor
	}
	return o
}

// Job is one durable unit of queued work.
type Job struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	BackoffBase   time.Duration   `json:"backoff_base"`
	BackoffCap    time.Duration   `json:"backoff_cap"`
	KeepFailedFor time.Duration   `json:"keep_failed_for"`
	FailedReason  string          `json:"failed_reason,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NextBackoff is the delay before the next attempt: base doubled per prior
// attempt, capped.
func (j *Job) NextBackoff() time.Duration {
	backoff := j.BackoffBase
	for i := 1; i < j.Attempts; i++ {
		backoff *= 2
		if backoff >= j.BackoffCap {
			return j.BackoffCap
		}
	}
	if backoff > j.BackoffCap {
		return j.BackoffCap
	}
	return backoff
}

// keys centralizes the Redis key layout for one queue.
type keys struct {
	name string
}

func (k keys) waiting() string   { return k.name + ":waiting" }
func (k keys) active() string    { return k.name + ":active" }
func (k keys) delayed() string   { return k.name + ":delayed" }
func (k keys) completed() string { return k.name + ":completed" }
func (k keys) failed() string    { return k.name + ":failed" }
func (k keys) paused() string    { return k.name + ":paused" }
func (k keys) job(id string) string {
	return k.name + ":job:" + id
}
func (k keys) lease(id string) string {
	return k.name + ":lease:" + id
}
func (k keys) stat(counter string) string { return k.name + ":stats:" + counter }

const (
	jobFieldData     = "data"
	jobFieldProgress = "progress"
)

// Queue submits and stores jobs for one named queue.
type Queue struct {
	client *redis.Client
	keys   keys
}

func New(client *redis.Client, name string) *Queue {
	return &Queue{
		client: client,
		keys:   keys{name: name},
	}
}

func (q *Queue) Name() string { return q.keys.name }

// Enqueue durably submits a job and returns its identity. The job lands in
// the waiting list, or the delayed set when Delay is given.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, opts Options) (string, error) {
	opts = opts.withDefaults()

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := &Job{
		ID:            uuid.NewString(),
		Type:          jobType,
		Payload:       data,
		MaxAttempts:   opts.MaxAttempts,
		BackoffBase:   opts.BackoffBase,
		BackoffCap:    opts.BackoffCap,
		KeepFailedFor: opts.KeepFailedFor,
		CreatedAt:     time.Now().UTC(),
	}

	if err := q.storeJob(ctx, job); err != nil {
		return "", err
	}

	if opts.Delay > 0 {
		readyAt := float64(time.Now().Add(opts.Delay).UnixMilli())
		if err := q.client.ZAdd(ctx, q.keys.delayed(), redis.Z{Member: job.ID, Score: readyAt}).Err(); err != nil {
			return "", fmt.Errorf("failed to schedule delayed job: %w", err)
		}
		return job.ID, nil
	}

	if err := q.client.LPush(ctx, q.keys.waiting(), job.ID).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job.ID, nil
}

func (q *Queue) storeJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := q.client.HSet(ctx, q.keys.job(job.ID), jobFieldData, data).Err(); err != nil {
		return fmt.Errorf("failed to store job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.client.HGet(ctx, q.keys.job(id), jobFieldData).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}

	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

// Progress returns the last published progress snapshot for a job, nil when
// none exists.
func (q *Queue) Progress(ctx context.Context, jobID string) (json.RawMessage, error) {
	data, err := q.client.HGet(ctx, q.keys.job(jobID), jobFieldProgress).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress for job %s: %w", jobID, err)
	}
	return json.RawMessage(data), nil
}

// PromoteDelayed moves jobs whose backoff has elapsed back onto the waiting
// list. Returns the number promoted.
func (q *Queue) PromoteDelayed(ctx context.Context, now time.Time) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, q.keys.delayed(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed jobs: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range due {
		pipe.ZRem(ctx, q.keys.delayed(), id)
		pipe.LPush(ctx, q.keys.waiting(), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to promote delayed jobs: %w", err)
	}
	return len(due), nil
}

// ReclaimStalled requeues active jobs whose lease has expired, recovering
// work stranded by a crashed worker. Live workers hold a TTL lease per
// in-flight job, so only abandoned jobs move back to waiting.
func (q *Queue) ReclaimStalled(ctx context.Context) (int, error) {
	ids, err := q.client.LRange(ctx, q.keys.active(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read active jobs: %w", err)
	}

	reclaimed := 0
	for _, id := range ids {
		held, err := q.client.Exists(ctx, q.keys.lease(id)).Result()
		if err != nil {
			return reclaimed, fmt.Errorf("failed to check lease for job %s: %w", id, err)
		}
		if held > 0 {
			continue
		}

		pipe := q.client.TxPipeline()
		pipe.LRem(ctx, q.keys.active(), 1, id)
		pipe.LPush(ctx, q.keys.waiting(), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return reclaimed, fmt.Errorf("failed to reclaim job %s: %w", id, err)
		}
		reclaimed++
	}
	return reclaimed, nil
}

// progressPublisher writes snapshots into the owning job's hash so the
// monitoring side can read them without touching business state.
type progressPublisher struct {
	client *redis.Client
	key    string
}

// ProgressPublisher returns a publisher bound to one job.
func (q *Queue) ProgressPublisher(jobID string) *progressPublisher {
	return &progressPublisher{client: q.client, key: q.keys.job(jobID)}
}

func (p *progressPublisher) Publish(ctx context.Context, snapshot any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal progress snapshot: %w", err)
	}
	if err := p.client.HSet(ctx, p.key, jobFieldProgress, data).Err(); err != nil {
		return fmt.Errorf("failed to publish progress: %w", err)
	}
	return nil
}
