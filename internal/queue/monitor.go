package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Monitor is the read side of a queue: counts, health scoring, failed-job
// inspection, and retention cleanup. It never mutates business state.
type Monitor struct {
	client *redis.Client
	keys   keys
}

func NewMonitor(client *redis.Client, queueName string) *Monitor {
	return &Monitor{
		client: client,
		keys:   keys{name: queueName},
	}
}

// JobCounts breaks the queue population down by state.
type JobCounts struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
	Waiting   int64 `json:"waiting"`
	Paused    int64 `json:"paused"`
}

// Health is a point-in-time queue health report.
type Health struct {
	Queue        string    `json:"queue"`
	Timestamp    time.Time `json:"timestamp"`
	Counts       JobCounts `json:"jobCounts"`
	TotalPending int64     `json:"totalPending"`
	Score        float64   `json:"health"`
}

// FailedJob describes one terminally failed job.
type FailedJob struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	FailedReason string          `json:"failedReason"`
	Attempts     int             `json:"attemptsMade"`
	Payload      json.RawMessage `json:"data"`
	FailedAt     time.Time       `json:"failedAt"`
}

// Stats are the worker-side throughput counters.
type Stats struct {
	TotalProcessed int64 `json:"totalProcessed"`
	TotalFailed    int64 `json:"totalFailed"`
	TotalRetried   int64 `json:"totalRetried"`
}

// CleanupOptions bound the age of jobs kept after they finish.
type CleanupOptions struct {
	CompletedAge time.Duration
	FailedAge    time.Duration
}

// CleanupResult reports how many retained jobs were purged.
type CleanupResult struct {
	CompletedRemoved int `json:"completedRemoved"`
	FailedRemoved    int `json:"failedRemoved"`
}

// GetQueueHealth reads the per-state counts and derives the health score.
func (m *Monitor) GetQueueHealth(ctx context.Context) (*Health, error) {
	pipe := m.client.Pipeline()
	active := pipe.LLen(ctx, m.keys.active())
	waiting := pipe.LLen(ctx, m.keys.waiting())
	paused := pipe.LLen(ctx, m.keys.paused())
	delayed := pipe.ZCard(ctx, m.keys.delayed())
	completed := pipe.ZCard(ctx, m.keys.completed())
	failed := pipe.ZCard(ctx, m.keys.failed())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to read queue counts: %w", err)
	}

	counts := JobCounts{
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
		Delayed:   delayed.Val(),
		Waiting:   waiting.Val(),
		Paused:    paused.Val(),
	}

	return &Health{
		Queue:        m.keys.name,
		Timestamp:    time.Now().UTC(),
		Counts:       counts,
		TotalPending: counts.Waiting + counts.Delayed,
		Score:        healthScore(counts),
	}, nil
}

// healthScore derives 0-100 from failure rate and backlog depth. A queue
// that has never run a job scores 100.
func healthScore(counts JobCounts) float64 {
	totalJobs := counts.Active + counts.Completed + counts.Failed
	if totalJobs == 0 {
		return 100
	}

	failureRate := float64(counts.Failed) / float64(totalJobs)
	overloadFactor := float64(counts.Waiting) / 100
	if overloadFactor > 1 {
		overloadFactor = 1
	}

	score := 100 - failureRate*50 - overloadFactor*20
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// GetFailedJobs lists the most recently failed jobs with their reason,
// attempt count and payload.
func (m *Monitor) GetFailedJobs(ctx context.Context, limit int) ([]FailedJob, error) {
	if limit <= 0 {
		limit = 10
	}

	entries, err := m.client.ZRevRangeWithScores(ctx, m.keys.failed(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	jobs := make([]FailedJob, 0, len(entries))
	for _, entry := range entries {
		id, ok := entry.Member.(string)
		if !ok {
			continue
		}

		failed := FailedJob{
			ID:       id,
			FailedAt: time.UnixMilli(int64(entry.Score)).UTC(),
		}

		data, err := m.client.HGet(ctx, m.keys.job(id), jobFieldData).Result()
		if err == redis.Nil {
			// Retention expired the hash but the marker survives.
			jobs = append(jobs, failed)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load failed job %s: %w", id, err)
		}

		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, fmt.Errorf("failed to decode failed job %s: %w", id, err)
		}

		failed.Type = job.Type
		failed.FailedReason = job.FailedReason
		failed.Attempts = job.Attempts
		failed.Payload = job.Payload
		jobs = append(jobs, failed)
	}

	return jobs, nil
}

// GetStats reads the worker throughput counters.
func (m *Monitor) GetStats(ctx context.Context) (*Stats, error) {
	pipe := m.client.Pipeline()
	processed := pipe.Get(ctx, m.keys.stat("processed"))
	failed := pipe.Get(ctx, m.keys.stat("failed"))
	retried := pipe.Get(ctx, m.keys.stat("retried"))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read queue stats: %w", err)
	}

	stats := &Stats{}
	if v, err := processed.Int64(); err == nil {
		stats.TotalProcessed = v
	}
	if v, err := failed.Int64(); err == nil {
		stats.TotalFailed = v
	}
	if v, err := retried.Int64(); err == nil {
		stats.TotalRetried = v
	}
	return stats, nil
}

// Cleanup purges completed and failed markers older than the configured
// ages, along with any retained job hashes.
func (m *Monitor) Cleanup(ctx context.Context, opts CleanupOptions) (*CleanupResult, error) {
	if opts.CompletedAge <= 0 {
		opts.CompletedAge = 24 * time.Hour
	}
	if opts.FailedAge <= 0 {
		opts.FailedAge = 48 * time.Hour
	}

	result := &CleanupResult{}

	completedRemoved, err := m.purge(ctx, m.keys.completed(), opts.CompletedAge, false)
	if err != nil {
		return nil, err
	}
	result.CompletedRemoved = completedRemoved

	failedRemoved, err := m.purge(ctx, m.keys.failed(), opts.FailedAge, true)
	if err != nil {
		return nil, err
	}
	result.FailedRemoved = failedRemoved

	return result, nil
}

func (m *Monitor) purge(ctx context.Context, key string, age time.Duration, dropHashes bool) (int, error) {
	cutoff := fmt.Sprintf("%d", time.Now().Add(-age).UnixMilli())

	stale, err := m.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find stale jobs in %s: %w", key, err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	pipe := m.client.TxPipeline()
	for _, id := range stale {
		pipe.ZRem(ctx, key, id)
		if dropHashes {
			pipe.Del(ctx, m.keys.job(id))
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to purge stale jobs from %s: %w", key, err)
	}
	return len(stale), nil
}
