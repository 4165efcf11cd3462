// Package progress reports percentage and ETA for one in-flight job.
package progress

import (
	"context"
	"log"
	"time"
)

// DefaultMinUpdateInterval throttles publishes so large files cannot storm
// the backing store.
const DefaultMinUpdateInterval = 500 * time.Millisecond

// Snapshot is the published view of a job's progress.
type Snapshot struct {
	Percentage  int       `json:"percentage"`
	Elapsed     int64     `json:"elapsed"`
	ETA         int64     `json:"eta"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher receives throttled snapshots. Implementations must tolerate
// being called from the worker goroutine.
type Publisher interface {
	Publish(ctx context.Context, snapshot Snapshot) error
}

// PublisherFunc adapts a function to the Publisher interface.
type PublisherFunc func(ctx context.Context, snapshot Snapshot) error

func (f PublisherFunc) Publish(ctx context.Context, snapshot Snapshot) error {
	return f(ctx, snapshot)
}

type Tracker struct {
	publisher         Publisher
	startTime         time.Time
	current           int
	lastUpdateTime    time.Time
	minUpdateInterval time.Duration
	milestones        map[string]int
	now               func() time.Time
}

type Option func(*Tracker)

// WithMinUpdateInterval overrides the publish throttle.
func WithMinUpdateInterval(interval time.Duration) Option {
	return func(t *Tracker) { t.minUpdateInterval = interval }
}

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
		t.startTime = now()
	}
}

func NewTracker(publisher Publisher, opts ...Option) *Tracker {
	t := &Tracker{
		publisher:         publisher,
		now:               time.Now,
		minUpdateInterval: DefaultMinUpdateInterval,
		milestones:        make(map[string]int),
	}
	t.startTime = t.now()

	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddMilestone registers a named checkpoint at a fixed percentage.
func (t *Tracker) AddMilestone(name string, percentage int) {
	t.milestones[name] = percentage
}

// ReachMilestone jumps progress to the named checkpoint. Percent never
// decreases, so reaching an earlier milestone twice is harmless.
func (t *Tracker) ReachMilestone(ctx context.Context, name string) {
	percentage, ok := t.milestones[name]
	if !ok {
		return
	}
	if percentage > t.current {
		t.current = percentage
	}
	t.Update(ctx, "Milestone reached: "+name)
}

// Increment advances progress by delta, reserving 100 for Complete.
func (t *Tracker) Increment(ctx context.Context, delta int, description string) {
	t.current += delta
	if t.current > 99 {
		t.current = 99
	}
	t.Update(ctx, description)
}

// Update publishes the current snapshot unless one was published within the
// minimum interval.
func (t *Tracker) Update(ctx context.Context, description string) {
	now := t.now()
	if now.Sub(t.lastUpdateTime) < t.minUpdateInterval {
		return
	}
	t.lastUpdateTime = now
	t.publish(ctx, description)
}

// Complete forces progress to 100 and publishes regardless of throttling.
func (t *Tracker) Complete(ctx context.Context, description string) {
	t.current = 100
	t.lastUpdateTime = t.now()
	t.publish(ctx, description)
}

// Progress returns the current snapshot without publishing.
func (t *Tracker) Progress() Snapshot {
	return t.snapshot("")
}

func (t *Tracker) publish(ctx context.Context, description string) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.Publish(ctx, t.snapshot(description)); err != nil {
		// Progress is advisory, a failed publish never fails the job.
		log.Printf("⚠️ failed to publish job progress: %v", err)
	}
}

func (t *Tracker) snapshot(description string) Snapshot {
	now := t.now()
	elapsed := now.Sub(t.startTime)
	return Snapshot{
		Percentage:  t.current,
		Elapsed:     int64(elapsed.Seconds()),
		ETA:         int64(t.eta(elapsed).Seconds()),
		Description: description,
		Timestamp:   now,
	}
}

// eta extrapolates linearly from pace so far; undefined pace (0%) reports 0.
func (t *Tracker) eta(elapsed time.Duration) time.Duration {
	if t.current == 0 {
		return 0
	}
	remaining := 100 - t.current
	pace := elapsed / time.Duration(t.current)
	return time.Duration(remaining) * pace
}
