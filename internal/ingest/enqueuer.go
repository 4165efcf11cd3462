package ingest

import (
	"context"

	"ingestd/internal/queue"
)

// Enqueuer submits create-staging-rows jobs with the service-wide retry
// policy. It satisfies the upload service's Enqueuer interface.
type Enqueuer struct {
	queue *queue.Queue
	opts  queue.Options
}

func NewEnqueuer(q *queue.Queue, opts queue.Options) *Enqueuer {
	return &Enqueuer{queue: q, opts: opts}
}

func (e *Enqueuer) EnqueueIngestion(ctx context.Context, fileUploadID int64) (string, error) {
	return e.queue.Enqueue(ctx, JobType, Payload{FileUploadID: fileUploadID}, e.opts)
}
