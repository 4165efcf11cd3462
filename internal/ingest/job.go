// Package ingest wires the upload lifecycle, storage, parsers and the
// staging writer into the background job the queue runs.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	"ingestd/internal/mapper"
	"ingestd/internal/parser"
	"ingestd/internal/progress"
	"ingestd/internal/queue"
	"ingestd/internal/staging"
	"ingestd/internal/upload"
)

// JobType is the queue job name for staging one uploaded file.
const JobType = "create-staging-rows"

// Payload is the job body; everything else is loaded from the database.
type Payload struct {
	FileUploadID int64 `json:"file_upload_id"`
}

// CountMismatchError reports that fewer rows were staged than parsed.
// Re-running cannot recover the missing rows, so it is never retried.
type CountMismatchError struct {
	UploadID int64
	Parsed   int
	Staged   int64
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("upload %d staged %d of %d parsed rows", e.UploadID, e.Staged, e.Parsed)
}

func (e *CountMismatchError) Permanent() bool { return true }

// badPayloadError fails jobs whose body cannot be decoded. The body never
// changes between attempts, so there is nothing to retry.
type badPayloadError struct {
	err error
}

func (e *badPayloadError) Error() string {
	return fmt.Sprintf("invalid job payload: %v", e.err)
}

func (e *badPayloadError) Permanent() bool { return true }

// ObjectStore is the read side of blob storage.
type ObjectStore interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

const (
	milestoneClaimed   = "claimed"
	milestoneStreaming = "streaming"
	milestoneVerifying = "verifying"
)

// Job processes one create-staging-rows job end to end.
type Job struct {
	uploads upload.Repository
	rows    staging.Repository
	store   ObjectStore
	schemas *mapper.Registry
	parsers *parser.Registry
	queue   *queue.Queue
}

func NewJob(uploads upload.Repository, rows staging.Repository, store ObjectStore,
	schemas *mapper.Registry, parsers *parser.Registry, q *queue.Queue) *Job {
	return &Job{
		uploads: uploads,
		rows:    rows,
		store:   store,
		schemas: schemas,
		parsers: parsers,
		queue:   q,
	}
}

func (j *Job) Execute(ctx context.Context, job *queue.Job) error {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return &badPayloadError{err: err}
	}

	u, err := j.uploads.GetByID(ctx, payload.FileUploadID)
	if err != nil {
		return err
	}

	if err := j.uploads.ClaimPending(ctx, u.ID); err != nil {
		return err
	}

	schema, err := j.schemas.Resolve(u.SchemaName)
	if err != nil {
		return err
	}

	tracker := j.newTracker(job.ID)
	tracker.ReachMilestone(ctx, milestoneClaimed)

	total, err := j.stream(ctx, u, schema, tracker)
	if err != nil {
		return err
	}

	tracker.ReachMilestone(ctx, milestoneVerifying)

	staged, err := j.rows.CountByUpload(ctx, u.ID, staging.StatusPending)
	if err != nil {
		return err
	}
	if staged != int64(total) {
		return &CountMismatchError{UploadID: u.ID, Parsed: total, Staged: staged}
	}

	if err := j.uploads.MarkCompleted(ctx, u.ID); err != nil {
		return err
	}

	tracker.Complete(ctx, fmt.Sprintf("staged %d rows", total))
	log.Printf("✅ Upload %d: staged %d rows from %s", u.ID, total, u.Filename)
	return nil
}

// stream fetches the object and pushes its rows through the batch writer,
// returning how many data rows the parser produced.
func (j *Job) stream(ctx context.Context, u *upload.FileUpload, schema mapper.Schema, tracker *progress.Tracker) (int, error) {
	writer := staging.NewWriter(j.rows, u.ID, schema, u.FileType)

	fileParser, ok := j.parsers.GetParser(u.Filename)
	if !ok {
		// No streaming parser for this file type. Stage a single metadata
		// row so downstream consumers still see the upload.
		tracker.ReachMilestone(ctx, milestoneStreaming)
		err := writer.Write(ctx, []parser.Row{{
			"filename":         u.Filename,
			"file_type":        u.FileType,
			"storage_location": u.Location,
			parser.RowNumField: 1,
		}})
		if err != nil {
			return 0, err
		}
		return 1, nil
	}

	object, err := j.store.Get(ctx, u.StorageKey)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch %s from storage: %w", u.StorageKey, err)
	}
	defer object.Close()

	tracker.ReachMilestone(ctx, milestoneStreaming)

	opts := parser.Options{
		DateColumns:     schema.DateColumns,
		ExpectedHeaders: schema.ExpectedHeaders(),
	}
	total, err := fileParser.Parse(ctx, object, opts, func(batch []parser.Row) error {
		if err := writer.Write(ctx, batch); err != nil {
			return err
		}
		tracker.Increment(ctx, 1, fmt.Sprintf("staged %d rows", writer.Written()))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// OnFailure releases the upload for another attempt, or marks it failed
// once retries are exhausted or the error is permanent.
func (j *Job) OnFailure(ctx context.Context, job *queue.Job, jobErr error) {
	var payload Payload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		log.Printf("❌ Cannot decode payload of failed job %s: %v", job.ID, err)
		return
	}

	final := queue.IsPermanent(jobErr) || job.Attempts >= job.MaxAttempts
	if !final {
		if err := j.uploads.Release(ctx, payload.FileUploadID); err != nil {
			log.Printf("⚠️ Failed to release upload %d for retry: %v", payload.FileUploadID, err)
		}
		return
	}

	message := fmt.Sprintf("%s job failed: %v", j.queue.Name(), jobErr)
	if err := j.uploads.MarkFailed(ctx, payload.FileUploadID, message); err != nil {
		log.Printf("⚠️ Failed to mark upload %d failed: %v", payload.FileUploadID, err)
	}
}

func (j *Job) newTracker(jobID string) *progress.Tracker {
	publisher := j.queue.ProgressPublisher(jobID)
	tracker := progress.NewTracker(progress.PublisherFunc(func(ctx context.Context, snapshot progress.Snapshot) error {
		return publisher.Publish(ctx, snapshot)
	}))
	tracker.AddMilestone(milestoneClaimed, 10)
	tracker.AddMilestone(milestoneStreaming, 20)
	tracker.AddMilestone(milestoneVerifying, 90)
	return tracker
}
