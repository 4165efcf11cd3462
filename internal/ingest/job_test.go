package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/mapper"
	"ingestd/internal/parser"
	"ingestd/internal/queue"
	"ingestd/internal/staging"
	"ingestd/internal/upload"
)

type fakeUploadRepo struct {
	uploads map[int64]*upload.FileUpload
	nextID  int64
}

func newFakeUploadRepo() *fakeUploadRepo {
	return &fakeUploadRepo{uploads: make(map[int64]*upload.FileUpload), nextID: 1}
}

func (r *fakeUploadRepo) Create(ctx context.Context, u *upload.FileUpload) (*upload.FileUpload, error) {
	created := *u
	created.ID = r.nextID
	created.Status = upload.StatusPending
	r.nextID++
	r.uploads[created.ID] = &created
	return &created, nil
}

func (r *fakeUploadRepo) GetByID(ctx context.Context, id int64) (*upload.FileUpload, error) {
	u, ok := r.uploads[id]
	if !ok {
		return nil, &upload.NotFoundError{ID: id}
	}
	return u, nil
}

func (r *fakeUploadRepo) FindByFilenameAndSchema(ctx context.Context, filename, schemaName string) (*upload.FileUpload, error) {
	for _, u := range r.uploads {
		if u.Filename == filename && u.SchemaName == schemaName {
			return u, nil
		}
	}
	return nil, nil
}

func (r *fakeUploadRepo) ClaimPending(ctx context.Context, id int64) error {
	u, ok := r.uploads[id]
	if !ok || u.Status != upload.StatusPending {
		return &upload.NotFoundError{ID: id}
	}
	u.Status = upload.StatusProcessing
	u.IsProcessing = true
	return nil
}

func (r *fakeUploadRepo) MarkCompleted(ctx context.Context, id int64) error {
	u, ok := r.uploads[id]
	if !ok || u.Status != upload.StatusProcessing {
		return &upload.NotFoundError{ID: id}
	}
	u.Status = upload.StatusCompleted
	u.IsProcessing = false
	return nil
}

func (r *fakeUploadRepo) Release(ctx context.Context, id int64) error {
	if u, ok := r.uploads[id]; ok {
		u.Status = upload.StatusPending
		u.IsProcessing = false
	}
	return nil
}

func (r *fakeUploadRepo) MarkFailed(ctx context.Context, id int64, message string) error {
	u, ok := r.uploads[id]
	if !ok || (u.Status != upload.StatusPending && u.Status != upload.StatusProcessing) {
		return nil
	}
	u.Status = upload.StatusFailed
	u.ErrorMessage = message
	u.IsProcessing = false
	return nil
}

type fakeStagingRepo struct {
	inserted  []staging.StagingRow
	insertErr error
	dropRows  bool
}

func (r *fakeStagingRepo) BulkInsert(ctx context.Context, rows []staging.StagingRow) error {
	if r.insertErr != nil {
		err := r.insertErr
		r.insertErr = nil
		return err
	}
	if !r.dropRows {
		r.inserted = append(r.inserted, rows...)
	}
	return nil
}

func (r *fakeStagingRepo) CountByUpload(ctx context.Context, requestID int64, status string) (int64, error) {
	var count int64
	for _, row := range r.inserted {
		if row.RequestID == requestID && (status == "" || row.Status == status) {
			count++
		}
	}
	return count, nil
}

type fakeObjectStore struct {
	objects map[string][]byte
}

func (s *fakeObjectStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such object: " + key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type pipeline struct {
	uploads *fakeUploadRepo
	rows    *fakeStagingRepo
	store   *fakeObjectStore
	queue   *queue.Queue
	pool    *queue.WorkerPool
}

func withPipeline(t *testing.T, action func(p *pipeline)) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	p := &pipeline{
		uploads: newFakeUploadRepo(),
		rows:    &fakeStagingRepo{},
		store:   &fakeObjectStore{objects: make(map[string][]byte)},
		queue:   queue.New(client, "create-staging-rows-queue"),
	}
	job := NewJob(p.uploads, p.rows, p.store, mapper.Defaults(), parser.NewRegistry(), p.queue)
	p.pool = queue.NewWorkerPool(client, p.queue)
	p.pool.Register(JobType, job)
	action(p)
}

// seedUpload creates a pending upload whose bytes live in the fake store.
func (p *pipeline) seedUpload(t *testing.T, filename, schemaName string, content string) *upload.FileUpload {
	t.Helper()
	ctx := context.Background()
	key := strings.ToLower(schemaName) + "/" + filename
	p.store.objects[key] = []byte(content)
	created, err := p.uploads.Create(ctx, &upload.FileUpload{
		Filename:   filename,
		SchemaName: schemaName,
		FileType:   strings.TrimPrefix(strings.ToLower(filename[strings.LastIndex(filename, "."):]), "."),
		StorageKey: key,
	})
	require.NoError(t, err)
	return created
}

func (p *pipeline) runOne(t *testing.T, uploadID int64, maxAttempts int) {
	t.Helper()
	ctx := context.Background()
	_, err := NewEnqueuer(p.queue, queue.Options{MaxAttempts: maxAttempts}).EnqueueIngestion(ctx, uploadID)
	require.NoError(t, err)
	processed, err := p.pool.ProcessOne(ctx)
	require.NoError(t, err)
	require.True(t, processed)
}

func TestIngestStagesEveryRow(t *testing.T) {
	withPipeline(t, func(p *pipeline) {
		content := "brcode,scheme_code,min_amount,reg_date\n" +
			"B1,S1,100,25/12/2024\n" +
			"B2,S2,200,2024-12-25\n"
		u := p.seedUpload(t, "brokers.csv", "BSC200", content)

		p.runOne(t, u.ID, 3)

		assert.Equal(t, upload.StatusCompleted, p.uploads.uploads[u.ID].Status)
		assert.False(t, p.uploads.uploads[u.ID].IsProcessing)

		require.Len(t, p.rows.inserted, 2)
		first := p.rows.inserted[0]
		assert.Equal(t, u.ID, first.RequestID)
		assert.Equal(t, "BSC200", first.RequestSchema)
		assert.Equal(t, 1, first.RowNum)
		assert.Equal(t, "B1", first.Mapped["broker_code"])
		assert.Equal(t, "2024-12-25", first.Mapped["reg_date"])
		assert.Equal(t, "2024-12-25", p.rows.inserted[1].Mapped["reg_date"])
	})
}

func TestIngestMissingHeadersFailsUpload(t *testing.T) {
	withPipeline(t, func(p *pipeline) {
		// reg_date column is absent, which BSC200 requires.
		u := p.seedUpload(t, "brokers.csv", "BSC200", "brcode,scheme_code,min_amount\nB1,S1,100\n")

		p.runOne(t, u.ID, 3)

		got := p.uploads.uploads[u.ID]
		assert.Equal(t, upload.StatusFailed, got.Status)
		assert.Contains(t, got.ErrorMessage, "create-staging-rows-queue job failed")
		assert.Contains(t, got.ErrorMessage, "reg_date")
		assert.Empty(t, p.rows.inserted)
	})
}

func TestIngestTransientErrorReleasesUpload(t *testing.T) {
	withPipeline(t, func(p *pipeline) {
		u := p.seedUpload(t, "brokers.csv", "BSC200", "brcode,scheme_code,min_amount,reg_date\nB1,S1,100,25/12/2024\n")
		p.rows.insertErr = errors.New("connection reset")

		p.runOne(t, u.ID, 3)

		// Attempts remain, so the upload goes back to pending for the retry.
		assert.Equal(t, upload.StatusPending, p.uploads.uploads[u.ID].Status)
	})
}

func TestIngestCountMismatchIsPermanent(t *testing.T) {
	withPipeline(t, func(p *pipeline) {
		u := p.seedUpload(t, "brokers.csv", "BSC200", "brcode,scheme_code,min_amount,reg_date\nB1,S1,100,25/12/2024\n")
		p.rows.dropRows = true

		// Plenty of attempts left; the mismatch must still fail outright.
		p.runOne(t, u.ID, 5)

		got := p.uploads.uploads[u.ID]
		assert.Equal(t, upload.StatusFailed, got.Status)
		assert.Contains(t, got.ErrorMessage, "staged 0 of 1 parsed rows")
	})
}

func TestDuplicateJobLeavesCompletedUploadAlone(t *testing.T) {
	withPipeline(t, func(p *pipeline) {
		u := p.seedUpload(t, "brokers.csv", "BSC200", "brcode,scheme_code,min_amount,reg_date\nB1,S1,100,25/12/2024\n")

		p.runOne(t, u.ID, 3)
		require.Equal(t, upload.StatusCompleted, p.uploads.uploads[u.ID].Status)

		// A redelivered job for the same upload cannot claim it and must
		// not rewrite the finished lifecycle.
		p.runOne(t, u.ID, 3)

		got := p.uploads.uploads[u.ID]
		assert.Equal(t, upload.StatusCompleted, got.Status)
		assert.Empty(t, got.ErrorMessage)
		require.Len(t, p.rows.inserted, 1)
	})
}

func TestIngestUnknownUploadFailsPermanently(t *testing.T) {
	withPipeline(t, func(p *pipeline) {
		ctx := context.Background()
		_, err := NewEnqueuer(p.queue, queue.Options{MaxAttempts: 5}).EnqueueIngestion(ctx, 999)
		require.NoError(t, err)

		processed, err := p.pool.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)

		assert.Empty(t, p.rows.inserted)
	})
}

func TestEnqueuerHonorsStartDelay(t *testing.T) {
	withPipeline(t, func(p *pipeline) {
		ctx := context.Background()
		u := p.seedUpload(t, "brokers.csv", "BSC200", "brcode,scheme_code,min_amount,reg_date\nB1,S1,100,25/12/2024\n")

		enqueuer := NewEnqueuer(p.queue, queue.Options{MaxAttempts: 3, Delay: 5 * time.Second})
		_, err := enqueuer.EnqueueIngestion(ctx, u.ID)
		require.NoError(t, err)

		// Nothing to process until the delay elapses.
		processed, err := p.pool.ProcessOne(ctx)
		require.NoError(t, err)
		assert.False(t, processed)

		promoted, err := p.queue.PromoteDelayed(ctx, time.Now().Add(10*time.Second))
		require.NoError(t, err)
		require.Equal(t, 1, promoted)

		processed, err = p.pool.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed)
		assert.Equal(t, upload.StatusCompleted, p.uploads.uploads[u.ID].Status)
	})
}

func TestIngestUnsupportedTypeStagesMetadataRow(t *testing.T) {
	withPipeline(t, func(p *pipeline) {
		u := p.seedUpload(t, "schemes.dbf", "BSE_SCHEME", "binary-ish payload")

		p.runOne(t, u.ID, 3)

		assert.Equal(t, upload.StatusCompleted, p.uploads.uploads[u.ID].Status)
		require.Len(t, p.rows.inserted, 1)
		row := p.rows.inserted[0]
		assert.Equal(t, 1, row.RowNum)
		assert.Equal(t, "schemes.dbf", row.RawData["filename"])
		assert.Equal(t, "dbf", row.RawData["file_type"])
	})
}
