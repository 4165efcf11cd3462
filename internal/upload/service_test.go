package upload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/mapper"
)

type fakeRepository struct {
	uploads map[int64]*FileUpload
	nextID  int64
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{uploads: make(map[int64]*FileUpload), nextID: 1}
}

func (r *fakeRepository) Create(ctx context.Context, u *FileUpload) (*FileUpload, error) {
	created := *u
	created.ID = r.nextID
	created.Status = StatusPending
	r.nextID++
	r.uploads[created.ID] = &created
	return &created, nil
}

func (r *fakeRepository) GetByID(ctx context.Context, id int64) (*FileUpload, error) {
	u, ok := r.uploads[id]
	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return u, nil
}

func (r *fakeRepository) FindByFilenameAndSchema(ctx context.Context, filename, schemaName string) (*FileUpload, error) {
	for _, u := range r.uploads {
		if u.Filename == filename && u.SchemaName == schemaName {
			return u, nil
		}
	}
	return nil, nil
}

func (r *fakeRepository) ClaimPending(ctx context.Context, id int64) error {
	u, ok := r.uploads[id]
	if !ok || u.Status != StatusPending {
		return &NotFoundError{ID: id}
	}
	u.Status = StatusProcessing
	u.IsProcessing = true
	return nil
}

func (r *fakeRepository) MarkCompleted(ctx context.Context, id int64) error {
	u, ok := r.uploads[id]
	if !ok || u.Status != StatusProcessing {
		return &NotFoundError{ID: id}
	}
	u.Status = StatusCompleted
	u.IsProcessing = false
	return nil
}

func (r *fakeRepository) Release(ctx context.Context, id int64) error {
	if u, ok := r.uploads[id]; ok {
		u.Status = StatusPending
		u.IsProcessing = false
	}
	return nil
}

func (r *fakeRepository) MarkFailed(ctx context.Context, id int64, message string) error {
	u, ok := r.uploads[id]
	if !ok || (u.Status != StatusPending && u.Status != StatusProcessing) {
		return nil
	}
	u.Status = StatusFailed
	u.ErrorMessage = message
	u.IsProcessing = false
	return nil
}

type fakeStore struct {
	objects map[string][]byte
}

func (s *fakeStore) Put(ctx context.Context, prefix, filename string, data []byte) (string, string, error) {
	if s.objects == nil {
		s.objects = make(map[string][]byte)
	}
	key := prefix + "/" + filename
	s.objects[key] = data
	return "http://storage/ingest/" + key, key, nil
}

type fakeEnqueuer struct {
	enqueued []int64
}

func (e *fakeEnqueuer) EnqueueIngestion(ctx context.Context, fileUploadID int64) (string, error) {
	e.enqueued = append(e.enqueued, fileUploadID)
	return "job-1", nil
}

func newTestService() (*Service, *fakeRepository, *fakeStore, *fakeEnqueuer) {
	repo := newFakeRepository()
	store := &fakeStore{}
	enqueuer := &fakeEnqueuer{}
	return NewService(repo, store, enqueuer, mapper.Defaults()), repo, store, enqueuer
}

func TestAcceptStoresCreatesAndEnqueues(t *testing.T) {
	svc, repo, store, enqueuer := newTestService()

	created, err := svc.Accept(context.Background(), "brokers.csv", "BSC200", []byte("brcode\nB1\n"))
	require.NoError(t, err)

	assert.Equal(t, StatusPending, created.Status)
	assert.Equal(t, "csv", created.FileType)
	assert.NotEmpty(t, created.StorageKey)
	assert.Contains(t, store.objects, created.StorageKey)
	assert.Equal(t, []int64{created.ID}, enqueuer.enqueued)

	persisted, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "brokers.csv", persisted.Filename)
}

func TestAcceptRejectsDuplicateFilenamePerSchema(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Accept(ctx, "brokers.csv", "BSC200", []byte("brcode\n"))
	require.NoError(t, err)

	_, err = svc.Accept(ctx, "brokers.csv", "BSC200", []byte("brcode\n"))
	var duplicate *DuplicateError
	require.ErrorAs(t, err, &duplicate)

	// Same filename under a different schema is a separate upload.
	_, err = svc.Accept(ctx, "brokers.csv", "BSE_SCHEME", []byte("brcode\n"))
	require.NoError(t, err)
}

func TestAcceptRejectsDisallowedExtension(t *testing.T) {
	svc, _, _, enqueuer := newTestService()

	// BSC200 only accepts csv.
	_, err := svc.Accept(context.Background(), "brokers.xlsx", "BSC200", []byte("x"))
	var disallowed *DisallowedTypeError
	require.ErrorAs(t, err, &disallowed)
	assert.Equal(t, "xlsx", disallowed.Extension)
	assert.Empty(t, enqueuer.enqueued)
}

func TestAcceptValidatesInputs(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Accept(ctx, "", "BSC200", []byte("x"))
	assert.Error(t, err)

	_, err = svc.Accept(ctx, "brokers.csv", "", []byte("x"))
	assert.Error(t, err)

	_, err = svc.Accept(ctx, "brokers.csv", "BSC200", nil)
	assert.Error(t, err)
}

func TestClaimPendingIsSingleWinner(t *testing.T) {
	svc, repo, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Accept(ctx, "brokers.csv", "BSC200", []byte("brcode\n"))
	require.NoError(t, err)

	require.NoError(t, repo.ClaimPending(ctx, created.ID))

	err = repo.ClaimPending(ctx, created.ID)
	var notFound *NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.True(t, notFound.Permanent())
}
