package upload

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"ingestd/internal/mapper"
)

// ObjectStore is the slice of blob storage the service needs.
type ObjectStore interface {
	Put(ctx context.Context, prefix, filename string, data []byte) (location, key string, err error)
}

// Enqueuer hands an accepted upload to the background pipeline.
type Enqueuer interface {
	EnqueueIngestion(ctx context.Context, fileUploadID int64) (jobID string, err error)
}

type Service struct {
	repo     Repository
	store    ObjectStore
	enqueuer Enqueuer
	schemas  *mapper.Registry
}

func NewService(repo Repository, store ObjectStore, enqueuer Enqueuer, schemas *mapper.Registry) *Service {
	return &Service{
		repo:     repo,
		store:    store,
		enqueuer: enqueuer,
		schemas:  schemas,
	}
}

// Accept validates, stores and records an upload, then enqueues the
// ingestion job. The returned row is still pending; processing happens in
// the worker.
func (s *Service) Accept(ctx context.Context, filename, schemaName string, data []byte) (*FileUpload, error) {
	filename = strings.TrimSpace(filename)
	schemaName = strings.TrimSpace(schemaName)
	if filename == "" {
		return nil, fmt.Errorf("filename is required")
	}
	if schemaName == "" {
		return nil, fmt.Errorf("schema_name is required")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file is empty")
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	schema, err := s.schemas.Resolve(schemaName)
	if err != nil {
		return nil, err
	}
	if !schema.AllowsExtension(ext) {
		return nil, &DisallowedTypeError{Extension: ext, SchemaName: schemaName}
	}

	existing, err := s.repo.FindByFilenameAndSchema(ctx, filename, schemaName)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &DuplicateError{Filename: filename, SchemaName: schemaName}
	}

	location, key, err := s.store.Put(ctx, schemaName, filename, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", filename, err)
	}

	created, err := s.repo.Create(ctx, &FileUpload{
		Filename:   filename,
		SchemaName: schemaName,
		FileType:   ext,
		Location:   location,
		StorageKey: key,
	})
	if err != nil {
		return nil, err
	}

	jobID, err := s.enqueuer.EnqueueIngestion(ctx, created.ID)
	if err != nil {
		// The row stays pending; a requeue sweep or manual retry can pick
		// it up later.
		return nil, fmt.Errorf("failed to enqueue ingestion for upload %d: %w", created.ID, err)
	}

	log.Printf("📄 Accepted upload %d (%s, schema %s), job %s", created.ID, filename, schemaName, jobID)
	return created, nil
}

// Get returns one upload by id for status polling.
func (s *Service) Get(ctx context.Context, id int64) (*FileUpload, error) {
	return s.repo.GetByID(ctx, id)
}
