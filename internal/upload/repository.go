package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the upload lifecycle. Claim, complete, release and
// fail are all status-guarded single-statement updates so two workers can
// never own the same upload.
type Repository interface {
	Create(ctx context.Context, u *FileUpload) (*FileUpload, error)
	GetByID(ctx context.Context, id int64) (*FileUpload, error)
	FindByFilenameAndSchema(ctx context.Context, filename, schemaName string) (*FileUpload, error)
	ClaimPending(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64) error
	Release(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, message string) error
}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const uploadColumns = `id, filename, status, schema_name, file_type, storage_location,
	storage_key, error_message, is_processing, created_at, updated_at`

func scanUpload(row pgx.Row) (*FileUpload, error) {
	var u FileUpload
	err := row.Scan(&u.ID, &u.Filename, &u.Status, &u.SchemaName, &u.FileType,
		&u.Location, &u.StorageKey, &u.ErrorMessage, &u.IsProcessing,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresRepository) Create(ctx context.Context, u *FileUpload) (*FileUpload, error) {
	query := `
		INSERT INTO file_uploads (filename, status, schema_name, file_type, storage_location, storage_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + uploadColumns

	created, err := scanUpload(r.pool.QueryRow(ctx, query,
		u.Filename, StatusPending, u.SchemaName, u.FileType, u.Location, u.StorageKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create file upload: %w", err)
	}
	return created, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*FileUpload, error) {
	query := `SELECT ` + uploadColumns + ` FROM file_uploads WHERE id = $1`

	u, err := scanUpload(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file upload %d: %w", id, err)
	}
	return u, nil
}

func (r *PostgresRepository) FindByFilenameAndSchema(ctx context.Context, filename, schemaName string) (*FileUpload, error) {
	query := `SELECT ` + uploadColumns + ` FROM file_uploads WHERE filename = $1 AND schema_name = $2`

	u, err := scanUpload(r.pool.QueryRow(ctx, query, filename, schemaName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up upload %s/%s: %w", schemaName, filename, err)
	}
	return u, nil
}

// ClaimPending flips exactly one pending row to processing. Zero rows
// affected means the upload is gone, already claimed, or already finished.
func (r *PostgresRepository) ClaimPending(ctx context.Context, id int64) error {
	query := `
		UPDATE file_uploads
		SET status = $1, is_processing = TRUE, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, StatusProcessing, id, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to claim file upload %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

func (r *PostgresRepository) MarkCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE file_uploads
		SET status = $1, is_processing = FALSE, error_message = '', updated_at = NOW()
		WHERE id = $2 AND status = $3`

	tag, err := r.pool.Exec(ctx, query, StatusCompleted, id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to complete file upload %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{ID: id}
	}
	return nil
}

// Release puts a claimed upload back to pending so a retry can claim it
// again.
func (r *PostgresRepository) Release(ctx context.Context, id int64) error {
	query := `
		UPDATE file_uploads
		SET status = $1, is_processing = FALSE, updated_at = NOW()
		WHERE id = $2 AND status = $3`

	_, err := r.pool.Exec(ctx, query, StatusPending, id, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to release file upload %d: %w", id, err)
	}
	return nil
}

// MarkFailed only moves live uploads to failed. A completed upload stays
// completed even when a duplicate or late job reports a failure for it.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id int64, message string) error {
	query := `
		UPDATE file_uploads
		SET status = $1, error_message = $2, is_processing = FALSE, updated_at = NOW()
		WHERE id = $3 AND status IN ($4, $5)`

	_, err := r.pool.Exec(ctx, query, StatusFailed, message, id, StatusPending, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark file upload %d failed: %w", id, err)
	}
	return nil
}
