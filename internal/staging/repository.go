package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists staged rows in bulk and answers the completeness
// check after a file finishes streaming.
type Repository interface {
	BulkInsert(ctx context.Context, rows []StagingRow) error
	CountByUpload(ctx context.Context, requestID int64, status string) (int64, error)
}

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// BulkInsert writes one batch in a single multi-row statement. Conflicts on
// (request_id, request_schema, row_num) are skipped so redelivered jobs
// stay idempotent.
func (r *PostgresRepository) BulkInsert(ctx context.Context, rows []StagingRow) error {
	if len(rows) == 0 {
		return nil
	}

	placeholders := make([]string, 0, len(rows))
	args := make([]any, 0, len(rows)*6)
	for i, row := range rows {
		status := row.Status
		if status == "" {
			status = StatusPending
		}

		mapped, err := json.Marshal(row.Mapped)
		if err != nil {
			return fmt.Errorf("failed to encode mapped fields for row %d: %w", row.RowNum, err)
		}
		raw, err := json.Marshal(row.RawData)
		if err != nil {
			return fmt.Errorf("failed to encode raw data for row %d: %w", row.RowNum, err)
		}

		base := i * 6
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6))
		args = append(args, status, row.RequestID, row.RequestSchema, row.RowNum, mapped, raw)
	}

	query := `
		INSERT INTO staging_rows (status, request_id, request_schema, row_num, mapped_fields, raw_data)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT (request_id, request_schema, row_num) DO NOTHING`

	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to bulk insert %d staging rows: %w", len(rows), err)
	}
	return nil
}

// CountByUpload counts staged rows for one upload, optionally filtered by
// status.
func (r *PostgresRepository) CountByUpload(ctx context.Context, requestID int64, status string) (int64, error) {
	var count int64
	var err error
	if status == "" {
		err = r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM staging_rows WHERE request_id = $1`, requestID).Scan(&count)
	} else {
		err = r.pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM staging_rows WHERE request_id = $1 AND status = $2`, requestID, status).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count staging rows for upload %d: %w", requestID, err)
	}
	return count, nil
}
