package staging

import (
	"context"

	"ingestd/internal/mapper"
	"ingestd/internal/parser"
)

// Writer turns parsed row batches into staging rows for one upload. It is
// handed to the parser as its sink.
type Writer struct {
	repo      Repository
	requestID int64
	tag       string
	schema    mapper.Schema
	written   int
}

// NewWriter builds a writer for one upload. Rows are tagged with the
// schema name, falling back to the file type when the schema carries no
// name of its own.
func NewWriter(repo Repository, requestID int64, schema mapper.Schema, fileType string) *Writer {
	tag := schema.Name
	if tag == "" {
		tag = fileType
	}
	return &Writer{
		repo:      repo,
		requestID: requestID,
		tag:       tag,
		schema:    schema,
	}
}

// Write maps and stages one batch. Insert errors propagate to the parser,
// which aborts the stream.
func (w *Writer) Write(ctx context.Context, batch []parser.Row) error {
	rows := make([]StagingRow, 0, len(batch))
	for _, row := range batch {
		rowNum, _ := row[parser.RowNumField].(int)
		rows = append(rows, StagingRow{
			Status:        StatusPending,
			RequestID:     w.requestID,
			RequestSchema: w.tag,
			RowNum:        rowNum,
			Mapped:        w.schema.Apply(row),
			RawData:       row,
		})
	}

	if err := w.repo.BulkInsert(ctx, rows); err != nil {
		return err
	}
	w.written += len(rows)
	return nil
}

// Written reports how many rows this writer has handed to the repository.
func (w *Writer) Written() int {
	return w.written
}
